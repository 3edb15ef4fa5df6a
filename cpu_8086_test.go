// cpu_8086_test.go - 8086 execution core tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/retroenv/retrogolib/assert"
	"github.com/retroenv/retrogolib/log"
)

// =============================================================================
// End-to-end scenarios
// =============================================================================

// The code bytes B8 34 12 F4 overlap the first table pointer, which therefore
// reads F412; the first addressing table has to live there.
func TestScenario_MovImmFromFirmware(t *testing.T) {
	dt := BuildDecodeTables()
	image := []byte{0xB8, 0x34, 0x12, 0xF4}

	var err error
	at := 0x100
	for id := TableRMReg2; id < numDecodeTables; id++ {
		image, err = placeDecodeTable(image, id, at, dt.Table(id))
		assert.NoError(t, err)
		at += decodeTableLengths[id]
	}
	image, err = placeDecodeTable(image, TableRMReg1, 0xF412-biosEntryOffset, dt.Table(TableRMReg1))
	assert.NoError(t, err)
	assert.Equal(t, byte(0xB8), image[0])
	assert.Equal(t, byte(0xF4), image[3])

	bus := NewSystemBus()
	tables, err := LoadFirmware(bus, image)
	assert.NoError(t, err)
	cpu := NewCPU_8086(bus, tables)
	cpu.SetLogger(log.NewTestLogger(t))

	for i := 0; i < 10 && !cpu.Halted; i++ {
		assert.NoError(t, cpu.Step())
	}
	assert.True(t, cpu.Halted)
	assert.False(t, cpu.Running())
	assert.Equal(t, uint16(0x1234), cpu.reg(RegAX).Load())
	assert.Equal(t, uint64(2), cpu.Steps)
}

func TestScenario_XorClearsFlags(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0x31, 0xC0, 0xF4}) // xor ax,ax / hlt
	r.cpu.reg(RegAX).Store(0x1234)
	r.cpu.flags.Set(FlagCF, true)
	r.cpu.flags.Set(FlagOF, true)
	r.run(t, 5)

	assert.Equal(t, uint16(0), r.word(RegAX))
	assert.True(t, r.flag(FlagZF))
	assert.True(t, r.flag(FlagPF))
	assert.False(t, r.flag(FlagCF))
	assert.False(t, r.flag(FlagOF))
	assert.False(t, r.flag(FlagSF))
}

func TestScenario_PushPop(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0x50, 0x5B, 0xF4}) // push ax / pop bx / hlt
	r.cpu.reg(RegAX).Store(0x1234)
	r.run(t, 5)

	assert.Equal(t, uint16(0x1234), r.word(RegBX))
	assert.Equal(t, uint16(testStackTop), r.word(RegSP))
	assert.Equal(t, uint16(0x1234), r.bus.Read16(testStackTop-2))
}

func TestScenario_InterruptWithoutHandler(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0xCD, 0x10, 0xF4}) // int 10h / hlt
	r.cpu.reg(RegAX).Store(0x0E41)

	err := r.cpu.Step()
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnimplementedOpcode))

	var de *DecodeError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, byte(0xCD), de.Opcode)
	assert.Equal(t, byte(classIntImm), de.Class)
	assert.Equal(t, uint16(testCodeOffset), de.IP)

	// nothing was pushed and IP was not advanced
	assert.Equal(t, uint16(testStackTop), r.word(RegSP))
	assert.Equal(t, uint16(testCodeOffset), r.word(RegIP))
	assert.Equal(t, uint16(0x0E41), r.word(RegAX))
	assert.False(t, r.cpu.Halted)
}

func TestHaltAtZeroZero(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.cpu.SetEntry(0, 0)
	assert.NoError(t, r.cpu.Step())
	assert.True(t, r.cpu.Halted)
	assert.Equal(t, uint64(0), r.cpu.Steps)

	// a halted engine stays put
	assert.NoError(t, r.cpu.Step())
	assert.Equal(t, uint64(0), r.cpu.Steps)
}

func TestReset(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.cpu.reg(RegAX).Store(0xFFFF)
	r.cpu.flags.Set(FlagZF, true)
	r.cpu.Halted = true
	r.cpu.Reset()
	assert.Equal(t, uint16(0), r.word(RegAX))
	assert.Equal(t, uint16(biosSegment), r.word(RegCS))
	assert.Equal(t, uint16(biosEntryOffset), r.word(RegIP))
	assert.False(t, r.flag(FlagZF))
	assert.False(t, r.cpu.Halted)
}

func TestUnimplementedOpcode(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0xD8, 0xC0}) // x87 escape, no class
	err := r.cpu.Step()
	assert.True(t, errors.Is(err, ErrUnimplementedOpcode))
	assert.ErrorContains(t, err, "0xD8")
}

func TestGroup5InvalidSubfunction(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0xFF, 0xF8}) // FF /7
	err := r.cpu.Step()
	assert.True(t, errors.Is(err, ErrUnimplementedOpcode))

	r = newCPU8086TestRig(t)
	r.load([]byte{0xFE, 0xD0}) // FE /2 does not exist
	err = r.cpu.Step()
	assert.True(t, errors.Is(err, ErrUnimplementedOpcode))
}

// =============================================================================
// Arithmetic and flags
// =============================================================================

func TestALUFlags(t *testing.T) {
	tests := []struct {
		name    string
		code    []byte
		ax      uint16
		cf      bool
		wantAX  uint16
		set     []int
		cleared []int
	}{
		{"add al wraps", []byte{0x04, 0xFF}, 0x0001, false, 0x0000, []int{FlagCF, FlagZF, FlagAF, FlagPF}, []int{FlagOF, FlagSF}},
		{"add al overflows", []byte{0x04, 0x01}, 0x007F, false, 0x0080, []int{FlagOF, FlagSF, FlagAF}, []int{FlagCF, FlagZF}},
		{"sub al borrows", []byte{0x2C, 0x01}, 0x0000, false, 0x00FF, []int{FlagCF, FlagSF, FlagAF, FlagPF}, []int{FlagOF, FlagZF}},
		{"cmp ax equal", []byte{0x3D, 0x34, 0x12}, 0x1234, false, 0x1234, []int{FlagZF}, []int{FlagCF, FlagSF, FlagOF}},
		{"and clears carry", []byte{0x24, 0x0F}, 0x00F0, false, 0x0000, []int{FlagZF, FlagPF}, []int{FlagCF, FlagOF}},
		{"or sets sign", []byte{0x0D, 0x00, 0x80}, 0x0001, false, 0x8001, []int{FlagSF}, []int{FlagCF, FlagOF, FlagZF}},
		{"83 sign-extends", []byte{0x83, 0xC0, 0xFF}, 0x0005, false, 0x0004, []int{FlagCF}, []int{FlagZF, FlagOF}},
		{"80 byte immediate", []byte{0x80, 0xE8, 0x01}, 0x0100, false, 0x01FF, []int{FlagCF, FlagSF}, []int{FlagZF}},
		{"inc overflows", []byte{0x40}, 0x7FFF, false, 0x8000, []int{FlagOF, FlagSF, FlagAF}, []int{FlagZF}},
		{"inc wraps", []byte{0x40}, 0xFFFF, false, 0x0000, []int{FlagZF, FlagAF}, []int{FlagOF, FlagSF}},
		{"dec to zero", []byte{0x48}, 0x0001, false, 0x0000, []int{FlagZF}, []int{FlagOF, FlagSF}},
		{"neg", []byte{0xF7, 0xD8}, 0x0001, false, 0xFFFF, []int{FlagCF, FlagSF}, []int{FlagZF, FlagOF}},
		{"adc adds carry", []byte{0x14, 0x00}, 0x00FF, true, 0x0000, []int{FlagCF, FlagZF}, []int{FlagSF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newCPU8086TestRig(t)
			r.load(append(tt.code, 0xF4))
			r.cpu.reg(RegAX).Store(tt.ax)
			r.cpu.flags.Set(FlagCF, tt.cf)
			r.run(t, 5)
			assert.Equal(t, tt.wantAX, r.word(RegAX))
			for _, f := range tt.set {
				assert.True(t, r.flag(f), r.cpu.flags.Name(f)+" should be set")
			}
			for _, f := range tt.cleared {
				assert.False(t, r.flag(f), r.cpu.flags.Name(f)+" should be clear")
			}
		})
	}
}

func TestIncLeavesCarry(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0xF9, 0x40, 0xF4}) // stc / inc ax / hlt
	r.cpu.reg(RegAX).Store(0xFFFF)
	r.run(t, 5)
	assert.True(t, r.flag(FlagCF))
	assert.True(t, r.flag(FlagZF))
}

func TestALURegisterMemory(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{
		0x01, 0x07, // add [bx],ax
		0x8B, 0x0F, // mov cx,[bx]
		0x88, 0x67, 0x02, // mov [bx+2],ah
		0xF4,
	})
	r.cpu.reg(RegBX).Store(0x2000)
	r.cpu.reg(RegAX).Store(0x1111)
	r.bus.Write16(0x2000, 0x2222)
	r.run(t, 5)

	assert.Equal(t, uint16(0x3333), r.bus.Read16(0x2000))
	assert.Equal(t, uint16(0x3333), r.word(RegCX))
	assert.Equal(t, byte(0x11), r.bus.Read8(0x2002))
}

func TestMovRMImmAndAccMem(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{
		0xC7, 0x06, 0x00, 0x20, 0xCD, 0xAB, // mov word [2000],ABCD
		0xC6, 0x47, 0x05, 0x7E, // mov byte [bx+5],7E
		0xA1, 0x00, 0x20, // mov ax,[2000]
		0xA2, 0x10, 0x20, // mov [2010],al
		0xF4,
	})
	r.cpu.reg(RegBX).Store(0x2100)
	r.run(t, 10)

	assert.Equal(t, uint16(0xABCD), r.bus.Read16(0x2000))
	assert.Equal(t, byte(0x7E), r.bus.Read8(0x2105))
	assert.Equal(t, uint16(0xABCD), r.word(RegAX))
	assert.Equal(t, byte(0xCD), r.bus.Read8(0x2010))
}

func TestMultiplyDivide(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{
		0xF6, 0xE3, // mul bl
		0xF4,
	})
	r.cpu.reg(RegAX).Store(0x0010)
	r.cpu.reg(RegBX).Store(0x0020)
	r.run(t, 5)
	assert.Equal(t, uint16(0x0200), r.word(RegAX))
	assert.True(t, r.flag(FlagCF))
	assert.True(t, r.flag(FlagOF))

	r = newCPU8086TestRig(t)
	r.load([]byte{0xF7, 0xF3, 0xF4}) // div bx
	r.cpu.reg(RegDX).Store(0x0001)
	r.cpu.reg(RegAX).Store(0x0005)
	r.cpu.reg(RegBX).Store(0x0010)
	r.run(t, 5)
	assert.Equal(t, uint16(0x1000), r.word(RegAX))
	assert.Equal(t, uint16(0x0005), r.word(RegDX))

	r = newCPU8086TestRig(t)
	r.load([]byte{0xF6, 0xFB, 0xF4}) // idiv bl
	r.cpu.reg(RegAX).Store(uint16(0xFFF9)) // -7
	r.cpu.reg(RegBX).Store(0x0002)
	r.run(t, 5)
	assert.Equal(t, uint16(0xFD), r.byteReg(RegAL)) // -3
	assert.Equal(t, uint16(0xFF), r.byteReg(RegAH)) // -1

	r = newCPU8086TestRig(t)
	r.load([]byte{0xF7, 0xEB, 0xF4}) // imul bx
	r.cpu.reg(RegAX).Store(uint16(0xFFFE)) // -2
	r.cpu.reg(RegBX).Store(0x0003)
	r.run(t, 5)
	assert.Equal(t, uint16(0xFFFA), r.word(RegAX))
	assert.Equal(t, uint16(0xFFFF), r.word(RegDX))
	assert.False(t, r.flag(FlagCF))
}

func TestDivideErrorRaisesInt0(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0xF6, 0xF3, 0xF4}) // div bl with bl=0
	r.setVector(0, testHandlerOffset)
	r.bus.Write8(testHandlerOffset, 0xF4)
	r.cpu.reg(RegAX).Store(0x1234)
	r.run(t, 5)

	assert.Equal(t, uint16(testHandlerOffset+1), r.word(RegIP))
	assert.Equal(t, uint16(0x1234), r.word(RegAX))
	assert.Equal(t, uint16(testStackTop-6), r.word(RegSP))
	assert.Equal(t, uint16(testCodeOffset+2), r.bus.Read16(testStackTop-6))
	assert.Equal(t, uint16(0), r.bus.Read16(testStackTop-4))
	assert.Equal(t, uint16(flagsReservedBits), r.bus.Read16(testStackTop-2)&flagsReservedBits)
}

func TestShifts(t *testing.T) {
	tests := []struct {
		name   string
		code   []byte
		ax, cx uint16
		cf     bool
		wantAX uint16
		wantCF bool
	}{
		{"shl ax,1", []byte{0xD1, 0xE0}, 0x8001, 0, false, 0x0002, true},
		{"shr al,1", []byte{0xD0, 0xE8}, 0x0001, 0, false, 0x0000, true},
		{"sar ax,cl", []byte{0xD3, 0xF8}, 0x8000, 4, false, 0xF800, false},
		{"rol al,4", []byte{0xC0, 0xC0, 0x04}, 0x0012, 0, false, 0x0021, true},
		{"rcl ax,1", []byte{0xD1, 0xD0}, 0x8000, 0, true, 0x0001, true},
		{"rcr al,1", []byte{0xD0, 0xD8}, 0x0001, 0, false, 0x0000, true},
		{"ror ax,cl", []byte{0xD3, 0xC8}, 0x0001, 1, false, 0x8000, true},
		{"zero count keeps flags", []byte{0xD3, 0xE0}, 0x00FF, 0x20, true, 0x00FF, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newCPU8086TestRig(t)
			r.load(append(tt.code, 0xF4))
			r.cpu.reg(RegAX).Store(tt.ax)
			r.cpu.reg(RegCX).Store(tt.cx)
			r.cpu.flags.Set(FlagCF, tt.cf)
			r.run(t, 5)
			assert.Equal(t, tt.wantAX, r.word(RegAX))
			assert.Equal(t, tt.wantCF, r.flag(FlagCF))
		})
	}
}

func TestShiftSetsZeroAndSign(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0xD0, 0xE8, 0xF4}) // shr al,1
	r.cpu.reg(RegAX).Store(0x0001)
	r.run(t, 5)
	assert.True(t, r.flag(FlagZF))
	assert.False(t, r.flag(FlagSF))

	r = newCPU8086TestRig(t)
	r.load([]byte{0xD1, 0xE0, 0xF4}) // shl ax,1
	r.cpu.reg(RegAX).Store(0x4000)
	r.run(t, 5)
	assert.True(t, r.flag(FlagSF))
	assert.True(t, r.flag(FlagOF))
}

// Shifts set flags themselves; the table policy for D0-D3 and C0/C1 is empty
// so rotates leave S, Z and P alone.
func TestRotateLeavesSZP(t *testing.T) {
	dt := BuildDecodeTables()
	for _, op := range []int{0xC0, 0xC1, 0xD0, 0xD1, 0xD2, 0xD3} {
		assert.Equal(t, byte(0), dt.Lookup(TableStdFlags, op))
	}

	r := newCPU8086TestRig(t)
	r.load([]byte{0xD0, 0xC0, 0xF4}) // rol al,1
	r.cpu.reg(RegAX).Store(0x0080)
	r.cpu.flags.Set(FlagZF, true)
	r.cpu.flags.Set(FlagPF, true)
	r.run(t, 5)
	assert.Equal(t, uint16(0x01), r.byteReg(RegAL))
	assert.True(t, r.flag(FlagCF))
	assert.True(t, r.flag(FlagZF))
	assert.True(t, r.flag(FlagPF))
	assert.False(t, r.flag(FlagSF))
}

func TestBCD(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0x04, 0x27, 0x27, 0xF4}) // add al,27 / daa
	r.cpu.reg(RegAX).Store(0x0015)
	r.run(t, 5)
	assert.Equal(t, uint16(0x42), r.byteReg(RegAL))

	r = newCPU8086TestRig(t)
	r.load([]byte{0x37, 0xF4}) // aaa
	r.cpu.reg(RegAX).Store(0x000B)
	r.run(t, 5)
	assert.Equal(t, uint16(0x0101), r.word(RegAX))
	assert.True(t, r.flag(FlagCF))

	r = newCPU8086TestRig(t)
	r.load([]byte{0xD4, 0x0A, 0xD5, 0x0A, 0xF4}) // aam / aad
	r.cpu.reg(RegAX).Store(0x0025)
	assert.NoError(t, r.cpu.Step())
	assert.Equal(t, uint16(0x0307), r.word(RegAX))
	r.run(t, 5)
	assert.Equal(t, uint16(0x0025), r.word(RegAX))
}

func TestAAMZeroRaisesDivideError(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0xD4, 0x00})
	err := r.cpu.Step()
	assert.True(t, errors.Is(err, ErrUnimplementedOpcode))
	assert.ErrorContains(t, err, "vector 0x00")
}

// =============================================================================
// Data movement
// =============================================================================

func TestLeaAndLoadFarPointer(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{
		0x8D, 0x47, 0x10, // lea ax,[bx+10]
		0x8D, 0x8A, 0x34, 0x12, // lea cx,[bp+si+1234]
		0xC4, 0x1E, 0x00, 0x20, // les bx,[2000]
		0xC5, 0x36, 0x04, 0x20, // lds si,[2004]
		0xF4,
	})
	r.cpu.reg(RegBX).Store(0x0100)
	r.cpu.reg(RegBP).Store(0x0010)
	r.cpu.reg(RegSI).Store(0x0020)
	r.bus.Write([]byte{0x34, 0x12, 0x00, 0x50, 0x78, 0x56, 0x00, 0x60}, 0x2000)
	r.run(t, 10)

	assert.Equal(t, uint16(0x0110), r.word(RegAX))
	assert.Equal(t, uint16(0x1264), r.word(RegCX))
	assert.Equal(t, uint16(0x1234), r.word(RegBX))
	assert.Equal(t, uint16(0x5000), r.word(RegES))
	assert.Equal(t, uint16(0x5678), r.word(RegSI))
	assert.Equal(t, uint16(0x6000), r.word(RegDS))
}

func TestLeaRegisterOperandFails(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0x8D, 0xC3}) // lea ax,bx
	err := r.cpu.Step()
	assert.True(t, errors.Is(err, ErrUnknownOperandShape))
}

func TestSegmentMoves(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{
		0x8E, 0xD8, // mov ds,ax
		0x8C, 0xDB, // mov bx,ds
		0x06,       // push es
		0x1F,       // pop ds
		0x8F, 0x06, 0x00, 0x20, // pop word [2000]
		0xF4,
	})
	r.cpu.reg(RegAX).Store(0x1357)
	r.cpu.reg(RegES).Store(0x2468)
	r.bus.Write16(testStackTop, 0x9999)
	r.run(t, 10)

	assert.Equal(t, uint16(0x1357), r.word(RegBX))
	assert.Equal(t, uint16(0x2468), r.word(RegDS))
	// DS moved before the pop, so the pop lands in the new data segment
	assert.Equal(t, uint16(0x9999), r.bus.Read16(0x24680+0x2000))
}

func TestExchange(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{
		0x87, 0xD8, // xchg ax,bx
		0x91,       // xchg ax,cx
		0x86, 0x26, 0x00, 0x20, // xchg ah,[2000]
		0xF4,
	})
	r.cpu.reg(RegAX).Store(0x0001)
	r.cpu.reg(RegBX).Store(0x0002)
	r.cpu.reg(RegCX).Store(0x0303)
	r.bus.Write8(0x2000, 0x77)
	r.run(t, 10)

	assert.Equal(t, uint16(0x0001), r.word(RegBX))
	assert.Equal(t, uint16(0x0002), r.word(RegCX))
	assert.Equal(t, uint16(0x7703), r.word(RegAX))
	assert.Equal(t, byte(0x03), r.bus.Read8(0x2000))
}

func TestCBWCWDXlatSalc(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0x98, 0x99, 0xF4}) // cbw / cwd
	r.cpu.reg(RegAX).Store(0x0080)
	r.run(t, 5)
	assert.Equal(t, uint16(0xFF80), r.word(RegAX))
	assert.Equal(t, uint16(0xFFFF), r.word(RegDX))

	r = newCPU8086TestRig(t)
	r.load([]byte{0xD7, 0xF9, 0xD6, 0xF4}) // xlat / stc / salc
	r.cpu.reg(RegBX).Store(0x2000)
	r.cpu.reg(RegAX).Store(0x0003)
	r.bus.Write([]byte{10, 11, 12, 13}, 0x2000)
	assert.NoError(t, r.cpu.Step())
	assert.Equal(t, uint16(13), r.byteReg(RegAL))
	r.run(t, 5)
	assert.Equal(t, uint16(0xFF), r.byteReg(RegAL))
}

func TestFlagInstructions(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0xF9, 0xFB, 0xFD, 0xF5, 0xF4}) // stc / sti / std / cmc
	r.run(t, 10)
	assert.False(t, r.flag(FlagCF))
	assert.True(t, r.flag(FlagIF))
	assert.True(t, r.flag(FlagDF))

	r = newCPU8086TestRig(t)
	r.load([]byte{0x9F, 0xB4, 0xD5, 0x9E, 0xF4}) // lahf / mov ah,D5 / sahf
	r.cpu.flags.Set(FlagZF, true)
	assert.NoError(t, r.cpu.Step())
	assert.Equal(t, uint16(0x42), r.byteReg(RegAH))
	r.run(t, 5)
	assert.True(t, r.flag(FlagSF))
	assert.True(t, r.flag(FlagZF))
	assert.True(t, r.flag(FlagAF))
	assert.True(t, r.flag(FlagPF))
	assert.True(t, r.flag(FlagCF))
}

func TestPushfPopf(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0xF9, 0x9C, 0xF8, 0x9D, 0xF4}) // stc / pushf / clc / popf
	r.run(t, 10)
	assert.True(t, r.flag(FlagCF))
	assert.Equal(t, uint16(flagsReservedBits|1), r.bus.Read16(testStackTop-2))
	assert.Equal(t, uint16(testStackTop), r.word(RegSP))
}

// =============================================================================
// Control flow
// =============================================================================

func TestConditionalJumps(t *testing.T) {
	tests := []struct {
		name   string
		opcode byte
		flags  []int
		taken  bool
	}{
		{"jo", 0x70, []int{FlagOF}, true},
		{"jno with OF", 0x71, []int{FlagOF}, false},
		{"jc", 0x72, []int{FlagCF}, true},
		{"jnc", 0x73, nil, true},
		{"jz", 0x74, []int{FlagZF}, true},
		{"jnz with ZF", 0x75, []int{FlagZF}, false},
		{"jbe on CF", 0x76, []int{FlagCF}, true},
		{"jbe on ZF", 0x76, []int{FlagZF}, true},
		{"ja", 0x77, nil, true},
		{"ja with CF", 0x77, []int{FlagCF}, false},
		{"js", 0x78, []int{FlagSF}, true},
		{"jns with SF", 0x79, []int{FlagSF}, false},
		{"jp", 0x7A, []int{FlagPF}, true},
		{"jnp", 0x7B, nil, true},
		{"jl", 0x7C, []int{FlagSF}, true},
		{"jl equal signs", 0x7C, []int{FlagSF, FlagOF}, false},
		{"jge", 0x7D, []int{FlagSF, FlagOF}, true},
		{"jle on ZF", 0x7E, []int{FlagZF}, true},
		{"jle on OF", 0x7E, []int{FlagOF}, true},
		{"jg", 0x7F, nil, true},
		{"jg with SF", 0x7F, []int{FlagSF}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newCPU8086TestRig(t)
			r.load([]byte{tt.opcode, 0x10})
			for _, f := range tt.flags {
				r.cpu.flags.Set(f, true)
			}
			assert.NoError(t, r.cpu.Step())
			want := uint16(testCodeOffset + 2)
			if tt.taken {
				want += 0x10
			}
			assert.Equal(t, want, r.word(RegIP))
		})
	}
}

func TestJumpSkipsInstruction(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0x31, 0xC0, 0x74, 0x02, 0xB0, 0x01, 0xF4}) // xor / jz +2 / mov al,1 / hlt
	r.run(t, 5)
	assert.Equal(t, uint16(0), r.word(RegAX))
}

func TestLoop(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{
		0xB9, 0x03, 0x00, // mov cx,3
		0x40,       // inc ax
		0xE2, 0xFD, // loop -3
		0xE3, 0x01, // jcxz +1
		0x40, // skipped
		0xF4,
	})
	r.run(t, 20)
	assert.Equal(t, uint16(3), r.word(RegAX))
	assert.Equal(t, uint16(0), r.word(RegCX))
}

func TestLoopzStopsOnClearZF(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0xE1, 0x10, 0xF4}) // loopz +10
	r.cpu.reg(RegCX).Store(5)
	r.run(t, 5)
	assert.Equal(t, uint16(4), r.word(RegCX))
	assert.Equal(t, uint16(testCodeOffset+3), r.word(RegIP))
}

func TestCallReturn(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{
		0xE8, 0x04, 0x00, // call +4
		0xF4,             // hlt
		0x90, 0x90, 0x90, // padding
		0xB8, 0x22, 0x11, // mov ax,1122
		0xC3, // ret
	})
	r.run(t, 10)
	assert.Equal(t, uint16(0x1122), r.word(RegAX))
	assert.Equal(t, uint16(testStackTop), r.word(RegSP))
	assert.Equal(t, uint16(testCodeOffset+4), r.word(RegIP))
}

func TestFarCallReturn(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{
		0x9A, 0x00, 0x00, 0x00, 0x03, // call 0300:0000
		0xF4,
	})
	r.bus.Write([]byte{0x41, 0xCA, 0x02, 0x00}, 0x3000) // inc cx / retf 2
	r.run(t, 10)
	assert.Equal(t, uint16(1), r.word(RegCX))
	assert.Equal(t, uint16(0), r.word(RegCS))
	assert.Equal(t, uint16(testStackTop+2), r.word(RegSP))
}

func TestIndirectJumpAndCall(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{
		0xFF, 0xD3, // call bx
		0xF4,
	})
	r.cpu.reg(RegBX).Store(0x1100)
	r.bus.Write([]byte{0xFF, 0x26, 0x00, 0x20}, 0x1100) // jmp [2000]
	r.bus.Write16(0x2000, 0x1200)
	r.bus.Write([]byte{0xFF, 0x2E, 0x02, 0x20}, 0x1200) // jmp far [2002]
	r.bus.Write([]byte{0x10, 0x00, 0x40, 0x00}, 0x2002) // 0040:0010
	r.bus.Write8(0x410, 0xF4)
	r.run(t, 10)
	assert.Equal(t, uint16(0x0040), r.word(RegCS))
	assert.Equal(t, uint16(0x0011), r.word(RegIP))
	assert.Equal(t, uint16(testCodeOffset+2), r.bus.Read16(testStackTop-2))
}

func TestInterruptAndIret(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0xFB, 0xCD, 0x21, 0xF4}) // sti / int 21h / hlt
	r.setVector(0x21, testHandlerOffset)
	r.bus.Write([]byte{0xB8, 0x99, 0x00, 0xCF}, testHandlerOffset) // mov ax,99 / iret

	assert.NoError(t, r.cpu.Step())
	assert.NoError(t, r.cpu.Step())
	assert.Equal(t, uint16(testHandlerOffset), r.word(RegIP))
	assert.False(t, r.flag(FlagIF))
	assert.Equal(t, uint16(testCodeOffset+3), r.bus.Read16(testStackTop-6))

	r.run(t, 10)
	assert.Equal(t, uint16(0x99), r.word(RegAX))
	assert.True(t, r.flag(FlagIF))
	assert.Equal(t, uint16(testStackTop), r.word(RegSP))
	assert.Equal(t, uint16(testCodeOffset+4), r.word(RegIP))
}

func TestInt3AndInto(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0xCE, 0xCC}) // into (OF clear) / int3
	r.setVector(3, testHandlerOffset)
	r.bus.Write8(testHandlerOffset, 0xF4)
	r.run(t, 5)
	assert.Equal(t, uint16(testCodeOffset+2), r.bus.Read16(testStackTop-6))

	r = newCPU8086TestRig(t)
	r.load([]byte{0xCE})
	r.setVector(4, testHandlerOffset)
	r.bus.Write8(testHandlerOffset, 0xF4)
	r.cpu.flags.Set(FlagOF, true)
	r.run(t, 5)
	assert.Equal(t, uint16(testHandlerOffset+1), r.word(RegIP))
}

func TestTrapFlag(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0x90, 0x90, 0xF4})
	r.setVector(1, testHandlerOffset)
	r.bus.Write8(testHandlerOffset, 0xF4)
	r.cpu.flags.Set(FlagTF, true)

	assert.NoError(t, r.cpu.Step())
	assert.Equal(t, uint16(testCodeOffset+1), r.word(RegIP))
	assert.NoError(t, r.cpu.Step())
	assert.Equal(t, uint16(testHandlerOffset), r.word(RegIP))
	assert.False(t, r.flag(FlagTF))
	assert.Equal(t, uint16(testCodeOffset+2), r.bus.Read16(testStackTop-6))
	// the pushed flags still carry TF
	assert.True(t, r.bus.Read16(testStackTop-2)&(1<<FlagTF) != 0)
}

func TestHardwareInterrupt(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0x90, 0xF4})
	r.setVector(8, testHandlerOffset)
	r.bus.Write8(testHandlerOffset, 0xF4)

	// masked while IF is clear
	r.cpu.RaiseIRQ(8)
	assert.NoError(t, r.cpu.Step())
	assert.Equal(t, uint16(testCodeOffset+1), r.word(RegIP))

	r = newCPU8086TestRig(t)
	r.load([]byte{0x90, 0xF4})
	r.setVector(8, testHandlerOffset)
	r.bus.Write8(testHandlerOffset, 0xF4)
	r.cpu.flags.Set(FlagIF, true)
	r.cpu.RaiseIRQ(8)
	r.run(t, 5)
	assert.Equal(t, uint16(testHandlerOffset+1), r.word(RegIP))
	assert.Equal(t, uint16(testCodeOffset+1), r.bus.Read16(testStackTop-6))
}

func TestInterruptWaitsForPrefix(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0x2E, 0x90, 0x90, 0xF4}) // cs: / nop / nop / hlt
	r.setVector(8, testHandlerOffset)
	r.bus.Write8(testHandlerOffset, 0xF4)
	r.cpu.flags.Set(FlagIF, true)
	r.cpu.RaiseIRQ(8)

	assert.NoError(t, r.cpu.Step())
	assert.Equal(t, uint16(testCodeOffset+1), r.word(RegIP))
	assert.NoError(t, r.cpu.Step())
	assert.Equal(t, uint16(testCodeOffset+2), r.word(RegIP))

	r.run(t, 5)
	assert.Equal(t, uint16(testHandlerOffset+1), r.word(RegIP))
}

// =============================================================================
// String instructions and prefixes
// =============================================================================

func TestRepMovsbWithSegmentOverride(t *testing.T) {
	for _, prefixes := range [][]byte{{0x2E, 0xF3}, {0xF3, 0x2E}} {
		r := newCPU8086TestRig(t)
		code := []byte{
			0xBE, 0x00, 0x20, // mov si,2000
			0xBF, 0x00, 0x00, // mov di,0
			0xB9, 0x05, 0x00, // mov cx,5
			0xFC, // cld
		}
		code = append(code, prefixes...)
		code = append(code, 0xA4, 0xF4) // movsb / hlt
		r.load(code)
		r.cpu.reg(RegDS).Store(0x5000)
		r.cpu.reg(RegES).Store(0x0300)
		r.bus.Write([]byte("HELLO"), 0x2000)
		r.run(t, 20)

		assert.Equal(t, "HELLO", string(r.bus.Read(0x3000, 5)))
		assert.Equal(t, uint16(0), r.word(RegCX))
		assert.Equal(t, uint16(0x2005), r.word(RegSI))
		assert.Equal(t, uint16(5), r.word(RegDI))
		assert.Equal(t, 0, r.cpu.segOverrideEn)
		assert.Equal(t, 0, r.cpu.repOverrideEn)
	}
}

func TestStosLodsBackward(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{
		0xFD,       // std
		0xF3, 0xAB, // rep stosw
		0xAD,       // lodsw
		0xF4,
	})
	r.cpu.reg(RegAX).Store(0xA55A)
	r.cpu.reg(RegCX).Store(3)
	r.cpu.reg(RegDI).Store(0x2004)
	r.cpu.reg(RegSI).Store(0x2002)
	r.run(t, 10)

	assert.Equal(t, uint16(0xA55A), r.bus.Read16(0x2000))
	assert.Equal(t, uint16(0xA55A), r.bus.Read16(0x2004))
	assert.Equal(t, uint16(0x1FFE), r.word(RegDI))
	assert.Equal(t, uint16(0x2000), r.word(RegSI))
}

func TestRepeCmpsb(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0xF3, 0xA6, 0xF4})
	r.bus.Write([]byte("ABCD"), 0x2000)
	r.bus.Write([]byte("ABXD"), 0x2100)
	r.cpu.reg(RegSI).Store(0x2000)
	r.cpu.reg(RegDI).Store(0x2100)
	r.cpu.reg(RegCX).Store(4)
	r.run(t, 10)

	assert.Equal(t, uint16(1), r.word(RegCX))
	assert.Equal(t, uint16(0x2003), r.word(RegSI))
	assert.Equal(t, uint16(0x2103), r.word(RegDI))
	assert.False(t, r.flag(FlagZF))
	assert.True(t, r.flag(FlagCF))
}

func TestRepneScasb(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0xF2, 0xAE, 0xF4})
	r.bus.Write([]byte("hello\x00"), 0x2000)
	r.cpu.reg(RegDI).Store(0x2000)
	r.cpu.reg(RegCX).Store(0xFFFF)
	r.run(t, 10)

	assert.Equal(t, uint16(0x2006), r.word(RegDI))
	assert.Equal(t, uint16(0xFFFF-6), r.word(RegCX))
	assert.True(t, r.flag(FlagZF))
}

func TestRepWithZeroCount(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0xF3, 0xA6, 0xF3, 0xA4, 0xF4})
	r.cpu.reg(RegSI).Store(0x2000)
	r.run(t, 10)
	assert.Equal(t, uint16(0x2000), r.word(RegSI))
	assert.Equal(t, uint16(0), r.word(RegCX))
}

// =============================================================================
// Port I/O
// =============================================================================

func TestPortIO(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{
		0xE6, 0x80, // out 80,al
		0xEF,       // out dx,ax
		0xE4, 0x81, // in al,81
		0xED, // in ax,dx
		0xF4,
	})
	r.cpu.reg(RegAX).Store(0x1234)
	r.cpu.reg(RegDX).Store(0x0300)
	r.run(t, 10)

	assert.Equal(t, byte(0x34), r.bus.In(0x80))
	assert.Equal(t, byte(0x34), r.bus.In(0x300))
	assert.Equal(t, byte(0x12), r.bus.In(0x301))
	assert.Equal(t, uint16(0x1234), r.word(RegAX))
}

func TestTracerSeesEveryInstruction(t *testing.T) {
	r := newCPU8086TestRig(t)
	r.load([]byte{0x90, 0x90, 0xF4})
	rec := &opcodeRecorder{}
	r.cpu.Tracer = rec
	r.run(t, 5)
	if diff := cmp.Diff([]byte{0x90, 0x90, 0xF4}, rec.ops); diff != "" {
		t.Errorf("traced opcodes mismatch (-want +got):\n%s", diff)
	}
}

type opcodeRecorder struct {
	ops []byte
}

func (o *opcodeRecorder) TraceInstruction(c *CPU_8086) {
	o.ops = append(o.ops, c.ins.opcode)
}

// =============================================================================
// Malformed firmware tables
// =============================================================================

func TestSubfunctionRegisterOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		opcode byte
		code   []byte
	}{
		{"push sreg", 0x06, []byte{0x06, 0xF4}},
		{"pop sreg", 0x07, []byte{0x07, 0xF4}},
		{"segment override", 0x26, []byte{0x26, 0x90, 0xF4}},
		{"les", 0xC4, []byte{0xC4, 0x06, 0x00, 0x20, 0xF4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt := BuildDecodeTables()
			dt.tables[TableXlatSubfunction][tt.opcode] = 0x40
			r := newCPU8086TestRigWithTables(t, dt)
			r.load(tt.code)

			err := r.cpu.Step()
			assert.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnknownOperandShape))
			assert.Equal(t, uint16(testStackTop), r.word(RegSP))
			assert.Equal(t, uint64(0), r.cpu.Steps)
		})
	}
}

func TestResolveSegmentOverrideOutOfRange(t *testing.T) {
	bus := NewSystemBus()
	r := NewAddressingResolver(newRegisterFile(), BuildDecodeTables(), bus)
	_, err := r.Resolve(ModRMInput{Mod: 0, RM: 2, SegmentOverride: 0x40})
	assert.True(t, errors.Is(err, ErrUnknownOperandShape))
}

func TestStepReturnsValueOutOfRange(t *testing.T) {
	dt := BuildDecodeTables()
	dt.tables[TableFlagsBitfields][0] = 20 // not a FLAGS bit
	r := newCPU8086TestRigWithTables(t, dt)
	r.load([]byte{0x9C, 0xF4}) // pushf / hlt

	err := r.cpu.Step()
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrValueOutOfRange))
	assert.ErrorContains(t, err, "flag index 20")
	assert.False(t, r.cpu.Halted)
}
