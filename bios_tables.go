// bios_tables.go - Decode table generator and minimal boot ROM
//
// Builds the twenty decode tables for the class numbering used by the core
// and packs them into a firmware image together with a tiny boot stub. The
// stub reads the first sector of the boot drive to 0000:7C00 through the
// emulator disk hook and jumps to it when it carries the 55AA signature.
//
// Images produced here are interchangeable with any other firmware that
// follows the same pointer layout.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// opcodeEntry is one column across the per-opcode tables.
type opcodeEntry struct {
	class byte
	sub   byte
	flags byte
	base  byte
	iw    byte
	imod  byte
}

// ALU sub-functions shared by classes 7, 8 and 9.
const (
	aluADD = iota
	aluOR
	aluADC
	aluSBB
	aluAND
	aluSUB
	aluXOR
	aluCMP
	aluMOV
)

var aluFlagPolicy = [8]byte{
	aluADD: flagsUpdateSZP | flagsUpdateArith,
	aluOR:  flagsUpdateSZP | flagsUpdateLogic,
	aluADC: flagsUpdateSZP | flagsUpdateArith,
	aluSBB: flagsUpdateSZP | flagsUpdateArith,
	aluAND: flagsUpdateSZP | flagsUpdateLogic,
	aluSUB: flagsUpdateSZP | flagsUpdateArith,
	aluXOR: flagsUpdateSZP | flagsUpdateLogic,
	aluCMP: flagsUpdateSZP | flagsUpdateArith,
}

func buildOpcodeEntries() [256]opcodeEntry {
	var e [256]opcodeEntry
	for i := range e {
		e[i] = opcodeEntry{class: classInvalid, base: 1}
	}
	set := func(lo, hi int, ent opcodeEntry) {
		for op := lo; op <= hi; op++ {
			e[op] = ent
		}
	}

	// 00-3F: the eight ALU rows with the segment and BCD opcodes in the gaps
	for op := 0; op < 8; op++ {
		row := op * 8
		set(row, row+3, opcodeEntry{classALURegRM, byte(op), aluFlagPolicy[op], 2, 0, 1})
		set(row+4, row+5, opcodeEntry{classALUAccImm, byte(op), aluFlagPolicy[op], 1, 1, 0})
	}
	segRows := []struct{ push, pop, seg int }{
		{0x06, 0x07, RegES}, {0x0E, -1, RegCS}, {0x16, 0x17, RegSS}, {0x1E, 0x1F, RegDS},
	}
	for _, r := range segRows {
		e[r.push] = opcodeEntry{classPushSeg, byte(r.seg), 0, 1, 0, 0}
		if r.pop >= 0 {
			e[r.pop] = opcodeEntry{classPopSeg, byte(r.seg), 0, 1, 0, 0}
		}
	}
	e[0x0F] = opcodeEntry{classEmulator, 0, 0, 2, 0, 0}
	e[0x26] = opcodeEntry{classSegOverride, RegES, 0, 1, 0, 0}
	e[0x2E] = opcodeEntry{classSegOverride, RegCS, 0, 1, 0, 0}
	e[0x36] = opcodeEntry{classSegOverride, RegSS, 0, 1, 0, 0}
	e[0x3E] = opcodeEntry{classSegOverride, RegDS, 0, 1, 0, 0}
	e[0x27] = opcodeEntry{classDecimalAdjust, 0, flagsUpdateSZP, 1, 0, 0}
	e[0x2F] = opcodeEntry{classDecimalAdjust, 1, flagsUpdateSZP, 1, 0, 0}
	e[0x37] = opcodeEntry{classASCIIAdjust, 0, 0, 1, 0, 0}
	e[0x3F] = opcodeEntry{classASCIIAdjust, 1, 0, 1, 0, 0}

	set(0x40, 0x47, opcodeEntry{classIncDecReg, 0, 0, 1, 0, 0})
	set(0x48, 0x4F, opcodeEntry{classIncDecReg, 1, 0, 1, 0, 0})
	set(0x50, 0x57, opcodeEntry{classPushReg, 0, 0, 1, 0, 0})
	set(0x58, 0x5F, opcodeEntry{classPopReg, 0, 0, 1, 0, 0})
	set(0x70, 0x7F, opcodeEntry{classCondJump, 0, 0, 2, 0, 0})

	// 80-83 borrow the flag policy of the ALU row selected by the reg field
	set(0x80, 0x82, opcodeEntry{classALURMImm, 0, 0, 2, 1, 1})
	e[0x83] = opcodeEntry{classALURMImm, immSignExtend, 0, 3, 0, 1}
	set(0x84, 0x85, opcodeEntry{classTestRegRM, 0, flagsUpdateSZP | flagsUpdateLogic, 2, 0, 1})
	set(0x86, 0x87, opcodeEntry{classXchgRegRM, 0, 0, 2, 0, 1})
	set(0x88, 0x8B, opcodeEntry{classALURegRM, aluMOV, 0, 2, 0, 1})
	set(0x8C, 0x8F, opcodeEntry{classMovSegLeaPop, 0, 0, 2, 0, 1})
	set(0x90, 0x97, opcodeEntry{classXchgAcc, 0, 0, 1, 0, 0})
	e[0x98] = opcodeEntry{classCBW, 0, 0, 1, 0, 0}
	e[0x99] = opcodeEntry{classCWD, 0, 0, 1, 0, 0}
	e[0x9A] = opcodeEntry{classCallFar, 0, 0, 5, 0, 0}
	e[0x9B] = opcodeEntry{classNop, 0, 0, 1, 0, 0}
	e[0x9C] = opcodeEntry{classPushf, 0, 0, 1, 0, 0}
	e[0x9D] = opcodeEntry{classPopf, 0, 0, 1, 0, 0}
	e[0x9E] = opcodeEntry{classSahf, 0, 0, 1, 0, 0}
	e[0x9F] = opcodeEntry{classLahf, 0, 0, 1, 0, 0}

	set(0xA0, 0xA3, opcodeEntry{classMovAccMem, 0, 0, 3, 0, 0})
	set(0xA4, 0xA5, opcodeEntry{classStringMove, stringMOVS, 0, 1, 0, 0})
	set(0xA6, 0xA7, opcodeEntry{classStringCompare, stringCMPS, 0, 1, 0, 0})
	set(0xA8, 0xA9, opcodeEntry{classTestAccImm, 0, flagsUpdateSZP | flagsUpdateLogic, 1, 1, 0})
	set(0xAA, 0xAB, opcodeEntry{classStringMove, stringSTOS, 0, 1, 0, 0})
	set(0xAC, 0xAD, opcodeEntry{classStringMove, stringLODS, 0, 1, 0, 0})
	set(0xAE, 0xAF, opcodeEntry{classStringCompare, stringSCAS, 0, 1, 0, 0})
	set(0xB0, 0xBF, opcodeEntry{classMovRegImm, 0, 0, 1, 1, 0})

	set(0xC0, 0xC1, opcodeEntry{classShift, shiftByImm, 0, 3, 0, 1})
	e[0xC2] = opcodeEntry{classReturn, returnNear, 0, 3, 0, 0}
	e[0xC3] = opcodeEntry{classReturn, returnNear, 0, 1, 0, 0}
	e[0xC4] = opcodeEntry{classLoadFarPtr, RegES, 0, 2, 0, 1}
	e[0xC5] = opcodeEntry{classLoadFarPtr, RegDS, 0, 2, 0, 1}
	set(0xC6, 0xC7, opcodeEntry{classMovRMImm, 0, 0, 2, 1, 1})
	e[0xCA] = opcodeEntry{classReturn, returnFar, 0, 3, 0, 0}
	e[0xCB] = opcodeEntry{classReturn, returnFar, 0, 1, 0, 0}
	e[0xCC] = opcodeEntry{classInt3, 0, 0, 1, 0, 0}
	e[0xCD] = opcodeEntry{classIntImm, 0, 0, 2, 0, 0}
	e[0xCE] = opcodeEntry{classInto, 0, 0, 1, 0, 0}
	e[0xCF] = opcodeEntry{classReturn, returnInterrupt, 0, 1, 0, 0}

	set(0xD0, 0xD3, opcodeEntry{classShift, shiftByOneOrCL, 0, 2, 0, 1})
	e[0xD4] = opcodeEntry{classAAM, 0, flagsUpdateSZP, 2, 0, 0}
	e[0xD5] = opcodeEntry{classAAD, 0, flagsUpdateSZP, 2, 0, 0}
	e[0xD6] = opcodeEntry{classSalc, 0, 0, 1, 0, 0}
	e[0xD7] = opcodeEntry{classXlat, 0, 0, 1, 0, 0}

	set(0xE0, 0xE3, opcodeEntry{classLoop, 0, 0, 2, 0, 0})
	set(0xE4, 0xE5, opcodeEntry{classIn, portImmediate, 0, 2, 0, 0})
	set(0xE6, 0xE7, opcodeEntry{classOut, portImmediate, 0, 2, 0, 0})
	e[0xE8] = opcodeEntry{classJumpCall, 0, 0, 3, 0, 0}
	e[0xE9] = opcodeEntry{classJumpCall, 0, 0, 3, 0, 0}
	e[0xEA] = opcodeEntry{classJumpCall, 0, 0, 5, 0, 0}
	e[0xEB] = opcodeEntry{classJumpCall, 0, 0, 2, 0, 0}
	set(0xEC, 0xED, opcodeEntry{classIn, portDX, 0, 1, 0, 0})
	set(0xEE, 0xEF, opcodeEntry{classOut, portDX, 0, 1, 0, 0})

	e[0xF0] = opcodeEntry{classNop, 0, 0, 1, 0, 0}
	set(0xF2, 0xF3, opcodeEntry{classRep, 0, 0, 1, 0, 0})
	e[0xF4] = opcodeEntry{classHlt, 0, 0, 1, 0, 0}
	e[0xF5] = opcodeEntry{classCmc, 0, 0, 1, 0, 0}
	set(0xF6, 0xF7, opcodeEntry{classGroup3, 0, 0, 2, 0, 1})
	e[0xF8] = opcodeEntry{classFlagOp, FlagCF << 1, 0, 1, 0, 0}
	e[0xF9] = opcodeEntry{classFlagOp, FlagCF<<1 | 1, 0, 1, 0, 0}
	e[0xFA] = opcodeEntry{classFlagOp, FlagIF << 1, 0, 1, 0, 0}
	e[0xFB] = opcodeEntry{classFlagOp, FlagIF<<1 | 1, 0, 1, 0, 0}
	e[0xFC] = opcodeEntry{classFlagOp, FlagDF << 1, 0, 1, 0, 0}
	e[0xFD] = opcodeEntry{classFlagOp, FlagDF<<1 | 1, 0, 1, 0, 0}
	set(0xFE, 0xFF, opcodeEntry{classGroup5, 0, 0, 2, 0, 1})
	return e
}

// BuildDecodeTables generates the full table set.
func BuildDecodeTables() *DecodeTables {
	dt := &DecodeTables{}
	for id := range dt.tables {
		dt.tables[id] = make([]byte, decodeTableLengths[id])
	}

	// r/m: [BX+SI] [BX+DI] [BP+SI] [BP+DI] [SI] [DI] [BP]|disp16 [BX]
	copy(dt.tables[TableRMReg1], []byte{RegBX, RegBX, RegBP, RegBP, RegSI, RegDI, RegBP, RegBX})
	copy(dt.tables[TableRMReg2], []byte{RegSI, RegDI, RegSI, RegDI, RegZero, RegZero, RegZero, RegZero})
	copy(dt.tables[TableRMDisp], []byte{1, 1, 1, 1, 1, 1, 1, 1})
	copy(dt.tables[TableRMSeg], []byte{RegDS, RegDS, RegSS, RegSS, RegDS, RegDS, RegSS, RegDS})
	copy(dt.tables[TableRM0Reg1], []byte{RegBX, RegBX, RegBP, RegBP, RegSI, RegDI, RegZero, RegBX})
	copy(dt.tables[TableRM0Reg2], []byte{RegSI, RegDI, RegSI, RegDI, RegZero, RegZero, RegZero, RegZero})
	copy(dt.tables[TableRM0Disp], []byte{0, 0, 0, 0, 0, 0, 1, 0})
	copy(dt.tables[TableRM0Seg], []byte{RegDS, RegDS, RegSS, RegSS, RegDS, RegDS, RegDS, RegDS})

	for op, ent := range buildOpcodeEntries() {
		dt.tables[TableXlatOpcode][op] = ent.class
		dt.tables[TableXlatSubfunction][op] = ent.sub
		dt.tables[TableStdFlags][op] = ent.flags
		dt.tables[TableBaseInstSize][op] = ent.base
		dt.tables[TableIWSize][op] = ent.iw
		dt.tables[TableIModSize][op] = ent.imod
	}

	for b := 0; b < 256; b++ {
		bits := 0
		for v := b; v != 0; v >>= 1 {
			bits += v & 1
		}
		if bits%2 == 0 {
			dt.tables[TableParityFlag][b] = 1
		}
	}

	// Jcc index (opcode>>1)&7: O C Z BE S P L LE
	copy(dt.tables[TableCondJumpDecodeA], []byte{48, 40, 43, 40, 44, 41, 49, 49})
	copy(dt.tables[TableCondJumpDecodeB], []byte{49, 49, 49, 43, 49, 49, 49, 43})
	copy(dt.tables[TableCondJumpDecodeC], []byte{49, 49, 49, 49, 49, 49, 44, 44})
	copy(dt.tables[TableCondJumpDecodeD], []byte{49, 49, 49, 49, 49, 49, 48, 48})

	copy(dt.tables[TableFlagsBitfields], []byte{FlagCF, FlagPF, FlagAF, FlagZF, FlagSF, FlagTF, FlagIF, FlagDF, FlagOF, 0})
	return dt
}

// bootStub is the code placed after the pointer table. It loads the boot
// sector of the drive in DL to 0000:7C00 and jumps to it, or halts.
var bootStub = []byte{
	0x31, 0xC0, // xor ax, ax
	0x8E, 0xC0, // mov es, ax
	0x8E, 0xD0, // mov ss, ax
	0xBC, 0x00, 0x7C, // mov sp, 7C00
	0xBB, 0x00, 0x7C, // mov bx, 7C00
	0xBD, 0x00, 0x00, // mov bp, 0
	0xB8, 0x00, 0x02, // mov ax, 0200
	0x0F, 0x02, // disk read: DL drive, BP sector, AX bytes to ES:BX
	0x26, 0x81, 0x3E, 0xFE, 0x7D, 0x55, 0xAA, // cmp word es:[7DFE], AA55
	0x75, 0x05, // jnz halt
	0xEA, 0x00, 0x7C, 0x00, 0x00, // jmp 0000:7C00
	0xF4, // halt: hlt
}

// firmwareCodeOffset is the image offset right after the pointer table.
const firmwareCodeOffset = 0x2A

// BuildFirmwareImage lays out code after the pointer table (entered through a
// short jump at F000:0100) followed by the decode tables. A nil code slice
// uses the boot stub.
func BuildFirmwareImage(dt *DecodeTables, code []byte) ([]byte, error) {
	if dt == nil {
		return nil, errors.Wrap(ErrConfiguration, "no decode tables")
	}
	if code == nil {
		code = bootStub
	}
	image := make([]byte, firmwareCodeOffset, firmwareCodeOffset+len(code)+4096)
	image[0] = 0xEB
	image[1] = firmwareCodeOffset - 2
	image = append(image, code...)

	for id := 0; id < numDecodeTables; id++ {
		var err error
		if image, err = placeDecodeTable(image, id, len(image), dt.tables[id]); err != nil {
			return nil, err
		}
	}
	return image, nil
}

// placeDecodeTable writes table bytes at image offset at, growing the image
// as needed, and points table id's pointer word at it.
func placeDecodeTable(image []byte, id, at int, table []byte) ([]byte, error) {
	ptr := at + biosEntryOffset
	if ptr > 0xFFFF || len(table) != decodeTableLengths[id] {
		return nil, errors.Wrapf(ErrConfiguration, "cannot place table %s at image offset 0x%X", decodeTableNames[id], at)
	}
	if need := at + len(table); need > len(image) {
		image = append(image, make([]byte, need-len(image))...)
	}
	copy(image[at:], table)
	po := tablePointerOffset(id)
	binary.LittleEndian.PutUint16(image[po:po+2], uint16(ptr))
	return image, nil
}
