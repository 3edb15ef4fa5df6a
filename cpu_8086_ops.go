// cpu_8086_ops.go - Instruction class handlers for the 8086 core
//
// Every handler works on the decode state in c.ins. Handlers never advance
// IP themselves: the loop has already computed nextIP from the length tables
// and control transfers overwrite it.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"github.com/pkg/errors"
)

// immSignExtend marks the 83 row, whose imm8 is sign-extended to the operand.
const immSignExtend = 1

// -----------------------------------------------------------------------------
// Instruction Table Initialization
// -----------------------------------------------------------------------------

// initClassOps initializes the class dispatch table
func (c *CPU_8086) initClassOps() {
	c.classOps = [numClasses]func(*CPU_8086) error{
		classCondJump:      (*CPU_8086).opCondJump,
		classMovRegImm:     (*CPU_8086).opMovRegImm,
		classIncDecReg:     (*CPU_8086).opIncDecReg,
		classPushReg:       (*CPU_8086).opPushReg,
		classPopReg:        (*CPU_8086).opPopReg,
		classGroup5:        (*CPU_8086).opGroup5,
		classGroup3:        (*CPU_8086).opGroup3,
		classALUAccImm:     (*CPU_8086).opALUAccImm,
		classALURMImm:      (*CPU_8086).opALURMImm,
		classALURegRM:      (*CPU_8086).opALURegRM,
		classMovSegLeaPop:  (*CPU_8086).opMovSegLeaPop,
		classMovAccMem:     (*CPU_8086).opMovAccMem,
		classShift:         (*CPU_8086).opShift,
		classLoop:          (*CPU_8086).opLoop,
		classJumpCall:      (*CPU_8086).opJumpCall,
		classTestRegRM:     (*CPU_8086).opTestRegRM,
		classXchgAcc:       (*CPU_8086).opXchgAcc,
		classStringMove:    (*CPU_8086).opStringMove,
		classStringCompare: (*CPU_8086).opStringCompare,
		classReturn:        (*CPU_8086).opReturn,
		classMovRMImm:      (*CPU_8086).opMovRMImm,
		classIn:            (*CPU_8086).opIn,
		classOut:           (*CPU_8086).opOut,
		classRep:           (*CPU_8086).opRep,
		classXchgRegRM:     (*CPU_8086).opXchgRegRM,
		classPushSeg:       (*CPU_8086).opPushSeg,
		classPopSeg:        (*CPU_8086).opPopSeg,
		classSegOverride:   (*CPU_8086).opSegOverride,
		classDecimalAdjust: (*CPU_8086).opDecimalAdjust,
		classASCIIAdjust:   (*CPU_8086).opASCIIAdjust,
		classCBW:           (*CPU_8086).opCBW,
		classCWD:           (*CPU_8086).opCWD,
		classCallFar:       (*CPU_8086).opCallFar,
		classPushf:         (*CPU_8086).opPushf,
		classPopf:          (*CPU_8086).opPopf,
		classSahf:          (*CPU_8086).opSahf,
		classLahf:          (*CPU_8086).opLahf,
		classLoadFarPtr:    (*CPU_8086).opLoadFarPtr,
		classInt3:          (*CPU_8086).opInt3,
		classIntImm:        (*CPU_8086).opIntImm,
		classInto:          (*CPU_8086).opInto,
		classAAM:           (*CPU_8086).opAAM,
		classAAD:           (*CPU_8086).opAAD,
		classSalc:          (*CPU_8086).opSalc,
		classXlat:          (*CPU_8086).opXlat,
		classCmc:           (*CPU_8086).opCmc,
		classFlagOp:        (*CPU_8086).opFlagOp,
		classTestAccImm:    (*CPU_8086).opTestAccImm,
		classEmulator:      (*CPU_8086).opEmulator,
		classHlt:           (*CPU_8086).opHlt,
		classNop:           (*CPU_8086).opNop,
	}
}

// -----------------------------------------------------------------------------
// ALU
// -----------------------------------------------------------------------------

// alu applies one of the eight ALU operations (or MOV) to dst with src.
func (c *CPU_8086) alu(op int, dst ByteAddressable, src uint32) error {
	width := c.width()
	mask := widthMask(width)
	d := uint32(dst.Load()) & mask
	s := src & mask
	cf := boolBit(c.flags.Get(FlagCF))

	var r uint32
	var carry bool
	switch op {
	case aluADD:
		full := d + s
		r, carry = full&mask, full > mask
	case aluOR:
		r = d | s
	case aluADC:
		full := d + s + cf
		r, carry = full&mask, full > mask
	case aluSBB:
		r, carry = (d-s-cf)&mask, s+cf > d
	case aluAND:
		r = d & s
	case aluSUB, aluCMP:
		r, carry = (d-s)&mask, s > d
	case aluXOR:
		r = d ^ s
	case aluMOV:
		dst.Store(uint16(s))
		return nil
	default:
		return errors.Wrapf(ErrUnknownOperandShape, "ALU operation %d", op)
	}

	switch op {
	case aluADD, aluADC, aluSBB, aluSUB, aluCMP:
		c.flags.Set(FlagCF, carry)
	}
	if op != aluCMP {
		dst.Store(uint16(r))
	}
	c.record(s, d, r, carry, width)
	return nil
}

// incDec is INC/DEC: CF is left alone and AF/OF come from the ADC policy
// with the carry out of the top bit computed but not stored.
func (c *CPU_8086) incDec(op ByteAddressable, width int, dec bool) {
	mask := widthMask(width)
	d := uint32(op.Load()) & mask
	var r uint32
	var carry bool
	if dec {
		r, carry = (d-1)&mask, d == 0
	} else {
		r, carry = (d+1)&mask, d == mask
	}
	op.Store(uint16(r))
	c.record(1, d, r, carry, width)
	c.borrowFlagPolicy(flagOpcodeADC)
}

func (c *CPU_8086) opALUAccImm() error {
	acc, err := c.regs.Lookup(RegAX, c.ins.w)
	if err != nil {
		return err
	}
	return c.alu(int(c.ins.sub), acc, uint32(c.ins.data0))
}

// opALURMImm handles 80-83; the reg field picks the operation.
func (c *CPU_8086) opALURMImm() error {
	scratch := c.reg(RegScratch)
	scratch.Store(c.ins.data2)
	if c.ins.sub == immSignExtend {
		scratch.Store(uint16(int16(int8(c.ins.data2))))
	}
	c.borrowFlagPolicy(c.ins.reg << 3)
	return c.alu(int(c.ins.reg), c.ins.operands.Operand, uint32(scratch.Load()))
}

func (c *CPU_8086) opALURegRM() error {
	return c.alu(int(c.ins.sub), c.ins.operands.To, uint32(c.ins.operands.From.Load()))
}

func (c *CPU_8086) opTestRegRM() error {
	width := c.width()
	a := uint32(c.ins.operands.Operand.Load())
	b := uint32(c.ins.operands.Register.Load())
	c.record(b, a, a&b&widthMask(width), false, width)
	return nil
}

func (c *CPU_8086) opTestAccImm() error {
	width := c.width()
	acc, err := c.regs.Lookup(RegAX, c.ins.w)
	if err != nil {
		return err
	}
	a := uint32(acc.Load())
	imm := uint32(c.ins.data0)
	c.record(imm, a, a&imm&widthMask(width), false, width)
	return nil
}

func (c *CPU_8086) opIncDecReg() error {
	c.incDec(c.reg(c.ins.reg4), 2, c.ins.sub == 1)
	return nil
}

// -----------------------------------------------------------------------------
// Data Movement
// -----------------------------------------------------------------------------

func (c *CPU_8086) opMovRegImm() error {
	dst, err := c.regs.Lookup(c.ins.reg4, c.ins.w)
	if err != nil {
		return err
	}
	dst.Store(c.ins.data0)
	return nil
}

func (c *CPU_8086) opMovRMImm() error {
	c.ins.operands.Operand.Store(uint16(uint32(c.ins.data2) & widthMask(c.width())))
	return nil
}

// opMovSegLeaPop handles 8C MOV r/m,sreg, 8D LEA, 8E MOV sreg,r/m and 8F POP r/m.
func (c *CPU_8086) opMovSegLeaPop() error {
	switch c.ins.opcode & 3 {
	case 0, 2:
		res, err := c.resolveAs(true, RegES+int(c.ins.reg&3))
		if err != nil {
			return err
		}
		res.To.Store(res.From.Load())
	case 1:
		if !c.ins.operands.Memory {
			return errors.Wrap(ErrUnknownOperandShape, "LEA with a register operand")
		}
		c.reg(int(c.ins.reg)).Store(c.ins.operands.EffectiveOffset)
	case 3:
		c.ins.operands.Operand.Store(c.pop16())
	}
	return nil
}

// opMovAccMem handles A0-A3, moving between the accumulator and a direct offset.
func (c *CPU_8086) opMovAccMem() error {
	acc, err := c.regs.Lookup(RegAX, c.ins.w)
	if err != nil {
		return err
	}
	addr := c.linear(c.segment(RegDS), c.ins.data0)
	if c.ins.d {
		c.writeSized(addr, c.width(), uint32(acc.Load()))
	} else {
		acc.Store(uint16(c.readSized(addr, c.width())))
	}
	return nil
}

func (c *CPU_8086) opXchgAcc() error {
	ax := c.reg(RegAX)
	other := c.reg(c.ins.reg4)
	v := ax.Load()
	ax.Store(other.Load())
	other.Store(v)
	return nil
}

func (c *CPU_8086) opXchgRegRM() error {
	to, from := c.ins.operands.To, c.ins.operands.From
	a, b := to.Load(), from.Load()
	to.Store(b)
	from.Store(a)
	return nil
}

// opLoadFarPtr handles LES and LDS.
func (c *CPU_8086) opLoadFarPtr() error {
	segReg, err := c.subRegister()
	if err != nil {
		return err
	}
	off, seg, err := c.farPointer()
	if err != nil {
		return err
	}
	c.reg(int(c.ins.reg)).Store(off)
	c.reg(segReg).Store(seg)
	return nil
}

// farPointer reads the offset:segment pair a memory r/m operand points at.
func (c *CPU_8086) farPointer() (uint16, uint16, error) {
	if !c.ins.operands.Memory {
		return 0, 0, errors.Wrapf(ErrUnknownOperandShape, "far pointer in register %s", c.ins.operands.Operand.Name())
	}
	addr := c.ins.operands.Address.Offset()
	return c.read16(addr), c.read16(addr + 2), nil
}

func (c *CPU_8086) opXlat() error {
	al := c.regs.Byte(RegAL)
	offset := c.reg(RegBX).Load() + al.Load()
	al.Store(uint16(c.read8(c.linear(c.segment(RegDS), offset))))
	return nil
}

func (c *CPU_8086) opCBW() error {
	ah := c.regs.Byte(RegAH)
	if c.regs.Byte(RegAL).Load()&0x80 != 0 {
		ah.Store(0xFF)
	} else {
		ah.Store(0)
	}
	return nil
}

func (c *CPU_8086) opCWD() error {
	if c.reg(RegAX).Load()&0x8000 != 0 {
		c.reg(RegDX).Store(0xFFFF)
	} else {
		c.reg(RegDX).Store(0)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Stack
// -----------------------------------------------------------------------------

// opPushReg stores after decrementing SP, so PUSH SP pushes the new value
// as the 8086 does.
func (c *CPU_8086) opPushReg() error {
	sp := c.reg(RegSP)
	sp.Add(-2)
	c.write16(c.linear(RegSS, sp.Load()), c.reg(c.ins.reg4).Load())
	return nil
}

func (c *CPU_8086) opPopReg() error {
	v := c.pop16()
	c.reg(c.ins.reg4).Store(v)
	return nil
}

func (c *CPU_8086) opPushSeg() error {
	seg, err := c.subRegister()
	if err != nil {
		return err
	}
	c.push16(c.reg(seg).Load())
	return nil
}

func (c *CPU_8086) opPopSeg() error {
	seg, err := c.subRegister()
	if err != nil {
		return err
	}
	c.reg(seg).Store(c.pop16())
	return nil
}

func (c *CPU_8086) opPushf() error {
	c.push16(c.flagsWord())
	return nil
}

func (c *CPU_8086) opPopf() error {
	c.setFlagsWord(c.pop16())
	return nil
}

// -----------------------------------------------------------------------------
// Control Transfer
// -----------------------------------------------------------------------------

func (c *CPU_8086) jumpShort() {
	c.ins.nextIP += uint16(int16(int8(c.ins.data0)))
}

// opCondJump evaluates invert ^ (A || B || (C ^ D)) over the Jcc decode tables.
func (c *CPU_8086) opCondJump() error {
	idx := int(c.ins.opcode>>1) & 7
	t := c.tables
	a := c.jumpFlag(t.Lookup(TableCondJumpDecodeA, idx))
	b := c.jumpFlag(t.Lookup(TableCondJumpDecodeB, idx))
	cc := c.jumpFlag(t.Lookup(TableCondJumpDecodeC, idx))
	d := c.jumpFlag(t.Lookup(TableCondJumpDecodeD, idx))

	if (a || b || cc != d) != (c.ins.opcode&1 != 0) {
		c.jumpShort()
	}
	return nil
}

// opLoop handles E0 LOOPNZ, E1 LOOPZ, E2 LOOP and E3 JCXZ.
func (c *CPU_8086) opLoop() error {
	cx := c.reg(RegCX)
	var taken bool
	switch c.ins.opcode & 3 {
	case 0:
		cx.Add(-1)
		taken = cx.Load() != 0 && !c.flags.Get(FlagZF)
	case 1:
		cx.Add(-1)
		taken = cx.Load() != 0 && c.flags.Get(FlagZF)
	case 2:
		cx.Add(-1)
		taken = cx.Load() != 0
	case 3:
		taken = cx.Load() == 0
	}
	if taken {
		c.jumpShort()
	}
	return nil
}

// opJumpCall handles E8 CALL rel16, E9 JMP rel16, EA JMP ptr16:16 and EB JMP rel8.
func (c *CPU_8086) opJumpCall() error {
	switch c.ins.opcode & 3 {
	case 0:
		c.push16(c.ins.nextIP)
		c.ins.nextIP += c.ins.data0
	case 1:
		c.ins.nextIP += c.ins.data0
	case 2:
		c.reg(RegCS).Store(c.ins.data2)
		c.ins.nextIP = c.ins.data0
	case 3:
		c.jumpShort()
	}
	return nil
}

func (c *CPU_8086) opCallFar() error {
	c.push16(c.reg(RegCS).Load())
	c.push16(c.ins.nextIP)
	c.reg(RegCS).Store(c.ins.data2)
	c.ins.nextIP = c.ins.data0
	return nil
}

// opReturn handles RET, RETF (with and without imm16) and IRET.
func (c *CPU_8086) opReturn() error {
	c.ins.nextIP = c.pop16()
	if c.ins.sub != returnNear {
		c.reg(RegCS).Store(c.pop16())
	}
	if c.ins.sub&2 != 0 {
		c.setFlagsWord(c.pop16())
	} else if !c.ins.w {
		c.reg(RegSP).Add(int64(c.ins.data0))
	}
	return nil
}

func (c *CPU_8086) opInt3() error {
	return c.interruptFromInstruction(3)
}

func (c *CPU_8086) opIntImm() error {
	return c.interruptFromInstruction(byte(c.ins.data0))
}

func (c *CPU_8086) opInto() error {
	if c.flags.Get(FlagOF) {
		return c.interruptFromInstruction(4)
	}
	return nil
}

func (c *CPU_8086) opHlt() error {
	c.halt()
	return nil
}

func (c *CPU_8086) opNop() error {
	return nil
}

// -----------------------------------------------------------------------------
// Prefixes
// -----------------------------------------------------------------------------

// opRep latches REP for the next instruction. A pending segment override is
// stretched so both reach the same string instruction.
func (c *CPU_8086) opRep() error {
	c.repOverrideEn = 2
	c.repMode = c.ins.w
	if c.segOverrideEn > 0 {
		c.segOverrideEn++
	}
	return nil
}

func (c *CPU_8086) opSegOverride() error {
	seg, err := c.subRegister()
	if err != nil {
		return err
	}
	c.segOverrideEn = 2
	c.segOverride = seg
	if c.repOverrideEn > 0 {
		c.repOverrideEn++
	}
	return nil
}

// -----------------------------------------------------------------------------
// Flags and BCD
// -----------------------------------------------------------------------------

func (c *CPU_8086) opSahf() error {
	w := c.flagsWord()
	c.setFlagsWord(w&0xFF00 | c.regs.Byte(RegAH).Load())
	return nil
}

func (c *CPU_8086) opLahf() error {
	c.regs.Byte(RegAH).Store(c.flagsWord() & 0xFF)
	return nil
}

func (c *CPU_8086) opCmc() error {
	c.flags.Set(FlagCF, !c.flags.Get(FlagCF))
	return nil
}

// opFlagOp handles CLC STC CLI STI CLD STD; the sub-function is bit<<1|value.
func (c *CPU_8086) opFlagOp() error {
	c.flags.Set(int(c.ins.sub>>1), c.ins.sub&1 != 0)
	return nil
}

func (c *CPU_8086) opSalc() error {
	if c.flags.Get(FlagCF) {
		c.regs.Byte(RegAL).Store(0xFF)
	} else {
		c.regs.Byte(RegAL).Store(0)
	}
	return nil
}

// opDecimalAdjust handles DAA (sub 0) and DAS (sub 1).
func (c *CPU_8086) opDecimalAdjust() error {
	al := c.regs.Byte(RegAL)
	old := uint32(al.Load())
	oldCF := c.flags.Get(FlagCF)
	v := old

	if v&0x0F > 9 || c.flags.Get(FlagAF) {
		if c.ins.sub == 0 {
			v += 6
		} else {
			v -= 6
		}
		c.flags.Set(FlagAF, true)
	} else {
		c.flags.Set(FlagAF, false)
	}
	if old > 0x99 || oldCF {
		if c.ins.sub == 0 {
			v += 0x60
		} else {
			v -= 0x60
		}
		c.flags.Set(FlagCF, true)
	} else {
		c.flags.Set(FlagCF, false)
	}

	v &= 0xFF
	al.Store(uint16(v))
	c.record(0, old, v, false, 1)
	return nil
}

// opASCIIAdjust handles AAA (sub 0) and AAS (sub 1).
func (c *CPU_8086) opASCIIAdjust() error {
	al, ah := c.regs.Byte(RegAL), c.regs.Byte(RegAH)
	adjust := al.Load()&0x0F > 9 || c.flags.Get(FlagAF)
	if adjust {
		if c.ins.sub == 0 {
			al.Add(6)
			ah.Add(1)
		} else {
			al.Add(-6)
			ah.Add(-1)
		}
	}
	c.flags.Set(FlagAF, adjust)
	c.flags.Set(FlagCF, adjust)
	al.Store(al.Load() & 0x0F)
	return nil
}

func (c *CPU_8086) opAAM() error {
	base := byte(c.ins.data0)
	if base == 0 {
		return c.interruptFromInstruction(0)
	}
	al := byte(c.regs.Byte(RegAL).Load())
	q, r := al/base, al%base
	c.regs.Byte(RegAH).Store(uint16(q))
	c.regs.Byte(RegAL).Store(uint16(r))
	c.record(0, uint32(al), uint32(r), false, 1)
	return nil
}

func (c *CPU_8086) opAAD() error {
	base := byte(c.ins.data0)
	old := byte(c.regs.Byte(RegAL).Load())
	al := old + byte(c.regs.Byte(RegAH).Load())*base
	c.reg(RegAX).Store(uint16(al))
	c.record(0, uint32(old), uint32(al), false, 1)
	return nil
}

// -----------------------------------------------------------------------------
// Port I/O
// -----------------------------------------------------------------------------

func (c *CPU_8086) ioPort() uint16 {
	if c.ins.sub == portDX {
		return c.reg(RegDX).Load()
	}
	return c.ins.data0 & 0xFF
}

func (c *CPU_8086) opIn() error {
	port := c.ioPort()
	c.regs.Byte(RegAL).Store(uint16(c.bus.In(port)))
	if c.ins.w {
		c.regs.Byte(RegAH).Store(uint16(c.bus.In(port + 1)))
	}
	return nil
}

func (c *CPU_8086) opOut() error {
	port := c.ioPort()
	c.bus.Out(port, byte(c.regs.Byte(RegAL).Load()))
	if c.ins.w {
		c.bus.Out(port+1, byte(c.regs.Byte(RegAH).Load()))
	}
	return nil
}
