// cpu_8086_grp.go - Group opcodes, shifts and string instructions
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
)

// opGroup3 handles F6/F7: TEST imm, NOT, NEG, MUL, IMUL, DIV, IDIV.
func (c *CPU_8086) opGroup3() error {
	op := c.ins.operands.Operand
	width := c.width()
	mask := widthMask(width)
	v := uint32(op.Load()) & mask

	switch c.ins.reg {
	case 0, 1:
		// the immediate is not covered by the length tables
		imm := uint32(c.ins.data2) & mask
		c.ins.nextIP += uint16(width)
		c.record(imm, v, v&imm, false, width)
		c.borrowFlagPolicy(flagOpcodeAND)
	case 2:
		op.Store(uint16(^v & mask))
	case 3:
		r := (0 - v) & mask
		op.Store(uint16(r))
		c.flags.Set(FlagCF, v != 0)
		c.record(v, 0, r, v != 0, width)
		c.borrowFlagPolicy(flagOpcodeSUB)
	case 4:
		c.multiply(v, width, false)
	case 5:
		c.multiply(v, width, true)
	case 6:
		return c.divide(v, width, false)
	case 7:
		return c.divide(v, width, true)
	}
	return nil
}

// multiply sets CF and OF when the upper half of the product is significant.
func (c *CPU_8086) multiply(v uint32, width int, signed bool) {
	ax := c.reg(RegAX)
	var overflow bool

	if width == 1 {
		al := uint32(c.regs.Byte(RegAL).Load())
		if signed {
			p := int16(int8(al)) * int16(int8(v))
			ax.Store(uint16(p))
			overflow = p != int16(int8(p))
		} else {
			p := al * v
			ax.Store(uint16(p))
			overflow = p>>8 != 0
		}
	} else {
		dx := c.reg(RegDX)
		if signed {
			p := int32(int16(ax.Load())) * int32(int16(v))
			ax.Store(uint16(p))
			dx.Store(uint16(uint32(p) >> 16))
			overflow = p != int32(int16(p))
		} else {
			p := uint32(ax.Load()) * v
			ax.Store(uint16(p))
			dx.Store(uint16(p >> 16))
			overflow = p>>16 != 0
		}
	}
	c.flags.Set(FlagCF, overflow)
	c.flags.Set(FlagOF, overflow)
}

// divide raises INT 0 for a zero divisor or a quotient that does not fit.
func (c *CPU_8086) divide(v uint32, width int, signed bool) error {
	if v == 0 {
		return c.interruptFromInstruction(0)
	}
	ax := c.reg(RegAX)

	if width == 1 {
		if signed {
			n := int32(int16(ax.Load()))
			d := int32(int8(v))
			q, r := n/d, n%d
			if q > 127 || q < -128 {
				return c.interruptFromInstruction(0)
			}
			c.regs.Byte(RegAL).Store(uint16(uint8(q)))
			c.regs.Byte(RegAH).Store(uint16(uint8(r)))
			return nil
		}
		n := uint32(ax.Load())
		q, r := n/v, n%v
		if q > 0xFF {
			return c.interruptFromInstruction(0)
		}
		ax.Store(uint16(r<<8 | q))
		return nil
	}

	dx := c.reg(RegDX)
	n := uint32(dx.Load())<<16 | uint32(ax.Load())
	if signed {
		sn := int64(int32(n))
		d := int64(int16(v))
		q, r := sn/d, sn%d
		if q > 32767 || q < -32768 {
			return c.interruptFromInstruction(0)
		}
		ax.Store(uint16(q))
		dx.Store(uint16(r))
		return nil
	}
	q, r := n/v, n%v
	if q > 0xFFFF {
		return c.interruptFromInstruction(0)
	}
	ax.Store(uint16(q))
	dx.Store(uint16(r))
	return nil
}

// opGroup5 handles FE/FF: INC, DEC, CALL, CALL far, JMP, JMP far, PUSH.
// FE only defines INC and DEC.
func (c *CPU_8086) opGroup5() error {
	op := c.ins.operands.Operand
	if !c.ins.w && c.ins.reg > 1 {
		return c.decodeError(fmt.Sprintf("FE /%d", c.ins.reg))
	}

	switch c.ins.reg {
	case 0, 1:
		c.incDec(op, c.width(), c.ins.reg == 1)
	case 2:
		target := op.Load()
		c.push16(c.ins.nextIP)
		c.ins.nextIP = target
	case 3:
		off, seg, err := c.farPointer()
		if err != nil {
			return err
		}
		c.push16(c.reg(RegCS).Load())
		c.push16(c.ins.nextIP)
		c.reg(RegCS).Store(seg)
		c.ins.nextIP = off
	case 4:
		c.ins.nextIP = op.Load()
	case 5:
		off, seg, err := c.farPointer()
		if err != nil {
			return err
		}
		c.reg(RegCS).Store(seg)
		c.ins.nextIP = off
	case 6:
		c.push16(op.Load())
	default:
		return c.decodeError("FF /7")
	}
	return nil
}

// opShift handles the D0-D3 and C0/C1 rotate and shift group. Counts are
// masked to five bits; a zero count changes nothing.
func (c *CPU_8086) opShift() error {
	var count uint32
	switch {
	case c.ins.sub == shiftByImm:
		count = uint32(byte(c.ins.data2))
	case c.ins.d:
		count = uint32(c.regs.Byte(RegCL).Load())
	default:
		count = 1
	}
	count &= 0x1F
	if count == 0 {
		return nil
	}

	op := c.ins.operands.Operand
	width := c.width()
	bits := uint32(width * 8)
	mask := widthMask(width)
	top := uint32(1) << (bits - 1)
	v := uint32(op.Load()) & mask
	cf := c.flags.Get(FlagCF)
	var of, szp bool

	switch c.ins.reg {
	case 0: // ROL
		for i := uint32(0); i < count; i++ {
			cf = v&top != 0
			v = (v<<1 | boolBit(cf)) & mask
		}
		of = (v&top != 0) != cf
	case 1: // ROR
		for i := uint32(0); i < count; i++ {
			cf = v&1 != 0
			v = v>>1 | boolBit(cf)<<(bits-1)
		}
		of = (v&top != 0) != (v&(top>>1) != 0)
	case 2: // RCL
		for i := uint32(0); i < count; i++ {
			out := v&top != 0
			v = (v<<1 | boolBit(cf)) & mask
			cf = out
		}
		of = (v&top != 0) != cf
	case 3: // RCR
		for i := uint32(0); i < count; i++ {
			out := v&1 != 0
			v = v>>1 | boolBit(cf)<<(bits-1)
			cf = out
		}
		of = (v&top != 0) != (v&(top>>1) != 0)
	case 4, 6: // SHL, SAL
		for i := uint32(0); i < count; i++ {
			cf = v&top != 0
			v = (v << 1) & mask
		}
		of = (v&top != 0) != cf
		szp = true
	case 5: // SHR
		of = v&top != 0
		for i := uint32(0); i < count; i++ {
			cf = v&1 != 0
			v >>= 1
		}
		szp = true
	case 7: // SAR
		for i := uint32(0); i < count; i++ {
			cf = v&1 != 0
			v = v>>1 | v&top
		}
		szp = true
	}

	op.Store(uint16(v))
	c.flags.Set(FlagCF, cf)
	c.flags.Set(FlagOF, of)
	if szp {
		return c.setSZP(v, width)
	}
	return nil
}

// stringDelta is the per-element SI/DI step for the current width and DF.
func (c *CPU_8086) stringDelta() int64 {
	if c.flags.Get(FlagDF) {
		return -int64(c.width())
	}
	return int64(c.width())
}

// opStringMove handles MOVS, STOS and LODS. Under REP it repeats CX times
// and leaves CX at zero. The source segment honours an override, ES:DI
// never does.
func (c *CPU_8086) opStringMove() error {
	if c.ins.sub > stringLODS {
		return c.decodeError(fmt.Sprintf("string sub-function %d", c.ins.sub))
	}
	width := c.width()
	delta := c.stringDelta()
	si, di, cx := c.reg(RegSI), c.reg(RegDI), c.reg(RegCX)
	src := c.segment(RegDS)
	acc, err := c.regs.Lookup(RegAX, c.ins.w)
	if err != nil {
		return err
	}

	rep := c.repOverrideEn > 0
	count := uint32(1)
	if rep {
		count = uint32(cx.Load())
	}
	for ; count > 0; count-- {
		switch c.ins.sub {
		case stringMOVS:
			c.writeSized(c.linear(RegES, di.Load()), width, c.readSized(c.linear(src, si.Load()), width))
			si.Add(delta)
			di.Add(delta)
		case stringSTOS:
			c.writeSized(c.linear(RegES, di.Load()), width, uint32(acc.Load()))
			di.Add(delta)
		case stringLODS:
			acc.Store(uint16(c.readSized(c.linear(src, si.Load()), width)))
			si.Add(delta)
		}
	}
	if rep {
		cx.Store(0)
	}
	return nil
}

// opStringCompare handles CMPS and SCAS. Under REP it stops when CX reaches
// zero or when the zero-ness of the last comparison disagrees with the REP
// mode (REPE stops on a difference, REPNE on a match).
func (c *CPU_8086) opStringCompare() error {
	if c.ins.sub > stringSCAS {
		return c.decodeError(fmt.Sprintf("string sub-function %d", c.ins.sub))
	}
	width := c.width()
	mask := widthMask(width)
	delta := c.stringDelta()
	si, di, cx := c.reg(RegSI), c.reg(RegDI), c.reg(RegCX)
	src := c.segment(RegDS)
	acc, err := c.regs.Lookup(RegAX, c.ins.w)
	if err != nil {
		return err
	}

	rep := c.repOverrideEn > 0
	if rep && cx.Load() == 0 {
		return nil
	}
	for {
		var dest uint32
		if c.ins.sub == stringCMPS {
			dest = c.readSized(c.linear(src, si.Load()), width)
			si.Add(delta)
		} else {
			dest = uint32(acc.Load()) & mask
		}
		s := c.readSized(c.linear(RegES, di.Load()), width)
		di.Add(delta)

		r := (dest - s) & mask
		c.flags.Set(FlagCF, s > dest)
		c.record(s, dest, r, s > dest, width)

		if !rep {
			break
		}
		cx.Add(-1)
		if cx.Load() == 0 || (r == 0) != c.repMode {
			break
		}
	}
	c.borrowFlagPolicy(flagOpcodeCMP)
	return nil
}
