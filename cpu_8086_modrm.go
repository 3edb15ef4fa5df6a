// cpu_8086_modrm.go - ModRM operand resolution
//
// Memory operands are formed from the firmware addressing tables: two base
// register numbers, a displacement multiplier and a default segment per r/m
// value, with a separate bank for mod 0. RegZero stands in for absent terms.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// ModRMInput is the decoded ModRM state handed to the resolver.
type ModRMInput struct {
	Word            bool
	Direction       bool // set: reg field is the destination
	Mod             byte
	RM              byte
	Reg             int    // register number for the reg operand; 8-11 reach the segment registers
	Displacement    uint16 // already sign-extended for mod 1
	SegmentOverride int    // -1 for none
}

// Resolved holds the operand handles of one ModRM instruction.
type Resolved struct {
	Operand  ByteAddressable // the r/m operand
	Register ByteAddressable // the reg operand
	From     ByteAddressable
	To       ByteAddressable

	Memory          bool
	EffectiveOffset uint16
	Segment         int
	Address         PhysicalAddress
}

type AddressingResolver struct {
	regs   *RegisterFile
	tables *DecodeTables
	mem    Memory
}

func NewAddressingResolver(regs *RegisterFile, tables *DecodeTables, mem Memory) *AddressingResolver {
	return &AddressingResolver{regs: regs, tables: tables, mem: mem}
}

// Resolve produces the r/m and reg handles. With mod 3 the r/m operand is
// the register selected by r/m and the displacement is ignored.
func (r *AddressingResolver) Resolve(in ModRMInput) (Resolved, error) {
	if in.Mod > 3 || in.RM > 7 {
		return Resolved{}, errors.Wrapf(ErrUnknownOperandShape, "mod %d r/m %d", in.Mod, in.RM)
	}

	var res Resolved
	regOp, err := r.regs.Lookup(in.Reg, in.Word)
	if err != nil {
		return Resolved{}, err
	}
	res.Register = regOp

	if in.Mod == 3 {
		if res.Operand, err = r.regs.Lookup(int(in.RM), in.Word); err != nil {
			return Resolved{}, err
		}
	} else {
		bank := 0
		if in.Mod == 0 {
			bank = TableRM0Reg1 - TableRMReg1
		}
		rm := int(in.RM)
		reg1 := int(r.tables.Lookup(TableRMReg1+bank, rm))
		reg2 := int(r.tables.Lookup(TableRMReg2+bank, rm))
		mult := r.tables.Lookup(TableRMDisp+bank, rm)
		seg := int(r.tables.Lookup(TableRMSeg+bank, rm))
		if reg1 >= numWordRegisters || reg2 >= numWordRegisters || seg >= numWordRegisters {
			return Resolved{}, errors.Wrapf(ErrUnknownOperandShape, "addressing table entry for r/m %d names a missing register", rm)
		}
		if in.SegmentOverride >= numWordRegisters {
			return Resolved{}, errors.Wrapf(ErrUnknownOperandShape, "segment override %d names a missing register", in.SegmentOverride)
		}
		if in.SegmentOverride >= 0 {
			seg = in.SegmentOverride
		}

		ea := r.regs.Word(reg1).Load() + r.regs.Word(reg2).Load() + uint16(mult)*in.Displacement
		addr := NewPhysicalAddress(r.regs.Word(seg).Load(), ea)
		width := 1
		if in.Word {
			width = 2
		}
		res.Operand = &memoryOperand{mem: r.mem, addr: addr, width: width}
		res.Memory = true
		res.EffectiveOffset = ea
		res.Segment = seg
		res.Address = addr
	}

	if in.Direction {
		res.From, res.To = res.Operand, res.Register
	} else {
		res.From, res.To = res.Register, res.Operand
	}
	return res, nil
}

// memoryOperand is a byte or word at a fixed physical address.
type memoryOperand struct {
	mem   Memory
	addr  PhysicalAddress
	width int
}

func (m *memoryOperand) Load() uint16 {
	b := m.mem.Read(m.addr.Offset(), uint32(m.width))
	if m.width == 1 {
		return uint16(b[0])
	}
	return binary.LittleEndian.Uint16(b)
}

func (m *memoryOperand) Store(v uint16) {
	if m.width == 1 {
		m.mem.Write([]byte{byte(v)}, m.addr.Offset())
		return
	}
	m.mem.Write([]byte{byte(v), byte(v >> 8)}, m.addr.Offset())
}

func (m *memoryOperand) Width() int {
	return m.width
}

func (m *memoryOperand) Name() string {
	return fmt.Sprintf("[%s]", m.addr)
}
