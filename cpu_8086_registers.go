// cpu_8086_registers.go - Register file for the 8086 core
//
// Registers own their storage. Byte registers (AL..BH) own nothing: they are
// views onto one half of a parent word register, so a write to AH is visible
// through AX immediately and never disturbs AL.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"strings"

	"github.com/pkg/errors"
)

// Register numbers as used by the decode tables.
const (
	RegAX = iota
	RegCX
	RegDX
	RegBX
	RegSP
	RegBP
	RegSI
	RegDI
	RegES
	RegCS
	RegSS
	RegDS
	RegZero    // always reads 0; addressing terms with no register use it
	RegScratch // holds sign-extended immediates
	RegIP

	numWordRegisters
)

// Byte register numbers.
const (
	RegAL = iota
	RegCL
	RegDL
	RegBL
	RegAH
	RegCH
	RegDH
	RegBH

	numByteRegisters
)

var wordRegisterNames = [numWordRegisters]string{
	"AX", "CX", "DX", "BX", "SP", "BP", "SI", "DI",
	"ES", "CS", "SS", "DS", "ZERO", "SCRATCH", "IP",
}

var byteRegisterNames = [numByteRegisters]string{
	"AL", "CL", "DL", "BL", "AH", "CH", "DH", "BH",
}

// ByteAddressable is the common handle shape for register, byte-register and
// memory operands.
type ByteAddressable interface {
	Load() uint16
	Store(v uint16)
	Width() int
	Name() string
}

// Register is a named container that owns its storage.
type Register struct {
	BitContainer
	name     string
	readOnly bool
}

// NewRegister creates a register of size bytes.
func NewRegister(name string, size int) (*Register, error) {
	bc, err := NewBitContainer(size, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "register %s", name)
	}
	return &Register{BitContainer: *bc, name: name}, nil
}

func (r *Register) Load() uint16 {
	return uint16(r.value)
}

func (r *Register) Store(v uint16) {
	if r.readOnly {
		return
	}
	r.SetData(uint64(v))
}

func (r *Register) Width() int {
	return r.size
}

func (r *Register) Name() string {
	return r.name
}

// Half selects which half of a parent register a child views.
type Half int

const (
	LowHalf Half = iota
	HighHalf
)

// ChildRegister aliases one half of a parent register.
type ChildRegister struct {
	parent *Register
	half   Half
	name   string
}

// NewChildRegister binds a named view onto half of parent.
func NewChildRegister(name string, parent *Register, half Half) *ChildRegister {
	return &ChildRegister{parent: parent, half: half, name: name}
}

// Rebind points the view at a different parent or half.
func (c *ChildRegister) Rebind(parent *Register, half Half) {
	c.parent = parent
	c.half = half
}

// Parent returns the register this view reads through.
func (c *ChildRegister) Parent() *Register {
	return c.parent
}

func (c *ChildRegister) Load() uint16 {
	if c.half == HighHalf {
		return uint16(c.parent.High())
	}
	return uint16(c.parent.Low())
}

// Store writes the selected half and reassembles the parent from the
// untouched half.
func (c *ChildRegister) Store(v uint16) {
	bits := c.parent.halfBits()
	in := uint64(v) & c.parent.lowMask()
	if c.half == HighHalf {
		c.parent.SetData(in<<bits | c.parent.Low())
		return
	}
	c.parent.SetData(c.parent.EffectiveHigh() | in)
}

// Add adds i within the half. Carries never propagate into the other half.
func (c *ChildRegister) Add(i int64) {
	c.Store(uint16(int64(c.Load()) + i))
}

func (c *ChildRegister) Width() int {
	return c.parent.size / 2
}

func (c *ChildRegister) Name() string {
	return c.name
}

// RegisterFile holds the word registers and the byte views over AX..BX.
type RegisterFile struct {
	words [numWordRegisters]*Register
	bytes [numByteRegisters]*ChildRegister
}

func newRegisterFile() *RegisterFile {
	rf := &RegisterFile{}
	for i := range rf.words {
		rf.words[i] = &Register{BitContainer: newFixedContainer(2), name: wordRegisterNames[i]}
	}
	rf.words[RegZero].readOnly = true
	for i := range rf.bytes {
		half := LowHalf
		if i >= 4 {
			half = HighHalf
		}
		rf.bytes[i] = NewChildRegister(byteRegisterNames[i], rf.words[i&3], half)
	}
	return rf
}

// Word returns word register i.
func (rf *RegisterFile) Word(i int) *Register {
	return rf.words[i]
}

// Byte returns byte register i in AL CL DL BL AH CH DH BH order.
func (rf *RegisterFile) Byte(i int) *ChildRegister {
	return rf.bytes[i]
}

// Lookup resolves a register number as it appears in a ModRM reg or r/m
// field. Word numbers 8 and up reach the segment and internal registers.
func (rf *RegisterFile) Lookup(num int, word bool) (ByteAddressable, error) {
	if word {
		if num < 0 || num >= numWordRegisters {
			return nil, errors.Wrapf(ErrUnknownOperandShape, "word register %d", num)
		}
		return rf.words[num], nil
	}
	if num < 0 || num >= numByteRegisters {
		return nil, errors.Wrapf(ErrUnknownOperandShape, "byte register %d", num)
	}
	return rf.bytes[num], nil
}

// ByName finds a word or byte register by its case-insensitive name.
func (rf *RegisterFile) ByName(name string) (ByteAddressable, bool) {
	name = strings.ToUpper(name)
	for _, r := range rf.words {
		if r.name == name {
			return r, true
		}
	}
	for _, r := range rf.bytes {
		if r.name == name {
			return r, true
		}
	}
	return nil, false
}

// Reset zeroes every word register.
func (rf *RegisterFile) Reset() {
	for _, r := range rf.words {
		r.value = 0
	}
}
