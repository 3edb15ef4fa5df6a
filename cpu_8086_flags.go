// cpu_8086_flags.go - Flags register for the 8086 core
//
// Flags are held as sixteen independent boolean cells indexed by their bit
// position in the FLAGS word. The packed word form is only built when the
// guest pushes or pops flags, through the FLAGS_BITFIELDS decode table.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"strings"

	"github.com/pkg/errors"
)

// Flag cell indices.
const (
	FlagCF = 0
	FlagPF = 2
	FlagAF = 4
	FlagZF = 6
	FlagSF = 7
	FlagTF = 8
	FlagIF = 9
	FlagDF = 10
	FlagOF = 11

	numFlagCells = 16
)

// flagsReservedBits are always set in a pushed FLAGS word.
const flagsReservedBits = 0xF002

var flagNames = map[string]int{
	"CF": FlagCF,
	"PF": FlagPF,
	"AF": FlagAF,
	"ZF": FlagZF,
	"SF": FlagSF,
	"TF": FlagTF,
	"IF": FlagIF,
	"DF": FlagDF,
	"OF": FlagOF,
}

type FlagsRegister struct {
	cells [numFlagCells]bool
}

func checkFlagIndex(id int) {
	if id < 0 || id >= numFlagCells {
		panic(errors.Wrapf(ErrValueOutOfRange, "flag index %d", id))
	}
}

// Get reads flag cell id. An index outside 0..15 panics with ErrValueOutOfRange;
// the engine turns that into a returned error.
func (f *FlagsRegister) Get(id int) bool {
	checkFlagIndex(id)
	return f.cells[id]
}

func (f *FlagsRegister) Set(id int, v bool) {
	checkFlagIndex(id)
	f.cells[id] = v
}

func flagIndex(name string) int {
	id, ok := flagNames[strings.ToUpper(name)]
	if !ok {
		panic(errors.Wrapf(ErrValueOutOfRange, "flag name %q", name))
	}
	return id
}

func (f *FlagsRegister) GetByName(name string) bool {
	return f.cells[flagIndex(name)]
}

func (f *FlagsRegister) SetByName(name string, v bool) {
	f.cells[flagIndex(name)] = v
}

// Name returns the mnemonic for a cell, or "" for reserved cells.
func (f *FlagsRegister) Name(id int) string {
	for name, idx := range flagNames {
		if idx == id {
			return name
		}
	}
	return ""
}

// BitArray returns a copy of all sixteen cells.
func (f *FlagsRegister) BitArray() [numFlagCells]bool {
	return f.cells
}

func (f *FlagsRegister) LoadBitArray(bits [numFlagCells]bool) {
	f.cells = bits
}

// String renders the defined flags as o d i t s z a p c, upper case when set.
func (f *FlagsRegister) String() string {
	order := []struct {
		id int
		ch byte
	}{
		{FlagOF, 'o'}, {FlagDF, 'd'}, {FlagIF, 'i'}, {FlagTF, 't'},
		{FlagSF, 's'}, {FlagZF, 'z'}, {FlagAF, 'a'}, {FlagPF, 'p'}, {FlagCF, 'c'},
	}
	var sb strings.Builder
	for _, o := range order {
		ch := o.ch
		if f.cells[o.id] {
			ch -= 'a' - 'A'
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}
