// decode_tables.go - Firmware-resident decode tables
//
// The execution core carries no per-opcode knowledge of its own. Instruction
// class, sub-function, length components, flag policy, addressing terms and
// condition decoding are all read from twenty byte tables that live inside
// the firmware image. A pointer table at F000:0102 holds one 16-bit offset
// (relative to segment F000) per table.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Decode table ids, in pointer-table order.
const (
	TableRMReg1      = iota // mod 1/2: first base register per r/m
	TableRMReg2             // mod 1/2: second base register per r/m
	TableRMDisp             // mod 1/2: displacement multiplier per r/m
	TableRMSeg              // mod 1/2: default segment register per r/m
	TableRM0Reg1            // mod 0 variants of the four tables above
	TableRM0Reg2
	TableRM0Disp
	TableRM0Seg
	TableXlatOpcode      // opcode -> instruction class
	TableXlatSubfunction // opcode -> class sub-function
	TableStdFlags        // opcode -> flag update policy
	TableParityFlag      // byte -> 1 when it has even parity
	TableBaseInstSize    // opcode -> fixed instruction bytes
	TableIWSize          // opcode -> immediate size multiplier (times w+1)
	TableIModSize        // opcode -> 1 when a ModRM byte follows
	TableCondJumpDecodeA // Jcc condition terms, indexed by (opcode>>1)&7
	TableCondJumpDecodeB
	TableCondJumpDecodeC
	TableCondJumpDecodeD
	TableFlagsBitfields // FLAGS word bit position per flag slot

	numDecodeTables
)

// Flag policy bits in TableStdFlags.
const (
	flagsUpdateSZP   = 1
	flagsUpdateArith = 2 // AF and OF from the arithmetic record
	flagsUpdateLogic = 4 // CF and OF cleared
)

const (
	biosSegment       = 0xF000
	biosSegmentBase   = biosSegment << 4
	biosEntryOffset   = 0x0100
	biosLoadAddress   = biosSegmentBase + biosEntryOffset
	biosTablePointers = 0x81 // pointer i lives at word index 0x81+i of segment F000

	// jumpFlagSlotBase is the slot number of the first FLAGS_BITFIELDS entry
	// as stored in the Jcc decode tables.
	jumpFlagSlotBase = 40
	numFlagSlots     = 9
)

var decodeTableLengths = [numDecodeTables]int{
	8, 8, 8, 8, 8, 8, 8, 8,
	256, 256, 256, 256, 256, 256, 256,
	8, 8, 8, 8,
	10,
}

var decodeTableNames = [numDecodeTables]string{
	"RM_REG1", "RM_REG2", "RM_DISP", "RM_SEG",
	"RM0_REG1", "RM0_REG2", "RM0_DISP", "RM0_SEG",
	"XLAT_OPCODE", "XLAT_SUBFUNCTION", "STD_FLAGS", "PARITY_FLAG",
	"BASE_INST_SIZE", "I_W_SIZE", "I_MOD_SIZE",
	"COND_JUMP_DECODE_A", "COND_JUMP_DECODE_B", "COND_JUMP_DECODE_C", "COND_JUMP_DECODE_D",
	"FLAGS_BITFIELDS",
}

// DecodeTables is immutable once loaded.
type DecodeTables struct {
	tables [numDecodeTables][]byte
}

// tablePointerOffset returns the image offset of table id's pointer word for
// an image loaded at F000:0100.
func tablePointerOffset(id int) int {
	return (biosTablePointers+id)*2 - biosEntryOffset
}

// LoadDecodeTables parses the decode tables out of a firmware image that
// will be loaded at F000:0100.
func LoadDecodeTables(image []byte) (*DecodeTables, error) {
	if len(image) == 0 {
		return nil, errors.Wrap(ErrConfiguration, "firmware image is empty")
	}
	last := tablePointerOffset(numDecodeTables-1) + 2
	if len(image) < last {
		return nil, errors.Wrapf(ErrConfiguration, "firmware image is %d bytes, pointer table needs %d", len(image), last)
	}

	dt := &DecodeTables{}
	for id := 0; id < numDecodeTables; id++ {
		at := tablePointerOffset(id)
		ptr := int(binary.LittleEndian.Uint16(image[at : at+2]))
		start := ptr - biosEntryOffset
		end := start + decodeTableLengths[id]
		if start < 0 || end > len(image) {
			return nil, errors.Wrapf(ErrConfiguration, "table %s at F000:%04X lies outside the firmware image", decodeTableNames[id], ptr)
		}
		dt.tables[id] = append([]byte(nil), image[start:end]...)
	}
	return dt, nil
}

// Lookup returns entry index of table id. Indices past the end read as 0.
func (dt *DecodeTables) Lookup(id, index int) byte {
	t := dt.tables[id]
	if index < 0 || index >= len(t) {
		return 0
	}
	return t[index]
}

// Table returns a copy of table id.
func (dt *DecodeTables) Table(id int) []byte {
	return append([]byte(nil), dt.tables[id]...)
}

// Raw returns copies of every table in id order.
func (dt *DecodeTables) Raw() [][]byte {
	out := make([][]byte, numDecodeTables)
	for i := range dt.tables {
		out[i] = dt.Table(i)
	}
	return out
}

// flagBit maps a Jcc flag slot to a FLAGS bit position. Slots outside the
// bitfield table (the tables use 49) report ok=false and read as clear.
func (dt *DecodeTables) flagBit(slot byte) (int, bool) {
	n := int(slot) - jumpFlagSlotBase
	if n < 0 || n >= numFlagSlots {
		return 0, false
	}
	return int(dt.Lookup(TableFlagsBitfields, n)), true
}
