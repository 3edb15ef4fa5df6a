// physical_address.go - segment:offset to linear address
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "fmt"

const physicalAddressSize = 3

// PhysicalAddress is the 20-bit (plus the FFFF:FFFF carry) address produced by
// segment*16 + offset. It is never masked to 20 bits, so the highest
// reachable byte is 0x10FFEF.
type PhysicalAddress struct {
	BitContainer
}

func NewPhysicalAddress(segment, offset uint16) PhysicalAddress {
	p := PhysicalAddress{BitContainer: newFixedContainer(physicalAddressSize)}
	p.SetData(uint64(segment)<<4 + uint64(offset))
	return p
}

// Offset returns the linear address.
func (p PhysicalAddress) Offset() uint32 {
	return uint32(p.value)
}

func (p PhysicalAddress) String() string {
	return fmt.Sprintf("%05X", p.value)
}
