// debug_interface.go - DebuggableCPU interface and register snapshot type
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// RegisterInfo describes a single CPU register for display.
type RegisterInfo struct {
	Name     string // "AX", "CS", "FLAGS"
	BitWidth int    // 8 or 16
	Value    uint64
	Group    string // "general", "segment", "pointer", "flags"
}

// DebuggableCPU is the inspection surface used by breakpoints, stop
// scripts and register dumps.
type DebuggableCPU interface {
	CPUName() string
	AddressWidth() int

	GetRegisters() []RegisterInfo
	GetRegister(name string) (uint64, bool)
	SetRegister(name string, value uint64) bool
	GetPC() uint64

	IsRunning() bool

	ReadMemory(addr uint64, size int) []byte
	WriteMemory(addr uint64, data []byte)
}

var _ DebuggableCPU = (*Debug8086)(nil)
