// memory_bus.go - Memory and port bus for the 8086 core

/*
 ██▓ ███▄    █ ▄▄▄█████▓ █    ██  ██▓▄▄▄█████▓ ██▓ ▒█████   ███▄    █    ▓█████  ███▄    █   ▄████  ██▓ ███▄    █ ▓█████
▓██▒ ██ ▀█   █ ▓  ██▒ ▓▒ ██  ▓██▒▓██▒▓  ██▒ ▓▒▓██▒▒██▒  ██▒ ██ ▀█   █    ▓█   ▀  ██ ▀█   █  ██▒ ▀█▒▓██▒ ██ ▀█   █ ▓█   ▀
▒██▒▓██  ▀█ ██▒▒ ▓██░ ▒░▓██  ▒██░▒██▒▒ ▓██░ ▒░▒██▒▒██░  ██▒▓██  ▀█ ██▒   ▒███   ▓██  ▀█ ██▒▒██░▄▄▄░▒██▒▓██  ▀█ ██▒▒███
░██░▓██▒  ▐▌██▒░ ▓██▓ ░ ▓▓█  ░██░░██░░ ▓██▓ ░ ░██░▒██   ██░▓██▒  ▐▌██▒   ▒▓█  ▄ ▓██▒  ▐▌██▒░▓█  ██▓░██░▓██▒  ▐▌██▒▒▓█  ▄
░██░▒██░   ▓██░  ▒██▒ ░ ▒▒█████▓ ░██░  ▒██▒ ░ ░██░░ ████▓▒░▒██░   ▓██░   ░▒████▒▒██░   ▓██░░▒▓███▀▒░██░▒██░   ▓██░░▒████▒
░▓  ░ ▒░   ▒ ▒   ▒ ░░   ░▒▓▒ ▒ ▒ ░▓    ▒ ░░   ░▓  ░ ▒░▒░▒░ ░ ▒░   ▒ ▒    ░░ ▒░ ░░ ▒░   ▒ ▒  ░▒   ▒ ░▓  ░ ▒░   ▒ ▒ ░░ ▒░ ░
 ▒ ░░ ░░   ░ ▒░    ░    ░░▒░ ░ ░  ▒ ░    ░     ▒ ░  ░ ▒ ▒░ ░ ░░   ░ ▒░    ░ ░  ░░ ░░   ░ ▒░  ░   ░  ▒ ░░ ░░   ░ ▒░ ░ ░  ░
 ▒ ░   ░   ░ ░   ░       ░░░ ░ ░  ▒ ░  ░       ▒ ░░ ░ ░ ▒     ░   ░ ░       ░      ░   ░ ░ ░ ░   ░  ▒ ░   ░   ░ ░    ░
 ░           ░             ░      ░            ░      ░ ░           ░       ░  ░         ░       ░  ░           ░    ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/IntuitionEngine
Buy me a coffee: https://ko-fi.com/intuition/tip

License: GPLv3 or later
*/

/*
memory_bus.go - Memory Bus for the 8086 core

The bus owns a flat byte array covering everything segment:offset can reach
(FFFF:FFFF lands on 0x10FFEF, so the array runs past 1MB) plus a separate
64K byte I/O port space.

Core Features:

    Byte-slice Read/Write with copy semantics: callers never alias bus memory.
    Little-endian 8/16-bit helpers for loaders and tests.
    Port ranges can be claimed by device callbacks, mirroring the page mapping
    used for memory-mapped I/O; unclaimed ports are plain latches.
    Accesses past the end of memory read as zero and drop writes.

Concurrency:

    A sync.RWMutex protects memory and ports. The CPU is the only writer while
    running; loaders and the host terminal touch the bus from other goroutines
    only before and after a run.
*/

package main

import (
	"encoding/binary"
	"sync"
)

const (
	// MEMORY_SIZE covers 0x00000..0x10FFEF plus a fetch window past the top.
	MEMORY_SIZE = 0x110000
	PORT_SPACE  = 0x10000
)

// Memory is the byte-addressable storage seen by the execution core.
type Memory interface {
	Read(offset, length uint32) []byte
	Write(data []byte, offset uint32)
}

// X86Bus adds the port space to Memory.
type X86Bus interface {
	Memory
	In(port uint16) byte
	Out(port uint16, value byte)
}

type SystemBus struct {
	/*
		SystemBus implements X86Bus.

		Port callbacks are consulted before the latch array; a port without
		a callback reads back the last value written to it.
	*/

	memory  []byte
	ports   [PORT_SPACE]byte
	mutex   sync.RWMutex
	portMap map[uint16]PortRegion
}

type PortRegion struct {
	start uint16
	end   uint16
	onIn  func(port uint16) byte
	onOut func(port uint16, value byte)
}

func NewSystemBus() *SystemBus {
	return &SystemBus{
		memory:  make([]byte, MEMORY_SIZE),
		portMap: make(map[uint16]PortRegion),
	}
}

func (bus *SystemBus) MapPorts(start, end uint16, onIn func(port uint16) byte, onOut func(port uint16, value byte)) {
	/*
		MapPorts claims the inclusive port range start..end. Either callback
		may be nil: a nil onIn falls back to the latch, a nil onOut still
		updates the latch.
	*/

	bus.mutex.Lock()
	defer bus.mutex.Unlock()

	region := PortRegion{start: start, end: end, onIn: onIn, onOut: onOut}
	for p := uint32(start); p <= uint32(end); p++ {
		bus.portMap[uint16(p)] = region
	}
}

func (bus *SystemBus) Read(offset, length uint32) []byte {
	/*
		Read returns a copy of length bytes starting at offset. Bytes beyond
		the end of memory read as zero.
	*/

	out := make([]byte, length)

	bus.mutex.RLock()
	defer bus.mutex.RUnlock()

	if offset < uint32(len(bus.memory)) {
		copy(out, bus.memory[offset:])
	}
	return out
}

func (bus *SystemBus) Write(data []byte, offset uint32) {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()

	if offset >= uint32(len(bus.memory)) {
		return
	}
	copy(bus.memory[offset:], data)
}

func (bus *SystemBus) Read8(addr uint32) byte {
	return bus.Read(addr, 1)[0]
}

func (bus *SystemBus) Write8(addr uint32, value byte) {
	bus.Write([]byte{value}, addr)
}

func (bus *SystemBus) Read16(addr uint32) uint16 {
	return binary.LittleEndian.Uint16(bus.Read(addr, 2))
}

func (bus *SystemBus) Write16(addr uint32, value uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], value)
	bus.Write(buf[:], addr)
}

func (bus *SystemBus) In(port uint16) byte {
	bus.mutex.RLock()
	region, mapped := bus.portMap[port]
	value := bus.ports[port]
	bus.mutex.RUnlock()

	if mapped && region.onIn != nil {
		return region.onIn(port)
	}
	return value
}

func (bus *SystemBus) Out(port uint16, value byte) {
	bus.mutex.Lock()
	bus.ports[port] = value
	region, mapped := bus.portMap[port]
	bus.mutex.Unlock()

	if mapped && region.onOut != nil {
		region.onOut(port, value)
	}
}

func (bus *SystemBus) Reset() {
	bus.mutex.Lock()
	defer bus.mutex.Unlock()

	for i := range bus.memory {
		bus.memory[i] = 0
	}
	for i := range bus.ports {
		bus.ports[i] = 0
	}
}
