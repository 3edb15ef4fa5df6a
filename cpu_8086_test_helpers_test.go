package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/retroenv/retrogolib/log"
)

const (
	testCodeOffset    = 0x1000
	testStackTop      = 0x8000
	testHandlerOffset = 0x3000
)

type cpu8086TestRig struct {
	bus  *SystemBus
	cpu  *CPU_8086
	term *bytes.Buffer
}

// newCPU8086TestRig builds an engine over the generated decode tables with
// code, data and stack all in segment 0.
func newCPU8086TestRig(t *testing.T) *cpu8086TestRig {
	t.Helper()
	return newCPU8086TestRigWithTables(t, BuildDecodeTables())
}

// newCPU8086TestRigWithTables is newCPU8086TestRig over caller-supplied
// tables, for exercising malformed firmware.
func newCPU8086TestRigWithTables(t *testing.T, tables *DecodeTables) *cpu8086TestRig {
	t.Helper()
	bus := NewSystemBus()
	cpu := NewCPU_8086(bus, tables)
	cpu.SetLogger(log.NewTestLogger(t))
	term := &bytes.Buffer{}
	cpu.Devices = &Devices{Terminal: term, Disks: make(map[byte]BlockDevice)}
	return &cpu8086TestRig{bus: bus, cpu: cpu, term: term}
}

func (r *cpu8086TestRig) load(program []byte) {
	r.bus.Write(program, testCodeOffset)
	r.cpu.SetEntry(0, testCodeOffset)
	r.cpu.reg(RegSS).Store(0)
	r.cpu.reg(RegSP).Store(testStackTop)
}

// setVector points vector at 0000:offset.
func (r *cpu8086TestRig) setVector(vector byte, offset uint16) {
	r.bus.Write16(uint32(vector)*4, offset)
	r.bus.Write16(uint32(vector)*4+2, 0)
}

// run steps until HLT and fails the test if that takes more than maxSteps.
func (r *cpu8086TestRig) run(t *testing.T, maxSteps int) {
	t.Helper()
	if err := r.runErr(maxSteps); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !r.cpu.Halted {
		t.Fatalf("not halted after %d steps, CS:IP=%04X:%04X", maxSteps, r.word(RegCS), r.word(RegIP))
	}
}

func (r *cpu8086TestRig) runErr(maxSteps int) error {
	for i := 0; i < maxSteps && !r.cpu.Halted; i++ {
		if err := r.cpu.Step(); err != nil {
			return err
		}
	}
	return nil
}

func (r *cpu8086TestRig) word(i int) uint16 {
	return r.cpu.reg(i).Load()
}

func (r *cpu8086TestRig) byteReg(i int) uint16 {
	return r.cpu.regs.Byte(i).Load()
}

func (r *cpu8086TestRig) flag(i int) bool {
	return r.cpu.flags.Get(i)
}

// memDisk is an in-memory block device.
type memDisk struct {
	data []byte
}

func (d *memDisk) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (d *memDisk) WriteAt(p []byte, off int64) (int, error) {
	if end := off + int64(len(p)); end > int64(len(d.data)) {
		d.data = append(d.data, make([]byte, end-int64(len(d.data)))...)
	}
	return copy(d.data[off:], p), nil
}
