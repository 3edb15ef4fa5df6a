// debug_cpu_8086.go - 8086 debug adapter: register snapshots and instruction trace

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/retroenv/retrogolib/log"
	"golang.org/x/time/rate"
)

type Debug8086 struct {
	cpu *CPU_8086
}

func NewDebug8086(cpu *CPU_8086) *Debug8086 {
	return &Debug8086{cpu: cpu}
}

func (d *Debug8086) CPUName() string   { return "8086" }
func (d *Debug8086) AddressWidth() int { return 20 }

func (d *Debug8086) GetRegisters() []RegisterInfo {
	rf := d.cpu.regs
	word := func(i int, group string) RegisterInfo {
		r := rf.Word(i)
		return RegisterInfo{Name: r.Name(), BitWidth: 16, Value: uint64(r.Load()), Group: group}
	}
	return []RegisterInfo{
		word(RegAX, "general"),
		word(RegBX, "general"),
		word(RegCX, "general"),
		word(RegDX, "general"),
		word(RegSI, "pointer"),
		word(RegDI, "pointer"),
		word(RegBP, "pointer"),
		word(RegSP, "pointer"),
		word(RegIP, "pointer"),
		word(RegCS, "segment"),
		word(RegDS, "segment"),
		word(RegES, "segment"),
		word(RegSS, "segment"),
		{Name: "FLAGS", BitWidth: 16, Value: uint64(d.cpu.flagsWord()), Group: "flags"},
	}
}

// GetRegister accepts word and byte register names and FLAGS.
func (d *Debug8086) GetRegister(name string) (uint64, bool) {
	if strings.EqualFold(name, "FLAGS") {
		return uint64(d.cpu.flagsWord()), true
	}
	r, ok := d.cpu.regs.ByName(name)
	if !ok {
		return 0, false
	}
	return uint64(r.Load()), true
}

func (d *Debug8086) SetRegister(name string, value uint64) bool {
	if strings.EqualFold(name, "FLAGS") {
		d.cpu.setFlagsWord(uint16(value))
		return true
	}
	r, ok := d.cpu.regs.ByName(name)
	if !ok {
		return false
	}
	r.Store(uint16(value))
	return true
}

// GetPC returns the linear address of CS:IP.
func (d *Debug8086) GetPC() uint64 {
	return uint64(d.cpu.linear(RegCS, d.cpu.reg(RegIP).Load()))
}

func (d *Debug8086) IsRunning() bool {
	return d.cpu.Running()
}

func (d *Debug8086) ReadMemory(addr uint64, size int) []byte {
	return d.cpu.bus.Read(uint32(addr), uint32(size))
}

func (d *Debug8086) WriteMemory(addr uint64, data []byte) {
	d.cpu.bus.Write(data, uint32(addr))
}

// DumpRegisters writes a one-screen register summary.
func (d *Debug8086) DumpRegisters(w io.Writer) {
	regs := d.GetRegisters()
	for i, r := range regs[:len(regs)-1] {
		sep := "  "
		if i%4 == 3 {
			sep = "\n"
		}
		fmt.Fprintf(w, "%-2s=%04X%s", r.Name, r.Value, sep)
	}
	fmt.Fprintf(w, "\nFLAGS=%04X [%s]  steps=%d\n", d.cpu.flagsWord(), d.cpu.flags.String(), d.cpu.Steps)
}

// TraceLogger logs every decoded instruction at debug level. A positive
// rate caps the number of lines per second; the rest are counted as dropped.
type TraceLogger struct {
	logger  *log.Logger
	limiter *rate.Limiter
	Dropped uint64
}

func NewTraceLogger(logger *log.Logger, linesPerSecond float64) *TraceLogger {
	t := &TraceLogger{logger: logger}
	if linesPerSecond > 0 {
		burst := int(linesPerSecond)
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(linesPerSecond), burst)
	}
	return t
}

func (t *TraceLogger) TraceInstruction(c *CPU_8086) {
	if t.limiter != nil && !t.limiter.Allow() {
		t.Dropped++
		return
	}
	in := &c.ins
	t.logger.Debug("Execute",
		log.String("at", fmt.Sprintf("%04X:%04X", in.cs, in.ip)),
		log.Hex("opcode", in.opcode),
		log.String("class", className(in.class)),
		log.Uint16("length", in.length),
		log.Hex("ax", c.reg(RegAX).Load()),
		log.String("flags", c.flags.String()))
}
