// cpu_8086_runner.go - 8086 machine runner
//
// Wires memory, firmware, disk drives and the console to the execution
// engine and drives the loop until HLT, an error or a stop condition.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/retroenv/retrogolib/log"
)

const (
	// Port 0xE9 echoes to the console, as on Bochs and QEMU.
	debugConsolePort = 0xE9

	// Host keystrokes land in the BIOS data area and raise INT 7.
	keyboardDataAddr = 0x4A6
	keyboardVector   = 7
	keyPollInterval  = 256
)

// StopReason tells why Run returned without an error.
type StopReason int

const (
	StopHalted StopReason = iota
	StopRequested
)

func (r StopReason) String() string {
	if r == StopHalted {
		return "halted"
	}
	return "stopped"
}

// Machine is one configured 8086 system.
type Machine struct {
	cfg    *MachineConfig
	bus    *SystemBus
	cpu    *CPU_8086
	debug  *Debug8086
	tracer *TraceLogger
	logger *log.Logger

	disks []*DiskImage
	until *LuaStopCondition
	brk   *BreakpointCondition
	keys  <-chan byte
}

// NewMachine loads the firmware and disk images named by cfg. Console output
// goes to terminal; it may be nil, in which case PUTCHAR fails.
func NewMachine(cfg *MachineConfig, terminal io.Writer, logger *log.Logger) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Machine{
		cfg:    cfg,
		bus:    NewSystemBus(),
		logger: logger,
	}
	if err := m.setup(terminal); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// setup loads firmware, disks and run options into a fresh machine. On error
// the caller closes whatever was opened.
func (m *Machine) setup(terminal io.Writer) error {
	cfg, logger := m.cfg, m.logger

	tables, err := LoadFirmwareFile(m.bus, cfg.BIOS)
	if err != nil {
		return err
	}
	m.cpu = NewCPU_8086(m.bus, tables)
	m.cpu.SetLogger(logger)
	m.debug = NewDebug8086(m.cpu)

	devices := &Devices{
		Terminal: terminal,
		Disks:    make(map[byte]BlockDevice),
	}
	m.cpu.Devices = devices

	bootDrive := uint16(driveFloppy)
	if cfg.Floppy != "" {
		if _, err := m.attachDisk(devices, driveFloppy, cfg.Floppy); err != nil {
			return err
		}
	}
	if cfg.HardDisk != "" {
		hd, err := m.attachDisk(devices, driveHard, cfg.HardDisk)
		if err != nil {
			return err
		}
		bootDrive = driveHard
		sectors := hd.Sectors()
		m.cpu.reg(RegAX).Store(uint16(sectors))
		m.cpu.reg(RegCX).Store(uint16(sectors >> 16))
	}
	m.cpu.regs.Byte(RegDL).Store(bootDrive)

	if terminal != nil {
		m.bus.MapPorts(debugConsolePort, debugConsolePort, nil, func(_ uint16, v byte) {
			_, _ = terminal.Write([]byte{v})
		})
	}

	if cfg.UntilScript != "" {
		if m.until, err = NewLuaStopConditionFile(cfg.UntilScript); err != nil {
			return err
		}
	}
	if cfg.Break != "" {
		if m.brk, err = ParseCondition(cfg.Break); err != nil {
			return err
		}
		logger.Debug("Breakpoint set", log.String("condition", FormatCondition(m.brk)))
	}
	if cfg.Trace {
		m.tracer = NewTraceLogger(logger, cfg.TraceRate)
		m.cpu.Tracer = m.tracer
	}

	logger.Debug("Machine ready",
		log.String("bios", cfg.BIOS),
		log.Uint8("boot_drive", byte(bootDrive)),
		log.Int("disks", len(m.disks)))
	return nil
}

func (m *Machine) attachDisk(devices *Devices, drive byte, path string) (*DiskImage, error) {
	img, err := OpenDiskImage(path)
	if err != nil {
		return nil, err
	}
	m.disks = append(m.disks, img)
	devices.Disks[drive] = img
	m.logger.Debug("Disk attached",
		log.Hex("drive", drive),
		log.String("image", path),
		log.Int("sectors", int(img.Sectors())))
	return img, nil
}

// CPU returns the execution engine.
func (m *Machine) CPU() *CPU_8086 {
	return m.cpu
}

// Debug returns the register inspection adapter.
func (m *Machine) Debug() *Debug8086 {
	return m.debug
}

// AttachKeyboard feeds host keystrokes to the guest.
func (m *Machine) AttachKeyboard(keys <-chan byte) {
	m.keys = keys
}

// Run executes until HLT, ctx cancellation or a configured stop condition
// (step limit, stop script, breakpoint) or one of extra holds. An engine
// error ends the run and is returned.
func (m *Machine) Run(ctx context.Context, extra ...StopCondition) (StopReason, error) {
	conds := AnyOf{ContextStop{Ctx: ctx}}
	if m.cfg.MaxSteps > 0 {
		conds = append(conds, StepLimit(m.cfg.MaxSteps))
	}
	if m.until != nil {
		conds = append(conds, m.until)
	}
	if m.brk != nil {
		conds = append(conds, m.brk)
	}
	conds = append(conds, extra...)

	reason, err := m.cpu.Run(conds, m.pollKeyboard)
	if m.tracer != nil && m.tracer.Dropped > 0 {
		m.logger.Debug("Trace lines dropped", log.Int("count", int(m.tracer.Dropped)))
	}
	if err != nil {
		return reason, errors.Wrapf(err, "after %d instructions", m.cpu.Steps)
	}
	return reason, nil
}

// pollKeyboard delivers at most one pending keystroke. Keys are dropped
// while the guest has not installed a keyboard handler.
func (m *Machine) pollKeyboard() {
	if m.keys == nil || m.cpu.Steps%keyPollInterval != 0 {
		return
	}
	select {
	case k := <-m.keys:
		if m.bus.Read16(keyboardVector*4) == 0 && m.bus.Read16(keyboardVector*4+2) == 0 {
			m.logger.Debug("Key dropped, no keyboard handler", log.Hex("key", k))
			return
		}
		m.bus.Write8(keyboardDataAddr, k)
		m.cpu.RaiseIRQ(keyboardVector)
	default:
	}
}

// Close releases disk images and the stop script.
func (m *Machine) Close() {
	if m == nil {
		return
	}
	for _, d := range m.disks {
		if err := d.Close(); err != nil {
			m.logger.Error("Closing disk image", log.String("image", d.Path()), log.Err(err))
		}
	}
	m.disks = nil
	if m.until != nil {
		m.until.Close()
		m.until = nil
	}
}

// Run steps the engine until it halts or stop reports true. between runs
// after every retired instruction and may be nil.
func (c *CPU_8086) Run(stop StopCondition, between func()) (StopReason, error) {
	c.running.Store(!c.Halted)
	defer c.running.Store(false)

	for !c.Halted {
		if err := c.Step(); err != nil {
			return StopRequested, err
		}
		if c.Halted {
			break
		}
		if between != nil {
			between()
		}
		if stop == nil {
			continue
		}
		done, err := stop.ShouldStop(c)
		if err != nil {
			return StopRequested, err
		}
		if done {
			return StopRequested, nil
		}
	}
	return StopHalted, nil
}
