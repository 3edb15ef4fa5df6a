// cpu_8086.go - Table-driven Intel 8086 execution core
//
// This implements an 8086 whose decoder is data:
// - Instruction class, sub-function, length and flag policy come from the
//   decode tables shipped inside the firmware image
// - One handler per instruction class, dispatched through classOps
// - ModRM operands resolved through the firmware addressing tables
// - Segment override and REP prefixes carried across iterations as latches
// - Emulator hooks (0F xx) for console output, RTC and disk transfers
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/retroenv/retrogolib/log"
)

// Instruction classes, as stored in the XLAT_OPCODE table
const (
	classCondJump = iota
	classMovRegImm
	classIncDecReg
	classPushReg
	classPopReg
	classGroup5 // FE/FF
	classGroup3 // F6/F7
	classALUAccImm
	classALURMImm
	classALURegRM
	classMovSegLeaPop // 8C-8F
	classMovAccMem
	classShift
	classLoop
	classJumpCall
	classTestRegRM
	classXchgAcc
	classStringMove
	classStringCompare
	classReturn
	classMovRMImm
	classIn
	classOut
	classRep
	classXchgRegRM
	classPushSeg
	classPopSeg
	classSegOverride
	classDecimalAdjust
	classASCIIAdjust
	classCBW
	classCWD
	classCallFar
	classPushf
	classPopf
	classSahf
	classLahf
	classLoadFarPtr
	classInt3
	classIntImm
	classInto
	classAAM
	classAAD
	classSalc
	classXlat
	classCmc
	classFlagOp
	classTestAccImm
	classEmulator
	classHlt
	classNop

	numClasses

	classInvalid = 0xFF
)

var classNames = [numClasses]string{
	"Jcc", "MOV reg,imm", "INC/DEC reg", "PUSH reg", "POP reg",
	"group FE/FF", "group F6/F7", "ALU acc,imm", "ALU r/m,imm", "ALU r/m,reg",
	"MOV sreg/LEA/POP r/m", "MOV acc,moffs", "shift/rotate", "LOOP", "JMP/CALL",
	"TEST r/m,reg", "XCHG AX,reg", "MOVS/STOS/LODS", "CMPS/SCAS", "RET/IRET",
	"MOV r/m,imm", "IN", "OUT", "REP", "XCHG r/m,reg",
	"PUSH sreg", "POP sreg", "segment override", "DAA/DAS", "AAA/AAS",
	"CBW", "CWD", "CALL far", "PUSHF", "POPF",
	"SAHF", "LAHF", "LES/LDS", "INT 3", "INT imm",
	"INTO", "AAM", "AAD", "SALC", "XLAT",
	"CMC", "CLC/STC/CLI/STI/CLD/STD", "TEST acc,imm", "emulator 0F", "HLT",
	"NOP",
}

// className returns a readable name for an instruction class.
func className(class byte) string {
	if int(class) < numClasses {
		return classNames[class]
	}
	return "invalid"
}

// Sub-functions used by several classes
const (
	stringMOVS = 0
	stringSTOS = 1
	stringLODS = 2

	stringCMPS = 0
	stringSCAS = 1

	returnNear      = 0
	returnFar       = 1
	returnInterrupt = 3

	shiftByOneOrCL = 0
	shiftByImm     = 1

	portImmediate = 0
	portDX        = 1
)

// Flag policy sources borrowed by handlers whose own opcode has none
const (
	flagOpcodeADC = 0x10
	flagOpcodeAND = 0x20
	flagOpcodeSUB = 0x28
	flagOpcodeCMP = 0x38
)

// InstructionTracer sees every decoded instruction before it executes.
type InstructionTracer interface {
	TraceInstruction(c *CPU_8086)
}

// aluRecord is the (source, destination, result) triple flag updates work from.
type aluRecord struct {
	src    uint32
	dest   uint32
	result uint32
	carry  bool
	width  int
}

// instruction is the per-iteration decode state
type instruction struct {
	cs, ip     uint16
	opcode     byte
	class      byte
	sub        byte
	w, d       bool
	reg4       int
	data0      uint16
	data1      uint16
	data2      uint16
	hasModRM   bool
	mod        byte
	reg        byte
	rm         byte
	operands   Resolved
	length     uint16
	nextIP     uint16
	flagOpcode byte
	rec        aluRecord
	recorded   bool
}

// CPU_8086 is the execution engine
type CPU_8086 struct {
	regs     *RegisterFile
	flags    FlagsRegister
	tables   *DecodeTables
	bus      X86Bus
	resolver *AddressingResolver

	// Execution state
	Halted  bool
	running atomic.Bool
	Steps   uint64

	// Interrupt state
	irqPending  atomic.Bool
	irqVector   atomic.Uint32
	trapPending bool

	// Prefix latches; a prefix sets its counter to 2 and the loop decrements
	// it once per iteration, so it covers exactly the next instruction.
	segOverrideEn int
	segOverride   int
	repOverrideEn int
	repMode       bool // true for REPE/REPZ (F3), false for REPNE (F2)

	ins instruction

	classOps [numClasses]func(*CPU_8086) error

	Devices *Devices
	Tracer  InstructionTracer
	logger  *log.Logger
}

// NewCPU_8086 creates an engine over bus using tables for all decoding.
func NewCPU_8086(bus X86Bus, tables *DecodeTables) *CPU_8086 {
	c := &CPU_8086{
		bus:    bus,
		tables: tables,
		regs:   newRegisterFile(),
		logger: log.NewWithConfig(log.DefaultConfig()),
	}
	c.resolver = NewAddressingResolver(c.regs, tables, bus)
	c.initClassOps()
	c.Reset()
	return c
}

// SetLogger replaces the diagnostics logger.
func (c *CPU_8086) SetLogger(logger *log.Logger) {
	c.logger = logger
}

// Reset clears registers, flags and latches and points CS:IP at the firmware
// entry F000:0100.
func (c *CPU_8086) Reset() {
	c.regs.Reset()
	c.flags = FlagsRegister{}
	c.reg(RegCS).Store(biosSegment)
	c.reg(RegIP).Store(biosEntryOffset)

	c.segOverrideEn = 0
	c.segOverride = RegDS
	c.repOverrideEn = 0
	c.repMode = false
	c.trapPending = false
	c.irqPending.Store(false)
	c.irqVector.Store(0)

	c.Halted = false
	c.running.Store(true)
	c.Steps = 0
}

// Running returns the execution state (thread-safe)
func (c *CPU_8086) Running() bool {
	return c.running.Load()
}

// SetRunning sets the execution state (thread-safe)
func (c *CPU_8086) SetRunning(state bool) {
	c.running.Store(state)
}

// Registers exposes the register file.
func (c *CPU_8086) Registers() *RegisterFile {
	return c.regs
}

// Flags exposes the flags register.
func (c *CPU_8086) Flags() *FlagsRegister {
	return &c.flags
}

// SetEntry sets CS:IP.
func (c *CPU_8086) SetEntry(cs, ip uint16) {
	c.reg(RegCS).Store(cs)
	c.reg(RegIP).Store(ip)
}

// RaiseIRQ latches a hardware interrupt. It is delivered between instructions
// once IF is set and no prefix is pending. Safe to call from other goroutines.
func (c *CPU_8086) RaiseIRQ(vector byte) {
	c.irqVector.Store(uint32(vector))
	c.irqPending.Store(true)
}

// -----------------------------------------------------------------------------
// Execution Loop
// -----------------------------------------------------------------------------

// Step executes one instruction, including a prefix as an instruction of its
// own. A halted engine does nothing.
func (c *CPU_8086) Step() (err error) {
	if c.Halted {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(error)
			if !ok || !errors.Is(perr, ErrValueOutOfRange) {
				panic(r)
			}
			err = perr
		}
	}()

	cs := c.reg(RegCS).Load()
	ip := c.reg(RegIP).Load()
	if cs == 0 && ip == 0 {
		c.halt()
		return nil
	}

	if err := c.decode(cs, ip); err != nil {
		return err
	}
	if c.Tracer != nil {
		c.Tracer.TraceInstruction(c)
	}

	if err := c.classOps[c.ins.class](c); err != nil {
		return err
	}
	c.reg(RegIP).Store(c.ins.nextIP)

	if err := c.updateFlags(); err != nil {
		return err
	}
	c.Steps++
	return c.serviceInterrupts()
}

func (c *CPU_8086) halt() {
	c.Halted = true
	c.running.Store(false)
}

// decode fetches the opcode and its five-byte window, classifies it and
// resolves the ModRM operands.
func (c *CPU_8086) decode(cs, ip uint16) error {
	window := c.bus.Read(NewPhysicalAddress(cs, ip).Offset(), 6)
	op := window[0]
	t := c.tables

	in := &c.ins
	*in = instruction{
		cs:         cs,
		ip:         ip,
		opcode:     op,
		flagOpcode: op,
		class:      t.Lookup(TableXlatOpcode, int(op)),
		sub:        t.Lookup(TableXlatSubfunction, int(op)),
		w:          op&1 != 0,
		d:          op&2 != 0,
		reg4:       int(op & 7),
		data0:      binary.LittleEndian.Uint16(window[1:]),
		data1:      binary.LittleEndian.Uint16(window[2:]),
		data2:      binary.LittleEndian.Uint16(window[3:]),
	}
	if int(in.class) >= numClasses || c.classOps[in.class] == nil {
		return c.decodeError("no handler for instruction class")
	}

	switch in.class {
	case classMovRegImm:
		in.w = op&8 != 0
	case classIncDecReg, classXchgAcc, classPushReg, classPopReg:
		in.w = true
	}

	if c.segOverrideEn > 0 {
		c.segOverrideEn--
	}
	if c.repOverrideEn > 0 {
		c.repOverrideEn--
	}

	var dispBytes uint16
	if t.Lookup(TableIModSize, int(op)) != 0 {
		in.hasModRM = true
		modrm := window[1]
		in.mod = modrm >> 6
		in.reg = (modrm >> 3) & 7
		in.rm = modrm & 7

		switch {
		case in.mod == 0 && in.rm == 6, in.mod == 2:
			in.data2 = binary.LittleEndian.Uint16(window[4:])
			dispBytes = 2
		case in.mod == 1:
			in.data1 = uint16(int16(int8(window[2])))
			dispBytes = 1
		default:
			in.data2 = in.data1
		}

		res, err := c.resolver.Resolve(c.modrmInput(in.w, int(in.reg)))
		if err != nil {
			return errors.Wrapf(err, "opcode 0x%02X at %04X:%04X", op, cs, ip)
		}
		in.operands = res
	}

	w := uint16(0)
	if in.w {
		w = 1
	}
	in.length = dispBytes + uint16(t.Lookup(TableBaseInstSize, int(op))) + uint16(t.Lookup(TableIWSize, int(op)))*(w+1)
	in.nextIP = ip + in.length
	return nil
}

func (c *CPU_8086) modrmInput(word bool, reg int) ModRMInput {
	in := &c.ins
	mi := ModRMInput{
		Word:            word,
		Direction:       in.d,
		Mod:             in.mod,
		RM:              in.rm,
		Reg:             reg,
		Displacement:    in.data1,
		SegmentOverride: -1,
	}
	if c.segOverrideEn > 0 {
		mi.SegmentOverride = c.segOverride
	}
	return mi
}

// resolveAs re-runs ModRM resolution with a different width or reg number.
func (c *CPU_8086) resolveAs(word bool, reg int) (Resolved, error) {
	res, err := c.resolver.Resolve(c.modrmInput(word, reg))
	if err != nil {
		return Resolved{}, errors.Wrapf(err, "opcode 0x%02X at %04X:%04X", c.ins.opcode, c.ins.cs, c.ins.ip)
	}
	return res, nil
}

func (c *CPU_8086) decodeError(reason string) error {
	return &DecodeError{
		Opcode: c.ins.opcode,
		Class:  c.ins.class,
		CS:     c.ins.cs,
		IP:     c.ins.ip,
		Reason: reason,
	}
}

// serviceInterrupts delivers a pending single-step trap or hardware IRQ.
func (c *CPU_8086) serviceInterrupts() error {
	if c.trapPending {
		if err := c.interruptNow(1); err != nil {
			return err
		}
	}
	c.trapPending = c.flags.Get(FlagTF)

	if c.irqPending.Load() && c.flags.Get(FlagIF) && !c.flags.Get(FlagTF) &&
		c.segOverrideEn == 0 && c.repOverrideEn == 0 {
		c.irqPending.Store(false)
		return c.interruptNow(byte(c.irqVector.Load()))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Flags
// -----------------------------------------------------------------------------

// record stores the operation triple for the post-dispatch flag update.
// carry is the carry (or borrow) out of the top bit; OF is derived from it.
func (c *CPU_8086) record(src, dest, result uint32, carry bool, width int) {
	c.ins.rec = aluRecord{src: src, dest: dest, result: result, carry: carry, width: width}
	c.ins.recorded = true
}

// borrowFlagPolicy makes the flag update use another opcode's STD_FLAGS entry.
func (c *CPU_8086) borrowFlagPolicy(opcode byte) {
	c.ins.flagOpcode = opcode
}

func (c *CPU_8086) updateFlags() error {
	policy := c.tables.Lookup(TableStdFlags, int(c.ins.flagOpcode))
	if policy&flagsUpdateSZP == 0 || !c.ins.recorded {
		return nil
	}
	rec := c.ins.rec
	if err := c.setSZP(rec.result, rec.width); err != nil {
		return err
	}
	if policy&flagsUpdateArith != 0 {
		x := rec.src ^ rec.dest ^ rec.result
		c.flags.Set(FlagAF, x&0x10 != 0)
		if rec.result == rec.dest {
			c.flags.Set(FlagOF, false)
		} else {
			top := uint(rec.width*8 - 1)
			c.flags.Set(FlagOF, (boolBit(rec.carry)^(x>>top))&1 != 0)
		}
	}
	if policy&flagsUpdateLogic != 0 {
		c.flags.Set(FlagCF, false)
		c.flags.Set(FlagOF, false)
	}
	return nil
}

func (c *CPU_8086) setSZP(result uint32, width int) error {
	if width != 1 && width != 2 {
		return errors.Wrapf(ErrValueOutOfRange, "result width %d", width)
	}
	bits := uint(width * 8)
	c.flags.Set(FlagSF, (result>>(bits-1))&1 != 0)
	c.flags.Set(FlagZF, result&(1<<bits-1) == 0)
	c.flags.Set(FlagPF, c.tables.Lookup(TableParityFlag, int(result&0xFF)) != 0)
	return nil
}

// flagsWord packs the flags through the FLAGS_BITFIELDS table.
func (c *CPU_8086) flagsWord() uint16 {
	w := uint16(flagsReservedBits)
	for i := 0; i < numFlagSlots; i++ {
		bit := int(c.tables.Lookup(TableFlagsBitfields, i))
		if c.flags.Get(bit) {
			w |= 1 << bit
		}
	}
	return w
}

func (c *CPU_8086) setFlagsWord(w uint16) {
	for i := 0; i < numFlagSlots; i++ {
		bit := int(c.tables.Lookup(TableFlagsBitfields, i))
		c.flags.Set(bit, (w>>bit)&1 != 0)
	}
}

// jumpFlag reads a Jcc decode slot.
func (c *CPU_8086) jumpFlag(slot byte) bool {
	bit, ok := c.tables.flagBit(slot)
	return ok && c.flags.Get(bit)
}

func boolBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// -----------------------------------------------------------------------------
// Memory and Stack Helpers
// -----------------------------------------------------------------------------

func (c *CPU_8086) reg(i int) *Register {
	return c.regs.Word(i)
}

// subRegister returns the word register named by the XLAT_SUBFUNCTION entry
// of the current opcode (LES/LDS target, PUSH/POP sreg, segment override).
func (c *CPU_8086) subRegister() (int, error) {
	i := int(c.ins.sub)
	if i >= numWordRegisters {
		return 0, errors.Wrapf(ErrUnknownOperandShape, "opcode 0x%02X sub-function %d names a missing register", c.ins.opcode, i)
	}
	return i, nil
}

// width returns the operand width in bytes of the current instruction.
func (c *CPU_8086) width() int {
	if c.ins.w {
		return 2
	}
	return 1
}

func widthMask(width int) uint32 {
	return 1<<(uint(width)*8) - 1
}

// segment returns the override segment register when one is latched.
func (c *CPU_8086) segment(def int) int {
	if c.segOverrideEn > 0 {
		return c.segOverride
	}
	return def
}

func (c *CPU_8086) linear(seg int, offset uint16) uint32 {
	return NewPhysicalAddress(c.reg(seg).Load(), offset).Offset()
}

func (c *CPU_8086) read8(addr uint32) byte {
	return c.bus.Read(addr, 1)[0]
}

func (c *CPU_8086) read16(addr uint32) uint16 {
	return binary.LittleEndian.Uint16(c.bus.Read(addr, 2))
}

func (c *CPU_8086) write8(addr uint32, v byte) {
	c.bus.Write([]byte{v}, addr)
}

func (c *CPU_8086) write16(addr uint32, v uint16) {
	c.bus.Write([]byte{byte(v), byte(v >> 8)}, addr)
}

func (c *CPU_8086) readSized(addr uint32, width int) uint32 {
	if width == 1 {
		return uint32(c.read8(addr))
	}
	return uint32(c.read16(addr))
}

func (c *CPU_8086) writeSized(addr uint32, width int, v uint32) {
	if width == 1 {
		c.write8(addr, byte(v))
		return
	}
	c.write16(addr, uint16(v))
}

// push16 pushes a 16-bit value onto the stack
func (c *CPU_8086) push16(v uint16) {
	sp := c.reg(RegSP)
	sp.Add(-2)
	c.write16(c.linear(RegSS, sp.Load()), v)
}

// pop16 pops a 16-bit value from the stack
func (c *CPU_8086) pop16() uint16 {
	sp := c.reg(RegSP)
	sp.Add(2)
	return c.read16(c.linear(RegSS, sp.Load()-2))
}

// -----------------------------------------------------------------------------
// Interrupts
// -----------------------------------------------------------------------------

// interrupt pushes FLAGS, CS and returnIP, clears TF and IF and loads CS from
// the vector table. It returns the handler IP. A vector that still reads
// 0000:0000 has no handler and fails before anything is pushed.
func (c *CPU_8086) interrupt(vector byte, returnIP uint16) (uint16, error) {
	entry := uint32(vector) << 2
	newIP := c.read16(entry)
	newCS := c.read16(entry + 2)
	if newIP == 0 && newCS == 0 {
		return 0, c.decodeError(fmt.Sprintf("interrupt vector 0x%02X has no handler", vector))
	}

	c.push16(c.flagsWord())
	c.push16(c.reg(RegCS).Load())
	c.push16(returnIP)
	c.flags.Set(FlagTF, false)
	c.flags.Set(FlagIF, false)
	c.reg(RegCS).Store(newCS)
	return newIP, nil
}

// interruptFromInstruction delivers vector with the current instruction's
// successor as return address.
func (c *CPU_8086) interruptFromInstruction(vector byte) error {
	ip, err := c.interrupt(vector, c.ins.nextIP)
	if err != nil {
		return err
	}
	c.ins.nextIP = ip
	return nil
}

// interruptNow delivers vector between instructions.
func (c *CPU_8086) interruptNow(vector byte) error {
	ip, err := c.interrupt(vector, c.reg(RegIP).Load())
	if err != nil {
		return err
	}
	c.reg(RegIP).Store(ip)
	c.logger.Debug("Interrupt delivered", log.Uint8("vector", vector))
	return nil
}
