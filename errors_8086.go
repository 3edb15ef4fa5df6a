// errors_8086.go - Fault kinds raised by the 8086 execution core
//
// Every fault is fatal to the run: the loop stops at the failing instruction and
// whatever that instruction already wrote stays written.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrUnimplementedOpcode is returned when an opcode classifies to an
	// instruction class (or sub-function) that has no handler.
	ErrUnimplementedOpcode = errors.New("unimplemented opcode")

	// ErrUnknownOperandShape is returned when a handler is given an operand
	// combination it cannot execute, e.g. a far jump through a register.
	ErrUnknownOperandShape = errors.New("unknown operand shape")

	// ErrValueOutOfRange signals a broken internal width invariant.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrConfiguration covers setup faults: missing or truncated firmware,
	// unsupported container widths, unreadable disk images.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotImplemented is returned by device hooks that have no backing device.
	ErrNotImplemented = errors.New("not implemented")
)

// DecodeError carries the diagnostics of a failed decode.
type DecodeError struct {
	Opcode byte
	Class  byte
	CS     uint16
	IP     uint16
	Reason string
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("opcode 0x%02X (class %d %s) at %04X:%04X", e.Opcode, e.Class, className(e.Class), e.CS, e.IP)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return ErrUnimplementedOpcode.Error() + ": " + msg
}

// Unwrap lets errors.Is match ErrUnimplementedOpcode.
func (e *DecodeError) Unwrap() error {
	return ErrUnimplementedOpcode
}
