// debug_conditions.go - Breakpoint condition parser and evaluator
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type ConditionOp int

const (
	CondOpEqual ConditionOp = iota
	CondOpNotEqual
	CondOpLess
	CondOpGreater
	CondOpLessEqual
	CondOpGreaterEqual
)

// Longer operators first so "<=" is not read as "<".
var conditionOps = []struct {
	text string
	op   ConditionOp
}{
	{"==", CondOpEqual},
	{"!=", CondOpNotEqual},
	{"<=", CondOpLessEqual},
	{">=", CondOpGreaterEqual},
	{"<", CondOpLess},
	{">", CondOpGreater},
}

type ConditionSource int

const (
	CondSourceRegister ConditionSource = iota
	CondSourceMemory
	CondSourceSteps
)

// BreakpointCondition compares a register, a memory byte or the retired
// instruction count against a constant.
type BreakpointCondition struct {
	Source  ConditionSource
	RegName string
	MemAddr uint64
	Op      ConditionOp
	Value   uint64
}

// ParseAddress accepts $hex, 0xhex, #decimal, bare hex and seg:off pairs.
// A seg:off pair yields the 20-bit physical address.
func ParseAddress(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	if seg, off, found := strings.Cut(s, ":"); found {
		segment, ok := ParseAddress(seg)
		if !ok || segment > 0xFFFF {
			return 0, false
		}
		offset, ok := ParseAddress(off)
		if !ok || offset > 0xFFFF {
			return 0, false
		}
		return uint64(NewPhysicalAddress(uint16(segment), uint16(offset)).Offset()), true
	}

	switch {
	case strings.HasPrefix(s, "#"):
		v, err := strconv.ParseUint(s[1:], 10, 64)
		return v, err == nil
	case strings.HasPrefix(s, "$"):
		v, err := strconv.ParseUint(s[1:], 16, 64)
		return v, err == nil
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		v, err := strconv.ParseUint(s[2:], 16, 64)
		return v, err == nil
	}
	v, err := strconv.ParseUint(s, 16, 64)
	return v, err == nil
}

// ParseCondition parses a condition string into a BreakpointCondition.
// Formats:
//
//	AX==$1234          - register AX, op ==, value 0x1234
//	[$7C00]==$EB       - memory byte at 0x7C00
//	[0000:7C00]!=$EB   - memory byte at segment:offset
//	steps>=#1000       - retired instruction count
func ParseCondition(text string) (*BreakpointCondition, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.Wrap(ErrConfiguration, "empty condition")
	}

	opIdx := -1
	var op ConditionOp
	var opLen int
	for _, candidate := range conditionOps {
		if idx := strings.Index(text, candidate.text); idx >= 0 {
			opIdx, op, opLen = idx, candidate.op, len(candidate.text)
			break
		}
	}
	if opIdx < 0 {
		return nil, errors.Wrapf(ErrConfiguration, "condition %q: no operator found (use ==, !=, <, >, <=, >=)", text)
	}

	lhs := strings.TrimSpace(text[:opIdx])
	rhs := strings.TrimSpace(text[opIdx+opLen:])

	value, ok := ParseAddress(rhs)
	if !ok {
		return nil, errors.Wrapf(ErrConfiguration, "condition %q: invalid value %s", text, rhs)
	}

	if strings.HasPrefix(lhs, "[") && strings.HasSuffix(lhs, "]") {
		addrStr := lhs[1 : len(lhs)-1]
		addr, ok := ParseAddress(addrStr)
		if !ok {
			return nil, errors.Wrapf(ErrConfiguration, "condition %q: invalid memory address %s", text, addrStr)
		}
		return &BreakpointCondition{Source: CondSourceMemory, MemAddr: addr, Op: op, Value: value}, nil
	}

	if strings.EqualFold(lhs, "steps") {
		return &BreakpointCondition{Source: CondSourceSteps, Op: op, Value: value}, nil
	}

	if lhs == "" {
		return nil, errors.Wrapf(ErrConfiguration, "condition %q: missing left-hand side", text)
	}
	return &BreakpointCondition{
		Source:  CondSourceRegister,
		RegName: strings.ToUpper(lhs),
		Op:      op,
		Value:   value,
	}, nil
}

// evaluateCondition checks a condition against cpu. steps feeds
// CondSourceSteps. A nil condition always holds.
func evaluateCondition(cond *BreakpointCondition, cpu DebuggableCPU, steps uint64) bool {
	if cond == nil {
		return true
	}

	var actual uint64
	switch cond.Source {
	case CondSourceRegister:
		val, ok := cpu.GetRegister(cond.RegName)
		if !ok {
			return false // unknown register - don't fire
		}
		actual = val
	case CondSourceMemory:
		data := cpu.ReadMemory(cond.MemAddr, 1)
		if len(data) == 0 {
			return false
		}
		actual = uint64(data[0])
	case CondSourceSteps:
		actual = steps
	}

	return compareValues(actual, cond.Op, cond.Value)
}

func compareValues(actual uint64, op ConditionOp, expected uint64) bool {
	switch op {
	case CondOpEqual:
		return actual == expected
	case CondOpNotEqual:
		return actual != expected
	case CondOpLess:
		return actual < expected
	case CondOpGreater:
		return actual > expected
	case CondOpLessEqual:
		return actual <= expected
	case CondOpGreaterEqual:
		return actual >= expected
	}
	return false
}

// ShouldStop makes a condition usable as a run loop stop predicate.
func (b *BreakpointCondition) ShouldStop(c *CPU_8086) (bool, error) {
	return evaluateCondition(b, NewDebug8086(c), c.Steps), nil
}

// FormatCondition returns a human-readable string for a condition.
func FormatCondition(cond *BreakpointCondition) string {
	if cond == nil {
		return ""
	}

	var lhs string
	switch cond.Source {
	case CondSourceRegister:
		lhs = cond.RegName
	case CondSourceMemory:
		lhs = fmt.Sprintf("[$%05X]", cond.MemAddr)
	case CondSourceSteps:
		lhs = "steps"
	}

	opStr := "?"
	for _, candidate := range conditionOps {
		if candidate.op == cond.Op {
			opStr = candidate.text
			break
		}
	}

	return fmt.Sprintf("%s%s$%X", lhs, opStr, cond.Value)
}
