// stop_condition.go - Run-loop stop predicates: step limit, context, Lua
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"context"

	"github.com/pkg/errors"
	lua "github.com/yuin/gopher-lua"
)

// StopCondition is polled by the run loop after every instruction.
type StopCondition interface {
	ShouldStop(c *CPU_8086) (bool, error)
}

// StopFunc adapts a plain function to StopCondition.
type StopFunc func(c *CPU_8086) (bool, error)

func (f StopFunc) ShouldStop(c *CPU_8086) (bool, error) {
	return f(c)
}

// StepLimit stops once the engine has retired n instructions.
type StepLimit uint64

func (n StepLimit) ShouldStop(c *CPU_8086) (bool, error) {
	return c.Steps >= uint64(n), nil
}

// ContextStop stops when ctx is cancelled. The context error is not treated
// as a run failure.
type ContextStop struct {
	Ctx context.Context
}

func (s ContextStop) ShouldStop(*CPU_8086) (bool, error) {
	select {
	case <-s.Ctx.Done():
		return true, nil
	default:
		return false, nil
	}
}

// AnyOf stops when any of its conditions does. Nil entries are skipped.
type AnyOf []StopCondition

func (a AnyOf) ShouldStop(c *CPU_8086) (bool, error) {
	for _, cond := range a {
		if cond == nil {
			continue
		}
		stop, err := cond.ShouldStop(c)
		if err != nil || stop {
			return stop, err
		}
	}
	return false, nil
}

// luaStopFunction is the global a stop script must define. It receives a
// table of register values keyed by name (AX, AL, CS, IP, FLAGS, STEPS, ...).
const luaStopFunction = "should_stop"

// LuaStopCondition evaluates a Lua predicate after each instruction.
type LuaStopCondition struct {
	L     *lua.LState
	fn    lua.LValue
	regs  *lua.LTable
	debug *Debug8086
}

// NewLuaStopConditionFile loads a stop script from path.
func NewLuaStopConditionFile(path string) (*LuaStopCondition, error) {
	L := lua.NewState()
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, errors.Wrapf(ErrConfiguration, "stop script %s: %v", path, err)
	}
	return newLuaStopCondition(L)
}

// NewLuaStopConditionString compiles a stop script from source.
func NewLuaStopConditionString(src string) (*LuaStopCondition, error) {
	L := lua.NewState()
	if err := L.DoString(src); err != nil {
		L.Close()
		return nil, errors.Wrapf(ErrConfiguration, "stop script: %v", err)
	}
	return newLuaStopCondition(L)
}

func newLuaStopCondition(L *lua.LState) (*LuaStopCondition, error) {
	fn := L.GetGlobal(luaStopFunction)
	if fn.Type() != lua.LTFunction {
		L.Close()
		return nil, errors.Wrapf(ErrConfiguration, "stop script does not define %s(regs)", luaStopFunction)
	}
	return &LuaStopCondition{L: L, fn: fn, regs: L.NewTable()}, nil
}

func (s *LuaStopCondition) ShouldStop(c *CPU_8086) (bool, error) {
	if s.debug == nil || s.debug.cpu != c {
		s.debug = NewDebug8086(c)
	}
	for _, r := range s.debug.GetRegisters() {
		s.L.SetField(s.regs, r.Name, lua.LNumber(r.Value))
	}
	for i := 0; i < numByteRegisters; i++ {
		b := c.regs.Byte(i)
		s.L.SetField(s.regs, b.Name(), lua.LNumber(b.Load()))
	}
	s.L.SetField(s.regs, "STEPS", lua.LNumber(c.Steps))

	err := s.L.CallByParam(lua.P{Fn: s.fn, NRet: 1, Protect: true}, s.regs)
	if err != nil {
		return false, errors.Wrap(err, "stop script")
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	return lua.LVAsBool(ret), nil
}

func (s *LuaStopCondition) Close() {
	s.L.Close()
}
