// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"github.com/probeum/vmshroud/envelope"
	"github.com/probeum/vmshroud/seed"
	"github.com/probeum/vmshroud/subst"
	"github.com/probeum/vmshroud/xlog"
)

// DefaultMaxInstructions bounds a single invocation's instruction count as
// a backstop against a runaway program; it is not part of the closed
// fault taxonomy because exceeding it is a host policy decision, not a
// program error, so it is surfaced as a distinguished Fault(HostAbort).
const DefaultMaxInstructions = 10_000_000

// Prepare verifies raw under bundle at level (per envelope.Open's
// behavioral matrix), resets st for a fresh invocation, and seeds
// register 0 with a heap handle over input (ast.InputExpr's reserved
// register). It returns the recovered bytecode, ready to hand to
// st.Step or to Run. Callers that need to interleave stepping with their
// own scheduling (package async) call Prepare once and then drive st.Step
// themselves; Execute below is the synchronous convenience wrapper.
func Prepare(raw []byte, bundle *seed.Bundle, level subst.Level, st *State, input []byte) ([]byte, error) {
	bytecode, err := envelope.Open(raw, bundle, level)
	if err != nil {
		xlog.Debug("vm: envelope open failed", "err", err)
		return nil, err
	}
	st.Reset()
	st.yieldMask = bundle.YieldMask
	handle, herr := st.heap.Populate(input)
	if herr != nil {
		return nil, herr
	}
	st.regs[0] = uint64(handle)
	return bytecode, nil
}

// Run drives st to completion against bytecode using bundle's opcode
// table, enforcing DefaultMaxInstructions as a runaway backstop. It is
// the inner loop Execute uses; package async does not call it and drives
// st.Step itself.
func Run(st *State, bytecode []byte, bundle *seed.Bundle) (uint64, error) {
	return RunLimited(st, bytecode, bundle, DefaultMaxInstructions)
}

// RunLimited behaves like Run but lets the caller override the runaway
// backstop, e.g. from a buildcfg.Config.MaxInstructions setting. maxInstr
// of 0 falls back to DefaultMaxInstructions.
func RunLimited(st *State, bytecode []byte, bundle *seed.Bundle, maxInstr uint64) (uint64, error) {
	if maxInstr == 0 {
		maxInstr = DefaultMaxInstructions
	}
	tbl := bundle.OpcodeTbl
	for !st.halted {
		if st.instrCount >= maxInstr {
			return 0, fault(HostAbort, st.ip)
		}
		if f := st.step(bytecode, tbl); f != nil {
			xlog.Debug("vm: fault", "kind", f.Kind, "ip", f.IP)
			return 0, f
		}
	}
	if n := st.heap.LiveCount(); n != 0 {
		xlog.Warn("vm: invocation halted with live heap handles", "count", n)
	}
	return st.result, nil
}

// Execute opens raw under bundle at level, then runs the recovered
// bytecode against a freshly reset st to completion, returning the
// invocation's result word. input seeds register 0 (ast.InputExpr) as a
// heap handle, per the compiler's reserved-register convention.
//
// Execute surfaces two distinct failure shapes: an *envelope.LoadError if
// raw could not be verified, or a *Fault if the program itself trapped
// during execution. Both satisfy error.
func Execute(raw []byte, bundle *seed.Bundle, level subst.Level, st *State, input []byte) (uint64, error) {
	bytecode, err := Prepare(raw, bundle, level, st, input)
	if err != nil {
		return 0, err
	}
	return Run(st, bytecode, bundle)
}

// ExecuteLimited is Execute with an explicit instruction-count backstop,
// for callers (cmd/cryptvmc) threading a buildcfg.Config.MaxInstructions
// override through to the run loop.
func ExecuteLimited(raw []byte, bundle *seed.Bundle, level subst.Level, st *State, input []byte, maxInstr uint64) (uint64, error) {
	bytecode, err := Prepare(raw, bundle, level, st, input)
	if err != nil {
		return 0, err
	}
	return RunLimited(st, bytecode, bundle, maxInstr)
}
