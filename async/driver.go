// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package async implements §5's optional asynchronous wrapper around the
// synchronous execution engine: cooperative cancellation within one
// invocation, gated by the seed-derived yield mask, and concurrent
// fan-out across independent invocations sharing a bounded worker count.
package async

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/probeum/vmshroud/seed"
	"github.com/probeum/vmshroud/subst"
	"github.com/probeum/vmshroud/vm"
	"github.com/probeum/vmshroud/xlog"
)

// Invocation is one unit of work for ExecuteBatch: an envelope, the bundle
// it was built under, the level it was built at, and the input bytes for
// this call.
type Invocation struct {
	Raw    []byte
	Bundle *seed.Bundle
	Level  subst.Level
	Input  []byte
}

// Result pairs an Invocation's outcome with its index in the original
// batch, since errgroup fan-out does not preserve completion order.
type Result struct {
	Index int
	Value uint64
	Err   error
}

// Execute runs raw to completion on a fresh state, checking ctx for
// cancellation every (bundle.YieldMask + 1) dispatched instructions rather
// than on every single one, matching the seed-derived yield cadence that
// masks the driver's cooperative-scheduling interval (§4.1 yield_mask,
// §5's async wrapper).
func Execute(ctx context.Context, raw []byte, bundle *seed.Bundle, level subst.Level, input []byte) (uint64, error) {
	st := vm.NewState(0, nil)
	return runYielding(ctx, st, raw, bundle, level, input)
}

// ExecuteNative is Execute with a host-call table, for callers whose
// compiled unit uses NATIVE_CALL.
func ExecuteNative(ctx context.Context, raw []byte, bundle *seed.Bundle, level subst.Level, input []byte, native vm.NativeTable) (uint64, error) {
	st := vm.NewState(0, native)
	return runYielding(ctx, st, raw, bundle, level, input)
}

func runYielding(ctx context.Context, st *vm.State, raw []byte, bundle *seed.Bundle, level subst.Level, input []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	bytecode, err := vm.Prepare(raw, bundle, level, st, input)
	if err != nil {
		return 0, err
	}
	tbl := bundle.OpcodeTbl
	every := uint64(st.YieldMask()) + 1

	for !st.Halted() {
		if f := st.Step(bytecode, tbl); f != nil {
			return 0, f
		}
		if st.InstructionCount()%every == 0 {
			if err := ctx.Err(); err != nil {
				xlog.Debug("async: invocation cancelled", "err", err, "instructions", st.InstructionCount())
				return 0, err
			}
		}
	}
	return st.Result(), nil
}

// ExecuteBatch runs every invocation in batch concurrently, capped at
// maxConcurrency simultaneous invocations (0 means errgroup's default of
// unbounded), each with its own isolated vm.State so no two invocations
// ever share a heap or register file. It returns one Result per input
// invocation, indexed to match batch, and stops launching new work (but
// lets already-started invocations finish) once ctx is cancelled.
func ExecuteBatch(ctx context.Context, batch []Invocation, maxConcurrency int) []Result {
	results := make([]Result, len(batch))
	g, gctx := errgroup.WithContext(context.Background())
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}
	for i, inv := range batch {
		i, inv := i, inv
		g.Go(func() error {
			select {
			case <-ctx.Done():
				results[i] = Result{Index: i, Err: ctx.Err()}
				return nil
			default:
			}
			v, err := Execute(gctx, inv.Raw, inv.Bundle, inv.Level, inv.Input)
			results[i] = Result{Index: i, Value: v, Err: err}
			return nil
		})
	}
	// Every g.Go closure above returns nil unconditionally and records its
	// own failure into results, so Wait's return is always nil and errgroup
	// does not cancel gctx while invocations run: a failing invocation does
	// not stop its siblings, and its failure shows only in its own Result.
	_ = g.Wait()
	return results
}
