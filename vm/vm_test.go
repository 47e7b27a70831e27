// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/probeum/vmshroud/opcode"
)

// randReader adapts math/rand into the entropy-source io.Reader shape
// package opcode expects, mirroring opcode's own table_test.go helper.
type randReader struct{ r *rand.Rand }

func (rr randReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(rr.r.Intn(256))
	}
	return len(p), nil
}

func newTestTable(t *testing.T, seed int64) *opcode.Table {
	t.Helper()
	tbl, err := opcode.NewTable(randReader{rand.New(rand.NewSource(seed))})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tbl
}

// asm is a tiny hand-rolled assembler so tests can express bytecode as a
// sequence of logical instructions instead of raw bytes.
type asm struct {
	tbl *opcode.Table
	buf []byte
}

func newAsm(tbl *opcode.Table) *asm { return &asm{tbl: tbl} }

func (a *asm) op(l opcode.Logical) *asm {
	a.buf = append(a.buf, a.tbl.Encode(l))
	return a
}

func (a *asm) u8(l opcode.Logical, v uint8) *asm {
	a.buf = append(a.buf, a.tbl.Encode(l), v)
	return a
}

func (a *asm) u32(l opcode.Logical, v uint32) *asm {
	a.buf = append(a.buf, a.tbl.Encode(l))
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	a.buf = append(a.buf, tmp[:]...)
	return a
}

func (a *asm) u64(l opcode.Logical, v uint64) *asm {
	a.buf = append(a.buf, a.tbl.Encode(l))
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	a.buf = append(a.buf, tmp[:]...)
	return a
}

// native3 emits a NATIVE_CALL with its raw slot/argc operand bytes, the way
// compiler/expr.go's lowerHostCall does.
func (a *asm) native3(slot uint16, argc uint8) *asm {
	a.buf = append(a.buf, a.tbl.Encode(opcode.NATIVE_CALL), byte(slot), byte(slot>>8), argc)
	return a
}

func (a *asm) code() []byte { return a.buf }

func run(t *testing.T, tbl *opcode.Table, code []byte, native NativeTable) (uint64, *Fault) {
	t.Helper()
	st := NewState(0, native)
	st.Reset()
	for !st.halted {
		if f := st.step(code, tbl); f != nil {
			return 0, f
		}
		if st.instrCount > 100000 {
			t.Fatal("runaway test program")
		}
	}
	return st.result, nil
}

func TestArithmeticAndRet(t *testing.T) {
	tbl := newTestTable(t, 1)
	code := newAsm(tbl).
		u64(opcode.PUSH_U64, 7).
		u64(opcode.PUSH_U64, 35).
		op(opcode.ADD).
		op(opcode.RET).
		code()
	got, f := run(t, tbl, code, nil)
	if f != nil {
		t.Fatalf("unexpected fault: %v", f)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestDivideByZeroFaults(t *testing.T) {
	tbl := newTestTable(t, 2)
	code := newAsm(tbl).
		u64(opcode.PUSH_U64, 10).
		u64(opcode.PUSH_U64, 0).
		op(opcode.DIV).
		op(opcode.RET).
		code()
	_, f := run(t, tbl, code, nil)
	if f == nil || f.Kind != DivideByZero {
		t.Fatalf("got %v, want DivideByZero", f)
	}
}

func TestSignedDivideOverflowTraps(t *testing.T) {
	tbl := newTestTable(t, 3)
	code := newAsm(tbl).
		u64(opcode.PUSH_U64, uint64(minInt64)).
		u64(opcode.PUSH_U64, ^uint64(0)). // -1
		op(opcode.IDIV).
		op(opcode.RET).
		code()
	_, f := run(t, tbl, code, nil)
	if f == nil || f.Kind != IntOverflowTrap {
		t.Fatalf("got %v, want IntOverflowTrap", f)
	}
}

func TestBooleanNotVsBitwiseNot(t *testing.T) {
	tbl := newTestTable(t, 4)
	// !true, lowered the way lowerUnary's OpLogicalNot case does: push 1,
	// then XOR.
	logical := newAsm(tbl).
		u64(opcode.PUSH_U64, 1).
		u64(opcode.PUSH_U64, 1).
		op(opcode.XOR).
		op(opcode.RET).
		code()
	got, f := run(t, tbl, logical, nil)
	if f != nil {
		t.Fatalf("unexpected fault: %v", f)
	}
	if got != 0 {
		t.Fatalf("logical not of true: got %d, want 0", got)
	}

	bitwise := newAsm(tbl).
		u64(opcode.PUSH_U64, 1).
		op(opcode.NOT).
		op(opcode.RET).
		code()
	got, f = run(t, tbl, bitwise, nil)
	if f != nil {
		t.Fatalf("unexpected fault: %v", f)
	}
	if got != ^uint64(1) {
		t.Fatalf("bitwise not of 1: got %#x, want %#x", got, ^uint64(1))
	}
}

func TestHeapStoreLoadStringRoundTrip(t *testing.T) {
	tbl := newTestTable(t, 5)
	a := newAsm(tbl)
	a.u32(opcode.HEAP_ALLOC, 5) // 4-byte length prefix + 1 content byte
	// length prefix = 1, little-endian, one byte at a time (storeWord style)
	a.op(opcode.DUP).u64(opcode.PUSH_U64, 1).u32(opcode.HEAP_STORE, 0)
	a.op(opcode.DUP).u64(opcode.PUSH_U64, 0).u32(opcode.HEAP_STORE, 1)
	a.op(opcode.DUP).u64(opcode.PUSH_U64, 0).u32(opcode.HEAP_STORE, 2)
	a.op(opcode.DUP).u64(opcode.PUSH_U64, 0).u32(opcode.HEAP_STORE, 3)
	a.op(opcode.DUP).u64(opcode.PUSH_U64, 'Q').u32(opcode.HEAP_STORE, 4)
	// handle is still on the stack; index 0 should read back 'Q'
	a.u64(opcode.PUSH_U64, 0)
	a.op(opcode.GET_IDX)
	a.op(opcode.RET)

	got, f := run(t, tbl, a.code(), nil)
	if f != nil {
		t.Fatalf("unexpected fault: %v", f)
	}
	if got != 'Q' {
		t.Fatalf("got %d, want %d", got, int('Q'))
	}
}

func TestHeapFreeThenAccessIsBadHandle(t *testing.T) {
	tbl := newTestTable(t, 6)
	code := newAsm(tbl).
		u32(opcode.HEAP_ALLOC, 4).
		op(opcode.DUP).
		op(opcode.HEAP_FREE).
		op(opcode.LEN).
		op(opcode.RET).
		code()
	_, f := run(t, tbl, code, nil)
	if f == nil || f.Kind != BadHandle {
		t.Fatalf("got %v, want BadHandle", f)
	}
}

func TestNativeCallMarshalsArgsInOrder(t *testing.T) {
	tbl := newTestTable(t, 7)
	native := NativeTable{
		func(s *State, args []uint64) (uint64, *Fault) {
			// subtraction is order-sensitive, so this catches an arg-order bug.
			return args[0] - args[1], nil
		},
	}
	a := newAsm(tbl).
		u64(opcode.PUSH_U64, 100).
		u64(opcode.PUSH_U64, 58)
	a.native3(0, 2)
	a.op(opcode.RET)

	got, f := run(t, tbl, a.code(), native)
	if f != nil {
		t.Fatalf("unexpected fault: %v", f)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestUnknownNativeSlotFaults(t *testing.T) {
	tbl := newTestTable(t, 8)
	a := newAsm(tbl)
	a.native3(3, 0)
	a.op(opcode.RET)
	_, f := run(t, tbl, a.code(), nil)
	if f == nil || f.Kind != NativeCallIndex {
		t.Fatalf("got %v, want NativeCallIndex", f)
	}
}

func TestTrapUnreachableFaultsNonExhaustiveMatch(t *testing.T) {
	tbl := newTestTable(t, 9)
	code := newAsm(tbl).op(opcode.TRAP_UNREACHABLE).code()
	_, f := run(t, tbl, code, nil)
	if f == nil || f.Kind != NonExhaustiveMatch {
		t.Fatalf("got %v, want NonExhaustiveMatch", f)
	}
}

func TestEarlyReturnFreesHeapBindings(t *testing.T) {
	// Mirrors the compiler's convention: every exit path (here, a bare RET)
	// is preceded by HEAP_FREE for every binding still in scope, in reverse
	// order of introduction.
	tbl := newTestTable(t, 10)
	a := newAsm(tbl)
	a.u32(opcode.HEAP_ALLOC, 4)
	a.u8(opcode.STORE_REG, 10)
	a.u64(opcode.PUSH_U64, 0)
	a.u8(opcode.LOAD_REG, 10)
	a.op(opcode.HEAP_FREE)
	a.op(opcode.RET)

	st := NewState(0, nil)
	st.Reset()
	for !st.halted {
		if f := st.step(a.code(), tbl); f != nil {
			t.Fatalf("unexpected fault: %v", f)
		}
	}
	if n := st.heap.LiveCount(); n != 0 {
		t.Fatalf("expected 0 live handles after cleanup, got %d", n)
	}
}
