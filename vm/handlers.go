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
	"math/bits"

	"github.com/probeum/vmshroud/opcode"
)

const minInt64 = -1 << 63

// handlerFunc is the shape of one dispatch-table entry: given the machine
// state (whose ip already points at the opcode byte just fetched) and the
// full code slice, it executes exactly one instruction, advancing s.ip (or
// setting s.halted) and returning nil on success.
type handlerFunc func(s *State, code []byte) *Fault

// handlers is the engine's dispatch table: one handlerFunc per Logical
// opcode, indexed directly by the decoded logical identity. It is built
// once at package init from the closed opcode enumeration and never
// mutated afterward, so every fetch-decode-execute cycle resolves its
// handler through a single slice index, not a comparison chain — the
// "plain function-pointer array... a single read-only region of the
// binary" dispatch §4.6 and §9 require. The table is independent of any
// particular build's byte encoding: that permutation lives entirely in
// opcode.Table, consulted once per fetch to turn a byte back into the
// Logical this table is indexed by.
var handlers = buildHandlerTable()

func buildHandlerTable() []handlerFunc {
	t := make([]handlerFunc, opcode.Count())

	// ---- Stack ------------------------------------------------------------
	t[opcode.PUSH_U64] = hPushU64
	t[opcode.PUSH_U32] = hPushU32
	t[opcode.POP] = hPop
	t[opcode.DUP] = hDup
	t[opcode.SWAP] = hSwap
	t[opcode.OVER] = hOver

	// ---- Arithmetic ---------------------------------------------------------
	t[opcode.ADD] = hAdd
	t[opcode.SUB] = hSub
	t[opcode.MUL] = hMul
	t[opcode.DIV] = hDiv
	t[opcode.IDIV] = hIdiv
	t[opcode.MOD] = hMod
	t[opcode.IMOD] = hImod
	t[opcode.NEG] = hNeg
	t[opcode.INC] = hInc
	t[opcode.DEC] = hDec

	// ---- Bitwise --------------------------------------------------------------
	t[opcode.AND] = hAnd
	t[opcode.OR] = hOr
	t[opcode.XOR] = hXor
	t[opcode.SHL] = hShl
	t[opcode.SHR] = hShr
	t[opcode.SAR] = hSar
	t[opcode.ROL] = hRol
	t[opcode.ROR] = hRor
	t[opcode.NOT] = hNot
	t[opcode.POPCNT] = hPopcnt
	t[opcode.CLZ] = hClz
	t[opcode.CTZ] = hCtz

	// ---- Comparison -------------------------------------------------------
	t[opcode.EQ] = hEq
	t[opcode.NE] = hNe
	t[opcode.LT] = hLt
	t[opcode.LE] = hLe
	t[opcode.GT] = hGt
	t[opcode.GE] = hGe
	t[opcode.ILT] = hIlt
	t[opcode.ILE] = hIle
	t[opcode.IGT] = hIgt
	t[opcode.IGE] = hIge

	// ---- Control --------------------------------------------------------------
	t[opcode.JMP] = hJmp
	t[opcode.JZ] = hJz
	t[opcode.JNZ] = hJnz
	t[opcode.CALL] = hCall
	t[opcode.RET] = hRet
	t[opcode.HALT] = hHalt

	// ---- Memory / registers ---------------------------------------------------
	t[opcode.LOAD_REG] = hLoadReg
	t[opcode.STORE_REG] = hStoreReg
	t[opcode.HEAP_ALLOC] = hHeapAlloc
	t[opcode.HEAP_FREE] = hHeapFree
	t[opcode.HEAP_LOAD] = hHeapLoad
	t[opcode.HEAP_STORE] = hHeapStore

	// ---- String / vector helpers ------------------------------------------------
	t[opcode.LEN] = hLen
	t[opcode.GET_IDX] = hGetIdx
	t[opcode.SET_IDX] = hSetIdx
	t[opcode.PUSH_ELT] = hPushElt
	t[opcode.POP_ELT] = hPopElt
	t[opcode.CONCAT] = hConcat
	t[opcode.HASH] = hHash
	t[opcode.EQ_BYTES] = hEqBytes
	t[opcode.IS_EMPTY] = hIsEmpty

	// ---- Casts --------------------------------------------------------------
	t[opcode.TRUNC_U8] = hTruncU8
	t[opcode.TRUNC_U16] = hTruncU16
	t[opcode.TRUNC_U32] = hTruncU32
	t[opcode.SEXT_I8] = hSextI8
	t[opcode.SEXT_I16] = hSextI16
	t[opcode.SEXT_I32] = hSextI32

	// ---- Host call ------------------------------------------------------------
	t[opcode.NATIVE_CALL] = hNativeCall

	// ---- Traps ------------------------------------------------------------------
	t[opcode.TRAP_UNREACHABLE] = hTrapUnreachable

	return t
}

// Step executes exactly the one instruction at s's current ip against
// code, using tbl to resolve this build's byte encoding. It is the
// primitive package async builds its cooperative-yield loop on top of;
// Run (engine.go) is the synchronous run-to-completion loop built on the
// same primitive.
func (s *State) Step(code []byte, tbl *opcode.Table) *Fault { return s.step(code, tbl) }

// step decodes the single instruction at s.ip against code, translates
// this build's opcode byte back to its Logical identity via tbl, and
// dispatches straight into the matching entry of handlers — a single
// indexed slice lookup plus one indirect call, never a comparison chain
// over the opcode space. decode is applied exactly once per fetch, as
// §4.6 requires.
//
// Stack conventions throughout mirror exactly what package compiler emits:
// binary operators pop right-then-left (so a op b reads as
// stack[-2] op stack[-1]); GET_IDX/SET_IDX/HEAP_STORE pop in the order the
// compiler pushed their operands. See literals.go's storeWord and
// expr.go's IndexExpr/AssignStmt lowering for the operand orders this
// mirrors.
func (s *State) step(code []byte, tbl *opcode.Table) *Fault {
	if s.ip >= uint32(len(code)) {
		return fault(JumpOutOfBounds, s.ip)
	}
	b := code[s.ip]
	logical, ok := tbl.Decode(b)
	if !ok {
		return fault(IllegalOpcode, s.ip)
	}
	h := handlers[logical]
	if h == nil {
		return fault(IllegalOpcode, s.ip)
	}
	if err := h(s, code); err != nil {
		return err
	}
	s.instrCount++
	return nil
}

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (s *State) needOperand(code []byte, start uint32, width int) *Fault {
	if uint64(start)+uint64(width) > uint64(len(code)) {
		return fault(JumpOutOfBounds, s.ip)
	}
	return nil
}

// ---- Stack ------------------------------------------------------------------

func hPushU64(s *State, code []byte) *Fault {
	opStart := s.ip + 1
	if err := s.needOperand(code, opStart, 8); err != nil {
		return err
	}
	if err := s.push(binary.LittleEndian.Uint64(code[opStart:])); err != nil {
		return err
	}
	s.ip = opStart + 8
	return nil
}

func hPushU32(s *State, code []byte) *Fault {
	opStart := s.ip + 1
	if err := s.needOperand(code, opStart, 4); err != nil {
		return err
	}
	if err := s.push(uint64(binary.LittleEndian.Uint32(code[opStart:]))); err != nil {
		return err
	}
	s.ip = opStart + 4
	return nil
}

func hPop(s *State, code []byte) *Fault {
	if _, err := s.pop(); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hDup(s *State, code []byte) *Fault {
	v, err := s.peek()
	if err != nil {
		return err
	}
	if err := s.push(v); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hSwap(s *State, code []byte) *Fault {
	b, err := s.pop()
	if err != nil {
		return err
	}
	a, err := s.pop()
	if err != nil {
		return err
	}
	if err := s.push(b); err != nil {
		return err
	}
	if err := s.push(a); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hOver(s *State, code []byte) *Fault {
	if len(s.stack) < 2 {
		return fault(StackUnderflow, s.ip)
	}
	v := s.stack[len(s.stack)-2]
	if err := s.push(v); err != nil {
		return err
	}
	s.ip++
	return nil
}

// ---- Arithmetic ---------------------------------------------------------------
//
// Every binary arithmetic handler pops b then a, so the result reads a op
// b, matching how the compiler stages left-then-right operands (§4.4's
// lowerBinary).

func popPair(s *State) (a, b uint64, err *Fault) {
	b, err = s.pop()
	if err != nil {
		return 0, 0, err
	}
	a, err = s.pop()
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func hAdd(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(a + b); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hSub(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(a - b); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hMul(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(a * b); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hDiv(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if b == 0 {
		return fault(DivideByZero, s.ip)
	}
	if err := s.push(a / b); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hIdiv(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if b == 0 {
		return fault(DivideByZero, s.ip)
	}
	if int64(a) == minInt64 && int64(b) == -1 {
		return fault(IntOverflowTrap, s.ip)
	}
	if err := s.push(uint64(int64(a) / int64(b))); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hMod(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if b == 0 {
		return fault(DivideByZero, s.ip)
	}
	if err := s.push(a % b); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hImod(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if b == 0 {
		return fault(DivideByZero, s.ip)
	}
	if int64(a) == minInt64 && int64(b) == -1 {
		return fault(IntOverflowTrap, s.ip)
	}
	if err := s.push(uint64(int64(a) % int64(b))); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hNeg(s *State, code []byte) *Fault {
	a, err := s.pop()
	if err != nil {
		return err
	}
	if a == uint64(minInt64) {
		return fault(IntOverflowTrap, s.ip)
	}
	if err := s.push(uint64(-int64(a))); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hInc(s *State, code []byte) *Fault {
	a, err := s.pop()
	if err != nil {
		return err
	}
	if err := s.push(a + 1); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hDec(s *State, code []byte) *Fault {
	a, err := s.pop()
	if err != nil {
		return err
	}
	if err := s.push(a - 1); err != nil {
		return err
	}
	s.ip++
	return nil
}

// ---- Bitwise ------------------------------------------------------------------
//
// Every binary bitwise handler shares hAdd's pop-b-then-a convention.

func hAnd(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(a & b); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hOr(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(a | b); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hXor(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(a ^ b); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hShl(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(a << (b & 63)); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hShr(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(a >> (b & 63)); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hSar(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(uint64(int64(a) >> (b & 63))); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hRol(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(bits.RotateLeft64(a, int(b&63))); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hRor(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(bits.RotateLeft64(a, -int(b&63))); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hNot(s *State, code []byte) *Fault {
	a, err := s.pop()
	if err != nil {
		return err
	}
	if err := s.push(^a); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hPopcnt(s *State, code []byte) *Fault {
	a, err := s.pop()
	if err != nil {
		return err
	}
	if err := s.push(uint64(bits.OnesCount64(a))); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hClz(s *State, code []byte) *Fault {
	a, err := s.pop()
	if err != nil {
		return err
	}
	if err := s.push(uint64(bits.LeadingZeros64(a))); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hCtz(s *State, code []byte) *Fault {
	a, err := s.pop()
	if err != nil {
		return err
	}
	if err := s.push(uint64(bits.TrailingZeros64(a))); err != nil {
		return err
	}
	s.ip++
	return nil
}

// ---- Comparison ---------------------------------------------------------------
//
// Every comparison handler shares hAdd's pop-b-then-a convention and
// pushes a bool word.

func hEq(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(boolWord(a == b)); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hNe(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(boolWord(a != b)); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hLt(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(boolWord(a < b)); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hLe(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(boolWord(a <= b)); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hGt(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(boolWord(a > b)); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hGe(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(boolWord(a >= b)); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hIlt(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(boolWord(int64(a) < int64(b))); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hIle(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(boolWord(int64(a) <= int64(b))); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hIgt(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(boolWord(int64(a) > int64(b))); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hIge(s *State, code []byte) *Fault {
	a, b, err := popPair(s)
	if err != nil {
		return err
	}
	if err := s.push(boolWord(int64(a) >= int64(b))); err != nil {
		return err
	}
	s.ip++
	return nil
}

// ---- Control --------------------------------------------------------------------

func hJmp(s *State, code []byte) *Fault {
	opStart := s.ip + 1
	if err := s.needOperand(code, opStart, 4); err != nil {
		return err
	}
	target := binary.LittleEndian.Uint32(code[opStart:])
	if target > uint32(len(code)) {
		return fault(JumpOutOfBounds, s.ip)
	}
	s.ip = target
	return nil
}

func condJump(s *State, code []byte, branchIf func(cond uint64) bool) *Fault {
	opStart := s.ip + 1
	if err := s.needOperand(code, opStart, 4); err != nil {
		return err
	}
	target := binary.LittleEndian.Uint32(code[opStart:])
	cond, err := s.pop()
	if err != nil {
		return err
	}
	if branchIf(cond) {
		if target > uint32(len(code)) {
			return fault(JumpOutOfBounds, s.ip)
		}
		s.ip = target
		return nil
	}
	s.ip = opStart + 4
	return nil
}

func hJz(s *State, code []byte) *Fault {
	return condJump(s, code, func(cond uint64) bool { return cond == 0 })
}

func hJnz(s *State, code []byte) *Fault {
	return condJump(s, code, func(cond uint64) bool { return cond != 0 })
}

func hCall(s *State, code []byte) *Fault {
	opStart := s.ip + 1
	if err := s.needOperand(code, opStart, 4); err != nil {
		return err
	}
	if uint32(len(s.calls)) >= s.callLimit {
		return fault(StackOverflow, s.ip)
	}
	target := binary.LittleEndian.Uint32(code[opStart:])
	s.calls = append(s.calls, opStart+4)
	if target > uint32(len(code)) {
		return fault(JumpOutOfBounds, s.ip)
	}
	s.ip = target
	return nil
}

func hRet(s *State, code []byte) *Fault {
	if len(s.calls) > 0 {
		s.ip = s.calls[len(s.calls)-1]
		s.calls = s.calls[:len(s.calls)-1]
		return nil
	}
	v, err := s.pop()
	if err != nil {
		return err
	}
	s.result = v
	s.halted = true
	return nil
}

func hHalt(s *State, code []byte) *Fault {
	v, err := s.pop()
	if err != nil {
		return err
	}
	s.result = v
	s.halted = true
	return nil
}

// ---- Memory / registers -----------------------------------------------------------

func hLoadReg(s *State, code []byte) *Fault {
	opStart := s.ip + 1
	if err := s.needOperand(code, opStart, 1); err != nil {
		return err
	}
	if err := s.push(s.regs[code[opStart]]); err != nil {
		return err
	}
	s.ip = opStart + 1
	return nil
}

func hStoreReg(s *State, code []byte) *Fault {
	opStart := s.ip + 1
	if err := s.needOperand(code, opStart, 1); err != nil {
		return err
	}
	v, err := s.pop()
	if err != nil {
		return err
	}
	s.regs[code[opStart]] = v
	s.ip = opStart + 1
	return nil
}

func hHeapAlloc(s *State, code []byte) *Fault {
	opStart := s.ip + 1
	if err := s.needOperand(code, opStart, 4); err != nil {
		return err
	}
	size := binary.LittleEndian.Uint32(code[opStart:])
	handle, herr := s.heap.Alloc(size)
	if herr != nil {
		herr.IP = s.ip
		return herr
	}
	if err := s.push(uint64(handle)); err != nil {
		return err
	}
	s.ip = opStart + 4
	return nil
}

func hHeapFree(s *State, code []byte) *Fault {
	h, err := s.pop()
	if err != nil {
		return err
	}
	if herr := s.heap.Free(uint32(h)); herr != nil {
		herr.IP = s.ip
		return herr
	}
	s.ip++
	return nil
}

func hHeapLoad(s *State, code []byte) *Fault {
	opStart := s.ip + 1
	if err := s.needOperand(code, opStart, 4); err != nil {
		return err
	}
	off := binary.LittleEndian.Uint32(code[opStart:])
	h, err := s.pop()
	if err != nil {
		return err
	}
	v, herr := s.heap.ReadByte(uint32(h), off)
	if herr != nil {
		herr.IP = s.ip
		return herr
	}
	if err := s.push(uint64(v)); err != nil {
		return err
	}
	s.ip = opStart + 4
	return nil
}

func hHeapStore(s *State, code []byte) *Fault {
	opStart := s.ip + 1
	if err := s.needOperand(code, opStart, 4); err != nil {
		return err
	}
	off := binary.LittleEndian.Uint32(code[opStart:])
	v, err := s.pop()
	if err != nil {
		return err
	}
	h, err := s.pop()
	if err != nil {
		return err
	}
	if herr := s.heap.WriteByte(uint32(h), off, byte(v)); herr != nil {
		herr.IP = s.ip
		return herr
	}
	s.ip = opStart + 4
	return nil
}

// ---- String / vector helpers -------------------------------------------------------

func hLen(s *State, code []byte) *Fault {
	h, err := s.pop()
	if err != nil {
		return err
	}
	n, herr := s.heap.Len(uint32(h))
	if herr != nil {
		herr.IP = s.ip
		return herr
	}
	if err := s.push(uint64(n)); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hGetIdx(s *State, code []byte) *Fault {
	idx, err := s.pop()
	if err != nil {
		return err
	}
	h, err := s.pop()
	if err != nil {
		return err
	}
	v, herr := s.heap.GetElement(uint32(h), uint32(idx))
	if herr != nil {
		herr.IP = s.ip
		return herr
	}
	if err := s.push(uint64(v)); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hSetIdx(s *State, code []byte) *Fault {
	idx, err := s.pop()
	if err != nil {
		return err
	}
	h, err := s.pop()
	if err != nil {
		return err
	}
	v, err := s.pop()
	if err != nil {
		return err
	}
	if herr := s.heap.SetElement(uint32(h), uint32(idx), byte(v)); herr != nil {
		herr.IP = s.ip
		return herr
	}
	s.ip++
	return nil
}

func hPushElt(s *State, code []byte) *Fault {
	v, err := s.pop()
	if err != nil {
		return err
	}
	h, err := s.pop()
	if err != nil {
		return err
	}
	if herr := s.heap.PushElement(uint32(h), byte(v)); herr != nil {
		herr.IP = s.ip
		return herr
	}
	s.ip++
	return nil
}

func hPopElt(s *State, code []byte) *Fault {
	h, err := s.pop()
	if err != nil {
		return err
	}
	v, herr := s.heap.PopElement(uint32(h))
	if herr != nil {
		herr.IP = s.ip
		return herr
	}
	if err := s.push(uint64(v)); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hConcat(s *State, code []byte) *Fault {
	b, err := s.pop()
	if err != nil {
		return err
	}
	a, err := s.pop()
	if err != nil {
		return err
	}
	handle, herr := s.heap.Concat(uint32(a), uint32(b))
	if herr != nil {
		herr.IP = s.ip
		return herr
	}
	if err := s.push(uint64(handle)); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hHash(s *State, code []byte) *Fault {
	h, err := s.pop()
	if err != nil {
		return err
	}
	v, herr := s.heap.HashBytes(uint32(h))
	if herr != nil {
		herr.IP = s.ip
		return herr
	}
	if err := s.push(v); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hEqBytes(s *State, code []byte) *Fault {
	b, err := s.pop()
	if err != nil {
		return err
	}
	a, err := s.pop()
	if err != nil {
		return err
	}
	eq, herr := s.heap.EqualBytes(uint32(a), uint32(b))
	if herr != nil {
		herr.IP = s.ip
		return herr
	}
	if err := s.push(boolWord(eq)); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hIsEmpty(s *State, code []byte) *Fault {
	h, err := s.pop()
	if err != nil {
		return err
	}
	n, herr := s.heap.Len(uint32(h))
	if herr != nil {
		herr.IP = s.ip
		return herr
	}
	if err := s.push(boolWord(n == 0)); err != nil {
		return err
	}
	s.ip++
	return nil
}

// ---- Casts ------------------------------------------------------------------------

func hTruncU8(s *State, code []byte) *Fault {
	v, err := s.pop()
	if err != nil {
		return err
	}
	if err := s.push(v & 0xFF); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hTruncU16(s *State, code []byte) *Fault {
	v, err := s.pop()
	if err != nil {
		return err
	}
	if err := s.push(v & 0xFFFF); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hTruncU32(s *State, code []byte) *Fault {
	v, err := s.pop()
	if err != nil {
		return err
	}
	if err := s.push(v & 0xFFFFFFFF); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hSextI8(s *State, code []byte) *Fault {
	v, err := s.pop()
	if err != nil {
		return err
	}
	if err := s.push(uint64(int64(int8(v)))); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hSextI16(s *State, code []byte) *Fault {
	v, err := s.pop()
	if err != nil {
		return err
	}
	if err := s.push(uint64(int64(int16(v)))); err != nil {
		return err
	}
	s.ip++
	return nil
}

func hSextI32(s *State, code []byte) *Fault {
	v, err := s.pop()
	if err != nil {
		return err
	}
	if err := s.push(uint64(int64(int32(v)))); err != nil {
		return err
	}
	s.ip++
	return nil
}

// ---- Host call ----------------------------------------------------------------------

func hNativeCall(s *State, code []byte) *Fault {
	opStart := s.ip + 1
	if err := s.needOperand(code, opStart, 3); err != nil {
		return err
	}
	slot := int(binary.LittleEndian.Uint16(code[opStart:]))
	argc := int(code[opStart+2])
	if slot < 0 || slot >= len(s.native) {
		return fault(NativeCallIndex, s.ip)
	}
	if len(s.stack) < argc {
		return fault(StackUnderflow, s.ip)
	}
	args := make([]uint64, argc)
	for i := argc - 1; i >= 0; i-- {
		v, err := s.pop()
		if err != nil {
			return err
		}
		args[i] = v
	}
	result, herr := s.native[slot](s, args)
	if herr != nil {
		herr.IP = s.ip
		return herr
	}
	if err := s.push(result); err != nil {
		return err
	}
	s.ip = opStart + 3
	return nil
}

// ---- Traps ------------------------------------------------------------------------

func hTrapUnreachable(s *State, code []byte) *Fault {
	return fault(NonExhaustiveMatch, s.ip)
}
