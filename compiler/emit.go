// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package compiler

import (
	"encoding/binary"

	"github.com/probeum/vmshroud/opcode"
	"github.com/probeum/vmshroud/subst"
)

// fixup records a forward jump whose 32-bit offset operand could not be
// written at emission time because its target label had not been bound yet.
type fixup struct {
	pos   int // byte offset of the 4-byte operand to patch
	label int
}

// loopFrame is one entry in the "loop stack holding {continue-label,
// break-label, entry-scope-depth}" (§4.4).
type loopFrame struct {
	continueLabel int
	breakLabel    int
	entryDepth    int
}

// emitter is the compiler's mutable emission state (§4.4's "Emission
// state" paragraph): output buffer, scope stack, fixup list, loop stack,
// substitution stream cursor, and heap-allocation counter.
type emitter struct {
	tbl     *opcode.Table
	density subst.Density
	stream  *subst.Stream

	buf    []byte
	labels []int // label id -> resolved byte offset, or -1 if unresolved
	fixups []fixup

	scopes *scopeStack
	loops  []loopFrame

	heapAllocs int
}

func newEmitter(tbl *opcode.Table, density subst.Density, stream *subst.Stream) *emitter {
	return &emitter{
		tbl:     tbl,
		density: density,
		stream:  stream,
		scopes:  newScopeStack(),
	}
}

func (e *emitter) newLabel() int {
	e.labels = append(e.labels, -1)
	return len(e.labels) - 1
}

func (e *emitter) bindLabel(id int) {
	e.labels[id] = len(e.buf)
}

// emitByte writes l's per-build byte encoding with no operand.
func (e *emitter) emitByte(l opcode.Logical) {
	e.buf = append(e.buf, e.tbl.Encode(l))
}

func (e *emitter) emitU8(l opcode.Logical, v uint8) {
	e.buf = append(e.buf, e.tbl.Encode(l), v)
}

func (e *emitter) emitU32(l opcode.Logical, v uint32) {
	e.buf = append(e.buf, e.tbl.Encode(l))
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

func (e *emitter) emitU64(l opcode.Logical, v uint64) {
	e.buf = append(e.buf, e.tbl.Encode(l))
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

// emitJump emits l followed by a placeholder 32-bit offset, recording a
// fixup to patch it once label is bound.
func (e *emitter) emitJump(l opcode.Logical, label int) {
	e.buf = append(e.buf, e.tbl.Encode(l))
	e.fixups = append(e.fixups, fixup{pos: len(e.buf), label: label})
	e.buf = append(e.buf, 0, 0, 0, 0)
}

// emitSeq appends a substitution-generated instruction sequence.
func (e *emitter) emitSeq(seq []subst.Instr) {
	for _, in := range seq {
		switch in.Op.Width() {
		case 0:
			e.emitByte(in.Op)
		case 1:
			e.emitU8(in.Op, uint8(in.Imm))
		case 8:
			e.emitU64(in.Op, in.Imm)
		default:
			// No substitution catalog entry currently emits any other width.
			panic("compiler: emitSeq given an instruction of unsupported width")
		}
	}
}

// emitDeadCode inserts a dead-code snippet at the current position if the
// inserter's position test says to, choosing the statement-boundary-safe
// form when atStatementBoundary is true.
func (e *emitter) emitDeadCode(ins *subst.DeadCodeInserter, atStatementBoundary bool) {
	if ins == nil || !ins.ShouldInsert(len(e.buf)) {
		return
	}
	if atStatementBoundary {
		e.emitSeq(subst.StatementSnippet(e.stream))
	} else {
		e.emitSeq(subst.ExpressionSnippet())
	}
}

// pushLoop registers a new innermost loop's labels and current scope depth.
func (e *emitter) pushLoop(continueLabel, breakLabel int) {
	e.loops = append(e.loops, loopFrame{
		continueLabel: continueLabel,
		breakLabel:    breakLabel,
		entryDepth:    e.scopes.Depth(),
	})
}

func (e *emitter) popLoop() {
	e.loops = e.loops[:len(e.loops)-1]
}

func (e *emitter) currentLoop() (loopFrame, bool) {
	if len(e.loops) == 0 {
		return loopFrame{}, false
	}
	return e.loops[len(e.loops)-1], true
}

// emitHeapFree emits HEAP_FREE for each of bindings, which callers must
// already have ordered innermost-introduced-first (§4.4: "in reverse order
// of introduction"). For each binding it emits LOAD_REG of the binding's
// register followed by HEAP_FREE, which pops that handle.
func (e *emitter) emitHeapFree(bindings []binding) {
	for _, b := range bindings {
		e.emitU8(opcode.LOAD_REG, b.reg)
		e.emitByte(opcode.HEAP_FREE)
	}
}

// finish patches every recorded fixup and returns the assembled bytecode.
// It panics if a label was never bound, which is a compiler-invariant
// violation rather than a possible outcome of valid input (every label the
// lowering code creates is bound before finish is called).
func (e *emitter) finish() []byte {
	for _, fx := range e.fixups {
		target := e.labels[fx.label]
		if target < 0 {
			panic("compiler: unbound jump label at finish")
		}
		binary.LittleEndian.PutUint32(e.buf[fx.pos:], uint32(target))
	}
	return e.buf
}
