// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package compiler

import "github.com/probeum/vmshroud/ast"

// binding is one name's register assignment within a scope frame.
type binding struct {
	name string
	reg  uint8
	typ  ast.Type
	heap bool // true if reg holds a heap handle that must HEAP_FREE on exit
}

// scopeFrame holds the bindings introduced directly in one lexical scope.
// order preserves introduction order so cleanup can free in reverse.
type scopeFrame struct {
	bindings map[string]binding
	order    []string
}

func newScopeFrame() *scopeFrame {
	return &scopeFrame{bindings: make(map[string]binding)}
}

// scopeStack is the compiler's scope stack of {name -> (register-index,
// type, is-heap)} frames. Register indices are assigned from a single
// monotonically increasing counter for
// the whole function, so no two live locals ever alias a register even
// across sibling scopes — simpler than reuse, and the register file (256
// slots) comfortably covers any one protected unit in practice.
type scopeStack struct {
	frames  []*scopeFrame
	nextReg int
}

func newScopeStack() *scopeStack {
	return &scopeStack{}
}

// Push begins a new lexical scope.
func (s *scopeStack) Push() {
	s.frames = append(s.frames, newScopeFrame())
}

// Pop ends the current lexical scope and returns its bindings in reverse
// introduction order, i.e. the order HEAP_FREE must be emitted in.
func (s *scopeStack) Pop() []binding {
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	out := make([]binding, len(top.order))
	for i, name := range top.order {
		out[len(out)-1-i] = top.bindings[name]
	}
	return out
}

// Depth reports how many scope frames are currently open.
func (s *scopeStack) Depth() int { return len(s.frames) }

// Declare binds name to a freshly allocated register in the innermost
// scope, shadowing any outer binding of the same name.
func (s *scopeStack) Declare(name string, typ ast.Type, heap bool) (uint8, error) {
	return s.DeclareN(name, typ, heap, 1)
}

// reservedScratch is the lowest register index set aside for compiler-
// internal scratch use (MBA operand staging, heap-store byte decomposition);
// user bindings never receive a register at or above this index.
const reservedScratch = 250

// DeclareN allocates count contiguous registers for name (used for
// struct-typed locals, which lower to contiguous register groups) and
// returns the base register.
func (s *scopeStack) DeclareN(name string, typ ast.Type, heap bool, count int) (uint8, error) {
	if s.nextReg+count > reservedScratch {
		return 0, newError(ErrInternal, "register file exhausted")
	}
	base := uint8(s.nextReg)
	s.nextReg += count
	top := s.frames[len(s.frames)-1]
	if _, exists := top.bindings[name]; !exists {
		top.order = append(top.order, name)
	}
	top.bindings[name] = binding{name: name, reg: base, typ: typ, heap: heap}
	return base, nil
}

// Lookup finds name in the innermost scope that declares it, searching
// outward so inner lets shadow outer ones.
func (s *scopeStack) Lookup(name string) (binding, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if b, ok := s.frames[i].bindings[name]; ok {
			return b, true
		}
	}
	return binding{}, false
}

// bindingsSince returns, in reverse-introduction order, every heap-resident
// binding introduced in scope frames at depth >= fromDepth — the set
// break/continue/return must HEAP_FREE before transferring control out of
// those frames, without actually popping them (the loop or function body
// continues to use frames below fromDepth).
func (s *scopeStack) bindingsSince(fromDepth int) []binding {
	var out []binding
	for i := len(s.frames) - 1; i >= fromDepth; i-- {
		f := s.frames[i]
		for j := len(f.order) - 1; j >= 0; j-- {
			b := f.bindings[f.order[j]]
			if b.heap {
				out = append(out, b)
			}
		}
	}
	return out
}
