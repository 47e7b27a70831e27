// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package compiler

import "github.com/probeum/vmshroud/ast"
import "github.com/probeum/vmshroud/opcode"

// storeWord lays down DUP; push(byte); HEAP_STORE(offset) against the
// handle already sitting on top of the stack, consuming the duplicate and
// leaving the original handle for the next byte (or for the caller, on the
// last byte).
func (fc *funcCompiler) storeWord(offset uint32, value uint8) {
	fc.emitByte(opcode.DUP)
	fc.emitU64(opcode.PUSH_U64, uint64(value))
	fc.emitU32(opcode.HEAP_STORE, offset)
}

// lowerStringLiteral allocates a heap run of len(4-byte length prefix,
// little-endian) + len(bytes) and writes every byte, leaving the handle on
// the stack. The length prefix lets HEAP_LOAD-based string helpers (length,
// concatenation, comparison) work from the handle alone.
func (fc *funcCompiler) lowerStringLiteral(s string) error {
	data := []byte(s)
	total := uint32(4 + len(data))
	fc.emitU32(opcode.HEAP_ALLOC, total)

	n := uint32(len(data))
	fc.storeWord(0, uint8(n))
	fc.storeWord(1, uint8(n>>8))
	fc.storeWord(2, uint8(n>>16))
	fc.storeWord(3, uint8(n>>24))
	for i, b := range data {
		fc.storeWord(uint32(4+i), b)
	}
	return nil
}

// lowerVectorLiteral allocates a heap run the same way as a string literal,
// one byte per element, and stores each element's value. Elements must be
// integer or bool literals, and the element type must have Width() 8 or be
// bool; wider element types are rejected with ErrUnsupportedConstruct,
// since storeWord writes a single byte.
func (fc *funcCompiler) lowerVectorLiteral(e *ast.VectorLiteral) error {
	elemType := *e.Type.Elem
	if elemType.Width() != 8 && elemType.Kind != ast.Bool {
		return newError(ErrUnsupportedConstruct, "vector element width > 1 byte")
	}
	n := uint32(len(e.Elements))
	total := 4 + n
	fc.emitU32(opcode.HEAP_ALLOC, total)

	fc.storeWord(0, uint8(n))
	fc.storeWord(1, uint8(n>>8))
	fc.storeWord(2, uint8(n>>16))
	fc.storeWord(3, uint8(n>>24))

	for i, el := range e.Elements {
		lit, ok := el.(*ast.IntLiteral)
		if !ok {
			if b, ok := el.(*ast.BoolLiteral); ok {
				v := uint8(0)
				if b.Value {
					v = 1
				}
				fc.storeWord(uint32(4+i), v)
				continue
			}
			return newError(ErrUnsupportedConstruct, "vector literal element must be a constant")
		}
		fc.storeWord(uint32(4+i), uint8(lit.Value))
	}
	return nil
}
