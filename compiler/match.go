// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package compiler

import (
	"github.com/probeum/vmshroud/ast"
	"github.com/probeum/vmshroud/opcode"
)

// isCatchAll reports whether p matches unconditionally, making a trailing
// TRAP_UNREACHABLE after it unreachable.
func isCatchAll(p ast.Pattern) bool {
	switch p := p.(type) {
	case *ast.WildcardPattern:
		return true
	case *ast.BindingPattern:
		return p.Sub == nil
	default:
		return false
	}
}

// lowerMatchExpr compiles a match to a sequential chain of pattern tests in
// source order. Exhaustiveness is not statically proven; instead, a
// fall-through after the last arm traps unless that arm is provably
// catch-all.
func (fc *funcCompiler) lowerMatchExpr(e *ast.MatchExpr) error {
	subjType := e.Subject.ResultType()
	composite := subjType.Kind == ast.StructType || subjType.Kind == ast.TupleType

	var baseReg uint8
	if composite {
		ident, ok := e.Subject.(*ast.Ident)
		if !ok {
			return newError(ErrUnsupportedConstruct, "match subject must be a local for struct/tuple types")
		}
		b, ok := fc.scopes.Lookup(ident.Name)
		if !ok {
			return newError(ErrUndeclaredIdentifier, ident.Name)
		}
		baseReg = b.reg
	} else {
		if err := fc.lowerExpr(e.Subject); err != nil {
			return err
		}
		fc.emitU8(opcode.STORE_REG, scratchC)
		baseReg = scratchC
	}

	end := fc.newLabel()
	for i, arm := range e.Arms {
		next := fc.newLabel()
		fc.scopes.Push()
		if err := fc.lowerPatternTest(arm.Pattern, baseReg, subjType, next); err != nil {
			return err
		}
		if arm.Guard != nil {
			if err := fc.lowerExpr(arm.Guard); err != nil {
				return err
			}
			fc.emitJump(opcode.JZ, next)
		}
		if err := fc.lowerBlockStmts(arm.Body); err != nil {
			return err
		}
		if arm.Body.Tail != nil {
			if err := fc.lowerExpr(arm.Body.Tail); err != nil {
				return err
			}
		} else {
			fc.emitU64(opcode.PUSH_U64, 0)
		}
		fc.emitHeapFree(fc.scopes.Pop())
		fc.emitJump(opcode.JMP, end)

		fc.bindLabel(next)
		if i == len(e.Arms)-1 && !isCatchAll(arm.Pattern) {
			fc.emitByte(opcode.TRAP_UNREACHABLE)
		}
	}
	fc.bindLabel(end)
	return nil
}

// lowerPatternTest emits code testing whether the value at baseReg (a
// single register for a scalar subjType, or the base of a contiguous group
// for a struct/tuple subjType) matches p, jumping to failLabel on mismatch
// and binding any pattern variables into the current (caller-pushed) scope
// frame on success. Control falls through on a match.
func (fc *funcCompiler) lowerPatternTest(p ast.Pattern, baseReg uint8, subjType ast.Type, failLabel int) error {
	switch p := p.(type) {
	case *ast.WildcardPattern:
		return nil

	case *ast.LiteralPattern:
		lit, ok := p.Value.(*ast.IntLiteral)
		if !ok {
			if b, ok := p.Value.(*ast.BoolLiteral); ok {
				v := uint64(0)
				if b.Value {
					v = 1
				}
				fc.emitU8(opcode.LOAD_REG, baseReg)
				fc.emitU64(opcode.PUSH_U64, v)
				fc.emitByte(opcode.EQ)
				fc.emitJump(opcode.JZ, failLabel)
				return nil
			}
			return newError(ErrUnsupportedConstruct, "literal pattern value")
		}
		fc.emitU8(opcode.LOAD_REG, baseReg)
		fc.lowerIntLiteral(lit.Value)
		fc.emitByte(opcode.EQ)
		fc.emitJump(opcode.JZ, failLabel)
		return nil

	case *ast.RangePattern:
		signed := subjType.IsSigned()
		fc.emitU8(opcode.LOAD_REG, baseReg)
		if err := fc.lowerExpr(p.Low); err != nil {
			return err
		}
		fc.emitByte(pick(signed, opcode.ILT, opcode.LT))
		fc.emitJump(opcode.JNZ, failLabel) // x < low -> no match

		fc.emitU8(opcode.LOAD_REG, baseReg)
		if err := fc.lowerExpr(p.High); err != nil {
			return err
		}
		fc.emitByte(pick(signed, opcode.IGT, opcode.GT))
		fc.emitJump(opcode.JNZ, failLabel) // x > high -> no match
		return nil

	case *ast.OrPattern:
		matched := fc.newLabel()
		for i, alt := range p.Alternatives {
			last := i == len(p.Alternatives)-1
			target := failLabel
			if !last {
				target = fc.newLabel()
			}
			if err := fc.lowerPatternTest(alt, baseReg, subjType, target); err != nil {
				return err
			}
			fc.emitJump(opcode.JMP, matched)
			if !last {
				fc.bindLabel(target)
			}
		}
		fc.bindLabel(matched)
		return nil

	case *ast.BindingPattern:
		if p.Sub != nil {
			if err := fc.lowerPatternTest(p.Sub, baseReg, subjType, failLabel); err != nil {
				return err
			}
		}
		return fc.bindPatternVar(p.Name, baseReg, subjType)

	case *ast.TuplePattern:
		for i, elem := range p.Elements {
			elemType := subjType.Elems[i]
			if err := fc.lowerPatternTest(elem, baseReg+uint8(i), elemType, failLabel); err != nil {
				return err
			}
		}
		return nil

	case *ast.StructPattern:
		def, ok := fc.structs[p.Struct]
		if !ok {
			return newError(ErrUndeclaredIdentifier, p.Struct)
		}
		for name, sub := range p.Fields {
			idx, fieldType, ok := structField(def, name)
			if !ok {
				return newError(ErrUndeclaredIdentifier, name)
			}
			if err := fc.lowerPatternTest(sub, baseReg+uint8(idx), fieldType, failLabel); err != nil {
				return err
			}
		}
		return nil

	case *ast.TupleStructPattern:
		def, ok := fc.structs[p.Struct]
		if !ok {
			return newError(ErrUndeclaredIdentifier, p.Struct)
		}
		for i, elem := range p.Elements {
			if i >= len(def.Fields) {
				return newError(ErrTypeMismatch, "tuple-struct pattern arity mismatch")
			}
			if err := fc.lowerPatternTest(elem, baseReg+uint8(i), def.Fields[i].Type, failLabel); err != nil {
				return err
			}
		}
		return nil

	default:
		return newError(ErrUnsupportedConstruct, "pattern kind")
	}
}

func structField(def *ast.StructDef, name string) (int, ast.Type, bool) {
	for i, f := range def.Fields {
		if f.Name == name {
			return i, f.Type, true
		}
	}
	return 0, ast.Type{}, false
}

// bindPatternVar declares name in the current scope frame and copies the
// matched value(s) from baseReg into its freshly allocated register(s).
func (fc *funcCompiler) bindPatternVar(name string, baseReg uint8, typ ast.Type) error {
	if typ.Kind == ast.StructType || typ.Kind == ast.TupleType {
		n, err := fc.fieldCount(typ)
		if err != nil {
			return err
		}
		dst, err := fc.scopes.DeclareN(name, typ, false, n)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			fc.emitU8(opcode.LOAD_REG, baseReg+uint8(i))
			fc.emitU8(opcode.STORE_REG, dst+uint8(i))
		}
		return nil
	}
	dst, err := fc.scopes.Declare(name, typ, isHeapKind(typ.Kind))
	if err != nil {
		return err
	}
	fc.emitU8(opcode.LOAD_REG, baseReg)
	fc.emitU8(opcode.STORE_REG, dst)
	return nil
}
