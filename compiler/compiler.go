// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package compiler lowers a typed expression tree (package ast) into the
// byte sequence the execution engine runs, per §4.4. Its public entry
// point, Compile, surfaces only numeric CompileError codes: no source
// text, identifier, or path from the input tree is ever embedded in the
// emitted bytecode or in a build-time error.
package compiler

import (
	"github.com/probeum/vmshroud/ast"
	"github.com/probeum/vmshroud/opcode"
	"github.com/probeum/vmshroud/subst"
)

// HostFunc describes one entry in the build's compile-time wrapper-thunk
// table: the NATIVE_CALL slot a host function occupies and the argument
// count the compiler must enforce at every call site.
type HostFunc struct {
	Slot  int
	Arity int
}

// Reserved register conventions, shared with the engine:
//   - register 0 holds the invocation's input handle, populated by the
//     engine before IP 0 runs (ast.InputExpr reads it).
//   - registers 250-255 are compiler-internal scratch, never assigned to a
//     user binding (scope.go's reservedScratch limit enforces this).
const (
	regInput   uint8 = 0
	scratchA   uint8 = 250
	scratchB   uint8 = 251
	scratchC   uint8 = 252
)

// funcCompiler holds the state threaded through lowering a single
// ast.Function: the shared emitter plus the struct-definition table and
// host-call table needed to resolve field offsets and NATIVE_CALL slots.
type funcCompiler struct {
	*emitter
	structs   map[string]*ast.StructDef
	hostTable map[string]HostFunc
	deadCode  *subst.DeadCodeInserter
}

// Compile lowers fn's body to bytecode using tbl's per-build opcode
// encoding and stream as the substitution-catalog entropy source, at the
// given protection level (§4.5's density matrix). structs resolves
// StructType field layouts; hostTable resolves HostCallExpr targets.
//
// fn.Params is not used to bind registers: the compiled unit is a single
// invocation entry point whose only input is the invocation's raw byte
// slice, observed via ast.InputExpr. Params exists in the tree for forward
// compatibility with a multi-function build and is presently informational
// only.
func Compile(fn *ast.Function, structs map[string]*ast.StructDef, hostTable map[string]HostFunc, tbl *opcode.Table, stream *subst.Stream, level subst.Level) ([]byte, error) {
	density := subst.ForLevel(level)
	fc := &funcCompiler{
		emitter:   newEmitter(tbl, density, stream),
		structs:   structs,
		hostTable: hostTable,
		deadCode:  subst.NewDeadCodeInserter(stream, density.DeadCodeChance),
	}
	fc.scopes.Push()

	if err := fc.lowerBlockStmts(fn.Body); err != nil {
		return nil, err
	}
	if fn.Body.Tail != nil {
		if err := fc.lowerExpr(fn.Body.Tail); err != nil {
			return nil, err
		}
	} else {
		fc.emitU64(opcode.PUSH_U64, 0) // unit
	}
	fc.emitHeapFree(fc.scopes.bindingsSince(0))
	fc.emitByte(opcode.RET)

	return fc.finish(), nil
}

// fieldCount returns the number of contiguous registers a struct- or
// tuple-typed value occupies.
func (fc *funcCompiler) fieldCount(t ast.Type) (int, error) {
	switch t.Kind {
	case ast.StructType:
		def, ok := fc.structs[t.Struct]
		if !ok {
			return 0, newError(ErrUndeclaredIdentifier, "unknown struct type "+t.Struct)
		}
		return len(def.Fields), nil
	case ast.TupleType:
		return len(t.Elems), nil
	default:
		return 0, newError(ErrInternal, "fieldCount called on a non-composite type")
	}
}

// isHeapKind reports whether values of kind k are heap-resident handles
// (strings and vectors), as opposed to scalar words held directly in a
// register.
func isHeapKind(k ast.Kind) bool { return k == ast.StringType || k == ast.Vector }

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// lowerBlockStmts lowers b's statements in sequence, leaving the stack at
// its pre-block depth (§4.4). It does not open a new scope frame or lower
// b.Tail; callers that need Block's expression value use lowerBlockExpr.
func (fc *funcCompiler) lowerBlockStmts(b *ast.Block) error {
	for _, s := range b.Statements {
		fc.emitDeadCode(fc.deadCode, true)
		if err := fc.lowerStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (fc *funcCompiler) lowerStmt(s ast.Stmt) error {
	switch s := s.(type) {
	case *ast.LetStmt:
		return fc.lowerLet(s)
	case *ast.AssignStmt:
		return fc.lowerAssign(s)
	case *ast.ExprStmt:
		if err := fc.lowerExpr(s.Expr); err != nil {
			return err
		}
		fc.emitByte(opcode.POP)
		return nil
	case *ast.ReturnStmt:
		return fc.lowerReturn(s)
	case *ast.WhileStmt:
		return fc.lowerWhile(s)
	case *ast.ForRangeStmt:
		return fc.lowerForRange(s)
	case *ast.LoopStmt:
		return fc.lowerLoop(s)
	case *ast.BreakStmt:
		return fc.lowerBreakContinue(true)
	case *ast.ContinueStmt:
		return fc.lowerBreakContinue(false)
	default:
		return newError(ErrUnsupportedConstruct, "unknown statement node")
	}
}

func (fc *funcCompiler) lowerLet(s *ast.LetStmt) error {
	if s.Type.Kind == ast.StructType || s.Type.Kind == ast.TupleType {
		n, err := fc.fieldCount(s.Type)
		if err != nil {
			return err
		}
		base, err := fc.scopes.DeclareN(s.Name, s.Type, false, n)
		if err != nil {
			return err
		}
		return fc.lowerCompositeInto(s.Value, base, s.Type)
	}
	if err := fc.lowerExpr(s.Value); err != nil {
		return err
	}
	reg, err := fc.scopes.Declare(s.Name, s.Type, isHeapKind(s.Type.Kind))
	if err != nil {
		return err
	}
	fc.emitU8(opcode.STORE_REG, reg)
	return nil
}

func (fc *funcCompiler) lowerAssign(s *ast.AssignStmt) error {
	switch t := s.Target.(type) {
	case *ast.Ident:
		b, ok := fc.scopes.Lookup(t.Name)
		if !ok {
			return newError(ErrUndeclaredIdentifier, t.Name)
		}
		if err := fc.lowerExpr(s.Value); err != nil {
			return err
		}
		fc.emitU8(opcode.STORE_REG, b.reg)
		return nil
	case *ast.FieldExpr:
		base, err := fc.resolveFieldReg(t)
		if err != nil {
			return err
		}
		if err := fc.lowerExpr(s.Value); err != nil {
			return err
		}
		fc.emitU8(opcode.STORE_REG, base)
		return nil
	case *ast.IndexExpr:
		if err := fc.lowerExpr(s.Value); err != nil {
			return err
		}
		if err := fc.lowerExpr(t.Object); err != nil {
			return err
		}
		if err := fc.lowerExpr(t.Index); err != nil {
			return err
		}
		fc.emitByte(opcode.SET_IDX)
		return nil
	default:
		return newError(ErrUnsupportedConstruct, "assignment target")
	}
}

func (fc *funcCompiler) lowerReturn(s *ast.ReturnStmt) error {
	if s.Value != nil {
		if err := fc.lowerExpr(s.Value); err != nil {
			return err
		}
	} else {
		fc.emitU64(opcode.PUSH_U64, 0)
	}
	fc.emitHeapFree(fc.scopes.bindingsSince(0))
	fc.emitByte(opcode.RET)
	return nil
}

func (fc *funcCompiler) lowerWhile(s *ast.WhileStmt) error {
	top := fc.newLabel()
	end := fc.newLabel()
	fc.bindLabel(top)
	if err := fc.lowerExpr(s.Condition); err != nil {
		return err
	}
	fc.emitJump(opcode.JZ, end)
	fc.pushLoop(top, end)
	fc.scopes.Push()
	if err := fc.lowerBlockStmts(s.Body); err != nil {
		return err
	}
	if s.Body.Tail != nil {
		if err := fc.lowerExpr(s.Body.Tail); err != nil {
			return err
		}
		fc.emitByte(opcode.POP)
	}
	fc.emitHeapFree(fc.scopes.Pop())
	fc.emitJump(opcode.JMP, top)
	fc.bindLabel(end)
	fc.popLoop()
	return nil
}

func (fc *funcCompiler) lowerLoop(s *ast.LoopStmt) error {
	top := fc.newLabel()
	end := fc.newLabel()
	fc.bindLabel(top)
	fc.pushLoop(top, end)
	fc.scopes.Push()
	if err := fc.lowerBlockStmts(s.Body); err != nil {
		return err
	}
	if s.Body.Tail != nil {
		if err := fc.lowerExpr(s.Body.Tail); err != nil {
			return err
		}
		fc.emitByte(opcode.POP)
	}
	fc.emitHeapFree(fc.scopes.Pop())
	fc.emitJump(opcode.JMP, top)
	fc.bindLabel(end)
	fc.popLoop()
	return nil
}

func (fc *funcCompiler) lowerForRange(s *ast.ForRangeStmt) error {
	fc.scopes.Push()
	counterType := s.Low.ResultType()
	reg, err := fc.scopes.Declare(s.Binding, counterType, false)
	if err != nil {
		return err
	}
	if err := fc.lowerExpr(s.Low); err != nil {
		return err
	}
	fc.emitU8(opcode.STORE_REG, reg)

	top := fc.newLabel()
	end := fc.newLabel()
	fc.bindLabel(top)
	fc.emitU8(opcode.LOAD_REG, reg)
	if err := fc.lowerExpr(s.High); err != nil {
		return err
	}
	if counterType.IsSigned() {
		fc.emitByte(opcode.ILT)
	} else {
		fc.emitByte(opcode.LT)
	}
	fc.emitJump(opcode.JZ, end)

	fc.pushLoop(top, end)
	fc.scopes.Push()
	if err := fc.lowerBlockStmts(s.Body); err != nil {
		return err
	}
	if s.Body.Tail != nil {
		if err := fc.lowerExpr(s.Body.Tail); err != nil {
			return err
		}
		fc.emitByte(opcode.POP)
	}
	fc.emitHeapFree(fc.scopes.Pop())

	fc.emitU8(opcode.LOAD_REG, reg)
	fc.emitU64(opcode.PUSH_U64, 1)
	fc.emitByte(opcode.ADD)
	fc.emitU8(opcode.STORE_REG, reg)
	fc.emitJump(opcode.JMP, top)
	fc.bindLabel(end)
	fc.popLoop()

	fc.emitHeapFree(fc.scopes.Pop())
	return nil
}

func (fc *funcCompiler) lowerBreakContinue(isBreak bool) error {
	loop, ok := fc.currentLoop()
	if !ok {
		return newError(ErrUnsupportedConstruct, "break/continue outside a loop")
	}
	fc.emitHeapFree(fc.scopes.bindingsSince(loop.entryDepth))
	if isBreak {
		fc.emitJump(opcode.JMP, loop.breakLabel)
	} else {
		fc.emitJump(opcode.JMP, loop.continueLabel)
	}
	return nil
}

// resolveFieldReg resolves a FieldExpr whose Object is a composite-typed
// local to the single register its named field occupies.
func (fc *funcCompiler) resolveFieldReg(e *ast.FieldExpr) (uint8, error) {
	ident, ok := e.Object.(*ast.Ident)
	if !ok {
		return 0, newError(ErrUnsupportedConstruct, "field access on a non-identifier object")
	}
	b, ok := fc.scopes.Lookup(ident.Name)
	if !ok {
		return 0, newError(ErrUndeclaredIdentifier, ident.Name)
	}
	if b.typ.Kind != ast.StructType {
		return 0, newError(ErrTypeMismatch, "field access on a non-struct local")
	}
	def, ok := fc.structs[b.typ.Struct]
	if !ok {
		return 0, newError(ErrUndeclaredIdentifier, b.typ.Struct)
	}
	for i, f := range def.Fields {
		if f.Name == e.Field {
			return b.reg + uint8(i), nil
		}
	}
	return 0, newError(ErrUndeclaredIdentifier, e.Field)
}
