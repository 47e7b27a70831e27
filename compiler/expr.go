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
	"github.com/probeum/vmshroud/subst"
)

// lowerExpr emits code that leaves exactly one 64-bit word on the stack:
// e's runtime value (a heap handle, for string/vector-typed e). Struct- and
// tuple-typed expressions are not handled here — they decompose to
// contiguous registers and are only valid in the composite-initializer
// contexts lowerCompositeInto covers.
func (fc *funcCompiler) lowerExpr(e ast.Expr) error {
	switch e := e.(type) {
	case *ast.Ident:
		b, ok := fc.scopes.Lookup(e.Name)
		if !ok {
			return newError(ErrUndeclaredIdentifier, e.Name)
		}
		fc.emitU8(opcode.LOAD_REG, b.reg)
		return nil
	case *ast.IntLiteral:
		fc.lowerIntLiteral(e.Value)
		return nil
	case *ast.BoolLiteral:
		v := uint64(0)
		if e.Value {
			v = 1
		}
		fc.emitU64(opcode.PUSH_U64, v)
		return nil
	case *ast.StringLiteral:
		return fc.lowerStringLiteral(e.Value)
	case *ast.InputExpr:
		fc.emitU8(opcode.LOAD_REG, regInput)
		return nil
	case *ast.BinaryExpr:
		return fc.lowerBinary(e)
	case *ast.UnaryExpr:
		return fc.lowerUnary(e)
	case *ast.CastExpr:
		return fc.lowerCast(e)
	case *ast.FieldExpr:
		reg, err := fc.resolveFieldReg(e)
		if err != nil {
			return err
		}
		fc.emitU8(opcode.LOAD_REG, reg)
		return nil
	case *ast.IndexExpr:
		if err := fc.lowerExpr(e.Object); err != nil {
			return err
		}
		if err := fc.lowerExpr(e.Index); err != nil {
			return err
		}
		fc.emitByte(opcode.GET_IDX)
		return nil
	case *ast.VectorLiteral:
		return fc.lowerVectorLiteral(e)
	case *ast.HostCallExpr:
		return fc.lowerHostCall(e)
	case *ast.BuiltinExpr:
		return fc.lowerBuiltin(e)
	case *ast.BlockExpr:
		return fc.lowerBlockExpr(e)
	case *ast.IfExpr:
		return fc.lowerIfExpr(e)
	case *ast.MatchExpr:
		return fc.lowerMatchExpr(e)
	case *ast.MacroCallExpr:
		return newError(ErrMacroCall, e.Name)
	default:
		return newError(ErrUnsupportedConstruct, "expression node")
	}
}

func (fc *funcCompiler) lowerIntLiteral(v uint64) {
	if fc.density.ValueCryptor {
		fc.emitSeq(subst.ValueCryptorChain(fc.stream, v, fc.density.ChainLenMin, fc.density.ChainLenMax))
		return
	}
	fc.emitU64(opcode.PUSH_U64, v)
}

// lowerCompositeInto evaluates a struct- or tuple-typed initializer and
// stores its fields into the contiguous registers [base, base+n).
func (fc *funcCompiler) lowerCompositeInto(e ast.Expr, base uint8, typ ast.Type) error {
	switch e := e.(type) {
	case *ast.StructLiteral:
		def, ok := fc.structs[typ.Struct]
		if !ok {
			return newError(ErrUndeclaredIdentifier, typ.Struct)
		}
		for i, f := range def.Fields {
			val, ok := e.Fields[f.Name]
			if !ok {
				return newError(ErrTypeMismatch, "missing field "+f.Name)
			}
			if err := fc.lowerExpr(val); err != nil {
				return err
			}
			fc.emitU8(opcode.STORE_REG, base+uint8(i))
		}
		return nil
	case *ast.TupleLiteral:
		for i, el := range e.Elements {
			if err := fc.lowerExpr(el); err != nil {
				return err
			}
			fc.emitU8(opcode.STORE_REG, base+uint8(i))
		}
		return nil
	case *ast.Ident:
		src, ok := fc.scopes.Lookup(e.Name)
		if !ok {
			return newError(ErrUndeclaredIdentifier, e.Name)
		}
		n, err := fc.fieldCount(typ)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			fc.emitU8(opcode.LOAD_REG, src.reg+uint8(i))
			fc.emitU8(opcode.STORE_REG, base+uint8(i))
		}
		return nil
	default:
		return newError(ErrUnsupportedConstruct, "composite initializer must be a literal or identifier")
	}
}

// ---------------------------------------------------------------------------
// Binary / unary / cast lowering
// ---------------------------------------------------------------------------

func (fc *funcCompiler) lowerBinary(e *ast.BinaryExpr) error {
	switch e.Op {
	case ast.OpLogicalAnd:
		return fc.lowerShortCircuit(e, false)
	case ast.OpLogicalOr:
		return fc.lowerShortCircuit(e, true)
	}

	switch e.Op {
	case ast.OpAdd, ast.OpSub, ast.OpXor, ast.OpAnd, ast.OpOr, ast.OpMul:
		return fc.lowerSubstitutedBinary(e)
	}

	if err := fc.lowerExpr(e.Left); err != nil {
		return err
	}
	if err := fc.lowerExpr(e.Right); err != nil {
		return err
	}
	signed := e.Left.ResultType().IsSigned()
	switch e.Op {
	case ast.OpDiv:
		fc.emitByte(pick(signed, opcode.IDIV, opcode.DIV))
	case ast.OpMod:
		fc.emitByte(pick(signed, opcode.IMOD, opcode.MOD))
	case ast.OpShl:
		fc.emitByte(opcode.SHL)
	case ast.OpShr:
		fc.emitByte(pick(signed, opcode.SAR, opcode.SHR))
	case ast.OpEq:
		fc.emitByte(opcode.EQ)
	case ast.OpNe:
		fc.emitByte(opcode.NE)
	case ast.OpLt:
		fc.emitByte(pick(signed, opcode.ILT, opcode.LT))
	case ast.OpLe:
		fc.emitByte(pick(signed, opcode.ILE, opcode.LE))
	case ast.OpGt:
		fc.emitByte(pick(signed, opcode.IGT, opcode.GT))
	case ast.OpGe:
		fc.emitByte(pick(signed, opcode.IGE, opcode.GE))
	default:
		return newError(ErrUnsupportedConstruct, "binary operator")
	}
	return nil
}

func pick(cond bool, a, b opcode.Logical) opcode.Logical {
	if cond {
		return a
	}
	return b
}

// lowerSubstitutedBinary routes an MBA-eligible operator through the
// substitution catalog: both operands are staged into scratch registers so
// any variant can freely reorder or duplicate them (§4.4).
func (fc *funcCompiler) lowerSubstitutedBinary(e *ast.BinaryExpr) error {
	if err := fc.lowerExpr(e.Left); err != nil {
		return err
	}
	fc.emitU8(opcode.STORE_REG, scratchA)
	if err := fc.lowerExpr(e.Right); err != nil {
		return err
	}
	fc.emitU8(opcode.STORE_REG, scratchB)

	family, ok := binaryFamily(e.Op)
	if !ok {
		return newError(ErrUnsupportedConstruct, "binary operator")
	}
	if fc.density.MBADenominator > 0 && fc.stream.CoinFlip(1, fc.density.MBADenominator) {
		fc.emitSeq(subst.PickBinary(fc.stream, family, scratchA, scratchB))
	} else {
		fc.emitSeq(subst.BinaryDirect(family, scratchA, scratchB))
	}
	return nil
}

func binaryFamily(op ast.BinaryOp) (subst.BinaryFamily, bool) {
	switch op {
	case ast.OpAdd:
		return subst.FamilyAdd, true
	case ast.OpSub:
		return subst.FamilySub, true
	case ast.OpXor:
		return subst.FamilyXor, true
	case ast.OpAnd:
		return subst.FamilyAnd, true
	case ast.OpOr:
		return subst.FamilyOr, true
	case ast.OpMul:
		return subst.FamilyMul, true
	default:
		return 0, false
	}
}

// lowerShortCircuit lowers && (isOr=false) and || (isOr=true) with
// the usual short-circuit control flow rather than as eager boolean ops.
func (fc *funcCompiler) lowerShortCircuit(e *ast.BinaryExpr, isOr bool) error {
	shortcut := fc.newLabel()
	end := fc.newLabel()
	if err := fc.lowerExpr(e.Left); err != nil {
		return err
	}
	if isOr {
		fc.emitJump(opcode.JNZ, shortcut)
	} else {
		fc.emitJump(opcode.JZ, shortcut)
	}
	if err := fc.lowerExpr(e.Right); err != nil {
		return err
	}
	fc.emitJump(opcode.JMP, end)
	fc.bindLabel(shortcut)
	if isOr {
		fc.emitU64(opcode.PUSH_U64, 1)
	} else {
		fc.emitU64(opcode.PUSH_U64, 0)
	}
	fc.bindLabel(end)
	return nil
}

func (fc *funcCompiler) lowerUnary(e *ast.UnaryExpr) error {
	switch e.Op {
	case ast.OpNeg:
		if err := fc.lowerExpr(e.Operand); err != nil {
			return err
		}
		fc.emitByte(opcode.NEG)
		return nil
	case ast.OpLogicalNot:
		if err := fc.lowerExpr(e.Operand); err != nil {
			return err
		}
		fc.emitU64(opcode.PUSH_U64, 1)
		fc.emitByte(opcode.XOR)
		return nil
	case ast.OpNot:
		if err := fc.lowerExpr(e.Operand); err != nil {
			return err
		}
		fc.emitU8(opcode.STORE_REG, scratchA)
		if fc.density.MBADenominator > 0 && fc.stream.CoinFlip(1, fc.density.MBADenominator) {
			fc.emitSeq(subst.PickNot(fc.stream, scratchA))
		} else {
			fc.emitSeq(subst.NotDirect(scratchA))
		}
		return nil
	default:
		return newError(ErrUnsupportedConstruct, "unary operator")
	}
}

// lowerCast implements §4.4's cast rules: widening is a stack no-op;
// narrowing masks, and narrowing to a signed type additionally
// sign-extends, as a distinct opcode from the mask alone.
func (fc *funcCompiler) lowerCast(e *ast.CastExpr) error {
	if err := fc.lowerExpr(e.Value); err != nil {
		return err
	}
	from, to := e.Value.ResultType().Width(), e.Type.Width()
	if from == 0 || to == 0 || to >= from {
		return nil // widening, or a non-integer cast with no stack-level effect
	}
	switch to {
	case 8:
		fc.emitByte(opcode.TRUNC_U8)
	case 16:
		fc.emitByte(opcode.TRUNC_U16)
	case 32:
		fc.emitByte(opcode.TRUNC_U32)
	default:
		return newError(ErrInternal, "unreachable cast width")
	}
	if e.Type.IsSigned() {
		switch to {
		case 8:
			fc.emitByte(opcode.SEXT_I8)
		case 16:
			fc.emitByte(opcode.SEXT_I16)
		case 32:
			fc.emitByte(opcode.SEXT_I32)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Host calls
// ---------------------------------------------------------------------------

func (fc *funcCompiler) lowerHostCall(e *ast.HostCallExpr) error {
	hf, ok := fc.hostTable[e.Name]
	if !ok {
		return newError(ErrUnresolvedHostCall, e.Name)
	}
	if len(e.Arguments) != hf.Arity {
		return newError(ErrTypeMismatch, "host call arity mismatch for "+e.Name)
	}
	for _, arg := range e.Arguments {
		if err := fc.lowerExpr(arg); err != nil {
			return err
		}
	}
	fc.emitByte(opcode.NATIVE_CALL)
	fc.buf = append(fc.buf, byte(hf.Slot), byte(hf.Slot>>8), byte(hf.Arity))
	return nil
}

// lowerBuiltin emits one of the fixed-arity string/vector helper opcodes.
// Argument push order is chosen so each opcode's own pop order (documented
// at its handler in package vm) recovers the arguments in Args order.
func (fc *funcCompiler) lowerBuiltin(e *ast.BuiltinExpr) error {
	switch e.Op {
	case ast.BuiltinLen:
		if err := fc.lowerExpr(e.Args[0]); err != nil {
			return err
		}
		fc.emitByte(opcode.LEN)
		return nil
	case ast.BuiltinIsEmpty:
		if err := fc.lowerExpr(e.Args[0]); err != nil {
			return err
		}
		fc.emitByte(opcode.IS_EMPTY)
		return nil
	case ast.BuiltinHash:
		if err := fc.lowerExpr(e.Args[0]); err != nil {
			return err
		}
		fc.emitByte(opcode.HASH)
		return nil
	case ast.BuiltinPopElt:
		if err := fc.lowerExpr(e.Args[0]); err != nil {
			return err
		}
		fc.emitByte(opcode.POP_ELT)
		return nil
	case ast.BuiltinConcat:
		// CONCAT pops b then a; pushing a then b recovers (a, b) = Args.
		if err := fc.lowerExpr(e.Args[0]); err != nil {
			return err
		}
		if err := fc.lowerExpr(e.Args[1]); err != nil {
			return err
		}
		fc.emitByte(opcode.CONCAT)
		return nil
	case ast.BuiltinEqBytes:
		if err := fc.lowerExpr(e.Args[0]); err != nil {
			return err
		}
		if err := fc.lowerExpr(e.Args[1]); err != nil {
			return err
		}
		fc.emitByte(opcode.EQ_BYTES)
		return nil
	case ast.BuiltinPushElt:
		// PUSH_ELT pops v then h; pushing h (Args[0]) then v (Args[1])
		// recovers that order.
		if err := fc.lowerExpr(e.Args[0]); err != nil {
			return err
		}
		if err := fc.lowerExpr(e.Args[1]); err != nil {
			return err
		}
		fc.emitByte(opcode.PUSH_ELT)
		return nil
	default:
		return newError(ErrUnsupportedConstruct, "builtin operation")
	}
}

// ---------------------------------------------------------------------------
// Block / if as expressions
// ---------------------------------------------------------------------------

func (fc *funcCompiler) lowerBlockExpr(e *ast.BlockExpr) error {
	fc.scopes.Push()
	if err := fc.lowerBlockStmts(e.Block); err != nil {
		return err
	}
	if e.Block.Tail != nil {
		if err := fc.lowerExpr(e.Block.Tail); err != nil {
			return err
		}
	} else {
		fc.emitU64(opcode.PUSH_U64, 0)
	}
	fc.emitHeapFree(fc.scopes.Pop())
	return nil
}

func (fc *funcCompiler) lowerIfExpr(e *ast.IfExpr) error {
	if err := fc.lowerExpr(e.Condition); err != nil {
		return err
	}
	elseLabel := fc.newLabel()
	end := fc.newLabel()
	fc.emitJump(opcode.JZ, elseLabel)

	fc.scopes.Push()
	if err := fc.lowerBlockStmts(e.Then); err != nil {
		return err
	}
	if e.Then.Tail != nil {
		if err := fc.lowerExpr(e.Then.Tail); err != nil {
			return err
		}
	} else {
		fc.emitU64(opcode.PUSH_U64, 0)
	}
	fc.emitHeapFree(fc.scopes.Pop())
	fc.emitJump(opcode.JMP, end)

	fc.bindLabel(elseLabel)
	if e.Else != nil {
		fc.scopes.Push()
		if err := fc.lowerBlockStmts(e.Else); err != nil {
			return err
		}
		if e.Else.Tail != nil {
			if err := fc.lowerExpr(e.Else.Tail); err != nil {
				return err
			}
		} else {
			fc.emitU64(opcode.PUSH_U64, 0)
		}
		fc.emitHeapFree(fc.scopes.Pop())
	} else {
		fc.emitU64(opcode.PUSH_U64, 0)
	}
	fc.bindLabel(end)
	return nil
}
