// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"sort"

	"github.com/probeum/vmshroud/ast"
)

// sample bundles one hand-authored protected unit with a human-readable
// name and a one-line description, for the build command's -program flag.
// The front-end that would normally turn source text into an ast.Function
// is out of scope for this repository (spec's own Non-goals list), so
// build's input is always one of these pre-typed trees rather than a file.
type sample struct {
	name string
	desc string
	fn   *ast.Function
}

func u64() ast.Type  { return ast.Type{Kind: ast.U64} }
func boolT() ast.Type { return ast.Type{Kind: ast.Bool} }

// checksumProgram computes a position-weighted checksum over the
// invocation's input: sum(input[i] * (i+1)) for i in 0..len(input).
func checksumProgram() *ast.Function {
	idxIdent := &ast.Ident{Name: "idx", Type: u64()}
	body := &ast.Block{
		Statements: []ast.Stmt{
			&ast.LetStmt{Name: "total", Type: u64(), Value: &ast.IntLiteral{Value: 0, Type: u64()}},
			&ast.LetStmt{Name: "n", Type: u64(), Value: &ast.BuiltinExpr{
				Op:   ast.BuiltinLen,
				Args: []ast.Expr{&ast.InputExpr{}},
				Type: u64(),
			}},
			&ast.ForRangeStmt{
				Binding: "idx",
				Low:     &ast.IntLiteral{Value: 0, Type: u64()},
				High:    &ast.Ident{Name: "n", Type: u64()},
				Body: &ast.Block{
					Statements: []ast.Stmt{
						&ast.LetStmt{Name: "b", Type: u64(), Value: &ast.IndexExpr{
							Object: &ast.InputExpr{},
							Index:  idxIdent,
							Type:   u64(),
						}},
						&ast.AssignStmt{
							Target: &ast.Ident{Name: "total", Type: u64()},
							Value: &ast.BinaryExpr{
								Op:   ast.OpAdd,
								Left: &ast.Ident{Name: "total", Type: u64()},
								Right: &ast.BinaryExpr{
									Op:    ast.OpMul,
									Left:  &ast.Ident{Name: "b", Type: u64()},
									Right: &ast.BinaryExpr{Op: ast.OpAdd, Left: idxIdent, Right: &ast.IntLiteral{Value: 1, Type: u64()}, Type: u64()},
									Type:  u64(),
								},
								Type: u64(),
							},
						},
					},
				},
			},
		},
		Tail: &ast.Ident{Name: "total", Type: u64()},
	}
	return &ast.Function{Name: "checksum", ReturnType: u64(), Body: body}
}

// passwordCheckProgram returns whether the invocation's raw input matches a
// secret compiled directly into the protected unit as a string literal,
// exercising BuiltinEqBytes against a heap-resident local.
func passwordCheckProgram() *ast.Function {
	body := &ast.Block{
		Statements: []ast.Stmt{
			&ast.LetStmt{Name: "secret", Type: ast.Type{Kind: ast.StringType}, Value: &ast.StringLiteral{Value: "hunter2"}},
		},
		Tail: &ast.BuiltinExpr{
			Op:   ast.BuiltinEqBytes,
			Args: []ast.Expr{&ast.InputExpr{}, &ast.Ident{Name: "secret", Type: ast.Type{Kind: ast.StringType}}},
			Type: boolT(),
		},
	}
	return &ast.Function{Name: "password_check", ReturnType: boolT(), Body: body}
}

// keyDeriveProgram folds the input bytes through a small multiply-xor
// mixer, standing in for a bytecode-protected key-derivation step: every
// byte perturbs an accumulator via two MBA-eligible binary ops, a MUL and
// an XOR. The substitution catalog (§4.3) dresses the XOR site at
// standard/paranoid levels; its MUL menu holds only the direct form.
func keyDeriveProgram() *ast.Function {
	idxIdent := &ast.Ident{Name: "idx", Type: u64()}
	body := &ast.Block{
		Statements: []ast.Stmt{
			&ast.LetStmt{Name: "acc", Type: u64(), Value: &ast.IntLiteral{Value: 0x9E3779B97F4A7C15, Type: u64()}},
			&ast.LetStmt{Name: "n", Type: u64(), Value: &ast.BuiltinExpr{
				Op:   ast.BuiltinLen,
				Args: []ast.Expr{&ast.InputExpr{}},
				Type: u64(),
			}},
			&ast.ForRangeStmt{
				Binding: "idx",
				Low:     &ast.IntLiteral{Value: 0, Type: u64()},
				High:    &ast.Ident{Name: "n", Type: u64()},
				Body: &ast.Block{
					Statements: []ast.Stmt{
						&ast.LetStmt{Name: "b", Type: u64(), Value: &ast.IndexExpr{
							Object: &ast.InputExpr{},
							Index:  idxIdent,
							Type:   u64(),
						}},
						&ast.AssignStmt{
							Target: &ast.Ident{Name: "acc", Type: u64()},
							Value: &ast.BinaryExpr{
								Op:   ast.OpXor,
								Left: &ast.BinaryExpr{Op: ast.OpMul, Left: &ast.Ident{Name: "acc", Type: u64()}, Right: &ast.IntLiteral{Value: 0x100000001B3, Type: u64()}, Type: u64()},
								Right: &ast.Ident{Name: "b", Type: u64()},
								Type: u64(),
							},
						},
					},
				},
			},
		},
		Tail: &ast.Ident{Name: "acc", Type: u64()},
	}
	return &ast.Function{Name: "key_derive", ReturnType: u64(), Body: body}
}

// matchDemoProgram classifies the first input byte into a small bucket
// label (0..3), exercising MatchExpr's range-pattern lowering.
func matchDemoProgram() *ast.Function {
	firstByte := &ast.IndexExpr{
		Object: &ast.InputExpr{},
		Index:  &ast.IntLiteral{Value: 0, Type: u64()},
		Type:   u64(),
	}
	body := &ast.Block{
		Tail: &ast.MatchExpr{
			Subject: firstByte,
			Type:    u64(),
			Arms: []ast.MatchArm{
				{Pattern: &ast.RangePattern{Low: &ast.IntLiteral{Value: 0, Type: u64()}, High: &ast.IntLiteral{Value: 31, Type: u64()}}, Body: &ast.Block{Tail: &ast.IntLiteral{Value: 0, Type: u64()}}},
				{Pattern: &ast.RangePattern{Low: &ast.IntLiteral{Value: 32, Type: u64()}, High: &ast.IntLiteral{Value: 126, Type: u64()}}, Body: &ast.Block{Tail: &ast.IntLiteral{Value: 1, Type: u64()}}},
				{Pattern: &ast.RangePattern{Low: &ast.IntLiteral{Value: 127, Type: u64()}, High: &ast.IntLiteral{Value: 191, Type: u64()}}, Body: &ast.Block{Tail: &ast.IntLiteral{Value: 2, Type: u64()}}},
				{Pattern: &ast.WildcardPattern{}, Body: &ast.Block{Tail: &ast.IntLiteral{Value: 3, Type: u64()}}},
			},
		},
	}
	return &ast.Function{Name: "match_demo", ReturnType: u64(), Body: body}
}

func samples() []sample {
	return []sample{
		{name: "checksum", desc: "position-weighted checksum of the input bytes", fn: checksumProgram()},
		{name: "password_check", desc: "compares input against a compiled-in secret string", fn: passwordCheckProgram()},
		{name: "key_derive", desc: "multiply/xor mixer over the input bytes", fn: keyDeriveProgram()},
		{name: "match_demo", desc: "buckets the first input byte by ascii range", fn: matchDemoProgram()},
	}
}

func sampleNames() []string {
	ss := samples()
	names := make([]string, len(ss))
	for i, s := range ss {
		names[i] = s.name
	}
	sort.Strings(names)
	return names
}

func lookupSample(name string) *sample {
	for _, s := range samples() {
		if s.name == name {
			return &s
		}
	}
	return nil
}
