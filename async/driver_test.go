// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package async

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/probeum/vmshroud/ast"
	"github.com/probeum/vmshroud/compiler"
	"github.com/probeum/vmshroud/envelope"
	"github.com/probeum/vmshroud/seed"
	"github.com/probeum/vmshroud/subst"
)

func buildAddEnvelope(t *testing.T, secretByte byte, level subst.Level) (*seed.Bundle, []byte) {
	t.Helper()
	s := &seed.Seed{}
	for i := range s.Secret {
		s.Secret[i] = secretByte
	}
	bundle, err := seed.Derive(s)
	require.NoError(t, err)

	u64 := ast.Type{Kind: ast.U64}
	fn := &ast.Function{
		Name:       "sum",
		ReturnType: u64,
		Body: &ast.Block{
			Tail: &ast.BinaryExpr{
				Op:    ast.OpAdd,
				Left:  &ast.IntLiteral{Value: 19, Type: u64},
				Right: &ast.IntLiteral{Value: 23, Type: u64},
				Type:  u64,
			},
		},
	}
	stream := subst.NewStream(bundle.NewSubstStreamReader())
	bytecode, err := compiler.Compile(fn, nil, nil, bundle.OpcodeTbl, stream, level)
	require.NoError(t, err)

	raw, err := envelope.Build(bytecode, bundle, level)
	require.NoError(t, err)
	return bundle, raw
}

func TestExecuteRunsCompiledProgram(t *testing.T) {
	bundle, raw := buildAddEnvelope(t, 0x11, subst.LevelStandard)
	got, err := Execute(context.Background(), raw, bundle, subst.LevelStandard, nil)
	require.NoError(t, err)
	require.EqualValues(t, 42, got)
}

func TestExecuteHonorsCancellation(t *testing.T) {
	bundle, raw := buildAddEnvelope(t, 0x22, subst.LevelStandard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	time.Sleep(time.Millisecond)
	_, err := Execute(ctx, raw, bundle, subst.LevelStandard, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecuteBatchRunsAllInvocationsIndependently(t *testing.T) {
	b1, r1 := buildAddEnvelope(t, 0x33, subst.LevelStandard)
	b2, r2 := buildAddEnvelope(t, 0x44, subst.LevelParanoid)

	batch := []Invocation{
		{Raw: r1, Bundle: b1, Level: subst.LevelStandard},
		{Raw: r2, Bundle: b2, Level: subst.LevelParanoid},
	}
	results := ExecuteBatch(context.Background(), batch, 2)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NoError(t, r.Err)
		require.EqualValues(t, 42, r.Value)
	}
}
