// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"gopkg.in/urfave/cli.v1"

	"github.com/probeum/vmshroud/compiler"
	"github.com/probeum/vmshroud/envelope"
	"github.com/probeum/vmshroud/seed"
	"github.com/probeum/vmshroud/subst"
)

var buildCommand = cli.Command{
	Action:    build,
	Name:      "build",
	Usage:     "compile a sample protected unit and seal it into an envelope",
	ArgsUsage: " ",
	Flags:     []cli.Flag{seedFileFlag, levelFlag, programFlag, outFlag},
}

func build(ctx *cli.Context) error {
	name := ctx.String(programFlag.Name)
	sm := lookupSample(name)
	if sm == nil {
		return fmt.Errorf("cryptvmc: unknown -program %q (want one of: %v)", name, sampleNames())
	}

	s, err := seed.Load(ctx.String(seedFileFlag.Name))
	if err != nil {
		return fmt.Errorf("cryptvmc: loading seed: %w", err)
	}
	bundle, err := seed.Derive(s)
	if err != nil {
		return fmt.Errorf("cryptvmc: deriving bundle: %w", err)
	}

	level := subst.ParseLevel(ctx.String(levelFlag.Name))
	stream := subst.NewStream(bundle.NewSubstStreamReader())
	bytecode, err := compiler.Compile(sm.fn, nil, nil, bundle.OpcodeTbl, stream, level)
	if err != nil {
		return fmt.Errorf("cryptvmc: compiling %q: %w", sm.name, err)
	}

	sealed, err := envelope.Build(bytecode, bundle, level)
	if err != nil {
		return fmt.Errorf("cryptvmc: sealing envelope: %w", err)
	}

	out := ctx.String(outFlag.Name)
	if err := os.WriteFile(out, sealed, 0o644); err != nil {
		return fmt.Errorf("cryptvmc: writing %s: %w", out, err)
	}

	fmt.Printf("compiled %s (%s) -> %d bytecode bytes, %d sealed bytes\n",
		color.GreenString(sm.name), sm.desc, len(bytecode), len(sealed))
	fmt.Printf("wrote %s at level %s\n", out, level)
	return nil
}
