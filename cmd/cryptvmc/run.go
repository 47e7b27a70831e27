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

	"github.com/probeum/vmshroud/seed"
	"github.com/probeum/vmshroud/subst"
	"github.com/probeum/vmshroud/vm"
)

var runCommand = cli.Command{
	Action:    run,
	Name:      "run",
	Usage:     "verify and execute a sealed envelope against raw input",
	ArgsUsage: " ",
	Flags:     []cli.Flag{seedFileFlag, levelFlag, inFlag, inputFlag, maxInstrFlag},
}

func run(ctx *cli.Context) error {
	raw, err := os.ReadFile(ctx.String(inFlag.Name))
	if err != nil {
		return fmt.Errorf("cryptvmc: reading %s: %w", ctx.String(inFlag.Name), err)
	}

	s, err := seed.Load(ctx.String(seedFileFlag.Name))
	if err != nil {
		return fmt.Errorf("cryptvmc: loading seed: %w", err)
	}
	bundle, err := seed.DeriveCached(s)
	if err != nil {
		return fmt.Errorf("cryptvmc: deriving bundle: %w", err)
	}

	level := subst.ParseLevel(ctx.String(levelFlag.Name))
	st := vm.NewState(0, nil)
	input := []byte(ctx.String(inputFlag.Name))

	result, runErr := vm.ExecuteLimited(raw, bundle, level, st, input, ctx.Uint64(maxInstrFlag.Name))
	if runErr != nil {
		fmt.Fprintln(os.Stderr, color.RedString("run failed: %v", runErr))
		return cli.NewExitError("", 1)
	}

	fmt.Printf("result: %s\n", color.GreenString("%d", result))
	fmt.Printf("instructions executed: %d\n", st.InstructionCount())
	return nil
}
