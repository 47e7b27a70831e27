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

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/probeum/vmshroud/envelope"
	"github.com/probeum/vmshroud/opcode"
	"github.com/probeum/vmshroud/seed"
	"github.com/probeum/vmshroud/subst"
	"github.com/probeum/vmshroud/vm"
)

var inspectCommand = cli.Command{
	Action:    inspect,
	Name:      "inspect",
	Usage:     "print an envelope's header, region table, and (optionally) final vm state",
	ArgsUsage: " ",
	Flags:     []cli.Flag{seedFileFlag, levelFlag, inFlag, inputFlag, maxInstrFlag, dumpStateFlag},
}

// vmSnapshot mirrors the handful of *vm.State fields inspect can reach
// through its exported accessors, so -dump-state has a plain struct to
// hand to spew instead of reaching into unexported internals.
type vmSnapshot struct {
	Result           uint64
	InstructionCount uint64
	Halted           bool
	YieldMask        uint8
	HeapLiveCount    int
	Registers        [8]uint64
}

func inspect(ctx *cli.Context) error {
	path := ctx.String(inFlag.Name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cryptvmc: reading %s: %w", path, err)
	}

	env, err := envelope.Parse(raw)
	if err != nil {
		return fmt.Errorf("cryptvmc: parsing %s: %w", path, err)
	}

	fmt.Printf("file:     %s\n", path)
	fmt.Printf("version:  %d\n", env.Version)
	fmt.Printf("level:    %s\n", env.Level)
	fmt.Printf("build-id: %s\n", uuid.UUID(env.BuildID).String())
	fmt.Printf("nonce:    %x\n", env.Nonce)

	s, err := seed.Load(ctx.String(seedFileFlag.Name))
	if err != nil {
		return fmt.Errorf("cryptvmc: loading seed: %w", err)
	}
	bundle, err := seed.DeriveCached(s)
	if err != nil {
		return fmt.Errorf("cryptvmc: deriving bundle: %w", err)
	}
	level := subst.ParseLevel(ctx.String(levelFlag.Name))

	bytecode, err := envelope.Open(raw, bundle, level)
	if err != nil {
		return fmt.Errorf("cryptvmc: opening envelope (wrong seed or level?): %w", err)
	}
	regions := envelope.ComputeRegions(bytecode, bundle.RegionMult, bundle.RegionOff)

	fmt.Printf("bytecode: %d bytes across %d regions\n\n", len(bytecode), len(regions))
	printRegionTable(regions)
	printOpcodeTable(bundle.OpcodeTbl)

	if !ctx.Bool(dumpStateFlag.Name) {
		return nil
	}

	st := vm.NewState(0, nil)
	input := []byte(ctx.String(inputFlag.Name))
	result, runErr := vm.ExecuteLimited(raw, bundle, level, st, input, ctx.Uint64(maxInstrFlag.Name))
	snap := vmSnapshot{
		Result:           result,
		InstructionCount: st.InstructionCount(),
		Halted:           st.Halted(),
		YieldMask:        st.YieldMask(),
		HeapLiveCount:    st.Heap().LiveCount(),
	}
	for r := range snap.Registers {
		snap.Registers[r] = st.Register(uint8(r))
	}
	fmt.Println()
	spew.Dump(snap)
	return runErr
}

func printRegionTable(regions []envelope.Region) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"region", "offset", "length", "hash"})
	for i, r := range regions {
		table.Append([]string{
			fmt.Sprintf("%d", i),
			fmt.Sprintf("%d", r.Offset),
			fmt.Sprintf("%d", r.Length),
			fmt.Sprintf("%016x", r.Hash),
		})
	}
	table.Render()
	fmt.Println()
}

func printOpcodeTable(tbl *opcode.Table) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"opcode", "byte"})
	for i := 0; i < opcode.Count(); i++ {
		l := opcode.Logical(i)
		table.Append([]string{l.String(), fmt.Sprintf("%#02x", tbl.Encode(l))})
	}
	table.Render()
}
