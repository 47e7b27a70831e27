// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command cryptvmc is the build/run/inspect front end for the bytecode
// protection pipeline: it turns one of the built-in sample protected units
// into a sealed envelope (build), executes a sealed envelope against raw
// input (run), and dumps a build's internals for debugging (inspect). It
// has no source-text parser of its own; every program it compiles is one
// of the pre-typed ast.Function trees in samples.go, since turning source
// text into a typed tree is an external collaborator's job.
package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/urfave/cli.v1"

	"github.com/probeum/vmshroud/xlog"
)

var (
	gitCommit = ""
	gitDate   = ""
)

var (
	seedFileFlag = cli.StringFlag{
		Name:  "seed-file",
		Usage: "path to the per-build seed secret (created on first use)",
		Value: "vmshroud.seed",
	}
	levelFlag = cli.StringFlag{
		Name:  "level",
		Usage: "protection level: debug, standard, or paranoid",
		Value: "standard",
	}
	programFlag = cli.StringFlag{
		Name:  "program",
		Usage: "sample protected unit to compile: " + strings.Join(sampleNames(), ", "),
	}
	outFlag = cli.StringFlag{
		Name:  "out",
		Usage: "path to write the sealed envelope to",
		Value: "out.vmsh",
	}
	inFlag = cli.StringFlag{
		Name:  "in",
		Usage: "path to a sealed envelope",
	}
	inputFlag = cli.StringFlag{
		Name:  "input",
		Usage: "raw invocation input, taken literally as bytes",
	}
	maxInstrFlag = cli.Uint64Flag{
		Name:  "max-instructions",
		Usage: "runaway backstop for run (0 keeps vm.DefaultMaxInstructions)",
	}
	dumpStateFlag = cli.BoolFlag{
		Name:  "dump-state",
		Usage: "also execute the envelope and spew-dump the final vm state",
	}
	verboseFlag = cli.BoolFlag{
		Name:  "verbose",
		Usage: "enable debug-level logging",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "cryptvmc"
	app.Usage = "build, run, and inspect bytecode-protected units"
	app.Version = fmt.Sprintf("0.1.0-%s-%s", gitCommit, gitDate)
	app.Flags = []cli.Flag{verboseFlag}
	app.Before = func(ctx *cli.Context) error {
		if ctx.GlobalBool(verboseFlag.Name) {
			xlog.SetLevel(xlog.LevelDebug)
		}
		return nil
	}
	app.Commands = []cli.Command{
		keygenCommand,
		buildCommand,
		runCommand,
		inspectCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
