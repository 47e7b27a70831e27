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
	"github.com/google/uuid"
	"gopkg.in/urfave/cli.v1"

	"github.com/probeum/vmshroud/seed"
)

var keygenCommand = cli.Command{
	Action:    keygen,
	Name:      "keygen",
	Usage:     "create (or load) a per-build seed file",
	ArgsUsage: " ",
	Flags:     []cli.Flag{seedFileFlag},
	Description: `Loads the seed file named by -seed-file, generating a fresh one
(with a BIP-39 mnemonic backup written alongside it) if it does not yet
exist, and prints the build-id the seed derives.`,
}

func keygen(ctx *cli.Context) error {
	path := ctx.String(seedFileFlag.Name)
	_, alreadyExisted := os.Stat(path)

	s, err := seed.Load(path)
	if err != nil {
		return fmt.Errorf("cryptvmc: loading seed: %w", err)
	}
	bundle, err := seed.Derive(s)
	if err != nil {
		return fmt.Errorf("cryptvmc: deriving bundle: %w", err)
	}

	verb := "loaded existing"
	if alreadyExisted != nil {
		verb = "generated new"
	}
	fmt.Printf("%s seed at %s\n", verb, path)
	fmt.Printf("build-id: %s\n", color.CyanString(uuid.UUID(bundle.BuildID).String()))
	return nil
}
