// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package buildcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/probeum/vmshroud/subst"
)

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "unit.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
Level = "paranoid"
SeedFile = "/etc/vmshroud/seed.bin"
HeapLimit = 65536
`), 0o644))

	cfg := Default()
	require.NoError(t, Load(path, &cfg))

	require.Equal(t, subst.LevelParanoid, cfg.Level.Resolve())
	require.Equal(t, "/etc/vmshroud/seed.bin", cfg.SeedFile)
	require.EqualValues(t, 65536, cfg.HeapLimit)
	require.NotZero(t, cfg.MaxInstructions) // untouched field keeps its default
}

func TestLoadRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "unit.toml")
	require.NoError(t, os.WriteFile(path, []byte("Bogus = true\n"), 0o644))

	cfg := Default()
	err := Load(path, &cfg)
	require.Error(t, err)
}

func TestLevelNameResolveDefaultsToStandard(t *testing.T) {
	require.Equal(t, subst.LevelStandard, LevelName("").Resolve())
	require.Equal(t, subst.LevelStandard, LevelName("not-a-real-level").Resolve())
	require.Equal(t, subst.LevelDebug, LevelName("debug").Resolve())
}

func TestDumpRoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Level = "paranoid"
	raw, err := Dump(&cfg)
	require.NoError(t, err)
	require.Contains(t, string(raw), "paranoid")
}
