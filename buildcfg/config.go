// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package buildcfg loads the per-protected-unit TOML configuration a build
// invocation reads before compiling: protection level, seed file location,
// and heap-size and instruction-count overrides, in the same decoding style the
// teacher's node configuration uses.
package buildcfg

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"

	"github.com/probeum/vmshroud/subst"
	"github.com/probeum/vmshroud/vm"
)

// tomlSettings ensures TOML keys match Go struct field names verbatim,
// mirroring the node configuration's decoding convention.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// LevelName decodes a TOML string into a subst.Level.
type LevelName string

// Resolve maps a LevelName onto its subst.Level, defaulting to
// LevelStandard for an empty or unrecognized value.
func (n LevelName) Resolve() subst.Level {
	return subst.ParseLevel(string(n))
}

// Config is one protected unit's build-time configuration.
type Config struct {
	// Level selects the protection level this unit compiles at: "debug",
	// "standard", or "paranoid" (§4.5's behavioral matrix).
	Level LevelName `toml:",omitempty"`
	// SeedFile overrides where the build's Seed is read from; empty uses
	// the embedder's default path convention.
	SeedFile string `toml:",omitempty"`
	// HeapLimit overrides vm.DefaultHeapLimit in bytes; zero keeps the
	// default.
	HeapLimit uint32 `toml:",omitempty"`
	// MaxInstructions overrides vm.DefaultMaxInstructions; zero keeps the
	// default.
	MaxInstructions uint64 `toml:",omitempty"`
}

// Default returns a Config with every field at its built-in default.
func Default() Config {
	return Config{
		Level:           "standard",
		HeapLimit:       vm.DefaultHeapLimit,
		MaxInstructions: vm.DefaultMaxInstructions,
	}
}

// knownLevels is the closed set of Level strings §4.5 names; anything else
// in a config file is almost certainly a typo, not a level this build
// should silently fall back to "standard" for.
var knownLevels = map[LevelName]bool{"": true, "debug": true, "standard": true, "paranoid": true}

// Load reads and decodes a TOML file at path into cfg, which the caller
// should have already initialized with Default() so unset fields keep
// their defaults rather than zero values.
func Load(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	if err == nil && !knownLevels[cfg.Level] {
		err = fmt.Errorf("%s: unrecognized level %q (want debug, standard, or paranoid)", path, cfg.Level)
	}
	return err
}

// Dump marshals cfg back to TOML text, for an inspect/dump-config command.
func Dump(cfg *Config) ([]byte, error) {
	return tomlSettings.Marshal(cfg)
}
