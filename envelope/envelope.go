// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package envelope implements §4.5: the authenticated, integrity-tagged
// container that binds compiled bytecode, the per-build opcode table, and a
// region-hash table to the seed's build-id. Production (Build) happens at
// compile time; verification (Open) happens once at engine load time.
package envelope

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/probeum/vmshroud/opcode"
	"github.com/probeum/vmshroud/seed"
	"github.com/probeum/vmshroud/subst"
)

// Magic identifies the envelope format. Version is bumped whenever the
// framing below changes shape.
var Magic = [4]byte{'V', 'M', 'S', 'H'}

const Version byte = 1

// fixedRegionSize is the window size region hashes are computed over
// (§4.5's "fixed 64-byte regions, last region may be short").
const fixedRegionSize = 64

// regionEntrySize is the serialized size of one Region: offset(4) +
// length(4) + hash(8).
const regionEntrySize = 16

// Region is one tamper-localization window over the plaintext bytecode.
type Region struct {
	Offset uint32
	Length uint32
	Hash   uint64
}

// Envelope is a parsed, not-yet-verified container. Open returns the
// recovered bytecode directly rather than this type; Envelope exists for
// inspection tooling (cmd/cryptvmc inspect) that wants the header fields
// without decrypting.
type Envelope struct {
	Version byte
	Level   subst.Level
	BuildID [16]byte
	Nonce   [12]byte
	body    []byte // ciphertext (standard/paranoid) or raw plaintext (debug)
}

// hashRegion computes the seed-derived FNV-style digest of data, per
// §4.1's region_fnv (multiplier, offset) and §4.5's per-region hashing.
func hashRegion(data []byte, mult, off uint64) uint64 {
	h := off
	for _, b := range data {
		h ^= uint64(b)
		h *= mult
	}
	return h
}

// ComputeRegions splits bytecode into fixed-size windows and hashes each
// one under the build's region constants.
func ComputeRegions(bytecode []byte, mult, off uint64) []Region {
	var regions []Region
	for start := 0; start < len(bytecode); start += fixedRegionSize {
		end := start + fixedRegionSize
		if end > len(bytecode) {
			end = len(bytecode)
		}
		chunk := bytecode[start:end]
		regions = append(regions, Region{
			Offset: uint32(start),
			Length: uint32(len(chunk)),
			Hash:   hashRegion(chunk, mult, off),
		})
	}
	return regions
}

func serializeRegions(regions []Region) []byte {
	out := make([]byte, 4+len(regions)*regionEntrySize)
	binary.LittleEndian.PutUint32(out[0:], uint32(len(regions)))
	pos := 4
	for _, r := range regions {
		binary.LittleEndian.PutUint32(out[pos:], r.Offset)
		binary.LittleEndian.PutUint32(out[pos+4:], r.Length)
		binary.LittleEndian.PutUint64(out[pos+8:], r.Hash)
		pos += regionEntrySize
	}
	return out
}

func deserializeRegions(raw []byte) ([]Region, []byte, error) {
	if len(raw) < 4 {
		return nil, nil, fmt.Errorf("envelope: truncated region count")
	}
	n := binary.LittleEndian.Uint32(raw[0:])
	pos := 4
	regions := make([]Region, n)
	for i := range regions {
		if pos+regionEntrySize > len(raw) {
			return nil, nil, fmt.Errorf("envelope: truncated region table")
		}
		regions[i] = Region{
			Offset: binary.LittleEndian.Uint32(raw[pos:]),
			Length: binary.LittleEndian.Uint32(raw[pos+4:]),
			Hash:   binary.LittleEndian.Uint64(raw[pos+8:]),
		}
		pos += regionEntrySize
	}
	return regions, raw[pos:], nil
}

// plaintextPayload is what gets concatenated-then-encrypted (or, at debug
// level, stored directly): the per-build serialized opcode table, the
// region table, and the bytecode, in that order (§4.2's "produces its own
// serialized form embedded into the envelope").
func plaintextPayload(tbl *opcode.Table, regions []Region, bytecode []byte) []byte {
	tblBytes := tbl.Serialize()
	regionBytes := serializeRegions(regions)
	out := make([]byte, 0, len(tblBytes)+len(regionBytes)+len(bytecode))
	out = append(out, tblBytes...)
	out = append(out, regionBytes...)
	out = append(out, bytecode...)
	return out
}

func header(version byte, level subst.Level, buildID [16]byte) []byte {
	out := make([]byte, 0, 4+1+1+16)
	out = append(out, Magic[:]...)
	out = append(out, version, byte(level))
	out = append(out, buildID[:]...)
	return out
}

// Build produces the on-disk envelope bytes for bytecode under bundle, at
// the given protection level (§4.5's production rule). Debug level skips
// encryption outright ("no cryptographic check is performed" at load is
// only meaningful if there is nothing to check); standard and paranoid both
// authenticated-encrypt the payload under chacha20poly1305 — they differ
// only in how much of the recovered plaintext Open re-verifies.
func Build(bytecode []byte, bundle *seed.Bundle, level subst.Level) ([]byte, error) {
	regions := ComputeRegions(bytecode, bundle.RegionMult, bundle.RegionOff)
	plaintext := plaintextPayload(bundle.OpcodeTbl, regions, bytecode)
	hdr := header(Version, level, bundle.BuildID)

	if level == subst.LevelDebug {
		out := make([]byte, 0, len(hdr)+12+len(plaintext))
		out = append(out, hdr...)
		out = append(out, make([]byte, 12)...) // nonce unused at debug
		out = append(out, plaintext...)
		return out, nil
	}

	aead, err := chacha20poly1305.New(bundle.CipherKey[:])
	if err != nil {
		return nil, fmt.Errorf("envelope: building cipher: %w", err)
	}
	var nonce [12]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("envelope: sampling nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce[:], plaintext, hdr)

	out := make([]byte, 0, len(hdr)+len(nonce)+len(ciphertext))
	out = append(out, hdr...)
	out = append(out, nonce[:]...)
	out = append(out, ciphertext...)
	return out, nil
}

// Parse splits raw into its header fields and its (still encrypted, unless
// debug level) body, without touching the seed bundle. Used by inspection
// tooling that wants to show the build-id/level before deciding whether it
// even has the right seed.
func Parse(raw []byte) (*Envelope, error) {
	if len(raw) < 4+1+1+16+12 {
		return nil, &LoadError{Kind: BadMagic}
	}
	if !bytes.Equal(raw[0:4], Magic[:]) {
		return nil, &LoadError{Kind: BadMagic}
	}
	version := raw[4]
	if version != Version {
		return nil, &LoadError{Kind: VersionMismatch}
	}
	level := subst.Level(raw[5])
	e := &Envelope{Version: version, Level: level}
	copy(e.BuildID[:], raw[6:22])
	copy(e.Nonce[:], raw[22:34])
	e.body = raw[34:]
	return e, nil
}

// Open recovers bytecode from raw under bundle, performing the checks
// §4.5's behavioral matrix requires at level: build-id is always compared;
// standard and above verify the full-payload authenticator; paranoid
// additionally re-hashes every region.
func Open(raw []byte, bundle *seed.Bundle, level subst.Level) ([]byte, error) {
	e, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if e.Level != level {
		return nil, &LoadError{Kind: BuildMismatch}
	}
	if !bytes.Equal(e.BuildID[:], bundle.BuildID[:]) {
		return nil, &LoadError{Kind: BuildMismatch}
	}

	var plaintext []byte
	if level == subst.LevelDebug {
		plaintext = e.body
	} else {
		aead, err := chacha20poly1305.New(bundle.CipherKey[:])
		if err != nil {
			return nil, fmt.Errorf("envelope: building cipher: %w", err)
		}
		hdr := header(e.Version, e.Level, e.BuildID)
		plaintext, err = aead.Open(nil, e.Nonce[:], e.body, hdr)
		if err != nil {
			return nil, &LoadError{Kind: DecryptFailure}
		}
	}

	tblBytes := plaintext[:opcode.ByteAlphabetSize*2]
	tbl, err := opcode.Deserialize(tblBytes)
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	if err := tbl.Verify(); err != nil {
		return nil, &LoadError{Kind: BuildMismatch}
	}

	regions, bytecode, err := deserializeRegions(plaintext[len(tblBytes):])
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}

	if level == subst.LevelParanoid {
		for i, r := range regions {
			end := int(r.Offset) + int(r.Length)
			if end > len(bytecode) {
				return nil, &LoadError{Kind: IntegrityFailure, Region: i}
			}
			got := hashRegion(bytecode[r.Offset:end], bundle.RegionMult, bundle.RegionOff)
			if got != r.Hash {
				return nil, &LoadError{Kind: IntegrityFailure, Region: i}
			}
		}
	}

	return bytecode, nil
}

// OpcodeTable performs the same checks as Open on raw and, when they pass,
// returns bundle's own opcode table. It does not return the table
// serialized inside raw; Open only deserializes and verifies that copy.
func OpcodeTable(raw []byte, bundle *seed.Bundle, level subst.Level) (*opcode.Table, error) {
	// Open already validates and returns the bytecode; re-deriving the
	// table straight from the bundle is equivalent and cheaper than
	// re-parsing the envelope a second time.
	if _, err := Open(raw, bundle, level); err != nil {
		return nil, err
	}
	return bundle.OpcodeTbl, nil
}
