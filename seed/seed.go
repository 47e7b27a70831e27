// Package seed implements §4.1 of the build-time protection pipeline: it
// obtains the per-build 32-byte secret (from the environment or a sibling
// seed file, generating one if absent) and derives the fixed bundle of
// build artifacts — opcode table, cipher key, region-hash constants,
// substitution stream seed, and yield mask — that the compiler and the
// execution engine must agree on bit-for-bit.
package seed

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/tyler-smith/go-bip39"

	"github.com/probeum/vmshroud/xlog"
)

// Size is the length in bytes of the per-build secret.
const Size = 32

// EnvVar, when set to a 64-character hex string, supersedes the seed file
// and makes builds reproducible across machines without sharing a file.
const EnvVar = "VMSHROUD_BUILD_SEED"

// Seed is the per-build secret. It is read once at construction time and
// then treated as an immutable value threaded into both the compiler and
// the engine — it is never exposed as process-wide mutable state.
type Seed struct {
	Secret [Size]byte
}

// Load resolves the per-build secret: the environment variable wins if
// present; otherwise path is read, or created (with a random secret and a
// BIP-39 mnemonic backup written alongside it) if it does not exist.
func Load(path string) (*Seed, error) {
	if hexSecret, ok := os.LookupEnv(EnvVar); ok {
		s, err := parseHexSecret(hexSecret)
		if err != nil {
			return nil, fmt.Errorf("seed: %s: %w", EnvVar, err)
		}
		xlog.Debug("seed loaded from environment", "var", EnvVar)
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		if len(raw) != Size {
			return nil, fmt.Errorf("seed: %s: expected %d bytes, got %d", path, Size, len(raw))
		}
		s := &Seed{}
		copy(s.Secret[:], raw)
		xlog.Debug("seed loaded from file", "path", path)
		return s, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("seed: reading %s: %w", path, err)
	}

	s, mnemonic, genErr := generate()
	if genErr != nil {
		return nil, genErr
	}
	if writeErr := os.WriteFile(path, s.Secret[:], 0o600); writeErr != nil {
		return nil, fmt.Errorf("seed: writing %s: %w", path, writeErr)
	}
	mnemonicPath := path + ".mnemonic"
	if writeErr := os.WriteFile(mnemonicPath, []byte(mnemonic+"\n"), 0o600); writeErr != nil {
		xlog.Warn("could not write seed mnemonic backup", "path", mnemonicPath, "err", writeErr)
	}
	xlog.Info("generated new build seed", "path", path, "mnemonic_backup", mnemonicPath)
	return s, nil
}

// generate samples a fresh secret and renders it as a 24-word BIP-39
// mnemonic purely as a human-readable disaster-recovery export; the
// mnemonic is never consumed to reconstruct the seed, it exists only so an
// operator can copy it somewhere safe by hand.
func generate() (*Seed, string, error) {
	s := &Seed{}
	if _, err := rand.Read(s.Secret[:]); err != nil {
		return nil, "", fmt.Errorf("seed: sampling entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(s.Secret[:])
	if err != nil {
		return nil, "", fmt.Errorf("seed: rendering mnemonic: %w", err)
	}
	return s, mnemonic, nil
}

func parseHexSecret(hexSecret string) (*Seed, error) {
	if len(hexSecret) != Size*2 {
		return nil, fmt.Errorf("expected %d hex characters, got %d", Size*2, len(hexSecret))
	}
	raw, err := hex.DecodeString(hexSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	s := &Seed{}
	copy(s.Secret[:], raw)
	return s, nil
}
