package seed

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/probeum/vmshroud/opcode"
)

// yieldMaskChoices enumerates the legal yield masks: spec §4.1 requires a
// power-of-two-minus-one in [63, 255], i.e. 2^6-1, 2^7-1, or 2^8-1.
var yieldMaskChoices = [3]uint8{63, 127, 255}

// Bundle is the fixed set of per-build artifacts derived deterministically
// from a Seed. Every field is a pure function of Seed.Secret; deriving a
// Bundle twice from the same secret produces byte-identical results.
type Bundle struct {
	BuildID    [16]byte
	OpcodeTbl  *opcode.Table
	CipherKey  [32]byte
	RegionMult uint64
	RegionOff  uint64
	YieldMask  uint8

	substKey [32]byte
}

// hkdfReader expands secret under a domain-separating info label into an
// effectively unbounded, position-reproducible byte stream.
func hkdfReader(secret []byte, info string) io.Reader {
	return hkdf.New(sha3.New256, secret, nil, []byte(info))
}

func hkdfBytes(secret []byte, info string, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdfReader(secret, info), out); err != nil {
		return nil, fmt.Errorf("seed: deriving %q: %w", info, err)
	}
	return out, nil
}

// Derive computes the full Bundle for s. It is the single source of truth
// tying the opcode table, the envelope cipher key, the region-hash
// constants, the substitution stream's seed, and the yield mask to one
// secret, per §1's "each operation's byte value, the algebraic identity
// chosen ... and the key used to decrypt the bytecode are all derived from
// one seed" contract.
func Derive(s *Seed) (*Bundle, error) {
	secret := s.Secret[:]

	buildIDBytes, err := hkdfBytes(secret, "vmshroud/build-id/v1", 16)
	if err != nil {
		return nil, err
	}

	tbl, err := opcode.NewTable(hkdfReader(secret, "vmshroud/opcode-table/v1"))
	if err != nil {
		return nil, fmt.Errorf("seed: deriving opcode table: %w", err)
	}

	cipherKeyBytes, err := hkdfBytes(secret, "vmshroud/cipher-key/v1", 32)
	if err != nil {
		return nil, err
	}

	regionBytes, err := hkdfBytes(secret, "vmshroud/region-fnv/v1", 16)
	if err != nil {
		return nil, err
	}
	mult := binary.LittleEndian.Uint64(regionBytes[:8])
	off := binary.LittleEndian.Uint64(regionBytes[8:])
	// An even multiplier collapses the low bit of every hash update; force
	// it odd so the FNV-style mix stays a bijection on each byte absorbed.
	mult |= 1

	substKeyBytes, err := hkdfBytes(secret, "vmshroud/subst-stream/v1", 32)
	if err != nil {
		return nil, err
	}

	yieldByte, err := hkdfBytes(secret, "vmshroud/yield-mask/v1", 1)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		OpcodeTbl:  tbl,
		RegionMult: mult,
		RegionOff:  off,
		YieldMask:  yieldMaskChoices[int(yieldByte[0])%len(yieldMaskChoices)],
	}
	copy(b.BuildID[:], buildIDBytes)
	copy(b.CipherKey[:], cipherKeyBytes)
	copy(b.substKey[:], substKeyBytes)
	return b, nil
}

// NewSubstStreamReader returns a fresh substitution-stream reader
// positioned at offset zero, keyed by this build's substitution subkey. The
// compiler calls this exactly once per independent compilation so that
// compiling the same tree twice yields byte-identical bytecode (§8
// invariant 1).
func (b *Bundle) NewSubstStreamReader() io.Reader {
	xof := sha3.NewShake256()
	xof.Write(b.substKey[:])
	return xof
}

// cache holds derived Bundles keyed by build-id so that repeatedly opening
// envelopes produced by the same build (the common case for a long-lived
// host process) skips re-running the opcode-table shuffle and the other
// HKDF expansions.
var (
	cacheOnce sync.Once
	cache     *lru.Cache
)

const cacheSize = 64

func bundleCache() *lru.Cache {
	cacheOnce.Do(func() {
		c, err := lru.New(cacheSize)
		if err != nil {
			// lru.New only fails for a non-positive size, which cacheSize
			// never is; a panic here would indicate a programming error.
			panic(fmt.Sprintf("seed: building bundle cache: %v", err))
		}
		cache = c
	})
	return cache
}

// DeriveCached behaves like Derive but memoizes results by build-id in a
// process-wide LRU cache.
func DeriveCached(s *Seed) (*Bundle, error) {
	// The build-id is cheap to compute on its own (one HKDF expand), so it
	// is always recomputed as the cache key even on a hit.
	buildIDBytes, err := hkdfBytes(s.Secret[:], "vmshroud/build-id/v1", 16)
	if err != nil {
		return nil, err
	}
	key := string(buildIDBytes)

	if v, ok := bundleCache().Get(key); ok {
		return v.(*Bundle), nil
	}
	b, err := Derive(s)
	if err != nil {
		return nil, err
	}
	bundleCache().Add(key, b)
	return b, nil
}
