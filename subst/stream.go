// Package subst implements §4.3: the menu of semantics-preserving rewrites
// the compiler draws on when lowering arithmetic, boolean negation, literal
// pushes, and branch sites — mixed-boolean-arithmetic identities, the value
// cryptor's constant-decryption chains, opaque predicates, and dead code.
package subst

import (
	"encoding/binary"
	"io"
)

// Stream is a cursor over a build's deterministic, position-reproducible
// substitution-stream bytes (spec §4.1's subst_stream). Every method that
// consumes randomness advances the cursor, so two Streams built from
// identical underlying readers make identical choices in identical order.
type Stream struct {
	r io.Reader
}

// NewStream wraps r (typically a fresh seed.Bundle.NewSubstStreamReader())
// as a Stream.
func NewStream(r io.Reader) *Stream {
	return &Stream{r: r}
}

func (s *Stream) readByte() byte {
	var b [1]byte
	if _, err := io.ReadFull(s.r, b[:]); err != nil {
		// subst_stream is a XOF and is, for any practical compilation,
		// unbounded; a read failure here means the reader itself is
		// misconfigured, which is a programming error, not a runtime
		// condition the compiler's callers can recover from.
		panic("subst: stream exhausted or unreadable: " + err.Error())
	}
	return b[0]
}

// Choice returns a uniformly distributed index in [0, n). n must be > 0.
func (s *Stream) Choice(n int) int {
	if n <= 1 {
		return 0
	}
	var mask uint32 = 1
	for mask < uint32(n) {
		mask <<= 1
	}
	mask--
	for {
		v := uint32(s.readByte()) & mask
		if int(v) < n {
			return int(v)
		}
	}
}

// CoinFlip returns true with probability num/den (den > 0, 0 <= num <= den).
func (s *Stream) CoinFlip(num, den int) bool {
	if num <= 0 {
		return false
	}
	if num >= den {
		return true
	}
	return s.Choice(den) < num
}

// Uint64 draws a substitution constant from the stream. It is used by the
// value cryptor to pick the intermediate constants in a decryption chain;
// callers are responsible for excluding degenerate values (e.g. the literal
// being encoded) per-call.
func (s *Stream) Uint64() uint64 {
	var buf [8]byte
	if _, err := io.ReadFull(s.r, buf[:]); err != nil {
		panic("subst: stream exhausted or unreadable: " + err.Error())
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// Seed64 draws one deterministic 64-bit value meant to be cached by a
// caller and reused as the key for a pure, non-stream-consuming entropy
// function (e.g. the dead-code inserter's "is this a good position" test,
// which per §4.3 is a function of bytecode length, not a further stream
// draw).
func (s *Stream) Seed64() uint64 { return s.Uint64() }
