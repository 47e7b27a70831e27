package opcode

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ByteAlphabetSize is the size of the single-byte encoding space: every
// build's Table is a bijection over exactly this many values.
const ByteAlphabetSize = 256

// Table is a per-build bijection between Logical opcodes and the bytes used
// to represent them in this build's bytecode. Both directions are plain
// array lookups, so encode/decode are constant-time regardless of which
// opcode is queried.
type Table struct {
	encode [logicalCount]byte      // logical -> byte
	decode [ByteAlphabetSize]int16 // byte -> logical, or -1 if unassigned
}

// entropySource yields the next uniformly random byte in [0,256). Table
// construction never needs anything else, which keeps this package free of
// any dependency on how that randomness is produced (seed.Bundle supplies a
// keyed SHAKE256 reader; tests can supply a fixed byte sequence).
type entropySource = io.Reader

// NewTable builds a Table by Fisher-Yates shuffling the 256-byte alphabet
// using rnd as the source of randomness, then assigning the first
// logicalCount shuffled bytes to the logical opcodes in enumeration order.
// Reading single bytes for each swap index is unbiased because the
// remaining range at every step is always a power of two divisor of 256
// only when drawn without modulo; here we instead draw exactly the number of
// bits needed per step via rejection sampling, so the permutation has no
// statistical skew regardless of alphabet size.
func NewTable(rnd entropySource) (*Table, error) {
	if logicalCount > ByteAlphabetSize {
		return nil, fmt.Errorf("opcode: %d logical opcodes exceed the %d-byte alphabet", logicalCount, ByteAlphabetSize)
	}

	perm := make([]byte, ByteAlphabetSize)
	for i := range perm {
		perm[i] = byte(i)
	}

	// Fisher-Yates, high to low, with rejection-sampled draws from rnd so
	// every remaining slot is equally likely regardless of (i+1) not being a
	// power of two.
	for i := ByteAlphabetSize - 1; i > 0; i-- {
		j, err := randIndex(rnd, i+1)
		if err != nil {
			return nil, fmt.Errorf("opcode: shuffling alphabet: %w", err)
		}
		perm[i], perm[j] = perm[j], perm[i]
	}

	t := &Table{}
	for b := range t.decode {
		t.decode[b] = -1
	}
	for i := 0; i < int(logicalCount); i++ {
		b := perm[i]
		t.encode[i] = b
		t.decode[b] = int16(i)
	}
	return t, nil
}

// randIndex draws a uniformly distributed integer in [0, n) from rnd,
// rejecting draws that would introduce modulo bias.
func randIndex(rnd entropySource, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("opcode: randIndex called with n=%d", n)
	}
	if n == 1 {
		return 0, nil
	}
	// Smallest power of two >= n, minus one, as a bitmask.
	var mask uint32 = 1
	for mask < uint32(n) {
		mask <<= 1
	}
	mask--

	buf := make([]byte, 1)
	for {
		if _, err := io.ReadFull(rnd, buf); err != nil {
			return 0, err
		}
		v := uint32(buf[0]) & mask
		if int(v) < n {
			return int(v), nil
		}
	}
}

// Encode returns the byte this build uses to represent l.
func (t *Table) Encode(l Logical) byte {
	return t.encode[l]
}

// Decode returns the logical opcode that byte b represents in this build,
// and false if b is not assigned to any logical opcode (a trap byte).
func (t *Table) Decode(b byte) (Logical, bool) {
	v := t.decode[b]
	if v < 0 {
		return 0, false
	}
	return Logical(v), true
}

// Verify confirms that encode/decode are mutual inverses and that the
// mapping is a true bijection over the assigned subset of the alphabet —
// the property §8 invariant 2 requires of every seed.
func (t *Table) Verify() error {
	seen := make(map[byte]Logical, logicalCount)
	for l := Logical(0); int(l) < int(logicalCount); l++ {
		b := t.encode[l]
		if prior, dup := seen[b]; dup {
			return fmt.Errorf("opcode: byte 0x%02x assigned to both %s and %s", b, prior, l)
		}
		seen[b] = l
		dec, ok := t.Decode(b)
		if !ok || dec != l {
			return fmt.Errorf("opcode: decode(encode(%s)) != %s", l, l)
		}
	}
	return nil
}

// Serialize emits the decode table as 256 two-byte entries, 512 bytes in
// all (byte -> logical index, 0xFFFF meaning "trap") so the engine can reconstruct an identical Table from the
// envelope without re-deriving it from the seed.
func (t *Table) Serialize() []byte {
	out := make([]byte, ByteAlphabetSize*2)
	for b := 0; b < ByteAlphabetSize; b++ {
		v := uint16(0xFFFF)
		if t.decode[b] >= 0 {
			v = uint16(t.decode[b])
		}
		binary.LittleEndian.PutUint16(out[b*2:], v)
	}
	return out
}

// Deserialize reconstructs a Table from bytes produced by Serialize.
func Deserialize(raw []byte) (*Table, error) {
	if len(raw) != ByteAlphabetSize*2 {
		return nil, fmt.Errorf("opcode: serialized table must be %d bytes, got %d", ByteAlphabetSize*2, len(raw))
	}
	t := &Table{}
	for b := 0; b < ByteAlphabetSize; b++ {
		v := binary.LittleEndian.Uint16(raw[b*2:])
		if v == 0xFFFF {
			t.decode[b] = -1
			continue
		}
		if int(v) >= int(logicalCount) {
			return nil, fmt.Errorf("opcode: serialized table references unknown logical opcode %d", v)
		}
		t.decode[b] = int16(v)
		t.encode[v] = byte(b)
	}
	return t, nil
}
