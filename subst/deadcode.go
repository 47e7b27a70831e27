package subst

import "github.com/probeum/vmshroud/opcode"

// DeadCodeInserter decides, for any candidate position identified only by
// the current length of emitted bytecode, whether a dead-code snippet
// belongs there. Per §4.3 the position test is "an entropy function of the
// current bytecode length" rather than a further RNG draw: the inserter
// draws exactly one seed from the stream up front (Seed64) and mixes it
// with codeLen on every ShouldInsert call, so re-compiling the same
// program under the same build produces the same insertion points without
// the stream's cursor depending on how many positions were examined.
type DeadCodeInserter struct {
	seed   uint64
	chance int // out of 256
}

// NewDeadCodeInserter builds an inserter keyed by one stream draw, gated at
// the given chance-out-of-256.
func NewDeadCodeInserter(s *Stream, chance int) *DeadCodeInserter {
	return &DeadCodeInserter{seed: s.Seed64(), chance: chance}
}

// mix64 is a SplitMix64-style finalizer, used only to turn (seed, codeLen)
// into a well-distributed decision bit; it is not a security primitive.
func mix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// ShouldInsert reports whether a dead-code snippet should be emitted given
// the bytecode length so far.
func (d *DeadCodeInserter) ShouldInsert(codeLen int) bool {
	if d.chance <= 0 {
		return false
	}
	h := mix64(d.seed ^ uint64(codeLen))
	return int(h%256) < d.chance
}

// StatementSnippet returns a value-neutral instruction sequence safe to
// insert at any statement boundary, where the operand stack is at its
// pre-statement depth and may be empty: push a stream-drawn constant, then
// immediately discard it.
func StatementSnippet(s *Stream) []Instr {
	k := s.Uint64()
	return []Instr{push(k), op(opcode.POP)}
}

// ExpressionSnippet returns a value-neutral sequence safe only where the
// operand stack is already known non-empty (mid-expression evaluation): it
// duplicates the top word, XORs the duplicate against itself to produce
// zero, and discards the zero, leaving the original top-of-stack value and
// every word beneath it untouched.
func ExpressionSnippet() []Instr {
	return []Instr{op(opcode.DUP), op(opcode.XOR), op(opcode.POP)}
}
