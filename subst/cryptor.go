package subst

import (
	"math/bits"

	"github.com/probeum/vmshroud/opcode"
)

// chainKind enumerates the reversible byte-level operations the value
// cryptor may compose into a decryption chain (§4.3).
type chainKind int

const (
	chainAdd chainKind = iota
	chainSub
	chainXor
	chainRol
	chainRor
	chainNot
	chainNeg
)

const numChainKinds = 7

// chainStep is one link: kind plus, for the keyed kinds, the constant or
// rotate amount.
type chainStep struct {
	kind chainKind
	k    uint64 // operand for Add/Sub/Xor; rotate amount (1-63) for Rol/Ror
}

func (c chainStep) forward(x uint64) uint64 {
	switch c.kind {
	case chainAdd:
		return x + c.k
	case chainSub:
		return x - c.k
	case chainXor:
		return x ^ c.k
	case chainRol:
		return bits.RotateLeft64(x, int(c.k))
	case chainRor:
		return bits.RotateLeft64(x, -int(c.k))
	case chainNot:
		return ^x
	case chainNeg:
		return -x
	}
	panic("subst: unknown chain kind")
}

func (c chainStep) inverse(x uint64) uint64 {
	switch c.kind {
	case chainAdd:
		return x - c.k
	case chainSub:
		return x + c.k
	case chainXor:
		return x ^ c.k
	case chainRol:
		return bits.RotateLeft64(x, -int(c.k))
	case chainRor:
		return bits.RotateLeft64(x, int(c.k))
	case chainNot:
		return ^x
	case chainNeg:
		return -x
	}
	panic("subst: unknown chain kind")
}

// ValueCryptorChain produces the bytecode for a literal push rewritten as a
// reversible decryption chain: a seed constant (never equal to literal)
// followed by minLen..maxLen operations that transform it into literal at
// runtime. The chain's constants are drawn from s and are individually
// re-rolled until they differ from literal, per spec.
func ValueCryptorChain(s *Stream, literal uint64, minLen, maxLen int) []Instr {
	if minLen < 3 {
		minLen = 3
	}
	if maxLen > 7 {
		maxLen = 7
	}
	if maxLen < minLen {
		maxLen = minLen
	}
	n := minLen + s.Choice(maxLen-minLen+1)

	steps := make([]chainStep, n)
	for i := range steps {
		kind := chainKind(s.Choice(numChainKinds))
		var k uint64
		switch kind {
		case chainAdd, chainSub, chainXor:
			for {
				k = s.Uint64()
				if k != literal {
					break
				}
			}
		case chainRol, chainRor:
			for {
				k = uint64(s.Choice(63)) + 1 // 1..63, a 0-rotate would be a no-op link
				if k != literal {
					break
				}
			}
		}
		steps[i] = chainStep{kind: kind, k: k}
	}

	seed := literal
	for i := n - 1; i >= 0; i-- {
		seed = steps[i].inverse(seed)
	}
	if seed == literal {
		return ValueCryptorChain(s, literal, minLen, maxLen)
	}

	out := []Instr{push(seed)}
	for _, st := range steps {
		switch st.kind {
		case chainAdd:
			out = append(out, push(st.k), op(opcode.ADD))
		case chainSub:
			out = append(out, push(st.k), op(opcode.SUB))
		case chainXor:
			out = append(out, push(st.k), op(opcode.XOR))
		case chainRol:
			out = append(out, push(st.k), op(opcode.ROL))
		case chainRor:
			out = append(out, push(st.k), op(opcode.ROR))
		case chainNot:
			out = append(out, op(opcode.NOT))
		case chainNeg:
			out = append(out, op(opcode.NEG))
		}
	}
	return out
}
