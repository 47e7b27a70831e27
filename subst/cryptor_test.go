package subst

import (
	"bytes"
	"math/bits"
	"testing"

	"github.com/google/gofuzz"

	"github.com/probeum/vmshroud/opcode"
)

// runChain interprets a value-cryptor chain the way run (arith_test.go)
// interprets a substitution variant: a tiny stack machine understanding
// only the opcodes ValueCryptorChain ever emits.
func runChain(t *testing.T, seq []Instr) uint64 {
	t.Helper()
	var stack []uint64
	pop := func() uint64 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}
	for _, ins := range seq {
		switch ins.Op {
		case opcode.PUSH_U64:
			stack = append(stack, ins.Imm)
		case opcode.ADD:
			k := pop()
			stack = append(stack, pop()+k)
		case opcode.SUB:
			k := pop()
			stack = append(stack, pop()-k)
		case opcode.XOR:
			k := pop()
			stack = append(stack, pop()^k)
		case opcode.ROL:
			k := pop()
			stack = append(stack, bits.RotateLeft64(pop(), int(k)))
		case opcode.ROR:
			k := pop()
			stack = append(stack, bits.RotateLeft64(pop(), -int(k)))
		case opcode.NOT:
			stack = append(stack, ^pop())
		case opcode.NEG:
			stack = append(stack, -pop())
		default:
			t.Fatalf("runChain: unhandled opcode %s in value-cryptor chain", ins.Op)
		}
	}
	if len(stack) != 1 {
		t.Fatalf("runChain: sequence left %d words on the stack, want 1", len(stack))
	}
	return stack[0]
}

// edgeLiterals is §8 invariant 3's curated edge set, plus 256 fuzzed values.
func edgeLiterals(t *testing.T) []uint64 {
	t.Helper()
	const minSigned = uint64(1) << 63
	literals := []uint64{0, 1, maxU64, maxU64 - 1, minSigned, minSigned + 1}

	f := fuzz.New()
	for i := 0; i < 256; i++ {
		var v uint64
		f.Fuzz(&v)
		literals = append(literals, v)
	}
	return literals
}

func TestValueCryptorChainRoundTrips(t *testing.T) {
	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = byte(i * 37)
	}
	s := NewStream(bytes.NewReader(buf))

	for _, lit := range edgeLiterals(t) {
		seq := ValueCryptorChain(s, lit, 3, 7)
		if got := runChain(t, seq); got != lit {
			t.Fatalf("ValueCryptorChain(%d): round-trip got %d, want %d", lit, got, lit)
		}
	}
}

// TestValueCryptorChainKeysNeverEqualLiteral checks §8 invariant 4's "the
// chain's constants never equal the literal" against the keyed links
// (ADD/SUB/XOR, each immediately preceded by a PUSH_U64 of its operand).
func TestValueCryptorChainKeysNeverEqualLiteral(t *testing.T) {
	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = byte(i*37 + 13)
	}
	s := NewStream(bytes.NewReader(buf))

	for _, lit := range edgeLiterals(t) {
		seq := ValueCryptorChain(s, lit, 3, 7)
		for i, ins := range seq {
			if ins.Op != opcode.PUSH_U64 || i+1 >= len(seq) {
				continue
			}
			switch seq[i+1].Op {
			case opcode.ADD, opcode.SUB, opcode.XOR:
				if ins.Imm == lit {
					t.Fatalf("ValueCryptorChain(%d): a keyed link's constant equals the literal", lit)
				}
			}
		}
	}
}

func TestValueCryptorChainLengthBounds(t *testing.T) {
	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = byte(i * 53)
	}
	s := NewStream(bytes.NewReader(buf))

	for i := 0; i < 64; i++ {
		seq := ValueCryptorChain(s, uint64(i), 3, 7)
		steps := 0
		for _, ins := range seq {
			if ins.Op != opcode.PUSH_U64 {
				steps++
			}
		}
		if steps < 3 || steps > 7 {
			t.Fatalf("ValueCryptorChain chain length %d outside [3,7]", steps)
		}
	}
}
