package subst

import (
	"bytes"
	"testing"

	"github.com/probeum/vmshroud/opcode"
)

// evalPredicate interprets a substitution-generated instruction sequence
// built entirely from literals, scratch-free arithmetic and comparisons
// (no registers, no jumps), returning the single resulting stack word.
func evalPredicate(t *testing.T, seq []Instr) uint64 {
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
		case opcode.DUP:
			stack = append(stack, stack[len(stack)-1])
		case opcode.ADD:
			b, a := pop(), pop()
			stack = append(stack, a+b)
		case opcode.MUL:
			b, a := pop(), pop()
			stack = append(stack, a*b)
		case opcode.MOD:
			b, a := pop(), pop()
			stack = append(stack, a%b)
		case opcode.EQ:
			b, a := pop(), pop()
			if a == b {
				stack = append(stack, 1)
			} else {
				stack = append(stack, 0)
			}
		default:
			t.Fatalf("evalPredicate: unhandled op %s", ins.Op)
		}
	}
	if len(stack) != 1 {
		t.Fatalf("evalPredicate: expected exactly one result, got %d", len(stack))
	}
	return stack[0]
}

func TestOpaquePredicateAlwaysTrue(t *testing.T) {
	s := NewStream(bytes.NewReader(make([]byte, 4096)))
	for i := 0; i < 50; i++ {
		seq := OpaquePredicate(s, true)
		if got := evalPredicate(t, seq); got != 1 {
			t.Fatalf("iteration %d: always-true predicate evaluated to %d", i, got)
		}
	}
}

func TestOpaquePredicateAlwaysFalse(t *testing.T) {
	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = byte(i * 7)
	}
	s := NewStream(bytes.NewReader(buf))
	for i := 0; i < 50; i++ {
		seq := OpaquePredicate(s, false)
		if got := evalPredicate(t, seq); got != 0 {
			t.Fatalf("iteration %d: always-false predicate evaluated to %d", i, got)
		}
	}
}
