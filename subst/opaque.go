package subst

import "github.com/probeum/vmshroud/opcode"

// OpaquePredicate emits a bytecode sequence that leaves a single boolean
// word (0 or 1) on the stack whose value is statically fixed — always 1 if
// wantTrue, always 0 otherwise — via the identity x*(x+1) mod 2 == c, which
// holds for every 64-bit x regardless of its runtime value (one of x, x+1
// is always even). The compiler does not call OpaquePredicate, so no
// compiled bytecode contains one.
func OpaquePredicate(s *Stream, wantTrue bool) []Instr {
	x := s.Uint64()
	want := uint64(1)
	if wantTrue {
		want = 0
	}
	seq := []Instr{
		push(x),
		op(opcode.DUP),
		push(1),
		op(opcode.ADD),
		op(opcode.MUL),
		push(2),
		op(opcode.MOD),
		push(want),
		op(opcode.EQ),
	}
	return seq
}
