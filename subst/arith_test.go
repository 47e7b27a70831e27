package subst

import (
	"bytes"
	"testing"

	"github.com/google/gofuzz"

	"github.com/probeum/vmshroud/opcode"
)

// run interprets seq against a register file preloaded with a in reg 0 and
// b in reg 1, returning the single word left on the stack. It only
// understands the small instruction subset package subst's variant tables
// emit, which keeps this test free of an import on package vm (vm already
// imports subst for subst.Level, so the reverse import is not available).
func run(t *testing.T, seq []Instr, regs [2]uint64) uint64 {
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
		case opcode.LOAD_REG:
			stack = append(stack, regs[ins.Imm])
		case opcode.STORE_REG:
			regs[ins.Imm] = pop()
		case opcode.DUP:
			stack = append(stack, stack[len(stack)-1])
		case opcode.ADD:
			b, a := pop(), pop()
			stack = append(stack, a+b)
		case opcode.SUB:
			b, a := pop(), pop()
			stack = append(stack, a-b)
		case opcode.XOR:
			b, a := pop(), pop()
			stack = append(stack, a^b)
		case opcode.AND:
			b, a := pop(), pop()
			stack = append(stack, a&b)
		case opcode.OR:
			b, a := pop(), pop()
			stack = append(stack, a|b)
		case opcode.NOT:
			stack = append(stack, ^pop())
		case opcode.NEG:
			stack = append(stack, -pop())
		case opcode.MUL:
			b, a := pop(), pop()
			stack = append(stack, a*b)
		default:
			t.Fatalf("run: unhandled opcode %s in substitution variant", ins.Op)
		}
	}
	if len(stack) != 1 {
		t.Fatalf("run: sequence left %d words on the stack, want 1", len(stack))
	}
	return stack[0]
}

// edgeOperands is §8 invariant 3's curated edge set, plus 256 fuzzed pairs.
func edgeOperands(t *testing.T) [][2]uint64 {
	t.Helper()
	const minSigned = uint64(1) << 63
	base := []uint64{0, 1, maxU64, maxU64 - 1, minSigned, minSigned + 1}
	var pairs [][2]uint64
	for _, a := range base {
		for _, b := range base {
			pairs = append(pairs, [2]uint64{a, b})
		}
	}

	f := fuzz.New()
	for i := 0; i < 256; i++ {
		var a, b uint64
		f.Fuzz(&a)
		f.Fuzz(&b)
		pairs = append(pairs, [2]uint64{a, b})
	}
	return pairs
}

func TestAddVariantsAgreeWithDirectSum(t *testing.T) {
	for _, pair := range edgeOperands(t) {
		want := pair[0] + pair[1]
		for i, v := range addVariants {
			got := run(t, v(0, 1), pair)
			if got != want {
				t.Fatalf("add variant %d on (%d,%d): got %d, want %d", i, pair[0], pair[1], got, want)
			}
		}
	}
}

func TestSubVariantsAgreeWithDirectDifference(t *testing.T) {
	for _, pair := range edgeOperands(t) {
		want := pair[0] - pair[1]
		for i, v := range subVariants {
			got := run(t, v(0, 1), pair)
			if got != want {
				t.Fatalf("sub variant %d on (%d,%d): got %d, want %d", i, pair[0], pair[1], got, want)
			}
		}
	}
}

func TestXorVariantsAgreeWithDirectXor(t *testing.T) {
	for _, pair := range edgeOperands(t) {
		want := pair[0] ^ pair[1]
		for i, v := range xorVariants {
			got := run(t, v(0, 1), pair)
			if got != want {
				t.Fatalf("xor variant %d on (%d,%d): got %d, want %d", i, pair[0], pair[1], got, want)
			}
		}
	}
}

func TestAndVariantsAgreeWithDirectAnd(t *testing.T) {
	for _, pair := range edgeOperands(t) {
		want := pair[0] & pair[1]
		for i, v := range andVariants {
			got := run(t, v(0, 1), pair)
			if got != want {
				t.Fatalf("and variant %d on (%d,%d): got %d, want %d", i, pair[0], pair[1], got, want)
			}
		}
	}
}

func TestOrVariantsAgreeWithDirectOr(t *testing.T) {
	for _, pair := range edgeOperands(t) {
		want := pair[0] | pair[1]
		for i, v := range orVariants {
			got := run(t, v(0, 1), pair)
			if got != want {
				t.Fatalf("or variant %d on (%d,%d): got %d, want %d", i, pair[0], pair[1], got, want)
			}
		}
	}
}

func TestMulVariantsAgreeWithDirectProduct(t *testing.T) {
	for _, pair := range edgeOperands(t) {
		want := pair[0] * pair[1]
		for i, v := range mulVariants {
			got := run(t, v(0, 1), pair)
			if got != want {
				t.Fatalf("mul variant %d on (%d,%d): got %d, want %d", i, pair[0], pair[1], got, want)
			}
		}
	}
}

// TestNotVariantsAgreeWithDirectComplement also covers §8 invariant 7's
// "bitwise NOT of 1u64 is 0xFFFF_FFFF_FFFF_FFFE" example directly.
func TestNotVariantsAgreeWithDirectComplement(t *testing.T) {
	for _, pair := range edgeOperands(t) {
		want := ^pair[0]
		for i, v := range notVariants {
			got := run(t, v(0), [2]uint64{pair[0], 0})
			if got != want {
				t.Fatalf("not variant %d on %d: got %d, want %d", i, pair[0], got, want)
			}
		}
	}
	if got := run(t, notVariants[0](0), [2]uint64{1, 0}); got != 0xFFFF_FFFF_FFFF_FFFE {
		t.Fatalf("bitwise NOT of 1 = %#x, want 0xFFFF_FFFF_FFFF_FFFE", got)
	}
}

func TestShiftAddMulAgreesWithDirectProductForSmallConstants(t *testing.T) {
	for _, a := range []uint64{0, 1, 2, 7, 255, 1000} {
		for _, k := range []uint64{0, 1, 2, 3, 5, 17, 255} {
			want := a * k
			got := run(t, ShiftAddMul(0, k), [2]uint64{a, 0})
			if got != want {
				t.Fatalf("ShiftAddMul(%d, %d): got %d, want %d", a, k, got, want)
			}
		}
	}
}

func TestPickBinaryIsDeterministicAcrossIdenticalStreams(t *testing.T) {
	buf := make([]byte, 256)
	for i := range buf {
		buf[i] = byte(i * 7)
	}
	for _, fam := range []BinaryFamily{FamilyAdd, FamilySub, FamilyXor, FamilyAnd, FamilyOr, FamilyMul} {
		s1 := NewStream(bytes.NewReader(buf))
		s2 := NewStream(bytes.NewReader(buf))
		seq1 := PickBinary(s1, fam, 0, 1)
		seq2 := PickBinary(s2, fam, 0, 1)
		if len(seq1) != len(seq2) {
			t.Fatalf("family %d: PickBinary diverged across identical streams", fam)
		}
		for i := range seq1 {
			if seq1[i] != seq2[i] {
				t.Fatalf("family %d: instruction %d diverged across identical streams", fam, i)
			}
		}
	}
}
