package subst

import "github.com/probeum/vmshroud/opcode"

// Instr is one instruction in a substitution-generated sequence. Imm is
// populated only for PUSH_U64 (a raw literal) and for LOAD_REG/STORE_REG
// (a register index, stored in the low byte).
type Instr struct {
	Op  opcode.Logical
	Imm uint64
}

func ld(r uint8) Instr     { return Instr{Op: opcode.LOAD_REG, Imm: uint64(r)} }
func st(r uint8) Instr     { return Instr{Op: opcode.STORE_REG, Imm: uint64(r)} }
func op(l opcode.Logical) Instr { return Instr{Op: l} }
func push(v uint64) Instr  { return Instr{Op: opcode.PUSH_U64, Imm: v} }

// BinaryVariant computes a (op) b given two scratch registers that already
// hold the operands (tmpA = a, tmpB = b), leaving exactly one 64-bit result
// on the operand stack.
type BinaryVariant func(tmpA, tmpB uint8) []Instr

// UnaryVariant computes (op) a given a scratch register holding the
// operand, leaving exactly one 64-bit result on the operand stack.
type UnaryVariant func(tmpA uint8) []Instr

const maxU64 = ^uint64(0)

// addVariants realizes every "a + b" lowering from §4.3's table.
var addVariants = []BinaryVariant{
	func(a, b uint8) []Instr { return []Instr{ld(a), ld(b), op(opcode.ADD)} },
	func(a, b uint8) []Instr { return []Instr{ld(a), ld(b), op(opcode.NEG), op(opcode.SUB)} },
	func(a, b uint8) []Instr {
		return []Instr{ld(a), op(opcode.NOT), ld(b), op(opcode.SUB), op(opcode.NOT)}
	},
	func(a, b uint8) []Instr {
		return []Instr{
			ld(a), ld(b), op(opcode.XOR),
			ld(a), ld(b), op(opcode.AND), op(opcode.DUP), op(opcode.ADD),
			op(opcode.ADD),
		}
	},
	func(a, b uint8) []Instr {
		return []Instr{
			ld(a), ld(b), op(opcode.OR),
			ld(a), ld(b), op(opcode.AND),
			op(opcode.ADD),
		}
	},
}

// subVariants realizes every "a - b" lowering.
var subVariants = []BinaryVariant{
	func(a, b uint8) []Instr { return []Instr{ld(a), ld(b), op(opcode.SUB)} },
	func(a, b uint8) []Instr { return []Instr{ld(a), ld(b), op(opcode.NEG), op(opcode.ADD)} },
	func(a, b uint8) []Instr {
		return []Instr{ld(a), op(opcode.NOT), ld(b), op(opcode.ADD), op(opcode.NOT)}
	},
}

// xorVariants realizes every "a ^ b" lowering.
var xorVariants = []BinaryVariant{
	func(a, b uint8) []Instr { return []Instr{ld(a), ld(b), op(opcode.XOR)} },
	func(a, b uint8) []Instr {
		return []Instr{
			ld(a), ld(b), op(opcode.OR),
			ld(a), ld(b), op(opcode.AND), op(opcode.NOT),
			op(opcode.AND),
		}
	},
	func(a, b uint8) []Instr {
		return []Instr{
			ld(a), ld(b), op(opcode.NOT), op(opcode.AND),
			ld(a), op(opcode.NOT), ld(b), op(opcode.AND),
			op(opcode.OR),
		}
	},
}

// andVariants realizes "a & b" (direct, and the De Morgan dual).
var andVariants = []BinaryVariant{
	func(a, b uint8) []Instr { return []Instr{ld(a), ld(b), op(opcode.AND)} },
	func(a, b uint8) []Instr {
		return []Instr{
			ld(a), op(opcode.NOT), ld(b), op(opcode.NOT), op(opcode.OR), op(opcode.NOT),
		}
	},
}

// orVariants realizes "a | b" (direct, and the De Morgan dual).
var orVariants = []BinaryVariant{
	func(a, b uint8) []Instr { return []Instr{ld(a), ld(b), op(opcode.OR)} },
	func(a, b uint8) []Instr {
		return []Instr{
			ld(a), op(opcode.NOT), ld(b), op(opcode.NOT), op(opcode.AND), op(opcode.NOT),
		}
	},
}

// notVariants realizes "~a" (direct, xor-with-max, max-minus-a).
var notVariants = []UnaryVariant{
	func(a uint8) []Instr { return []Instr{ld(a), op(opcode.NOT)} },
	func(a uint8) []Instr { return []Instr{ld(a), push(maxU64), op(opcode.XOR)} },
	func(a uint8) []Instr { return []Instr{push(maxU64), ld(a), op(opcode.SUB)} },
}

// mulVariants realizes "a * b" with the direct lowering only. The
// shift-and-add expansion for a constant operand is ShiftAddMul, which is
// not part of this menu and which the compiler does not call.
var mulVariants = []BinaryVariant{
	func(a, b uint8) []Instr { return []Instr{ld(a), ld(b), op(opcode.MUL)} },
}

// BinaryFamily names the arithmetic/bitwise binary operator families that
// have a substitution menu.
type BinaryFamily int

const (
	FamilyAdd BinaryFamily = iota
	FamilySub
	FamilyXor
	FamilyAnd
	FamilyOr
	FamilyMul
)

func binaryMenu(f BinaryFamily) []BinaryVariant {
	switch f {
	case FamilyAdd:
		return addVariants
	case FamilySub:
		return subVariants
	case FamilyXor:
		return xorVariants
	case FamilyAnd:
		return andVariants
	case FamilyOr:
		return orVariants
	case FamilyMul:
		return mulVariants
	default:
		return nil
	}
}

// PickBinary samples one variant from f's menu using s, applies it to the
// scratch registers tmpA/tmpB, and returns the emitted instruction sequence.
// The sampled variant may be the direct form (index 0). The compiler calls
// it at every level, debug included, for each site its CoinFlip against
// Density.MBADenominator selects; BinaryDirect serves the other sites.
func PickBinary(s *Stream, f BinaryFamily, tmpA, tmpB uint8) []Instr {
	menu := binaryMenu(f)
	v := menu[s.Choice(len(menu))]
	return v(tmpA, tmpB)
}

// BinaryDirect always returns the direct (index 0) lowering, without
// consuming the stream. The compiler uses it for every site whose
// MBADenominator coin flip does not select substitution.
func BinaryDirect(f BinaryFamily, tmpA, tmpB uint8) []Instr {
	return binaryMenu(f)[0](tmpA, tmpB)
}

// PickNot samples one "~a" variant.
func PickNot(s *Stream, tmpA uint8) []Instr {
	v := notVariants[s.Choice(len(notVariants))]
	return v(tmpA)
}

// NotDirect always returns the direct bitwise-complement lowering.
func NotDirect(tmpA uint8) []Instr { return notVariants[0](tmpA) }

// ShiftAddMul expands a * k, for a compile-time-constant k, into a chain of
// doublings and adds driven by k's set bits — §4.3's "shift-and-add
// expansion for small constants". k == 0 yields a lowering that always
// produces 0. The instruction count is O(popcount(k) + bit-length(k)).
// The compiler does not call it, so compiled bytecode never contains this
// expansion.
func ShiftAddMul(tmpA uint8, k uint64) []Instr {
	if k == 0 {
		return []Instr{ld(tmpA), ld(tmpA), op(opcode.XOR)} // a ^ a == 0, avoids a bare constant 0 push
	}
	var out []Instr
	first := true
	shift := 0
	for bit := k; bit != 0; bit >>= 1 {
		if bit&1 != 0 {
			// Build 2^shift * a via `shift` doublings of a.
			seq := []Instr{ld(tmpA)}
			for i := 0; i < shift; i++ {
				seq = append(seq, op(opcode.DUP), op(opcode.ADD))
			}
			if first {
				out = append(out, seq...)
				first = false
			} else {
				out = append(out, seq...)
				out = append(out, op(opcode.ADD))
			}
		}
		shift++
	}
	return out
}
