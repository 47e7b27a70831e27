package subst

import (
	"bytes"
	"testing"
)

func TestDeadCodeInserterDeterministic(t *testing.T) {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = byte(i * 13)
	}
	s1 := NewStream(bytes.NewReader(buf))
	s2 := NewStream(bytes.NewReader(buf))

	d1 := NewDeadCodeInserter(s1, 128)
	d2 := NewDeadCodeInserter(s2, 128)

	for codeLen := 0; codeLen < 2000; codeLen += 17 {
		if d1.ShouldInsert(codeLen) != d2.ShouldInsert(codeLen) {
			t.Fatalf("codeLen %d: decisions diverged across identical inserters", codeLen)
		}
	}
}

func TestDeadCodeInserterZeroChanceNeverInserts(t *testing.T) {
	s := NewStream(bytes.NewReader(make([]byte, 16)))
	d := NewDeadCodeInserter(s, 0)
	for codeLen := 0; codeLen < 10000; codeLen += 101 {
		if d.ShouldInsert(codeLen) {
			t.Fatalf("codeLen %d: inserted with chance 0", codeLen)
		}
	}
}

func TestDeadCodeInserterMaxChanceAlwaysInserts(t *testing.T) {
	s := NewStream(bytes.NewReader(make([]byte, 16)))
	d := NewDeadCodeInserter(s, 256)
	for codeLen := 0; codeLen < 10000; codeLen += 101 {
		if !d.ShouldInsert(codeLen) {
			t.Fatalf("codeLen %d: did not insert with chance 256", codeLen)
		}
	}
}

func TestStatementSnippetIsStackNeutral(t *testing.T) {
	s := NewStream(bytes.NewReader(make([]byte, 16)))
	seq := StatementSnippet(s)
	if len(seq) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(seq))
	}
	depth := 0
	for _, ins := range seq {
		switch ins.Op.String() {
		case "PUSH_U64":
			depth++
		case "POP":
			depth--
		}
	}
	if depth != 0 {
		t.Fatalf("statement snippet is not stack-neutral: net depth %d", depth)
	}
}

func TestExpressionSnippetPreservesTopOfStack(t *testing.T) {
	seq := ExpressionSnippet()
	var stack []uint64
	stack = append(stack, 42) // a value already sitting below, untouched
	stack = append(stack, 7)  // the real top-of-stack value
	for _, ins := range seq {
		switch ins.Op.String() {
		case "DUP":
			stack = append(stack, stack[len(stack)-1])
		case "XOR":
			b := stack[len(stack)-1]
			a := stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			stack = append(stack, a^b)
		case "POP":
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) != 2 || stack[0] != 42 || stack[1] != 7 {
		t.Fatalf("expression snippet altered the stack: %v", stack)
	}
}
