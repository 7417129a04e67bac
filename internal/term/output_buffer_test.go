package term

import "testing"

func TestOutputBufferSplitsLines(t *testing.T) {
	b := NewOutputBuffer(10)
	b.Append([]byte("one\ntwo\npart"))

	lines := b.Lines()
	if len(lines) != 3 || lines[2] != "part" {
		t.Fatalf("expected carry as trailing line, got %v", lines)
	}

	b.Append([]byte("ial\n"))
	lines = b.Lines()
	if len(lines) != 3 || lines[2] != "partial" {
		t.Fatalf("carry should complete into one line, got %v", lines)
	}
}

func TestOutputBufferEvictsOldest(t *testing.T) {
	b := NewOutputBuffer(2)
	b.Append([]byte("1\n2\n3\n"))

	lines := b.Lines()
	if len(lines) != 2 || lines[0] != "2" || lines[1] != "3" {
		t.Fatalf("oldest lines should be evicted, got %v", lines)
	}
}

func TestOutputBufferTail(t *testing.T) {
	b := NewOutputBuffer(10)
	b.Append([]byte("1\n2\n3\n4\n"))

	tail := b.Tail(2)
	if len(tail) != 2 || tail[0] != "3" || tail[1] != "4" {
		t.Fatalf("unexpected tail %v", tail)
	}
}
