package term

import (
	"strings"
	"sync"

	"loom/internal/buffer"
)

const DefaultScrollbackLines = 10000

// OutputBuffer retains the last maxLines of session output. The ring caps
// scrollback only: writes always land, older history is evicted.
type OutputBuffer struct {
	mu       sync.Mutex
	maxLines int
	lines    *buffer.Ring[string]
	carry    string
}

func NewOutputBuffer(maxLines int) *OutputBuffer {
	if maxLines <= 0 {
		maxLines = DefaultScrollbackLines
	}
	return &OutputBuffer{
		maxLines: maxLines,
		lines:    buffer.NewRing[string](maxLines),
	}
}

func (b *OutputBuffer) Append(data []byte) {
	if len(data) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	chunk := b.carry + string(data)
	parts := strings.Split(chunk, "\n")
	if len(parts) == 0 {
		return
	}

	if chunk[len(chunk)-1] != '\n' {
		b.carry = parts[len(parts)-1]
		parts = parts[:len(parts)-1]
	} else {
		b.carry = ""
	}

	for _, line := range parts {
		b.lines.Add(line)
	}
}

func (b *OutputBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	lines := b.lines.List()
	if lines == nil {
		lines = []string{}
	}
	if b.carry != "" {
		lines = append(lines, b.carry)
	}
	return lines
}

// Tail returns the last n lines, including any unterminated carry.
func (b *OutputBuffer) Tail(n int) []string {
	lines := b.Lines()
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
