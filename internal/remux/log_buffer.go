package remux

import "sync"

// defaultLogCapacity bounds the stderr history kept per bridge run.
const defaultLogCapacity = 500

// LogBuffer keeps the most recent remuxer stderr lines across process
// restarts within one bridge run, so the diagnostics API can show output
// from a session that already crashed. The zero value is ready to use and
// holds defaultLogCapacity lines.
type LogBuffer struct {
	mu    sync.RWMutex
	limit int
	lines []string // grows to limit, then becomes a ring
	next  int      // overwrite position once the ring is full
}

// NewLogBuffer returns a buffer holding up to limit lines; limit <= 0
// selects the default.
func NewLogBuffer(limit int) *LogBuffer {
	if limit <= 0 {
		limit = defaultLogCapacity
	}
	return &LogBuffer{limit: limit}
}

// Append adds a line, evicting the oldest once the buffer is at capacity.
func (b *LogBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit <= 0 {
		b.limit = defaultLogCapacity
	}
	if len(b.lines) < b.limit {
		b.lines = append(b.lines, line)
		return
	}
	b.lines[b.next] = line
	b.next = (b.next + 1) % b.limit
}

// Read returns up to lines entries, newest → oldest. lines <= 0 or beyond
// the stored count means "all available". The returned slice is owned by
// the caller.
func (b *LogBuffer) Read(lines int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.lines)
	if n == 0 {
		return nil
	}
	if lines <= 0 || lines > n {
		lines = n
	}

	newest := n - 1
	if n == b.limit {
		newest = (b.next - 1 + n) % n
	}

	out := make([]string, 0, lines)
	for i := 0; i < lines; i++ {
		out = append(out, b.lines[(newest-i+n)%n])
	}
	return out
}
