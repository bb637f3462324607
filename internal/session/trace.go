package session

import (
	"fmt"

	"github.com/jonboulle/clockwork"
)

const DefaultTraceSize = 5

// trace keeps the most recent entries for on-screen diagnostics.
type trace struct {
	clock   clockwork.Clock
	size    int
	entries []string
}

func newTrace(clock clockwork.Clock, size int) *trace {
	if size <= 0 {
		size = DefaultTraceSize
	}
	return &trace{clock: clock, size: size}
}

func (t *trace) add(format string, args ...any) {
	line := fmt.Sprintf("%s - %s", t.clock.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	t.entries = append(t.entries, line)
	if over := len(t.entries) - t.size; over > 0 {
		t.entries = append(t.entries[:0], t.entries[over:]...)
	}
}

func (t *trace) reset() { t.entries = t.entries[:0] }

func (t *trace) snapshot() []string {
	out := make([]string, len(t.entries))
	copy(out, t.entries)
	return out
}
