package runner

import (
	"io"
	"sync"
	"unicode/utf8"
)

// Ellipsis is appended to a stream cut at the output limit.
const Ellipsis = "..."

// Capture collects the two output streams of one run. Each stream keeps at
// most enough bytes to decide truncation, so a chatty script cannot grow
// memory without bound. A Capture belongs to a single run.
type Capture struct {
	stdout *boundedBuffer
	stderr *boundedBuffer
}

// NewCapture creates a capture truncating each stream to limit characters.
// A limit of zero or less keeps everything.
func NewCapture(limit int) *Capture {
	return &Capture{
		stdout: newBoundedBuffer(limit),
		stderr: newBoundedBuffer(limit),
	}
}

// Stdout is the writer for standard output.
func (c *Capture) Stdout() io.Writer { return c.stdout }

// Stderr is the writer for standard error.
func (c *Capture) Stderr() io.Writer { return c.stderr }

// Apply copies the truncated streams into r.
func (c *Capture) Apply(r *Result) {
	r.Stdout, r.StdoutTruncated = c.stdout.text()
	r.Stderr, r.StderrTruncated = c.stderr.text()
}

// Truncate cuts s to limit characters, appending Ellipsis when it does.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + Ellipsis, true
		}
		n++
	}
	return s, false
}

type boundedBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

// Write never fails so the child process is never blocked on a full pipe.
func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if b.limit <= 0 {
		b.buf = append(b.buf, p...)
		return n, nil
	}
	// more than limit*UTFMax bytes always holds more than limit runes
	capBytes := b.limit*utf8.UTFMax + 1
	if room := capBytes - len(b.buf); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		b.buf = append(b.buf, p...)
	}
	return n, nil
}

func (b *boundedBuffer) text() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Truncate(string(b.buf), b.limit)
}
