package runner

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in        string
		limit     int
		want      string
		truncated bool
	}{
		{"hello", 10, "hello", false},
		{"hello", 5, "hello", false},
		{"hello!", 5, "hello...", true},
		{"héllo wörld", 4, "héll...", true},
		{"", 3, "", false},
		{"anything", 0, "anything", false},
	}
	for _, tt := range tests {
		got, truncated := Truncate(tt.in, tt.limit)
		if got != tt.want || truncated != tt.truncated {
			t.Errorf("Truncate(%q, %d) = %q, %v; want %q, %v", tt.in, tt.limit, got, truncated, tt.want, tt.truncated)
		}
	}
}

func TestCapture(t *testing.T) {
	c := NewCapture(8)
	for i := 0; i < 1000; i++ {
		n, err := fmt.Fprintf(c.Stdout(), "line %d\n", i)
		if err != nil || n == 0 {
			t.Fatalf("write %d: n=%d err=%v", i, n, err)
		}
	}
	c.Stderr().Write([]byte("short"))

	var r Result
	c.Apply(&r)
	if r.Stdout != "line 0\nl..." || !r.StdoutTruncated {
		t.Errorf("stdout = %q truncated=%v", r.Stdout, r.StdoutTruncated)
	}
	if r.Stderr != "short" || r.StderrTruncated {
		t.Errorf("stderr = %q truncated=%v", r.Stderr, r.StderrTruncated)
	}

	c.stdout.mu.Lock()
	kept := len(c.stdout.buf)
	c.stdout.mu.Unlock()
	if kept > 8*4+1 {
		t.Errorf("buffer kept %d bytes, want a bounded prefix", kept)
	}
}

func TestCapture_ExactLimit(t *testing.T) {
	c := NewCapture(5)
	c.Stdout().Write([]byte(strings.Repeat("a", 5)))
	var r Result
	c.Apply(&r)
	if r.Stdout != "aaaaa" || r.StdoutTruncated {
		t.Errorf("stdout = %q truncated=%v", r.Stdout, r.StdoutTruncated)
	}
}

func TestTimeoutMessage(t *testing.T) {
	if got := TimeoutMessage(30 * time.Second); got != "Execution timed out after 30 seconds." {
		t.Errorf("TimeoutMessage = %q", got)
	}
	if got := TimeoutMessage(1500 * time.Millisecond); got != "Execution timed out after 2 seconds." {
		t.Errorf("TimeoutMessage = %q", got)
	}
}
