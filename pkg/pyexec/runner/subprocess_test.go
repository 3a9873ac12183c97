package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func requirePython(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping interpreter test in short mode")
	}
	py, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	return py
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// The subprocess mechanics do not depend on the interpreter, so most
// cases run scripts with sh.
func TestSubprocessRunner_Shell(t *testing.T) {
	sh := requireShell(t)
	dir := t.TempDir()

	tests := []struct {
		name       string
		body       string
		maxOutput  int
		wantStdout string
		wantStderr string
		wantExit   int
		success    bool
		truncated  bool
	}{
		{name: "stdout only", body: "echo hi", wantStdout: "hi\n", success: true},
		{name: "stderr fails", body: "echo oops >&2", wantStderr: "oops\n", success: false},
		{name: "exit code without stderr", body: "exit 3", wantExit: 3, success: true},
		{name: "truncated", body: "printf '0123456789abcdef'", maxOutput: 10, wantStdout: "0123456789...", success: true, truncated: true},
		{name: "env passed", body: "printf \"$SKTOOLS_TEST\"", wantStdout: "on", success: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &SubprocessRunner{Python: sh, Dir: dir, Limit: 10 * time.Second, MaxOutput: tt.maxOutput, Env: []string{"SKTOOLS_TEST=on"}}
			path := writeScript(t, dir, "script.sh", tt.body)

			res, err := r.Run(context.Background(), Script{RequestID: "req", Path: path})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Stdout != tt.wantStdout || res.Stderr != tt.wantStderr {
				t.Errorf("stdout=%q stderr=%q", res.Stdout, res.Stderr)
			}
			if res.ExitCode != tt.wantExit || res.Success != tt.success || res.StdoutTruncated != tt.truncated {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestSubprocessRunner_Timeout(t *testing.T) {
	sh := requireShell(t)
	dir := t.TempDir()
	// the background sleep keeps the output pipe open unless the whole
	// process group is killed
	path := writeScript(t, dir, "slow.sh", "echo started\nsleep 30 &\nsleep 30\n")

	r := &SubprocessRunner{Python: sh, Dir: dir, Limit: 500 * time.Millisecond}
	start := time.Now()
	res, err := r.Run(context.Background(), Script{Path: path})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %s, want close to the timeout", elapsed)
	}
	if !res.TimedOut || res.Success || res.ExitCode != -1 {
		t.Errorf("result = %+v", res)
	}
	if res.Stdout != "" {
		t.Errorf("partial output should be discarded, got %q", res.Stdout)
	}
}

func TestSubprocessRunner_Cancelled(t *testing.T) {
	sh := requireShell(t)
	dir := t.TempDir()
	path := writeScript(t, dir, "slow.sh", "sleep 30\n")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	r := &SubprocessRunner{Python: sh, Dir: dir, Limit: 30 * time.Second}
	if _, err := r.Run(ctx, Script{Path: path}); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestSubprocessRunner_MissingInterpreter(t *testing.T) {
	r := &SubprocessRunner{Python: filepath.Join(t.TempDir(), "no-such-python"), Dir: t.TempDir(), Limit: time.Second}
	if _, err := r.Run(context.Background(), Script{Path: "x.py"}); err == nil {
		t.Fatal("expected error for missing interpreter")
	}
}

func TestSubprocessRunner_Python(t *testing.T) {
	py := requirePython(t)
	dir := t.TempDir()
	r := &SubprocessRunner{Python: py, Dir: dir, Limit: 10 * time.Second, MaxOutput: 4000}

	res, err := r.Run(context.Background(), Script{Path: writeScript(t, dir, "ok.py", "print('hi')\n")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "hi\n" || !res.Success {
		t.Errorf("result = %+v", res)
	}

	res, err = r.Run(context.Background(), Script{Path: writeScript(t, dir, "bad.py", "import notarealmodule123\n")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success || !strings.Contains(res.Stderr, "ModuleNotFoundError") || res.ExitCode != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestHostRunner_Python(t *testing.T) {
	py := requirePython(t)
	dir := t.TempDir()
	r := &HostRunner{Python: py, Dir: dir, Limit: 10 * time.Second, MaxOutput: 4000}

	res, err := r.Run(context.Background(), Script{Path: writeScript(t, dir, "main.py", "if __name__ == '__main__':\n    print('main')\n")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "main\n" || !res.Success {
		t.Errorf("result = %+v", res)
	}

	res, err = r.Run(context.Background(), Script{Path: writeScript(t, dir, "raise.py", "print('before')\nraise ValueError('boom')\n")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "before\n" || res.Success {
		t.Errorf("result = %+v", res)
	}
	if !strings.HasPrefix(res.Stderr, "Error: boom\n") || !strings.Contains(res.Stderr, "Traceback") {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, exceptions are reported on stderr only", res.ExitCode)
	}
}

func TestHostRunner_Timeout(t *testing.T) {
	py := requirePython(t)
	dir := t.TempDir()
	r := &HostRunner{Python: py, Dir: dir, Limit: time.Second}

	start := time.Now()
	res, err := r.Run(context.Background(), Script{Path: writeScript(t, dir, "sleep.py", "import time\ntime.sleep(30)\n")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut || time.Since(start) > 10*time.Second {
		t.Errorf("result = %+v after %s", res, time.Since(start))
	}
}
