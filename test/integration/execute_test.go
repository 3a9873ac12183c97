package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/rhuss/sktools/pkg/pyexec"
)

func TestExecuteSuccess(t *testing.T) {
	rep, resp := execute(t, "print('hello')")
	if !rep.Success {
		t.Fatalf("report not successful: %q", rep.Text)
	}
	if want := "Output:\nhello\n"; !strings.HasPrefix(rep.Text, want) {
		t.Errorf("text = %q, want prefix %q", rep.Text, want)
	}
	if rep.Runner != "remote" {
		t.Errorf("runner = %q", rep.Runner)
	}
	if id := resp.Header.Get("X-Execution-ID"); id == "" || id != rep.RequestID {
		t.Errorf("X-Execution-ID = %q, request_id = %q", id, rep.RequestID)
	}
	if got := testEnv.Mock.last(); got.RequestID != rep.RequestID || got.Code != "print('hello')" {
		t.Errorf("sandbox request = %+v", got)
	}
}

func TestExecuteMarkdownFence(t *testing.T) {
	rep, _ := execute(t, "Here you go:\n```python\nprint('fenced')\n```\nDone.")
	if !strings.Contains(rep.Text, "fenced") {
		t.Errorf("text = %q", rep.Text)
	}
	if got := testEnv.Mock.last().Code; got != "print('fenced')" {
		t.Errorf("sandbox received %q", got)
	}
}

func TestExecuteRuntimeError(t *testing.T) {
	rep, _ := execute(t, "raise ValueError('boom')")
	if rep.Success {
		t.Error("error run reported success")
	}
	if !strings.Contains(rep.Text, "Error:\nTraceback") {
		t.Errorf("text = %q", rep.Text)
	}
	if rep.ExitCode != 1 {
		t.Errorf("exit code = %d", rep.ExitCode)
	}
}

func TestExecuteTimeout(t *testing.T) {
	rep, _ := execute(t, "sleep")
	if !rep.TimedOut || rep.Success {
		t.Errorf("timed_out = %v, success = %v", rep.TimedOut, rep.Success)
	}
	if want := "Execution timed out after 5 seconds."; rep.Text != want {
		t.Errorf("text = %q, want %q", rep.Text, want)
	}
}

func TestExecuteBlocked(t *testing.T) {
	before := testEnv.Mock.count()
	rep, _ := execute(t, "import subprocess\nsubprocess.run(['ls'])")
	if !rep.Blocked || rep.Success {
		t.Errorf("blocked = %v, success = %v", rep.Blocked, rep.Success)
	}
	if rep.Text != pyexec.MsgBlocked {
		t.Errorf("text = %q", rep.Text)
	}
	if testEnv.Mock.count() != before {
		t.Error("blocked code reached the sandbox")
	}
}

func TestExecuteForwardsRequirements(t *testing.T) {
	rep, _ := execute(t, "import numpy\nimport json\nprint('ok')")
	got := testEnv.Mock.last().Requirements
	if len(got) != 1 || got[0] != "numpy" {
		t.Errorf("requirements = %v, want [numpy]", got)
	}
	want := "Dependency installation:\nInstalling packages: numpy\nSuccessfully installed numpy\n\nOutput:\nok\n"
	if !strings.HasPrefix(rep.Text, want) {
		t.Errorf("text = %q, want prefix %q", rep.Text, want)
	}
}

func TestExecuteBatch(t *testing.T) {
	code := "```python\nprint('one')\n```\ntext\n```python\nprint('two')\n```"
	resp := postJSON(t, testEnv.BaseURL()+"/v1/execute", map[string]any{"code": code, "all": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var batch struct {
		Object string           `json:"object"`
		Text   string           `json:"text"`
		Data   []*pyexec.Report `json:"data"`
	}
	decodeJSON(t, resp, &batch)
	if batch.Object != "list" || len(batch.Data) != 2 {
		t.Fatalf("batch = %+v", batch)
	}
	if batch.Data[0].RequestID == batch.Data[1].RequestID {
		t.Error("blocks share a request id")
	}
	if !strings.Contains(batch.Text, "Block 1:\nOutput:\none") || !strings.Contains(batch.Text, "Block 2:\nOutput:\ntwo") {
		t.Errorf("text = %q", batch.Text)
	}
}

func TestExecuteEmptyCode(t *testing.T) {
	before := testEnv.Mock.count()
	for _, code := range []string{"", "   ", "```python\n```"} {
		rep, _ := execute(t, code)
		if rep.Text != pyexec.MsgNoCode || rep.Success {
			t.Errorf("execute(%q) = %+v", code, rep)
		}
	}
	if n := testEnv.Mock.count() - before; n != 0 {
		t.Errorf("sandbox called %d times for blank code", n)
	}
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		allowed bool
		want    string
	}{
		{name: "clean", code: "with open('f') as f:\n    print(f.read())", allowed: true, want: "No restricted operations found"},
		{name: "restricted", code: "import socket", allowed: false, want: "Execution would be blocked"},
		{name: "syntax error", code: "def broken(:\n    pass", allowed: true, want: "Syntax error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, testEnv.BaseURL()+"/v1/analyze", map[string]any{"code": tt.code})
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			var a struct {
				Verdict struct {
					Allowed bool `json:"allowed"`
				} `json:"verdict"`
				Text string `json:"text"`
			}
			decodeJSON(t, resp, &a)
			if a.Verdict.Allowed != tt.allowed {
				t.Errorf("allowed = %v, want %v", a.Verdict.Allowed, tt.allowed)
			}
			if !strings.Contains(a.Text, tt.want) {
				t.Errorf("text = %q, want %q", a.Text, tt.want)
			}
		})
	}
}

func TestRequestErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		ctype  string
		want   int
	}{
		{name: "invalid json", method: http.MethodPost, path: "/v1/execute", body: "{", ctype: "application/json", want: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: "/v1/execute", body: `{"code":"x","lang":"py"}`, ctype: "application/json", want: http.StatusBadRequest},
		{name: "wrong content type", method: http.MethodPost, path: "/v1/execute", body: "print(1)", ctype: "text/plain", want: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, path: "/v1/execute", want: http.StatusMethodNotAllowed},
		{name: "unknown path", method: http.MethodGet, path: "/v1/unknown", want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, testEnv.BaseURL()+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if tt.ctype != "" {
				req.Header.Set("Content-Type", tt.ctype)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
