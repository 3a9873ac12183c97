package pythonexec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rhuss/sktools/pkg/auth"
	"github.com/rhuss/sktools/pkg/pyexec"
	"github.com/rhuss/sktools/pkg/pyexec/safety"
	"github.com/rhuss/sktools/pkg/tools"
	"github.com/rhuss/sktools/pkg/transport"
)

// fakeExecutor echoes the code it was given and remembers each call's
// context.
type fakeExecutor struct {
	mu       sync.Mutex
	codes    []string
	block    chan struct{}
	started  chan struct{}
	analyzer *safety.Analyzer
}

func newFake() *fakeExecutor {
	return &fakeExecutor{analyzer: safety.NewAnalyzer(safety.NewPolicy(safety.DefaultRestricted, true), nil)}
}

func (f *fakeExecutor) Execute(ctx context.Context, code string) *pyexec.Report {
	f.mu.Lock()
	f.codes = append(f.codes, code)
	f.mu.Unlock()
	if strings.TrimSpace(code) == "" {
		return &pyexec.Report{Text: pyexec.MsgNoCode}
	}
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return &pyexec.Report{Text: "cancelled"}
		}
	}
	return &pyexec.Report{Text: "Output:\n" + code + "\n", Success: true}
}

func (f *fakeExecutor) ExecuteAll(ctx context.Context, blocks []string) []*pyexec.Report {
	var out []*pyexec.Report
	for _, b := range blocks {
		out = append(out, f.Execute(ctx, b))
	}
	return out
}

func (f *fakeExecutor) Analyzer() *safety.Analyzer { return f.analyzer }

func newProvider(t *testing.T, exec Executor, inflight *transport.InFlightRegistry) *Provider {
	t.Helper()
	p, err := New(Config{Executor: exec, InFlight: inflight})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNewRequiresExecutor(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without executor")
	}
}

func TestTools(t *testing.T) {
	p := newProvider(t, newFake(), nil)
	defs := p.Tools()
	if len(defs) != 2 {
		t.Fatalf("got %d tools, want 2", len(defs))
	}
	for _, d := range defs {
		if !p.CanExecute(d.Name) {
			t.Errorf("CanExecute(%q) = false", d.Name)
		}
		if d.InputSchema == nil || d.InputSchema.Type != "object" {
			t.Errorf("%s: schema = %+v", d.Name, d.InputSchema)
		}
		if _, ok := d.InputSchema.Properties["code"]; !ok {
			t.Errorf("%s: schema has no code property", d.Name)
		}
	}
	if p.CanExecute("web_search") {
		t.Error("CanExecute(web_search) = true")
	}
}

func TestExecuteTool(t *testing.T) {
	tests := []struct {
		name      string
		args      string
		wantOut   string
		wantError bool
		wantCodes int
	}{
		{name: "single", args: `{"code":"print(1)"}`, wantOut: "Output:\nprint(1)\n", wantCodes: 1},
		{
			name:      "all blocks",
			args:      `{"code":"a\n` + "```python\\nx = 1\\n```" + `\nthen\n` + "```python\\nprint(x)\\n```" + `","all":true}`,
			wantOut:   "Block 1:\nOutput:\nx = 1\n\nBlock 2:\nOutput:\nprint(x)",
			wantCodes: 2,
		},
		{name: "all without fences", args: `{"code":"print(2)","all":true}`, wantOut: "Output:\nprint(2)\n", wantCodes: 1},
		{name: "bad arguments", args: `{"code":1}`, wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFake()
			p := newProvider(t, fake, nil)
			res, err := p.Execute(context.Background(), tools.ToolCall{ID: "call-1", Name: ToolExecute, Arguments: json.RawMessage(tt.args)})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.CallID != "call-1" {
				t.Errorf("CallID = %q", res.CallID)
			}
			if res.IsError != tt.wantError {
				t.Fatalf("IsError = %v, output %q", res.IsError, res.Output)
			}
			if tt.wantError {
				return
			}
			if res.Output != tt.wantOut {
				t.Errorf("Output = %q, want %q", res.Output, tt.wantOut)
			}
			if len(fake.codes) != tt.wantCodes {
				t.Errorf("executed %d times, want %d", len(fake.codes), tt.wantCodes)
			}
		})
	}
}

func TestAnalyzeTool(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		allowed bool
		want    []string
	}{
		{name: "blank", code: "  ", want: []string{MsgNoCodeToAnalyze}},
		{name: "clean", code: "print(1)", allowed: true, want: []string{"No syntax errors", "No restricted operations"}},
		{name: "blocked", code: "import subprocess\nsubprocess.run(['ls'])", want: []string{"system commands", "would be blocked", "subprocess"}},
		{name: "syntax error", code: "def f(:\n", allowed: true, want: []string{"❌ Syntax error"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProvider(t, newFake(), nil)
			args, _ := json.Marshal(AnalyzeArgs{Code: tt.code})
			res, err := p.Execute(context.Background(), tools.ToolCall{Name: ToolAnalyze, Arguments: args})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(res.Output, w) {
					t.Errorf("output %q missing %q", res.Output, w)
				}
			}
			if a, ok := res.Data.(*Analysis); ok && a.Verdict.Allowed != tt.allowed {
				t.Errorf("Allowed = %v, want %v", a.Verdict.Allowed, tt.allowed)
			}
		})
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	p := newProvider(t, newFake(), nil)
	if _, err := p.Execute(context.Background(), tools.ToolCall{Name: "nope"}); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func serve(p *Provider) http.Handler {
	mux := http.NewServeMux()
	for _, r := range p.Routes() {
		mux.HandleFunc(r.Method+" "+r.Pattern, r.Handler)
	}
	return transport.RequestID()(mux)
}

func TestHandleExecute(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		wantText string
	}{
		{name: "ok", body: `{"code":"print(1)"}`, status: http.StatusOK, wantText: "Output:\nprint(1)\n"},
		{name: "batch", body: `{"code":"` + "```python\\nx = 1\\n```\\n```python\\ny = 2\\n```" + `","all":true}`, status: http.StatusOK, wantText: "Block 1:\nOutput:\nx = 1\n\nBlock 2:\nOutput:\ny = 2"},
		{name: "empty code", body: `{"code":" "}`, status: http.StatusOK, wantText: pyexec.MsgNoCode},
		{name: "malformed", body: `{`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := serve(newProvider(t, newFake(), nil))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/execute", strings.NewReader(tt.body)))

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			if uuid.Validate(rec.Header().Get("X-Execution-ID")) != nil {
				t.Errorf("X-Execution-ID = %q", rec.Header().Get("X-Execution-ID"))
			}
			var body struct {
				Text string `json:"text"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Text != tt.wantText {
				t.Errorf("text = %q, want %q", body.Text, tt.wantText)
			}
		})
	}
}

func TestHandleExecuteIgnoresRequestID(t *testing.T) {
	h := serve(newProvider(t, newFake(), nil))
	incoming := uuid.NewString()

	seen := map[string]bool{}
	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/v1/execute", strings.NewReader(`{"code":"print(1)"}`))
		req.Header.Set(transport.RequestIDHeader, incoming)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		id := rec.Header().Get("X-Execution-ID")
		if uuid.Validate(id) != nil || id == incoming || seen[id] {
			t.Errorf("X-Execution-ID = %q (incoming %q, seen %v)", id, incoming, seen)
		}
		seen[id] = true
	}
}

func TestHandleExecuteCancel(t *testing.T) {
	fake := newFake()
	fake.block = make(chan struct{})
	fake.started = make(chan struct{})
	inflight := transport.NewInFlightRegistry()
	h := serve(newProvider(t, fake, inflight))

	req := httptest.NewRequest(http.MethodPost, "/v1/execute", strings.NewReader(`{"code":"while True: pass"}`))
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()

	<-fake.started
	id := rec.Header().Get("X-Execution-ID")
	if !inflight.Cancel(id, "") {
		t.Fatal("execution not tracked under its execution ID")
	}
	<-done
	if !strings.Contains(rec.Body.String(), "cancelled") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if inflight.Len() != 0 {
		t.Errorf("in-flight = %d after completion", inflight.Len())
	}
}

func TestHandleAnalyze(t *testing.T) {
	h := serve(newProvider(t, newFake(), nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(`{"code":"eval('1')"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var a Analysis
	if err := json.NewDecoder(rec.Body).Decode(&a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.Verdict.Allowed {
		t.Error("eval should not be allowed")
	}
	if a.Findings == nil {
		t.Error("findings should be an empty list, not null")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(`{"code":""}`)))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), MsgNoCodeToAnalyze) {
		t.Errorf("blank code = %d %s", rec.Code, rec.Body.String())
	}
}

func TestRoutesRequireExecuteScope(t *testing.T) {
	h := serve(newProvider(t, newFake(), nil))
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(`{"code":"x = 1"}`))
	id := &auth.Identity{Subject: "reader", Scopes: []string{auth.ScopeHistory}}
	req = req.WithContext(auth.SetIdentity(req.Context(), id))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}
