package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rhuss/sktools/pkg/pyexec/runner"
)

func TestClient_Execute(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantErr    error
		anyErr     bool
		wantStdout string
	}{
		{
			name: "success",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(ExecuteResponse{Status: StatusSuccess, Stdout: "42\n"})
			},
			wantStdout: "42\n",
		},
		{
			name: "at capacity",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantErr: ErrAtCapacity,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			anyErr: true,
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{invalid`))
			},
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			resp, err := NewClient(time.Second).Execute(context.Background(), srv.URL, &ExecuteRequest{Code: "print(42)"})
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatal("expected error")
				}
			default:
				if err != nil {
					t.Fatalf("Execute: %v", err)
				}
				if resp.Stdout != tt.wantStdout {
					t.Errorf("stdout = %q", resp.Stdout)
				}
			}
		})
	}
}

func TestRunner_Run(t *testing.T) {
	var got ExecuteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/execute" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(ExecuteResponse{
			Status:     StatusSuccess,
			Stdout:     "0123456789abcdef",
			InstallLog: "Successfully installed pandas",
		})
	}))
	defer srv.Close()

	r := New(StaticAcquirer{URL: srv.URL}, 30*time.Second, 10, nil)
	res, err := r.Run(context.Background(), runner.Script{
		RequestID:    "req-1",
		Source:       "print('x')",
		Requirements: []string{"pandas"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got.Code != "print('x')" || got.TimeoutSeconds != 30 || got.RequestID != "req-1" || len(got.Requirements) != 1 {
		t.Errorf("request = %+v", got)
	}
	if res.Stdout != "0123456789..." || !res.StdoutTruncated || !res.Success {
		t.Errorf("result = %+v", res)
	}
	if res.InstallLog != "Successfully installed pandas" {
		t.Errorf("install log = %q", res.InstallLog)
	}
}

func TestRunner_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ExecuteResponse{Status: StatusTimeout, Stdout: "partial", ExitCode: -1, TimedOut: true})
	}))
	defer srv.Close()

	res, err := New(StaticAcquirer{URL: srv.URL}, time.Second, 100, nil).Run(context.Background(), runner.Script{Source: "x"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut || res.Success || res.Stdout != "" {
		t.Errorf("result = %+v", res)
	}
}

type failingAcquirer struct{}

func (failingAcquirer) Acquire(context.Context) (string, func(), error) {
	return "", nil, errors.New("no sandbox")
}

type countingAcquirer struct {
	url      string
	released int
}

func (a *countingAcquirer) Acquire(context.Context) (string, func(), error) {
	return a.url, func() { a.released++ }, nil
}

func TestRunner_AcquireAndRelease(t *testing.T) {
	if _, err := New(failingAcquirer{}, time.Second, 0, nil).Run(context.Background(), runner.Script{}); err == nil {
		t.Error("expected acquire error")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	acq := &countingAcquirer{url: srv.URL}
	if _, err := New(acq, time.Second, 0, nil).Run(context.Background(), runner.Script{}); err == nil {
		t.Error("expected server error")
	}
	if acq.released != 1 {
		t.Errorf("released %d times, want 1", acq.released)
	}
}
