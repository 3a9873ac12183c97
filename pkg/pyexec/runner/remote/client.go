package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rhuss/sktools/pkg/debug"
)

// ErrAtCapacity is returned when the sandbox server rejects a run with 429.
var ErrAtCapacity = errors.New("sandbox at capacity")

// Client calls the sandbox server's REST API.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client whose overall HTTP timeout leaves room for
// the execution timeout enforced by the server.
func NewClient(execTimeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: execTimeout + 90*time.Second},
	}
}

// Execute posts one run to baseURL and decodes the reply.
func (c *Client) Execute(ctx context.Context, baseURL string, req *ExecuteRequest) (*ExecuteResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if debug.TraceEnabled(debug.Runner) {
		debug.Trace(debug.Runner, "sandbox request", "url", baseURL, "body", debug.Preview(string(body), 4096))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	debug.Trace(debug.Runner, "sandbox response", "status", resp.StatusCode, "body", debug.Preview(string(respBody), 4096))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrAtCapacity
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("sandbox returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var out ExecuteResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
