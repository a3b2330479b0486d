// Package rpcclient implements the outbound JSON/HTTP RPC surface to
// recorder nodes and room servers (spec §6). Modeled on
// ArthurCRodrigues-transcode-worker's internal/client.OrchestratorClient:
// a retryablehttp.Client wrapped as a plain *http.Client, one do
// helper that marshals/unmarshals JSON and maps non-2xx statuses to errors,
// and typed methods per endpoint. Every call takes a context so the
// Dispatcher's per-step deadlines (spec §4.5: 5s port allocation, 15s
// forwarding/start, 10s stop) are enforced by the caller, not by this
// package.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// PermanentError wraps a 4xx response from a peer — per spec §7, treated
// identically to a transient failure by the core, but callers that want to
// distinguish (e.g. for logging) can type-assert.
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("rpcclient: permanent error, status %d: %s", e.StatusCode, e.Body)
}

// TransientError wraps a 5xx response or a transport-level failure.
type TransientError struct {
	StatusCode int // 0 for transport-level failures (no response received)
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("rpcclient: transient error: %v", e.Err)
	}
	return fmt.Sprintf("rpcclient: transient error, status %d", e.StatusCode)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Client is a thin JSON-over-HTTP client shared by the recorder and room
// server facades below.
type Client struct {
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client whose underlying retryablehttp.Client retries
// transport failures and 5xx responses with capped exponential backoff —
// idempotent endpoints only (stop-recording, stop-rtp-forwarding) benefit
// from this; non-idempotent calls (start-recording) still only retry safely
// because the recorder/room-server side is documented as idempotent for
// stop and the orchestrator treats a failed start as terminal rather than
// retrying (spec §7).
func New(logger *zap.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 1 * time.Second
	retryClient.Logger = nil

	return &Client{
		http:   retryClient.StandardClient(),
		logger: logger.Named("rpcclient"),
	}
}

// do issues a JSON POST to url with the given payload and decodes the
// response into out (nil to discard the body). ctx governs the deadline —
// callers are expected to have already wrapped it with context.WithTimeout
// per the step-specific budgets in spec §4.5.
func (c *Client) do(ctx context.Context, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("rpcclient: marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("rpcclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &TransientError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return &PermanentError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("rpcclient: decode response: %w", err)
		}
	}
	return nil
}

// EndpointIP extracts the host (no port) from a node's endpoint URL, used
// to build RTPForwardingConfig.TargetIP (spec §4.5 step 3).
func EndpointIP(endpoint string) string {
	s := endpoint
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, ":/"); i >= 0 {
		s = s[:i]
	}
	return s
}
