// Package workerclient implements the southbound HTTP protocol spoken to a
// single browser-automation worker (§4.B). It performs one-shot HTTP calls
// bounded by a caller-supplied deadline and classifies the response into a
// closed set of outcomes the dispatcher can act on.
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the worker fleet. Endpoints is immutable for the process
// lifetime (§3 "Worker endpoint"); indices are 1-based throughout, matching
// the `?worker=<int>` hint in the ingress contract.
type Client struct {
	HTTP      *http.Client
	Endpoints []string // 1-based: Endpoints[i-1] is worker i
}

// New builds a Client over the given base URLs (trailing slashes already
// stripped by pkg/config).
func New(httpClient *http.Client, endpoints []string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{HTTP: httpClient, Endpoints: endpoints}
}

// N returns the number of configured workers.
func (c *Client) N() int {
	return len(c.Endpoints)
}

// baseURL returns the base URL for a 1-based worker index.
func (c *Client) baseURL(worker int) (string, error) {
	if worker < 1 || worker > len(c.Endpoints) {
		return "", fmt.Errorf("workerclient: worker index %d out of range [1,%d]", worker, len(c.Endpoints))
	}
	return c.Endpoints[worker-1], nil
}

// HealthSnapshot is the transient worker health view, §3 "Worker health".
// It is never persisted.
type HealthSnapshot struct {
	OK      bool
	Busy    bool
	Ready   *bool // nil means the worker didn't report readiness explicitly
	Browser string
	Version string
	Error   string
}

// Selectable reports whether a snapshot qualifies a worker for dispatch,
// §4.C step 1/2a: ok && !busy && ready != false.
func (h HealthSnapshot) Selectable() bool {
	if !h.OK || h.Busy {
		return false
	}
	if h.Ready != nil && !*h.Ready {
		return false
	}
	return true
}

type healthWire struct {
	OK      bool   `json:"ok"`
	Busy    bool   `json:"busy"`
	Ready   *bool  `json:"ready,omitempty"`
	Browser string `json:"browser,omitempty"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Health probes a single worker's health endpoint. Per §4.B, this call
// "must never throw above the call"; any transport error is folded into
// {ok:false, error}.
func (c *Client) Health(ctx context.Context, worker int, timeout time.Duration) HealthSnapshot {
	base, err := c.baseURL(worker)
	if err != nil {
		return HealthSnapshot{OK: false, Error: err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return HealthSnapshot{OK: false, Error: err.Error()}
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return HealthSnapshot{OK: false, Error: err.Error()}
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return HealthSnapshot{OK: false, Error: err.Error()}
	}
	var wire healthWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return HealthSnapshot{OK: false, Error: fmt.Sprintf("invalid health response: %v", err)}
	}
	return HealthSnapshot{
		OK:      wire.OK,
		Busy:    wire.Busy,
		Ready:   wire.Ready,
		Browser: wire.Browser,
		Version: wire.Version,
		Error:   wire.Error,
	}
}

// Outcome is the closed sum type at the dispatcher boundary (Design Notes:
// "dynamic-typed result shapes → tagged variants"). Exactly one of the
// accessor-relevant fields is meaningful depending on Kind.
type Outcome struct {
	Kind    OutcomeKind
	JSON    string // Success: structured result; Empty: always ""
	RawText string // Success/Empty: raw text, if the worker returned one
	Reason  string // Blocked: why; Transient: the underlying error
}

// OutcomeKind enumerates the classification table in §4.B.
type OutcomeKind int

const (
	// Success means the worker returned a structured JSON result.
	Success OutcomeKind = iota
	// Empty means the worker reached the target but found nothing
	// structured; treated as success with an empty JSON body.
	Empty
	// Blocked means the upstream target refused service; the worker
	// rotates proxy server-side and the dispatcher should try another
	// worker immediately.
	Blocked
	// Busy means the worker became busy mid-flight.
	Busy
	// Transient covers any other 4xx/5xx, network error, or timeout.
	Transient
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Empty:
		return "empty"
	case Blocked:
		return "blocked"
	case Busy:
		return "busy"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

type searchRequest struct {
	Prompt string `json:"prompt"`
}

type searchResultWire struct {
	JSON    string `json:"json"`
	RawText string `json:"raw_text,omitempty"`
}

type searchResponseWire struct {
	OK               bool              `json:"ok"`
	Result           *searchResultWire `json:"result,omitempty"`
	Error            string            `json:"error,omitempty"`
	RawText          string            `json:"raw_text,omitempty"`
	RetryOtherWorker bool              `json:"retry_other_worker,omitempty"`
}

// Search issues a prompt to a single worker and classifies the response
// per the §4.B table. It returns no Go error: a request that cannot be
// built or sent (including an already-expired deadline) is reported as a
// Transient outcome.
func (c *Client) Search(ctx context.Context, worker int, prompt string, timeout time.Duration) Outcome {
	base, err := c.baseURL(worker)
	if err != nil {
		return Outcome{Kind: Transient, Reason: err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	body, err := json.Marshal(searchRequest{Prompt: prompt})
	if err != nil {
		return Outcome{Kind: Transient, Reason: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/search", bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: Transient, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.HTTP.Do(req)
	if err != nil {
		return Outcome{Kind: Transient, Reason: err.Error()}
	}
	defer res.Body.Close()
	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return Outcome{Kind: Transient, Reason: err.Error()}
	}
	return classifySearch(res.StatusCode, respBody)
}

func classifySearch(status int, body []byte) Outcome {
	var wire searchResponseWire
	_ = json.Unmarshal(body, &wire) // best-effort; malformed bodies fall through by status code

	switch {
	case status >= 200 && status < 300 && wire.OK && wire.Result != nil:
		return Outcome{Kind: Success, JSON: wire.Result.JSON, RawText: wire.Result.RawText}
	case status == http.StatusUnprocessableEntity && wire.Error == "empty_result":
		return Outcome{Kind: Empty, RawText: wire.RawText}
	case status == http.StatusServiceUnavailable && wire.RetryOtherWorker:
		reason := wire.Error
		if reason == "" {
			reason = "blocked"
		}
		return Outcome{Kind: Blocked, Reason: reason}
	case status == http.StatusLocked,
		strings.Contains(strings.ToLower(http.StatusText(status)), "locked"),
		strings.Contains(strings.ToLower(wire.Error), "busy"):
		return Outcome{Kind: Busy, Reason: wire.Error}
	default:
		reason := wire.Error
		if reason == "" {
			reason = fmt.Sprintf("unexpected status %d", status)
		}
		return Outcome{Kind: Transient, Reason: reason}
	}
}

// WarmupSearchTab asks the worker to prepare a search tab ahead of time.
func (c *Client) WarmupSearchTab(ctx context.Context, worker int, timeout time.Duration) error {
	return c.postNoBody(ctx, worker, "/tabs/search", timeout)
}

// RestartBrowser asks the worker to restart its browser process.
func (c *Client) RestartBrowser(ctx context.Context, worker int, timeout time.Duration) error {
	return c.postNoBody(ctx, worker, "/browser/restart", timeout)
}

// RefreshSession asks the worker to refresh its browsing session.
func (c *Client) RefreshSession(ctx context.Context, worker int, timeout time.Duration) error {
	return c.postNoBody(ctx, worker, "/session/refresh", timeout)
}

func (c *Client) postNoBody(ctx context.Context, worker int, path string, timeout time.Duration) error {
	base, err := c.baseURL(worker)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, nil)
	if err != nil {
		return err
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return fmt.Errorf("workerclient: %s returned status %d", path, res.StatusCode)
	}
	return nil
}
