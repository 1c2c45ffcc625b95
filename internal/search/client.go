// Package search implements the client side of the long-running affiliate
// discovery job: it starts a search on the backend, then polls the status
// endpoint on a fixed cadence until the job reaches a terminal state, the
// caller cancels, or a client-side ceiling trips.
//
// One call to Run (or Start + PollUntilDone) owns all of its state; nothing
// is shared across invocations, and cancellation travels on the caller's
// context.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"affiliatescout/internal/model"
)

// Client-tunable defaults. The poll ceiling is independent of whatever
// ceiling the server enforces on the pipeline itself; the server one is
// authoritative for credit refunds.
const (
	DefaultPollInterval    = 3 * time.Second
	DefaultMaxRetries      = 2
	DefaultMaxPollDuration = 3 * time.Minute
)

// Client talks to the search start/status endpoints.
type Client struct {
	baseURL    string
	httpc      *http.Client
	interval   time.Duration
	maxRetries int
	maxPoll    time.Duration
	onProgress ProgressFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithPollInterval sets the fixed cadence between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithMaxRetries bounds how many consecutive poll failures are absorbed
// before the run terminates.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithMaxPollDuration sets the wall-clock ceiling for the whole poll loop.
func WithMaxPollDuration(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.maxPoll = d
		}
	}
}

// WithProgress registers a callback invoked on every state change.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Client) { c.onProgress = fn }
}

// New builds a Client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpc:      &http.Client{},
		interval:   DefaultPollInterval,
		maxRetries: DefaultMaxRetries,
		maxPoll:    DefaultMaxPollDuration,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request describes one search submission. Keywords must be non-empty;
// Sources draws from the platform enumeration.
type Request struct {
	Keywords    []string
	Sources     []model.Platform
	Competitors []string
}

// Outcome is the success result of a completed search. Results come from the
// final done response only, never from an earlier poll.
type Outcome struct {
	JobID          int64
	Results        []model.Affiliate
	ResultsCount   int
	Breakdown      map[string]int
	ElapsedSeconds int
}

// Wire shapes for the two consumed endpoints.
type startRequest struct {
	Keywords    []string         `json:"keywords"`
	Sources     []model.Platform `json:"sources"`
	Competitors []string         `json:"competitors,omitempty"`
}

type startResponse struct {
	JobID   int64  `json:"jobId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	CreditError bool   `json:"creditError,omitempty"`
	Remaining   int    `json:"remaining,omitempty"`
}

type statusResponse struct {
	Status         string            `json:"status"`
	ElapsedSeconds *int              `json:"elapsedSeconds,omitempty"`
	Message        string            `json:"message,omitempty"`
	Results        []model.Affiliate `json:"results,omitempty"`
	ResultsCount   int               `json:"resultsCount,omitempty"`
	Breakdown      map[string]int    `json:"breakdown,omitempty"`
}

// Run starts a search and polls it to completion. It is the single success
// exit for callers; every failure surfaces as exactly one *Error.
func (c *Client) Run(ctx context.Context, req Request) (*Outcome, error) {
	c.emit(Progress{Status: StatusStarting, Message: "starting search"})
	jobID, err := c.Start(ctx, req)
	if err != nil {
		if IsCancelled(err) {
			c.emit(Progress{Status: StatusCancelled, Message: "search cancelled"})
		} else {
			c.emit(Progress{Status: StatusFailed, Message: err.Error()})
		}
		return nil, err
	}
	c.emit(Progress{Status: StatusRunning, JobID: jobID, Message: "search started"})
	return c.PollUntilDone(ctx, jobID)
}

// Start issues the start call and returns the job handle. Quota exhaustion
// maps to INSUFFICIENT_CREDITS and is never retried; any other failure maps
// to START_ERROR carrying the server's HTTP status.
func (c *Client) Start(ctx context.Context, req Request) (int64, error) {
	body, err := json.Marshal(startRequest{
		Keywords:    req.Keywords,
		Sources:     req.Sources,
		Competitors: req.Competitors,
	})
	if err != nil {
		return 0, &Error{Code: CodeUnexpected, Message: fmt.Sprintf("encode start request: %v", err), cause: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search/start", bytes.NewReader(body))
	if err != nil {
		return 0, &Error{Code: CodeUnexpected, Message: fmt.Sprintf("build start request: %v", err), cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return 0, cancelledError(ctx)
		}
		return 0, &Error{Code: CodeStartError, Message: fmt.Sprintf("start request failed: %v", err), cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var sr startResponse
		if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
			return 0, &Error{Code: CodeUnexpected, Message: fmt.Sprintf("decode start response: %v", err), HTTPStatus: resp.StatusCode, cause: err}
		}
		if sr.JobID <= 0 {
			return 0, &Error{Code: CodeUnexpected, Message: "start response missing job id", HTTPStatus: resp.StatusCode}
		}
		return sr.JobID, nil
	}

	var er errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&er)
	msg := er.Error
	if msg == "" {
		msg = fmt.Sprintf("start rejected with status %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusPaymentRequired {
		return 0, &Error{
			Code:        CodeInsufficientCredits,
			Message:     msg,
			HTTPStatus:  resp.StatusCode,
			CreditError: true,
			Remaining:   er.Remaining,
		}
	}
	return 0, &Error{Code: CodeStartError, Message: msg, HTTPStatus: resp.StatusCode}
}

// Status performs a single status request without looping. Used by the CLI
// status command; the poll loop uses the same underlying call.
func (c *Client) Status(ctx context.Context, jobID int64) (Status, *Outcome, error) {
	sr, httpStatus, err := c.getStatus(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, cancelledError(ctx)
		}
		if httpStatus == http.StatusNotFound {
			return "", nil, &Error{Code: CodeJobNotFound, Message: "search job not found or expired", HTTPStatus: httpStatus}
		}
		code := CodeNetworkError
		if httpStatus != 0 {
			code = CodeStatusError
		}
		if httpStatus >= 200 && httpStatus < 300 {
			code = CodeUnexpected
		}
		return "", nil, &Error{Code: code, Message: err.Error(), HTTPStatus: httpStatus, cause: err}
	}
	st, ok := parseStatus(sr.Status)
	if !ok {
		return "", nil, &Error{Code: CodeUnexpected, Message: fmt.Sprintf("server reported unknown status %q", sr.Status)}
	}
	out := &Outcome{
		JobID:        jobID,
		Results:      sr.Results,
		ResultsCount: sr.ResultsCount,
		Breakdown:    sr.Breakdown,
	}
	if sr.ElapsedSeconds != nil {
		out.ElapsedSeconds = *sr.ElapsedSeconds
	}
	return st, out, nil
}

// getStatus performs one GET /search/status call. The int return is the HTTP
// status (0 for transport failures) so the poller can tell server-side
// failures apart from network ones.
func (c *Client) getStatus(ctx context.Context, jobID int64) (*statusResponse, int, error) {
	url := fmt.Sprintf("%s/search/status?jobId=%d", c.baseURL, jobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		msg := er.Error
		if msg == "" {
			msg = fmt.Sprintf("status request rejected with status %d", resp.StatusCode)
		}
		return nil, resp.StatusCode, fmt.Errorf("%s", msg)
	}
	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode status response: %w", err)
	}
	return &sr, resp.StatusCode, nil
}

// cancelledError builds the dedicated abort outcome. It wraps the context
// cause so errors.Is(err, context.Canceled) keeps working for callers.
func cancelledError(ctx context.Context) *Error {
	return &Error{Code: CodeCancelled, Message: "search cancelled", cause: context.Cause(ctx)}
}
