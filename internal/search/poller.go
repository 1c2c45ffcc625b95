package search

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// PollUntilDone drives the poll loop for a started job until a terminal
// outcome. Per iteration: cancellation check, fixed-interval sleep (itself
// cancellable), ceiling check, one status request. Polls are strictly
// sequential; a new request is never issued while one is in flight.
func (c *Client) PollUntilDone(ctx context.Context, jobID int64) (*Outcome, error) {
	start := time.Now()
	state := StatusRunning
	retries := 0

	for {
		if ctx.Err() != nil {
			return nil, c.abort(ctx, jobID, start)
		}
		select {
		case <-ctx.Done():
			return nil, c.abort(ctx, jobID, start)
		case <-time.After(c.interval):
		}

		if elapsed := time.Since(start); elapsed > c.maxPoll {
			secs := int(elapsed / time.Second)
			c.emit(Progress{Status: StatusTimeout, ElapsedSeconds: secs, JobID: jobID, Message: "search exceeded client poll ceiling"})
			return nil, &Error{
				Code:    CodePollTimeout,
				Message: fmt.Sprintf("no terminal status after %s", c.maxPoll),
			}
		}

		sr, httpStatus, err := c.getStatus(ctx, jobID)
		if err != nil {
			// The transport aborts in-flight calls on cancellation; make sure
			// that surfaces as the abort outcome, not as a network error.
			if ctx.Err() != nil {
				return nil, c.abort(ctx, jobID, start)
			}
			if httpStatus == http.StatusNotFound {
				// Expired or garbage-collected job. Unrecoverable, so the
				// retry budget does not apply.
				c.emit(Progress{Status: StatusFailed, ElapsedSeconds: clientElapsed(start), JobID: jobID, Message: "search job not found or expired"})
				return nil, &Error{Code: CodeJobNotFound, Message: "search job not found or expired", HTTPStatus: httpStatus}
			}
			if httpStatus >= 200 && httpStatus < 300 {
				// A 2xx we could not decode is not transient.
				c.emit(Progress{Status: StatusFailed, ElapsedSeconds: clientElapsed(start), JobID: jobID, Message: err.Error()})
				return nil, &Error{Code: CodeUnexpected, Message: err.Error(), HTTPStatus: httpStatus, cause: err}
			}
			retries++
			if retries <= c.maxRetries {
				continue
			}
			code := CodeNetworkError
			if httpStatus != 0 {
				code = CodeStatusError
			}
			c.emit(Progress{Status: StatusFailed, ElapsedSeconds: clientElapsed(start), JobID: jobID, Message: err.Error()})
			return nil, &Error{
				Code:       code,
				Message:    fmt.Sprintf("status poll failed %d times in a row: %v", retries, err),
				HTTPStatus: httpStatus,
				cause:      err,
			}
		}
		retries = 0

		// Cancellation always wins, even over a done response that arrived
		// while the caller was cancelling.
		if ctx.Err() != nil {
			return nil, c.abort(ctx, jobID, start)
		}

		elapsed := clientElapsed(start)
		if sr.ElapsedSeconds != nil {
			elapsed = *sr.ElapsedSeconds
		}
		observed, known := parseStatus(sr.Status)
		if !known {
			// Forward compatibility: treat new pipeline stages as
			// non-terminal and keep waiting under the client ceiling.
			c.emit(Progress{Status: state, ElapsedSeconds: elapsed, JobID: jobID, Message: fmt.Sprintf("server reported unrecognized status %q", sr.Status)})
			continue
		}
		state = next(state, observed)
		c.emit(Progress{Status: state, ElapsedSeconds: elapsed, JobID: jobID, Message: statusMessage(state, sr.Message)})

		switch state {
		case StatusDone:
			return &Outcome{
				JobID:          jobID,
				Results:        sr.Results,
				ResultsCount:   resultCount(sr),
				Breakdown:      sr.Breakdown,
				ElapsedSeconds: elapsed,
			}, nil
		case StatusFailed:
			return nil, &Error{Code: CodeSearchFailed, Message: statusMessage(state, sr.Message)}
		case StatusTimeout:
			return nil, &Error{Code: CodeSearchTimeout, Message: statusMessage(state, sr.Message)}
		}
	}
}

// abort emits the cancelled snapshot and returns the dedicated abort error.
func (c *Client) abort(ctx context.Context, jobID int64, start time.Time) error {
	c.emit(Progress{Status: StatusCancelled, ElapsedSeconds: clientElapsed(start), JobID: jobID, Message: "search cancelled"})
	return cancelledError(ctx)
}

func clientElapsed(start time.Time) int {
	return int(time.Since(start) / time.Second)
}

func resultCount(sr *statusResponse) int {
	if sr.ResultsCount > 0 {
		return sr.ResultsCount
	}
	return len(sr.Results)
}

func statusMessage(state Status, serverMsg string) string {
	if serverMsg != "" {
		return serverMsg
	}
	switch state {
	case StatusRunning:
		return "search running"
	case StatusEnriching:
		return "enriching candidates"
	case StatusProcessing:
		return "processing results"
	case StatusDone:
		return "search complete"
	case StatusFailed:
		return "search failed"
	case StatusTimeout:
		return "search timed out"
	}
	return string(state)
}
