package search

// Status is the client-observed state of a search run. It is a superset of
// the server vocabulary: idle, starting, and cancelled only ever exist on the
// client, and timeout can be declared by either side.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusEnriching  Status = "enriching"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the run can make no further transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// parseStatus maps a server-reported status string onto the client
// vocabulary. Unknown strings are reported as not ok so the poller can keep
// looping instead of misclassifying a new pipeline stage as terminal.
func parseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusRunning, StatusEnriching, StatusProcessing, StatusDone, StatusFailed, StatusTimeout:
		return Status(raw), true
	}
	return "", false
}

// next is the pure transition function of the poller state machine. The
// non-terminal server states are freely interchangeable; a terminal state is
// absorbing, so a late observation can never overwrite it.
func next(cur, observed Status) Status {
	if cur.Terminal() {
		return cur
	}
	return observed
}
