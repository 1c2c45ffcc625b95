package search

import "log"

// Progress is a point-in-time snapshot of a search run, emitted on every
// state change. Snapshots are values; a new one is produced per observation
// and none is ever mutated after emission.
type Progress struct {
	Status         Status
	ElapsedSeconds int
	Message        string
	JobID          int64
}

// ProgressFunc receives snapshots in the order the underlying responses were
// observed. It runs synchronously on the polling goroutine.
type ProgressFunc func(Progress)

// emit delivers a snapshot to the caller's callback. A panicking callback is
// logged and swallowed so observability cannot alter loop control.
func (c *Client) emit(p Progress) {
	if c.onProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("search: progress callback panicked: %v", r)
		}
	}()
	c.onProgress(p)
}
