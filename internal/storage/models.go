package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Run statuses.
const (
	StatusEmpty       = "empty"        // the fetch succeeded with no new records
	StatusCompleted   = "completed"    // records were classified and the snapshot flushed
	StatusFetchFailed = "fetch_failed" // the feed could not be read
	StatusFlushFailed = "flush_failed" // the snapshot could not be written
)

// Run is the record of one monitoring cycle.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	Confirmed  int
	Added      int
	Total      int
	FetchError string
	FlushError string
	Flushed    bool
	Status     string
}

// Duration returns how long the cycle took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
