package storage

import (
	"time"

	"github.com/cockroachdb/errors"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON Lines journal
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retain      int           // runs kept; 0 keeps everything
}

// Run records one finished job execution.
// Keep it compact and schema-stable.
type Run struct {
	ID       string        `json:"id"`
	WindowID string        `json:"window_id"`
	JobID    int64         `json:"job_id"`
	Label    string        `json:"label,omitempty"`
	Target   time.Time     `json:"target"`
	Started  time.Time     `json:"started"`
	Took     time.Duration `json:"took"`
	Error    string        `json:"error,omitempty"`
}

// Failed reports whether the run's action returned an error.
func (r Run) Failed() bool { return r.Error != "" }
