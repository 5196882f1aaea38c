package storage

import (
	"context"
	"strings"

	logx "bgjobs/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Store is the run journal used by the app.
type Store interface {
	// AppendRun records a finished run. An empty Run.ID is filled in.
	AppendRun(ctx context.Context, r Run) error
	// Recent returns up to n runs, newest first.
	Recent(ctx context.Context, n int) ([]Run, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))
	if cfg.Retain < 0 {
		cfg.Retain = 0
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.WithHint(
			errors.Newf("unknown storage driver: %s", driver),
			`use "file" or "sqlite"`,
		)
	}
}

func prepare(r Run) Run {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return r
}
