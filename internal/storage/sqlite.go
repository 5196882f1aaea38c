package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "bgjobs/pkg/logx"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT    NOT NULL UNIQUE,
	window_id  TEXT    NOT NULL,
	job_id     INTEGER NOT NULL,
	label      TEXT,
	target_ns  INTEGER NOT NULL,
	started_ns INTEGER NOT NULL,
	took_ns    INTEGER NOT NULL,
	err        TEXT
);
CREATE INDEX IF NOT EXISTS runs_window ON runs(window_id, seq);
`

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	retain int

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, retain: cfg.Retain, pruneEvery: 100}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r Run) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	r = prepare(r)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, window_id, job_id, label, target_ns, started_ns, took_ns, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.WindowID, r.JobID, nullStr(r.Label),
		r.Target.UnixNano(), r.Started.UnixNano(), int64(r.Took), nullStr(r.Error),
	)
	if err != nil {
		return errors.Wrap(err, "insert run")
	}
	if s.retain > 0 && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		if err := s.prune(pctx); err != nil {
			s.log.Debug("journal prune failed", logx.Err(err))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) Recent(ctx context.Context, n int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, window_id, job_id, label, target_ns, started_ns, took_ns, err
		 FROM runs ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                       Run
			label, msg              sql.NullString
			target, started, tookNs int64
		)
		if err := rows.Scan(&r.ID, &r.WindowID, &r.JobID, &label, &target, &started, &tookNs, &msg); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.Label = label.String
		r.Error = msg.String
		r.Target = time.Unix(0, target)
		r.Started = time.Unix(0, started)
		r.Took = time.Duration(tookNs)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE seq <= (SELECT MAX(seq) FROM runs) - ?`, s.retain)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
