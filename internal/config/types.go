package config

import (
	"strings"
	"time"
)

// Config is the bgjobs configuration file.
//
// Example (YAML):
//
//	logging:  { level: info, console: true }
//	executor: { poll_interval: 10ms, shutdown_timeout: 1s, wait_timeout: 30s }
//	storage:  { driver: sqlite, path: ./bgjobs.db }
//	scripts:
//	  - name: heartbeat
//	    inline: "setInterval(function () { console.log('tick') }, 1000)"
//	  - name: report
//	    path: ./scripts/report.js
//	    schedule: "*/5 * * * *"
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Executor ExecutorConfig `json:"executor"`
	// Storage is optional; nil disables the run journal.
	Storage *StorageConfig `json:"storage,omitempty"`
	Scripts []ScriptConfig `json:"scripts"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ExecutorConfig controls the background job executor.
//
// All durations are Go duration strings (e.g. "10ms", "1s").
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "10ms"
//   - shutdown_timeout: "1s"
//   - wait_timeout: "0s" (wait until interrupted)
//   - failure_log_every: "1s", failure_log_burst: 5
type ExecutorConfig struct {
	PollInterval    string `json:"poll_interval,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	// WaitTimeout bounds how long the CLI waits for background jobs.
	WaitTimeout     string `json:"wait_timeout,omitempty"`
	FailureLogEvery string `json:"failure_log_every,omitempty"`
	FailureLogBurst int    `json:"failure_log_burst,omitempty"`
}

// ExecutorSettings is ExecutorConfig with durations parsed and defaults applied.
type ExecutorSettings struct {
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
	WaitTimeout     time.Duration
	FailureLogEvery time.Duration
	FailureLogBurst int
}

const (
	DefaultPollInterval    = 10 * time.Millisecond
	DefaultShutdownTimeout = time.Second
	DefaultFailureLogEvery = time.Second
	DefaultFailureLogBurst = 5
)

func (c ExecutorConfig) Settings() (ExecutorSettings, error) {
	var (
		s   ExecutorSettings
		err error
	)
	if s.PollInterval, err = ParseDurationOrDefault("executor.poll_interval", c.PollInterval, DefaultPollInterval); err != nil {
		return s, err
	}
	if s.ShutdownTimeout, err = ParseDurationOrDefault("executor.shutdown_timeout", c.ShutdownTimeout, DefaultShutdownTimeout); err != nil {
		return s, err
	}
	if s.WaitTimeout, err = ParseDurationField("executor.wait_timeout", c.WaitTimeout); err != nil {
		return s, err
	}
	if s.FailureLogEvery, err = ParseDurationOrDefault("executor.failure_log_every", c.FailureLogEvery, DefaultFailureLogEvery); err != nil {
		return s, err
	}
	s.FailureLogBurst = c.FailureLogBurst
	if s.FailureLogBurst <= 0 {
		s.FailureLogBurst = DefaultFailureLogBurst
	}
	return s, nil
}

// StorageConfig controls the run journal.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./bgjobs_runs" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// Retain caps the number of journal runs kept (0 keeps everything).
	Retain int `json:"retain,omitempty"`
}

// ScriptConfig is a script loaded into its own window at startup.
//
// Exactly one of Path or Inline must be set. Without a schedule the script
// runs once when its window opens; with one it is re-run on that schedule
// (see factory.ParseSchedule for accepted forms).
type ScriptConfig struct {
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	Inline   string `json:"inline,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	// Spread delays the first run of interval scripts by a random jitter.
	Spread  bool  `json:"spread,omitempty"`
	Enabled *bool `json:"enabled,omitempty"`
}

func (s ScriptConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// PageURL returns the URL the script's window loads.
func (s ScriptConfig) PageURL() string {
	if u := strings.TrimSpace(s.URL); u != "" {
		return u
	}
	return "about:" + strings.TrimSpace(s.Name)
}
