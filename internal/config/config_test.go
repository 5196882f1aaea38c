package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

const sampleYAML = `
logging:
  level: debug
  console: true
executor:
  poll_interval: 5ms
  wait_timeout: 2s
storage:
  driver: sqlite
  path: ./runs.db
scripts:
  - name: heartbeat
    inline: "setInterval(function () {}, 1000)"
  - name: report
    path: ./report.js
    schedule: "*/5 * * * *"
    enabled: false
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "bgjobs.yaml", sampleYAML)
	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if len(cfg.Scripts) != 2 || cfg.Scripts[1].IsEnabled() || !cfg.Scripts[0].IsEnabled() {
		t.Fatalf("scripts = %+v", cfg.Scripts)
	}
	if got := cfg.Scripts[0].PageURL(); got != "about:heartbeat" {
		t.Fatalf("PageURL = %q", got)
	}

	s, err := cfg.Executor.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if s.PollInterval != 5*time.Millisecond || s.WaitTimeout != 2*time.Second ||
		s.ShutdownTimeout != DefaultShutdownTimeout || s.FailureLogBurst != DefaultFailureLogBurst {
		t.Fatalf("settings = %+v", s)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "bgjobs.json", `{"logging":{"level":"info"},"scripts":[{"name":"a","inline":"1"}]}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() == nil || m.Get().Storage != nil {
		t.Fatalf("Get = %+v", m.Get())
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body, want string
	}{
		{name: "unknown field", file: "c.json", body: `{"logging":{"level":"info","colour":true}}`, want: "unknown field"},
		{name: "unknown yaml field", file: "c.yaml", body: "telegram:\n  token: x\n", want: "unknown field"},
		{name: "empty json", file: "c.json", body: "  ", want: "empty json config"},
		{name: "trailing data", file: "c.json", body: `{} {}`, want: "trailing data"},
		{name: "bad duration", file: "c.json", body: `{"executor":{"poll_interval":"soon"}}`, want: "executor.poll_interval"},
		{name: "negative duration", file: "c.json", body: `{"executor":{"shutdown_timeout":"-1s"}}`, want: "is negative"},
		{name: "bad driver", file: "c.json", body: `{"storage":{"driver":"redis"}}`, want: "unknown driver"},
		{name: "script without source", file: "c.json", body: `{"scripts":[{"name":"x"}]}`, want: "exactly one of path or inline"},
		{name: "script with both sources", file: "c.json", body: `{"scripts":[{"name":"x","path":"a.js","inline":"1"}]}`, want: "exactly one"},
		{name: "duplicate script", file: "c.json", body: `{"scripts":[{"name":"x","inline":"1"},{"name":"x","inline":"2"}]}`, want: "duplicate"},
		{name: "unnamed script", file: "c.json", body: `{"scripts":[{"inline":"1"}]}`, want: "name required"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, t.TempDir(), tt.file, tt.body)
			_, err := NewConfigManager(p).Parse()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Parse err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestDecodeEmptyYAMLUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yml", []byte("# nothing yet\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	st, err := cfg.Executor.Settings()
	if err != nil {
		t.Fatalf("Settings: %v", err)
	}
	if st.PollInterval != DefaultPollInterval || len(cfg.Scripts) != 0 {
		t.Fatalf("settings = %+v scripts=%d", st, len(cfg.Scripts))
	}
}

func TestParseMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := NewConfigManager(filepath.Join(t.TempDir(), "nope.yaml")).Load(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Load err = %v, want not-exist", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	off := false
	oldCfg := &Config{
		Logging:  LoggingConfig{Level: "info"},
		Executor: ExecutorConfig{PollInterval: "10ms"},
		Scripts: []ScriptConfig{
			{Name: "a", Inline: "1"},
			{Name: "b", Inline: "2"},
			{Name: "c", Inline: "3"},
		},
	}
	newCfg := &Config{
		Logging:  LoggingConfig{Level: "info"},
		Executor: ExecutorConfig{PollInterval: " 10ms "},
		Storage:  &StorageConfig{Driver: "file", Path: "./runs"},
		Scripts: []ScriptConfig{
			{Name: "a", Inline: "1"},
			{Name: "b", Inline: "2", Enabled: &off},
			{Name: "d", Inline: "4"},
		},
	}
	changed, attrs, scripts := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "scripts,storage" {
		t.Fatalf("changed = %v", changed)
	}
	if strings.Join(scripts, ",") != "b,c,d" {
		t.Fatalf("scripts = %v", scripts)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}

	if changed, _, _ := SummarizeConfigChange(newCfg, newCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
	if changed, _, _ := SummarizeConfigChange(nil, &Config{Executor: ExecutorConfig{PollInterval: "1ms"}}); strings.Join(changed, ",") != "executor" {
		t.Fatalf("changed = %v", changed)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	_ = w.Close()

	dir := t.TempDir()
	p := writeFile(t, dir, "bgjobs.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(p)
	m.SetDebounce(20 * time.Millisecond)
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Logging.Level == "rejected" {
			return os.ErrInvalid
		}
		return nil
	})
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	writeFile(t, dir, "bgjobs.json", `{"logging":{"level":"rejected"}}`)
	time.Sleep(150 * time.Millisecond)
	writeFile(t, dir, "bgjobs.json", `{"logging":{"level":"debug"}}`)

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no config published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("Get level = %q", m.Get().Logging.Level)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Watch did not stop")
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatalf("subscriber got stale config")
	}
	m.Unsubscribe(ch)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed")
	}
}
