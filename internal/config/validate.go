package config

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Validate checks the structure of cfg. Script schedules are validated by the
// application, which owns the schedule parser.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if _, err := c.Executor.Settings(); err != nil {
		return err
	}
	if c.Executor.FailureLogBurst < 0 {
		return errors.New("executor.failure_log_burst must be >= 0")
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "file", "sqlite":
		default:
			return errors.WithHint(
				errors.Newf("storage.driver: unknown driver %q", s.Driver),
				`use "file" or "sqlite"`,
			)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
		if s.Retain < 0 {
			return errors.New("storage.retain must be >= 0")
		}
	}

	seen := map[string]struct{}{}
	for i, sc := range c.Scripts {
		name := strings.TrimSpace(sc.Name)
		if name == "" {
			return errors.Newf("scripts[%d]: name required", i)
		}
		if _, dup := seen[name]; dup {
			return errors.Newf("scripts[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		hasPath := strings.TrimSpace(sc.Path) != ""
		hasInline := strings.TrimSpace(sc.Inline) != ""
		if hasPath == hasInline {
			return errors.Newf("scripts[%d] %q: exactly one of path or inline is required", i, name)
		}
	}
	return nil
}
