package config

import (
	"reflect"
	"sort"
	"strings"

	logx "bgjobs/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) structured
// fields for logging the change and (3) the names of scripts that were added,
// removed or changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(trimExecutor(oldCfg.Executor), trimExecutor(newCfg.Executor)) {
		changed = append(changed, "executor")
		ne := trimExecutor(newCfg.Executor)
		attrs = append(attrs,
			logx.String("executor.poll_interval", ne.PollInterval),
			logx.String("executor.shutdown_timeout", ne.ShutdownTimeout),
			logx.String("executor.wait_timeout", ne.WaitTimeout),
			logx.String("executor.failure_log_every", ne.FailureLogEvery),
			logx.Int("executor.failure_log_burst", ne.FailureLogBurst),
		)
	}

	// Nil storage means the journal is disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = trimStorage(*oldCfg.Storage)
	}
	if newCfg.Storage != nil {
		nS = trimStorage(*newCfg.Storage)
	}
	if (oldCfg.Storage == nil) != (newCfg.Storage == nil) || oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.enabled", newCfg.Storage != nil),
			logx.String("storage.driver", nS.Driver),
			logx.Bool("storage.path_set", nS.Path != ""),
			logx.String("storage.busy_timeout", nS.BusyTimeout),
		)
	}

	scripts := diffScripts(oldCfg.Scripts, newCfg.Scripts)
	if len(scripts) > 0 {
		changed = append(changed, "scripts")
		attrs = append(attrs,
			logx.Int("scripts.changed_count", len(scripts)),
			logx.Int("scripts.enabled_count", countEnabled(newCfg.Scripts)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, scripts
}

func trimExecutor(e ExecutorConfig) ExecutorConfig {
	e.PollInterval = strings.TrimSpace(e.PollInterval)
	e.ShutdownTimeout = strings.TrimSpace(e.ShutdownTimeout)
	e.WaitTimeout = strings.TrimSpace(e.WaitTimeout)
	e.FailureLogEvery = strings.TrimSpace(e.FailureLogEvery)
	return e
}

func trimStorage(s StorageConfig) StorageConfig {
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	s.Path = strings.TrimSpace(s.Path)
	s.BusyTimeout = strings.TrimSpace(s.BusyTimeout)
	return s
}

func countEnabled(scripts []ScriptConfig) int {
	n := 0
	for _, s := range scripts {
		if s.IsEnabled() {
			n++
		}
	}
	return n
}

func diffScripts(oldS, newS []ScriptConfig) []string {
	index := func(list []ScriptConfig) map[string]ScriptConfig {
		m := make(map[string]ScriptConfig, len(list))
		for _, s := range list {
			m[strings.TrimSpace(s.Name)] = s
		}
		return m
	}
	oldM, newM := index(oldS), index(newS)

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := oldM[name]
		n, inNew := newM[name]
		if inOld != inNew || o.IsEnabled() != n.IsEnabled() ||
			o.URL != n.URL || o.Path != n.Path || o.Inline != n.Inline ||
			strings.TrimSpace(o.Schedule) != strings.TrimSpace(n.Schedule) || o.Spread != n.Spread {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
