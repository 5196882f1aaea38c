package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"bgjobs/internal/browser"
	"bgjobs/internal/config"
	"bgjobs/internal/task/factory"
	logx "bgjobs/pkg/logx"

	"github.com/cockroachdb/errors"
)

// script is a configured script loaded into its own window.
type script struct {
	cfg    config.ScriptConfig
	src    string
	spec   *factory.ParsedSpec // nil: run once on load
	window *browser.Window
}

func (s *script) name() string { return strings.TrimSpace(s.cfg.Name) }

// validateScripts checks what config.Validate cannot: schedules and script files.
func validateScripts(cfgPath string, cfg *Config) error {
	for _, sc := range cfg.Scripts {
		if !sc.IsEnabled() {
			continue
		}
		if strings.TrimSpace(sc.Schedule) != "" {
			if _, err := factory.ParseSchedule(sc.Schedule); err != nil {
				return errors.Wrapf(err, "scripts[%s].schedule", sc.Name)
			}
		}
		if strings.TrimSpace(sc.Path) != "" {
			if _, err := os.Stat(scriptPath(cfgPath, sc.Path)); err != nil {
				return errors.Wrapf(err, "scripts[%s].path", sc.Name)
			}
		}
	}
	return nil
}

// scriptPath resolves p relative to the config file's directory.
func scriptPath(cfgPath, p string) string {
	p = strings.TrimSpace(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(cfgPath), p)
}

func scriptSource(cfgPath string, sc config.ScriptConfig) (string, error) {
	if strings.TrimSpace(sc.Path) == "" {
		return sc.Inline, nil
	}
	b, err := os.ReadFile(scriptPath(cfgPath, sc.Path))
	if err != nil {
		return "", errors.Wrapf(err, "read script %s", sc.Name)
	}
	return string(b), nil
}

// startScript opens a window for sc. An unscheduled script is the page's
// inline script; a scheduled one loads an empty page and is run by jobs.
func (a *App) startScript(ctx context.Context, sc config.ScriptConfig) error {
	src, err := scriptSource(a.cfgPath, sc)
	if err != nil {
		return err
	}
	s := &script{cfg: sc, src: src}
	if raw := strings.TrimSpace(sc.Schedule); raw != "" {
		spec, err := factory.ParseSchedule(raw)
		if err != nil {
			return err
		}
		s.spec = &spec
	}

	initial := src
	if s.spec != nil {
		initial = ""
	}
	w, err := a.client.OpenWindow(ctx, sc.PageURL(), initial)
	if w == nil {
		return err
	}
	s.window = w
	a.mu.Lock()
	a.scripts[s.name()] = s
	a.mu.Unlock()
	if err != nil {
		// The window stays open; timers set before the error still run.
		return err
	}

	fields := []logx.Field{logx.String("script", s.name()), logx.String("window", w.ID())}
	if s.spec != nil {
		if err := a.scheduleScript(s); err != nil {
			return err
		}
		fields = append(fields, logx.String("schedule", s.spec.String()))
	}
	a.log.Info("script loaded", fields...)
	return nil
}

func (a *App) scheduleScript(s *script) error {
	page := s.window.Page()
	if page == nil {
		return browser.ErrClosed
	}
	if s.spec.Kind == factory.SpecCron {
		return a.armCron(s, page)
	}

	f := a.client.Factory()
	label := "interval " + s.name()
	// The first tick comes one period after load, like setInterval. A zero
	// delay would make the job ASAP for good and block every timed job.
	delay := s.spec.Every
	if s.cfg.Spread {
		delay += factory.StartupJitter(s.spec.Every, s.name())
	}
	j := f.Callback(label, f.ScriptAction(page, label, s.src).Run, delay, s.spec.Every)
	if s.window.JobManager().AddJob(j, page) == 0 {
		return errors.Newf("%s: job rejected", label)
	}
	return nil
}

// armCron queues a one-shot job for the next cron activation. The job re-arms
// itself before running the script, so a failing run keeps the schedule.
func (a *App) armCron(s *script, page *browser.Page) error {
	d := s.spec.NextDelay(a.clock.Now())
	if d < 0 {
		return errors.Newf("cron %s: no next activation for %q", s.name(), s.spec.Cron)
	}
	f := a.client.Factory()
	label := "cron " + s.name()
	action := f.ScriptAction(page, label, s.src)
	j := f.Callback(label, func(ctx context.Context) error {
		if err := a.armCron(s, page); err != nil && !s.window.Closed() {
			a.log.Warn("cron re-arm failed", logx.String("script", s.name()), logx.Err(err))
		}
		return action.Run(ctx)
	}, d, 0)
	if s.window.JobManager().AddJob(j, page) == 0 {
		return errors.Newf("%s: job rejected", label)
	}
	return nil
}

func (a *App) stopScript(name string) bool {
	a.mu.Lock()
	s, ok := a.scripts[name]
	delete(a.scripts, name)
	a.mu.Unlock()
	if !ok {
		return false
	}
	s.window.Close()
	return true
}

// syncScripts restarts the named scripts from cfg. Names missing from cfg, or
// disabled there, are only stopped.
func (a *App) syncScripts(ctx context.Context, cfg *Config, names []string) {
	byName := make(map[string]config.ScriptConfig, len(cfg.Scripts))
	for _, sc := range cfg.Scripts {
		byName[strings.TrimSpace(sc.Name)] = sc
	}
	for _, name := range names {
		stopped := a.stopScript(name)
		sc, ok := byName[name]
		if !ok || !sc.IsEnabled() {
			if stopped {
				a.log.Info("script stopped", logx.String("script", name))
			}
			continue
		}
		if err := a.startScript(ctx, sc); err != nil {
			a.log.Warn("script failed to load", logx.String("script", name), logx.Err(err))
		}
	}
}

// scriptWindow returns the window running the named script.
func (a *App) scriptWindow(name string) (*browser.Window, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.scripts[name]
	if !ok {
		return nil, false
	}
	return s.window, true
}
