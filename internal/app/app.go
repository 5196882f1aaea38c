package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"bgjobs/internal/browser"
	"bgjobs/internal/config"
	"bgjobs/internal/eventbus"
	"bgjobs/internal/runtime/supervisor"
	"bgjobs/internal/storage"
	"bgjobs/internal/task/executor"
	logx "bgjobs/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jonboulle/clockwork"
)

type App struct {
	cfgPath string
	clock   clockwork.Clock

	cfgm *ConfigManager
	sup  *Supervisor

	base  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	client *browser.Client

	mu       sync.Mutex
	settings config.ExecutorSettings
	scripts  map[string]*script

	stopJournal func()
	stopOnce    sync.Once
}

type options struct {
	clock  clockwork.Clock
	logOut io.Writer
}

type Option func(*options)

// WithClock drives every job and manager from c instead of the wall clock.
func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

// WithLogOutput sends console logs to w instead of stdout.
func WithLogOutput(w io.Writer) Option { return func(o *options) { o.logOut = w } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateScripts(cfgPath, cfg); err != nil {
		return nil, err
	}
	settings, err := cfg.Executor.Settings()
	if err != nil {
		return nil, err
	}

	var (
		logSvc *logx.Service
		base   logx.Logger
	)
	if o.logOut != nil {
		logSvc, base = logx.NewWithOutput(logConfig(cfg), o.logOut)
	} else {
		logSvc, base = logx.New(logConfig(cfg))
	}
	log := base.With(logx.String("comp", "app"))

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, base)
		if err != nil {
			_ = logSvc.Close()
			return nil, errors.Wrap(err, "open storage")
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	return &App{
		cfgPath:  cfgPath,
		clock:    o.clock,
		cfgm:     cfgm,
		base:     base,
		log:      log,
		logs:     logSvc,
		bus:      eventbus.New(),
		store:    store,
		settings: settings,
		scripts:  map[string]*script{},
	}, nil
}

// Client returns the browser client; nil before Start.
func (a *App) Client() *browser.Client { return a.client }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// WaitTimeout is the configured executor.wait_timeout (0 waits until interrupted).
func (a *App) WaitTimeout() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings.WaitTimeout
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = NewSupervisor(ctx,
		WithLogger(a.base.With(logx.String("comp", "supervisor"))),
		WithCancelOnError(true),
		supervisor.WithClock(a.clock),
	)

	s := a.settings
	a.client = browser.NewClient(
		browser.WithClock(a.clock),
		browser.WithLogger(a.base),
		browser.WithBus(a.bus),
		browser.WithFailureLogRate(s.FailureLogEvery, s.FailureLogBurst),
		browser.WithExecutorOptions(
			executor.WithSupervisor(a.sup),
			executor.WithPollInterval(s.PollInterval),
			executor.WithShutdownTimeout(s.ShutdownTimeout),
		),
	)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.base.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		return validateScripts(a.cfgPath, cfg)
	})

	a.startJournal()
	a.startEventLog()

	for _, sc := range a.cfgm.Get().Scripts {
		if !sc.IsEnabled() {
			continue
		}
		// A broken script must not keep the others from loading.
		if err := a.startScript(a.sup.Context(), sc); err != nil {
			a.log.Warn("script failed to load", logx.String("script", sc.Name), logx.Err(err))
		}
	}

	a.startReload()
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))

	a.notify(daemon.SdNotifyReady)
	a.notifyStatus()
	a.log.Info("app started", logx.Int("windows", len(a.client.Windows())))
	return nil
}

// startEventLog logs every bus event at debug level.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

// WaitForJobs blocks until no window has pending or running jobs, the timeout
// elapses or ctx is done. It returns the number of jobs still outstanding.
func (a *App) WaitForJobs(ctx context.Context, timeout time.Duration) int {
	if a.client == nil {
		return 0
	}
	return a.client.WaitForBackgroundJobs(ctx, timeout)
}

// Recent returns the newest n journal runs.
func (a *App) Recent(ctx context.Context, n int) ([]storage.Run, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.Recent(ctx, n)
}

// StatusDump describes windows, queued jobs, the executor and the event bus.
func (a *App) StatusDump() string {
	if a.client == nil {
		return "not started\n"
	}
	var b strings.Builder
	b.WriteString(a.client.StatusDump())

	es := a.client.Executor().Snapshot()
	fmt.Fprintf(&b, "executor: running=%t stopped=%t managers=%d jobs_run=%d poll=%s\n",
		es.Running, es.Stopped, len(es.Managers), es.JobsRun, es.PollInterval)

	bs := a.bus.Stats()
	fmt.Fprintf(&b, "events: subscribers=%d published=%d dropped=%d\n", bs.Subscribers, bs.Published, bs.Dropped)

	ss := a.sup.Snapshot()
	fmt.Fprintf(&b, "goroutines: active=%d started=%d\n", ss.Counters.Active, ss.Counters.Started)
	for _, g := range ss.Goroutines {
		if g.Panics == 0 && g.LastErr == "" {
			continue
		}
		fmt.Fprintf(&b, "  %s: panics=%d restarts=%d last_err=%q\n", g.Name, g.Panics, g.Restarts, g.LastErr)
	}
	return b.String()
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	var err error
	a.stopOnce.Do(func() { err = a.stop(ctx, reason) })
	return err
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		return a.logs.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	a.mu.Lock()
	shutdownTimeout := a.settings.ShutdownTimeout
	a.mu.Unlock()
	a.step(ctx, "browser", shutdownTimeout+time.Second, func(context.Context) error {
		a.client.Close()
		return nil
	})
	// Closing the journal subscription lets the writer drain what is buffered.
	if a.stopJournal != nil {
		a.stopJournal()
	}
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Newf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
