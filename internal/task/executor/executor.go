package executor

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"bgjobs/internal/runtime/supervisor"
	"bgjobs/internal/task/job"
	"bgjobs/internal/task/manager"
	logx "bgjobs/pkg/logx"

	"github.com/jonboulle/clockwork"
)

// Window is anything that owns a job manager.
type Window interface {
	JobManager() *manager.JobManager
}

// Executor drives the job managers of one client from a single worker
// goroutine, so no two job actions ever overlap.
//
// Managers are held weakly. The worker state lives apart from the Executor
// handle; dropping the last reference to the handle shuts the worker down.
type Executor struct {
	l *loop
}

type loop struct {
	clock           clockwork.Clock
	log             logx.Logger
	sup             *supervisor.Supervisor
	shutdownTimeout time.Duration
	poll            atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
	doneCh  chan struct{}

	mu       sync.Mutex
	managers []weak.Pointer[manager.JobManager]
	started  bool
	ran      atomic.Uint64
}

func New(opts ...Option) *Executor {
	o := options{
		poll:            DefaultPollInterval,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if o.shutdownTimeout <= 0 {
		o.shutdownTimeout = DefaultShutdownTimeout
	}
	parent := context.Background()
	if o.sup != nil {
		parent = o.sup.Context()
	}
	l := &loop{
		clock:           o.clock,
		log:             o.log.With(logx.String("comp", "executor")),
		sup:             o.sup,
		shutdownTimeout: o.shutdownTimeout,
		doneCh:          make(chan struct{}),
	}
	l.ctx, l.cancel = context.WithCancel(parent)
	l.setPoll(o.poll)

	e := &Executor{l: l}
	runtime.AddCleanup(e, func(l *loop) { l.shutdown() }, l)
	return e
}

// AddWindow registers the window's job manager and starts the worker if it is
// not running yet. Registering the same manager again is a no-op.
func (e *Executor) AddWindow(w Window) {
	if w == nil {
		return
	}
	m := w.JobManager()
	if m == nil {
		return
	}
	l := e.l
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped.Load() {
		return
	}
	l.pruneLocked()
	for _, wp := range l.managers {
		if wp.Value() == m {
			return
		}
	}
	l.managers = append(l.managers, weak.Make(m))
	if !l.started {
		l.started = true
		l.start()
	}
}

// Shutdown stops the worker. A job action that ignores its context is given
// the shutdown timeout to return; after that the worker is abandoned.
// Calling Shutdown more than once is safe.
func (e *Executor) Shutdown() { e.l.shutdown() }

// ManagerCount returns the number of live registered managers.
func (e *Executor) ManagerCount() int {
	l := e.l
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	return len(l.managers)
}

// SetPollInterval changes the idle sleep of a running worker.
func (e *Executor) SetPollInterval(d time.Duration) { e.l.setPoll(d) }

// StatusDump concatenates the dumps of every live manager.
func (e *Executor) StatusDump(filter manager.Filter) string {
	var b strings.Builder
	for _, m := range e.l.live() {
		b.WriteString(m.StatusDump(filter))
	}
	if b.Len() == 0 {
		return "no job managers\n"
	}
	return b.String()
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Running      bool               `json:"running"`
	Stopped      bool               `json:"stopped"`
	PollInterval time.Duration      `json:"poll_interval"`
	JobsRun      uint64             `json:"jobs_run"`
	Managers     []manager.Snapshot `json:"managers"`
}

func (e *Executor) Snapshot() Snapshot {
	l := e.l
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	s := Snapshot{
		Running:      started && !l.stopped.Load(),
		Stopped:      l.stopped.Load(),
		PollInterval: l.pollInterval(),
		JobsRun:      l.ran.Load(),
	}
	for _, m := range l.live() {
		s.Managers = append(s.Managers, m.Snapshot())
	}
	return s
}

func (l *loop) setPoll(d time.Duration) {
	if d <= 0 {
		d = DefaultPollInterval
	}
	l.poll.Store(int64(d))
}

func (l *loop) pollInterval() time.Duration { return time.Duration(l.poll.Load()) }

func (l *loop) start() {
	if l.sup != nil {
		l.sup.Go0("executor.worker", func(context.Context) { l.run() })
		return
	}
	go l.run()
}

// pruneLocked drops collected and shut down managers.
func (l *loop) pruneLocked() {
	live := l.managers[:0]
	for _, wp := range l.managers {
		if m := wp.Value(); m != nil && !m.IsShutdown() {
			live = append(live, wp)
		}
	}
	clear(l.managers[len(live):])
	l.managers = live
}

func (l *loop) live() []*manager.JobManager {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	out := make([]*manager.JobManager, 0, len(l.managers))
	for _, wp := range l.managers {
		if m := wp.Value(); m != nil {
			out = append(out, m)
		}
	}
	return out
}

// earliest picks the globally minimal job across all live managers.
func (l *loop) earliest() (*manager.JobManager, *job.Job) {
	var (
		bestM *manager.JobManager
		bestJ *job.Job
	)
	for _, m := range l.live() {
		j := m.EarliestJob(nil)
		if j == nil {
			continue
		}
		if bestJ == nil || job.Less(j, bestJ) {
			bestM, bestJ = m, j
		}
	}
	return bestM, bestJ
}

func (l *loop) run() {
	defer close(l.doneCh)
	l.log.Debug("worker started")
	defer l.log.Debug("worker stopped")

	for {
		if l.stopped.Load() || l.ctx.Err() != nil {
			return
		}
		m, j := l.earliest()
		if j != nil && j.IsDue(l.clock.Now()) {
			if m.RunSingleJob(l.ctx, j) {
				l.ran.Add(1)
			}
			continue
		}
		select {
		case <-l.ctx.Done():
			return
		case <-l.clock.After(l.pollInterval()):
		}
	}
}

func (l *loop) shutdown() {
	if !l.stopped.CompareAndSwap(false, true) {
		return
	}
	l.cancel()

	l.mu.Lock()
	started := l.started
	l.managers = nil
	l.mu.Unlock()
	if !started {
		return
	}

	// The join bound is wall-clock time even under a fake clock.
	t := time.NewTimer(l.shutdownTimeout)
	defer t.Stop()
	select {
	case <-l.doneCh:
	case <-t.C:
		l.log.Warn("worker did not stop in time; abandoning it",
			logx.Duration("timeout", l.shutdownTimeout))
	}
}
