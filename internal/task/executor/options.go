package executor

import (
	"time"

	"bgjobs/internal/runtime/supervisor"
	logx "bgjobs/pkg/logx"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultPollInterval    = 10 * time.Millisecond
	DefaultShutdownTimeout = time.Second
)

type options struct {
	clock           clockwork.Clock
	log             logx.Logger
	sup             *supervisor.Supervisor
	poll            time.Duration
	shutdownTimeout time.Duration
}

type Option func(*options)

func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

func WithLogger(l logx.Logger) Option { return func(o *options) { o.log = l } }

// WithSupervisor runs the worker goroutine under sup. Cancelling the
// supervisor stops the worker as if Shutdown was called.
func WithSupervisor(sup *supervisor.Supervisor) Option { return func(o *options) { o.sup = sup } }

// WithPollInterval sets how long the worker sleeps when no job is due.
func WithPollInterval(d time.Duration) Option { return func(o *options) { o.poll = d } }

// WithShutdownTimeout bounds how long Shutdown waits for a busy worker before
// abandoning it.
func WithShutdownTimeout(d time.Duration) Option { return func(o *options) { o.shutdownTimeout = d } }
