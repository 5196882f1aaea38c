package browser

import (
	"time"

	"bgjobs/internal/eventbus"
	"bgjobs/internal/task/executor"
	logx "bgjobs/pkg/logx"

	"github.com/jonboulle/clockwork"
)

type options struct {
	clock     clockwork.Clock
	log       logx.Logger
	bus       eventbus.Bus
	execOpts  []executor.Option
	failEvery time.Duration
	failBurst int
	hasRate   bool
}

type Option func(*options)

func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

func WithLogger(l logx.Logger) Option { return func(o *options) { o.log = l } }

// WithBus makes every window publish job lifecycle events to b.
func WithBus(b eventbus.Bus) Option { return func(o *options) { o.bus = b } }

// WithExecutorOptions configures the client's executor.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(o *options) { o.execOpts = append(o.execOpts, opts...) }
}

// WithFailureLogRate throttles job failure logs per window.
func WithFailureLogRate(every time.Duration, burst int) Option {
	return func(o *options) {
		o.failEvery, o.failBurst, o.hasRate = every, burst, true
	}
}
