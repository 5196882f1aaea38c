package manager

import (
	"time"

	"bgjobs/internal/eventbus"
	"bgjobs/internal/task/job"
	logx "bgjobs/pkg/logx"

	"github.com/jonboulle/clockwork"
)

const (
	defaultFailureLogEvery = time.Second
	defaultFailureLogBurst = 5
)

type options struct {
	id    string
	clock clockwork.Clock
	log   logx.Logger
	bus   eventbus.Bus
	seq   *job.Sequence

	failEvery time.Duration
	failBurst int
}

type Option func(*options)

// WithID sets the identifier used in logs, events and dumps (usually the window id).
func WithID(id string) Option { return func(o *options) { o.id = id } }

func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

func WithLogger(l logx.Logger) Option { return func(o *options) { o.log = l } }

// WithBus publishes job lifecycle events to b.
func WithBus(b eventbus.Bus) Option { return func(o *options) { o.bus = b } }

// WithSequence shares an id counter between managers of the same client.
func WithSequence(s *job.Sequence) Option { return func(o *options) { o.seq = s } }

// WithFailureLogRate limits job failure logs to one per every, with burst.
// every <= 0 disables throttling.
func WithFailureLogRate(every time.Duration, burst int) Option {
	return func(o *options) {
		o.failEvery = every
		o.failBurst = burst
	}
}
