package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"bgjobs/internal/eventbus"
	"bgjobs/internal/task/executor"
	"bgjobs/internal/task/factory"
	"bgjobs/internal/task/job"
	"bgjobs/internal/task/manager"
	logx "bgjobs/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
)

var ErrClosed = errors.New("browser: closed")

// Client is a headless browser: a set of windows whose background jobs are
// driven by one executor.
type Client struct {
	clock   clockwork.Clock
	log     logx.Logger
	bus     eventbus.Bus
	factory *factory.JS
	exec    *executor.Executor
	seq     job.Sequence
	mgrOpts []manager.Option

	mu      sync.Mutex
	windows map[string]*Window
	order   []string
	closed  bool
}

func NewClient(opts ...Option) *Client {
	var o options
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
	c := &Client{
		clock:   o.clock,
		log:     o.log.With(logx.String("comp", "browser")),
		bus:     o.bus,
		factory: factory.New(o.clock, o.log),
		windows: map[string]*Window{},
	}
	execOpts := append([]executor.Option{executor.WithClock(o.clock), executor.WithLogger(o.log)}, o.execOpts...)
	c.exec = executor.New(execOpts...)

	c.mgrOpts = []manager.Option{
		manager.WithClock(o.clock),
		manager.WithLogger(o.log),
		manager.WithSequence(&c.seq),
	}
	if o.bus != nil {
		c.mgrOpts = append(c.mgrOpts, manager.WithBus(o.bus))
	}
	if o.hasRate {
		c.mgrOpts = append(c.mgrOpts, manager.WithFailureLogRate(o.failEvery, o.failBurst))
	}
	return c
}

func (c *Client) Executor() *executor.Executor { return c.exec }
func (c *Client) Factory() *factory.JS         { return c.factory }
func (c *Client) Clock() clockwork.Clock       { return c.clock }

// OpenWindow opens a window, loads url into it and evaluates script as the
// page's inline script. The window stays open when the script fails.
func (c *Client) OpenWindow(ctx context.Context, url, script string) (*Window, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	w := newWindow(c)
	c.windows[w.id] = w
	c.order = append(c.order, w.id)
	c.mu.Unlock()

	c.exec.AddWindow(w)
	c.log.Debug("window opened", logx.String("window", w.id), logx.String("url", url))

	if _, err := w.Navigate(ctx, url, script); err != nil {
		return w, err
	}
	return w, nil
}

// Windows returns the open windows in opening order.
func (c *Client) Windows() []*Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Window, 0, len(c.order))
	for _, id := range c.order {
		if w := c.windows[id]; w != nil {
			out = append(out, w)
		}
	}
	return out
}

func (c *Client) Window(id string) (*Window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[id]
	return w, ok
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.windows, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// WaitForBackgroundJobs waits until every window's jobs are done or timeout
// elapses, and returns the number of jobs still pending.
func (c *Client) WaitForBackgroundJobs(ctx context.Context, timeout time.Duration) int {
	if ctx == nil {
		ctx = context.Background()
	}
	deadline := c.clock.Now().Add(timeout)
	for {
		for _, w := range c.Windows() {
			w.jm.WaitForJobs(ctx, deadline.Sub(c.clock.Now()))
		}
		// A job in one window may schedule work in another; recount them all.
		n := c.jobCount()
		if n == 0 || !c.clock.Now().Before(deadline) || ctx.Err() != nil {
			return n
		}
	}
}

func (c *Client) jobCount() int {
	n := 0
	for _, w := range c.Windows() {
		n += w.jm.JobCount(nil)
	}
	return n
}

// WaitForBackgroundJobsStartingBefore waits for every job across all windows
// that is due before now+delay, and returns the number of jobs left.
func (c *Client) WaitForBackgroundJobsStartingBefore(ctx context.Context, delay time.Duration) int {
	latest := c.clock.Now().Add(delay)
	n := 0
	for _, w := range c.Windows() {
		n += w.jm.WaitForJobsStartingBefore(ctx, latest.Sub(c.clock.Now()), nil)
	}
	return n
}

// StatusDump renders the job state of every window.
func (c *Client) StatusDump() string {
	ws := c.Windows()
	if len(ws) == 0 {
		return "no open windows\n"
	}
	var b strings.Builder
	for _, w := range ws {
		b.WriteString(w.jm.StatusDump(nil))
	}
	return b.String()
}

// Close closes all windows and stops the executor. It is safe to call more
// than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ws := make([]*Window, 0, len(c.windows))
	for _, id := range c.order {
		ws = append(ws, c.windows[id])
	}
	c.mu.Unlock()

	for _, w := range ws {
		w.Close()
	}
	c.exec.Shutdown()
	c.log.Debug("client closed")
}
