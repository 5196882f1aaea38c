package browser

import (
	"context"
	"sync"
	"time"

	"bgjobs/internal/task/manager"
	logx "bgjobs/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Window is a top-level browsing context. It owns one job manager for its
// whole life; the page inside it changes on every navigation.
type Window struct {
	id       string
	client   *Client
	jm       *manager.JobManager
	openedAt time.Time
	log      logx.Logger

	mu     sync.Mutex
	page   *Page
	closed bool
}

func newWindow(c *Client) *Window {
	w := &Window{
		id:       uuid.NewString(),
		client:   c,
		openedAt: c.clock.Now(),
	}
	w.log = c.log.With(logx.String("window", w.id))
	opts := append([]manager.Option{manager.WithID(w.id)}, c.mgrOpts...)
	w.jm = manager.New(manager.Weak(w), opts...)
	return w
}

func (w *Window) ID() string                      { return w.id }
func (w *Window) JobManager() *manager.JobManager { return w.jm }

// CurrentPage returns the loaded page, or nil when nothing is loaded or the
// window is closed.
func (w *Window) CurrentPage() manager.Page {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.page == nil {
		return nil
	}
	return w.page
}

// Page returns the loaded page (nil if none).
func (w *Window) Page() *Page {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.page
}

func (w *Window) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Navigate replaces the current page. Jobs of the previous page are removed
// before the new page's script runs, and its stale closures can no longer
// schedule anything. A script error is returned but the new page stays loaded.
func (w *Window) Navigate(ctx context.Context, url, script string) (*Page, error) {
	p := newPage(w, url)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	w.page = p
	w.mu.Unlock()

	// The old page stopped being current above, so a job of it that is still
	// running gets its new timers rejected rather than racing this drain.
	w.jm.RemoveAllJobs()

	w.log.Debug("page loaded", logx.String("page", p.id), logx.String("url", url))
	if script == "" {
		return p, nil
	}
	if err := p.runContext(ctx, script); err != nil {
		return p, errors.Wrapf(err, "load %s", url)
	}
	return p, nil
}

// PostCompletion schedules fn as an ASAP job of the current page, the way a
// finished asynchronous request delivers its callback. It returns the job id,
// or 0 when no page is loaded.
func (w *Window) PostCompletion(label string, fn func(ctx context.Context) error) int64 {
	p := w.Page()
	if p == nil {
		return 0
	}
	return w.jm.AddJob(w.client.factory.AsyncCompletion(label, fn), p)
}

// Close drops the page, shuts the job manager down and detaches the window
// from its client. Calling Close more than once is safe.
func (w *Window) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	p := w.page
	w.page = nil
	w.mu.Unlock()

	if p != nil {
		p.Interrupt(ErrClosed)
	}
	w.jm.Shutdown()
	w.client.forget(w.id)
	w.log.Debug("window closed")
}
