package manager

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"bgjobs/internal/eventbus"
	"bgjobs/internal/task/job"
	logx "bgjobs/pkg/logx"

	"github.com/jonboulle/clockwork"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testPage struct{ id string }

func (p *testPage) PageID() string { return p.id }

type testWindow struct {
	mu   sync.Mutex
	page *testPage
}

func newTestWindow(pageID string) *testWindow {
	return &testWindow{page: &testPage{id: pageID}}
}

func (w *testWindow) CurrentPage() Page {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.page == nil {
		return nil
	}
	return w.page
}

func (w *testWindow) navigate(pageID string) *testPage {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.page = &testPage{id: pageID}
	return w.page
}

func newFakeManager(t *testing.T, opts ...Option) (*JobManager, *testWindow, *clockwork.FakeClock) {
	t.Helper()
	c := clockwork.NewFakeClockAt(epoch)
	w := newTestWindow("page-1")
	m := New(Strong(w), append([]Option{WithClock(c), WithID("w1")}, opts...)...)
	return m, w, c
}

func TestASAPThenTimedScenario(t *testing.T) {
	t.Parallel()
	m, w, c := newFakeManager(t)
	ctx := context.Background()

	var order []string
	a := job.New(c, "A", 0, 0, job.ActionFunc(func(context.Context) error { order = append(order, "A"); return nil }))
	b := job.New(c, "B", 100*time.Millisecond, 0, job.ActionFunc(func(context.Context) error { order = append(order, "B"); return nil }))

	if id := m.AddJob(a, w.page); id != 1 {
		t.Fatalf("AddJob(A) = %d, want 1", id)
	}
	if id := m.AddJob(b, w.page); id != 2 {
		t.Fatalf("AddJob(B) = %d, want 2", id)
	}
	if got := m.EarliestJob(nil); got != a {
		t.Fatalf("EarliestJob = %v, want A", got)
	}
	if !m.RunSingleJob(ctx, a) {
		t.Fatalf("RunSingleJob(A) = false")
	}
	if got := m.EarliestJob(nil); got != b {
		t.Fatalf("EarliestJob after A = %v, want B", got)
	}
	if m.RunSingleJob(ctx, b) {
		t.Fatalf("RunSingleJob(B) ran before it was due")
	}
	c.Advance(100 * time.Millisecond)
	if !m.RunSingleJob(ctx, b) {
		t.Fatalf("RunSingleJob(B) = false once due")
	}
	if strings.Join(order, ",") != "A,B" {
		t.Fatalf("order = %v, want [A B]", order)
	}
	if n := m.JobCount(nil); n != 0 {
		t.Fatalf("JobCount = %d, want 0", n)
	}
}

func TestAddJobRejections(t *testing.T) {
	t.Parallel()
	m, w, c := newFakeManager(t)

	stale := &testPage{id: "other"}
	j := job.New(c, "", 0, 0, nil)
	if id := m.AddJob(j, stale); id != 0 {
		t.Fatalf("AddJob(stale page) = %d, want 0", id)
	}
	if j.ID() != 0 {
		t.Fatalf("rejected job got id %d", j.ID())
	}
	if n := m.JobCount(nil); n != 0 {
		t.Fatalf("JobCount = %d, want 0", n)
	}

	old := w.page
	if m.AddJob(j, old) == 0 {
		t.Fatalf("AddJob(current page) rejected")
	}
	if m.AddJob(j, old) != 0 {
		t.Fatalf("re-registering the same job should be rejected")
	}

	w.navigate("page-2")
	if id := m.AddJob(job.New(c, "", 0, 0, nil), old); id != 0 {
		t.Fatalf("AddJob after navigation = %d, want 0", id)
	}
	if m.AddJob(nil, w.page) != 0 {
		t.Fatalf("AddJob(nil) should be rejected")
	}
	if n := m.JobCount(nil); n != 1 {
		t.Fatalf("JobCount = %d, want 1", n)
	}
}

func TestSharedSequenceAcrossManagers(t *testing.T) {
	t.Parallel()
	c := clockwork.NewFakeClockAt(epoch)
	var seq job.Sequence
	w1, w2 := newTestWindow("a"), newTestWindow("b")
	m1 := New(Strong(w1), WithClock(c), WithSequence(&seq))
	m2 := New(Strong(w2), WithClock(c), WithSequence(&seq))

	if id := m1.AddJob(job.New(c, "", 0, 0, nil), w1.page); id != 1 {
		t.Fatalf("first id = %d, want 1", id)
	}
	if id := m2.AddJob(job.New(c, "", 0, 0, nil), w2.page); id != 2 {
		t.Fatalf("second id = %d, want 2", id)
	}
}

func TestPeriodicCatchUpOnRun(t *testing.T) {
	t.Parallel()
	m, w, c := newFakeManager(t)
	runs := 0
	j := job.New(c, "tick", 50*time.Millisecond, 50*time.Millisecond,
		job.ActionFunc(func(context.Context) error { runs++; return nil }))
	m.AddJob(j, w.page)

	c.Advance(130 * time.Millisecond)
	if !m.RunSingleJob(context.Background(), j) {
		t.Fatalf("RunSingleJob = false")
	}
	if got, want := j.TargetExecutionTime(), epoch.Add(150*time.Millisecond); !got.Equal(want) {
		t.Fatalf("target = %v, want %v", got.Sub(epoch), want.Sub(epoch))
	}
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
	if m.EarliestJob(nil) != j || m.JobCount(nil) != 1 {
		t.Fatalf("periodic job was not re-queued")
	}
}

func TestStopFromInsideAction(t *testing.T) {
	t.Parallel()
	m, w, c := newFakeManager(t)
	var j *job.Job
	j = job.New(c, "self-stop", 10*time.Millisecond, 10*time.Millisecond,
		job.ActionFunc(func(context.Context) error {
			if n := m.JobCount(nil); n != 2 {
				t.Errorf("JobCount inside action = %d, want 2 (queued + running)", n)
			}
			m.StopJob(j.ID())
			return nil
		}))
	m.AddJob(j, w.page)

	c.Advance(10 * time.Millisecond)
	if !m.RunSingleJob(context.Background(), j) {
		t.Fatalf("RunSingleJob = false")
	}
	if n := m.JobCount(nil); n != 0 {
		t.Fatalf("JobCount = %d, want 0 after self-stop", n)
	}
	if m.EarliestJob(nil) != nil {
		t.Fatalf("stopped periodic job is still queued")
	}
}

func TestRemoveAllJobsCancelsRunning(t *testing.T) {
	t.Parallel()
	m, w, c := newFakeManager(t)
	var tick *job.Job
	tick = job.New(c, "tick", 5*time.Millisecond, 5*time.Millisecond,
		job.ActionFunc(func(context.Context) error {
			m.RemoveAllJobs()
			return nil
		}))
	other := job.New(c, "other", time.Second, 0, nil)
	m.AddJob(tick, w.page)
	m.AddJob(other, w.page)

	c.Advance(5 * time.Millisecond)
	if !m.RunSingleJob(context.Background(), tick) {
		t.Fatalf("RunSingleJob = false")
	}
	if n := m.JobCount(nil); n != 0 {
		t.Fatalf("JobCount = %d, want 0", n)
	}
}

func TestRemoveJobQueued(t *testing.T) {
	t.Parallel()
	m, w, c := newFakeManager(t)
	a := job.New(c, "a", time.Second, 0, nil)
	b := job.New(c, "b", 2*time.Second, 0, nil)
	m.AddJob(a, w.page)
	m.AddJob(b, w.page)

	m.RemoveJob(a.ID())
	m.RemoveJob(12345) // unknown ids are ignored
	if got := m.EarliestJob(nil); got != b {
		t.Fatalf("EarliestJob = %v, want b", got)
	}
	c.Advance(time.Second)
	if m.RunSingleJob(context.Background(), a) {
		t.Fatalf("removed job ran")
	}
}

func TestCancelledSetStaysBounded(t *testing.T) {
	t.Parallel()
	m, w, c := newFakeManager(t)
	for i := 0; i < 100; i++ {
		j := job.New(c, "", time.Second, 0, nil)
		m.StopJob(m.AddJob(j, w.page))
	}
	for i := 0; i < 100; i++ {
		m.AddJob(job.New(c, "", time.Second, 0, nil), w.page)
	}
	m.RemoveAllJobs()
	m.StopJob(99999)
	if s := m.Snapshot(); s.Queued != 0 || s.Cancelled != 0 {
		t.Fatalf("snapshot = %+v, want nothing queued or cancelled", s)
	}

	// Stopping the running job is remembered only while it runs.
	var (
		during int
		tick   *job.Job
	)
	tick = job.New(c, "tick", 5*time.Millisecond, 5*time.Millisecond,
		job.ActionFunc(func(context.Context) error {
			m.StopJob(tick.ID())
			during = m.Snapshot().Cancelled
			return nil
		}))
	m.AddJob(tick, w.page)
	c.Advance(5 * time.Millisecond)
	if !m.RunSingleJob(context.Background(), tick) {
		t.Fatalf("RunSingleJob = false")
	}
	if during != 1 {
		t.Fatalf("cancelled while running = %d, want 1", during)
	}
	if s := m.Snapshot(); s.Queued != 0 || s.Cancelled != 0 {
		t.Fatalf("snapshot after run = %+v", s)
	}
}

func TestFilters(t *testing.T) {
	t.Parallel()
	m, w, c := newFakeManager(t)
	labelled := func(l string) Filter { return func(j *job.Job) bool { return j.Label() == l } }

	x1 := job.New(c, "x", 30*time.Millisecond, 0, nil)
	y := job.New(c, "y", 10*time.Millisecond, 0, nil)
	x2 := job.New(c, "x", 20*time.Millisecond, 0, nil)
	x3 := job.New(c, "x", 40*time.Millisecond, 0, nil)
	for _, j := range []*job.Job{x1, y, x2, x3} {
		m.AddJob(j, w.page)
	}

	if n := m.JobCount(labelled("x")); n != 3 {
		t.Fatalf("JobCount(x) = %d, want 3", n)
	}
	if n := m.JobCount(labelled("z")); n != 0 {
		t.Fatalf("JobCount(z) = %d, want 0", n)
	}
	if got := m.EarliestJob(labelled("x")); got != x2 {
		t.Fatalf("EarliestJob(x) = %v, want %v", got, x2)
	}
	if got := m.EarliestJob(nil); got != y {
		t.Fatalf("EarliestJob(nil) = %v, want %v", got, y)
	}
}

func TestWeakOwnerAfterGC(t *testing.T) {
	c := clockwork.NewFakeClockAt(epoch)
	m, page := func() (*JobManager, Page) {
		w := newTestWindow("gone")
		m := New(Weak(w), WithClock(c), WithID("weak"))
		if m.AddJob(job.New(c, "", 0, 0, nil), w.page) == 0 {
			t.Fatalf("AddJob rejected while the window is alive")
		}
		return m, w.page
	}()

	for i := 0; i < 20 && m.alive(); i++ {
		runtime.GC()
	}
	if m.alive() {
		t.Skip("window was not collected")
	}

	j := job.New(c, "", 0, 0, nil)
	if id := m.AddJob(j, page); id != 0 {
		t.Fatalf("AddJob = %d, want 0", id)
	}
	if n := m.JobCount(nil); n != 0 {
		t.Fatalf("JobCount = %d, want 0", n)
	}
	if m.EarliestJob(nil) != nil {
		t.Fatalf("EarliestJob should be nil")
	}
	if m.RunSingleJob(context.Background(), j) {
		t.Fatalf("RunSingleJob should be false")
	}
	m.RemoveJob(1)
	m.RemoveAllJobs()
	if n := m.WaitForJobs(context.Background(), time.Second); n != 0 {
		t.Fatalf("WaitForJobs = %d, want 0", n)
	}
	if d := m.StatusDump(nil); !strings.Contains(d, "window gone") {
		t.Fatalf("dump = %q", d)
	}
	m.Shutdown()
}

func TestShutdownIdempotent(t *testing.T) {
	t.Parallel()
	m, w, c := newFakeManager(t)
	m.AddJob(job.New(c, "", 0, 0, nil), w.page)
	m.AddJob(job.New(c, "", time.Second, time.Second, nil), w.page)

	m.Shutdown()
	m.Shutdown()
	if n := m.JobCount(nil); n != 0 {
		t.Fatalf("JobCount = %d, want 0", n)
	}
	if !m.IsShutdown() {
		t.Fatalf("IsShutdown = false")
	}
	if id := m.AddJob(job.New(c, "", 0, 0, nil), w.page); id != 0 {
		t.Fatalf("AddJob after shutdown = %d, want 0", id)
	}
}

func TestFailingJobsAreIsolated(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32, "job.")
	defer unsub()

	m, w, c := newFakeManager(t, WithLogger(logx.NewJSON(&logs, "debug")), WithBus(bus))
	ctx := context.Background()

	ran := false
	failing := job.New(c, "fails", 0, 0, job.ActionFunc(func(context.Context) error { return errors.New("boom") }))
	panicking := job.New(c, "panics", 0, 0, job.ActionFunc(func(context.Context) error { panic("kaboom") }))
	ok := job.New(c, "ok", 0, 0, job.ActionFunc(func(context.Context) error { ran = true; return nil }))
	for _, j := range []*job.Job{failing, panicking, ok} {
		m.AddJob(j, w.page)
	}
	for _, j := range []*job.Job{failing, panicking, ok} {
		if !m.RunSingleJob(ctx, j) {
			t.Fatalf("RunSingleJob(%s) = false", j.Label())
		}
	}
	if !ran {
		t.Fatalf("job after failures did not run")
	}
	out := logs.String()
	if !strings.Contains(out, "job failed") || !strings.Contains(out, "boom") {
		t.Fatalf("missing failure log: %s", out)
	}
	if !strings.Contains(out, "job panic") {
		t.Fatalf("missing panic log: %s", out)
	}

	counts := map[string]int{}
	var failed []JobEvent
	for len(events) > 0 {
		e := <-events
		counts[e.Type]++
		if e.Type == eventbus.JobFailed {
			failed = append(failed, e.Data.(JobEvent))
		}
	}
	if counts[eventbus.JobAdded] != 3 || counts[eventbus.JobStarted] != 3 ||
		counts[eventbus.JobFinished] != 3 || counts[eventbus.JobFailed] != 2 {
		t.Fatalf("event counts = %v", counts)
	}
	if failed[0].Label != "fails" || failed[0].Err != "boom" || failed[0].WindowID != "w1" {
		t.Fatalf("failed event = %+v", failed[0])
	}
}

func TestFailureLogThrottle(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	m, w, c := newFakeManager(t, WithLogger(logx.NewJSON(&logs, "info")), WithFailureLogRate(time.Hour, 1))
	for i := 0; i < 3; i++ {
		j := job.New(c, "", 0, 0, job.ActionFunc(func(context.Context) error { return errors.New("again") }))
		m.AddJob(j, w.page)
		m.RunSingleJob(context.Background(), j)
	}
	if n := strings.Count(logs.String(), "job failed"); n != 1 {
		t.Fatalf("failure log lines = %d, want 1", n)
	}
	if n := m.fails.Held(); n != 2 {
		t.Fatalf("held = %d, want 2", n)
	}
}

func TestRunSingleJobStaleIsNoop(t *testing.T) {
	t.Parallel()
	m, w, c := newFakeManager(t)
	first := job.New(c, "first", 0, 0, nil)
	second := job.New(c, "second", 0, 0, nil)
	m.AddJob(first, w.page)
	m.AddJob(second, w.page)

	if m.RunSingleJob(context.Background(), second) {
		t.Fatalf("RunSingleJob ran a job that is not the earliest")
	}
	if n := m.JobCount(nil); n != 2 {
		t.Fatalf("JobCount = %d, want 2", n)
	}
	if m.RunSingleJob(context.Background(), job.New(c, "", 0, 0, nil)) {
		t.Fatalf("RunSingleJob ran a foreign job")
	}
}

func TestStatusDump(t *testing.T) {
	t.Parallel()
	m, w, c := newFakeManager(t)
	m.AddJob(job.New(c, "late", time.Second, 0, nil), w.page)
	m.AddJob(job.New(c, "soon", 10*time.Millisecond, 250*time.Millisecond, nil), w.page)

	d := m.StatusDump(nil)
	for _, want := range []string{"jobmanager w1", "running: none", `"soon"`, `"late"`, "period=250ms"} {
		if !strings.Contains(d, want) {
			t.Fatalf("dump missing %q:\n%s", want, d)
		}
	}
	if strings.Index(d, `"soon"`) > strings.Index(d, `"late"`) {
		t.Fatalf("dump not in run order:\n%s", d)
	}

	filtered := m.StatusDump(func(j *job.Job) bool { return j.Label() == "late" })
	if strings.Contains(filtered, `"soon"`) {
		t.Fatalf("filtered dump contains excluded job:\n%s", filtered)
	}
	bad := m.StatusDump(func(*job.Job) bool { panic("bad filter") })
	if !strings.Contains(bad, "dump failed") {
		t.Fatalf("panicking filter dump = %q", bad)
	}

	m.Shutdown()
	if d := m.StatusDump(nil); !strings.Contains(d, "shut down") || !strings.Contains(d, "queued: none") {
		t.Fatalf("dump after shutdown:\n%s", d)
	}
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	m, w, c := newFakeManager(t)
	j := job.New(c, "", 20*time.Millisecond, 0, nil)
	m.AddJob(j, w.page)
	m.RemoveJob(99)

	s := m.Snapshot()
	if s.ID != "w1" || !s.Alive || s.Queued != 1 || s.Cancelled != 0 || s.Running != 0 {
		t.Fatalf("snapshot = %+v", s)
	}
	if !s.NextDue.Equal(epoch.Add(20 * time.Millisecond)) {
		t.Fatalf("NextDue = %v", s.NextDue)
	}
}
