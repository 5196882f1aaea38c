package manager

import (
	"container/heap"
	"context"
	"runtime/debug"
	"sync"
	"time"

	"bgjobs/internal/eventbus"
	"bgjobs/internal/task/job"
	logx "bgjobs/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
)

// Filter selects jobs. A nil Filter matches everything.
type Filter func(*job.Job) bool

func (f Filter) match(j *job.Job) bool { return f == nil || f(j) }

// JobManager is the job registry of one window.
//
// All queue state is guarded by mu; job actions always run outside of it so a
// running job may add, remove or stop jobs (including itself).
type JobManager struct {
	owner OwnerRef
	id    string
	clock clockwork.Clock
	log   logx.Logger
	bus   eventbus.Bus
	seq   *job.Sequence

	fails *logx.Throttle

	mu        sync.Mutex
	queue     jobQueue
	byID      map[int64]*entry
	cancelled map[int64]struct{}
	running   *job.Job
	shutdown  bool
	// changed is closed and replaced on every mutation.
	changed chan struct{}
}

// New creates the job manager for the window resolved by owner.
func New(owner OwnerRef, opts ...Option) *JobManager {
	o := options{
		failEvery: defaultFailureLogEvery,
		failBurst: defaultFailureLogBurst,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.seq == nil {
		o.seq = &job.Sequence{}
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if owner == nil {
		owner = func() Owner { return nil }
	}
	m := &JobManager{
		owner:     owner,
		id:        o.id,
		clock:     o.clock,
		log:       o.log.With(logx.String("comp", "jobmanager"), logx.String("window", o.id)),
		bus:       o.bus,
		seq:       o.seq,
		byID:      map[int64]*entry{},
		cancelled: map[int64]struct{}{},
		changed:   make(chan struct{}),
	}
	m.fails = logx.NewThrottle(o.failEvery, o.failBurst)
	return m
}

func (m *JobManager) ID() string { return m.id }

// alive reports whether the owning window still exists.
func (m *JobManager) alive() bool { return m.owner() != nil }

// AddJob registers j on behalf of page and returns its id.
//
// It returns 0 without assigning an id when the window is gone, page is not the
// window's current page, the manager is shut down, or j was registered before.
func (m *JobManager) AddJob(j *job.Job, page Page) int64 {
	if j == nil || page == nil {
		return 0
	}
	owner := m.owner()
	if owner == nil {
		return 0
	}
	if cur := owner.CurrentPage(); cur == nil || cur != page {
		m.log.Debug("job rejected: stale page", logx.String("page", page.PageID()))
		return 0
	}

	m.mu.Lock()
	if m.shutdown || j.ID() != 0 {
		m.mu.Unlock()
		return 0
	}
	id := m.seq.Next()
	if !j.AssignID(id) {
		m.mu.Unlock()
		return 0
	}
	m.pushLocked(j)
	m.notifyLocked()
	m.mu.Unlock()

	m.publish(eventbus.JobAdded, j, nil)
	return id
}

// RemoveJob drops a queued job. If id is the running job it is also marked
// cancelled so a periodic job is not queued again.
func (m *JobManager) RemoveJob(id int64) {
	if !m.alive() {
		return
	}
	m.mu.Lock()
	j := m.removeLocked(id)
	if m.running != nil && m.running.ID() == id {
		m.cancelled[id] = struct{}{}
	}
	m.notifyLocked()
	m.mu.Unlock()

	if j != nil {
		m.publish(eventbus.JobRemoved, j, nil)
	}
}

// StopJob is RemoveJob under the name scripts use for clearTimeout/clearInterval.
func (m *JobManager) StopJob(id int64) { m.RemoveJob(id) }

// RemoveAllJobs cancels the running job (if any) and every queued job.
func (m *JobManager) RemoveAllJobs() {
	if !m.alive() {
		return
	}
	m.mu.Lock()
	removed := m.drainLocked()
	m.mu.Unlock()

	for _, j := range removed {
		m.publish(eventbus.JobRemoved, j, nil)
	}
}

func (m *JobManager) drainLocked() []*job.Job {
	if m.running != nil {
		m.cancelled[m.running.ID()] = struct{}{}
	}
	removed := make([]*job.Job, 0, len(m.queue))
	for _, e := range m.queue {
		removed = append(removed, e.job)
	}
	m.clearLocked()
	m.notifyLocked()
	return removed
}

// JobCount returns the number of queued jobs plus the running one, restricted
// to jobs matching filter.
func (m *JobManager) JobCount(filter Filter) int {
	if !m.alive() {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(filter)
}

func (m *JobManager) countLocked(filter Filter) int {
	n := 0
	if filter == nil {
		n = len(m.queue)
	} else {
		for _, e := range m.queue {
			if filter(e.job) {
				n++
			}
		}
	}
	if m.running != nil && filter.match(m.running) {
		n++
	}
	return n
}

// EarliestJob returns the minimal queued job matching filter without removing it.
// With a filter the whole queue is scanned and the true minimum is returned.
func (m *JobManager) EarliestJob(filter Filter) *job.Job {
	if !m.alive() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if filter == nil {
		return m.peekLocked()
	}
	var best *job.Job
	for _, e := range m.queue {
		if filter(e.job) && (best == nil || job.Less(e.job, best)) {
			best = e.job
		}
	}
	return best
}

// RunSingleJob runs j if it is still this manager's earliest job and is due.
// It reports false, with no side effects, otherwise.
//
// A periodic job is rescheduled before its action runs. Action errors and panics
// are logged and published; they never propagate.
func (m *JobManager) RunSingleJob(ctx context.Context, j *job.Job) bool {
	if j == nil || !m.alive() {
		return false
	}
	now := m.clock.Now()

	m.mu.Lock()
	if m.shutdown || m.peekLocked() != j || !j.IsDue(now) {
		m.mu.Unlock()
		return false
	}
	id := j.ID()
	due := j.TargetExecutionTime()
	heap.Pop(&m.queue)
	delete(m.byID, id)
	m.running = j
	if j.IsPeriodic() {
		j.Reschedule(now)
		if _, stopped := m.cancelled[id]; !stopped {
			m.pushLocked(j)
		}
	}
	m.notifyLocked()
	m.mu.Unlock()

	m.publish(eventbus.JobStarted, j, &JobEvent{Due: due, Started: now})
	err := m.invoke(ctx, j)
	took := m.clock.Since(now)

	m.mu.Lock()
	if m.running == j {
		m.running = nil
	}
	if _, queued := m.byID[id]; !queued {
		delete(m.cancelled, id)
	}
	m.notifyLocked()
	m.mu.Unlock()

	ev := &JobEvent{Due: due, Started: now, Took: took}
	if err != nil {
		ev.Err = err.Error()
		m.logFailure(j, err)
		m.publish(eventbus.JobFailed, j, ev)
	}
	m.publish(eventbus.JobFinished, j, ev)
	return true
}

func (m *JobManager) invoke(ctx context.Context, j *job.Job) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("job panic",
				logx.Int64("job", j.ID()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			err = errors.Newf("job panic: %v", r)
		}
	}()
	return j.Run(ctx)
}

func (m *JobManager) logFailure(j *job.Job, err error) {
	fields := []logx.Field{logx.Int64("job", j.ID()), logx.Err(err)}
	if j.Label() != "" {
		fields = append(fields, logx.String("label", j.Label()))
	}
	m.fails.Log(m.log, logx.LevelWarn, "job failed", fields...)
}

// Shutdown clears the queue, rejects further jobs and wakes all waiters.
// It is safe to call more than once.
func (m *JobManager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	m.clearLocked()
	m.notifyLocked()
	m.mu.Unlock()
	m.log.Debug("job manager shut down")
}

// IsShutdown reports whether Shutdown was called.
func (m *JobManager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// notifyLocked wakes everyone blocked on the current change channel.
func (m *JobManager) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	ID        string `json:"id"`
	Alive     bool   `json:"alive"`
	Shutdown  bool   `json:"shutdown"`
	Queued    int    `json:"queued"`
	Running   int64  `json:"running,omitempty"`
	Cancelled int    `json:"cancelled"`
	// NextDue is zero when nothing is queued.
	NextDue time.Time `json:"next_due"`
}

func (m *JobManager) Snapshot() Snapshot {
	alive := m.alive()
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		ID:        m.id,
		Alive:     alive,
		Shutdown:  m.shutdown,
		Queued:    len(m.queue),
		Cancelled: len(m.cancelled),
	}
	if m.running != nil {
		s.Running = m.running.ID()
	}
	if j := m.peekLocked(); j != nil {
		s.NextDue = j.TargetExecutionTime()
	}
	return s
}
