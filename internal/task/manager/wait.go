package manager

import (
	"context"
	"time"
)

// minStartingBeforePoll bounds how often WaitForJobsStartingBefore re-checks
// its predicate without a mutation signal.
const minStartingBeforePoll = 40 * time.Millisecond

// WaitForJobs blocks until no job is queued or running, timeout elapses or ctx
// is done, and returns the job count at that point. The deadline is fixed at
// call time; timeout <= 0 never blocks.
func (m *JobManager) WaitForJobs(ctx context.Context, timeout time.Duration) int {
	if ctx == nil {
		ctx = context.Background()
	}
	deadline := m.clock.Now().Add(timeout)
	for {
		if !m.alive() {
			return 0
		}
		m.mu.Lock()
		n := m.countLocked(nil)
		changed := m.changed
		m.mu.Unlock()

		if n == 0 {
			return 0
		}
		left := deadline.Sub(m.clock.Now())
		if left <= 0 {
			return n
		}
		select {
		case <-changed:
		case <-m.clock.After(left):
		case <-ctx.Done():
			return m.JobCount(nil)
		}
	}
}

// WaitForJobsStartingBefore blocks while a job matching filter, queued or
// running, has a target earlier than callTime+delay. Jobs scheduled further
// out are not waited for. It returns the matching job count at return.
func (m *JobManager) WaitForJobsStartingBefore(ctx context.Context, delay time.Duration, filter Filter) int {
	if ctx == nil {
		ctx = context.Background()
	}
	latest := m.clock.Now().Add(delay)
	poll := max(minStartingBeforePoll, delay)
	for {
		if !m.alive() {
			return 0
		}
		m.mu.Lock()
		pending := m.startsBeforeLocked(latest, filter)
		changed := m.changed
		n := m.countLocked(filter)
		m.mu.Unlock()

		if !pending {
			return n
		}
		select {
		case <-changed:
		case <-m.clock.After(poll):
		case <-ctx.Done():
			return m.JobCount(filter)
		}
	}
}

func (m *JobManager) startsBeforeLocked(latest time.Time, filter Filter) bool {
	if r := m.running; r != nil && filter.match(r) && r.TargetExecutionTime().Before(latest) {
		return true
	}
	for _, e := range m.queue {
		if filter.match(e.job) && e.job.TargetExecutionTime().Before(latest) {
			return true
		}
	}
	return false
}
