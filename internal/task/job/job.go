package job

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Action is the opaque unit of work a job runs.
//
// Running an action may schedule further jobs (e.g. a timer callback calling
// setTimeout again); it must not assume it holds any scheduler lock.
type Action interface {
	Run(ctx context.Context) error
}

// ActionFunc adapts a plain function to Action.
type ActionFunc func(ctx context.Context) error

func (f ActionFunc) Run(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

// Job is one scheduled unit of deferred work (one-shot or periodic).
//
// Identity (ID) is assigned exactly once by a job manager. InitialDelay, Period
// and ExecuteASAP are fixed at construction. The target execution time is the
// only mutable scheduling state; it is stored atomically because the executor
// compares jobs across managers without holding their locks.
type Job struct {
	id     atomic.Int64
	target atomic.Int64 // unix nanos

	label        string
	initialDelay time.Duration
	period       time.Duration
	executeASAP  bool
	action       Action
}

// New builds an unregistered job whose first target is clock.Now()+delay.
//
// Negative delays are treated as 0; period <= 0 makes a one-shot job.
// A nil clock uses the real wall clock.
func New(clock clockwork.Clock, label string, delay, period time.Duration, action Action) *Job {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if delay < 0 {
		delay = 0
	}
	if period < 0 {
		period = 0
	}
	j := &Job{
		label:        strings.TrimSpace(label),
		initialDelay: delay,
		period:       period,
		executeASAP:  delay == 0,
		action:       action,
	}
	j.target.Store(clock.Now().Add(delay).UnixNano())
	return j
}

// ID returns the id assigned on registration, or 0 if the job was never accepted.
func (j *Job) ID() int64 { return j.id.Load() }

// AssignID sets the job id once. It reports false if the job already has an id
// or id is not positive.
func (j *Job) AssignID(id int64) bool {
	if id <= 0 {
		return false
	}
	return j.id.CompareAndSwap(0, id)
}

func (j *Job) Label() string               { return j.label }
func (j *Job) InitialDelay() time.Duration { return j.initialDelay }
func (j *Job) Period() time.Duration       { return j.period }
func (j *Job) ExecuteASAP() bool           { return j.executeASAP }
func (j *Job) IsPeriodic() bool            { return j.period > 0 }

// TargetExecutionTime is the next time this job becomes eligible to run.
func (j *Job) TargetExecutionTime() time.Time {
	return time.Unix(0, j.target.Load())
}

// IsDue reports whether the job's target time is at or before now.
func (j *Job) IsDue(now time.Time) bool {
	return j.target.Load() <= now.UnixNano()
}

// WaitTime returns how long until the job is due (<= 0 when already due).
func (j *Job) WaitTime(now time.Time) time.Duration {
	return time.Duration(j.target.Load() - now.UnixNano())
}

// Reschedule moves a periodic job's target strictly past now, skipping missed
// ticks instead of bursting them: target += (elapsed/period)*period + period.
// One-shot jobs are left untouched.
func (j *Job) Reschedule(now time.Time) {
	if j.period <= 0 {
		return
	}
	target := j.target.Load()
	elapsed := time.Duration(now.UnixNano() - target)
	drift := (elapsed/j.period)*j.period + j.period
	j.target.Store(target + int64(drift))
}

// Run invokes the job's action.
func (j *Job) Run(ctx context.Context) error {
	if j.action == nil {
		return nil
	}
	return j.action.Run(ctx)
}

func (j *Job) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "job#%d", j.ID())
	if j.label != "" {
		fmt.Fprintf(&b, " %q", j.label)
	}
	if j.executeASAP {
		b.WriteString(" asap")
	}
	b.WriteString(" target=")
	b.WriteString(j.TargetExecutionTime().Format("15:04:05.000"))
	if j.period > 0 {
		fmt.Fprintf(&b, " period=%s", j.period)
	}
	return b.String()
}
