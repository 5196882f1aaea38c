package manager

import (
	"time"

	"bgjobs/internal/eventbus"
	"bgjobs/internal/task/job"
)

// JobEvent is the payload of job.* bus events.
type JobEvent struct {
	WindowID string        `json:"window_id"`
	JobID    int64         `json:"job_id"`
	Label    string        `json:"label,omitempty"`
	Period   time.Duration `json:"period,omitempty"`
	Target   time.Time     `json:"target"`
	Due      time.Time     `json:"due,omitempty"`
	Started  time.Time     `json:"started,omitempty"`
	Took     time.Duration `json:"took,omitempty"`
	Err      string        `json:"err,omitempty"`
}

func (m *JobManager) publish(typ string, j *job.Job, ev *JobEvent) {
	if m.bus == nil {
		return
	}
	if ev == nil {
		ev = &JobEvent{}
	}
	ev.WindowID = m.id
	ev.JobID = j.ID()
	ev.Label = j.Label()
	ev.Period = j.Period()
	ev.Target = j.TargetExecutionTime()
	m.bus.Publish(eventbus.Event{Type: typ, Time: m.clock.Now(), Data: *ev})
}
