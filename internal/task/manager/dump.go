package manager

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"bgjobs/internal/task/job"
)

// StatusDump renders the running job and every queued job matching filter in
// run order. It is safe to call at any time, including during shutdown.
func (m *JobManager) StatusDump(filter Filter) (out string) {
	defer func() {
		// A misbehaving filter must not take the caller down.
		if r := recover(); r != nil {
			out = fmt.Sprintf("jobmanager %s: dump failed: %v\n", m.id, r)
		}
	}()

	alive := m.alive()
	now := m.clock.Now()

	m.mu.Lock()
	running := m.running
	queued := make([]*job.Job, 0, len(m.queue))
	for _, e := range m.queue {
		queued = append(queued, e.job)
	}
	shutdown := m.shutdown
	m.mu.Unlock()

	slices.SortFunc(queued, job.Compare)

	var b strings.Builder
	fmt.Fprintf(&b, "jobmanager %s", m.id)
	switch {
	case !alive:
		b.WriteString(" (window gone)")
	case shutdown:
		b.WriteString(" (shut down)")
	}
	b.WriteByte('\n')

	if running != nil && filter.match(running) {
		fmt.Fprintf(&b, "  running: %s\n", running)
	} else {
		b.WriteString("  running: none\n")
	}
	n := 0
	for _, j := range queued {
		if !filter.match(j) {
			continue
		}
		if n == 0 {
			b.WriteString("  queued:\n")
		}
		n++
		fmt.Fprintf(&b, "    %s in=%s\n", j, j.WaitTime(now).Round(time.Millisecond))
	}
	if n == 0 {
		b.WriteString("  queued: none\n")
	}
	return b.String()
}
