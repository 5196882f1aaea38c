package manager

import (
	"container/heap"

	"bgjobs/internal/task/job"
)

type entry struct {
	job   *job.Job
	index int
}

// jobQueue is a container/heap ordered by job.Compare. Entries track their own
// index so a job can be removed by id in O(log n).
type jobQueue []*entry

func (q jobQueue) Len() int           { return len(q) }
func (q jobQueue) Less(i, j int) bool { return job.Less(q[i].job, q[j].job) }
func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

func (m *JobManager) pushLocked(j *job.Job) {
	e := &entry{job: j}
	heap.Push(&m.queue, e)
	m.byID[j.ID()] = e
}

func (m *JobManager) removeLocked(id int64) *job.Job {
	e, ok := m.byID[id]
	if !ok {
		return nil
	}
	delete(m.byID, id)
	heap.Remove(&m.queue, e.index)
	return e.job
}

func (m *JobManager) peekLocked() *job.Job {
	if len(m.queue) == 0 {
		return nil
	}
	return m.queue[0].job
}

func (m *JobManager) clearLocked() {
	for i := range m.queue {
		m.queue[i] = nil
	}
	m.queue = m.queue[:0]
	clear(m.byID)
}
