package job

import "sync/atomic"

// Compare orders jobs for scheduling. It returns a negative number when a runs
// before b, positive when b runs before a, and 0 only for the same identity.
//
//   - both ASAP: id ascending (FIFO)
//   - ASAP before non-ASAP
//   - otherwise target execution time ascending, then id ascending
func Compare(a, b *Job) int {
	if a == b {
		return 0
	}
	if a.executeASAP && b.executeASAP {
		return cmpInt64(a.ID(), b.ID())
	}
	if a.executeASAP {
		return -1
	}
	if b.executeASAP {
		return 1
	}
	if c := cmpInt64(a.target.Load(), b.target.Load()); c != 0 {
		return c
	}
	return cmpInt64(a.ID(), b.ID())
}

// Less reports whether a runs strictly before b.
func Less(a, b *Job) bool { return Compare(a, b) < 0 }

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Sequence hands out job ids. One Sequence is owned by each client so that
// independent clients never share an id space.
//
// The zero value is ready to use; the first id is 1.
type Sequence struct {
	n atomic.Int64
}

func (s *Sequence) Next() int64 { return s.n.Add(1) }

// Last returns the most recently issued id (0 if none).
func (s *Sequence) Last() int64 { return s.n.Load() }
