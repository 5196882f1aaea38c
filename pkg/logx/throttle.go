package logx

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttle caps how often a noisy log line is written. Dropped lines are
// counted and the next written line reports them as "suppressed".
//
// A nil *Throttle writes everything.
type Throttle struct {
	lim  *rate.Limiter
	held atomic.Int64
}

// NewThrottle allows one line per every, with burst lines up front. every <= 0
// disables throttling and returns nil.
func NewThrottle(every time.Duration, burst int) *Throttle {
	if every <= 0 {
		return nil
	}
	return &Throttle{lim: rate.NewLimiter(rate.Every(every), max(burst, 1))}
}

// Log writes msg at level through l unless the throttle is exhausted, and
// reports whether it did.
func (t *Throttle) Log(l Logger, level Level, msg string, fields ...Field) bool {
	if t != nil {
		if !t.lim.Allow() {
			t.held.Add(1)
			return false
		}
		if n := t.held.Swap(0); n > 0 {
			fields = append(fields[:len(fields):len(fields)], Int64("suppressed", n))
		}
	}
	l.log(level, msg, fields)
	return true
}

// Held is the number of lines dropped since the last written one.
func (t *Throttle) Held() int64 {
	if t == nil {
		return 0
	}
	return t.held.Load()
}
