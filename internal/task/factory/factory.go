package factory

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"bgjobs/internal/task/job"
	logx "bgjobs/pkg/logx"

	"github.com/cockroachdb/errors"
	"github.com/dop251/goja"
	"github.com/jonboulle/clockwork"
)

// ScriptHost evaluates script on behalf of a page.
type ScriptHost interface {
	RunString(code string) error
	Call(fn goja.Callable, args ...goja.Value) error
	// Interrupt aborts the script currently executing, if any.
	Interrupt(reason any)
}

// Factory builds the job variants a page can schedule.
type Factory interface {
	ScriptFromString(host ScriptHost, code string, delay, period time.Duration) *job.Job
	ScriptFromFunction(host ScriptHost, fn goja.Callable, args []goja.Value, delay, period time.Duration) *job.Job
	Callback(label string, fn func(ctx context.Context) error, delay, period time.Duration) *job.Job
	AsyncCompletion(label string, fn func(ctx context.Context) error) *job.Job
}

// JS is the goja backed Factory.
type JS struct {
	clock clockwork.Clock
	log   logx.Logger
}

var _ Factory = (*JS)(nil)

func New(clock clockwork.Clock, log logx.Logger) *JS {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &JS{clock: clock, log: log.With(logx.String("comp", "factory"))}
}

func (f *JS) Clock() clockwork.Clock { return f.clock }

// ScriptFromString builds a job that evaluates code, the setTimeout("code") form.
func (f *JS) ScriptFromString(host ScriptHost, code string, delay, period time.Duration) *job.Job {
	label := "script: " + snippet(code, 40)
	return job.New(f.clock, label, delay, period, f.ScriptAction(host, label, code))
}

// ScriptAction returns the action that evaluates code on host. Errors are
// wrapped with label.
func (f *JS) ScriptAction(host ScriptHost, label, code string) job.Action {
	return scriptAction(host, label, func() error {
		return host.RunString(code)
	})
}

// ScriptFromFunction builds a job that calls fn with args.
func (f *JS) ScriptFromFunction(host ScriptHost, fn goja.Callable, args []goja.Value, delay, period time.Duration) *job.Job {
	const label = "function"
	args = append([]goja.Value(nil), args...)
	return job.New(f.clock, label, delay, period, scriptAction(host, label, func() error {
		return host.Call(fn, args...)
	}))
}

// Callback builds a job around a Go function.
func (f *JS) Callback(label string, fn func(ctx context.Context) error, delay, period time.Duration) *job.Job {
	return job.New(f.clock, label, delay, period, job.ActionFunc(fn))
}

// AsyncCompletion builds an ASAP one-shot job, used for completions of
// asynchronous work started by a page.
func (f *JS) AsyncCompletion(label string, fn func(ctx context.Context) error) *job.Job {
	if strings.TrimSpace(label) == "" {
		label = "async completion"
	}
	return job.New(f.clock, label, 0, 0, job.ActionFunc(fn))
}

func scriptAction(host ScriptHost, label string, run func() error) job.Action {
	return job.ActionFunc(func(ctx context.Context) error {
		if host == nil {
			return errors.Newf("%s: no script host", label)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		stop := context.AfterFunc(ctx, func() { host.Interrupt(ctx.Err()) })
		defer stop()
		if err := run(); err != nil {
			return errors.Wrap(err, label)
		}
		return nil
	})
}

// snippet returns the first n runes of s on one line.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
