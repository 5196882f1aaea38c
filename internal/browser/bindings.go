package browser

import (
	"math"
	"strings"
	"time"

	logx "bgjobs/pkg/logx"

	"github.com/dop251/goja"
)

// minInterval is the smallest period setInterval accepts.
const minInterval = 4 * time.Millisecond

// bind installs the timer and console globals into the page runtime.
func (p *Page) bind() {
	vm := p.vm
	_ = vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(p.schedule(call, false))
	})
	_ = vm.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(p.schedule(call, true))
	})
	clearTimer := func(call goja.FunctionCall) goja.Value {
		if id := call.Argument(0).ToInteger(); id > 0 {
			p.window.jm.StopJob(id)
		}
		return goja.Undefined()
	}
	_ = vm.Set("clearTimeout", clearTimer)
	_ = vm.Set("clearInterval", clearTimer)
	_ = vm.Set("queueMicrotask", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("queueMicrotask requires a function"))
		}
		j := p.window.client.factory.ScriptFromFunction(p, fn, nil, 0, 0)
		p.window.jm.AddJob(j, p)
		return goja.Undefined()
	})

	console := vm.NewObject()
	for _, level := range []string{"log", "debug", "info", "warn", "error"} {
		level := level
		_ = console.Set(level, func(call goja.FunctionCall) goja.Value {
			p.consoleLog(level, call.Arguments)
			return goja.Undefined()
		})
	}
	_ = vm.Set("console", console)
}

// schedule implements setTimeout and setInterval. The handler is either a
// function, called with the extra arguments, or a string evaluated as script.
// It returns the timer id, 0 when the page may no longer schedule jobs.
func (p *Page) schedule(call goja.FunctionCall, repeat bool) int64 {
	vm := p.vm
	handler := call.Argument(0)
	delay := timerDelay(call.Argument(1))
	var period time.Duration
	if repeat {
		delay = max(delay, minInterval)
		period = delay
	}

	f := p.window.client.factory
	if fn, ok := goja.AssertFunction(handler); ok {
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = call.Arguments[2:]
		}
		return p.window.jm.AddJob(f.ScriptFromFunction(p, fn, args, delay, period), p)
	}
	if goja.IsUndefined(handler) || goja.IsNull(handler) {
		panic(vm.NewTypeError("timer handler must be a function or a string"))
	}
	return p.window.jm.AddJob(f.ScriptFromString(p, handler.String(), delay, period), p)
}

// timerDelay converts a millisecond argument. Missing, negative and NaN
// values mean 0.
func timerDelay(v goja.Value) time.Duration {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	ms := v.ToFloat()
	if math.IsNaN(ms) || ms <= 0 {
		return 0
	}
	if ms > float64(math.MaxInt32) {
		ms = math.MaxInt32
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func (p *Page) consoleLog(level string, args []goja.Value) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, a.String())
	}
	msg := strings.Join(parts, " ")
	fields := []logx.Field{logx.String("source", "console")}
	switch level {
	case "error":
		p.log.Error(msg, fields...)
	case "warn":
		p.log.Warn(msg, fields...)
	case "debug":
		p.log.Debug(msg, fields...)
	default:
		p.log.Info(msg, fields...)
	}
}
