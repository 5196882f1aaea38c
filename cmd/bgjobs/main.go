package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"bgjobs/internal/app"
	"bgjobs/internal/storage"

	"github.com/cockroachdb/errors"
)

func main() {
	var (
		cfgPath string
		wait    time.Duration
		history int
	)
	flag.StringVar(&cfgPath, "config", "./bgjobs.yaml", "path to config (json or yaml)")
	flag.DurationVar(&wait, "wait", -1, "how long to wait for background jobs (0 waits until interrupted; default executor.wait_timeout)")
	flag.IntVar(&history, "history", 10, "number of journal runs to print on exit")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sigReason atomic.Value
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		sigReason.Store(app.StopReasonForSignal(sig))
		cancel()
	}()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		if h := errors.FlattenHints(err); h != "" {
			fmt.Fprintln(os.Stderr, "hint:", h)
		}
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	if wait < 0 {
		wait = a.WaitTimeout()
	}
	reason := run(ctx, a, wait)
	if r, ok := sigReason.Load().(app.StopReason); ok {
		reason = r
	}

	fmt.Print(a.StatusDump())
	printHistory(a, history)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if reason == app.StopFatalError {
		fmt.Fprintln(os.Stderr, "fatal:", a.Err())
		os.Exit(1)
	}
}

// run blocks until the jobs drain, the wait elapses, a signal arrives or the
// app fails.
func run(ctx context.Context, a *app.App, wait time.Duration) app.StopReason {
	if wait == 0 {
		select {
		case <-ctx.Done():
			return app.StopUnknown
		case <-a.Done():
			return app.StopFatalError
		}
	}

	done := make(chan int, 1)
	go func() { done <- a.WaitForJobs(ctx, wait) }()
	select {
	case n := <-done:
		switch {
		case ctx.Err() != nil:
			return app.StopUnknown
		case n == 0:
			return app.StopJobsDrained
		default:
			return app.StopWaitTimeout
		}
	case <-a.Done():
		return app.StopFatalError
	}
}

func printHistory(a *app.App, n int) {
	if n <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	runs, err := a.Recent(ctx, n)
	if errors.Is(err, storage.ErrDisabled) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "history:", err)
		return
	}
	fmt.Printf("recent runs (%d):\n", len(runs))
	for _, r := range runs {
		status := "ok"
		if r.Failed() {
			status = "error: " + r.Error
		}
		fmt.Printf("  %s job#%d %q window=%s took=%s %s\n",
			r.Started.Format(time.RFC3339), r.JobID, r.Label, r.WindowID, r.Took.Round(time.Millisecond), status)
	}
}
