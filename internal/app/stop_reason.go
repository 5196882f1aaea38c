package app

import (
	"os"
	"syscall"
)

// StopReason explains why the app is stopping; it is logged and sent to systemd.
type StopReason string

const (
	StopUnknown     StopReason = "unknown"
	StopSIGINT      StopReason = "sigint"
	StopSIGTERM     StopReason = "sigterm"
	StopFatalError  StopReason = "fatal_error"
	StopJobsDrained StopReason = "jobs_drained"
	StopWaitTimeout StopReason = "wait_timeout"
)

func StopReasonForSignal(sig os.Signal) StopReason {
	switch sig {
	case os.Interrupt:
		return StopSIGINT
	case syscall.SIGTERM:
		return StopSIGTERM
	}
	return StopUnknown
}
