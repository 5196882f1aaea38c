// Package logx is the structured logger used across bgjobs.
//
// Logger wraps zerolog with field helpers and a no-op zero value. Service
// owns the console and file sinks and can swap them on config reload.
// Throttle rate-limits repetitive lines such as job failures.
package logx
