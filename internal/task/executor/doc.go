// Package executor runs the background jobs of every window of a client on a
// single worker goroutine.
//
// Each tick the worker asks all live job managers for their earliest job and
// runs the globally earliest one if it is due, then rescans immediately.
// Otherwise it sleeps for the poll interval.
package executor
