// Package manager holds the per-window job registry.
//
// A JobManager accepts jobs only from the page currently loaded in its window,
// keeps them in run order, and runs one job at a time on request of the
// executor. Blocking waits wake on every queue mutation.
package manager
