// Package job defines the unit of deferred work tracked by a job manager.
//
// A Job carries an immutable identity (assigned on registration), the delay and
// optional period it was created with, and the mutable target execution time
// that the scheduler rewrites after each periodic run.
//
// Ordering between jobs is defined by Compare and is the single source of truth
// for both the per-window queue and the cross-window executor:
//   - ASAP jobs (zero initial delay) run first, in id order
//   - timed jobs run by target execution time, ties broken by id
package job
