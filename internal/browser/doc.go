// Package browser is a minimal headless window model for running scripts
// that use browser timers.
//
// A Client owns windows and one executor. Each Window owns a job manager and
// the currently loaded Page; each Page owns a goja runtime with setTimeout,
// setInterval, clearTimeout, clearInterval, queueMicrotask and console bound
// to the window's job manager.
package browser
