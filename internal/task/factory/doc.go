// Package factory builds jobs: script jobs evaluated by a page's goja runtime,
// plain Go callbacks and async completions. It also parses the schedules of
// configured scripts.
package factory
