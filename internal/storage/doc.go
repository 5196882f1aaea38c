// Package storage keeps a journal of finished job runs.
//
// It records history only; pending jobs are never persisted. Two drivers are
// available: "file" (JSON Lines) and "sqlite".
package storage
