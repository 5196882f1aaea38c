package app

import (
	"context"
	"time"

	"bgjobs/internal/eventbus"
	"bgjobs/internal/storage"
	"bgjobs/internal/task/manager"
	logx "bgjobs/pkg/logx"
)

const (
	journalBuffer       = 512
	journalWriteTimeout = 2 * time.Second
)

// startJournal records every finished job run in the store. The writer exits
// once stopJournal closes its subscription, after draining the buffer.
func (a *App) startJournal() {
	if a.store == nil {
		return
	}
	events, unsub := a.bus.Subscribe(journalBuffer, eventbus.JobFinished)
	a.stopJournal = unsub
	a.sup.Go0("journal", func(ctx context.Context) {
		// Writes outlive cancellation so runs finished during shutdown are kept.
		wctx := context.WithoutCancel(ctx)
		for e := range events {
			ev, ok := e.Data.(manager.JobEvent)
			if !ok {
				continue
			}
			c, cancel := context.WithTimeout(wctx, journalWriteTimeout)
			err := a.store.AppendRun(c, runFromEvent(ev))
			cancel()
			if err != nil {
				a.log.Warn("journal append failed", logx.Int64("job", ev.JobID), logx.Err(err))
			}
		}
	})
}

func runFromEvent(ev manager.JobEvent) storage.Run {
	target := ev.Due
	if target.IsZero() {
		target = ev.Target
	}
	return storage.Run{
		WindowID: ev.WindowID,
		JobID:    ev.JobID,
		Label:    ev.Label,
		Target:   target,
		Started:  ev.Started,
		Took:     ev.Took,
		Error:    ev.Err,
	}
}
