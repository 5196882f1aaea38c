package app

import (
	"context"
	"strings"

	logx "bgjobs/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// startReload fans committed config changes out to the running components.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// applyConfig applies what can change live: logging, the executor poll
// interval and the script set. Storage and the remaining executor settings
// need a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *Config) {
	sections, attrs, scripts := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.notify(daemon.SdNotifyReloading)
	defer a.notify(daemon.SdNotifyReady)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logConfig(newCfg))
		case "executor":
			st, err := newCfg.Executor.Settings()
			if err != nil {
				a.log.Warn("invalid executor config; keeping previous", logx.Err(err))
				continue
			}
			a.mu.Lock()
			prev := a.settings
			a.settings.PollInterval = st.PollInterval
			a.settings.WaitTimeout = st.WaitTimeout
			a.mu.Unlock()
			a.client.Executor().SetPollInterval(st.PollInterval)
			if st.ShutdownTimeout != prev.ShutdownTimeout ||
				st.FailureLogEvery != prev.FailureLogEvery ||
				st.FailureLogBurst != prev.FailureLogBurst {
				a.log.Warn("executor shutdown/failure-log settings changed; restart required for changes to take effect")
			}
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "scripts":
			a.syncScripts(ctx, newCfg, scripts)
		}
	}
	a.notifyStatus()

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}
