package app

import (
	"fmt"

	logx "bgjobs/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notify sends state to systemd. Outside a notify-type unit it is a no-op.
func (a *App) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		a.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func (a *App) notifyStatus() {
	a.mu.Lock()
	n := len(a.scripts)
	a.mu.Unlock()
	a.notify(fmt.Sprintf("STATUS=%d scripts, %d windows", n, len(a.client.Windows())))
}
