// Package systemd wraps sd_notify for daemon readiness signaling. All
// helpers are no-ops when the process is not running under systemd.
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells systemd the service finished starting up.
func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// NotifyStopping tells systemd a shutdown is in progress.
func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// NotifyStatus updates the human-readable status line shown by systemctl.
func NotifyStatus(status string) {
	_, _ = daemon.SdNotify(false, "STATUS="+status)
}

// WatchdogInterval returns half the configured watchdog timeout, or 0 when
// no watchdog is active. Ping at this interval with NotifyWatchdog.
func WatchdogInterval() time.Duration {
	usec, err := daemon.SdWatchdogEnabled(false)
	if err != nil || usec == 0 {
		return 0
	}
	return usec / 2
}

// NotifyWatchdog sends one keep-alive ping.
func NotifyWatchdog() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
}
