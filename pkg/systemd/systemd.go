// Package systemd integrates with the service manager via the sd_notify
// protocol. Every call is a no-op outside a systemd unit (NOTIFY_SOCKET
// unset), so the binary behaves identically under a plain shell.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells systemd the service finished starting (Type=notify).
func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// NotifyStopping tells systemd a shutdown is in progress, so the unit's
// stop timeout starts counting from a known point.
func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// NotifyStatus publishes a one-line status visible in systemctl status.
func NotifyStatus(status string) {
	_, _ = daemon.SdNotify(false, "STATUS="+status)
}

// NotifyReloading marks a configuration reload window.
func NotifyReloading() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReloading)
}

// WatchdogInterval reports the unit's watchdog deadline and whether one is
// configured (WatchdogSec= set and WATCHDOG_USEC exported).
func WatchdogInterval() (time.Duration, bool) {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// RunWatchdog pings the systemd watchdog at half the configured deadline
// until ctx is canceled. It returns immediately when no watchdog is set.
func RunWatchdog(ctx context.Context) {
	interval, ok := WatchdogInterval()
	if !ok {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

// Statusf is NotifyStatus with formatting.
func Statusf(format string, args ...any) {
	NotifyStatus(fmt.Sprintf(format, args...))
}
