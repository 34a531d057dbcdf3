//go:build !windows

package reactor

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// registerRotateHook arms the SIGHUP-driven log reopen: receiving SIGHUP
// sets the latch [Loop.Main] checks at the end of every poll iteration,
// mirroring the original fdd_logfile_notify signal handler.
func registerRotateHook(l *Loop) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGHUP)
	go func() {
		for range ch {
			l.logfileChanged.Store(true)
		}
	}()
}
