//go:build linux || darwin
// +build linux darwin

package supervisor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// RestartSignal requests a child restart.
const RestartSignal = unix.SIGUSR1

// TerminateSignals shut the supervisor and the child down immediately.
var TerminateSignals = []os.Signal{unix.SIGINT, unix.SIGTERM}

// Listen subscribes to the restart and terminate signals before returning,
// then serves them on a background goroutine until ctx is done.
func (s *Supervisor) Listen(ctx context.Context) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, append([]os.Signal{RestartSignal}, TerminateSignals...)...)

	go func() {
		defer signal.Stop(sigs)

		s.logger.Debugf("signal listener started, waiting for %v", RestartSignal)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				s.handleSignal(sig)
			}
		}
	}()
}

func (s *Supervisor) handleSignal(sig os.Signal) {
	switch sig {
	case RestartSignal:
		s.logger.Infof("received %v, restarting command", sig)
		s.RequestRestart(RestartSourceSignal)
	case unix.SIGINT, unix.SIGTERM:
		s.Terminate(sig.(syscall.Signal))
	}
}
