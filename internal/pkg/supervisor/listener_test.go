//go:build linux || darwin
// +build linux darwin

package supervisor

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestListenRestartSignal(t *testing.T) {
	assert := assert.New(t)

	s := newTestSupervisor("exit 0")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Listen(ctx)

	assert.True(s.running.Load())
	assert.Nil(unix.Kill(unix.Getpid(), RestartSignal))
	assert.Eventually(func() bool {
		return !s.running.Load()
	}, time.Second, 10*time.Millisecond, "running flag was not cleared")
}

func TestListenTerminateSignal(t *testing.T) {
	assert := assert.New(t)

	s := newTestSupervisor("exit 0")
	exited := make(chan int, 1)
	s.exit = func(code int) { exited <- code }
	forwarded := make(chan syscall.Signal, 1)
	s.signalSelf = func(sig syscall.Signal) error {
		forwarded <- sig
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Listen(ctx)

	assert.Nil(unix.Kill(unix.Getpid(), unix.SIGINT))

	select {
	case code := <-exited:
		assert.Equal(130, code)
	case <-time.After(time.Second):
		t.Fatal("terminate signal was not handled")
	}
	assert.Equal(unix.SIGINT, <-forwarded)
	// terminate never goes through the restart flag
	assert.True(s.running.Load())
}

func TestHandleSignal(t *testing.T) {
	tests := []struct {
		name        string
		sig         syscall.Signal
		wantRunning bool
		wantExit    int
	}{
		{"restart", unix.SIGUSR1, false, -1},
		{"interrupt", unix.SIGINT, true, 130},
		{"terminate", unix.SIGTERM, true, 143},
		{"unrelated signal", unix.SIGHUP, true, -1},
	}

	assert := assert.New(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSupervisor("exit 0")
			code := -1
			s.exit = func(c int) { code = c }

			s.handleSignal(tt.sig)
			assert.Equal(tt.wantRunning, s.running.Load())
			assert.Equal(tt.wantExit, code)
		})
	}
}
