//go:build linux || darwin
// +build linux darwin

package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// child is the handle of the currently running command. It is the leader of
// its own process group, so pgid == pid.
type child struct {
	pid        int
	generation uint64
	startedAt  time.Time

	cmd *exec.Cmd
}

func spawn(shell, command string) (*child, error) {
	cmd := exec.Command(shell, "-c", command)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	return &child{
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		cmd:       cmd,
	}, nil
}

// poll reports whether the child has exited without blocking.
func (c *child) poll() (exited bool, code int, err error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(c.pid, &ws, unix.WNOHANG, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return false, 0, fmt.Errorf("%w: pid %d: %v", ErrWait, c.pid, err)
		case wpid == 0:
			return false, 0, nil
		}
		c.release()
		return true, exitCode(ws), nil
	}
}

// signalGroup sends sig to every process in the child's group. A group that
// no longer exists is not an error.
func (c *child) signalGroup(sig syscall.Signal) error {
	if err := unix.Kill(-c.pid, sig); err != nil && err != unix.ESRCH {
		return fmt.Errorf("signal process group %d with %v: %w", c.pid, sig, err)
	}
	return nil
}

// terminate sends SIGTERM to the group, waits grace, sends SIGKILL and reaps
// the child.
func (c *child) terminate(grace time.Duration) error {
	if err := c.signalGroup(unix.SIGTERM); err != nil {
		return err
	}
	time.Sleep(grace)
	if err := c.signalGroup(unix.SIGKILL); err != nil {
		return err
	}
	return c.reap()
}

func (c *child) reap() error {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(c.pid, &ws, 0, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD:
			// already reaped
		case err != nil:
			return fmt.Errorf("%w: reap pid %d: %v", ErrWait, c.pid, err)
		}
		c.release()
		return nil
	}
}

// release frees the os.Process handle; the child was reaped with wait4 so
// exec.Cmd.Wait is never called.
func (c *child) release() {
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Release()
	}
}

// exitCode maps a wait status to the supervisor's exit code. A child killed
// by a signal has no code of its own and maps to ExitCodeFailure.
func exitCode(ws unix.WaitStatus) int {
	if ws.Exited() {
		return ws.ExitStatus()
	}
	return ExitCodeFailure
}
