//go:build linux || darwin
// +build linux darwin

package supervisor

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	// pollInterval bounds both restart latency and the cost of polling.
	pollInterval = 100 * time.Millisecond
	// gracePeriod is the time between SIGTERM and SIGKILL on restart.
	gracePeriod = 100 * time.Millisecond

	defaultShell = "sh"
)

const (
	ExitCodeSuccess = iota
	ExitCodeFailure
)

var (
	// ErrSpawn reports that the shell process could not be created.
	ErrSpawn = errors.New("spawn child")

	// ErrWait reports that waiting on the child failed for a reason other
	// than the child still running.
	ErrWait = errors.New("wait child")

	errTerminating = errors.New("supervisor is terminating")
)

// Supervisor runs one shell command at a time, restarting it on request and
// propagating its exit code once it ends on its own.
type Supervisor struct {
	command string
	shell   string

	// running is cleared by restart requests and set again at every spawn.
	running atomic.Bool
	// childPid is the pid (and pgid) of the current child, 0 when none.
	childPid   atomic.Int64
	generation uint64

	// mu orders spawns against Terminate: a child is either published before
	// Terminate reads childPid or never started.
	mu            sync.Mutex
	terminating   atomic.Bool
	terminateCode int
	terminated    chan struct{}

	metric *Metric
	logger *zap.SugaredLogger

	exit        func(code int)
	signalSelf  func(sig syscall.Signal) error
	beforeSpawn func(prev int)
}

// New creates a supervisor for command. metric may be nil.
func New(command string, logger *zap.Logger, metric *Metric) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Supervisor{
		command:    command,
		shell:      defaultShell,
		metric:     metric,
		logger:     logger.Sugar().Named("supervisor"),
		terminated: make(chan struct{}),
		exit:       os.Exit,
		signalSelf: signalOwnGroup,
	}
	s.running.Store(true)

	if metric != nil {
		metric.sampleDescendants = func() int {
			pid := s.childPid.Load()
			if pid == 0 {
				return 0
			}
			return len(descendants(int(pid)))
		}
	}
	return s
}

// SetExitHandler replaces os.Exit on the terminate path, e.g. to flush logs
// first. fn must not return.
func (s *Supervisor) SetExitHandler(fn func(code int)) {
	s.exit = fn
}

// ChildPid returns the pid of the current child, or 0 between spawns.
func (s *Supervisor) ChildPid() int {
	return int(s.childPid.Load())
}

// RequestRestart asks the supervision loop to replace the current child. It
// never touches the child itself; the loop notices within one poll interval.
func (s *Supervisor) RequestRestart(source string) {
	s.running.Store(false)
	s.metric.restarted(source)
}

// Run supervises the command until it exits on its own and returns its exit
// code. An error is returned only for spawn or wait failures, or when ctx is
// done; the current process group is killed in the latter case.
//
// Once Terminate has started, Run does not return before the exit handler
// does, and then reports the terminate exit code.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	s.logger.Infof("process started with pid %d", os.Getpid())

	prev := 0
	for {
		s.running.Store(true)

		if s.beforeSpawn != nil {
			s.beforeSpawn(prev)
		}
		c, err := s.spawn()
		if err != nil {
			if code, ok := s.awaitTerminate(); ok {
				return code, nil
			}
			return ExitCodeFailure, err
		}
		prev = c.pid

		exited, code, err := s.wait(ctx, c)
		if tcode, ok := s.awaitTerminate(); ok {
			if exited {
				s.childPid.Store(0)
				s.metric.reaped()
			} else {
				_ = s.stop(c)
			}
			return tcode, nil
		}
		if err != nil {
			// best effort, the child may be unwaitable from here on
			_ = c.signalGroup(unix.SIGKILL)
			return ExitCodeFailure, err
		}
		if exited {
			s.childPid.Store(0)
			s.metric.reaped()
			s.logger.Infof("process %d exited with code %d", c.pid, code)
			return code, nil
		}

		if err := s.stop(c); err != nil {
			return ExitCodeFailure, err
		}

		if err := ctx.Err(); err != nil {
			return ExitCodeFailure, err
		}
		s.logger.Infof("restarting command: %s", s.command)
	}
}

func (s *Supervisor) spawn() (*child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminating.Load() {
		return nil, errTerminating
	}

	c, err := spawn(s.shell, s.command)
	if err != nil {
		return nil, err
	}

	s.generation++
	c.generation = s.generation
	s.childPid.Store(int64(c.pid))
	s.metric.spawned(c.pid, c.startedAt)

	s.logger.Infow("spawned child", "pid", c.pid, "generation", c.generation)
	return c, nil
}

// wait polls the child until it exits, a restart is requested, Terminate
// starts or ctx is done.
func (s *Supervisor) wait(ctx context.Context, c *child) (bool, int, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for s.running.Load() && !s.terminating.Load() {
		exited, code, err := c.poll()
		if err != nil || exited {
			return exited, code, err
		}

		select {
		case <-ctx.Done():
			return false, 0, nil
		case <-ticker.C:
		}
	}
	return false, 0, nil
}

// stop kills the child's whole process group and reaps the child.
func (s *Supervisor) stop(c *child) error {
	tree := descendants(c.pid)

	s.logger.Infow("stopping process group", "pgid", c.pid, "descendants", len(tree))
	if err := c.terminate(gracePeriod); err != nil {
		return err
	}
	s.childPid.Store(0)
	s.metric.reaped()

	alive := survivors(tree)
	if len(alive) > 0 {
		// SIGKILL may not have been processed yet by members other than the
		// reaped leader
		time.Sleep(gracePeriod)
		alive = survivors(alive)
	}
	if len(alive) > 0 {
		s.logger.Warnw("descendants escaped the process group", "pgid", c.pid, "pids", alive)
		s.metric.escaped(len(alive))
	}
	return nil
}

// Terminate forwards sig to the supervisor's own process group and to the
// current child's group, then exits with the conventional code for sig. It
// does not wait for the supervision loop, and no child is spawned after it
// starts. Only the first call has any effect; forwarding to the own group
// delivers sig to the supervisor again.
func (s *Supervisor) Terminate(sig syscall.Signal) {
	s.mu.Lock()
	if s.terminating.Load() {
		s.mu.Unlock()
		return
	}
	s.terminateCode = ExitCodeForSignal(sig)
	s.terminating.Store(true)
	pid := s.childPid.Load()
	s.mu.Unlock()

	defer close(s.terminated)
	s.logger.Warnf("received %v, shutting down", sig)

	if err := s.signalSelf(sig); err != nil {
		s.logger.Errorf("signal own process group: %v", err)
	}

	if pid > 0 {
		if err := unix.Kill(-int(pid), sig); err != nil && err != unix.ESRCH {
			s.logger.Errorf("signal process group %d: %v", pid, err)
		}
	}

	s.exit(s.terminateCode)
}

// awaitTerminate blocks until the exit handler of a started Terminate has
// returned, and reports the code it exited with. The handler normally never
// returns, so neither does the supervision loop.
func (s *Supervisor) awaitTerminate() (int, bool) {
	if !s.terminating.Load() {
		return 0, false
	}
	<-s.terminated
	return s.terminateCode, true
}

// signalOwnGroup sends sig to every process in the supervisor's own group.
func signalOwnGroup(sig syscall.Signal) error {
	return unix.Kill(0, sig)
}

// ExitCodeForSignal returns the shell convention 128+signo, e.g. 130 for
// SIGINT.
func ExitCodeForSignal(sig syscall.Signal) int {
	return 128 + int(sig)
}
