package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// maxLineSize bounds a single line read from a subprocess's stdout.
const maxLineSize = 64 * 1024

// defaultGracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
const defaultGracefulTimeout = 5 * time.Second

// lineBufferSize is the channel buffer between the reader and the consumer.
const lineBufferSize = 64

// StreamConfig holds configuration for a line-streaming subprocess.
type StreamConfig struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// GracefulTimeout is how long to wait for graceful shutdown before SIGKILL.
	GracefulTimeout time.Duration

	// Logger receives stderr output and lifecycle messages. Optional.
	Logger Logger
}

// Stream is a running subprocess whose stdout is delivered line by line.
//
// The process is never expected to exit on its own: any termination that
// was not requested through Stop (or context cancellation) is reported as
// ErrStreamTerminated, including a clean exit with status 0.
type Stream struct {
	cfg    StreamConfig
	logger Logger
	cmd    *exec.Cmd

	lines  chan string
	done   chan struct{}
	stopCh chan struct{}

	// stderrDone tracks captureStderr; Wait must not run before it returns.
	stderrDone sync.WaitGroup

	mu            sync.RWMutex
	err           error
	exitCode      int
	stopRequested bool
	stopOnce      sync.Once
}

// StartStream launches the subprocess in its own process group and begins
// reading its stdout. Cancelling ctx stops the process.
func StartStream(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("%w: binary is required", ErrStartFailed)
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Binary
	}

	s := &Stream{
		cfg:      cfg,
		logger:   cfg.Logger,
		lines:    make(chan string, lineBufferSize),
		done:     make(chan struct{}),
		stopCh:   make(chan struct{}),
		exitCode: -1,
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}

	cmd := exec.Command(cfg.Binary, cfg.Args...) //nolint:gosec // binary comes from operator config

	// Create a new process group so we can signal all children on shutdown
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: creating stdout pipe: %w", ErrStartFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: creating stderr pipe: %w", ErrStartFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStartFailed, cfg.Name, err)
	}
	s.cmd = cmd

	s.logger.Info("process started",
		"name", cfg.Name,
		"pid", cmd.Process.Pid,
		"args", cfg.Args,
	)

	s.stderrDone.Add(1)
	go s.captureStderr(stderr)
	go s.readLoop(stdout)

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-s.done:
		}
	}()

	return s, nil
}

// readLoop delivers stdout lines in order, then reaps the process.
func (s *Stream) readLoop(stdout io.Reader) {
	defer close(s.done)
	defer close(s.lines)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		select {
		case s.lines <- scanner.Text():
		case <-s.stopCh:
			// Keep draining so the child is not blocked on a full pipe.
		}
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		// Output can no longer be consumed; take the process down.
		s.signalGroup(syscall.SIGKILL)
	}

	// Both pipes must be drained before Wait closes them.
	s.stderrDone.Wait()
	waitErr := s.cmd.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd.ProcessState != nil {
		s.exitCode = s.cmd.ProcessState.ExitCode()
	}

	switch {
	case s.stopRequested:
		s.err = nil
	case scanErr != nil:
		s.err = fmt.Errorf("%w: %s: reading output: %w", ErrStreamTerminated, s.cfg.Name, scanErr)
	case waitErr != nil:
		s.err = fmt.Errorf("%w: %s: %w", ErrStreamTerminated, s.cfg.Name, waitErr)
	default:
		s.err = fmt.Errorf("%w: %s exited with status 0", ErrStreamTerminated, s.cfg.Name)
	}

	if s.err != nil {
		s.logger.Error("process exited unexpectedly",
			"name", s.cfg.Name,
			"exit_code", s.exitCode,
			"error", s.err,
		)
	} else {
		s.logger.Info("process stopped as requested", "name", s.cfg.Name)
	}
}

// captureStderr logs each stderr line at warn level.
func (s *Stream) captureStderr(r io.Reader) {
	defer s.stderrDone.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		s.logger.Warn("process stderr",
			"name", s.cfg.Name,
			"output", scanner.Text(),
		)
	}
}

// Lines returns the channel of stdout lines. It is closed once the process
// has exited and all output has been delivered.
func (s *Stream) Lines() <-chan string {
	return s.lines
}

// Done is closed once the process has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the process has exited and returns the termination
// error: nil after Stop, ErrStreamTerminated otherwise.
func (s *Stream) Wait() error {
	<-s.done
	return s.Err()
}

// Err returns the termination error, or nil while the process is running.
func (s *Stream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// ExitCode returns the exit status, or -1 while running or if killed.
func (s *Stream) ExitCode() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exitCode
}

// PID returns the process ID.
func (s *Stream) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Stop gracefully stops the subprocess.
// It sends SIGTERM to the process group and waits for exit, then SIGKILL if needed.
func (s *Stream) Stop() error {
	select {
	case <-s.done:
		return nil
	default:
	}

	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.logger.Info("stopping process", "name", s.cfg.Name, "pid", s.PID())
	if err := s.signalGroup(syscall.SIGTERM); err != nil {
		s.logger.Warn("failed to send SIGTERM to process group", "name", s.cfg.Name, "error", err)
	}

	select {
	case <-s.done:
		return nil
	case <-time.After(s.cfg.GracefulTimeout):
		s.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", s.cfg.Name,
			"timeout", s.cfg.GracefulTimeout,
		)
	}

	if err := s.signalGroup(syscall.SIGKILL); err != nil {
		return fmt.Errorf("killing process group %s: %w", s.cfg.Name, err)
	}

	<-s.done
	return nil
}

// signalGroup sends sig to the process group created via Setpgid.
// An already exited group is not an error.
func (s *Stream) signalGroup(sig syscall.Signal) error {
	pid := s.PID()
	if pid == 0 {
		return nil
	}
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
