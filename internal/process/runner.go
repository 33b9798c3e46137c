package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// Result is the outcome of a completed one-shot command.
type Result struct {
	// ExitCode is the process exit status, or -1 if it was killed by a signal.
	ExitCode int

	// Output is the combined stdout and stderr, for logging.
	Output []byte
}

// Run executes binary with args and waits for it to finish.
//
// There is no timeout: the command runs until it exits or ctx is cancelled,
// in which case the whole process group is killed. A non-zero exit status is
// reported through Result.ExitCode, not as an error; the error is reserved
// for failures to launch or reap the process.
func Run(ctx context.Context, binary string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec // binary comes from operator config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("%w: %s: %w", ErrStartFailed, binary, err)
	}

	err := cmd.Wait()
	res := Result{ExitCode: -1, Output: out.Bytes()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, fmt.Errorf("running %s: %w", binary, ctxErr)
			}
			return res, nil
		}
		return res, fmt.Errorf("running %s: %w", binary, err)
	}

	return res, nil
}
