package executor

import (
	"context"
	"errors"
	"os/exec"
	"time"
)

const defaultKillGrace = 2 * time.Second

type startFailure struct {
	err error
}

func (e *startFailure) Error() string { return e.err.Error() }
func (e *startFailure) Unwrap() error { return e.err }

// runProcess starts cmd in its own process group and waits for it. When ctx
// ends first the whole group gets SIGTERM, then SIGKILL after grace.
func runProcess(ctx context.Context, cmd *exec.Cmd, grace time.Duration) (int, error) {
	if grace <= 0 {
		grace = defaultKillGrace
	}
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return -1, &startFailure{err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		return exitCode(err)
	case <-ctx.Done():
		terminateProcessGroup(cmd)
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			killProcessGroup(cmd)
			<-done
		}
		return -1, ctx.Err()
	}
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		// Terminated by a signal outside our control.
		return 128, nil
	}
	return -1, err
}
