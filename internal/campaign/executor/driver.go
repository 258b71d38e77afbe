package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"rvcampaign/internal/campaign/graph"
	"rvcampaign/internal/campaign/pipeline"
)

const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// Outcome is what a driver observed while running one target.
type Outcome struct {
	// Stage is the first failing stage, empty when every stage passed or
	// when the driver cannot tell stages apart.
	Stage    string
	ExitCode int
	// Err is set when the driver itself could not be started or the target
	// was interrupted. A stage tool that fails to start is a stage failure.
	Err error
}

// Driver runs one target, writing its combined output to log.
type Driver interface {
	Name() string
	Run(ctx context.Context, target graph.Target, log io.Writer) Outcome
}

// StartError reports a driver process, such as make, that never started.
type StartError struct {
	Stage string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// ExecDriver runs each stage as its own process. Stage boundaries are
// visible, so failures carry the stage name.
type ExecDriver struct {
	KillGrace time.Duration
	Env       []string
}

func (d ExecDriver) Name() string { return "exec" }

func (d ExecDriver) Run(ctx context.Context, target graph.Target, log io.Writer) Outcome {
	dir := target.Pipeline.WorkDir
	for _, stage := range target.Pipeline.Stages {
		fmt.Fprintf(log, "+ %s\n", stage.Shell())

		if stage.Name == pipeline.StageChdir {
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				fmt.Fprintf(log, "cd: %s: no such directory\n", dir)
				return Outcome{Stage: stage.Name, ExitCode: 1}
			}
			continue
		}
		if len(stage.Args) == 0 {
			continue
		}

		code, err := d.runStage(ctx, dir, stage, log)
		if err != nil {
			return Outcome{Stage: stage.Name, ExitCode: -1, Err: err}
		}
		if code != 0 {
			return Outcome{Stage: stage.Name, ExitCode: code}
		}
	}
	return Outcome{}
}

func (d ExecDriver) runStage(ctx context.Context, dir string, stage pipeline.Stage, log io.Writer) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}

	cmd := exec.Command(stage.Args[0], stage.Args[1:]...)
	cmd.Dir = dir
	cmd.Stderr = log
	if len(d.Env) > 0 {
		cmd.Env = append(os.Environ(), d.Env...)
	}

	switch stage.Stdout {
	case "":
		cmd.Stdout = log
	case pipeline.DevNull:
		// nil stdout is connected to the null device
	default:
		out := stage.Stdout
		if !filepath.IsAbs(out) {
			out = filepath.Join(dir, out)
		}
		f, err := os.OpenFile(out, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			// Same as a failed shell redirection.
			fmt.Fprintf(log, "%s: %v\n", stage.Name, err)
			return 1, nil
		}
		defer f.Close()
		cmd.Stdout = f
	}

	code, err := runProcess(ctx, cmd, d.KillGrace)
	if err != nil {
		if _, ok := err.(*startFailure); ok {
			// A tool that cannot be executed fails its stage the way the
			// shell reports it from the build file.
			fmt.Fprintf(log, "%s: %v\n", stage.Args[0], err)
			return shellStartCode(err), nil
		}
		return -1, err
	}
	return code, nil
}

// shellStartCode mirrors sh: 127 for a missing command, 126 otherwise.
func shellStartCode(err error) int {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return exitNotFound
	}
	return exitNotExecutable
}

// MakeDriver runs each target through the generated Makefile. Only the
// exit code of make is known.
type MakeDriver struct {
	Makefile  string
	Make      string
	KillGrace time.Duration
}

func (d MakeDriver) Name() string { return "make" }

func (d MakeDriver) Run(ctx context.Context, target graph.Target, log io.Writer) Outcome {
	if err := ctx.Err(); err != nil {
		return Outcome{ExitCode: -1, Err: err}
	}
	bin := d.Make
	if bin == "" {
		bin = "make"
	}
	cmd := exec.Command(bin, "--no-print-directory", "-f", d.Makefile, target.Name)
	cmd.Dir = filepath.Dir(d.Makefile)
	cmd.Stdout = log
	cmd.Stderr = log

	code, err := runProcess(ctx, cmd, d.KillGrace)
	if err != nil {
		if _, ok := err.(*startFailure); ok {
			return Outcome{ExitCode: -1, Err: &StartError{Stage: "make", Err: err}}
		}
		return Outcome{ExitCode: -1, Err: err}
	}
	return Outcome{ExitCode: code}
}
