// Package executor runs a build graph with bounded concurrency. Every
// target gets exactly one result; a failing target never stops its
// siblings.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rvcampaign/internal/campaign/graph"
	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/campaign/observer"
	"rvcampaign/internal/campaign/pipeline"
	"rvcampaign/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config configures the executor.
type Config struct {
	// Timeout bounds one target's wall time. Zero disables it.
	Timeout  time.Duration
	Driver   Driver
	Recorder observer.MetricsRecorder
}

// Executor runs build graphs.
type Executor struct {
	timeout  time.Duration
	driver   Driver
	recorder observer.MetricsRecorder
	now      func() time.Time
}

// New creates an executor. A nil driver selects ExecDriver.
func New(cfg Config) *Executor {
	driver := cfg.Driver
	if driver == nil {
		driver = ExecDriver{}
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = observer.Noop{}
	}
	return &Executor{
		timeout:  cfg.Timeout,
		driver:   driver,
		recorder: recorder,
		now:      time.Now,
	}
}

// Run executes g with the default exec driver.
func Run(ctx context.Context, g *graph.Graph, jobs int) map[string]model.ExecutionResult {
	return New(Config{}).Run(ctx, g, jobs)
}

// Run executes every target of g with at most jobs running at once.
// jobs <= 0 falls back to the graph's job count.
func (e *Executor) Run(ctx context.Context, g *graph.Graph, jobs int) map[string]model.ExecutionResult {
	if jobs <= 0 {
		jobs = g.Jobs
	}
	if jobs <= 0 {
		jobs = 1
	}

	results := make([]model.ExecutionResult, len(g.Targets))
	var eg errgroup.Group
	eg.SetLimit(jobs)

	logger.Info(ctx, "executing build graph",
		zap.Int("targets", len(g.Targets)),
		zap.Int("jobs", jobs),
		zap.String("driver", e.driver.Name()),
	)

	for i, target := range g.Targets {
		eg.Go(func() error {
			results[i] = e.runTarget(ctx, target)
			return nil
		})
	}
	_ = eg.Wait()

	out := make(map[string]model.ExecutionResult, len(results))
	for _, r := range results {
		out[r.Target] = r
	}
	return out
}

func (e *Executor) runTarget(parent context.Context, target graph.Target) model.ExecutionResult {
	ctx := logger.WithTarget(parent, target.Name)
	res := model.ExecutionResult{
		Target:    target.Name,
		WorkDir:   target.WorkDir,
		LogPath:   filepath.Join(target.WorkDir, model.LogFile),
		StartedAt: e.now(),
	}

	if err := parent.Err(); err != nil {
		res.Status = model.StatusError
		res.Reason = model.ReasonCanceled
		res.ExitCode = -1
		return res
	}

	e.recorder.TargetStarted(ctx, target.Name)
	defer func() {
		e.recorder.TargetFinished(ctx, target.Name, string(res.Status), res.Duration)
	}()

	// The log lives in the work dir, so a missing dir fails the chdir stage
	// before any log can be written, as "cd" would in the build file.
	if info, err := os.Stat(target.WorkDir); err != nil || !info.IsDir() {
		res.Status = model.StatusFailed
		res.FailedStage = pipeline.StageChdir
		res.ExitCode = 1
		res.LogPath = ""
		res.Reason = fmt.Sprintf("stage %s: no such directory %s", pipeline.StageChdir, target.WorkDir)
		logger.Warn(ctx, "target finished", zap.String("status", string(res.Status)), zap.String("stage", res.FailedStage), zap.String("reason", res.Reason))
		return res
	}

	logFile, err := os.Create(res.LogPath)
	if err != nil {
		res.Status = model.StatusError
		res.Reason = fmt.Sprintf("%s: %v", model.ReasonStart, err)
		res.ExitCode = -1
		logger.Warn(ctx, "cannot open target log", zap.Error(err))
		return res
	}
	defer logFile.Close()

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	out := e.driver.Run(runCtx, target, logFile)
	res.Duration = e.now().Sub(res.StartedAt)
	res.FailedStage = out.Stage
	res.ExitCode = out.ExitCode
	e.classify(parent, &res, out)

	fields := []zap.Field{
		zap.String("status", string(res.Status)),
		zap.Duration("duration", res.Duration),
	}
	if res.Status == model.StatusPassed {
		logger.Info(ctx, "target finished", fields...)
	} else {
		fields = append(fields, zap.String("stage", res.FailedStage), zap.Int("exit_code", res.ExitCode), zap.String("reason", res.Reason))
		logger.Warn(ctx, "target finished", fields...)
	}
	return res
}

func (e *Executor) classify(parent context.Context, res *model.ExecutionResult, out Outcome) {
	var startErr *StartError
	switch {
	case out.Err == nil && out.ExitCode == 0:
		res.Status = model.StatusPassed
	case out.Err == nil:
		res.Status = model.StatusFailed
		if out.Stage != "" {
			res.Reason = fmt.Sprintf("stage %s exited with code %d", out.Stage, out.ExitCode)
		} else {
			res.Reason = fmt.Sprintf("%s %d", model.ReasonExitCode, out.ExitCode)
		}
	case errors.As(out.Err, &startErr):
		res.Status = model.StatusError
		res.Reason = fmt.Sprintf("%s: %v", model.ReasonStart, startErr.Err)
	case parent.Err() != nil:
		res.Status = model.StatusError
		res.Reason = model.ReasonCanceled
	case errors.Is(out.Err, context.DeadlineExceeded):
		res.Status = model.StatusError
		res.Reason = model.ReasonTimeout
	default:
		res.Status = model.StatusError
		res.Reason = out.Err.Error()
	}
}
