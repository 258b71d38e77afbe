package coverage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/campaign/observer"
	appErr "rvcampaign/pkg/errors"
	"rvcampaign/pkg/utils/logger"

	"go.uber.org/zap"
)

// State is a step of the coverage state machine.
type State string

const (
	StateCollecting State = "Collecting"
	StateMerging    State = "Merging"
	StateReporting  State = "Reporting"
	StateRanking    State = "Ranking"
	StateDone       State = "Done"
	StateFailed     State = "Failed"
)

// Output layout below the merge output directory.
const (
	MergedDir    = "final_coverage"
	RankDir      = "final_rank"
	HTMLDir      = "final_html"
	RankHTMLDir  = "final_html_rank"
	RankFileName = "out.rank"
)

// Config configures the engine.
type Config struct {
	Tool Tool
	// TestReports renders an HTML report per test while collecting.
	TestReports bool
	Locker      Locker
	LockTTL     time.Duration
	LockWait    time.Duration
	Recorder    observer.MetricsRecorder
	// OnTransition is called on every state change.
	OnTransition func(State)
}

// Engine runs the collect, merge, report and rank steps.
type Engine struct {
	tool         Tool
	testReports  bool
	locker       Locker
	lockTTL      time.Duration
	lockWait     time.Duration
	recorder     observer.MetricsRecorder
	onTransition func(State)
	locks        pathLocks
}

// NewEngine creates a coverage engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Tool == nil {
		return nil, appErr.ValidationError("tool", "coverage tool is required")
	}
	e := &Engine{
		tool:         cfg.Tool,
		testReports:  cfg.TestReports,
		locker:       cfg.Locker,
		lockTTL:      cfg.LockTTL,
		lockWait:     cfg.LockWait,
		recorder:     cfg.Recorder,
		onTransition: cfg.OnTransition,
	}
	if e.lockTTL <= 0 {
		e.lockTTL = defaultLockTTL
	}
	if e.lockWait <= 0 {
		e.lockWait = defaultLockWait
	}
	if e.recorder == nil {
		e.recorder = observer.Noop{}
	}
	return e, nil
}

// Tool returns the engine's coverage tool.
func (e *Engine) Tool() Tool {
	return e.tool
}

func (e *Engine) transition(ctx context.Context, s State) {
	logger.Debug(ctx, "coverage state", zap.String("state", string(s)))
	if e.onTransition != nil {
		e.onTransition(s)
	}
}

// Collect moves each passed test's database into <work_dir>/coverage and
// records its path on the result. Running it twice is harmless.
func (e *Engine) Collect(ctx context.Context, results map[string]model.ExecutionResult) ([]Input, map[string]model.ExecutionResult) {
	e.transition(ctx, StateCollecting)
	updated := make(map[string]model.ExecutionResult, len(results))
	var inputs []Input

	for _, name := range model.SortedNames(results) {
		res := results[name]
		updated[name] = res
		if !res.Passed() {
			continue
		}
		tctx := logger.WithTarget(ctx, name)
		covDir := filepath.Join(res.WorkDir, model.CoverageDir)
		src := filepath.Join(res.WorkDir, e.tool.SourceFile(name))
		dst := filepath.Join(covDir, name+e.tool.Ext())

		if _, err := os.Stat(src); err == nil {
			if err := os.MkdirAll(covDir, 0o755); err != nil {
				logger.Warn(tctx, "create coverage dir failed", zap.Int("code", int(appErr.CollectionFailed)), zap.Error(err))
				continue
			}
			if err := os.Rename(src, dst); err != nil {
				logger.Warn(tctx, "move coverage database failed", zap.Int("code", int(appErr.CollectionFailed)), zap.Error(err))
				continue
			}
		} else if _, err := os.Stat(dst); err == nil {
			logger.Debug(tctx, "coverage database already collected", zap.String("database", dst))
		} else {
			logger.Warn(tctx, "no coverage database produced", zap.Int("code", int(appErr.CollectionFailed)), zap.String("expected", src))
			continue
		}

		res.CoveragePath = dst
		updated[name] = res
		inputs = append(inputs, Input{ID: name, Path: dst, Order: len(inputs)})

		if e.testReports {
			htmlDir := filepath.Join(covDir, name+"_html")
			if err := e.tool.TestReport(ctx, dst, htmlDir); err != nil {
				logger.Warn(tctx, "per-test coverage report failed", zap.Int("code", int(appErr.ReportFailed)), zap.Error(err))
			}
		}
	}
	return inputs, updated
}

// Run collects the campaign's databases, adds any extra database paths
// and merges, reports and ranks them into outDir.
func (e *Engine) Run(ctx context.Context, results map[string]model.ExecutionResult, extra []string, outDir string) (model.CoverageSummary, map[string]model.ExecutionResult, error) {
	inputs, updated := e.Collect(ctx, results)
	for _, p := range extra {
		inputs = append(inputs, Input{ID: databaseID(p), Path: p, Order: len(inputs)})
	}
	summary, err := e.Merge(ctx, inputs, outDir)
	return summary, updated, err
}

// MergeDatabases merges caller-supplied databases from any number of
// campaigns and returns the final report and rank report paths.
func (e *Engine) MergeDatabases(ctx context.Context, paths []string, outDir string) (string, string, error) {
	summary, err := e.Merge(ctx, InputsFromPaths(paths), outDir)
	if err != nil {
		return "", "", err
	}
	return summary.ReportPath, summary.RankReport, nil
}

// InputsFromPaths names each database after its file.
func InputsFromPaths(paths []string) []Input {
	inputs := make([]Input, 0, len(paths))
	for i, p := range paths {
		inputs = append(inputs, Input{ID: databaseID(p), Path: p, Order: i})
	}
	return inputs
}

func databaseID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Merge validates inputs, merges the valid ones, and reports and ranks the
// result. Invalid inputs are skipped with a warning. At most one merge
// writes a given outDir at a time.
func (e *Engine) Merge(ctx context.Context, inputs []Input, outDir string) (model.CoverageSummary, error) {
	summary := model.CoverageSummary{Tool: e.tool.Name()}
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		return summary, appErr.Wrapf(err, appErr.MergeFailed, "resolve output dir %s", outDir)
	}

	ctx, release, err := e.acquire(ctx, absOut)
	if err != nil {
		return summary, err
	}
	defer release()

	start := time.Now()
	e.transition(ctx, StateMerging)

	inputs, summary.Duplicates = e.dedupe(ctx, inputs)
	valid := make([]Input, 0, len(inputs))
	for _, in := range inputs {
		if err := e.validate(ctx, in.Path); err != nil {
			logger.Warn(ctx, "coverage database skipped",
				zap.Int("code", int(appErr.MergeWarning)),
				zap.String("database", in.Path),
				zap.Error(err),
			)
			summary.Skipped = append(summary.Skipped, in.Path)
			continue
		}
		valid = append(valid, in)
	}
	summary.Inputs = len(valid)
	if len(valid) == 0 {
		e.transition(ctx, StateFailed)
		return summary, appErr.New(appErr.MergeInputEmpty).WithDetail("skipped", len(summary.Skipped))
	}

	merged, err := e.tool.Merge(ctx, valid, filepath.Join(absOut, MergedDir, e.tool.MergedFile()))
	if lost := leaseLost(ctx); lost != nil {
		e.transition(ctx, StateFailed)
		return summary, lost
	}
	if err != nil {
		e.transition(ctx, StateFailed)
		return summary, appErr.Wrapf(err, appErr.MergeFailed, "merge %d databases", len(valid))
	}
	summary.MergedPath = merged.Path
	summary.TotalPoints = merged.TotalPoints
	summary.CoveredPoints = merged.CoveredPoints

	e.transition(ctx, StateReporting)
	report, err := e.tool.Report(ctx, merged, filepath.Join(absOut, HTMLDir))
	if lost := leaseLost(ctx); lost != nil {
		e.transition(ctx, StateFailed)
		return summary, lost
	}
	if err != nil {
		e.transition(ctx, StateFailed)
		return summary, appErr.Wrapf(err, appErr.ReportFailed, "report %s", merged.Path)
	}
	summary.ReportPath = report

	e.transition(ctx, StateRanking)
	rankFile := filepath.Join(absOut, RankDir, RankFileName)
	entries, err := e.tool.Rank(ctx, valid, merged, rankFile)
	if lost := leaseLost(ctx); lost != nil {
		e.transition(ctx, StateFailed)
		return summary, lost
	}
	if err != nil {
		e.transition(ctx, StateFailed)
		return summary, appErr.Wrapf(err, appErr.RankFailed, "rank %d databases", len(valid))
	}
	summary.RankFile = rankFile
	summary.Ranking = entries

	rankReport, err := e.tool.RankReport(ctx, rankFile, entries, filepath.Join(absOut, RankHTMLDir))
	if lost := leaseLost(ctx); lost != nil {
		e.transition(ctx, StateFailed)
		return summary, lost
	}
	if err != nil {
		e.transition(ctx, StateFailed)
		return summary, appErr.Wrapf(err, appErr.ReportFailed, "rank report %s", rankFile)
	}
	summary.RankReport = rankReport

	e.transition(ctx, StateDone)
	elapsed := time.Since(start)
	e.recorder.MergeFinished(ctx, e.tool.Name(), len(valid), len(summary.Skipped), elapsed)
	logger.Info(ctx, "coverage merged",
		zap.String("tool", e.tool.Name()),
		zap.Int("inputs", len(valid)),
		zap.Int("skipped", len(summary.Skipped)),
		zap.String("report", summary.ReportPath),
		zap.String("rank_report", summary.RankReport),
		zap.Duration("elapsed", elapsed),
	)
	return summary, nil
}

// dedupe keeps the first occurrence of every database file, so a file
// listed twice is counted once. Orders are renumbered to stay contiguous.
func (e *Engine) dedupe(ctx context.Context, inputs []Input) ([]Input, []string) {
	seen := make(map[string]bool, len(inputs))
	unique := make([]Input, 0, len(inputs))
	var dups []string
	for _, in := range inputs {
		key := canonicalPath(in.Path)
		if seen[key] {
			logger.Warn(ctx, "duplicate coverage database skipped",
				zap.Int("code", int(appErr.MergeWarning)),
				zap.String("database", in.Path),
			)
			dups = append(dups, in.Path)
			continue
		}
		seen[key] = true
		in.Order = len(unique)
		unique = append(unique, in)
	}
	return unique, dups
}

func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

func (e *Engine) validate(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return appErr.Newf(appErr.CoverageCorrupt, "%s is a directory", path)
	}
	if err := e.tool.Validate(ctx, path); err != nil {
		return appErr.Wrapf(err, appErr.CoverageCorrupt, "invalid database %s", path)
	}
	return nil
}
