// Package service runs a campaign end to end: backend initialisation, build
// graph, bounded execution, coverage, cleanup and reporting.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"rvcampaign/internal/campaign/coverage"
	"rvcampaign/internal/campaign/dut"
	"rvcampaign/internal/campaign/executor"
	"rvcampaign/internal/campaign/graph"
	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/campaign/observer"
	"rvcampaign/internal/campaign/pipeline"
	"rvcampaign/internal/campaign/reclaim"
	"rvcampaign/internal/campaign/report"
	"rvcampaign/internal/campaign/repository"
	appErr "rvcampaign/pkg/errors"
	"rvcampaign/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service runs campaigns.
type Service struct {
	backend       dut.Backend
	backendCfg    dut.Config
	toolchain     pipeline.Toolchain
	executor      *executor.Executor
	reclaimer     *reclaim.Reclaimer
	jobs          int
	filter        string
	spaceSaver    bool
	testReports   bool
	locker        coverage.Locker
	recorder      observer.MetricsRecorder
	statusRepo    *repository.StatusRepository
	history       *repository.HistoryRepository
	archive       *repository.Archive
	events        repository.EventPublisher
	statusTimeout time.Duration
	now           func() time.Time
	newID         func() string
}

// Config holds service dependencies and settings. Repositories, archive
// and events are optional.
type Config struct {
	Backend       dut.Backend
	BackendConfig dut.Config
	Toolchain     pipeline.Toolchain
	Executor      *executor.Executor
	Reclaimer     *reclaim.Reclaimer
	Jobs          int
	Filter        string
	SpaceSaver    bool
	TestReports   bool
	Locker        coverage.Locker
	Recorder      observer.MetricsRecorder
	StatusRepo    *repository.StatusRepository
	History       *repository.HistoryRepository
	Archive       *repository.Archive
	Events        repository.EventPublisher
	StatusTimeout time.Duration
}

// Outcome is what a finished campaign produced.
type Outcome struct {
	Report  model.CampaignReport
	Results map[string]model.ExecutionResult
}

// NewService creates a campaign service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Backend == nil {
		return nil, appErr.ConfigError(appErr.BackendNotFound, "backend is required")
	}
	if cfg.BackendConfig.WorkDir == "" {
		return nil, appErr.ConfigError(appErr.ConfigInvalid, "work dir is required")
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = observer.Noop{}
	}
	exec := cfg.Executor
	if exec == nil {
		exec = executor.New(executor.Config{Recorder: recorder})
	}
	reclaimer := cfg.Reclaimer
	if reclaimer == nil {
		reclaimer = reclaim.New()
	}
	jobs := cfg.Jobs
	if jobs <= 0 {
		jobs = 1
	}
	return &Service{
		backend:       cfg.Backend,
		backendCfg:    cfg.BackendConfig,
		toolchain:     cfg.Toolchain,
		executor:      exec,
		reclaimer:     reclaimer,
		jobs:          jobs,
		filter:        cfg.Filter,
		spaceSaver:    cfg.SpaceSaver,
		testReports:   cfg.TestReports,
		locker:        cfg.Locker,
		recorder:      recorder,
		statusRepo:    cfg.StatusRepo,
		history:       cfg.History,
		archive:       cfg.Archive,
		events:        cfg.Events,
		statusTimeout: cfg.StatusTimeout,
		now:           time.Now,
		newID:         uuid.NewString,
	}, nil
}

// Run executes tests against the backend. Configuration errors abort
// before any target runs. Once targets ran, the report is always written;
// a coverage failure is returned after it.
func (s *Service) Run(ctx context.Context, tests map[string]model.TestSpec) (*Outcome, error) {
	id := s.newID()
	ctx = logger.WithCampaign(ctx, id)
	started := s.now()
	kind := string(s.backend.Kind())

	s.saveStatus(ctx, model.CampaignStatus{
		ID:        id,
		Backend:   kind,
		State:     model.StateRunning,
		Targets:   len(tests),
		StartedAt: started,
	})

	g, setup, err := s.prepare(ctx, tests)
	if err != nil {
		return nil, s.fail(ctx, id, kind, started, err)
	}

	results := s.executor.Run(ctx, g, s.jobs)

	rep := model.CampaignReport{ID: id, Backend: kind, Timestamp: started}
	var coverageErr error
	if setup.Coverage.Enabled {
		var summary model.CoverageSummary
		summary, results, coverageErr = s.collectCoverage(ctx, setup, results)
		rep.Coverage = &summary
	}

	stats := s.reclaimer.Reclaim(ctx, results, s.spaceSaver)
	rep.Reclaimed = stats.Removed
	rep.Counts = model.Tally(results)

	if err := report.Write(s.backendCfg.WorkDir, &rep, results); err != nil {
		return nil, s.fail(ctx, id, kind, started, err)
	}
	s.persist(ctx, &rep, results)

	logger.Info(ctx, "campaign finished",
		zap.String("backend", kind),
		zap.Int("total", rep.Counts.Total),
		zap.Int("passed", rep.Counts.Passed),
		zap.Int("failed", rep.Counts.Failed),
		zap.Int("error", rep.Counts.Error),
		zap.String("report", rep.ReportPath),
	)
	return &Outcome{Report: rep, Results: results}, coverageErr
}

func (s *Service) prepare(ctx context.Context, tests map[string]model.TestSpec) (*graph.Graph, dut.Setup, error) {
	if len(tests) == 0 {
		return nil, dut.Setup{}, appErr.ConfigError(appErr.TestListInvalid, "test list is empty")
	}
	setup, err := s.backend.Init(ctx, s.backendCfg, tests)
	if err != nil {
		return nil, setup, err
	}

	render := func(test model.TestSpec) (pipeline.Pipeline, error) {
		return pipeline.Render(test, s.toolchain, s.backend.Simulator(setup, test))
	}
	g, names, err := graph.Build(tests, render, s.jobs)
	if err != nil {
		return nil, setup, err
	}
	makefile := filepath.Join(s.backendCfg.WorkDir, graph.FileName(string(setup.Kind)))
	if err := g.WriteFile(makefile); err != nil {
		return nil, setup, err
	}
	logger.Info(ctx, "build graph written", zap.String("path", makefile), zap.Int("targets", len(names)))

	if s.filter != "" {
		g, err = g.Filter(s.filter)
		if err != nil {
			return nil, setup, err
		}
		logger.Info(ctx, "targets filtered", zap.String("filter", s.filter), zap.Int("targets", g.Len()))
	}
	return g, setup, nil
}

func (s *Service) collectCoverage(ctx context.Context, setup dut.Setup, results map[string]model.ExecutionResult) (model.CoverageSummary, map[string]model.ExecutionResult, error) {
	tool, err := s.backend.CoverageTool(setup)
	if err != nil {
		return model.CoverageSummary{}, results, err
	}
	engine, err := coverage.NewEngine(coverage.Config{
		Tool:        tool,
		TestReports: s.testReports,
		Locker:      s.locker,
		Recorder:    s.recorder,
	})
	if err != nil {
		return model.CoverageSummary{Tool: tool.Name()}, results, err
	}
	summary, updated, err := engine.Run(ctx, results, nil, s.backendCfg.WorkDir)
	if err != nil {
		logger.Warn(ctx, "coverage merge failed", zap.Int("code", int(appErr.GetCode(err))), zap.Error(err))
	}
	return summary, updated, err
}

// persist stores the finished campaign in every configured backend.
// Failures are logged and never fail the campaign.
func (s *Service) persist(ctx context.Context, rep *model.CampaignReport, results map[string]model.ExecutionResult) {
	if s.archive != nil {
		key, err := s.archive.Upload(ctx, rep.ID, s.archiveEntries(rep))
		if err != nil {
			logger.Warn(ctx, "archive upload failed", zap.Error(err))
		} else {
			rep.ArchiveKey = key
		}
	}
	if s.history != nil {
		if err := s.history.Save(ctx, *rep, results); err != nil {
			logger.Warn(ctx, "save campaign history failed", zap.Error(err))
		}
	}
	s.saveStatus(ctx, model.StatusFromReport(*rep, s.now()))
	if s.events != nil {
		if err := s.events.PublishFinished(ctx, *rep); err != nil {
			logger.Warn(ctx, "publish campaign event failed", zap.Error(err))
		}
	}
}

func (s *Service) archiveEntries(rep *model.CampaignReport) []repository.ArchiveEntry {
	entries := []repository.ArchiveEntry{
		{Source: rep.ResultLogPath, Name: filepath.Join(report.Dir, filepath.Base(rep.ResultLogPath))},
		{Source: rep.ReportPath, Name: filepath.Join(report.Dir, filepath.Base(rep.ReportPath))},
	}
	if rep.Coverage == nil {
		return entries
	}
	for _, dir := range []string{coverage.MergedDir, coverage.HTMLDir, coverage.RankDir, coverage.RankHTMLDir} {
		entries = append(entries, repository.ArchiveEntry{Source: filepath.Join(s.backendCfg.WorkDir, dir), Name: dir})
	}
	return entries
}

func (s *Service) fail(ctx context.Context, id, kind string, started time.Time, err error) error {
	logger.Error(ctx, "campaign aborted", zap.Int("code", int(appErr.GetCode(err))), zap.Error(err))
	s.saveStatus(ctx, model.CampaignStatus{
		ID:         id,
		Backend:    kind,
		State:      model.StateFailed,
		StartedAt:  started,
		FinishedAt: s.now(),
		Error:      err.Error(),
	})
	return err
}

func (s *Service) saveStatus(ctx context.Context, status model.CampaignStatus) {
	if s.statusRepo == nil {
		return
	}
	ctxStatus := ctx
	if s.statusTimeout > 0 {
		var cancel context.CancelFunc
		ctxStatus, cancel = context.WithTimeout(ctx, s.statusTimeout)
		defer cancel()
	}
	if err := s.statusRepo.Save(ctxStatus, status); err != nil {
		logger.Warn(ctx, "update campaign status failed", zap.String("state", status.State), zap.Error(err))
	}
}

// ExitCode maps a campaign error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 1
	}
	return appErr.GetCode(err).ExitCode()
}

func describe(paths []string) string {
	if len(paths) == 1 {
		return paths[0]
	}
	return fmt.Sprintf("%d databases", len(paths))
}
