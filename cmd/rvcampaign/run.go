package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"rvcampaign/internal/campaign/dut"
	"rvcampaign/internal/campaign/executor"
	"rvcampaign/internal/campaign/graph"
	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/campaign/observer"
	"rvcampaign/internal/campaign/report"
	"rvcampaign/internal/campaign/service"
	"rvcampaign/internal/campaign/testlist"
	appErr "rvcampaign/pkg/errors"
	"rvcampaign/pkg/utils/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runFlags struct {
	workDir     string
	backend     string
	jobs        int
	filter      string
	timeout     time.Duration
	driver      string
	spaceSaver  bool
	debug       bool
	coverage    bool
	metricsAddr string
}

var runCmd = &cobra.Command{
	Use:   "run [test-list.yaml...]",
	Short: "Run a campaign over one or more test lists",
	Long: `Run compiles and simulates every test of the given test lists, collects
and merges coverage when the backend has it enabled, and writes the campaign
report under <workDir>/reports. Test lists from the config file are used when
no argument is given.`,
	Example: `  # Run two lists with 16 parallel jobs on the Questa backend
  rvcampaign run --backend questa -j 16 aapg.yaml directed.yaml

  # Only run the AAPG tests and delete bulky artifacts of passing ones
  rvcampaign run --filter 'aapg_*' --space-saver`,
	RunE: runCampaign,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.workDir, "work-dir", "w", "", "Campaign work directory")
	f.StringVarP(&runFlags.backend, "backend", "b", "", "Simulator backend (verilator, questa)")
	f.IntVarP(&runFlags.jobs, "jobs", "j", 0, "Maximum number of targets running at once")
	f.StringVar(&runFlags.filter, "filter", "", "Glob selecting the targets to run")
	f.DurationVar(&runFlags.timeout, "timeout", 0, "Wall-time limit per target (0 disables)")
	f.StringVar(&runFlags.driver, "driver", "", "Target driver (exec, make)")
	f.BoolVar(&runFlags.spaceSaver, "space-saver", false, "Delete bulky artifacts of passing tests")
	f.BoolVar(&runFlags.debug, "debug", false, "Keep simulator output in the target logs")
	f.BoolVar(&runFlags.coverage, "coverage", false, "Collect and merge coverage")
	f.StringVar(&runFlags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
}

// applyRunFlags lets explicitly set flags override the config file.
func applyRunFlags(cmd *cobra.Command, cfg *AppConfig) {
	f := cmd.Flags()
	if f.Changed("work-dir") {
		cfg.Campaign.WorkDir = runFlags.workDir
	}
	if f.Changed("backend") {
		cfg.Backend.Kind = dut.Kind(runFlags.backend)
	}
	if f.Changed("jobs") {
		cfg.Campaign.Jobs = runFlags.jobs
	}
	if f.Changed("filter") {
		cfg.Campaign.Filter = runFlags.filter
	}
	if f.Changed("timeout") {
		cfg.Campaign.Timeout = runFlags.timeout
	}
	if f.Changed("driver") {
		cfg.Campaign.Driver = runFlags.driver
	}
	if f.Changed("space-saver") {
		cfg.Campaign.SpaceSaver = runFlags.spaceSaver
	}
	if f.Changed("debug") {
		cfg.Campaign.Debug = runFlags.debug
	}
	if f.Changed("coverage") {
		cfg.Backend.Coverage.Enabled = runFlags.coverage
	}
	if f.Changed("metrics-addr") {
		cfg.Campaign.MetricsAddr = runFlags.metricsAddr
	}
}

func runCampaign(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appCfg
	applyRunFlags(cmd, cfg)

	lists := args
	if len(lists) == 0 {
		lists = cfg.Campaign.TestList
	}
	tests, err := loadTests(lists)
	if err != nil {
		return err
	}

	backendCfg, err := cfg.backendConfig()
	if err != nil {
		return err
	}
	backend, err := dut.New(backendCfg.Kind, dut.Env{})
	if err != nil {
		return err
	}

	recorder, stopMetrics, err := startMetrics(ctx, cfg.Campaign.MetricsAddr)
	if err != nil {
		return err
	}
	defer stopMetrics()

	driver, err := newDriver(cfg.Campaign.Driver, backendCfg.WorkDir, backend.Kind())
	if err != nil {
		return err
	}

	in, err := openInfra(ctx, cfg)
	if err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "connect infrastructure")
	}
	defer in.close()

	svc, err := service.NewService(service.Config{
		Backend:       backend,
		BackendConfig: backendCfg,
		Toolchain:     cfg.Toolchain,
		Executor: executor.New(executor.Config{
			Timeout:  cfg.Campaign.Timeout,
			Driver:   driver,
			Recorder: recorder,
		}),
		Jobs:          cfg.Campaign.Jobs,
		Filter:        cfg.Campaign.Filter,
		SpaceSaver:    cfg.Campaign.SpaceSaver,
		TestReports:   cfg.Campaign.TestReports,
		Locker:        in.locker(),
		Recorder:      recorder,
		StatusRepo:    in.statusRepo,
		History:       in.history,
		Archive:       in.archive,
		Events:        in.events,
		StatusTimeout: cfg.Status.Timeout,
	})
	if err != nil {
		return err
	}

	out, err := svc.Run(ctx, tests)
	if out != nil {
		fmt.Fprintln(cmd.OutOrStdout(), report.Summary(&out.Report, out.Results))
		if err == nil && out.Report.Counts.Passed != out.Report.Counts.Total {
			return appErr.Newf(appErr.StageFailed, "%d of %d tests did not pass",
				out.Report.Counts.Total-out.Report.Counts.Passed, out.Report.Counts.Total)
		}
	}
	return err
}

func loadTests(paths []string) (map[string]model.TestSpec, error) {
	if len(paths) == 0 {
		return nil, appErr.ConfigError(appErr.TestListInvalid, "no test list given")
	}
	sources := make([]map[string]model.TestSpec, 0, len(paths))
	for _, p := range paths {
		tests, err := testlist.Load(p)
		if err != nil {
			return nil, err
		}
		sources = append(sources, tests)
	}
	return testlist.Merge(sources...)
}

func newDriver(name, workDir string, kind dut.Kind) (executor.Driver, error) {
	switch name {
	case "", "exec":
		return executor.ExecDriver{}, nil
	case "make":
		return executor.MakeDriver{Makefile: filepath.Join(workDir, graph.FileName(string(kind)))}, nil
	}
	return nil, appErr.ConfigError(appErr.ConfigInvalid, "unknown driver %q", name)
}

// startMetrics serves /metrics on addr until the returned stop is called.
// Without an address the recorder is a no-op.
func startMetrics(ctx context.Context, addr string) (observer.MetricsRecorder, func(), error) {
	if addr == "" {
		return observer.Noop{}, func() {}, nil
	}
	reg := prometheus.NewRegistry()
	recorder, err := observer.NewPrometheus(reg)
	if err != nil {
		return nil, nil, appErr.InternalError(err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: defaultReadTimeout}
	go func() {
		logger.Info(ctx, "metrics server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn(ctx, "metrics server stopped", zap.Error(err))
		}
	}()
	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return recorder, stop, nil
}
