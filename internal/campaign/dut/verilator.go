package dut

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"rvcampaign/internal/campaign/coverage"
	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/campaign/pipeline"
	appErr "rvcampaign/pkg/errors"
	"rvcampaign/pkg/utils/logger"

	"go.uber.org/zap"
)

// VerilatorBinary is the simulator executable expected in the sim dir.
const VerilatorBinary = "chromite_core"

// Verilator runs a prebuilt verilated core. Every file of the sim dir is
// linked into each test's work dir and the raw dump is renamed.
type Verilator struct {
	env Env
}

func (v *Verilator) Kind() Kind { return KindVerilator }

func (v *Verilator) Init(ctx context.Context, cfg Config, tests map[string]model.TestSpec) (Setup, error) {
	if cfg.SimPath == "" {
		return Setup{}, appErr.ConfigError(appErr.ConfigInvalid, "backend.simPath is required for verilator")
	}
	simPath, err := filepath.Abs(cfg.SimPath)
	if err != nil {
		return Setup{}, appErr.Wrapf(err, appErr.ConfigInvalid, "resolve %s", cfg.SimPath)
	}
	if err := requireDir(simPath); err != nil {
		return Setup{}, err
	}
	bin := filepath.Join(simPath, VerilatorBinary)
	if info, err := os.Stat(bin); err != nil || info.IsDir() {
		return Setup{}, appErr.ConfigError(appErr.SimBinaryMissing, "%s binary does not exist in %s", VerilatorBinary, simPath)
	}
	if err := requireTools(v.env, "elf2hex"); err != nil {
		return Setup{}, err
	}

	entries, err := os.ReadDir(simPath)
	if err != nil {
		return Setup{}, appErr.Wrapf(err, appErr.BackendInitFailed, "list %s", simPath)
	}
	side := make([]string, 0, len(entries))
	for _, e := range entries {
		side = append(side, filepath.Join(simPath, e.Name()))
	}
	sort.Strings(side)

	logger.Info(ctx, "verilator backend ready",
		zap.String("sim_path", simPath),
		zap.Int("side_files", len(side)),
		zap.Int("tests", len(tests)),
	)
	return Setup{
		Kind:      KindVerilator,
		SimPath:   simPath,
		Binary:    VerilatorBinary,
		SideFiles: side,
		Debug:     cfg.Debug,
		Coverage:  cfg.Coverage,
	}, nil
}

func (v *Verilator) Simulator(setup Setup, test model.TestSpec) pipeline.Simulator {
	return pipeline.Simulator{
		Binary:    setup.Binary,
		SideFiles: setup.SideFiles,
		Debug:     setup.Debug,
	}
}

func (v *Verilator) CoverageTool(setup Setup) (coverage.Tool, error) {
	return coverageTool(setup, v.env, "native")
}
