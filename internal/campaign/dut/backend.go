// Package dut adapts simulator backends to the campaign pipeline. A backend
// prepares a shared, read-only simulation setup once and then describes how
// each test invokes it.
package dut

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"rvcampaign/internal/campaign/coverage"
	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/campaign/pipeline"
	appErr "rvcampaign/pkg/errors"
)

// Kind names a backend.
type Kind string

const (
	KindVerilator Kind = "verilator"
	KindQuesta    Kind = "questa"
)

// CoverageConfig selects which coverage a backend collects.
type CoverageConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Functional bool   `yaml:"functional"`
	Code       bool   `yaml:"code"`
	Tool       string `yaml:"tool"` // empty selects the backend's own tool
}

// Config is the backend section of the application config.
type Config struct {
	Kind      Kind           `yaml:"kind"`
	SimPath   string         `yaml:"simPath"`   // prebuilt simulator dir (verilator)
	PluginDir string         `yaml:"pluginDir"` // testbench and boot sources (questa)
	SrcDirs   []string       `yaml:"srcDirs"`   // RTL library dirs (questa)
	TopModule string         `yaml:"topModule"`
	ISA       string         `yaml:"isa"`
	Coverage  CoverageConfig `yaml:"coverage"`

	// WorkDir is the campaign work dir. Backends that compile a
	// simulator place it below WorkDir.
	WorkDir string `yaml:"-"`
	Debug   bool   `yaml:"-"`
}

// XLEN is the register width of the simulated core.
func (c Config) XLEN() int {
	if strings.Contains(c.ISA, "64") {
		return 64
	}
	return 32
}

// Setup is the result of backend initialisation. It is never modified
// after Init returns and is shared by all targets of a campaign.
type Setup struct {
	Kind         Kind
	SimPath      string
	Binary       string
	SideFiles    []string
	TrimTrailing int
	Debug        bool
	Coverage     CoverageConfig
}

// Backend is one simulator integration.
type Backend interface {
	Kind() Kind
	Init(ctx context.Context, cfg Config, tests map[string]model.TestSpec) (Setup, error)
	Simulator(setup Setup, test model.TestSpec) pipeline.Simulator
	CoverageTool(setup Setup) (coverage.Tool, error)
}

// Env holds the host interactions a backend needs.
type Env struct {
	LookPath func(file string) (string, error)
	Runner   coverage.CommandRunner
}

func (e Env) withDefaults() Env {
	if e.LookPath == nil {
		e.LookPath = exec.LookPath
	}
	if e.Runner == nil {
		e.Runner = coverage.ExecRunner{}
	}
	return e
}

// New returns the backend registered under kind.
func New(kind Kind, env Env) (Backend, error) {
	env = env.withDefaults()
	switch kind {
	case KindVerilator, "chromite", "chromite_verilator":
		return &Verilator{env: env}, nil
	case KindQuesta, "chromite_questa":
		return &Questa{env: env}, nil
	}
	return nil, appErr.ConfigError(appErr.BackendNotFound, "unknown backend %q", kind)
}

// requireTools fails with ToolNotFound for the first missing tool.
func requireTools(env Env, tools ...string) error {
	for _, tool := range tools {
		if _, err := env.LookPath(tool); err != nil {
			return appErr.ConfigError(appErr.ToolNotFound, "%s utility not found in $PATH", tool).
				WithDetail("tool", tool)
		}
	}
	return nil
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return appErr.ConfigError(appErr.SourceDirMissing, "directory %s does not exist", path).
			WithDetail("path", path)
	}
	return nil
}

func coverageTool(setup Setup, env Env, fallback string) (coverage.Tool, error) {
	name := setup.Coverage.Tool
	if name == "" {
		name = fallback
	}
	tool, ok := coverage.ToolByName(name)
	if !ok {
		return nil, appErr.ConfigError(appErr.ConfigInvalid, "unknown coverage tool %q", name)
	}
	if vc, ok := tool.(coverage.VcoverTool); ok {
		vc.Runner = env.Runner
		return vc, nil
	}
	return tool, nil
}
