// Package aapg turns the output tree of the AAPG random program generator
// into a campaign test list.
package aapg

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/generator/isa"
	appErr "rvcampaign/pkg/errors"
	"rvcampaign/pkg/utils/logger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	asmSubdir      = "aapg/asm"
	crtFile        = "aapg/common/crt.S"
	templateSuffix = "_template.S"
	regressSection = "aapg"
	dirPrefix      = "aapg_"
)

// Toolchain defaults applied to every generated test.
const (
	DefaultCompiler     = "riscv64-unknown-elf-gcc"
	DefaultCompilerArgs = "-mcmodel=medany -static -std=gnu99 -O2 -fno-common -fno-builtin-printf -fvisibility=hidden"
	DefaultLinkerArgs   = "-static -nostdlib -nostartfiles -lm -lgcc -T"
)

// Runner runs an external command in dir.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// Config configures a generation round.
type Config struct {
	OutputDir string `yaml:"outputDir"`
	ISA       string `yaml:"isa"`
	// Command, when set, is run in OutputDir before the tree is scanned.
	Command []string `yaml:"command"`
	// Regress is the regression file updated after generation.
	Regress string `yaml:"regress"`
}

// Generator wraps one output directory.
type Generator struct {
	cfg    Config
	runner Runner
}

// New creates a generator. runner may be nil when no command is configured.
func New(cfg Config, runner Runner) (*Generator, error) {
	if cfg.OutputDir == "" {
		return nil, appErr.ConfigError(appErr.ConfigInvalid, "generator output directory is required")
	}
	abs, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return nil, appErr.ConfigError(appErr.ConfigInvalid, "resolve %s: %v", cfg.OutputDir, err)
	}
	cfg.OutputDir = abs
	if len(cfg.Command) > 0 && runner == nil {
		return nil, appErr.ConfigError(appErr.ConfigInvalid, "generator command configured without a runner")
	}
	return &Generator{cfg: cfg, runner: runner}, nil
}

// Prepare recreates an empty output directory.
func (g *Generator) Prepare(ctx context.Context) error {
	logger.Debug(ctx, "preparing generator output", zap.String("dir", g.cfg.OutputDir))
	if err := os.RemoveAll(g.cfg.OutputDir); err != nil {
		return appErr.Wrapf(err, appErr.ConfigInvalid, "clear %s", g.cfg.OutputDir)
	}
	if err := os.MkdirAll(g.cfg.OutputDir, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.ConfigInvalid, "create %s", g.cfg.OutputDir)
	}
	return nil
}

// Generate runs the configured command, if any, and scans the result.
func (g *Generator) Generate(ctx context.Context) (map[string]model.TestSpec, error) {
	if len(g.cfg.Command) > 0 {
		out, err := g.runner.Run(ctx, g.cfg.OutputDir, g.cfg.Command[0], g.cfg.Command[1:]...)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.StageFailed, "generator command failed").
				WithDetail("output", strings.TrimSpace(string(out)))
		}
	}
	return g.Scan(ctx)
}

// Scan builds one test per <out>/aapg/asm/<name>/<name>.S file.
// Template sources are skipped.
func (g *Generator) Scan(ctx context.Context) (map[string]model.TestSpec, error) {
	asmDir := filepath.Join(g.cfg.OutputDir, asmSubdir)
	matches, err := filepath.Glob(filepath.Join(asmDir, "*", "*.S"))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidFormat, "scan %s", asmDir)
	}
	sort.Strings(matches)

	tests := make(map[string]model.TestSpec, len(matches))
	for _, path := range matches {
		if strings.HasSuffix(path, templateSuffix) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.TestListInvalid, "read %s", path)
		}
		spec := g.testFor(path, isa.Extract(string(data)))
		if _, dup := tests[spec.Name]; dup {
			return nil, appErr.ConfigError(appErr.DuplicateTest, "generated test %q appears twice", spec.Name).
				WithDetail("test", spec.Name)
		}
		tests[spec.Name] = spec
	}

	logger.Info(ctx, "generated test list", zap.Int("tests", len(tests)), zap.String("dir", asmDir))
	return tests, nil
}

func (g *Generator) testFor(path string, features isa.Features) model.TestSpec {
	name := strings.TrimSuffix(filepath.Base(path), ".S")
	dir := filepath.Join(g.cfg.OutputDir, asmSubdir, name)
	return model.TestSpec{
		Name:         name,
		WorkDir:      dir,
		ISA:          g.cfg.ISA,
		March:        features.March,
		Mabi:         features.Mabi,
		Compiler:     DefaultCompiler,
		CompilerArgs: DefaultCompilerArgs,
		LinkerArgs:   DefaultLinkerArgs,
		LinkerFile:   filepath.Join(dir, name+".ld"),
		AsmFile:      filepath.Join(dir, name+".S"),
		ExtraCompile: []string{filepath.Join(g.cfg.OutputDir, crtFile)},
	}
}

// RegressEntry names the files of one generated program.
type RegressEntry struct {
	TestName string `yaml:"testname"`
	LD       string `yaml:"ld"`
	Template string `yaml:"template"`
}

// UpdateRegress rewrites the aapg section of the regression file from the
// aapg_* directories currently present in the output directory. Other
// sections of the file are kept.
func (g *Generator) UpdateRegress(ctx context.Context) error {
	if g.cfg.Regress == "" {
		return nil
	}
	section := map[string]interface{}{"aapg_global_testpath": g.cfg.OutputDir}
	entries, err := os.ReadDir(g.cfg.OutputDir)
	if err != nil && !os.IsNotExist(err) {
		return appErr.Wrapf(err, appErr.InvalidFormat, "list %s", g.cfg.OutputDir)
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, dirPrefix) {
			continue
		}
		section[name] = RegressEntry{
			TestName: name + ".S",
			LD:       name + ".ld",
			Template: name + templateSuffix,
		}
	}

	doc := make(map[string]interface{})
	data, err := os.ReadFile(g.cfg.Regress)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return appErr.Wrapf(err, appErr.InvalidFormat, "parse %s", g.cfg.Regress)
		}
		if doc == nil {
			doc = make(map[string]interface{})
		}
	case !os.IsNotExist(err):
		return appErr.Wrapf(err, appErr.InvalidFormat, "read %s", g.cfg.Regress)
	}
	doc[regressSection] = section

	out, err := yaml.Marshal(doc)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "encode %s", g.cfg.Regress)
	}
	if err := os.WriteFile(g.cfg.Regress, out, 0o644); err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "write %s", g.cfg.Regress)
	}
	logger.Info(ctx, "regression file updated", zap.String("path", g.cfg.Regress), zap.Int("programs", len(section)-1))
	return nil
}
