package dut

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"rvcampaign/internal/campaign/coverage"
	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/campaign/pipeline"
	appErr "rvcampaign/pkg/errors"
	"rvcampaign/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	questaSetupDir  = "chromite_questa"
	questaScript    = "chromite_core_"
	questaBootImage = "boot.mem"
	questaLibrary   = "work"
	// The vsim transcript ends with four lines that are not part of the
	// commit log.
	questaTrailer = 4
	// tbPlaceholder is replaced by the plugin dir in the testbench.
	tbPlaceholder = "plugin_path"
)

// QuestaTools must all be on $PATH for the questa backend.
var QuestaTools = []string{"elf2hex", "vlib", "vlog", "vsim", "vcover", "bsc"}

// Questa compiles the RTL into a shared work library once and gives every
// test its own vsim launch script.
type Questa struct {
	env Env
}

func (q *Questa) Kind() Kind { return KindQuesta }

func (q *Questa) Init(ctx context.Context, cfg Config, tests map[string]model.TestSpec) (Setup, error) {
	if err := requireTools(q.env, QuestaTools...); err != nil {
		return Setup{}, err
	}
	if len(cfg.SrcDirs) == 0 {
		return Setup{}, appErr.ConfigError(appErr.ConfigInvalid, "backend.srcDirs is required for questa")
	}
	for _, dir := range cfg.SrcDirs {
		if err := requireDir(dir); err != nil {
			return Setup{}, err
		}
	}
	if err := requireDir(cfg.PluginDir); err != nil {
		return Setup{}, err
	}
	if cfg.TopModule == "" {
		return Setup{}, appErr.ConfigError(appErr.ConfigInvalid, "backend.topModule is required for questa")
	}
	bsc, _ := q.env.LookPath("bsc")
	// bsc lives in <install>/bin/bsc; the Verilog library is <install>/lib/Verilog.
	bscRoot := filepath.Dir(filepath.Dir(bsc))

	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return Setup{}, appErr.Wrapf(err, appErr.ConfigInvalid, "resolve %s", cfg.WorkDir)
	}
	pluginDir, err := filepath.Abs(cfg.PluginDir)
	if err != nil {
		return Setup{}, appErr.Wrapf(err, appErr.ConfigInvalid, "resolve %s", cfg.PluginDir)
	}
	simPath := filepath.Join(workDir, questaSetupDir)
	if err := os.MkdirAll(simPath, 0o755); err != nil {
		return Setup{}, appErr.Wrapf(err, appErr.BackendInitFailed, "create %s", simPath)
	}

	tbTop, err := fixTestbench(pluginDir, simPath)
	if err != nil {
		return Setup{}, err
	}

	mode := questaMode(cfg.Coverage)
	logger.Info(ctx, "building questa work library", zap.String("sim_path", simPath), zap.String("coverage", mode.name))

	if _, err := q.env.Runner.Run(ctx, simPath, "vlib", questaLibrary); err != nil {
		return Setup{}, appErr.Wrapf(err, appErr.BackendInitFailed, "vlib")
	}
	vlog := []string{"-cover", "bcefst", "-sv", "-work", questaLibrary, "+libext+.v+.vqm"}
	for _, dir := range cfg.SrcDirs {
		vlog = append(vlog, "-y", dir)
	}
	vlog = append(vlog,
		"+define+TOP="+cfg.TopModule,
		tbTop,
		filepath.Join(bscRoot, "lib", "Verilog", "main.v"),
	)
	if _, err := q.env.Runner.Run(ctx, simPath, "vlog", vlog...); err != nil {
		return Setup{}, appErr.Wrapf(err, appErr.BackendInitFailed, "vlog")
	}

	for _, name := range model.Names(tests) {
		script := filepath.Join(simPath, questaScript+name)
		if err := os.WriteFile(script, []byte(vsimScript(name, mode)), 0o755); err != nil {
			return Setup{}, appErr.Wrapf(err, appErr.BackendInitFailed, "write %s", script)
		}
	}

	bootDir := filepath.Join(pluginDir, "boot")
	if _, err := q.env.Runner.Run(ctx, simPath, "make", "-C", bootDir, "XLEN="+strconv.Itoa(cfg.XLEN())); err != nil {
		return Setup{}, appErr.Wrapf(err, appErr.BackendInitFailed, "build boot image")
	}
	if err := copyFile(filepath.Join(bootDir, "boot.hex"), filepath.Join(simPath, questaBootImage)); err != nil {
		return Setup{}, appErr.Wrapf(err, appErr.BackendInitFailed, "copy boot image")
	}

	return Setup{
		Kind:         KindQuesta,
		SimPath:      simPath,
		TrimTrailing: questaTrailer,
		Debug:        cfg.Debug,
		Coverage:     cfg.Coverage,
	}, nil
}

func (q *Questa) Simulator(setup Setup, test model.TestSpec) pipeline.Simulator {
	script := questaScript + test.Name
	return pipeline.Simulator{
		Binary: script,
		SideFiles: []string{
			filepath.Join(setup.SimPath, script),
			filepath.Join(setup.SimPath, questaBootImage),
			filepath.Join(setup.SimPath, questaLibrary),
		},
		TrimTrailing: setup.TrimTrailing,
		Debug:        setup.Debug,
	}
}

func (q *Questa) CoverageTool(setup Setup) (coverage.Tool, error) {
	return coverageTool(setup, q.env, "vcover")
}

type vsimMode struct {
	name  string
	flags []string
	save  string
}

func questaMode(c CoverageConfig) vsimMode {
	switch {
	case !c.Enabled:
		return vsimMode{name: "disabled"}
	case c.Code && c.Functional:
		return vsimMode{
			name:  "code+functional",
			flags: []string{"-coverage", "-cvgperinstance", "-assertcover", `-voptargs="+cover=bcfst"`},
			save:  "coverage save -cvg -assert -onexit -codeAll",
		}
	case c.Code:
		return vsimMode{
			name:  "code",
			flags: []string{"-coverage", `-voptargs="+cover=bcfest"`},
			save:  "coverage save -onexit -codeAll",
		}
	case c.Functional:
		return vsimMode{
			name:  "functional",
			flags: []string{"-cvgperinstance", "-assertcover"},
			save:  "coverage save -cvg -assert -onexit",
		}
	default:
		return vsimMode{name: "plain", save: "coverage save -onexit"}
	}
}

// vsimScript is the launch script for one test. The database is named
// after the test so it can be collected without renaming.
func vsimScript(test string, mode vsimMode) string {
	args := []string{"vsim", "-quiet", "-novopt", pipeline.RTLDumpFlag, "-lib", questaLibrary, "-c", "main"}
	args = append(args, mode.flags...)
	do := "run -all; quit"
	if mode.save != "" {
		do = fmt.Sprintf("%s %s.ucdb;%s", mode.save, test, do)
	}
	return fmt.Sprintf("#!/bin/sh\nexec %s -do %q \"$@\"\n", strings.Join(args, " "), do)
}

// fixTestbench writes a copy of sv_top/tb_top.sv with the plugin path
// filled in and returns its location. The plugin tree itself is left
// untouched.
func fixTestbench(pluginDir, simPath string) (string, error) {
	src := filepath.Join(pluginDir, "sv_top", "tb_top.sv")
	data, err := os.ReadFile(src)
	if err != nil {
		return "", appErr.ConfigError(appErr.SourceDirMissing, "testbench %s: %v", src, err)
	}
	fixed := strings.ReplaceAll(string(data), tbPlaceholder, pluginDir+string(filepath.Separator))
	dst := filepath.Join(simPath, "tb_top.sv")
	if err := os.WriteFile(dst, []byte(fixed), 0o644); err != nil {
		return "", appErr.Wrapf(err, appErr.BackendInitFailed, "write %s", dst)
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
