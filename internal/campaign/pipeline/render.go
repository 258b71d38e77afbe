package pipeline

import (
	"fmt"
	"strconv"

	"rvcampaign/internal/campaign/model"
	appErr "rvcampaign/pkg/errors"

	"github.com/google/shlex"
)

const (
	// DefaultMemDepth is the elf2hex depth for the chromite memory map.
	DefaultMemDepth = 4194304
	// DefaultMemBase is the load address of the test image.
	DefaultMemBase = 2147483648
	// RTLDumpFlag makes the simulator write its commit log to rtl.dump.
	RTLDumpFlag = "+rtldump"
)

// Toolchain holds the target-independent conversion tools.
type Toolchain struct {
	Objdump  string `yaml:"objdump"`  // empty selects riscv<xlen>-unknown-elf-objdump
	Elf2Hex  string `yaml:"elf2hex"`  // defaults to elf2hex
	MemDepth int    `yaml:"memDepth"` // defaults to DefaultMemDepth
	MemBase  uint64 `yaml:"memBase"`  // defaults to DefaultMemBase
}

// Simulator describes how a backend runs one test.
type Simulator struct {
	Binary    string   // run as ./Binary from the work dir
	Args      []string // placed before the dump flag
	SideFiles []string // symlinked into the work dir before simulation
	// TrimTrailing drops that many trailing lines of the raw dump.
	// Zero renames the raw dump instead.
	TrimTrailing int
	Debug        bool
}

func (tc Toolchain) objdump(xlen int) string {
	if tc.Objdump != "" {
		return tc.Objdump
	}
	return fmt.Sprintf("riscv%d-unknown-elf-objdump", xlen)
}

func (tc Toolchain) elf2hex() string {
	if tc.Elf2Hex != "" {
		return tc.Elf2Hex
	}
	return "elf2hex"
}

func (tc Toolchain) memDepth() int {
	if tc.MemDepth > 0 {
		return tc.MemDepth
	}
	return DefaultMemDepth
}

func (tc Toolchain) memBase() uint64 {
	if tc.MemBase > 0 {
		return tc.MemBase
	}
	return DefaultMemBase
}

// Render builds the pipeline for one test. It is pure: equal inputs always
// give equal pipelines.
func Render(test model.TestSpec, tc Toolchain, sim Simulator) (Pipeline, error) {
	if test.Name == "" {
		return Pipeline{}, appErr.ValidationError("name", "test name is required")
	}
	compile, err := compileArgs(test)
	if err != nil {
		return Pipeline{}, err
	}
	xlen := test.XLEN()

	stages := []Stage{
		{Name: StageChdir, Args: []string{"cd", test.WorkDir}},
		{Name: StageCompile, Args: compile},
		{Name: StageDisassemble, Args: []string{tc.objdump(xlen), "-D", model.ElfFile}, Stdout: model.DisassFile},
		{
			Name: StageMemImage,
			Args: []string{
				tc.elf2hex(),
				strconv.Itoa(xlen / 8),
				strconv.Itoa(tc.memDepth()),
				model.ElfFile,
				strconv.FormatUint(tc.memBase(), 10),
			},
			Stdout: model.MemImageFile,
		},
	}

	if len(sim.SideFiles) > 0 {
		// ln -f keeps the stage idempotent when the links already exist.
		args := append([]string{"ln", "-f", "-s"}, sim.SideFiles...)
		stages = append(stages, Stage{Name: StageLink, Args: append(args, ".")})
	}

	simArgs := append([]string{"./" + sim.Binary}, sim.Args...)
	simStage := Stage{Name: StageSimulate, Args: append(simArgs, RTLDumpFlag)}
	if !sim.Debug {
		simStage.Stdout = DevNull
	}
	stages = append(stages, simStage)

	if sim.TrimTrailing > 0 {
		stages = append(stages,
			Stage{
				Name:   StagePostprocess,
				Args:   []string{"head", "-n", "-" + strconv.Itoa(sim.TrimTrailing), model.RawDumpFile},
				Stdout: model.DumpFile,
			},
			Stage{Name: StagePostprocess, Args: []string{"rm", "-f", model.RawDumpFile}},
		)
	} else {
		stages = append(stages, Stage{Name: StagePostprocess, Args: []string{"mv", model.RawDumpFile, model.DumpFile}})
	}

	return Pipeline{Target: test.Name, WorkDir: test.WorkDir, Stages: stages}, nil
}

func compileArgs(test model.TestSpec) ([]string, error) {
	ccArgs, err := shlex.Split(test.CompilerArgs)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TestListInvalid, "test %q: parse cc_args", test.Name)
	}
	linkArgs, err := shlex.Split(test.LinkerArgs)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TestListInvalid, "test %q: parse linker_args", test.Name)
	}

	args := []string{test.Compiler}
	args = append(args, ccArgs...)
	args = append(args, "-march="+test.March, "-mabi="+test.Mabi)
	args = append(args, linkArgs...)
	args = append(args, test.LinkerFile, test.AsmFile)
	args = append(args, test.ExtraCompile...)
	return append(args, "-o", model.ElfFile), nil
}
