package pipeline_test

import (
	"strings"
	"testing"

	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/campaign/pipeline"
	appErr "rvcampaign/pkg/errors"

	"github.com/google/go-cmp/cmp"
)

func sampleTest() model.TestSpec {
	return model.TestSpec{
		Name:         "aapg_1",
		WorkDir:      "/w/aapg_1",
		ISA:          "RV64IMAC",
		March:        "rv64imac",
		Mabi:         "lp64",
		Compiler:     "riscv64-unknown-elf-gcc",
		CompilerArgs: " -mcmodel=medany -static -O2 ",
		LinkerArgs:   "-static -nostdlib -T",
		LinkerFile:   "/w/aapg_1/aapg_1.ld",
		AsmFile:      "/w/aapg_1/aapg_1.S",
		ExtraCompile: []string{"/w/common/crt.S"},
	}
}

func TestRenderVerilatorStyle(t *testing.T) {
	p, err := pipeline.Render(sampleTest(), pipeline.Toolchain{}, pipeline.Simulator{
		Binary:    "chromite_core",
		SideFiles: []string{"/sim/chromite_core", "/sim/boot.mem"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	want := "cd /w/aapg_1" +
		" && riscv64-unknown-elf-gcc -mcmodel=medany -static -O2 -march=rv64imac -mabi=lp64 -static -nostdlib -T /w/aapg_1/aapg_1.ld /w/aapg_1/aapg_1.S /w/common/crt.S -o dut.elf" +
		" && riscv64-unknown-elf-objdump -D dut.elf > dut.disass" +
		" && elf2hex 8 4194304 dut.elf 2147483648 > code.mem" +
		" && ln -f -s /sim/chromite_core /sim/boot.mem ." +
		" && ./chromite_core +rtldump > /dev/null" +
		" && mv rtl.dump dut.dump"
	if got := p.Shell(); got != want {
		t.Fatalf("Shell() mismatch:\n got: %s\nwant: %s", got, want)
	}

	wantStages := []string{"chdir", "compile", "disassemble", "memimage", "stage", "simulate", "postprocess"}
	if diff := cmp.Diff(wantStages, p.StageNames()); diff != "" {
		t.Fatalf("stage order (-want +got):\n%s", diff)
	}
}

func TestRenderTrimsTrailingLines(t *testing.T) {
	test := sampleTest()
	test.ISA = "RV32IMC"
	p, err := pipeline.Render(test, pipeline.Toolchain{}, pipeline.Simulator{
		Binary:       "chromite_core_aapg_1",
		TrimTrailing: 4,
		Debug:        true,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	shell := p.Shell()
	for _, want := range []string{
		"riscv32-unknown-elf-objdump -D dut.elf > dut.disass",
		"elf2hex 4 4194304 dut.elf 2147483648 > code.mem",
		"./chromite_core_aapg_1 +rtldump && head -n -4 rtl.dump > dut.dump && rm -f rtl.dump",
	} {
		if !strings.Contains(shell, want) {
			t.Fatalf("missing %q in %s", want, shell)
		}
	}
	if p.Index(pipeline.StageLink) != -1 {
		t.Fatal("no side files should mean no link stage")
	}
}

func TestRenderIsPure(t *testing.T) {
	sim := pipeline.Simulator{Binary: "sim", SideFiles: []string{"/a b/boot.mem"}}
	tc := pipeline.Toolchain{Elf2Hex: "/opt/elf2hex", MemDepth: 1024, MemBase: 4096}
	first, err := pipeline.Render(sampleTest(), tc, sim)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	second, _ := pipeline.Render(sampleTest(), tc, sim)
	if first.Shell() != second.Shell() {
		t.Fatal("rendering the same test twice differs")
	}
	if !strings.Contains(first.Shell(), "'/a b/boot.mem'") {
		t.Fatalf("side file with a space is not quoted: %s", first.Shell())
	}
	if !strings.Contains(first.Shell(), "/opt/elf2hex 8 1024 dut.elf 4096") {
		t.Fatalf("toolchain overrides ignored: %s", first.Shell())
	}
}

func TestRenderRejectsBadArgs(t *testing.T) {
	test := sampleTest()
	test.CompilerArgs = `-DX="unterminated`
	_, err := pipeline.Render(test, pipeline.Toolchain{}, pipeline.Simulator{Binary: "sim"})
	if !appErr.Is(err, appErr.TestListInvalid) {
		t.Fatalf("expected TestListInvalid, got %v", err)
	}
}
