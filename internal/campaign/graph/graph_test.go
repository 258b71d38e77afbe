package graph_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rvcampaign/internal/campaign/graph"
	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/campaign/pipeline"
	appErr "rvcampaign/pkg/errors"

	"github.com/google/go-cmp/cmp"
)

func render(test model.TestSpec) (pipeline.Pipeline, error) {
	return pipeline.Render(test, pipeline.Toolchain{}, pipeline.Simulator{Binary: "chromite_core"})
}

func testSet(names ...string) map[string]model.TestSpec {
	tests := make(map[string]model.TestSpec, len(names))
	for _, name := range names {
		tests[name] = model.TestSpec{
			WorkDir:    "/w/" + name,
			ISA:        "RV64IMAC",
			March:      "rv64imac",
			Mabi:       "lp64",
			Compiler:   "riscv64-unknown-elf-gcc",
			LinkerArgs: "-T",
			LinkerFile: name + ".ld",
			AsmFile:    name + ".S",
		}
	}
	return tests
}

func TestBuildOneTargetPerTest(t *testing.T) {
	g, names, err := graph.Build(testSet("c", "a", "b"), render, 4)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, names); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	if g.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", g.Len())
	}
	target, ok := g.Target("b")
	if !ok || target.Pipeline.Target != "b" || target.WorkDir != "/w/b" {
		t.Fatalf("unexpected target: %+v", target)
	}
}

func TestBuildIsByteIdentical(t *testing.T) {
	first, _, err := graph.Build(testSet("t1", "t2", "t3"), render, 8)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, _, _ := graph.Build(testSet("t3", "t1", "t2"), render, 8)
		if !bytes.Equal(first.Makefile(), again.Makefile()) {
			t.Fatal("Makefile differs between identical builds")
		}
	}

	mk := string(first.Makefile())
	for _, want := range []string{
		"MAKEFLAGS += -j8\n",
		".PHONY: all t1 t2 t3\n",
		"all: t1 t2 t3\n",
		"\nt2:\n\tcd /w/t2 && riscv64-unknown-elf-gcc",
	} {
		if !strings.Contains(mk, want) {
			t.Fatalf("Makefile missing %q:\n%s", want, mk)
		}
	}
}

func TestBuildRejectsCollisions(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]model.TestSpec
		code  appErr.ErrorCode
	}{
		{"case folded", testSet("Add", "add"), appErr.DuplicateTest},
		{"all target", testSet("all"), appErr.DuplicateTest},
		{"bad character", testSet("a:b"), appErr.TestListInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := graph.Build(tt.input, render, 1)
			if !appErr.Is(err, tt.code) {
				t.Fatalf("expected %v, got %v", tt.code, err)
			}
			if !appErr.IsConfiguration(err) {
				t.Fatalf("expected a configuration error, got %v", err)
			}
		})
	}
}

func TestBuildEscapesDollar(t *testing.T) {
	tests := testSet("t1")
	spec := tests["t1"]
	spec.CompilerArgs = "-DHOME=$HOME"
	tests["t1"] = spec

	g, _, err := graph.Build(tests, render, 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(string(g.Makefile()), "$$HOME") {
		t.Fatalf("dollar not escaped:\n%s", g.Makefile())
	}
}

func TestFilter(t *testing.T) {
	g, _, err := graph.Build(testSet("aapg_1", "aapg_2", "smoke"), render, 2)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	filtered, err := g.Filter("aapg_*")
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if diff := cmp.Diff([]string{"aapg_1", "aapg_2"}, filtered.Names()); diff != "" {
		t.Fatalf("filtered names (-want +got):\n%s", diff)
	}
	if _, ok := filtered.Target("smoke"); ok {
		t.Fatal("smoke should be filtered out")
	}
	if _, err := g.Filter("[a-"); !appErr.Is(err, appErr.ConfigInvalid) {
		t.Fatalf("expected ConfigInvalid for bad pattern, got %v", err)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	g, _, err := graph.Build(testSet("t1"), render, 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	dir := t.TempDir()
	dest := filepath.Join(dir, graph.FileName("verilator"))
	if err := g.WriteFile(dest); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, g.Makefile()) {
		t.Fatal("written file differs from Makefile()")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}
