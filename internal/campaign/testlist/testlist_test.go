package testlist_test

import (
	"path/filepath"
	"testing"

	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/campaign/testlist"
	appErr "rvcampaign/pkg/errors"

	"github.com/google/go-cmp/cmp"
)

const sample = `
add_test:
  work_dir: /tmp/out/add_test
  isa: rv64imac
  march: rv64imac
  mabi: lp64
  cc: riscv64-unknown-elf-gcc
  cc_args: -static -O2
  linker_args: -nostdlib -T
  linker_file: /tmp/out/add_test/add_test.ld
  asm_file: /tmp/out/add_test/add_test.S
  extra_compile:
    - /tmp/out/common/crt.S
mul_test:
  work_dir: /tmp/out/mul_test
  isa: rv32im
  march: rv32im
  mabi: ilp32
  cc: riscv32-unknown-elf-gcc
  linker_file: mul.ld
  asm_file: mul.S
`

func TestParse(t *testing.T) {
	tests, err := testlist.Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := model.TestSpec{
		Name:         "add_test",
		WorkDir:      "/tmp/out/add_test",
		ISA:          "rv64imac",
		March:        "rv64imac",
		Mabi:         "lp64",
		Compiler:     "riscv64-unknown-elf-gcc",
		CompilerArgs: "-static -O2",
		LinkerArgs:   "-nostdlib -T",
		LinkerFile:   "/tmp/out/add_test/add_test.ld",
		AsmFile:      "/tmp/out/add_test/add_test.S",
		ExtraCompile: []string{"/tmp/out/common/crt.S"},
	}
	if diff := cmp.Diff(want, tests["add_test"]); diff != "" {
		t.Fatalf("add_test mismatch (-want +got):\n%s", diff)
	}
	if got := model.Names(tests); !cmp.Equal(got, []string{"add_test", "mul_test"}) {
		t.Fatalf("names = %v", got)
	}
}

func TestParseMissingField(t *testing.T) {
	doc := `
t1:
  work_dir: /w
  isa: rv64i
  march: rv64i
  mabi: lp64
  cc: gcc
  linker_file: a.ld
`
	_, err := testlist.Parse([]byte(doc))
	if !appErr.Is(err, appErr.TestListInvalid) {
		t.Fatalf("expected TestListInvalid, got %v", err)
	}
	e := appErr.GetError(err)
	if e.Details["test"] != "t1" || e.Details["field"] != "asm_file" {
		t.Fatalf("details = %v", e.Details)
	}
	if !appErr.IsConfiguration(err) {
		t.Fatal("missing field must be a configuration error")
	}
}

func TestParseDuplicateName(t *testing.T) {
	doc := `
t1: {work_dir: a, isa: rv64i, march: rv64i, mabi: lp64, cc: gcc, linker_file: l, asm_file: s}
t1: {work_dir: b, isa: rv64i, march: rv64i, mabi: lp64, cc: gcc, linker_file: l, asm_file: s}
`
	if _, err := testlist.Parse([]byte(doc)); !appErr.Is(err, appErr.DuplicateTest) {
		t.Fatalf("expected DuplicateTest, got %v", err)
	}
}

func TestParseRejectsNonMapping(t *testing.T) {
	if _, err := testlist.Parse([]byte("- a\n- b\n")); !appErr.Is(err, appErr.TestListInvalid) {
		t.Fatalf("expected TestListInvalid, got %v", err)
	}
	tests, err := testlist.Parse(nil)
	if err != nil || len(tests) != 0 {
		t.Fatalf("empty document: %v %v", tests, err)
	}
}

func TestMergeDuplicate(t *testing.T) {
	a := map[string]model.TestSpec{"x": {Name: "x"}}
	b := map[string]model.TestSpec{"y": {Name: "y"}, "x": {Name: "x"}}
	if _, err := testlist.Merge(a, b); !appErr.Is(err, appErr.DuplicateTest) {
		t.Fatalf("expected DuplicateTest, got %v", err)
	}
	merged, err := testlist.Merge(a, map[string]model.TestSpec{"y": {Name: "y"}})
	if err != nil || len(merged) != 2 {
		t.Fatalf("Merge = %v, %v", merged, err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tests, err := testlist.Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	path := filepath.Join(t.TempDir(), "lists", "test_list.yaml")
	if err := testlist.Save(path, tests); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := testlist.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(tests, loaded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := testlist.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !appErr.IsConfiguration(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
