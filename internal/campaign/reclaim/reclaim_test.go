package reclaim_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/campaign/reclaim"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func TestReclaimKeepsDatabase(t *testing.T) {
	root := t.TempDir()
	passed := filepath.Join(root, "a")
	failed := filepath.Join(root, "b")
	for _, dir := range []string{passed, failed} {
		for _, f := range []string{"app_log", "code.mem", "dut.disass", "dut.dump", "signature", "dut.elf"} {
			touch(t, filepath.Join(dir, f))
		}
	}
	db := filepath.Join(passed, "coverage", "a.ucdb")
	touch(t, db)
	touch(t, filepath.Join(passed, "coverage", "index.html"))
	touch(t, filepath.Join(passed, "coverage", "a_html", "files", "x.html"))

	results := map[string]model.ExecutionResult{
		"a": {Target: "a", Status: model.StatusPassed, WorkDir: passed},
		"b": {Target: "b", Status: model.StatusFailed, WorkDir: failed},
	}
	stats := reclaim.Reclaim(context.Background(), results, true)

	if !exists(db) {
		t.Fatal("coverage database was removed")
	}
	for _, f := range []string{"app_log", "code.mem", "dut.disass", "dut.dump", "signature"} {
		if exists(filepath.Join(passed, f)) {
			t.Fatalf("%s survived reclaim", f)
		}
		if !exists(filepath.Join(failed, f)) {
			t.Fatalf("%s removed from a failed test", f)
		}
	}
	if !exists(filepath.Join(passed, "dut.elf")) {
		t.Fatal("dut.elf is not a reclaimable artifact")
	}
	if exists(filepath.Join(passed, "coverage", "index.html")) || exists(filepath.Join(passed, "coverage", "a_html")) {
		t.Fatal("non-database coverage entries survived")
	}
	if stats.Tests != 1 || stats.Removed != 7 || stats.Warnings != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestReclaimToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "code.mem"))
	results := map[string]model.ExecutionResult{
		"a": {Target: "a", Status: model.StatusPassed, WorkDir: dir},
	}

	stats := reclaim.Reclaim(context.Background(), results, true)
	if stats.Removed != 1 || stats.Warnings != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if exists(filepath.Join(dir, "code.mem")) {
		t.Fatal("code.mem survived")
	}
	// A second pass finds nothing to do and still does not fail.
	if again := reclaim.Reclaim(context.Background(), results, true); again.Removed != 0 {
		t.Fatalf("second pass = %+v", again)
	}
}

func TestReclaimDisabled(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "app_log"))
	results := map[string]model.ExecutionResult{
		"a": {Target: "a", Status: model.StatusPassed, WorkDir: dir},
	}
	if stats := reclaim.Reclaim(context.Background(), results, false); stats.Tests != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if !exists(filepath.Join(dir, "app_log")) {
		t.Fatal("disabled reclaim removed files")
	}
}
