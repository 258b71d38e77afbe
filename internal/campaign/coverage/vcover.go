package coverage

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"rvcampaign/internal/campaign/model"
)

// CommandRunner runs an external tool and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, truncate(string(out), 512))
	}
	return out, nil
}

// VcoverTool drives Questa's vcover over UCDB databases. The rank file it
// produces is opaque, so Rank returns no structured entries.
type VcoverTool struct {
	Binary string
	Runner CommandRunner
}

func (t VcoverTool) bin() string {
	if t.Binary != "" {
		return t.Binary
	}
	return "vcover"
}

func (t VcoverTool) run(ctx context.Context, dir string, args ...string) error {
	runner := t.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	_, err := runner.Run(ctx, dir, t.bin(), args...)
	return err
}

func (VcoverTool) Name() string                  { return "vcover" }
func (VcoverTool) Ext() string                   { return ".ucdb" }
func (VcoverTool) SourceFile(test string) string { return test + ".ucdb" }
func (VcoverTool) MergedFile() string            { return "merged_ucdb.ucdb" }

// Validate only checks that the database is a readable, non-empty file.
func (VcoverTool) Validate(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	buf := make([]byte, 1)
	if _, err := f.Read(buf); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%s is empty", path)
		}
		return err
	}
	return nil
}

func (t VcoverTool) Merge(ctx context.Context, inputs []Input, out string) (Merged, error) {
	dir := filepath.Dir(out)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Merged{}, err
	}
	args := []string{"merge", "-testassociated", "-outputstore", dir, "-out", out}
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		args = append(args, in.Path)
		ids = append(ids, in.ID)
	}
	if err := t.run(ctx, dir, args...); err != nil {
		return Merged{}, err
	}
	return Merged{Path: out, Inputs: ids}, nil
}

func (t VcoverTool) Report(ctx context.Context, merged Merged, htmlDir string) (string, error) {
	if err := t.TestReport(ctx, merged.Path, htmlDir); err != nil {
		return "", err
	}
	return filepath.Join(htmlDir, "index.html"), nil
}

func (t VcoverTool) TestReport(ctx context.Context, db string, htmlDir string) error {
	if err := os.MkdirAll(htmlDir, 0o755); err != nil {
		return err
	}
	return t.run(ctx, filepath.Dir(db),
		"report", "-cvg", "-assert", "-code", "bcefst", "-details", "-html", "-htmldir", htmlDir, "-verbose", db)
}

func (t VcoverTool) Rank(ctx context.Context, inputs []Input, merged Merged, rankFile string) ([]model.RankEntry, error) {
	dir := filepath.Dir(rankFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	args := []string{"ranktest", "-64", "-assertion", "-codeAll", "-cvg", "-directive", "-rankfile", rankFile}
	for _, in := range inputs {
		args = append(args, in.Path)
	}
	return nil, t.run(ctx, dir, args...)
}

func (t VcoverTool) RankReport(ctx context.Context, rankFile string, entries []model.RankEntry, htmlDir string) (string, error) {
	if err := os.MkdirAll(htmlDir, 0o755); err != nil {
		return "", err
	}
	err := t.run(ctx, filepath.Dir(rankFile),
		"report", "-html", "-rank", rankFile, "-details=abcdefgpst", "-htmldir", htmlDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(htmlDir, "rank.html"), nil
}

// ToolByName returns the coverage tool registered under name.
func ToolByName(name string) (Tool, bool) {
	switch name {
	case "", nativeName, "verilator":
		return NativeTool{}, true
	case "vcover", "questa":
		return VcoverTool{}, true
	}
	return nil, false
}
