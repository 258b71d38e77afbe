// Package graph turns a test mapping into independent build targets and the
// Makefile that runs them with a fixed job count.
package graph

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"rvcampaign/internal/campaign/model"
	"rvcampaign/internal/campaign/pipeline"
	appErr "rvcampaign/pkg/errors"
)

// AllTarget is the phony target depending on every test target.
const AllTarget = "all"

// RenderFunc renders one test into its pipeline.
type RenderFunc func(model.TestSpec) (pipeline.Pipeline, error)

// Target is one test's independent unit of work.
type Target struct {
	Name     string
	WorkDir  string
	Pipeline pipeline.Pipeline
}

// Graph is an ordered set of uniquely named targets.
type Graph struct {
	Jobs    int
	Targets []Target
	index   map[string]int
}

// Build renders every test and registers it under its name.
// Targets are ordered by name so the same mapping always yields the same graph.
func Build(tests map[string]model.TestSpec, render RenderFunc, jobs int) (*Graph, []string, error) {
	if render == nil {
		return nil, nil, appErr.ValidationError("render", "render function is required")
	}
	if jobs < 1 {
		jobs = 1
	}

	g := &Graph{Jobs: jobs, index: make(map[string]int, len(tests))}
	folded := make(map[string]string, len(tests))

	for _, name := range model.Names(tests) {
		if err := validName(name); err != nil {
			return nil, nil, err
		}
		// Target names double as file names, so case-only differences collide.
		key := strings.ToLower(name)
		if other, ok := folded[key]; ok {
			return nil, nil, appErr.ConfigError(appErr.DuplicateTest, "duplicate test name %q collides with %q", name, other).
				WithDetail("test", name)
		}
		folded[key] = name

		test := tests[name]
		test.Name = name
		p, err := render(test)
		if err != nil {
			return nil, nil, err
		}
		g.index[name] = len(g.Targets)
		g.Targets = append(g.Targets, Target{Name: name, WorkDir: test.WorkDir, Pipeline: p})
	}

	return g, g.Names(), nil
}

func validName(name string) error {
	switch {
	case name == "":
		return appErr.ConfigError(appErr.TestListInvalid, "test name is empty")
	case strings.EqualFold(name, AllTarget):
		return appErr.ConfigError(appErr.DuplicateTest, "test name %q collides with the %q target", name, AllTarget)
	case strings.ContainsAny(name, " \t\n:#=$%/\\"):
		return appErr.ConfigError(appErr.TestListInvalid, "test name %q is not a valid target name", name)
	}
	return nil
}

// Names returns the target names in graph order.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.Targets))
	for _, t := range g.Targets {
		names = append(names, t.Name)
	}
	return names
}

// Len returns the number of targets.
func (g *Graph) Len() int {
	return len(g.Targets)
}

// Target looks a target up by name.
func (g *Graph) Target(name string) (Target, bool) {
	i, ok := g.index[name]
	if !ok {
		return Target{}, false
	}
	return g.Targets[i], true
}

// Filter keeps the targets whose name matches the glob pattern.
// An empty pattern keeps every target.
func (g *Graph) Filter(pattern string) (*Graph, error) {
	if pattern == "" {
		return g, nil
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, appErr.ConfigError(appErr.ConfigInvalid, "invalid filter %q: %v", pattern, err)
	}
	out := &Graph{Jobs: g.Jobs, index: make(map[string]int)}
	for _, t := range g.Targets {
		if ok, _ := path.Match(pattern, t.Name); ok {
			out.index[t.Name] = len(out.Targets)
			out.Targets = append(out.Targets, t)
		}
	}
	return out, nil
}

// Makefile renders the backing build file. The output depends only on the
// graph, so rebuilding from the same tests gives byte-identical content.
func (g *Graph) Makefile() []byte {
	var buf bytes.Buffer
	buf.WriteString("# Generated by rvcampaign. Do not edit.\n")
	fmt.Fprintf(&buf, "MAKEFLAGS += -j%d\n\n", g.Jobs)

	names := g.Names()
	fmt.Fprintf(&buf, ".PHONY: %s\n\n", strings.Join(append([]string{AllTarget}, names...), " "))
	fmt.Fprintf(&buf, "%s: %s\n", AllTarget, strings.Join(names, " "))

	for _, t := range g.Targets {
		fmt.Fprintf(&buf, "\n%s:\n\t%s\n", t.Name, escapeRecipe(t.Pipeline.Shell()))
	}
	return buf.Bytes()
}

// escapeRecipe protects "$" from make variable expansion.
func escapeRecipe(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

// WriteFile writes the Makefile through a temp file and rename so readers
// never see a partial file.
func (g *Graph) WriteFile(dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.BuildFileFailed, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return appErr.Wrapf(err, appErr.BuildFileFailed, "create temp build file")
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(g.Makefile()); err != nil {
		_ = tmp.Close()
		return appErr.Wrapf(err, appErr.BuildFileFailed, "write %s", dest)
	}
	if err := tmp.Close(); err != nil {
		return appErr.Wrapf(err, appErr.BuildFileFailed, "close %s", dest)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return appErr.Wrapf(err, appErr.BuildFileFailed, "chmod %s", dest)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return appErr.Wrapf(err, appErr.BuildFileFailed, "rename %s", dest)
	}
	return nil
}

// FileName returns the conventional build file name for a backend.
func FileName(backend string) string {
	return "Makefile." + backend
}
