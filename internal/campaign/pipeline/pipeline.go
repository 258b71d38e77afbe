// Package pipeline renders one test into the ordered, success-gated stages
// that compile it, convert it for the simulator, simulate it and
// post-process the dump.
package pipeline

import (
	"strings"

	"github.com/kballard/go-shellquote"
)

// Stage names, in execution order.
const (
	StageChdir       = "chdir"
	StageCompile     = "compile"
	StageDisassemble = "disassemble"
	StageMemImage    = "memimage"
	StageLink        = "stage"
	StageSimulate    = "simulate"
	StagePostprocess = "postprocess"
)

// DevNull discards a stage's stdout.
const DevNull = "/dev/null"

// Stage is one command of a pipeline. Stdout, when set, names the file the
// command's standard output is redirected to, relative to the work dir.
type Stage struct {
	Name   string   `json:"name"`
	Args   []string `json:"args"`
	Stdout string   `json:"stdout,omitempty"`
}

// Shell renders the stage as a shell command.
func (s Stage) Shell() string {
	cmd := shellquote.Join(s.Args...)
	if s.Stdout != "" {
		cmd += " > " + shellquote.Join(s.Stdout)
	}
	return cmd
}

// Pipeline is the unit of work for one build target.
// Stage N+1 runs only when stage N exits zero.
type Pipeline struct {
	Target  string  `json:"target"`
	WorkDir string  `json:"work_dir"`
	Stages  []Stage `json:"stages"`
}

// Shell joins every stage with "&&" so the first failure stops the target.
func (p Pipeline) Shell() string {
	parts := make([]string, 0, len(p.Stages))
	for _, s := range p.Stages {
		parts = append(parts, s.Shell())
	}
	return strings.Join(parts, " && ")
}

// StageNames lists the stage names in order.
func (p Pipeline) StageNames() []string {
	names := make([]string, 0, len(p.Stages))
	for _, s := range p.Stages {
		names = append(names, s.Name)
	}
	return names
}

// Index returns the position of the first stage called name, or -1.
func (p Pipeline) Index(name string) int {
	for i, s := range p.Stages {
		if s.Name == name {
			return i
		}
	}
	return -1
}
