// Package model defines the values shared by every stage of a campaign.
package model

import (
	"sort"
	"strings"
)

// TestSpec describes how to compile and simulate one test program.
// Values are never mutated once produced by a test source.
type TestSpec struct {
	Name         string   `yaml:"-" json:"name"`
	WorkDir      string   `yaml:"work_dir" json:"work_dir"`
	ISA          string   `yaml:"isa" json:"isa"`
	March        string   `yaml:"march" json:"march"`
	Mabi         string   `yaml:"mabi" json:"mabi"`
	Compiler     string   `yaml:"cc" json:"cc"`
	CompilerArgs string   `yaml:"cc_args" json:"cc_args"`
	LinkerArgs   string   `yaml:"linker_args" json:"linker_args"`
	LinkerFile   string   `yaml:"linker_file" json:"linker_file"`
	AsmFile      string   `yaml:"asm_file" json:"asm_file"`
	ExtraCompile []string `yaml:"extra_compile,omitempty" json:"extra_compile,omitempty"`
}

// XLEN returns the register width the test targets.
func (t TestSpec) XLEN() int {
	if strings.Contains(t.ISA, "64") {
		return 64
	}
	return 32
}

// Names returns the keys of a test mapping in lexical order.
func Names(tests map[string]TestSpec) []string {
	names := make([]string, 0, len(tests))
	for name := range tests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
