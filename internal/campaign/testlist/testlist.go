// Package testlist loads and saves the declarative test-list document that
// maps each test name to its compile and simulation attributes.
package testlist

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"rvcampaign/internal/campaign/model"
	appErr "rvcampaign/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Required lists the attributes every entry must carry.
var Required = []string{"work_dir", "isa", "march", "mabi", "cc", "linker_file", "asm_file"}

// Load reads a test list from a YAML file.
func Load(path string) (map[string]model.TestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, appErr.ConfigError(appErr.TestListInvalid, "test list %s does not exist", path)
		}
		return nil, appErr.Wrapf(err, appErr.TestListInvalid, "read test list %s", path)
	}
	return Parse(data)
}

// Parse decodes a test-list document. Repeated names are rejected instead
// of silently overwriting each other.
func Parse(data []byte) (map[string]model.TestSpec, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, appErr.Wrapf(err, appErr.TestListInvalid, "parse test list")
	}
	tests := make(map[string]model.TestSpec)
	if len(doc.Content) == 0 {
		return tests, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, appErr.ConfigError(appErr.TestListInvalid, "test list must map test names to attributes (line %d)", root.Line)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		name := key.Value
		if _, ok := tests[name]; ok {
			return nil, appErr.ConfigError(appErr.DuplicateTest, "test %q defined twice (line %d)", name, key.Line).
				WithDetail("test", name)
		}
		if value.Kind != yaml.MappingNode {
			return nil, appErr.ConfigError(appErr.TestListInvalid, "test %q: attributes must be a mapping (line %d)", name, value.Line)
		}
		var spec model.TestSpec
		if err := value.Decode(&spec); err != nil {
			return nil, appErr.Wrapf(err, appErr.TestListInvalid, "test %q", name)
		}
		spec.Name = name
		if err := Validate(spec); err != nil {
			return nil, err
		}
		tests[name] = spec
	}
	return tests, nil
}

// Validate checks that every required attribute is present.
func Validate(spec model.TestSpec) error {
	values := map[string]string{
		"work_dir":    spec.WorkDir,
		"isa":         spec.ISA,
		"march":       spec.March,
		"mabi":        spec.Mabi,
		"cc":          spec.Compiler,
		"linker_file": spec.LinkerFile,
		"asm_file":    spec.AsmFile,
	}
	for _, field := range Required {
		if strings.TrimSpace(values[field]) == "" {
			return appErr.MissingFieldError(spec.Name, field)
		}
	}
	return nil
}

// Merge combines test lists from several sources. A name present in more
// than one source is a configuration error.
func Merge(sources ...map[string]model.TestSpec) (map[string]model.TestSpec, error) {
	merged := make(map[string]model.TestSpec)
	for _, src := range sources {
		for _, name := range model.Names(src) {
			if _, ok := merged[name]; ok {
				return nil, appErr.ConfigError(appErr.DuplicateTest, "test %q provided by more than one source", name).
					WithDetail("test", name)
			}
			merged[name] = src[name]
		}
	}
	return merged, nil
}

// Marshal encodes tests as a YAML document keyed by name.
func Marshal(tests map[string]model.TestSpec) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(tests); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes tests to path, replacing any previous list atomically.
func Save(path string, tests map[string]model.TestSpec) error {
	data, err := Marshal(tests)
	if err != nil {
		return appErr.Wrapf(err, appErr.TestListInvalid, "encode test list")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return appErr.Wrapf(err, appErr.BuildFileFailed, "create %s", filepath.Dir(path))
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".testlist-*")
	if err != nil {
		return appErr.Wrapf(err, appErr.BuildFileFailed, "write %s", path)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return appErr.Wrapf(err, appErr.BuildFileFailed, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return appErr.Wrapf(err, appErr.BuildFileFailed, "write %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return appErr.Wrapf(err, appErr.BuildFileFailed, "write %s", path)
	}
	return nil
}
