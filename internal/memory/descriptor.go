// Package memory implements the optional memory_provider collaborator
// named in spec.md §4.5/§9: an external source of supplementary task
// context, consulted at most once per driver run. The driver depends only
// on driver.MemoryProvider; this package supplies one concrete
// implementation (a shell-command provider) plus the YAML descriptor that
// configures it.
package memory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Descriptor is the operator-facing config for a memory provider,
// typically loaded from ~/.atom/memory.yaml.
type Descriptor struct {
	// Command is the external executable invoked with the task text on
	// stdin; it must print a JSON object of the form
	// {"text": ..., "score": ...} on stdout.
	Command string `yaml:"command"`

	// Args are passed to Command verbatim.
	Args []string `yaml:"args"`

	// Threshold is the minimum relevance score (inclusive) the driver
	// requires before using this provider's text.
	Threshold float64 `yaml:"threshold"`

	// SchemaPath optionally names a JSON schema file the provider's
	// response must validate against. Empty means no validation.
	SchemaPath string `yaml:"schema_path"`
}

// LoadDescriptor reads and parses a memory provider descriptor file.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading memory descriptor %s: %w", path, err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing memory descriptor %s: %w", path, err)
	}
	if d.Command == "" {
		return nil, fmt.Errorf("memory descriptor %s: command is required", path)
	}
	if d.Threshold == 0 {
		d.Threshold = 0.5
	}
	return &d, nil
}
