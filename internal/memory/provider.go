package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/atomloop/atomloop/internal/config"
)

// payload is the JSON shape a memory provider command must print on
// stdout.
type payload struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// ShellProvider implements driver.MemoryProvider by running an external
// command with the task text on stdin and parsing a JSON response from
// its stdout, grounded on the teacher's config.LoadSchema/ValidateJSON
// pairing (there repurposed from validating phase-control JSON to
// validating this payload).
type ShellProvider struct {
	Descriptor Descriptor
}

// NewShellProvider wraps d as a driver.MemoryProvider.
func NewShellProvider(d Descriptor) *ShellProvider {
	return &ShellProvider{Descriptor: d}
}

// Relevant implements driver.MemoryProvider.
func (p *ShellProvider) Relevant(taskText string) (string, float64, error) {
	cmd := exec.Command(p.Descriptor.Command, p.Descriptor.Args...)
	cmd.Stdin = bytes.NewBufferString(taskText)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", 0, fmt.Errorf("memory provider %s: %w (stderr: %s)", p.Descriptor.Command, err, stderr.String())
	}

	var raw any
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return "", 0, fmt.Errorf("memory provider %s: invalid JSON response: %w", p.Descriptor.Command, err)
	}

	if p.Descriptor.SchemaPath != "" {
		schema, err := config.LoadSchema("", p.Descriptor.SchemaPath)
		if err != nil {
			return "", 0, fmt.Errorf("memory provider %s: %w", p.Descriptor.Command, err)
		}
		if err := config.ValidateJSON(schema, raw); err != nil {
			return "", 0, fmt.Errorf("memory provider %s: %w", p.Descriptor.Command, err)
		}
	}

	var pl payload
	if err := json.Unmarshal(stdout.Bytes(), &pl); err != nil {
		return "", 0, fmt.Errorf("memory provider %s: decoding payload: %w", p.Descriptor.Command, err)
	}

	return pl.Text, pl.Score, nil
}
