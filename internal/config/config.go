// Package config loads atomloop's on-disk TOML configuration and compiles
// the JSON schemas used to validate memory-provider payloads.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atomloop/atomloop/internal/driver"
	"github.com/atomloop/atomloop/internal/retry"
)

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// RuntimeConfig is the on-disk shape of atomloop's tunables, loaded from
// .atom/atom.toml (project scope) or ~/.atom/config.toml (user scope).
type RuntimeConfig struct {
	MaxIterations int    `toml:"max_iterations"`
	ExitSignal    string `toml:"exit_signal"`
	Cleanup       bool   `toml:"cleanup"`
	Verbose       string `toml:"verbose"` // "auto" | "on" | "off"
	AgentPath     string `toml:"agent_path"`

	Retry  RetryConfig  `toml:"retry"`
	Memory MemoryConfig `toml:"memory"`
}

// RetryConfig mirrors retry.Policy in TOML-friendly (integer-seconds)
// form.
type RetryConfig struct {
	NetworkKeywords       []string `toml:"network_keywords"`
	SessionLimitBufferS   int      `toml:"session_limit_buffer_seconds"`
	SessionLimitFallbackS int      `toml:"session_limit_fallback_seconds"`
	NetworkBaseS          int      `toml:"network_base_seconds"`
	NetworkCapS           int      `toml:"network_cap_seconds"`
	OtherBaseS            int      `toml:"other_base_seconds"`
	OtherCapS             int      `toml:"other_cap_seconds"`
}

// MemoryConfig configures the optional memory provider described in
// SPEC_FULL.md's domain stack: a YAML descriptor naming which provider to
// load and the relevance threshold above which its context is used.
type MemoryConfig struct {
	Enabled        bool    `toml:"enabled"`
	Threshold      float64 `toml:"threshold"`
	DescriptorPath string  `toml:"descriptor_path"`
}

// Default returns the built-in defaults, matching RuntimeConfig's
// zero-value resolution in package driver.
func Default() RuntimeConfig {
	return RuntimeConfig{
		MaxIterations: 25,
		ExitSignal:    "EXIT_LOOP_NOW",
		Verbose:       "auto",
		AgentPath:     "claude",
		Memory:        MemoryConfig{Threshold: 0.5},
	}
}

// Load reads and parses the TOML file at path, filling in defaults for
// any field left at its zero value.
func Load(path string) (RuntimeConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 25
	}
	if cfg.ExitSignal == "" {
		cfg.ExitSignal = "EXIT_LOOP_NOW"
	}
	if cfg.AgentPath == "" {
		cfg.AgentPath = "claude"
	}
	return cfg, nil
}

// VerboseMode translates the TOML string into driver.VerboseMode.
func (c RuntimeConfig) VerboseMode() driver.VerboseMode {
	switch c.Verbose {
	case "on", "true":
		return driver.VerboseOn
	case "off", "false":
		return driver.VerboseOff
	default:
		return driver.VerboseAuto
	}
}

// RetryPolicy translates RetryConfig into retry.Policy, falling back to
// retry.DefaultPolicy for any field left unset.
func (c RetryConfig) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if len(c.NetworkKeywords) > 0 {
		p.NetworkKeywords = c.NetworkKeywords
	}
	if c.SessionLimitBufferS > 0 {
		p.SessionLimitBuffer = secondsToDuration(c.SessionLimitBufferS)
	}
	if c.SessionLimitFallbackS > 0 {
		p.SessionLimitFallback = secondsToDuration(c.SessionLimitFallbackS)
	}
	if c.NetworkBaseS > 0 {
		p.NetworkBase = secondsToDuration(c.NetworkBaseS)
	}
	if c.NetworkCapS > 0 {
		p.NetworkCap = secondsToDuration(c.NetworkCapS)
	}
	if c.OtherBaseS > 0 {
		p.OtherBase = secondsToDuration(c.OtherBaseS)
	}
	if c.OtherCapS > 0 {
		p.OtherCap = secondsToDuration(c.OtherCapS)
	}
	return p
}

// LoadSchema loads and compiles a JSON schema rooted at baseDir, used to
// validate a memory provider's returned payload before it is trusted.
func LoadSchema(baseDir, schemaPath string) (*jsonschema.Schema, error) {
	fullPath := filepath.Join(baseDir, schemaPath)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", schemaPath, err)
	}

	return schema, nil
}

// ValidateJSON validates data against schema.
func ValidateJSON(schema *jsonschema.Schema, data any) error {
	if err := schema.Validate(data); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
