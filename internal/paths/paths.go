// Package paths resolves the user- and project-scoped directory layout
// atomloop reads prompts and configuration from.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	AppName    = "atomloop"
	ConfigDir  = ".atom"
	ProjectDir = ".atom"

	// EnvPromptDir names the environment variable an operator can set to add
	// one more directory to the prompt search path (spec §4.1, §6).
	EnvPromptDir = "ATOM_PROMPT_DIR"
)

// Paths holds resolved paths for the application.
type Paths struct {
	// User-level paths (~/.atom/) — global config and defaults.
	UserDir     string // ~/.atom
	UserConfig  string // ~/.atom/config.toml
	UserBin     string // ~/.atom/bin
	UserTools   string // ~/.atom/tools
	UserPrompts string // ~/.atom/prompts

	// Project-level paths (<cwd>/.atom/) — project-scoped overrides.
	ProjectDir     string // <cwd>/.atom (may not exist)
	ProjectConfig  string // <cwd>/.atom/atom.toml
	ProjectPrompts string // <cwd>/.atom/prompts

	// Working directory.
	WorkDir string
}

// Resolve determines all paths based on the current working directory.
func Resolve() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	userDir := filepath.Join(home, ConfigDir)
	projectDir := filepath.Join(cwd, ProjectDir)

	return &Paths{
		UserDir:     userDir,
		UserConfig:  filepath.Join(userDir, "config.toml"),
		UserBin:     filepath.Join(userDir, "bin"),
		UserTools:   filepath.Join(userDir, "tools"),
		UserPrompts: filepath.Join(userDir, "prompts"),

		ProjectDir:     projectDir,
		ProjectConfig:  filepath.Join(projectDir, "atom.toml"),
		ProjectPrompts: filepath.Join(projectDir, "prompts"),

		WorkDir: cwd,
	}, nil
}

// EnsureUserDir creates the user directory structure if it doesn't exist.
func (p *Paths) EnsureUserDir() error {
	dirs := []string{p.UserDir, p.UserBin, p.UserTools, p.UserPrompts}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return nil
}

// IsInitialized checks whether the user-scoped prompt defaults were installed.
func (p *Paths) IsInitialized() bool {
	entries, err := os.ReadDir(p.UserPrompts)
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// HasProjectConfig checks if there's a project-level .atom directory.
func (p *Paths) HasProjectConfig() bool {
	info, err := os.Stat(p.ProjectDir)
	return err == nil && info.IsDir()
}

// PromptSearchDirs returns the project-local and user-scoped tiers of the
// prompt search path described in spec §4.1, in priority order. The
// remaining two tiers — package-bundled defaults, then the
// ATOM_PROMPT_DIR environment-variable override, in that order — are
// lower priority than both of these and are appended by the prompt
// resolver itself (internal/embedded ships no filesystem path of its own;
// it is an embed.FS), not here.
func (p *Paths) PromptSearchDirs() []string {
	dirs := []string{}

	if p.HasProjectConfig() {
		if info, err := os.Stat(p.ProjectPrompts); err == nil && info.IsDir() {
			dirs = append(dirs, p.ProjectPrompts)
		}
	}

	dirs = append(dirs, p.UserPrompts)

	return dirs
}
