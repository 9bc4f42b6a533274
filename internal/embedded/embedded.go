// Package embedded bundles the default prompt files shipped with atomloop
// and installs them into a user's ~/.atom on first run.
package embedded

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed defaults/*
var defaults embed.FS

// Install copies embedded default files to the target directory. Existing
// files are left untouched so a user's edits survive a re-run.
func Install(targetDir string) error {
	return fs.WalkDir(defaults, "defaults", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path == "defaults" {
			return nil
		}

		relPath, err := filepath.Rel("defaults", path)
		if err != nil {
			return err
		}

		targetPath := filepath.Join(targetDir, relPath)

		if d.IsDir() {
			return os.MkdirAll(targetPath, 0755)
		}

		data, err := defaults.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded file %s: %w", path, err)
		}

		if _, err := os.Stat(targetPath); os.IsNotExist(err) {
			if err := os.WriteFile(targetPath, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", targetPath, err)
			}
		}

		return nil
	})
}

// ReadPrompt reads a bundled default prompt file (e.g. "ATOM.md") without
// requiring Install to have run first. It backs the "package-bundled"
// tier of the prompt search path.
func ReadPrompt(name string) ([]byte, error) {
	return defaults.ReadFile(filepath.Join("defaults", "prompts", name))
}
