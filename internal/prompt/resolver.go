// Package prompt implements the Prompt Resolver (C1): composing the
// system prompt text for a tool name from an ordered search path.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/atomloop/atomloop/internal/embedded"
	"github.com/atomloop/atomloop/internal/paths"
)

// ErrPromptNotFound is returned when a required prompt file cannot be
// located anywhere on the search path.
var ErrPromptNotFound = errors.New("prompt not found")

const (
	basePromptName = "ATOM"
	atomPrefix     = "atom_"
	promptExt      = ".md"

	// MaxIterationsPlaceholder is substituted, verbatim, with the active
	// max-iterations count wherever it appears in the base prompt.
	MaxIterationsPlaceholder = "{{MAX_ITERATIONS}}"
)

// Resolver composes system prompts by searching an ordered list of
// directories. It retains no state between calls — each Resolve call
// re-evaluates the search path from scratch, per spec §3's "pure value"
// requirement.
type Resolver struct {
	// SearchDirs are tried first, in order (project-local, then
	// user-scoped, by convention — see paths.Paths.PromptSearchDirs).
	SearchDirs []string

	// MaxIterations is substituted for MaxIterationsPlaceholder wherever it
	// appears in the resolved base prompt.
	MaxIterations int
}

// NewResolver builds a Resolver over searchDirs (project-local, then
// user-scoped, in priority order); after them the package-bundled defaults
// are consulted, and the ATOM_PROMPT_DIR environment-variable override last.
func NewResolver(searchDirs []string, maxIterations int) *Resolver {
	return &Resolver{SearchDirs: searchDirs, MaxIterations: maxIterations}
}

// Resolve returns the composed system prompt for toolName per spec §4.1:
//   - "" returns the base prompt (ATOM.md).
//   - "atom_X" returns the base prompt, two newlines, then X's prompt file.
//   - any other "Y" returns only Y's prompt file.
func (r *Resolver) Resolve(toolName string) (string, error) {
	if toolName == "" {
		return r.composeBase()
	}

	if rest, ok := strings.CutPrefix(toolName, atomPrefix); ok {
		base, err := r.composeBase()
		if err != nil {
			return "", err
		}
		specialized, err := r.readPromptFile(fileNameFor(rest))
		if err != nil {
			return "", err
		}
		return base + "\n\n" + specialized, nil
	}

	return r.readPromptFile(fileNameFor(toolName))
}

func (r *Resolver) composeBase() (string, error) {
	content, err := r.readPromptFile(basePromptName + promptExt)
	if err != nil {
		return "", err
	}
	return r.substitutePlaceholders(content), nil
}

func (r *Resolver) substitutePlaceholders(content string) string {
	return strings.ReplaceAll(content, MaxIterationsPlaceholder, strconv.Itoa(r.MaxIterations))
}

// fileNameFor derives the on-disk file name for a (possibly atom_-prefixed)
// tool name: uppercase the name without the prefix, append the
// conventional extension.
func fileNameFor(name string) string {
	return strings.ToUpper(name) + promptExt
}

// readPromptFile searches SearchDirs (project-local, then user-scoped),
// then the package-bundled defaults, then finally the ATOM_PROMPT_DIR
// environment-variable override — the four tiers named by spec §4.1, in
// descending priority — returning the first match's contents verbatim
// (UTF-8 text).
func (r *Resolver) readPromptFile(fileName string) (string, error) {
	for _, dir := range r.SearchDirs {
		path := filepath.Join(dir, fileName)
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading prompt %s: %w", path, err)
		}
	}

	if data, err := embedded.ReadPrompt(fileName); err == nil {
		return string(data), nil
	}

	if envDir := os.Getenv(paths.EnvPromptDir); envDir != "" {
		path := filepath.Join(envDir, fileName)
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading prompt %s: %w", path, err)
		}
	}

	return "", fmt.Errorf("%w: %s", ErrPromptNotFound, fileName)
}
