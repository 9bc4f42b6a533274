package driver

import (
	"os"

	"golang.org/x/term"
)

// autoDetectVerbose resolves VerboseAuto: verbose progress lines are
// enabled when stderr is connected to a terminal, matching the teacher's
// raw-mode terminal detection idiom for its own TUI entrypoint.
func autoDetectVerbose() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
