package tui

import "github.com/charmbracelet/lipgloss"

// Cyberpunk color palette
var (
	Primary   = lipgloss.Color("#00ff9f") // Neon green - success, active
	Secondary = lipgloss.Color("#00d4ff") // Cyan - info, headers
	Accent    = lipgloss.Color("#ff00ff") // Magenta - highlights
	Warning   = lipgloss.Color("#ffaa00") // Amber - warnings
	Error     = lipgloss.Color("#ff3366") // Red-pink - errors
	Muted     = lipgloss.Color("#4a4a5a") // Gray - inactive
	Dim       = lipgloss.Color("#2a2a3a") // Darker gray
	Text      = lipgloss.Color("#e0e0e0") // Light text
)

// Styles
var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true).
			Padding(0, 1)

	TitleStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	// Iteration panel
	IterPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Dim).
			Padding(1, 2)

	IterActiveStyle = lipgloss.NewStyle().
				Foreground(Primary).
				Bold(true)

	IterPendingStyle = lipgloss.NewStyle().
				Foreground(Muted)

	IterDoneStyle = lipgloss.NewStyle().
			Foreground(Primary)

	IterFailedStyle = lipgloss.NewStyle().
				Foreground(Error)

	IterWaitingStyle = lipgloss.NewStyle().
				Foreground(Warning)

	// Output viewport
	OutputPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(Dim).
				Padding(1, 2)

	OutputTextStyle = lipgloss.NewStyle().
			Foreground(Text)

	// Status bar
	StatusBarStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Padding(0, 1)

	IterCountStyle = lipgloss.NewStyle().
			Foreground(Warning)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(Primary)

	SymbolPending = IterPendingStyle.Render("○")
	SymbolActive  = IterActiveStyle.Render("●")
	SymbolDone    = IterDoneStyle.Render("✓")
	SymbolFailed  = IterFailedStyle.Render("✗")

	HelpStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Padding(0, 1)
)

// Logo renders the program's header mark.
func Logo() string {
	return HeaderStyle.Render("atomloop")
}
