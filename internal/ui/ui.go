// Package ui holds the lipgloss styles shared by the command-line output.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	ColorSuccess = lipgloss.Color("#2ecc71")
	ColorWarning = lipgloss.Color("#f39c12")
	ColorError   = lipgloss.Color("#ef233c")
	ColorMuted   = lipgloss.Color("#8d99ae")
)

var (
	HeadingStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)
)

// Summary carries the counts and noteworthy details of one processing pass.
type Summary struct {
	DryRun    bool
	Processed int
	Skipped   int
	Ignored   int
	Warnings  []string
	Errors    []string
}

// FormatSummary renders a one-line overview followed by any errors and
// warnings, each on its own indented line.
func FormatSummary(s Summary) string {
	label := "Summary"
	if s.DryRun {
		label = "Summary (dry-run)"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s  %s  %s  %s",
		HeadingStyle.Render(label),
		SuccessStyle.Render(fmt.Sprintf("processed %d", s.Processed)),
		WarningStyle.Render(fmt.Sprintf("skipped %d", s.Skipped)),
		MutedStyle.Render(fmt.Sprintf("ignored %d", s.Ignored)),
	))
	for _, detail := range s.Errors {
		sb.WriteString("\n" + ErrorStyle.Render("  error: "+detail))
	}
	for _, detail := range s.Warnings {
		sb.WriteString("\n" + WarningStyle.Render("  warning: "+detail))
	}
	return sb.String()
}

// FormatHeading renders a section heading for command output.
func FormatHeading(text string) string {
	return HeadingStyle.Render(text)
}
