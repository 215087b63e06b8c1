package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/meigma/ngsarchiver/archive"
)

var (
	colorTitle   = lipgloss.Color("#20B9B4")
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")
)

var styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	OK      lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorTitle),
	Label:   lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	OK:      lipgloss.NewStyle().Foreground(colorSuccess),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError),
}

func heading(s string) string {
	return styles.Title.Render(s)
}

func statusOK(msg string) string {
	return styles.OK.Render("✓") + " " + msg
}

func statusWarning(msg string) string {
	return styles.Warning.Render("!") + " " + msg
}

func statusFailed(msg string) string {
	return styles.Error.Render("✗") + " " + msg
}

// field writes an indented "label: value" line.
func field(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "  %s %v\n", styles.Label.Render(label+":"), value)
}

// printReport writes one line per precheck problem. Soft problems that
// force overrides are shown as warnings.
func printReport(w io.Writer, r archive.Report, force bool) {
	if len(r.Problems) == 0 {
		fmt.Fprintln(w, statusOK("no problems found"))
		return
	}
	for _, p := range r.Problems {
		if force && p.Severity == archive.Soft {
			fmt.Fprintln(w, statusWarning(p.String()))
			continue
		}
		fmt.Fprintln(w, statusFailed(p.String()))
	}
}

// printDiff writes the paths of a failed verification, grouped.
func printDiff(w io.Writer, d *archive.Diff) {
	groups := []struct {
		title string
		paths []string
	}{
		{"missing", d.Missing},
		{"extra", d.Extra},
		{"mismatched", d.Mismatched},
	}
	for _, g := range groups {
		for _, p := range g.paths {
			fmt.Fprintf(w, "  %s %s\n", styles.Error.Render(g.title+":"), p)
		}
	}
}
