// Package cliui holds terminal presentation shared by quill's commands.
package cliui

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/term"
)

// ErrReported marks an error that was already shown to the user.
var ErrReported = errors.New("error already reported")

var bannerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("9")).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("9")).
	Padding(0, 1)

// Banner renders msg as a bordered error banner.
func Banner(title, msg string) string {
	return bannerStyle.Render(title + "\n" + msg)
}

// ReportProviderError prints a provider error banner to w and returns an
// error wrapping ErrReported.
func ReportProviderError(w io.Writer, msg string) error {
	fmt.Fprintln(w, Banner("Provider error", msg))
	return fmt.Errorf("provider error: %s: %w", msg, ErrReported)
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Render formats text for output. Markdown is rendered with glamour when
// markdown is set; otherwise text is word-wrapped at width (0 disables).
func Render(text string, markdown bool, width int) (string, error) {
	if markdown {
		opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
		if width > 0 {
			opts = append(opts, glamour.WithWordWrap(width))
		}
		r, err := glamour.NewTermRenderer(opts...)
		if err != nil {
			return "", fmt.Errorf("create markdown renderer: %w", err)
		}
		return r.Render(text)
	}
	if width > 0 {
		return wordwrap.String(text, width), nil
	}
	return text, nil
}
