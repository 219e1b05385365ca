package output

import (
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"agentstudio/internal/config"
)

// MarkdownRenderer renders markdown for a terminal.
type MarkdownRenderer interface {
	Render(string) (string, error)
}

type plainMarkdown struct{}

func (plainMarkdown) Render(s string) (string, error) { return s, nil }

// PlainMarkdown returns markdown unchanged.
func PlainMarkdown() MarkdownRenderer {
	return plainMarkdown{}
}

// DefaultMarkdownRenderer picks a glamour style for stdout. It falls back to
// plain text when glamour cannot be initialised.
func DefaultMarkdownRenderer(width int) MarkdownRenderer {
	if width <= 0 {
		width = 100
	}
	options := []glamour.TermRendererOption{
		glamour.WithWordWrap(width),
		glamour.WithPreservedNewLines(),
	}
	if value, ok := config.DefaultEnvLookup("GLAMOUR_STYLE"); ok && value != "" {
		options = append(options, glamour.WithEnvironmentConfig())
	} else if term.IsTerminal(int(os.Stdout.Fd())) {
		options = append(options, glamour.WithAutoStyle())
	} else {
		options = append(options, glamour.WithStandardStyle("notty"))
	}

	r, err := glamour.NewTermRenderer(options...)
	if err != nil {
		return PlainMarkdown()
	}
	return r
}

func renderMarkdown(md MarkdownRenderer, text string) string {
	if md == nil {
		return text
	}
	out, err := md.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
