// Package output renders task state for terminals: a colour printer for
// plain output and a bubbletea view for live watching.
package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/fatih/color"

	"agentstudio/internal/artifact"
	"agentstudio/internal/domain/task"
	"agentstudio/internal/taskstate"
	"agentstudio/internal/tasktemplate"
)

// Printer writes task state as plain, optionally coloured, text.
type Printer struct {
	out      io.Writer
	markdown MarkdownRenderer
	now      func() time.Time

	blue   func(a ...any) string
	green  func(a ...any) string
	yellow func(a ...any) string
	red    func(a ...any) string
	cyan   func(a ...any) string
	gray   func(a ...any) string
	bold   func(a ...any) string
}

// PrinterOption customises a Printer.
type PrinterOption func(*Printer)

// WithMarkdown renders summaries through md.
func WithMarkdown(md MarkdownRenderer) PrinterOption {
	return func(p *Printer) { p.markdown = md }
}

// WithClock replaces time.Now for durations.
func WithClock(now func() time.Time) PrinterOption {
	return func(p *Printer) { p.now = now }
}

// NewPrinter returns a printer writing to out. Colour is disabled when
// colored is false.
func NewPrinter(out io.Writer, colored bool, opts ...PrinterOption) *Printer {
	mk := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	p := &Printer{
		out:      out,
		markdown: PlainMarkdown(),
		now:      time.Now,
		blue:     mk(color.FgBlue),
		green:    mk(color.FgGreen),
		yellow:   mk(color.FgYellow),
		red:      mk(color.FgRed),
		cyan:     mk(color.FgCyan),
		gray:     mk(color.FgHiBlack),
		bold:     mk(color.Bold),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Printer) statusColor(label string) func(a ...any) string {
	switch label {
	case "Completed":
		return p.green
	case "Failed":
		return p.red
	case "Paused", "Starting":
		return p.yellow
	default:
		return p.blue
	}
}

// Banner prints the product name and tagline.
func (p *Printer) Banner(app tasktemplate.AppInfo) {
	fmt.Fprintf(p.out, "%s %s\n", p.bold(app.Name), p.gray("· "+app.Tagline))
}

// Progress prints a one-line progress update.
func (p *Printer) Progress(st taskstate.State) {
	label := st.StatusLabel()
	line := st.ProgressMessage()
	if line == "" {
		line = label
	}
	fmt.Fprintf(p.out, "%s %s\n", p.statusColor(label)("["+label+"]"), line)
}

// State prints the full task report.
func (p *Printer) State(st taskstate.State) {
	if st.Phase == taskstate.PhaseIdle && st.TaskID == "" {
		fmt.Fprintln(p.out, p.gray("No task is being tracked."))
		if st.LastError != "" {
			fmt.Fprintln(p.out, p.red(st.LastError))
		}
		return
	}

	label := st.StatusLabel()
	fmt.Fprintf(p.out, "%s %s\n", p.bold("Task"), st.TaskID)
	if st.CompanyName != "" {
		fmt.Fprintf(p.out, "  %-10s %s\n", "Company", st.CompanyName)
	}
	if st.TaskType != "" {
		fmt.Fprintf(p.out, "  %-10s %s\n", "Type", st.TaskType)
	}
	fmt.Fprintf(p.out, "  %-10s %s\n", "Status", p.statusColor(label)(label))
	fmt.Fprintf(p.out, "  %-10s %s\n", "Duration", FormatDuration(st.Duration(p.now())))
	if share := st.ShareURL(); share != "" {
		fmt.Fprintf(p.out, "  %-10s %s\n", "Share", p.cyan(share))
	}

	if len(st.Steps) > 0 {
		fmt.Fprintf(p.out, "\n%s\n", p.bold(fmt.Sprintf("Steps (%d)", len(st.Steps))))
		for i, step := range st.Steps {
			number := step.Number
			if number <= 0 {
				number = i + 1
			}
			fmt.Fprintf(p.out, "  %3d. %s\n", number, step.Message())
			if u := step.DisplayURL(); u != "" {
				fmt.Fprintf(p.out, "       %s\n", p.gray(u))
			}
		}
	}

	p.Result(st.ParsedOutput())

	if len(st.Files) > 0 {
		fmt.Fprintf(p.out, "\n%s\n", p.bold("Generated Files"))
		for _, f := range st.Files {
			fmt.Fprintf(p.out, "  %s %s %s\n", p.green(f.Name), p.gray("("+f.Size+")"), f.URL)
		}
	}

	if st.Summary != "" {
		fmt.Fprintf(p.out, "\n%s\n", renderMarkdown(p.markdown, st.Summary))
	}
	if st.LastError != "" {
		fmt.Fprintf(p.out, "\n%s\n", p.red(st.LastError))
	}
}

// Result prints structured output as sections of key/value lines.
func (p *Printer) Result(out taskstate.Output) {
	switch {
	case out.Structured():
		fmt.Fprintf(p.out, "\n%s\n", p.bold("Results"))
		for _, key := range out.Keys() {
			p.printValue(1, key, out.Fields[key])
		}
	case out.Text != "":
		fmt.Fprintf(p.out, "\n%s\n%s\n", p.bold("Result"), out.Text)
	}
}

func (p *Printer) printValue(depth int, key string, value any) {
	indent := strings.Repeat("  ", depth)
	switch v := value.(type) {
	case map[string]any:
		fmt.Fprintf(p.out, "%s%s\n", indent, p.cyan(humanize(key)))
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p.printValue(depth+1, k, v[k])
		}
	default:
		fmt.Fprintf(p.out, "%s%s: %s\n", indent, humanize(key), taskstate.FormatValue(v))
	}
}

// Screenshots prints the outcome of resolving each step's screenshot.
func (p *Printer) Screenshots(steps []task.Step, results map[string]artifact.Resolution) {
	for i, step := range steps {
		res, ok := results[step.ID]
		number := step.Number
		if number <= 0 {
			number = i + 1
		}
		fmt.Fprintf(p.out, "  %3d. %s\n", number, p.screenshotText(res, ok))
	}
}

func (p *Printer) screenshotText(res artifact.Resolution, resolved bool) string {
	text := ScreenshotLabel(res, resolved)
	switch {
	case !resolved:
		return p.yellow(text)
	case res.Kind == artifact.KindAbsent:
		return p.gray(text)
	default:
		return p.green(text)
	}
}

// Templates lists the task templates.
func (p *Printer) Templates(templates []tasktemplate.Template, defaultID string) {
	for _, t := range templates {
		marker := " "
		if t.ID == defaultID {
			marker = "*"
		}
		fmt.Fprintf(p.out, "%s %-22s %s\n", marker, p.bold(t.ID), t.Name)
		if t.Description != "" {
			fmt.Fprintf(p.out, "  %-22s %s\n", "", p.gray(t.Description))
		}
	}
}

// Error prints err in red.
func (p *Printer) Error(msg string) {
	fmt.Fprintln(p.out, p.red("Error: "+msg))
}

// ScreenshotLabel is the text shown for a screenshot slot. An unresolved
// slot is still loading; a confirmed absence reads "unavailable".
func ScreenshotLabel(res artifact.Resolution, resolved bool) string {
	if !resolved {
		return "loading screenshot..."
	}
	switch res.Kind {
	case artifact.KindImage:
		return fmt.Sprintf("image (%s, %d bytes)", res.ContentType, len(res.Bytes))
	case artifact.KindURL:
		return res.URL
	default:
		return "unavailable"
	}
}

// FormatDuration renders d as "1m 5s" style text.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func humanize(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
