package research

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"agentstudio/internal/domain/task"
	"agentstudio/internal/taskstate"
)

const failureSummary = "The automation task encountered an issue and was stopped. Please try again with different parameters."

// Summarize builds the markdown execution summary shown once a task ends.
func Summarize(companyName string, status task.Status, out taskstate.Output, files int) string {
	subject := strings.TrimSpace(companyName)
	if subject == "" {
		subject = "the company"
	}

	if status != task.StatusFinished {
		return failureSummary
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Research on **%s** completed.", subject)
	switch {
	case out.Structured():
		b.WriteString("\n\nSections collected:\n")
		for _, key := range out.Keys() {
			fmt.Fprintf(&b, "\n- %s", humanizeKey(key))
		}
	case out.Text != "":
		b.WriteString("\n\n")
		b.WriteString(out.Text)
	default:
		b.WriteString(" No structured data was returned.")
	}
	if files > 0 {
		fmt.Fprintf(&b, "\n\n%d %s generated.", files, plural(files, "file", "files"))
	}
	return b.String()
}

func humanizeKey(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// FormatSize renders a byte count the way the file list shows it.
func FormatSize(size int64) string {
	switch {
	case size <= 0:
		return "N/A"
	case size < 1024:
		return fmt.Sprintf("%d B", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	}
}

// describeFile returns the label the file list uses for a kind.
func describeFile(t task.FileType) string {
	switch t {
	case task.FileSpreadsheet:
		return "Spreadsheet"
	case task.FileStructuredData:
		return "JSON Data"
	case task.FileArchive:
		return "Archive"
	case task.FileImage:
		return "Screenshot"
	default:
		return "Report"
	}
}
