// Package task defines the remote automation task domain model shared by the
// gateway, the state store and every presentation surface.
package task

import (
	"encoding/json"
	"path"
	"strings"
	"time"
)

// Status represents the lifecycle state reported by the remote service.
type Status string

const (
	StatusCreated  Status = "created"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
	StatusStopped  Status = "stopped"
	StatusPaused   Status = "paused"
	StatusUnknown  Status = "unknown"
)

// ParseStatus normalises a remote status string. Anything outside the known
// set maps to StatusUnknown.
func ParseStatus(raw string) Status {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusCreated, StatusRunning, StatusFinished, StatusFailed, StatusStopped, StatusPaused:
		return s
	default:
		return StatusUnknown
	}
}

// UnmarshalJSON normalises the wire value through ParseStatus.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		*s = StatusUnknown
		return nil
	}
	*s = ParseStatus(raw)
	return nil
}

// IsTerminal reports whether polling should stop once this status is seen.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// Label returns the human-readable status shown to users.
func (s Status) Label() string {
	switch s {
	case StatusCreated:
		return "Task Created"
	case StatusRunning:
		return "Running"
	case StatusFinished:
		return "Completed"
	case StatusFailed, StatusStopped:
		return "Failed"
	case StatusPaused:
		return "Paused"
	default:
		return "Ready"
	}
}

// BlankURL is the sentinel the remote reports for steps without a page.
const BlankURL = "about:blank"

// Step is one observable unit of remote progress.
type Step struct {
	ID                     string `json:"id"`
	Number                 int    `json:"step"`
	EvaluationPreviousGoal string `json:"evaluation_previous_goal,omitempty"`
	NextGoal               string `json:"next_goal,omitempty"`
	URL                    string `json:"url,omitempty"`
}

// DisplayURL returns the step URL, or "" for the blank-page sentinel.
func (s Step) DisplayURL() string {
	u := strings.TrimSpace(s.URL)
	if u == "" || u == BlankURL {
		return ""
	}
	return u
}

// Message picks the most informative text for the step.
func (s Step) Message() string {
	switch {
	case strings.TrimSpace(s.NextGoal) != "":
		return s.NextGoal
	case strings.TrimSpace(s.EvaluationPreviousGoal) != "":
		return s.EvaluationPreviousGoal
	default:
		return "Processing..."
	}
}

// FileType is the closed set of generated file kinds.
type FileType string

const (
	FileDocument       FileType = "document"
	FileSpreadsheet    FileType = "spreadsheet"
	FileStructuredData FileType = "structured-data"
	FileArchive        FileType = "archive"
	FileImage          FileType = "image"
)

// FileTypeFromName infers the kind from the file extension. Unrecognised
// extensions are treated as documents.
func FileTypeFromName(name string) FileType {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(name), ".")) {
	case "xls", "xlsx", "csv", "tsv":
		return FileSpreadsheet
	case "json", "jsonl", "ndjson":
		return FileStructuredData
	case "zip", "tar", "gz", "tgz":
		return FileArchive
	case "png", "jpg", "jpeg", "gif", "webp":
		return FileImage
	default:
		return FileDocument
	}
}

// GeneratedFile is a downloadable artifact attached after completion.
type GeneratedFile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        FileType  `json:"type"`
	Size        string    `json:"size"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
