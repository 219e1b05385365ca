package taskstate

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"agentstudio/internal/domain/task"
)

// Action is a state transition. Reductions are pure: they read the previous
// state and return the next one without side effects.
type Action interface {
	reduce(State) (State, bool)
}

// Reduce applies a to s. Rejected actions return s unchanged.
func Reduce(s State, a Action) State {
	if a == nil {
		return s
	}
	next, ok := a.reduce(s.Clone())
	if !ok {
		return s
	}
	next.Version = s.Version + 1
	return next
}

// Begin marks a start request as in flight. Attempt identifies the request
// so that a Start or StartFailed arriving after a Reset can be dropped.
type Begin struct {
	Attempt     uint64
	CompanyName string
	TaskType    string
}

func (a Begin) reduce(s State) (State, bool) {
	if s.Phase == PhaseStarting {
		return s, false
	}
	next := Idle()
	next.Phase = PhaseStarting
	next.CompanyName = strings.TrimSpace(a.CompanyName)
	next.TaskType = a.TaskType
	next.Running = true
	next.attempt = a.Attempt
	return next, true
}

// StartFailed abandons a pending start and records why.
type StartFailed struct {
	Attempt uint64
	Message string
}

func (a StartFailed) reduce(s State) (State, bool) {
	if s.Phase != PhaseStarting || a.Attempt != s.attempt {
		return s, false
	}
	next := Idle()
	next.LastError = a.Message
	return next, true
}

// Start binds the store to a newly created remote task. Everything from a
// previous task is discarded. A non-zero Attempt must match the pending
// Begin.
type Start struct {
	Attempt uint64
	TaskID  string
	LiveURL string
	At      time.Time
}

func (a Start) reduce(s State) (State, bool) {
	if strings.TrimSpace(a.TaskID) == "" {
		return s, false
	}
	if a.Attempt != 0 && (s.Phase != PhaseStarting || a.Attempt != s.attempt) {
		return s, false
	}
	next := Idle()
	next.Phase = PhaseActive
	next.TaskID = a.TaskID
	next.CompanyName = s.CompanyName
	next.TaskType = s.TaskType
	next.Status = task.StatusCreated
	next.LiveURL = a.LiveURL
	next.StartTime = a.At
	next.Running = true
	return next, true
}

// ApplyStatus merges a polled remote status. TaskID and Seq identify the
// request that produced it; responses for another task or older than the
// last applied one are discarded. Steps, output and both URLs are replaced
// wholesale; files are untouched.
type ApplyStatus struct {
	TaskID         string
	Seq            uint64
	Status         task.Status
	Steps          []task.Step
	Output         json.RawMessage
	LiveURL        string
	PublicShareURL string
	At             time.Time
}

func (a ApplyStatus) reduce(s State) (State, bool) {
	if s.TaskID == "" || a.TaskID != s.TaskID {
		return s, false
	}
	if s.Phase != PhaseActive && s.Phase != PhaseTerminal {
		return s, false
	}
	if a.Seq != 0 && a.Seq <= s.lastSeq {
		return s, false
	}
	if s.Phase == PhaseTerminal && !a.Status.IsTerminal() {
		return s, false
	}

	s.Status = a.Status
	s.Steps = append([]task.Step{}, a.Steps...)
	s.Output = normaliseOutput(a.Output)
	s.LiveURL = a.LiveURL
	s.PublicShareURL = a.PublicShareURL
	if a.Seq != 0 {
		s.lastSeq = a.Seq
	}

	if a.Status.IsTerminal() {
		s.Phase = PhaseTerminal
		s.Running = false
		if s.EndTime.IsZero() {
			s.EndTime = a.At
		}
	}
	return s, true
}

func normaliseOutput(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return append(json.RawMessage(nil), trimmed...)
}

// AddFile appends a generated file. Duplicates are kept.
type AddFile struct {
	TaskID string
	File   task.GeneratedFile
}

func (a AddFile) reduce(s State) (State, bool) {
	if s.TaskID == "" || a.TaskID != s.TaskID {
		return s, false
	}
	if s.Phase != PhaseActive && s.Phase != PhaseTerminal {
		return s, false
	}
	s.Files = append(s.Files, a.File)
	return s, true
}

// Complete records the execution summary and stops the running flag.
type Complete struct {
	TaskID  string
	Summary string
	At      time.Time
}

func (a Complete) reduce(s State) (State, bool) {
	if s.TaskID == "" || a.TaskID != s.TaskID {
		return s, false
	}
	if s.Phase != PhaseActive && s.Phase != PhaseTerminal {
		return s, false
	}
	s.Summary = a.Summary
	s.Running = false
	s.Phase = PhaseTerminal
	if s.EndTime.IsZero() {
		s.EndTime = a.At
	}
	return s, true
}

// Reset returns to idle. Any response tagged with the old task id is
// rejected afterwards.
type Reset struct{}

func (Reset) reduce(s State) (State, bool) {
	if s.Phase == PhaseIdle && s.TaskID == "" && s.LastError == "" {
		return s, false
	}
	return Idle(), true
}
