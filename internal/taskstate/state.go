// Package taskstate holds the single tracked remote task. State changes only
// through Reduce; Store serialises reductions and fans snapshots out to
// subscribers.
package taskstate

import (
	"encoding/json"
	"time"

	"agentstudio/internal/domain/task"
)

// Phase is the local lifecycle position, distinct from the remote status.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseActive   Phase = "active"
	PhaseTerminal Phase = "terminal"
)

// State is an immutable snapshot of the tracked task. Values returned by the
// store never share backing arrays with the store.
type State struct {
	Phase          Phase                `json:"phase"`
	TaskID         string               `json:"task_id,omitempty"`
	TaskType       string               `json:"task_type,omitempty"`
	CompanyName    string               `json:"company_name,omitempty"`
	Status         task.Status          `json:"status,omitempty"`
	Steps          []task.Step          `json:"steps"`
	Files          []task.GeneratedFile `json:"files"`
	Output         json.RawMessage      `json:"output,omitempty"`
	LiveURL        string               `json:"live_url,omitempty"`
	PublicShareURL string               `json:"public_share_url,omitempty"`
	Summary        string               `json:"summary,omitempty"`
	StartTime      time.Time            `json:"start_time,omitempty"`
	EndTime        time.Time            `json:"end_time,omitempty"`
	Running        bool                 `json:"running"`
	LastError      string               `json:"last_error,omitempty"`

	// Version increments on every accepted action.
	Version uint64 `json:"version"`

	lastSeq uint64
	attempt uint64
}

// Idle returns the empty state.
func Idle() State {
	return State{Phase: PhaseIdle}
}

// IsTerminal reports whether polling for this task has concluded.
func (s State) IsTerminal() bool {
	return s.Phase == PhaseTerminal
}

// HasOutput reports whether the remote has sent any output payload.
func (s State) HasOutput() bool {
	return len(s.Output) > 0 && string(s.Output) != "null"
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	if s.Steps != nil {
		out.Steps = append([]task.Step(nil), s.Steps...)
	}
	if s.Files != nil {
		out.Files = append([]task.GeneratedFile(nil), s.Files...)
	}
	if s.Output != nil {
		out.Output = append(json.RawMessage(nil), s.Output...)
	}
	return out
}
