package taskstate

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"agentstudio/internal/domain/task"
	agenterrors "agentstudio/internal/errors"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func started(taskID string) State {
	return Reduce(Idle(), Start{TaskID: taskID, At: t0})
}

func TestStartClearsEverything(t *testing.T) {
	s := started("task-a")
	s = Reduce(s, ApplyStatus{TaskID: "task-a", Seq: 1, Status: task.StatusRunning, Steps: []task.Step{{ID: "1", Number: 1}}})
	s = Reduce(s, AddFile{TaskID: "task-a", File: task.GeneratedFile{Name: "a.pdf"}})

	s = Reduce(s, Start{TaskID: "task-b", At: t0.Add(time.Minute)})
	require.Equal(t, PhaseActive, s.Phase)
	require.Equal(t, "task-b", s.TaskID)
	require.Equal(t, task.StatusCreated, s.Status)
	require.Empty(t, s.Steps)
	require.Empty(t, s.Files)
	require.True(t, s.Running)
	require.Equal(t, t0.Add(time.Minute), s.StartTime)
	require.True(t, s.EndTime.IsZero())
}

func TestApplyStatusReplacesStepsWholesale(t *testing.T) {
	s := started("task-a")

	batches := [][]task.Step{
		{{ID: "1", Number: 1, NextGoal: "open"}},
		{{ID: "1", Number: 1, NextGoal: "open (updated)"}, {ID: "2", Number: 2}},
		{{ID: "2", Number: 2}},
	}
	for i, steps := range batches {
		s = Reduce(s, ApplyStatus{TaskID: "task-a", Seq: uint64(i + 1), Status: task.StatusRunning, Steps: steps})
		require.Equal(t, steps, s.Steps)
	}
}

func TestApplyStatusLeavesFilesAndReplacesURLs(t *testing.T) {
	s := started("task-a")
	s = Reduce(s, AddFile{TaskID: "task-a", File: task.GeneratedFile{Name: "a.pdf"}})
	s = Reduce(s, ApplyStatus{TaskID: "task-a", Seq: 1, Status: task.StatusRunning, LiveURL: "https://live", PublicShareURL: "https://share"})
	s = Reduce(s, ApplyStatus{TaskID: "task-a", Seq: 2, Status: task.StatusRunning})

	require.Len(t, s.Files, 1)
	require.Empty(t, s.LiveURL)
	require.Empty(t, s.PublicShareURL)
}

func TestStaleResponsesAreRejected(t *testing.T) {
	s := started("task-a")
	s = Reduce(s, ApplyStatus{TaskID: "task-a", Seq: 2, Status: task.StatusRunning, Steps: []task.Step{{ID: "2"}}})

	older := Reduce(s, ApplyStatus{TaskID: "task-a", Seq: 1, Status: task.StatusRunning, Steps: []task.Step{{ID: "1"}}})
	require.Equal(t, s, older)

	other := Reduce(s, ApplyStatus{TaskID: "task-b", Seq: 3, Status: task.StatusFinished})
	require.Equal(t, s, other)
}

func TestResetThenStaleResponseLeavesStateUnchanged(t *testing.T) {
	s := started("task-a")
	s = Reduce(s, Reset{})
	require.Equal(t, PhaseIdle, s.Phase)

	after := Reduce(s, ApplyStatus{TaskID: "task-a", Seq: 1, Status: task.StatusRunning, Steps: []task.Step{{ID: "1"}}})
	require.Equal(t, s, after)
	require.Empty(t, after.Steps)

	after = Reduce(after, AddFile{TaskID: "task-a", File: task.GeneratedFile{Name: "x"}})
	after = Reduce(after, Complete{TaskID: "task-a", Summary: "late"})
	require.Equal(t, s, after)
}

func TestTerminalStatusEndsRun(t *testing.T) {
	s := started("task-a")
	end := t0.Add(90 * time.Second)
	s = Reduce(s, ApplyStatus{TaskID: "task-a", Seq: 1, Status: task.StatusFailed, At: end})

	require.Equal(t, PhaseTerminal, s.Phase)
	require.False(t, s.Running)
	require.Equal(t, end, s.EndTime)
	require.Equal(t, 90*time.Second, s.Duration(time.Now()))

	regressed := Reduce(s, ApplyStatus{TaskID: "task-a", Seq: 2, Status: task.StatusRunning})
	require.Equal(t, s, regressed)
}

func TestPausedIsNotTerminal(t *testing.T) {
	s := started("task-a")
	s = Reduce(s, ApplyStatus{TaskID: "task-a", Seq: 1, Status: task.StatusPaused})
	require.Equal(t, PhaseActive, s.Phase)
	require.True(t, s.Running)
	require.Equal(t, "Paused", s.StatusLabel())
}

func TestAddFileAppendsWithoutDedup(t *testing.T) {
	s := started("task-a")
	f := task.GeneratedFile{ID: "f1", Name: "report.pdf", Type: task.FileDocument}
	s = Reduce(s, AddFile{TaskID: "task-a", File: f})
	s = Reduce(s, AddFile{TaskID: "task-a", File: f})
	require.Equal(t, []task.GeneratedFile{f, f}, s.Files)

	idle := Reduce(Idle(), AddFile{TaskID: "task-a", File: f})
	require.Empty(t, idle.Files)
}

func TestCompleteSetsSummaryAndEndTime(t *testing.T) {
	s := started("task-a")
	s = Reduce(s, Complete{TaskID: "task-a", Summary: "done", At: t0.Add(time.Minute)})
	require.Equal(t, "done", s.Summary)
	require.False(t, s.Running)
	require.Equal(t, PhaseTerminal, s.Phase)
	require.Equal(t, t0.Add(time.Minute), s.EndTime)

	s = Reduce(s, Complete{TaskID: "task-a", Summary: "again", At: t0.Add(time.Hour)})
	require.Equal(t, t0.Add(time.Minute), s.EndTime)
}

func TestBeginStartAttemptGuard(t *testing.T) {
	s := Reduce(Idle(), Begin{Attempt: 7, CompanyName: " Acme ", TaskType: "vc-analysis"})
	require.Equal(t, PhaseStarting, s.Phase)
	require.Equal(t, "Acme", s.CompanyName)
	require.Equal(t, "Starting", s.StatusLabel())

	wrong := Reduce(s, Start{Attempt: 6, TaskID: "task-x"})
	require.Equal(t, s, wrong)

	s = Reduce(s, Start{Attempt: 7, TaskID: "task-x", At: t0})
	require.Equal(t, "task-x", s.TaskID)
	require.Equal(t, "Acme", s.CompanyName)
	require.Equal(t, "vc-analysis", s.TaskType)

	reset := Reduce(Reduce(Idle(), Begin{Attempt: 8}), Reset{})
	late := Reduce(reset, Start{Attempt: 8, TaskID: "task-late"})
	require.Equal(t, reset, late)
}

func TestStartFailedReturnsToIdleWithError(t *testing.T) {
	s := Reduce(Idle(), Begin{Attempt: 1})
	s = Reduce(s, StartFailed{Attempt: 1, Message: "credential is not set"})
	require.Equal(t, PhaseIdle, s.Phase)
	require.Equal(t, "credential is not set", s.LastError)
	require.False(t, s.Running)
}

func TestTwoPollScenario(t *testing.T) {
	s := started("task-a")
	s = Reduce(s, ApplyStatus{TaskID: "task-a", Seq: 1, Status: task.StatusRunning,
		Steps: []task.Step{{ID: "s1", Number: 1, NextGoal: "search"}}})
	require.Equal(t, "Step 1/?: search", s.ProgressMessage())

	s = Reduce(s, ApplyStatus{TaskID: "task-a", Seq: 2, Status: task.StatusFinished,
		Steps:  []task.Step{{ID: "s1", Number: 1, NextGoal: "search", EvaluationPreviousGoal: "found it"}},
		Output: json.RawMessage(`{"company_overview":{"name":"Acme"}}`),
		At:     t0.Add(time.Minute)})

	require.Equal(t, PhaseTerminal, s.Phase)
	require.Len(t, s.Steps, 1)
	require.Equal(t, "found it", s.Steps[0].EvaluationPreviousGoal)
	require.Equal(t, "Step 1/1: search", s.ProgressMessage())

	out := s.ParsedOutput()
	require.True(t, out.Structured())
	require.Equal(t, []string{"company_overview"}, out.Keys())
}

func TestSnapshotsDoNotAlias(t *testing.T) {
	store := NewStore()
	store.Apply(Start{TaskID: "task-a", At: t0})
	store.Apply(ApplyStatus{TaskID: "task-a", Seq: 1, Status: task.StatusRunning, Steps: []task.Step{{ID: "1"}}})

	snap := store.Snapshot()
	snap.Steps[0].ID = "mutated"
	require.Equal(t, "1", store.Snapshot().Steps[0].ID)
}

func TestStoreApplyReportsAcceptance(t *testing.T) {
	store := NewStore()
	require.False(t, store.Apply(Reset{}))
	require.True(t, store.Apply(Start{TaskID: "task-a", At: t0}))
	require.Equal(t, "task-a", store.TaskID())
	require.False(t, store.Apply(ApplyStatus{TaskID: "other", Seq: 1}))
	require.True(t, store.Apply(Reset{}))
	require.Equal(t, "", store.TaskID())
}

func TestSubscribersReceiveLatestSnapshot(t *testing.T) {
	store := NewStore()
	ch := store.Subscribe(1)
	defer store.Unsubscribe(ch)

	store.Apply(Start{TaskID: "task-a", At: t0})
	for i := 1; i <= 5; i++ {
		store.Apply(ApplyStatus{TaskID: "task-a", Seq: uint64(i), Status: task.StatusRunning,
			Steps: make([]task.Step, i)})
	}

	latest := <-ch
	require.Len(t, latest.Steps, 5)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra snapshot: %+v", extra)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	store := NewStore()
	ch := store.Subscribe(2)
	store.Unsubscribe(ch)
	_, ok := <-ch
	require.False(t, ok)
	store.Unsubscribe(ch)
	require.True(t, store.Apply(Start{TaskID: "task-a"}))
}

func TestConcurrentApplyIsSerialised(t *testing.T) {
	store := NewStore()
	store.Apply(Start{TaskID: "task-a", At: t0})

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			store.Apply(AddFile{TaskID: "task-a", File: task.GeneratedFile{ID: "f"}})
			store.Apply(ApplyStatus{TaskID: "task-a", Seq: uint64(seq), Status: task.StatusRunning})
		}(i)
	}
	wg.Wait()

	snap := store.Snapshot()
	require.Len(t, snap.Files, 50)
}

func TestParseOutput(t *testing.T) {
	out, err := ParseOutput(nil)
	require.NoError(t, err)
	require.False(t, out.Structured())

	out, err = ParseOutput(json.RawMessage(`"Acme is a rocket company."`))
	require.NoError(t, err)
	require.Equal(t, "Acme is a rocket company.", out.Text)

	out, err = ParseOutput(json.RawMessage(`"{\"funding_summary\":{\"total_funding\":\"$10M\"}}"`))
	require.NoError(t, err)
	require.Equal(t, []string{"funding_summary"}, out.Keys())

	out, err = ParseOutput(json.RawMessage(`"{\"team_summary\": {\"team_size\": \"12\",}"`))
	require.NoError(t, err)
	require.Equal(t, []string{"team_summary"}, out.Keys())

	_, err = ParseOutput(json.RawMessage(`42`))
	require.ErrorIs(t, err, agenterrors.ErrParseFailure)

	s := State{Output: json.RawMessage(`42`)}
	require.False(t, s.ParsedOutput().Structured())
}

func TestFormatValue(t *testing.T) {
	require.Equal(t, "N/A", FormatValue(nil))
	require.Equal(t, "N/A", FormatValue("Unknown"))
	require.Equal(t, "N/A", FormatValue([]any{"Unknown"}))
	require.Equal(t, "a16z, Sequoia", FormatValue([]any{"a16z", "Unknown", "Sequoia"}))
	require.Equal(t, "12", FormatValue(float64(12)))
	require.Equal(t, "2015", FormatValue("2015"))
}

func TestShareURLFallsBackToLive(t *testing.T) {
	require.Equal(t, "https://live", State{LiveURL: "https://live"}.ShareURL())
	require.Equal(t, "https://share", State{LiveURL: "https://live", PublicShareURL: "https://share"}.ShareURL())
}
