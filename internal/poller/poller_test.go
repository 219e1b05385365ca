package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentstudio/internal/browseruse"
	"agentstudio/internal/domain/task"
	agenterrors "agentstudio/internal/errors"
	"agentstudio/internal/taskstate"
)

type scriptedSource struct {
	mu      sync.Mutex
	replies []reply
	calls   atomic.Int32
}

type reply struct {
	status *browseruse.TaskStatus
	err    error
}

func (s *scriptedSource) FetchStatus(ctx context.Context, taskID string) (*browseruse.TaskStatus, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return &browseruse.TaskStatus{ID: taskID, Status: task.StatusRunning}, nil
	}
	r := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return r.status, r.err
}

func statusOf(st task.Status, steps ...browseruse.StepPayload) reply {
	return reply{status: &browseruse.TaskStatus{ID: "task-1", Status: st, Steps: steps}}
}

func activeStore(taskID string) *taskstate.Store {
	store := taskstate.NewStore()
	store.Apply(taskstate.Start{TaskID: taskID, At: time.Now()})
	return store
}

func waitDone(t *testing.T, p *Poller) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPollerStopsAfterFirstTerminalStatus(t *testing.T) {
	src := &scriptedSource{replies: []reply{
		statusOf(task.StatusCreated),
		statusOf(task.StatusRunning, browseruse.StepPayload{ID: "s1", Step: 1, NextGoal: "search"}),
		{status: &browseruse.TaskStatus{
			ID: "task-1", Status: task.StatusFinished,
			Steps:  []browseruse.StepPayload{{ID: "s1", Step: 1, NextGoal: "search"}, {ID: "s2", Step: 2}},
			Output: []byte(`{"summary":"ok"}`),
		}},
	}}
	store := activeStore("task-1")

	var terminalCalls atomic.Int32
	var terminalStatus atomic.Value
	p := New(src, store, "task-1", Config{Interval: 5 * time.Millisecond},
		WithOnTerminal(func(ctx context.Context, status *browseruse.TaskStatus) {
			terminalCalls.Add(1)
			terminalStatus.Store(status.Status)
		}))
	p.Start(context.Background())
	waitDone(t, p)

	require.Equal(t, ReasonTerminal, p.Reason())
	require.EqualValues(t, 3, src.calls.Load())
	require.EqualValues(t, 1, terminalCalls.Load())
	require.Equal(t, task.StatusFinished, terminalStatus.Load())

	time.Sleep(30 * time.Millisecond)
	require.EqualValues(t, 3, src.calls.Load())

	snap := store.Snapshot()
	require.Equal(t, taskstate.PhaseTerminal, snap.Phase)
	require.Len(t, snap.Steps, 2)
	require.JSONEq(t, `{"summary":"ok"}`, string(snap.Output))
}

func TestPollerSkipsFailedTicks(t *testing.T) {
	src := &scriptedSource{replies: []reply{
		{err: &agenterrors.RemoteUnavailableError{StatusCode: 502}},
		{err: errors.New("connection reset")},
		statusOf(task.StatusStopped),
	}}
	store := activeStore("task-1")

	p := New(src, store, "task-1", Config{Interval: 5 * time.Millisecond})
	p.Start(context.Background())
	waitDone(t, p)

	require.Equal(t, ReasonTerminal, p.Reason())
	require.EqualValues(t, 3, src.calls.Load())
	require.Equal(t, task.StatusStopped, store.Snapshot().Status)
}

func TestPollerStopsOnConfigurationError(t *testing.T) {
	src := &scriptedSource{replies: []reply{{err: agenterrors.NewMissingCredential("BROWSER_USE_API_KEY")}}}
	p := New(src, activeStore("task-1"), "task-1", Config{Interval: 5 * time.Millisecond})
	p.Start(context.Background())
	waitDone(t, p)

	require.Equal(t, ReasonFatal, p.Reason())
	require.EqualValues(t, 1, src.calls.Load())
}

func TestPollerEndsWhenStoreWasReset(t *testing.T) {
	src := &scriptedSource{}
	store := activeStore("task-1")
	store.Apply(taskstate.Reset{})

	p := New(src, store, "task-1", Config{Interval: 5 * time.Millisecond})
	p.Start(context.Background())
	waitDone(t, p)

	require.Equal(t, ReasonRejected, p.Reason())
	snap := store.Snapshot()
	require.Equal(t, taskstate.PhaseIdle, snap.Phase)
	require.Empty(t, snap.Steps)
}

func TestPollerStopIsIdempotent(t *testing.T) {
	src := &scriptedSource{}
	p := New(src, activeStore("task-1"), "task-1", Config{Interval: 5 * time.Millisecond})
	p.Start(context.Background())
	require.Eventually(t, func() bool { return src.calls.Load() >= 2 }, time.Second, time.Millisecond)

	p.Stop()
	p.Stop()
	require.Equal(t, ReasonStopped, p.Reason())

	calls := src.calls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, calls, src.calls.Load())
}

func TestStopBeforeStart(t *testing.T) {
	src := &scriptedSource{}
	p := New(src, activeStore("task-1"), "task-1", Config{})
	p.Stop()
	p.Start(context.Background())
	waitDone(t, p)
	require.Zero(t, src.calls.Load())
}

func TestPollerGivesUpAfterMaxDuration(t *testing.T) {
	src := &scriptedSource{}
	p := New(src, activeStore("task-1"), "task-1", Config{Interval: 5 * time.Millisecond, MaxDuration: 30 * time.Millisecond})
	p.Start(context.Background())
	waitDone(t, p)

	require.Equal(t, ReasonTimeout, p.Reason())
}

func TestPollerHonoursParentCancellation(t *testing.T) {
	src := &scriptedSource{}
	ctx, cancel := context.WithCancel(context.Background())
	p := New(src, activeStore("task-1"), "task-1", Config{Interval: 5 * time.Millisecond})
	p.Start(ctx)
	cancel()
	waitDone(t, p)

	require.Equal(t, ReasonCancelled, p.Reason())
}
