package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agentstudio/internal/browseruse"
	agenterrors "agentstudio/internal/errors"
)

type fakeGateway struct {
	mu       sync.Mutex
	probes   map[string]browseruse.ProbeResponse
	probeErr map[string]error
	status   *browseruse.TaskStatus
	statusFn func() (*browseruse.TaskStatus, error)
	calls    []string
	block    chan struct{}
	// blockStep limits block to probes for one step when set.
	blockStep string

	statusCalls atomic.Int32
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		probes:   map[string]browseruse.ProbeResponse{},
		probeErr: map[string]error{},
	}
}

func (f *fakeGateway) Probe(ctx context.Context, path string) (browseruse.ProbeResponse, error) {
	if f.block != nil && (f.blockStep == "" || strings.Contains(path+"/", "/"+f.blockStep+"/")) {
		select {
		case <-f.block:
		case <-ctx.Done():
			return browseruse.ProbeResponse{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, path)
	if err := f.probeErr[path]; err != nil {
		return browseruse.ProbeResponse{}, err
	}
	if resp, ok := f.probes[path]; ok {
		return resp, nil
	}
	return browseruse.ProbeResponse{StatusCode: 404}, nil
}

func (f *fakeGateway) FetchStatus(ctx context.Context, taskID string) (*browseruse.TaskStatus, error) {
	f.statusCalls.Add(1)
	if f.statusFn != nil {
		return f.statusFn()
	}
	if f.status != nil {
		return f.status, nil
	}
	return &browseruse.TaskStatus{ID: taskID}, nil
}

func (f *fakeGateway) probeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newResolver(t *testing.T, gw Gateway) *Resolver {
	t.Helper()
	r, err := NewResolver(gw, Config{Stagger: 0, Concurrency: 2})
	require.NoError(t, err)
	return r
}

func TestFirstCandidateImageStopsProbing(t *testing.T) {
	gw := newFakeGateway()
	gw.probes["/task/t1/step/s1/screenshot"] = browseruse.ProbeResponse{
		StatusCode: 200, ContentType: "image/png", Body: []byte{0x89, 'P', 'N', 'G'},
	}
	r := newResolver(t, gw)

	res, err := r.Resolve(context.Background(), "t1", "s1")
	require.NoError(t, err)
	require.Equal(t, KindImage, res.Kind)
	require.Equal(t, "image/png", res.ContentType)
	require.Equal(t, []byte{0x89, 'P', 'N', 'G'}, res.Bytes)
	require.Equal(t, []string{"/task/t1/step/s1/screenshot"}, gw.probeCalls())
	require.Zero(t, gw.statusCalls.Load())
}

func TestJSONCandidateYieldsURL(t *testing.T) {
	gw := newFakeGateway()
	gw.probes["/task/t1/screenshots/s1"] = browseruse.ProbeResponse{
		StatusCode: 200, ContentType: "application/json", Body: []byte(`{"image_url":"https://cdn/s1.png"}`),
	}
	r := newResolver(t, gw)

	res, err := r.Resolve(context.Background(), "t1", "s1")
	require.NoError(t, err)
	require.Equal(t, KindURL, res.Kind)
	require.Equal(t, "https://cdn/s1.png", res.URL)
	require.Equal(t, "task_screenshots", res.Source)
	require.Equal(t, []string{"/task/t1/step/s1/screenshot", "/task/t1/screenshots/s1"}, gw.probeCalls())
}

func TestUnrecognisedSuccessBodyAdvances(t *testing.T) {
	gw := newFakeGateway()
	gw.probes["/task/t1/step/s1/screenshot"] = browseruse.ProbeResponse{
		StatusCode: 200, ContentType: "application/json", Body: []byte(`{"detail":"pending"}`),
	}
	gw.probes["/screenshot/t1/s1"] = browseruse.ProbeResponse{
		StatusCode: 200, ContentType: "image/jpeg; charset=binary", Body: []byte("jpg"),
	}
	r := newResolver(t, gw)

	res, err := r.Resolve(context.Background(), "t1", "s1")
	require.NoError(t, err)
	require.Equal(t, KindImage, res.Kind)
	require.Equal(t, "screenshot", res.Source)
	require.Len(t, gw.probeCalls(), 3)
}

func TestStatusFallbackPrefersStepField(t *testing.T) {
	gw := newFakeGateway()
	var status browseruse.TaskStatus
	require.NoError(t, json.Unmarshal([]byte(`{
		"id":"t1","status":"finished",
		"steps":[{"id":"s1","step":1,"screenshot":"https://cdn/step.png"}],
		"screenshots":[{"step_id":"s1","url":"https://cdn/array.png"}]
	}`), &status))
	gw.status = &status
	r := newResolver(t, gw)

	res, err := r.Resolve(context.Background(), "t1", "s1")
	require.NoError(t, err)
	require.Equal(t, KindURL, res.Kind)
	require.Equal(t, "https://cdn/step.png", res.URL)
	require.Equal(t, statusFallback, res.Source)
}

func TestStatusFallbackUsesScreenshotsArray(t *testing.T) {
	gw := newFakeGateway()
	var status browseruse.TaskStatus
	require.NoError(t, json.Unmarshal([]byte(`{
		"id":"t1","status":"running",
		"steps":[{"id":"s2","step":2}],
		"screenshots":[{"step_id":"s1","url":"https://cdn/array.png"}]
	}`), &status))
	gw.status = &status
	r := newResolver(t, gw)

	res, err := r.Resolve(context.Background(), "t1", "s1")
	require.NoError(t, err)
	require.Equal(t, "https://cdn/array.png", res.URL)
}

func TestConfirmedAbsentIsNeverReprobedAutomatically(t *testing.T) {
	gw := newFakeGateway()
	r := newResolver(t, gw)

	res, err := r.Resolve(context.Background(), "t1", "s1")
	require.NoError(t, err)
	require.Equal(t, KindAbsent, res.Kind)
	require.False(t, res.Found())
	require.Len(t, gw.probeCalls(), 3)
	require.EqualValues(t, 1, gw.statusCalls.Load())

	for i := 0; i < 3; i++ {
		again, err := r.Resolve(context.Background(), "t1", "s1")
		require.NoError(t, err)
		require.Equal(t, KindAbsent, again.Kind)
	}
	require.Len(t, gw.probeCalls(), 3)
	require.EqualValues(t, 1, gw.statusCalls.Load())

	cached, ok := r.Lookup("t1", "s1")
	require.True(t, ok)
	require.Equal(t, KindAbsent, cached.Kind)
}

func TestReprobeResolvesAgain(t *testing.T) {
	gw := newFakeGateway()
	r := newResolver(t, gw)

	_, err := r.Resolve(context.Background(), "t1", "s1")
	require.NoError(t, err)

	gw.mu.Lock()
	gw.probes["/task/t1/step/s1/screenshot"] = browseruse.ProbeResponse{StatusCode: 200, ContentType: "image/webp", Body: []byte("w")}
	gw.mu.Unlock()

	res, err := r.Reprobe(context.Background(), "t1", "s1")
	require.NoError(t, err)
	require.Equal(t, KindImage, res.Kind)
	require.Len(t, gw.probeCalls(), 4)
}

func TestResetClearsCache(t *testing.T) {
	gw := newFakeGateway()
	r := newResolver(t, gw)

	_, err := r.Resolve(context.Background(), "t1", "s1")
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())

	r.Reset()
	require.Zero(t, r.Len())
	_, ok := r.Lookup("t1", "s1")
	require.False(t, ok)

	_, err = r.Resolve(context.Background(), "t1", "s1")
	require.NoError(t, err)
	require.Len(t, gw.probeCalls(), 6)
}

func TestTransientProbeErrorAdvances(t *testing.T) {
	gw := newFakeGateway()
	gw.probeErr["/task/t1/step/s1/screenshot"] = &agenterrors.RemoteUnavailableError{Err: fmt.Errorf("connection reset")}
	gw.probes["/task/t1/screenshots/s1"] = browseruse.ProbeResponse{
		StatusCode: 200, Body: []byte(`{"url":"https://cdn/x.png"}`),
	}
	r := newResolver(t, gw)

	res, err := r.Resolve(context.Background(), "t1", "s1")
	require.NoError(t, err)
	require.Equal(t, "https://cdn/x.png", res.URL)
}

func TestAbortedResolutionIsNotCached(t *testing.T) {
	gw := newFakeGateway()
	gw.probeErr["/task/t1/step/s1/screenshot"] = agenterrors.NewMissingCredential("BROWSER_USE_API_KEY")
	r := newResolver(t, gw)

	_, err := r.Resolve(context.Background(), "t1", "s1")
	require.ErrorIs(t, err, agenterrors.ErrConfiguration)
	require.Zero(t, r.Len())
	require.Zero(t, gw.statusCalls.Load())

	gw.mu.Lock()
	delete(gw.probeErr, "/task/t1/step/s1/screenshot")
	gw.mu.Unlock()

	res, err := r.Resolve(context.Background(), "t1", "s1")
	require.NoError(t, err)
	require.Equal(t, KindAbsent, res.Kind)
}

func TestFallbackFailureCachesAbsent(t *testing.T) {
	gw := newFakeGateway()
	gw.statusFn = func() (*browseruse.TaskStatus, error) {
		return nil, &agenterrors.RemoteUnavailableError{StatusCode: 503}
	}
	r := newResolver(t, gw)

	res, err := r.Resolve(context.Background(), "t1", "s1")
	require.NoError(t, err)
	require.Equal(t, KindAbsent, res.Kind)
}

func TestConcurrentResolveSharesPendingEntry(t *testing.T) {
	gw := newFakeGateway()
	gw.block = make(chan struct{})
	gw.probes["/task/t1/step/s1/screenshot"] = browseruse.ProbeResponse{StatusCode: 200, ContentType: "image/png", Body: []byte("p")}
	r := newResolver(t, gw)

	var wg sync.WaitGroup
	results := make([]Resolution, 5)
	errs := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(), "t1", "s1")
		}(i)
	}
	require.Eventually(t, func() bool { return r.Pending() == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, r.Len())
	close(gw.block)
	wg.Wait()

	for i, res := range results {
		require.NoError(t, errs[i])
		require.Equal(t, KindImage, res.Kind)
	}
	require.Len(t, gw.probeCalls(), 1)
}

func TestResolveAllCoversEveryStepOnce(t *testing.T) {
	gw := newFakeGateway()
	gw.probes["/task/t1/step/a/screenshot"] = browseruse.ProbeResponse{StatusCode: 200, ContentType: "image/png", Body: []byte("a")}
	gw.probes["/task/t1/step/b/screenshot"] = browseruse.ProbeResponse{StatusCode: 200, Body: []byte(`{"screenshot_url":"https://cdn/b.png"}`)}
	r, err := NewResolver(gw, Config{Stagger: time.Millisecond, Concurrency: 2})
	require.NoError(t, err)

	results := r.ResolveAll(context.Background(), "t1", []string{"a", "b", "c", "a", ""})
	require.Len(t, results, 3)
	require.Equal(t, KindImage, results["a"].Kind)
	require.Equal(t, KindURL, results["b"].Kind)
	require.Equal(t, KindAbsent, results["c"].Kind)
}

func TestResolveAllStaggersStarts(t *testing.T) {
	gw := newFakeGateway()
	r, err := NewResolver(gw, Config{Stagger: 40 * time.Millisecond, Concurrency: 4})
	require.NoError(t, err)

	started := time.Now()
	results := r.ResolveAll(context.Background(), "t1", []string{"a", "b", "c"})
	require.Len(t, results, 3)
	require.GreaterOrEqual(t, time.Since(started), 70*time.Millisecond)
}

func TestResolveRejectsBlankIDs(t *testing.T) {
	r := newResolver(t, newFakeGateway())
	_, err := r.Resolve(context.Background(), "", "s1")
	require.ErrorIs(t, err, agenterrors.ErrValidation)
}

func TestNewResolverRequiresGateway(t *testing.T) {
	_, err := NewResolver(nil, Config{})
	require.Error(t, err)
}

func TestPendingResolutionSurvivesCacheEviction(t *testing.T) {
	gw := newFakeGateway()
	gw.block = make(chan struct{})
	gw.blockStep = "s1"
	gw.probes["/task/t1/step/s1/screenshot"] = browseruse.ProbeResponse{StatusCode: 200, ContentType: "image/png", Body: []byte("p")}
	r, err := NewResolver(gw, Config{CacheSize: 1, Concurrency: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Resolution, 2)
	errs := make([]error, 2)
	resolve := func(i int) {
		defer wg.Done()
		results[i], errs[i] = r.Resolve(context.Background(), "t1", "s1")
	}
	wg.Add(1)
	go resolve(0)
	require.Eventually(t, func() bool { return r.Pending() == 1 }, time.Second, 5*time.Millisecond)

	// Settle more steps than the cache holds while s1 is still in flight.
	for _, step := range []string{"s2", "s3", "s4"} {
		_, err := r.Resolve(context.Background(), "t1", step)
		require.NoError(t, err)
	}
	require.Equal(t, 1, r.Len())
	require.Equal(t, 1, r.Pending())

	wg.Add(1)
	go resolve(1)
	close(gw.block)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, KindImage, results[i].Kind)
	}
	var s1Probes int
	for _, path := range gw.probeCalls() {
		if path == "/task/t1/step/s1/screenshot" {
			s1Probes++
		}
	}
	require.Equal(t, 1, s1Probes)
}

func TestResetDropsInFlightResult(t *testing.T) {
	gw := newFakeGateway()
	gw.block = make(chan struct{})
	r := newResolver(t, gw)

	done := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), "t1", "s1")
		done <- err
	}()
	require.Eventually(t, func() bool { return r.Pending() == 1 }, time.Second, 5*time.Millisecond)

	r.Reset()
	require.Zero(t, r.Pending())
	close(gw.block)
	require.NoError(t, <-done)

	_, ok := r.Lookup("t1", "s1")
	require.False(t, ok)
	require.Zero(t, r.Len())
}
