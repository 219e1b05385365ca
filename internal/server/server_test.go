package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"agentstudio/internal/browseruse"
	"agentstudio/internal/config"
	"agentstudio/internal/domain/task"
	agenterrors "agentstudio/internal/errors"
	"agentstudio/internal/research"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGateway struct {
	mu       sync.Mutex
	startErr error
	probes   map[string]browseruse.ProbeResponse
	probed   []string
}

func (f *fakeGateway) StartTask(ctx context.Context, req browseruse.StartRequest) (browseruse.StartResult, error) {
	if f.startErr != nil {
		return browseruse.StartResult{}, f.startErr
	}
	return browseruse.StartResult{ID: "task-1"}, nil
}

func (f *fakeGateway) FetchStatus(ctx context.Context, taskID string) (*browseruse.TaskStatus, error) {
	return &browseruse.TaskStatus{
		ID:     taskID,
		Status: task.StatusRunning,
		Steps:  []browseruse.StepPayload{{ID: "s1", Step: 1, NextGoal: "open site"}},
	}, nil
}

func (f *fakeGateway) FetchFileDownloadURL(ctx context.Context, taskID, fileName string) (string, error) {
	if fileName == "report.pdf" {
		return "https://files/" + taskID + "/report.pdf", nil
	}
	return "", &agenterrors.NotFoundError{Resource: fileName}
}

func (f *fakeGateway) Probe(ctx context.Context, path string) (browseruse.ProbeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, path)
	if resp, ok := f.probes[path]; ok {
		return resp, nil
	}
	return browseruse.ProbeResponse{StatusCode: http.StatusNotFound}, nil
}

func (f *fakeGateway) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.probed)
}

func newTestServer(t *testing.T, gw research.Gateway, cfg Config) *httptest.Server {
	t.Helper()
	svc, err := research.NewService(gw, research.Config{
		PollInterval:    10 * time.Millisecond,
		MaxPollDuration: 5 * time.Second,
		Retry:           agenterrors.RetryConfig{MaxAttempts: 1},
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	srv, err := New(svc, cfg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return out
}

func TestHealthAndTemplates(t *testing.T) {
	ts := newTestServer(t, &fakeGateway{}, Config{})

	resp, body := getJSON(t, ts.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "Agent Studio", body["app"])

	resp, body = getJSON(t, ts.URL+"/api/templates")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["templates"], 4)
}

func TestStartResearchValidation(t *testing.T) {
	ts := newTestServer(t, &fakeGateway{}, Config{})

	resp, body := postJSON(t, ts.URL+"/api/research", map[string]string{"company_name": "  "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "company name is required", body["error"])

	resp, err := http.Post(ts.URL+"/api/research", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartResearchWithoutCredential(t *testing.T) {
	cfg := config.Defaults()
	cfg.BaseURL = "http://127.0.0.1:1"
	ts := newTestServer(t, browseruse.NewClient(cfg), Config{})

	resp, body := postJSON(t, ts.URL+"/api/research", map[string]string{"company_name": "Acme"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Contains(t, body["error"], "BROWSER_USE_API_KEY")
}

func TestStartResearchRejected(t *testing.T) {
	gw := &fakeGateway{startErr: &agenterrors.RemoteRejectedError{StatusCode: 422, Body: `{"detail":"bad model"}`}}
	ts := newTestServer(t, gw, Config{})

	resp, body := postJSON(t, ts.URL+"/api/research", map[string]string{"company_name": "Acme"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, `{"detail":"bad model"}`, body["details"])
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t, &fakeGateway{}, Config{})

	resp, body := postJSON(t, ts.URL+"/api/research", map[string]string{"company_name": "Acme", "task_type": "vc-analysis"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "task-1", body["task_id"])

	require.Eventually(t, func() bool {
		_, view := getJSON(t, ts.URL+"/api/task")
		return view["progress"] == "Step 1/?: open site"
	}, 2*time.Second, 10*time.Millisecond)

	_, view := getJSON(t, ts.URL+"/api/task")
	require.Equal(t, "task-1", view["task_id"])
	require.Equal(t, "vc-analysis", view["task_type"])
	require.Equal(t, "Running", view["status_label"])

	resp, body = getJSON(t, ts.URL+"/api/task/files/report.pdf")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "https://files/task-1/report.pdf", body["download_url"])
	require.Equal(t, "report.pdf", body["file_name"])

	resp, _ = getJSON(t, ts.URL+"/api/task/files/other.csv")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = postJSON(t, ts.URL+"/api/task/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "idle", body["phase"])
	require.Equal(t, "Ready", body["status_label"])
}

func TestScreenshotEndpoint(t *testing.T) {
	gw := &fakeGateway{probes: map[string]browseruse.ProbeResponse{
		"/task/task-1/step/img/screenshot": {StatusCode: 200, ContentType: "image/png", Body: []byte("png-bytes")},
		"/task/task-1/screenshots/link":    {StatusCode: 200, Body: []byte(`{"screenshot_url":"https://cdn/link.png"}`)},
	}}
	ts := newTestServer(t, gw, Config{})

	resp, _ := getJSON(t, ts.URL+"/api/task/steps/s1/screenshot")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, body := postJSON(t, ts.URL+"/api/research", map[string]string{"company_name": "Acme"})
	require.Equal(t, "task-1", body["task_id"])

	resp, err := http.Get(ts.URL + "/api/task/steps/img/screenshot")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.Equal(t, "png-bytes", string(raw))

	resp, body = getJSON(t, ts.URL+"/api/task/steps/link/screenshot")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "https://cdn/link.png", body["screenshot_url"])

	before := gw.probeCount()
	resp, body = getJSON(t, ts.URL+"/api/task/steps/none/screenshot")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "Screenshot not found for this step", body["error"])
	require.Equal(t, before+3, gw.probeCount())

	resp, _ = getJSON(t, ts.URL+"/api/task/steps/none/screenshot")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, before+3, gw.probeCount())

	resp, _ = getJSON(t, ts.URL+"/api/task/steps/none/screenshot?reprobe=1")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, before+6, gw.probeCount())
}

func TestStartRateLimit(t *testing.T) {
	ts := newTestServer(t, &fakeGateway{}, Config{StartsPerMinute: 1})

	resp, _ := postJSON(t, ts.URL+"/api/research", map[string]string{"company_name": "Acme"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = postJSON(t, ts.URL+"/api/research", map[string]string{"company_name": "Acme"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestMetricsDisabledReturnsNotFound(t *testing.T) {
	ts := newTestServer(t, &fakeGateway{}, Config{})
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamPushesSnapshots(t *testing.T) {
	ts := newTestServer(t, &fakeGateway{}, Config{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/task/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "idle", first["phase"])

	resp, _ := postJSON(t, ts.URL+"/api/research", map[string]string{"company_name": "Acme"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["task_id"] == "task-1" && msg["phase"] == "active" {
			break
		}
	}
}

func TestStreamRejectsOriginOutsideAllowList(t *testing.T) {
	ts := newTestServer(t, &fakeGateway{}, Config{CORSOrigins: []string{"http://localhost:3000"}})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/task/stream"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://localhost:3000"}})
	require.NoError(t, err)
	conn.Close()
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/task/stream", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	check := originChecker([]string{"http://localhost:3000/"})
	require.True(t, check(req("http://localhost:3000")))
	require.True(t, check(req("HTTP://LOCALHOST:3000")))
	require.True(t, check(req("")))
	require.False(t, check(req("http://evil.example")))
	require.False(t, check(req("http://localhost:3001")))

	require.True(t, originChecker(nil)(req("http://evil.example")))
	require.True(t, originChecker([]string{"*"})(req("http://evil.example")))
}
