package httpclient

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"agentstudio/internal/logging"
	"agentstudio/internal/observability"
)

// UserAgent identifies outbound requests.
const UserAgent = "agentstudio/0.1"

// New builds an HTTP client with request-id tagging and debug logging.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &loggingRoundTripper{
			base:   http.DefaultTransport,
			logger: logging.OrNop(logger),
		},
	}
}

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := observability.RequestIDFromContext(req.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req = req.Clone(req.Context())
	req.Header.Set("X-Request-ID", requestID)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}

	started := time.Now()
	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(started).Round(time.Millisecond)
	if err != nil {
		t.logger.Debug("%s %s request_id=%s failed after %v: %v", req.Method, req.URL.Path, requestID, elapsed, err)
		return nil, err
	}
	t.logger.Debug("%s %s request_id=%s status=%d in %v", req.Method, req.URL.Path, requestID, resp.StatusCode, elapsed)
	return resp, nil
}
