package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	agenterrors "agentstudio/internal/errors"
	"agentstudio/internal/logging"
)

// Verdict is how a finished round trip counts against the breaker.
type Verdict int

const (
	// VerdictHealthy means the upstream answered. A 404 from a screenshot
	// probe is an answer.
	VerdictHealthy Verdict = iota
	VerdictFailure
	// VerdictIgnored leaves the breaker untouched.
	VerdictIgnored
)

// Classifier judges a round trip. err is the transport error, if any.
type Classifier func(req *http.Request, resp *http.Response, err error) Verdict

// ClassifyRemote counts outages and throttling against the Browser Use host.
// Any other status the API chose to return is healthy, and requests the
// caller abandoned say nothing about the upstream.
func ClassifyRemote(req *http.Request, resp *http.Response, err error) Verdict {
	if err != nil {
		if errors.Is(err, context.Canceled) || req.Context().Err() != nil {
			return VerdictIgnored
		}
		return VerdictFailure
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return VerdictFailure
	}
	return VerdictHealthy
}

// GuardConfig configures NewGuarded. Zero values fall back to defaults.
type GuardConfig struct {
	Name     string
	Timeout  time.Duration
	Breaker  agenterrors.CircuitBreakerConfig
	Classify Classifier
}

// NewGuarded builds a client whose requests pass a circuit breaker kept per
// upstream host. While a host's circuit is open its requests fail with an
// error wrapping errors.ErrCircuitOpen without reaching the network.
func NewGuarded(cfg GuardConfig, logger logging.Logger) *http.Client {
	client := New(cfg.Timeout, logger)
	client.Transport = newGuardTransport(client.Transport, cfg, logger)
	return client
}

type guardTransport struct {
	base     http.RoundTripper
	name     string
	config   agenterrors.CircuitBreakerConfig
	classify Classifier
	logger   logging.Logger

	mu       sync.Mutex
	breakers map[string]*agenterrors.CircuitBreaker
}

func newGuardTransport(base http.RoundTripper, cfg GuardConfig, logger logging.Logger) *guardTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.Name == "" {
		cfg.Name = "remote"
	}
	if cfg.Breaker == (agenterrors.CircuitBreakerConfig{}) {
		cfg.Breaker = agenterrors.DefaultCircuitBreakerConfig()
	}
	if cfg.Classify == nil {
		cfg.Classify = ClassifyRemote
	}
	return &guardTransport{
		base:     base,
		name:     cfg.Name,
		config:   cfg.Breaker,
		classify: cfg.Classify,
		logger:   logging.OrNop(logger),
		breakers: make(map[string]*agenterrors.CircuitBreaker),
	}
}

func (t *guardTransport) breaker(host string) *agenterrors.CircuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.breakers[host]
	if !ok {
		cb = agenterrors.NewCircuitBreaker(t.name+"@"+host, t.config, t.logger)
		t.breakers[host] = cb
	}
	return cb
}

func (t *guardTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("nil request")
	}
	cb := t.breaker(req.URL.Host)
	if err := cb.Allow(); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	switch t.classify(req, resp, err) {
	case VerdictHealthy:
		cb.Mark(nil)
	case VerdictFailure:
		if err == nil {
			err := fmt.Errorf("%s %s: http status %d", req.Method, req.URL.Path, resp.StatusCode)
			t.logger.Debug("Counting failure against %s: %v", req.URL.Host, err)
			cb.Mark(err)
		} else {
			cb.Mark(err)
		}
	}
	return resp, err
}
