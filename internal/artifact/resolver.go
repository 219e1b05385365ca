package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"agentstudio/internal/browseruse"
	agenterrors "agentstudio/internal/errors"
	"agentstudio/internal/logging"
	"agentstudio/internal/observability"
)

const (
	defaultCacheSize   = 512
	defaultStagger     = 500 * time.Millisecond
	defaultConcurrency = 2
)

// Gateway is the subset of the remote client the resolver needs.
type Gateway interface {
	Probe(ctx context.Context, path string) (browseruse.ProbeResponse, error)
	FetchStatus(ctx context.Context, taskID string) (*browseruse.TaskStatus, error)
}

// Config tunes the resolver. Zero values fall back to defaults.
type Config struct {
	CacheSize   int
	Stagger     time.Duration
	Concurrency int
}

// entry is one resolution. done is closed once res or err is final; until
// then the entry sits in the pending set so concurrent callers join it.
type entry struct {
	done chan struct{}
	res  Resolution
	err  error
}

// Resolver locates step screenshots and owns the resolution cache.
type Resolver struct {
	gateway     Gateway
	stagger     time.Duration
	concurrency int

	mu sync.Mutex
	// cache holds settled entries only. In-flight entries live in pending,
	// outside the LRU, so eviction can never detach a resolution that other
	// callers are about to join.
	cache   *lru.Cache[string, *entry]
	pending map[string]*entry

	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
}

// Option customises a Resolver.
type Option func(*Resolver)

func WithLogger(logger logging.Logger) Option {
	return func(r *Resolver) { r.logger = logging.OrNop(logger) }
}

func WithMetrics(m *observability.MetricsCollector) Option {
	return func(r *Resolver) { r.metrics = m }
}

func WithTracer(tp *observability.TracerProvider) Option {
	return func(r *Resolver) {
		if tp != nil {
			r.tracer = tp
		}
	}
}

// NewResolver creates a resolver backed by a bounded LRU cache.
func NewResolver(gateway Gateway, cfg Config, opts ...Option) (*Resolver, error) {
	if gateway == nil {
		return nil, fmt.Errorf("artifact resolver requires a gateway")
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.Stagger < 0 {
		cfg.Stagger = defaultStagger
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	cache, err := lru.New[string, *entry](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create resolution cache: %w", err)
	}
	r := &Resolver{
		gateway:     gateway,
		stagger:     cfg.Stagger,
		concurrency: cfg.Concurrency,
		cache:       cache,
		pending:     make(map[string]*entry),
		logger:      logging.NewComponentLogger("artifact"),
		tracer:      observability.NoopTracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func cacheKey(taskID, stepID string) string {
	return taskID + "/" + stepID
}

// Resolve returns the screenshot for a step. A cached result, including a
// confirmed absence, is returned without touching the network. Concurrent
// calls for the same step share one resolution.
func (r *Resolver) Resolve(ctx context.Context, taskID, stepID string) (Resolution, error) {
	taskID, stepID = strings.TrimSpace(taskID), strings.TrimSpace(stepID)
	if taskID == "" || stepID == "" {
		return Resolution{}, agenterrors.Validation("task id and step id are required")
	}
	key := cacheKey(taskID, stepID)

	r.mu.Lock()
	if e, ok := r.cache.Get(key); ok {
		r.mu.Unlock()
		return e.res, e.err
	}
	if e, ok := r.pending[key]; ok {
		r.mu.Unlock()
		select {
		case <-e.done:
			return e.res, e.err
		case <-ctx.Done():
			return Resolution{}, ctx.Err()
		}
	}
	e := &entry{done: make(chan struct{})}
	r.pending[key] = e
	r.mu.Unlock()

	res, err := r.resolve(ctx, taskID, stepID)

	r.mu.Lock()
	e.res, e.err = res, err
	// A Reset while in flight replaces pending; the stale result is dropped.
	if cur, ok := r.pending[key]; ok && cur == e {
		delete(r.pending, key)
		// Aborted outcomes are not cached so a later call tries again.
		if err == nil {
			r.cache.Add(key, e)
		}
	}
	close(e.done)
	r.mu.Unlock()
	return res, err
}

// Reprobe discards a settled result for the step and resolves it again. A
// resolution already in flight is joined instead.
func (r *Resolver) Reprobe(ctx context.Context, taskID, stepID string) (Resolution, error) {
	key := cacheKey(strings.TrimSpace(taskID), strings.TrimSpace(stepID))
	r.mu.Lock()
	r.cache.Remove(key)
	r.mu.Unlock()
	return r.Resolve(ctx, taskID, stepID)
}

// Lookup returns a settled cached result without probing.
func (r *Resolver) Lookup(taskID, stepID string) (Resolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache.Peek(cacheKey(taskID, stepID))
	if !ok {
		return Resolution{}, false
	}
	return e.res, true
}

// ResolveAll resolves several steps of one task, starting them one stagger
// interval apart with bounded concurrency. Steps whose resolution was aborted
// are missing from the result.
func (r *Resolver) ResolveAll(ctx context.Context, taskID string, stepIDs []string) map[string]Resolution {
	limit := rate.Inf
	if r.stagger > 0 {
		limit = rate.Every(r.stagger)
	}
	limiter := rate.NewLimiter(limit, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	var mu sync.Mutex
	results := make(map[string]Resolution, len(stepIDs))
	seen := make(map[string]bool, len(stepIDs))

	for _, stepID := range stepIDs {
		if stepID == "" || seen[stepID] {
			continue
		}
		seen[stepID] = true
		if err := limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			res, err := r.Resolve(gctx, taskID, stepID)
			if err != nil {
				r.logger.Debug("Screenshot for step %s not resolved: %v", stepID, err)
				return nil
			}
			mu.Lock()
			results[stepID] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Reset drops every cached and pending result. Resolutions still in flight
// finish for their current callers but are not cached.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.cache.Purge()
	r.pending = make(map[string]*entry)
	r.mu.Unlock()
}

// Len reports the number of settled entries in the cache.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}

// Pending reports the number of resolutions in flight.
func (r *Resolver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Resolver) resolve(ctx context.Context, taskID, stepID string) (res Resolution, err error) {
	ctx = observability.ContextWithTaskID(ctx, taskID)
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanResolveArtifact,
		attribute.String(observability.AttrStepID, stepID))
	defer func() {
		if err == nil {
			span.SetAttributes(attribute.String("agentstudio.resolution", string(res.Kind)))
			r.metrics.RecordResolution(ctx, string(res.Kind))
		}
		observability.EndSpan(span, err)
	}()
	logger := logging.WithTaskID(r.logger, taskID)

	for _, c := range screenshotCandidates {
		resp, err := r.gateway.Probe(ctx, c.path(taskID, stepID))
		if err != nil {
			if aborts(ctx, err) {
				return Resolution{}, err
			}
			r.metrics.RecordProbe(ctx, c.name, "error")
			logger.Debug("Probe %s for step %s failed: %v", c.name, stepID, err)
			continue
		}
		if !resp.OK() {
			r.metrics.RecordProbe(ctx, c.name, "miss")
			continue
		}
		if isImage(resp.ContentType) {
			r.metrics.RecordProbe(ctx, c.name, "image")
			logger.Debug("Screenshot for step %s served by %s", stepID, c.name)
			return imageResolution(c.name, resp.ContentType, resp.Body), nil
		}
		if loc, ok := browseruse.ScreenshotLocation(resp.Body); ok {
			r.metrics.RecordProbe(ctx, c.name, "url")
			logger.Debug("Screenshot for step %s located by %s", stepID, c.name)
			return urlResolution(c.name, loc), nil
		}
		r.metrics.RecordProbe(ctx, c.name, "miss")
	}

	status, err := r.gateway.FetchStatus(ctx, taskID)
	if err != nil {
		if aborts(ctx, err) {
			return Resolution{}, err
		}
		logger.Debug("Status fallback for step %s failed: %v", stepID, err)
		return absent(), nil
	}
	if loc := status.ScreenshotFor(stepID); loc != "" {
		return urlResolution(statusFallback, loc), nil
	}
	logger.Debug("No screenshot for step %s", stepID)
	return absent(), nil
}

// aborts reports errors that say nothing about whether the screenshot
// exists. Such outcomes are not cached.
func aborts(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, agenterrors.ErrConfiguration) ||
		errors.Is(err, agenterrors.ErrCircuitOpen)
}
