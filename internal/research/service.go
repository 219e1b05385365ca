// Package research is the entry point used by the CLI and the local HTTP
// API. It starts remote tasks, drives the poller, collects generated files,
// and serves screenshots through the artifact resolver.
package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentstudio/internal/artifact"
	"agentstudio/internal/browseruse"
	"agentstudio/internal/config"
	"agentstudio/internal/domain/task"
	agenterrors "agentstudio/internal/errors"
	"agentstudio/internal/logging"
	"agentstudio/internal/observability"
	"agentstudio/internal/poller"
	"agentstudio/internal/taskstate"
	"agentstudio/internal/tasktemplate"
)

// Gateway is the remote API surface the service depends on.
type Gateway interface {
	StartTask(ctx context.Context, req browseruse.StartRequest) (browseruse.StartResult, error)
	FetchStatus(ctx context.Context, taskID string) (*browseruse.TaskStatus, error)
	FetchFileDownloadURL(ctx context.Context, taskID, fileName string) (string, error)
	Probe(ctx context.Context, path string) (browseruse.ProbeResponse, error)
}

// Config tunes the service.
type Config struct {
	PollInterval          time.Duration
	MaxPollDuration       time.Duration
	ScreenshotStagger     time.Duration
	ScreenshotConcurrency int
	ArtifactCacheSize     int
	DefaultTaskType       string
	Retry                 agenterrors.RetryConfig
}

// ConfigFrom maps application configuration onto service settings.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		PollInterval:          cfg.PollInterval,
		MaxPollDuration:       cfg.MaxPollDuration,
		ScreenshotStagger:     cfg.ScreenshotStagger,
		ScreenshotConcurrency: cfg.ScreenshotConcurrency,
		ArtifactCacheSize:     cfg.ArtifactCacheSize,
		DefaultTaskType:       cfg.DefaultTaskType,
		Retry:                 agenterrors.DefaultRetryConfig(),
	}
}

// Service owns the single tracked task.
type Service struct {
	gateway  Gateway
	store    *taskstate.Store
	resolver *artifact.Resolver
	catalog  *tasktemplate.Catalog
	config   Config

	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
	now     func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	attempt uint64
	poller  *poller.Poller
}

// Option customises a Service.
type Option func(*Service)

func WithLogger(logger logging.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(logger) }
}

func WithMetrics(m *observability.MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(tp *observability.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp
		}
	}
}

func WithCatalog(c *tasktemplate.Catalog) Option {
	return func(s *Service) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithClock replaces time.Now for recorded timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires a service around gateway.
func NewService(gateway Gateway, cfg Config, opts ...Option) (*Service, error) {
	if gateway == nil {
		return nil, fmt.Errorf("research service requires a gateway")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.DefaultPollInterval
	}
	if cfg.MaxPollDuration <= 0 {
		cfg.MaxPollDuration = config.DefaultMaxPollDuration
	}
	s := &Service{
		gateway: gateway,
		store:   taskstate.NewStore(),
		catalog: tasktemplate.Builtin(),
		config:  cfg,
		logger:  logging.NewComponentLogger("research"),
		tracer:  observability.NoopTracer(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	resolver, err := artifact.NewResolver(gateway, artifact.Config{
		CacheSize:   cfg.ArtifactCacheSize,
		Stagger:     cfg.ScreenshotStagger,
		Concurrency: cfg.ScreenshotConcurrency,
	},
		artifact.WithLogger(logging.NewComponentLogger("artifact")),
		artifact.WithMetrics(s.metrics),
		artifact.WithTracer(s.tracer),
	)
	if err != nil {
		return nil, err
	}
	s.resolver = resolver
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// StartResearch launches a remote task for companyName and begins polling
// it. Any previously tracked task is abandoned.
func (s *Service) StartResearch(ctx context.Context, req browseruse.StartRequest) (string, error) {
	req.CompanyName = strings.TrimSpace(req.CompanyName)
	if req.CompanyName == "" {
		return "", agenterrors.Validation("company name is required")
	}
	if strings.TrimSpace(req.TaskType) == "" {
		req.TaskType = s.config.DefaultTaskType
	}
	req.TaskType = s.catalog.Get(req.TaskType).ID

	// The attempt advances only once Begin is accepted, so a rejected start
	// leaves the in-flight one able to attach its poller.
	s.mu.Lock()
	attempt := s.attempt + 1
	if !s.store.Apply(taskstate.Begin{Attempt: attempt, CompanyName: req.CompanyName, TaskType: req.TaskType}) {
		s.mu.Unlock()
		return "", agenterrors.Validation("a task is already being started")
	}
	s.attempt = attempt
	previous := s.poller
	s.poller = nil
	s.mu.Unlock()
	if previous != nil {
		previous.Stop()
	}

	result, err := s.gateway.StartTask(ctx, req)
	if err != nil {
		s.store.Apply(taskstate.StartFailed{Attempt: attempt, Message: agenterrors.FormatForUser(err)})
		s.metrics.RecordTaskStart(ctx, req.TaskType, "error")
		s.logger.Warn("Start for %q failed: %v", req.CompanyName, err)
		return "", err
	}
	s.metrics.RecordTaskStart(ctx, req.TaskType, "ok")

	if !s.store.Apply(taskstate.Start{Attempt: attempt, TaskID: result.ID, LiveURL: result.LiveURL, At: s.now()}) {
		s.logger.Warn("Task %s created after the start was abandoned; not tracking it", result.ID)
		return result.ID, nil
	}
	s.resolver.Reset()
	s.track(attempt, result.ID)
	return result.ID, nil
}

// Track begins polling an existing remote task, replacing whatever was
// tracked before.
func (s *Service) Track(taskID string) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return agenterrors.Validation("task id is required")
	}

	s.mu.Lock()
	s.attempt++
	attempt := s.attempt
	previous := s.poller
	s.poller = nil
	s.mu.Unlock()
	if previous != nil {
		previous.Stop()
	}

	s.store.Apply(taskstate.Start{TaskID: taskID, At: s.now()})
	s.resolver.Reset()
	s.track(attempt, taskID)
	return nil
}

func (s *Service) track(attempt uint64, taskID string) {
	p := poller.New(s.gateway, s.store, taskID, poller.Config{
		Interval:    s.config.PollInterval,
		MaxDuration: s.config.MaxPollDuration,
	},
		poller.WithLogger(logging.NewComponentLogger("poller")),
		poller.WithMetrics(s.metrics),
		poller.WithClock(s.now),
		poller.WithOnTerminal(func(ctx context.Context, status *browseruse.TaskStatus) {
			s.finalize(ctx, taskID, status)
		}),
	)

	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		return
	}
	s.poller = p
	s.mu.Unlock()
	p.Start(s.baseCtx)

	go func() {
		<-p.Done()
		var summary string
		switch p.Reason() {
		case poller.ReasonTimeout:
			summary = fmt.Sprintf("Stopped waiting after %v. The task may still be running remotely.", s.config.MaxPollDuration)
		case poller.ReasonFatal:
			summary = "Polling stopped: the Browser Use API key is not configured."
		default:
			return
		}
		s.store.Apply(taskstate.Complete{TaskID: taskID, Summary: summary, At: s.now()})
	}()
}

// finalize collects generated files and records the execution summary once
// the remote task has ended.
func (s *Service) finalize(ctx context.Context, taskID string, status *browseruse.TaskStatus) {
	logger := logging.WithTaskID(s.logger, taskID)

	if status.Status == task.StatusFinished {
		for _, f := range status.OutputFiles {
			name := strings.TrimSpace(f.Name)
			if name == "" {
				continue
			}
			link, err := agenterrors.RetryTransient(ctx, s.config.Retry, logger, func(ctx context.Context) (string, error) {
				return s.gateway.FetchFileDownloadURL(ctx, taskID, name)
			})
			if err != nil {
				logger.Warn("Output file %s skipped: %v", name, err)
				continue
			}
			fileType := task.FileTypeFromName(name)
			s.store.Apply(taskstate.AddFile{TaskID: taskID, File: task.GeneratedFile{
				ID:          uuid.NewString(),
				Name:        name,
				Type:        fileType,
				Size:        FormatSize(f.Size),
				URL:         link,
				Description: describeFile(fileType),
				CreatedAt:   s.now(),
			}})
		}
	}

	snap := s.store.Snapshot()
	if snap.TaskID != taskID {
		return
	}
	summary := Summarize(snap.CompanyName, status.Status, snap.ParsedOutput(), len(snap.Files))
	if s.store.Apply(taskstate.Complete{TaskID: taskID, Summary: summary, At: s.now()}) {
		final := s.store.Snapshot()
		s.metrics.RecordTaskDuration(ctx, string(status.Status), final.Duration(s.now()))
		logger.Info("Task finished with status %s, %d files", status.Status, len(final.Files))
	}
}

// Snapshot returns the current task state.
func (s *Service) Snapshot() taskstate.State {
	return s.store.Snapshot()
}

// Subscribe streams state snapshots after every change.
func (s *Service) Subscribe(buffer int) <-chan taskstate.State {
	return s.store.Subscribe(buffer)
}

// Unsubscribe stops a stream returned by Subscribe.
func (s *Service) Unsubscribe(ch <-chan taskstate.State) {
	s.store.Unsubscribe(ch)
}

// Done is closed when polling of the current task has ended. With nothing
// being polled it returns a closed channel.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	p := s.poller
	s.mu.Unlock()
	if p == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.Done()
}

// Wait blocks until polling ends or ctx is cancelled, then returns the state.
func (s *Service) Wait(ctx context.Context) (taskstate.State, error) {
	select {
	case <-s.Done():
		return s.store.Snapshot(), nil
	case <-ctx.Done():
		return s.store.Snapshot(), ctx.Err()
	}
}

func (s *Service) currentTaskID() (string, error) {
	taskID := s.store.TaskID()
	if taskID == "" {
		return "", &agenterrors.NotFoundError{Resource: "task"}
	}
	return taskID, nil
}

// ResolveScreenshot returns the screenshot of a step of the tracked task.
func (s *Service) ResolveScreenshot(ctx context.Context, stepID string) (artifact.Resolution, error) {
	taskID, err := s.currentTaskID()
	if err != nil {
		return artifact.Resolution{}, err
	}
	return s.resolver.Resolve(ctx, taskID, stepID)
}

// ReprobeScreenshot forces a fresh resolution, including for steps already
// confirmed absent.
func (s *Service) ReprobeScreenshot(ctx context.Context, stepID string) (artifact.Resolution, error) {
	taskID, err := s.currentTaskID()
	if err != nil {
		return artifact.Resolution{}, err
	}
	return s.resolver.Reprobe(ctx, taskID, stepID)
}

// ResolveAllScreenshots resolves every known step, staggered.
func (s *Service) ResolveAllScreenshots(ctx context.Context) (map[string]artifact.Resolution, error) {
	snap := s.store.Snapshot()
	if snap.TaskID == "" {
		return nil, &agenterrors.NotFoundError{Resource: "task"}
	}
	ids := make([]string, 0, len(snap.Steps))
	for _, step := range snap.Steps {
		ids = append(ids, step.ID)
	}
	return s.resolver.ResolveAll(ctx, snap.TaskID, ids), nil
}

// DownloadFile resolves a download link for a file of the tracked task.
// Failures are returned to the caller.
func (s *Service) DownloadFile(ctx context.Context, fileName string) (string, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return "", agenterrors.Validation("file name is required")
	}
	taskID, err := s.currentTaskID()
	if err != nil {
		return "", err
	}
	return agenterrors.RetryTransient(ctx, s.config.Retry, s.logger, func(ctx context.Context) (string, error) {
		return s.gateway.FetchFileDownloadURL(ctx, taskID, fileName)
	})
}

// ResetTask stops polling and returns to idle. Responses still in flight for
// the old task are discarded by the store.
func (s *Service) ResetTask() {
	s.mu.Lock()
	s.attempt++
	p := s.poller
	s.poller = nil
	s.mu.Unlock()

	s.store.Apply(taskstate.Reset{})
	s.resolver.Reset()
	if p != nil {
		p.Stop()
	}
}

// Templates lists the available task templates.
func (s *Service) Templates() []tasktemplate.Template {
	return s.catalog.List()
}

// App returns product branding.
func (s *Service) App() tasktemplate.AppInfo {
	return s.catalog.App()
}

// Close stops any polling. The service must not be used afterwards.
func (s *Service) Close() {
	s.ResetTask()
	s.cancel()
}
