// Package poller drives the status loop for one remote task. Each tick
// fetches the task status and applies it to the task store; a failed tick is
// skipped and the next one still runs.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"agentstudio/internal/browseruse"
	agenterrors "agentstudio/internal/errors"
	"agentstudio/internal/logging"
	"agentstudio/internal/observability"
	"agentstudio/internal/taskstate"
)

const (
	defaultInterval    = 2 * time.Second
	defaultMaxDuration = 45 * time.Minute
)

// StatusSource reads remote task status.
type StatusSource interface {
	FetchStatus(ctx context.Context, taskID string) (*browseruse.TaskStatus, error)
}

// Applier receives status updates. *taskstate.Store satisfies it.
type Applier interface {
	Apply(taskstate.Action) bool
}

// StopReason says why the loop ended.
type StopReason string

const (
	ReasonNone      StopReason = ""
	ReasonTerminal  StopReason = "terminal"
	ReasonStopped   StopReason = "stopped"
	ReasonTimeout   StopReason = "max_duration"
	ReasonRejected  StopReason = "rejected"
	ReasonFatal     StopReason = "configuration"
	ReasonCancelled StopReason = "cancelled"
)

// Config tunes the loop. Zero values fall back to defaults.
type Config struct {
	Interval    time.Duration
	MaxDuration time.Duration
}

// Poller polls one task until it reaches a terminal status, is stopped, or
// runs past MaxDuration.
type Poller struct {
	source  StatusSource
	applier Applier
	taskID  string
	config  Config

	logger     logging.Logger
	metrics    *observability.MetricsCollector
	onTerminal func(context.Context, *browseruse.TaskStatus)
	now        func() time.Time

	mu      sync.Mutex
	seq     uint64
	reason  StopReason
	cancel  context.CancelFunc
	started bool

	stopped  chan struct{}
	stopOnce sync.Once
}

// Option customises a Poller.
type Option func(*Poller)

func WithLogger(logger logging.Logger) Option {
	return func(p *Poller) { p.logger = logging.OrNop(logger) }
}

func WithMetrics(m *observability.MetricsCollector) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithOnTerminal registers a callback run once, on the loop goroutine, after
// a terminal status has been applied.
func WithOnTerminal(fn func(context.Context, *browseruse.TaskStatus)) Option {
	return func(p *Poller) { p.onTerminal = fn }
}

// WithClock replaces time.Now for applied timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a poller bound to taskID. Call Start to begin polling.
func New(source StatusSource, applier Applier, taskID string, cfg Config, opts ...Option) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = defaultMaxDuration
	}
	p := &Poller{
		source:  source,
		applier: applier,
		taskID:  taskID,
		config:  cfg,
		logger:  logging.NewComponentLogger("poller"),
		now:     time.Now,
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.WithTaskID(p.logger, taskID)
	return p
}

// TaskID returns the task this poller is bound to.
func (p *Poller) TaskID() string {
	return p.taskID
}

// Start launches the loop. The first status request is issued immediately.
// Calling Start more than once has no effect.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx = observability.ContextWithTaskID(ctx, p.taskID)
	ctx, cancel := context.WithTimeout(ctx, p.config.MaxDuration)
	p.cancel = cancel
	p.mu.Unlock()

	p.logger.Info("Poller: started (interval %v, max %v)", p.config.Interval, p.config.MaxDuration)
	go p.run(ctx)
}

// Stop ends the loop and waits for it to exit. Safe to call multiple times
// and before Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	started := p.started
	if p.reason == ReasonNone {
		p.reason = ReasonStopped
	}
	p.started = true
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !started {
		p.finish()
		return
	}
	<-p.stopped
}

// Done is closed once the loop has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.stopped
}

// Reason reports why the loop ended, or ReasonNone while it runs.
func (p *Poller) Reason() StopReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

func (p *Poller) finish() {
	p.stopOnce.Do(func() {
		close(p.stopped)
	})
}

func (p *Poller) run(ctx context.Context) {
	defer p.finish()
	defer p.cancel()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		if done := p.tick(ctx); done {
			return
		}
		select {
		case <-ctx.Done():
			p.endOnContext(ctx)
			return
		case <-ticker.C:
		}
	}
}

// tick performs one status request. It reports whether the loop should end.
func (p *Poller) tick(ctx context.Context) bool {
	if ctx.Err() != nil {
		p.endOnContext(ctx)
		return true
	}

	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	status, err := p.source.FetchStatus(ctx, p.taskID)
	if err != nil {
		if ctx.Err() != nil {
			p.endOnContext(ctx)
			return true
		}
		if errors.Is(err, agenterrors.ErrConfiguration) {
			p.metrics.RecordPoll(ctx, "fatal")
			p.logger.Error("Poller: stopping, %v", err)
			p.setReason(ReasonFatal)
			return true
		}
		p.metrics.RecordPoll(ctx, "error")
		p.logger.Warn("Poller: tick %d skipped: %v", seq, err)
		return false
	}

	accepted := p.applier.Apply(taskstate.ApplyStatus{
		TaskID:         p.taskID,
		Seq:            seq,
		Status:         status.Status,
		Steps:          status.DomainSteps(),
		Output:         status.Output,
		LiveURL:        status.LiveURL,
		PublicShareURL: status.PublicShareURL,
		At:             p.now(),
	})
	if !accepted {
		// The store has moved on to another task or was reset.
		p.metrics.RecordPoll(ctx, "rejected")
		p.logger.Debug("Poller: tick %d discarded by store", seq)
		p.setReason(ReasonRejected)
		return true
	}
	p.metrics.RecordPoll(ctx, "applied")

	if !status.Status.IsTerminal() {
		return false
	}
	p.setReason(ReasonTerminal)
	p.logger.Info("Poller: task reached %s after %d ticks", status.Status, seq)
	if p.onTerminal != nil {
		p.onTerminal(ctx, status)
	}
	return true
}

func (p *Poller) endOnContext(ctx context.Context) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		if p.setReason(ReasonTimeout) {
			p.logger.Warn("Poller: giving up after %v", p.config.MaxDuration)
		}
	default:
		p.setReason(ReasonCancelled)
	}
}

// setReason records the first stop reason and reports whether it was set.
func (p *Poller) setReason(reason StopReason) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reason != ReasonNone {
		return false
	}
	p.reason = reason
	return true
}
