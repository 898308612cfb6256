package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartbuilding/internal/alert"
	"smartbuilding/internal/config"
	"smartbuilding/internal/evaluator"
	"smartbuilding/internal/metrics"
	"smartbuilding/internal/notify"
	"smartbuilding/internal/realtime"
	"smartbuilding/internal/telemetry"
)

const (
	fetchTimeout       = 10 * time.Second
	testWindow         = time.Hour
	testMaxEvents      = 1000
	testSampleSize     = 5
	standardAlertSlack = 10 * time.Second
	standardAlertLimit = 10
	criticalAlertLimit = 10
)

// ErrSourceUnavailable wraps a failed telemetry fetch.
var ErrSourceUnavailable = errors.New("event source unavailable")

// EventSource is the telemetry backend polled on every tick.
type EventSource interface {
	Recent(ctx context.Context, since time.Time, size int) ([]telemetry.Event, error)
	StandardAlerts(ctx context.Context, since time.Time, size int) ([]telemetry.Event, error)
	DashboardStats(ctx context.Context, now time.Time) (*telemetry.DashboardStats, error)
	IndexTrigger(ctx context.Context, id string, at time.Time, doc any) error
}

// Notifier dispatches the actions of a fired rule.
type Notifier interface {
	DispatchAll(ctx context.Context, t *notify.Trigger) []notify.Outcome
}

// StatsCache keeps the last dashboard stats for when the source is down.
type StatsCache interface {
	Put(ctx context.Context, stats *telemetry.DashboardStats) error
	Get(ctx context.Context) (*telemetry.DashboardStats, error)
}

// Deps are the collaborators of the poller.
type Deps struct {
	Rules         alert.Store
	Source        EventSource
	Notifier      Notifier
	Publisher     realtime.Publisher
	Stats         StatsCache
	TriggerLogDir string
}

// Service is the shared poll loop. It runs while at least one subscriber is
// connected.
type Service struct {
	cfg  config.MonitorConfig
	deps Deps
	eval *evaluator.Evaluator
	log  *zap.Logger
	now  func() time.Time

	mu          sync.Mutex
	subscribers int
	cancel      context.CancelFunc
	done        chan struct{}

	stateMu        sync.Mutex
	lastCheck      time.Time
	lastAlertCheck time.Time
}

func NewService(cfg config.MonitorConfig, deps Deps, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	now := time.Now().UTC()
	return &Service{
		cfg:            cfg,
		deps:           deps,
		eval:           evaluator.New(log.Named("evaluator")),
		log:            log,
		now:            func() time.Time { return time.Now().UTC() },
		lastCheck:      now,
		lastAlertCheck: now,
	}
}

func (s *Service) pollInterval() time.Duration {
	return time.Duration(s.cfg.PollInterval) * time.Second
}

// Connect registers a subscriber and starts the loop for the first one.
func (s *Service) Connect() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers++
	metrics.PollerSubscribers.Set(float64(s.subscribers))
	if s.subscribers == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.run(ctx, s.done)
		s.log.Info("poller started", zap.Int("poll_interval", s.cfg.PollInterval))
	}
	return s.subscribers
}

// Disconnect releases a subscriber and stops the loop after the last one,
// waiting at most stop_timeout for the running tick.
func (s *Service) Disconnect() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribers == 0 {
		return 0
	}
	s.subscribers--
	metrics.PollerSubscribers.Set(float64(s.subscribers))
	if s.subscribers > 0 {
		return s.subscribers
	}

	s.cancel()
	select {
	case <-s.done:
		s.log.Info("poller stopped")
	case <-time.After(time.Duration(s.cfg.StopTimeout) * time.Second):
		s.log.Warn("poller did not stop in time, abandoning in-flight tick")
	}
	s.cancel, s.done = nil, nil
	return 0
}

// Subscribers 当前订阅者数量
func (s *Service) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribers
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

func (s *Service) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()

	for {
		s.safeTick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("poller tick panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	s.Tick(ctx)
}

// TickReport summarizes one poll cycle.
type TickReport struct {
	EventsFetched int
	NewLogs       int
	Alerts        []Alert
	SourceErr     error
}

// Tick runs one poll cycle: fetch, push new logs and stats, check alerts.
func (s *Service) Tick(ctx context.Context) *TickReport {
	start := time.Now()
	now := s.now()
	report := &TickReport{}

	events, err := s.fetch(ctx, now)
	if err != nil {
		report.SourceErr = err
		metrics.PollerTicksTotal.WithLabelValues("source_error").Inc()
		s.log.Warn("telemetry fetch failed, evaluating with no events", zap.Error(err))
	} else {
		metrics.PollerTicksTotal.WithLabelValues("ok").Inc()
	}
	report.EventsFetched = len(events)
	metrics.EventsFetched.Observe(float64(len(events)))

	s.stateMu.Lock()
	lastCheck := s.lastCheck
	s.stateMu.Unlock()

	newLogs := newSince(events, lastCheck.Add(-2*s.pollInterval()), s.cfg.PushLimit)
	report.NewLogs = len(newLogs)
	if len(newLogs) > 0 {
		s.publish(ctx, realtime.EventNewLogs, map[string]any{
			"count":     len(newLogs),
			"logs":      newLogs,
			"timestamp": now.Format(time.RFC3339),
		})
	}

	s.publish(ctx, realtime.EventStatsUpdate, s.DashboardStats(ctx))

	report.Alerts = s.CheckAlerts(ctx, events)

	s.stateMu.Lock()
	s.lastCheck = now
	s.stateMu.Unlock()

	metrics.PollerTickDuration.Observe(time.Since(start).Seconds())
	return report
}

func (s *Service) fetch(ctx context.Context, now time.Time) ([]telemetry.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	window := time.Duration(s.cfg.EvaluationWindow) * time.Second
	events, err := s.deps.Source.Recent(ctx, now.Add(-window), s.cfg.MaxEvents)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return events, nil
}

// newSince keeps the events at or after cutoff, newest first as fetched, in
// their display form.
func newSince(events []telemetry.Event, cutoff time.Time, limit int) []map[string]any {
	out := make([]map[string]any, 0, limit)
	for _, e := range events {
		if len(out) >= limit {
			break
		}
		ts, ok := e.Time()
		if !ok || ts.Before(cutoff) {
			continue
		}
		out = append(out, e.ForDisplay())
	}
	return out
}

// DashboardStats reads the live counters, falling back to the cached copy and
// then to zeros.
func (s *Service) DashboardStats(ctx context.Context) *telemetry.DashboardStats {
	now := s.now()
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	stats, err := s.deps.Source.DashboardStats(fctx, now)
	if err == nil {
		if s.deps.Stats != nil {
			if err := s.deps.Stats.Put(ctx, stats); err != nil {
				s.log.Debug("stats cache write failed", zap.Error(err))
			}
		}
		return stats
	}

	s.log.Warn("dashboard stats unavailable", zap.Error(err))
	if s.deps.Stats != nil {
		if cached, cerr := s.deps.Stats.Get(ctx); cerr == nil {
			return cached
		}
	}
	return telemetry.EmptyStats(now)
}

func (s *Service) publishTimeout() time.Duration {
	if s.cfg.PublishTimeout > 0 {
		return time.Duration(s.cfg.PublishTimeout) * time.Second
	}
	return s.pollInterval()
}

// publish 实时推送，每次推送单独超时，失败只记录日志
func (s *Service) publish(ctx context.Context, event string, payload any) {
	if s.deps.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.publishTimeout())
	defer cancel()
	if err := s.deps.Publisher.Publish(ctx, event, payload); err != nil {
		s.log.Debug("realtime publish incomplete", zap.String("event", event), zap.Error(err))
	}
}

// TestResult is the dry run of a rule against the last hour of telemetry.
type TestResult struct {
	RuleName         string            `json:"rule_name"`
	IsTriggered      bool              `json:"is_triggered"`
	MatchingCount    int               `json:"matching_count"`
	TotalLogsChecked int               `json:"total_logs_checked"`
	SampleMatches    []telemetry.Event `json:"sample_matches"`
}

// TestRule evaluates a stored rule without recording or dispatching anything.
func (s *Service) TestRule(ctx context.Context, id uint) (*TestResult, error) {
	rule, err := s.deps.Rules.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	events, err := s.deps.Source.Recent(fctx, now.Add(-testWindow), testMaxEvents)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	res := s.eval.Evaluate(rule, events, now)
	sample := res.Matched
	if len(sample) > testSampleSize {
		sample = sample[:testSampleSize]
	}
	if sample == nil {
		sample = []telemetry.Event{}
	}
	return &TestResult{
		RuleName:         rule.Name,
		IsTriggered:      res.Triggered,
		MatchingCount:    len(res.Matched),
		TotalLogsChecked: len(events),
		SampleMatches:    sample,
	}, nil
}
