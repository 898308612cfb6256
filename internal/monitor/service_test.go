package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartbuilding/internal/alert"
	"smartbuilding/internal/config"
	"smartbuilding/internal/database"
	"smartbuilding/internal/logger"
	"smartbuilding/internal/models"
	"smartbuilding/internal/notify"
	"smartbuilding/internal/realtime"
	"smartbuilding/internal/telemetry"
)

type fakeSource struct {
	mu        sync.Mutex
	events    []telemetry.Event
	alerts    []telemetry.Event
	stats     *telemetry.DashboardStats
	err       error
	recent    int
	indexed   map[string]any
	lastSince time.Time
	lastSize  int
}

func (f *fakeSource) Recent(_ context.Context, since time.Time, size int) ([]telemetry.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recent++
	f.lastSince, f.lastSize = since, size
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func (f *fakeSource) StandardAlerts(context.Context, time.Time, int) ([]telemetry.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.alerts, nil
}

func (f *fakeSource) DashboardStats(_ context.Context, now time.Time) (*telemetry.DashboardStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.stats != nil {
		return f.stats, nil
	}
	return telemetry.EmptyStats(now), nil
}

func (f *fakeSource) IndexTrigger(_ context.Context, id string, _ time.Time, doc any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexed == nil {
		f.indexed = make(map[string]any)
	}
	f.indexed[id] = doc
	return nil
}

func (f *fakeSource) recentCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recent
}

type fakeNotifier struct {
	mu       sync.Mutex
	triggers []*notify.Trigger
}

func (f *fakeNotifier) DispatchAll(_ context.Context, t *notify.Trigger) []notify.Outcome {
	if t.Rule.Name == "boom" {
		panic("channel exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, t)
	return []notify.Outcome{{Type: models.ActionEmail, Sent: true}}
}

type published struct {
	event   string
	payload any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (f *fakePublisher) Publish(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{event, payload})
	return nil
}

func (f *fakePublisher) find(event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, p := range f.events {
		if p.event == event {
			out = append(out, p.payload)
		}
	}
	return out
}

type fakeStatsCache struct {
	stored *telemetry.DashboardStats
}

func (f *fakeStatsCache) Put(_ context.Context, s *telemetry.DashboardStats) error {
	f.stored = s
	return nil
}

func (f *fakeStatsCache) Get(context.Context) (*telemetry.DashboardStats, error) {
	if f.stored == nil {
		return nil, errors.New("miss")
	}
	return f.stored, nil
}

type fixture struct {
	svc      *Service
	rules    *alert.Service
	source   *fakeSource
	notifier *fakeNotifier
	pub      *fakePublisher
	cache    *fakeStatsCache
	logDir   string
}

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		PollInterval:     5,
		EvaluationWindow: 60,
		MaxEvents:        100,
		PushLimit:        20,
		StopTimeout:      2,
	}
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver: "sqlite",
		DBName: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &fixture{
		rules:    alert.NewService(db, zap.NewNop()),
		source:   &fakeSource{},
		notifier: &fakeNotifier{},
		pub:      &fakePublisher{},
		cache:    &fakeStatsCache{},
		logDir:   t.TempDir(),
	}
	f.svc = NewService(testMonitorConfig(), Deps{
		Rules:         f.rules,
		Source:        f.source,
		Notifier:      f.notifier,
		Publisher:     f.pub,
		Stats:         f.cache,
		TriggerLogDir: f.logDir,
	}, zap.NewNop())
	return f
}

func (f *fixture) addRule(t *testing.T, name string, threshold float64) uint {
	t.Helper()
	rule := alert.DefaultRule()
	rule.Name = name
	rule.Conditions.Field = "value"
	rule.Conditions.Operator = models.OpGreater
	rule.Conditions.Threshold = models.NumberScalar(threshold)
	rule.Conditions.Filters.SensorType = []string{"temperature"}
	rule.Severity = models.SeverityCritical
	id, err := f.rules.Create(context.Background(), &rule)
	require.NoError(t, err)
	return id
}

func reading(zone string, value float64, age time.Duration) telemetry.Event {
	return telemetry.Event{
		"@timestamp":  time.Now().UTC().Add(-age).Format(time.RFC3339Nano),
		"zone":        zone,
		"sensor_type": "temperature",
		"value":       value,
	}
}

func TestTickTriggersRecordsAndPublishes(t *testing.T) {
	f := setup(t)
	id := f.addRule(t, "Critical Temperature", 30)
	f.source.events = []telemetry.Event{
		reading("A", 36, 2*time.Second),
		reading("B", 22, 3*time.Second),
		reading("C", 34, 4*time.Second),
	}
	f.source.stats = &telemetry.DashboardStats{TotalLogs: 42}

	report := f.svc.Tick(context.Background())
	require.NoError(t, report.SourceErr)
	assert.Equal(t, 3, report.EventsFetched)
	assert.Equal(t, 3, report.NewLogs)
	require.Len(t, report.Alerts, 1)

	a := report.Alerts[0]
	assert.Equal(t, SourceRule, a.Source)
	assert.Equal(t, "RULE_ENGINE", a.SensorID)
	assert.Equal(t, "A, C", a.Zone)
	assert.Equal(t, 35.0, a.Value)
	assert.Equal(t, 2, a.MatchingCount)
	assert.Equal(t, "[Rule: Critical Temperature] 2 event(s) detected", a.Message)

	rule, err := f.rules.Get(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rule.TriggerCount)
	assert.Equal(t, []string{"A", "C"}, rule.Stats.ZonesAffected)
	require.NotNil(t, rule.LastTriggered)

	require.Len(t, f.notifier.triggers, 1)
	assert.Equal(t, a.TriggerID, f.notifier.triggers[0].ID)
	assert.Contains(t, f.source.indexed, a.TriggerID)

	assert.Len(t, f.pub.find(realtime.EventNewLogs), 1)
	stats := f.pub.find(realtime.EventStatsUpdate)
	require.Len(t, stats, 1)
	assert.EqualValues(t, 42, stats[0].(*telemetry.DashboardStats).TotalLogs)
	assert.Equal(t, f.source.stats, f.cache.stored)

	critical := f.pub.find(realtime.EventCriticalAlert)
	require.Len(t, critical, 1)
	payload := critical[0].(map[string]any)
	assert.Equal(t, 1, payload["count"])
	assert.Equal(t, true, payload["has_rule_triggers"])

	logs, err := logger.QueryTriggerLogs(context.Background(), f.logDir, &logger.TriggerLogQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, logs.Total)
	assert.Equal(t, id, logs.Logs[0].RuleID)
	assert.Equal(t, []string{"email:sent"}, logs.Logs[0].Actions)

	assert.Equal(t, 100, f.source.lastSize)
}

func TestCooldownSuppressesSecondTrigger(t *testing.T) {
	f := setup(t)
	id := f.addRule(t, "Hot", 30)
	f.source.events = []telemetry.Event{reading("A", 40, time.Second)}

	require.Len(t, f.svc.Tick(context.Background()).Alerts, 1)
	assert.Empty(t, f.svc.Tick(context.Background()).Alerts)

	rule, err := f.rules.Get(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rule.TriggerCount)
	assert.Len(t, f.notifier.triggers, 1)
}

func TestStandardAlertsAreMerged(t *testing.T) {
	f := setup(t)
	f.source.alerts = []telemetry.Event{
		{"@timestamp": "2025-03-14T10:29:55Z", "zone": "B", "severity": "critical", "message": "smoke", "sensor_id": "S-9"},
	}

	report := f.svc.Tick(context.Background())
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, Alert{
		Timestamp: "2025-03-14T10:29:55Z",
		Zone:      "B",
		Severity:  "critical",
		Message:   "smoke",
		Value:     0,
		SensorID:  "S-9",
		Source:    SourceElasticsearch,
	}, report.Alerts[0])

	payload := f.pub.find(realtime.EventCriticalAlert)[0].(map[string]any)
	assert.Equal(t, false, payload["has_rule_triggers"])
}

func TestSourceFailureIsContained(t *testing.T) {
	f := setup(t)
	f.addRule(t, "Hot", 30)
	cached := &telemetry.DashboardStats{TotalLogs: 7}
	f.cache.stored = cached
	f.source.err = errors.New("connection refused")

	report := f.svc.Tick(context.Background())
	assert.ErrorIs(t, report.SourceErr, ErrSourceUnavailable)
	assert.Empty(t, report.Alerts)
	assert.Empty(t, f.pub.find(realtime.EventNewLogs))
	assert.Empty(t, f.pub.find(realtime.EventCriticalAlert))

	stats := f.pub.find(realtime.EventStatsUpdate)
	require.Len(t, stats, 1)
	assert.Same(t, cached, stats[0])

	f.cache.stored = nil
	f.svc.Tick(context.Background())
	stats = f.pub.find(realtime.EventStatsUpdate)
	assert.EqualValues(t, 0, stats[1].(*telemetry.DashboardStats).TotalLogs)
}

func TestPanickingRuleDoesNotStopOthers(t *testing.T) {
	f := setup(t)
	f.addRule(t, "boom", 30)
	f.addRule(t, "steady", 30)
	f.source.events = []telemetry.Event{reading("A", 40, time.Second)}

	report := f.svc.Tick(context.Background())
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, "steady", report.Alerts[0].RuleName)
}

func TestNewLogsRespectPushLimitAndCutoff(t *testing.T) {
	events := []telemetry.Event{
		reading("A", 1, time.Second),
		reading("A", 2, 2*time.Second),
		{"zone": "A"},
		reading("A", 3, time.Hour),
	}
	cutoff := time.Now().UTC().Add(-10 * time.Second)

	got := newSince(events, cutoff, 5)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0]["value"])

	assert.Len(t, newSince(events, cutoff, 1), 1)
}

func TestTestRuleHasNoSideEffects(t *testing.T) {
	f := setup(t)
	id := f.addRule(t, "Hot", 30)
	events := make([]telemetry.Event, 0, 8)
	for i := 0; i < 8; i++ {
		events = append(events, reading("A", 31+float64(i), time.Duration(i+1)*time.Minute))
	}
	f.source.events = events

	res, err := f.svc.TestRule(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Hot", res.RuleName)
	assert.True(t, res.IsTriggered)
	assert.Equal(t, 8, res.MatchingCount)
	assert.Equal(t, 8, res.TotalLogsChecked)
	assert.Len(t, res.SampleMatches, 5)
	assert.Equal(t, 1000, f.source.lastSize)

	rule, err := f.rules.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, rule.LastTriggered)
	assert.Empty(t, f.notifier.triggers)
	assert.Empty(t, f.pub.events)

	_, err = f.svc.TestRule(context.Background(), 999)
	assert.ErrorIs(t, err, alert.ErrNotFound)

	f.source.err = errors.New("down")
	_, err = f.svc.TestRule(context.Background(), id)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestConnectDisconnectRefCount(t *testing.T) {
	f := setup(t)
	assert.False(t, f.svc.Running())

	assert.Equal(t, 1, f.svc.Connect())
	assert.Equal(t, 2, f.svc.Connect())
	assert.True(t, f.svc.Running())

	require.Eventually(t, func() bool { return f.source.recentCalls() >= 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, f.svc.Disconnect())
	assert.True(t, f.svc.Running())

	assert.Equal(t, 0, f.svc.Disconnect())
	assert.False(t, f.svc.Running())
	assert.Equal(t, 0, f.svc.Disconnect(), "extra disconnect is a no-op")

	calls := f.source.recentCalls()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, calls, f.source.recentCalls(), "no ticks after stop")

	assert.Equal(t, 1, f.svc.Connect())
	assert.True(t, f.svc.Running())
	assert.Equal(t, 0, f.svc.Disconnect())
}

// stalledPublisher blocks until the caller gives up, like a broker that
// stopped acknowledging.
type stalledPublisher struct {
	mu    sync.Mutex
	calls int
}

func (p *stalledPublisher) Publish(ctx context.Context, _ string, _ any) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func TestTickBoundsSlowRealtimeTransport(t *testing.T) {
	f := setup(t)
	f.addRule(t, "Critical Temperature", 30)
	f.source.events = []telemetry.Event{reading("A", 36, time.Second)}

	stalled := &stalledPublisher{}
	cfg := testMonitorConfig()
	cfg.PublishTimeout = 1
	svc := NewService(cfg, Deps{
		Rules:     f.rules,
		Source:    f.source,
		Notifier:  f.notifier,
		Publisher: realtime.NewMulti(zap.NewNop()).Add("sse", f.pub).Add("broker", stalled),
		Stats:     f.cache,
	}, zap.NewNop())

	done := make(chan *TickReport, 1)
	go func() { done <- svc.Tick(context.Background()) }()

	var report *TickReport
	select {
	case report = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("tick blocked on a stalled realtime transport")
	}

	require.Len(t, report.Alerts, 1)
	assert.Len(t, f.pub.find(realtime.EventCriticalAlert), 1)
	assert.Len(t, f.pub.find(realtime.EventNewLogs), 1)
	stalled.mu.Lock()
	assert.Equal(t, 3, stalled.calls)
	stalled.mu.Unlock()
}
