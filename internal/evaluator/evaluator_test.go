package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartbuilding/internal/models"
	"smartbuilding/internal/telemetry"
)

var now = time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func reading(zone, sensorType string, value any, age time.Duration) telemetry.Event {
	return telemetry.Event{
		telemetry.KeyTimestamp:  now.Add(-age).Format(time.RFC3339),
		telemetry.KeyZone:       zone,
		telemetry.KeySensorType: sensorType,
		telemetry.KeyValue:      value,
		telemetry.KeyStatus:     "normal",
		telemetry.KeyBuilding:   "Smart Building A",
	}
}

func values(events []telemetry.Event) []any {
	out := make([]any, len(events))
	for i, e := range events {
		out[i] = e[telemetry.KeyValue]
	}
	return out
}

func thresholdRule(op models.Operator, threshold *models.Scalar) *models.AlertRule {
	return &models.AlertRule{
		ID:       1,
		Name:     "temperature",
		Enabled:  true,
		RuleType: models.RuleTypeThreshold,
		Conditions: models.RuleConditions{
			Field:     "value",
			Operator:  op,
			Threshold: threshold,
			Filters:   models.RuleFilters{Zone: []string{"A"}, SensorType: []string{"temperature"}},
		},
	}
}

func TestThresholdScenario(t *testing.T) {
	rule := thresholdRule(models.OpGreater, models.NumberScalar(35))
	var events []telemetry.Event
	for _, v := range []float64{36, 38, 40, 42, 44} {
		events = append(events, reading("A", "temperature", v, time.Second))
	}

	res, err := Evaluate(rule, events, now)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Len(t, res.Matched, 5)
}

func TestThresholdMatchesExactlySatisfyingSubset(t *testing.T) {
	events := []telemetry.Event{
		reading("A", "temperature", 30.0, time.Second),
		reading("A", "temperature", 35.0, time.Second),
		reading("A", "temperature", 35.5, time.Second),
		reading("B", "temperature", 50.0, time.Second),
		reading("A", "humidity", 90.0, time.Second),
		reading("A", "temperature", "hot", time.Second),
		reading("A", "temperature", nil, time.Second),
	}

	cases := []struct {
		op   models.Operator
		want []any
	}{
		{models.OpGreater, []any{35.5}},
		{models.OpGreaterEqual, []any{35.0, 35.5}},
		{models.OpLess, []any{30.0}},
		{models.OpLessEqual, []any{30.0, 35.0}},
		{models.OpEqual, []any{35.0}},
		{models.OpNotEqual, []any{30.0, 35.5}},
	}
	for _, tc := range cases {
		t.Run(string(tc.op), func(t *testing.T) {
			res, err := Evaluate(thresholdRule(tc.op, models.NumberScalar(35)), events, now)
			require.NoError(t, err)
			assert.Equal(t, tc.want, values(res.Matched))
			assert.Equal(t, len(tc.want) > 0, res.Triggered)
		})
	}
}

func TestThresholdNoMatch(t *testing.T) {
	res, err := Evaluate(thresholdRule(models.OpGreater, models.NumberScalar(100)),
		[]telemetry.Event{reading("A", "temperature", 20, time.Second)}, now)
	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Empty(t, res.Matched)
}

func TestThresholdOnStringField(t *testing.T) {
	rule := thresholdRule(models.OpEqual, models.TextScalar("fire_alarm"))
	rule.Conditions.Field = "sensor_type"
	rule.Conditions.Filters = models.RuleFilters{}

	events := []telemetry.Event{
		reading("A", "fire_alarm", 1, time.Second),
		reading("B", "smoke", 1, time.Second),
		{telemetry.KeySensorType: 42},
	}
	res, err := Evaluate(rule, events, now)
	require.NoError(t, err)
	require.Len(t, res.Matched, 1)
	assert.Equal(t, "A", res.Matched[0][telemetry.KeyZone])
}

func TestRangeScenario(t *testing.T) {
	rule := &models.AlertRule{
		Enabled:  true,
		RuleType: models.RuleTypeRange,
		Conditions: models.RuleConditions{
			Field:    "value",
			MinValue: floatPtr(400),
			MaxValue: floatPtr(1000),
		},
	}
	var events []telemetry.Event
	for _, v := range []float64{300, 500, 800, 1200, 1500} {
		events = append(events, reading("C", "co2", v, time.Second))
	}
	events = append(events, reading("C", "co2", nil, time.Second))

	res, err := Evaluate(rule, events, now)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, []any{300.0, 1200.0, 1500.0}, values(res.Matched))
}

func TestRangeBoundsAreInclusive(t *testing.T) {
	rule := &models.AlertRule{
		Enabled:    true,
		RuleType:   models.RuleTypeRange,
		Conditions: models.RuleConditions{Field: "value", MinValue: floatPtr(400), MaxValue: floatPtr(1000)},
	}
	res, err := Evaluate(rule, []telemetry.Event{
		reading("C", "co2", 400, time.Second),
		reading("C", "co2", 1000, time.Second),
	}, now)
	require.NoError(t, err)
	assert.False(t, res.Triggered)
}

func patternRule(window, count int) *models.AlertRule {
	return &models.AlertRule{
		Enabled:  true,
		RuleType: models.RuleTypePattern,
		Conditions: models.RuleConditions{
			TimeWindow: intPtr(window),
			EventCount: intPtr(count),
			Filters:    models.RuleFilters{SensorType: []string{"fire_alarm"}},
		},
	}
}

func TestPatternScenario(t *testing.T) {
	events := []telemetry.Event{
		reading("A", "fire_alarm", 1, 10*time.Second),
		reading("B", "fire_alarm", 1, 20*time.Second),
		reading("C", "fire_alarm", 1, 40*time.Second),
		reading("D", "fire_alarm", 1, 60*time.Second),
	}

	res, err := Evaluate(patternRule(300, 3), events, now)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	require.Len(t, res.Matched, 3)
	assert.Equal(t, "A", res.Matched[0][telemetry.KeyZone])
}

func TestPatternIgnoresEventsOutsideWindow(t *testing.T) {
	events := []telemetry.Event{
		reading("A", "fire_alarm", 1, 10*time.Second),
		reading("B", "fire_alarm", 1, 20*time.Second),
		reading("C", "fire_alarm", 1, 10*time.Minute),
		reading("D", "fire_alarm", 1, -time.Minute), // in the future
		reading("E", "smoke", 1, 5*time.Second),
	}

	res, err := Evaluate(patternRule(300, 3), events, now)
	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Empty(t, res.Matched)
}

func TestPatternExcludesUnparsableTimestamps(t *testing.T) {
	events := []telemetry.Event{
		reading("A", "fire_alarm", 1, 10*time.Second),
		reading("B", "fire_alarm", 1, 20*time.Second),
		{telemetry.KeySensorType: "fire_alarm", telemetry.KeyTimestamp: "not a date"},
		{telemetry.KeySensorType: "fire_alarm"},
	}

	res, err := Evaluate(patternRule(300, 3), events, now)
	require.NoError(t, err)
	assert.False(t, res.Triggered)
}

func TestPatternDefaultsEventCount(t *testing.T) {
	rule := patternRule(300, 1)
	rule.Conditions.EventCount = nil
	events := []telemetry.Event{
		reading("A", "fire_alarm", 1, time.Second),
		reading("B", "fire_alarm", 1, time.Second),
		reading("C", "fire_alarm", 1, time.Second),
	}

	res, err := Evaluate(rule, events, now)
	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Len(t, res.Matched, 3)
}

func TestTrendNeverTriggers(t *testing.T) {
	rule := &models.AlertRule{
		Enabled:    true,
		RuleType:   models.RuleTypeTrend,
		Conditions: models.RuleConditions{TimeWindow: intPtr(60)},
	}
	events := []telemetry.Event{
		reading("A", "temperature", 10, 50*time.Second),
		reading("A", "temperature", 90, time.Second),
	}
	res, err := Evaluate(rule, events, now)
	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Empty(t, res.Matched)
}

func TestDisabledRuleNeverTriggers(t *testing.T) {
	rule := thresholdRule(models.OpGreater, models.NumberScalar(0))
	rule.Enabled = false
	res, err := Evaluate(rule, []telemetry.Event{reading("A", "temperature", 50, time.Second)}, now)
	require.NoError(t, err)
	assert.False(t, res.Triggered)
}

func TestCompileRejectsBrokenRules(t *testing.T) {
	broken := []*models.AlertRule{
		{Name: "no type", Enabled: true},
		{Name: "bad op", Enabled: true, RuleType: models.RuleTypeThreshold,
			Conditions: models.RuleConditions{Operator: "=~", Threshold: models.NumberScalar(1)}},
		{Name: "no threshold", Enabled: true, RuleType: models.RuleTypeThreshold,
			Conditions: models.RuleConditions{Operator: models.OpLess}},
		{Name: "no bounds", Enabled: true, RuleType: models.RuleTypeRange},
		{Name: "no window", Enabled: true, RuleType: models.RuleTypePattern},
	}
	for _, rule := range broken {
		t.Run(rule.Name, func(t *testing.T) {
			_, err := Evaluate(rule, nil, now)
			var evalErr *EvaluationError
			require.ErrorAs(t, err, &evalErr)
			assert.Equal(t, rule.Name, evalErr.RuleName)
		})
	}
}

func TestEvaluatorSwallowsErrors(t *testing.T) {
	ev := New(zap.NewNop())
	res := ev.Evaluate(&models.AlertRule{Name: "broken", Enabled: true, RuleType: "seasonal"},
		[]telemetry.Event{reading("A", "temperature", 50, time.Second)}, now)
	assert.False(t, res.Triggered)
}

func TestFilters(t *testing.T) {
	events := []telemetry.Event{
		{telemetry.KeyZone: "A", telemetry.KeySensorType: "smoke", telemetry.KeyStatus: "critical", telemetry.KeyBuilding: "Smart Building A"},
		{telemetry.KeyZone: "A", telemetry.KeySensorType: "smoke", telemetry.KeySeverity: "critical", telemetry.KeyBuilding: []any{"Annex", "Smart Building A"}},
		{telemetry.KeyZone: "A", telemetry.KeySensorType: "smoke", telemetry.KeyStatus: "normal", telemetry.KeyBuilding: "Smart Building A"},
		{telemetry.KeyZone: "A", telemetry.KeySensorType: "smoke", telemetry.KeyStatus: "critical", telemetry.KeyBuilding: "Annex"},
		{telemetry.KeyZone: "A", telemetry.KeySensorType: "smoke", telemetry.KeyStatus: "critical"},
		{telemetry.KeyZone: "B", telemetry.KeySensorType: "smoke", telemetry.KeyStatus: "critical", telemetry.KeyBuilding: "Smart Building A"},
	}

	got := Filter(events, models.RuleFilters{
		Zone:     []string{"A"},
		Status:   []string{"critical"},
		Building: "Smart Building A",
	})
	assert.Len(t, got, 2)

	assert.Len(t, Filter(events, models.RuleFilters{}), len(events))
}

func TestSummarize(t *testing.T) {
	matched := []telemetry.Event{
		reading("B", "temperature", 36.0, time.Second),
		reading("A", "temperature", 40, time.Second),
		reading("B", "temperature", "n/a", time.Second),
		{telemetry.KeyValue: 44.0},
	}
	s := Summarize(matched)
	assert.InDelta(t, 40.0, s.AvgValue, 1e-9)
	assert.Equal(t, []string{"B", "A", telemetry.UnknownZone}, s.Zones)

	empty := Summarize(nil)
	assert.Zero(t, empty.AvgValue)
	assert.Empty(t, empty.Zones)
}
