package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)

	cases := map[string]any{
		"zulu":              "2025-03-14T10:30:00Z",
		"zulu fraction":     "2025-03-14T10:30:00.000000Z",
		"offset":            "2025-03-14T11:30:00+01:00",
		"naive":             "2025-03-14T10:30:00",
		"naive fraction":    "2025-03-14T10:30:00.123",
		"naive space":       "2025-03-14 10:30:00",
		"epoch millis":      float64(want.UnixMilli()),
		"epoch millis int":  want.UnixMilli(),
		"time value":        want,
		"json number epoch": json.Number("1741948200000"),
	}

	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := ParseTime(in)
			require.True(t, ok)
			assert.True(t, got.Truncate(time.Second).Equal(want), "got %s", got)
		})
	}
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	for _, in := range []any{"", "yesterday", "14/03/2025", true, nil, time.Time{}} {
		_, ok := ParseTime(in)
		assert.False(t, ok, "%v", in)
	}
}

func TestEventTimePrefersTimestamp(t *testing.T) {
	e := Event{
		KeyTimestamp:   "2025-03-14T10:30:00Z",
		KeyESTimestamp: "2020-01-01T00:00:00Z",
	}
	ts, ok := e.Time()
	require.True(t, ok)
	assert.Equal(t, 2025, ts.Year())

	e = Event{KeyESTimestamp: "2020-01-01T00:00:00Z"}
	ts, ok = e.Time()
	require.True(t, ok)
	assert.Equal(t, 2020, ts.Year())

	_, ok = Event{}.Time()
	assert.False(t, ok)
}

func TestEventNumberDoesNotCoerceStrings(t *testing.T) {
	e := Event{"a": 12, "b": 3.5, "c": "42", "d": nil, "e": json.Number("7.25")}

	v, ok := e.Number("a")
	assert.True(t, ok)
	assert.Equal(t, 12.0, v)

	v, ok = e.Number("b")
	assert.True(t, ok)
	assert.Equal(t, 3.5, v)

	_, ok = e.Number("c")
	assert.False(t, ok)
	_, ok = e.Number("d")
	assert.False(t, ok)
	_, ok = e.Number("missing")
	assert.False(t, ok)

	v, ok = e.Number("e")
	assert.True(t, ok)
	assert.Equal(t, 7.25, v)
}

func TestEventAccessors(t *testing.T) {
	e := Event{KeySeverity: "critical", KeyBuilding: []any{"Smart Building A", "Annex"}}

	status, ok := e.Status()
	assert.True(t, ok)
	assert.Equal(t, "critical", status)
	assert.Equal(t, UnknownZone, e.Zone())
	assert.Equal(t, []string{"Smart Building A", "Annex"}, e.Buildings())

	e = Event{KeyStatus: "warning", KeySeverity: "critical", KeyZone: "B", KeyBuilding: "Smart Building A"}
	status, _ = e.Status()
	assert.Equal(t, "warning", status)
	assert.Equal(t, "B", e.Zone())
	assert.Equal(t, []string{"Smart Building A"}, e.Buildings())
}

func TestForDisplayDefaults(t *testing.T) {
	out := Event{KeyESTimestamp: "2025-03-14T10:30:00Z", KeyEventType: "intrusion", KeyIndex: "logs-iot-alerts-2025.03.14"}.ForDisplay()

	assert.Equal(t, "2025-03-14T10:30:00Z", out["timestamp"])
	assert.Equal(t, UnknownZone, out["zone"])
	assert.Equal(t, "intrusion", out["sensor_type"])
	assert.Equal(t, 0, out["value"])
	assert.Equal(t, "info", out["status"])
	assert.Equal(t, "N/A", out["sensor_id"])
	assert.Equal(t, "logs-iot-alerts-2025.03.14", out["index"])
}
