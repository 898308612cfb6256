package telemetry

import (
	"encoding/json"
	"strings"
	"time"
)

// Well-known event keys.
const (
	KeyTimestamp   = "timestamp"
	KeyESTimestamp = "@timestamp"
	KeyZone        = "zone"
	KeySensorType  = "sensor_type"
	KeyEventType   = "event_type"
	KeyValue       = "value"
	KeyUnit        = "unit"
	KeyStatus      = "status"
	KeySeverity    = "severity"
	KeyBuilding    = "building"
	KeyMessage     = "message"
	KeySensorID    = "sensor_id"
	KeyIndex       = "_index"

	UnknownZone = "Unknown"
)

// Event is a telemetry reading or alert document. The engine only reads it.
type Event map[string]any

// String returns the value at key when it is a string.
func (e Event) String(key string) (string, bool) {
	v, ok := e[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Number returns the value at key when it holds a numeric type. Strings are
// not converted.
func (e Event) Number(key string) (float64, bool) {
	v, ok := e[key]
	if !ok || v == nil {
		return 0, false
	}
	return toFloat(v)
}

// Zone returns the event zone or UnknownZone.
func (e Event) Zone() string {
	if z, ok := e.String(KeyZone); ok && z != "" {
		return z
	}
	return UnknownZone
}

// Status returns status, falling back to severity for alert documents.
func (e Event) Status() (string, bool) {
	if s, ok := e.String(KeyStatus); ok {
		return s, true
	}
	return e.String(KeySeverity)
}

// Buildings returns the building value as a list; events may carry either a
// single building or several.
func (e Event) Buildings() []string {
	switch b := e[KeyBuilding].(type) {
	case string:
		return []string{b}
	case []string:
		return b
	case []any:
		out := make([]string, 0, len(b))
		for _, item := range b {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Time returns the event timestamp, preferring timestamp over @timestamp.
// ok is false when the event has no parsable timestamp.
func (e Event) Time() (time.Time, bool) {
	if v, ok := e[KeyTimestamp]; ok && v != nil {
		return ParseTime(v)
	}
	if v, ok := e[KeyESTimestamp]; ok && v != nil {
		return ParseTime(v)
	}
	return time.Time{}, false
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime accepts RFC3339 strings (trailing Z or offset, optional fraction),
// naive ISO strings which are read as UTC, epoch milliseconds and time.Time.
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, true
		}
		for _, layout := range naiveLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts, true
			}
		}
		return time.Time{}, false
	default:
		if ms, ok := toFloat(v); ok {
			return time.UnixMilli(int64(ms)).UTC(), true
		}
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// ForDisplay builds the flattened shape pushed to dashboard clients.
func (e Event) ForDisplay() map[string]any {
	pick := func(def string, keys ...string) any {
		for _, k := range keys {
			if v, ok := e[k]; ok && v != nil {
				return v
			}
		}
		return def
	}
	value := any(0)
	if v, ok := e[KeyValue]; ok && v != nil {
		value = v
	}
	return map[string]any{
		"timestamp":   pick("N/A", KeyESTimestamp, KeyTimestamp),
		"zone":        pick(UnknownZone, KeyZone),
		"sensor_type": pick("alert", KeySensorType, KeyEventType),
		"value":       value,
		"unit":        pick("", KeyUnit),
		"status":      pick("info", KeyStatus, KeySeverity),
		"message":     pick("", KeyMessage),
		"sensor_id":   pick("N/A", KeySensorID),
		"index":       pick("", KeyIndex),
	}
}
