package notify

import (
	"fmt"
	"time"

	"smartbuilding/internal/models"
	"smartbuilding/internal/telemetry"
)

const sampleSize = 5

// Trigger is one rule firing handed to the notification channels.
type Trigger struct {
	ID       string
	Rule     *models.AlertRule
	Matched  []telemetry.Event
	AvgValue float64
	Zones    []string
	At       time.Time
}

// Sample returns the first events shown in notifications.
func (t *Trigger) Sample() []telemetry.Event {
	if len(t.Matched) <= sampleSize {
		return t.Matched
	}
	return t.Matched[:sampleSize]
}

// Severity defaults to medium for rules stored without one.
func (t *Trigger) Severity() models.Severity {
	if t.Rule.Severity == "" {
		return models.SeverityMedium
	}
	return t.Rule.Severity
}

// Message is the one-line summary used in alert records.
func (t *Trigger) Message() string {
	return fmt.Sprintf("[Rule: %s] %d event(s) detected", t.Rule.Name, len(t.Matched))
}
