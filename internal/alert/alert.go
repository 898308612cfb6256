package alert

import (
	"errors"
	"time"

	"smartbuilding/internal/models"
)

var (
	ErrNotFound      = errors.New("alert rule not found")
	ErrDuplicateName = errors.New("alert rule name already exists")
)

// ValidationError reports a rule definition the caller has to correct.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(msg string) error { return &ValidationError{Msg: msg} }

// IsValidation reports whether err is a rule validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Ready reports whether the rule is out of its cooldown at now. A rule that
// never fired is always ready.
func Ready(rule *models.AlertRule, now time.Time) bool {
	if rule.LastTriggered == nil || rule.LastTriggered.IsZero() {
		return true
	}
	return now.Sub(*rule.LastTriggered) >= time.Duration(rule.Cooldown)*time.Second
}

// TriggerUpdate is what one firing contributes to a rule's statistics.
type TriggerUpdate struct {
	TriggerID     string
	Zones         []string
	AvgValue      float64
	MatchingCount int
	At            time.Time
}

// RulesStats summarizes the rule collection.
type RulesStats struct {
	TotalRules    int64                     `json:"total_rules"`
	EnabledRules  int64                     `json:"enabled_rules"`
	DisabledRules int64                     `json:"disabled_rules"`
	BySeverity    map[models.Severity]int64 `json:"by_severity"`
	TopTriggered  []models.AlertRule        `json:"top_triggered"`
}

func mergeZones(current, added []string) []string {
	seen := make(map[string]struct{}, len(current)+len(added))
	out := make([]string, 0, len(current)+len(added))
	for _, list := range [][]string{current, added} {
		for _, z := range list {
			if _, ok := seen[z]; ok {
				continue
			}
			seen[z] = struct{}{}
			out = append(out, z)
		}
	}
	return out
}
