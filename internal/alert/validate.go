package alert

import (
	"fmt"
	"strings"

	"smartbuilding/internal/models"
)

// Validate checks a rule definition. It returns a *ValidationError on the
// first problem found.
func Validate(rule *models.AlertRule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return invalid("rule name is required")
	}

	if !rule.RuleType.Valid() {
		return invalid(fmt.Sprintf("invalid rule type, must be one of: %s", join(models.RuleTypes)))
	}

	cond := rule.Conditions
	switch rule.RuleType {
	case models.RuleTypeThreshold:
		if cond.Field == "" {
			return invalid("conditions.field is required")
		}
		if !cond.Operator.Valid() {
			return invalid(fmt.Sprintf("invalid operator, must be one of: %s", join(models.Operators)))
		}
		if cond.Threshold == nil {
			return invalid("threshold is required for a threshold rule")
		}
	case models.RuleTypeRange:
		if cond.Field == "" {
			return invalid("conditions.field is required")
		}
		if cond.MinValue == nil || cond.MaxValue == nil {
			return invalid("min_value and max_value are required for a range rule")
		}
	case models.RuleTypePattern, models.RuleTypeTrend:
		if cond.TimeWindow == nil {
			return invalid("time_window is required for trend/pattern rules")
		}
		if *cond.TimeWindow <= 0 {
			return invalid("time_window must be a positive number of seconds")
		}
		if cond.EventCount != nil && *cond.EventCount < 1 {
			return invalid("event_count must be at least 1")
		}
	}

	for _, action := range rule.Actions {
		if !action.Type.Valid() {
			return invalid(fmt.Sprintf("invalid action type: %s", action.Type))
		}
		switch action.Type {
		case models.ActionEmail:
			if len(action.Config.Recipients) == 0 {
				return invalid("email recipients are required")
			}
		case models.ActionWebhook, models.ActionSlack, models.ActionDiscord:
			if action.Config.Endpoint() == "" {
				return invalid(fmt.Sprintf("url is required for %s", action.Type))
			}
		}
	}

	if rule.Severity != "" && !rule.Severity.Valid() {
		return invalid(fmt.Sprintf("invalid severity, must be one of: %s", join(models.Severities)))
	}
	if rule.Cooldown < 0 {
		return invalid("cooldown cannot be negative")
	}

	return nil
}

func join[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
