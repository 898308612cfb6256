package evaluator

import (
	"fmt"
	"time"

	"smartbuilding/internal/models"
)

const defaultEventCount = 3

// Condition is one of Threshold, Range, Pattern or Trend.
type Condition interface {
	condition()
}

// Threshold matches events whose field compares true against Value.
type Threshold struct {
	Field string
	Op    models.Operator
	Value models.Scalar
}

// Range matches events whose numeric field lies outside [Min, Max].
type Range struct {
	Field    string
	Min, Max float64
}

// Pattern fires when at least Count filtered events fall inside the
// trailing Window.
type Pattern struct {
	Window time.Duration
	Count  int
}

// Trend is accepted and stored but never fires.
type Trend struct {
	Window time.Duration
}

func (Threshold) condition() {}
func (Range) condition()     {}
func (Pattern) condition()   {}
func (Trend) condition()     {}

// Compiled is a rule reduced to what evaluation needs.
type Compiled struct {
	Filters   models.RuleFilters
	Condition Condition
}

// EvaluationError reports a rule that cannot be evaluated.
type EvaluationError struct {
	RuleID   uint
	RuleName string
	Reason   string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rule %d (%s): %s", e.RuleID, e.RuleName, e.Reason)
}

// Compile turns a stored rule into its typed condition.
func Compile(rule *models.AlertRule) (*Compiled, error) {
	fail := func(format string, args ...any) error {
		return &EvaluationError{RuleID: rule.ID, RuleName: rule.Name, Reason: fmt.Sprintf(format, args...)}
	}

	cond := rule.Conditions
	out := &Compiled{Filters: cond.Filters}

	switch rule.RuleType {
	case models.RuleTypeThreshold:
		if !cond.Operator.Valid() {
			return nil, fail("unknown operator %q", cond.Operator)
		}
		if cond.Threshold == nil {
			return nil, fail("threshold missing")
		}
		out.Condition = Threshold{Field: fieldOrValue(cond.Field), Op: cond.Operator, Value: *cond.Threshold}
	case models.RuleTypeRange:
		if cond.MinValue == nil || cond.MaxValue == nil {
			return nil, fail("min_value and max_value missing")
		}
		out.Condition = Range{Field: fieldOrValue(cond.Field), Min: *cond.MinValue, Max: *cond.MaxValue}
	case models.RuleTypePattern:
		if cond.TimeWindow == nil || *cond.TimeWindow <= 0 {
			return nil, fail("time_window missing")
		}
		count := defaultEventCount
		if cond.EventCount != nil {
			count = *cond.EventCount
		}
		if count < 1 {
			return nil, fail("event_count must be at least 1")
		}
		out.Condition = Pattern{Window: time.Duration(*cond.TimeWindow) * time.Second, Count: count}
	case models.RuleTypeTrend:
		var window time.Duration
		if cond.TimeWindow != nil {
			window = time.Duration(*cond.TimeWindow) * time.Second
		}
		out.Condition = Trend{Window: window}
	default:
		return nil, fail("unknown rule type %q", rule.RuleType)
	}
	return out, nil
}

func fieldOrValue(field string) string {
	if field == "" {
		return "value"
	}
	return field
}
