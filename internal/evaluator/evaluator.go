package evaluator

import (
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"smartbuilding/internal/models"
	"smartbuilding/internal/telemetry"
)

// Result of evaluating one rule against a batch of events.
type Result struct {
	Triggered bool
	Matched   []telemetry.Event
}

// Evaluate applies the rule to events at time now. Disabled rules never fire.
// The returned error is an *EvaluationError when the rule cannot be compiled.
func Evaluate(rule *models.AlertRule, events []telemetry.Event, now time.Time) (Result, error) {
	if !rule.Enabled {
		return Result{}, nil
	}
	c, err := Compile(rule)
	if err != nil {
		return Result{}, err
	}
	return c.Evaluate(events, now), nil
}

// Evaluate runs the compiled rule.
func (c *Compiled) Evaluate(events []telemetry.Event, now time.Time) Result {
	filtered := Filter(events, c.Filters)

	var matched []telemetry.Event
	switch cond := c.Condition.(type) {
	case Threshold:
		matched = matchThreshold(cond, filtered)
	case Range:
		matched = matchRange(cond, filtered)
	case Pattern:
		return matchPattern(cond, filtered, now)
	case Trend:
		return Result{}
	}
	return Result{Triggered: len(matched) > 0, Matched: matched}
}

func matchThreshold(cond Threshold, events []telemetry.Event) []telemetry.Event {
	var out []telemetry.Event
	for _, e := range events {
		if ok, comparable := compareField(e, cond.Field, cond.Op, cond.Value); comparable && ok {
			out = append(out, e)
		}
	}
	return out
}

// compareField reports whether the event field satisfies op against want.
// comparable is false when the field is missing or its type differs from the
// threshold type; such events are skipped.
func compareField(e telemetry.Event, field string, op models.Operator, want models.Scalar) (ok, comparable bool) {
	if n, isNum := want.Number(); isNum {
		v, has := e.Number(field)
		if !has {
			return false, false
		}
		return compare(v, n, op), true
	}
	if s, isText := want.Text(); isText {
		v, has := e.String(field)
		if !has {
			return false, false
		}
		return compare(v, s, op), true
	}
	return false, false
}

func compare[T float64 | string](v, threshold T, op models.Operator) bool {
	switch op {
	case models.OpGreater:
		return v > threshold
	case models.OpLess:
		return v < threshold
	case models.OpGreaterEqual:
		return v >= threshold
	case models.OpLessEqual:
		return v <= threshold
	case models.OpEqual:
		return v == threshold
	case models.OpNotEqual:
		return v != threshold
	}
	return false
}

func matchRange(cond Range, events []telemetry.Event) []telemetry.Event {
	var out []telemetry.Event
	for _, e := range events {
		v, ok := e.Number(cond.Field)
		if !ok {
			continue
		}
		if v < cond.Min || v > cond.Max {
			out = append(out, e)
		}
	}
	return out
}

// matchPattern counts events whose timestamp lies in [now-window, now].
// Events without a parsable timestamp are not counted.
func matchPattern(cond Pattern, events []telemetry.Event, now time.Time) Result {
	cutoff := now.Add(-cond.Window)
	var recent []telemetry.Event
	for _, e := range events {
		ts, ok := e.Time()
		if !ok || ts.Before(cutoff) || ts.After(now) {
			continue
		}
		recent = append(recent, e)
	}
	if len(recent) < cond.Count {
		return Result{}
	}
	return Result{Triggered: true, Matched: recent[:cond.Count]}
}

// Filter keeps the events that pass every non-empty filter.
func Filter(events []telemetry.Event, f models.RuleFilters) []telemetry.Event {
	out := make([]telemetry.Event, 0, len(events))
	for _, e := range events {
		if passes(e, f) {
			out = append(out, e)
		}
	}
	return out
}

func passes(e telemetry.Event, f models.RuleFilters) bool {
	if len(f.Zone) > 0 && !memberOf(e, telemetry.KeyZone, f.Zone) {
		return false
	}
	if len(f.SensorType) > 0 && !memberOf(e, telemetry.KeySensorType, f.SensorType) {
		return false
	}
	if len(f.Status) > 0 {
		status, ok := e.Status()
		if !ok || !slices.Contains(f.Status, status) {
			return false
		}
	}
	if f.Building != "" && !slices.Contains(e.Buildings(), f.Building) {
		return false
	}
	return true
}

func memberOf(e telemetry.Event, key string, allowed []string) bool {
	v, ok := e.String(key)
	return ok && slices.Contains(allowed, v)
}

// Evaluator evaluates rules and logs rules it cannot evaluate instead of
// failing the caller.
type Evaluator struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{log: log}
}

// Evaluate never returns an error: a rule that cannot be compiled is logged
// and treated as not triggered.
func (ev *Evaluator) Evaluate(rule *models.AlertRule, events []telemetry.Event, now time.Time) Result {
	res, err := Evaluate(rule, events, now)
	if err != nil {
		var evalErr *EvaluationError
		if errors.As(err, &evalErr) {
			ev.log.Warn("rule skipped", zap.Uint("rule_id", evalErr.RuleID), zap.String("rule", evalErr.RuleName), zap.String("reason", evalErr.Reason))
		} else {
			ev.log.Error("rule evaluation failed", zap.Uint("rule_id", rule.ID), zap.Error(err))
		}
		return Result{}
	}
	return res
}
