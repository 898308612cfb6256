package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartbuilding/internal/alert"
	"smartbuilding/internal/elasticsearch"
	"smartbuilding/internal/evaluator"
	"smartbuilding/internal/logger"
	"smartbuilding/internal/metrics"
	"smartbuilding/internal/models"
	"smartbuilding/internal/notify"
	"smartbuilding/internal/realtime"
	"smartbuilding/internal/telemetry"
)

// Alert sources.
const (
	SourceElasticsearch = "elasticsearch"
	SourceRule          = "alert_rule"

	ruleEngineSensorID = "RULE_ENGINE"
)

// Alert is one entry of a critical_alert push.
type Alert struct {
	Timestamp     string           `json:"timestamp"`
	Zone          string           `json:"zone"`
	Severity      string           `json:"severity"`
	Message       string           `json:"message"`
	Value         any              `json:"value"`
	SensorID      string           `json:"sensor_id"`
	Source        string           `json:"source"`
	RuleID        uint             `json:"rule_id,omitempty"`
	RuleName      string           `json:"rule_name,omitempty"`
	MatchingCount int              `json:"matching_count,omitempty"`
	TriggerID     string           `json:"trigger_id,omitempty"`
	Notifications []notify.Outcome `json:"notifications,omitempty"`
}

// CheckAlerts merges the standard alert documents with the rule pass and
// publishes critical_alert when anything fired.
func (s *Service) CheckAlerts(ctx context.Context, events []telemetry.Event) []Alert {
	now := s.now()

	standard := s.standardAlerts(ctx)
	triggered := s.evaluateRules(ctx, events, now)

	all := append(standard, triggered...)
	if len(all) > 0 {
		head := all
		if len(head) > criticalAlertLimit {
			head = head[:criticalAlertLimit]
		}
		s.publish(ctx, realtime.EventCriticalAlert, map[string]any{
			"count":             len(all),
			"alerts":            head,
			"timestamp":         now.Format(time.RFC3339),
			"has_rule_triggers": len(triggered) > 0,
		})
	}

	s.stateMu.Lock()
	s.lastAlertCheck = now
	s.stateMu.Unlock()
	return all
}

func (s *Service) standardAlerts(ctx context.Context) []Alert {
	s.stateMu.Lock()
	since := s.lastAlertCheck.Add(-standardAlertSlack)
	s.stateMu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	docs, err := s.deps.Source.StandardAlerts(fctx, since, standardAlertLimit)
	if err != nil {
		if !errors.Is(err, elasticsearch.ErrDisabled) {
			s.log.Warn("standard alert check failed", zap.Error(err))
		}
		return nil
	}

	alerts := make([]Alert, 0, len(docs))
	for _, d := range docs {
		alerts = append(alerts, standardAlert(d))
	}
	return alerts
}

func standardAlert(e telemetry.Event) Alert {
	str := func(key, def string) string {
		if v, ok := e.String(key); ok {
			return v
		}
		return def
	}
	value := any(0)
	if v, ok := e[telemetry.KeyValue]; ok && v != nil {
		value = v
	}
	return Alert{
		Timestamp: str(telemetry.KeyESTimestamp, "N/A"),
		Zone:      e.Zone(),
		Severity:  str(telemetry.KeySeverity, "unknown"),
		Message:   str(telemetry.KeyMessage, ""),
		Value:     value,
		SensorID:  str(telemetry.KeySensorID, "N/A"),
		Source:    SourceElasticsearch,
	}
}

func (s *Service) evaluateRules(ctx context.Context, events []telemetry.Event, now time.Time) []Alert {
	rules, err := s.deps.Rules.List(ctx, true)
	if err != nil {
		s.log.Error("failed to load enabled rules", zap.Error(err))
		return nil
	}

	var alerts []Alert
	for i := range rules {
		if a := s.checkRule(ctx, &rules[i], events, now); a != nil {
			alerts = append(alerts, *a)
		}
	}
	return alerts
}

// checkRule runs one rule through cooldown, evaluation, recording and
// dispatch. A panic is contained to the rule.
func (s *Service) checkRule(ctx context.Context, rule *models.AlertRule, events []telemetry.Event, now time.Time) (out *Alert) {
	log := s.log.With(zap.Uint("rule_id", rule.ID), zap.String("rule", rule.Name))
	ruleType := string(rule.RuleType)
	defer func() {
		if r := recover(); r != nil {
			metrics.RuleEvaluationsTotal.WithLabelValues(ruleType, "error").Inc()
			log.Error("rule check panicked", zap.Any("panic", r), zap.Stack("stack"))
			out = nil
		}
	}()

	if !alert.Ready(rule, now) {
		metrics.RuleEvaluationsTotal.WithLabelValues(ruleType, "cooldown").Inc()
		log.Debug("rule in cooldown")
		return nil
	}

	res := s.eval.Evaluate(rule, events, now)
	if !res.Triggered || len(res.Matched) == 0 {
		metrics.RuleEvaluationsTotal.WithLabelValues(ruleType, "quiet").Inc()
		return nil
	}

	summary := evaluator.Summarize(res.Matched)
	triggerID := uuid.NewString()
	updated, err := s.deps.Rules.RecordTrigger(ctx, rule.ID, alert.TriggerUpdate{
		TriggerID:     triggerID,
		Zones:         summary.Zones,
		AvgValue:      summary.AvgValue,
		MatchingCount: len(res.Matched),
		At:            now,
	})
	if err != nil {
		metrics.RuleEvaluationsTotal.WithLabelValues(ruleType, "error").Inc()
		log.Error("failed to record trigger, actions skipped", zap.Error(err))
		return nil
	}
	metrics.RuleEvaluationsTotal.WithLabelValues(ruleType, "triggered").Inc()

	trig := &notify.Trigger{
		ID:       triggerID,
		Rule:     updated,
		Matched:  res.Matched,
		AvgValue: summary.AvgValue,
		Zones:    summary.Zones,
		At:       now,
	}
	metrics.RuleTriggersTotal.WithLabelValues(string(trig.Severity())).Inc()
	log.Warn("rule triggered",
		zap.String("trigger_id", triggerID),
		zap.Int("matching_count", len(res.Matched)),
		zap.Float64("avg_value", summary.AvgValue),
		zap.Strings("zones", summary.Zones))

	var outcomes []notify.Outcome
	if s.deps.Notifier != nil {
		outcomes = s.deps.Notifier.DispatchAll(ctx, trig)
	}
	s.indexTrigger(ctx, trig, outcomes)
	s.writeTriggerLog(trig, outcomes)

	return &Alert{
		Timestamp:     now.Format(time.RFC3339),
		Zone:          strings.Join(summary.Zones, ", "),
		Severity:      string(trig.Severity()),
		Message:       trig.Message(),
		Value:         summary.AvgValue,
		SensorID:      ruleEngineSensorID,
		Source:        SourceRule,
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		MatchingCount: len(res.Matched),
		TriggerID:     triggerID,
		Notifications: outcomes,
	}
}

// indexTrigger stores the firing for Kibana. Failures are logged only.
func (s *Service) indexTrigger(ctx context.Context, t *notify.Trigger, outcomes []notify.Outcome) {
	doc := map[string]any{
		"@timestamp":     t.At.Format(time.RFC3339Nano),
		"trigger_id":     t.ID,
		"rule_id":        t.Rule.ID,
		"rule_name":      t.Rule.Name,
		"rule_type":      t.Rule.RuleType,
		"severity":       t.Severity(),
		"message":        t.Message(),
		"matching_count": len(t.Matched),
		"avg_value":      t.AvgValue,
		"zones_affected": t.Zones,
		"logs_sample":    t.Sample(),
		"notifications":  outcomes,
	}

	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	if err := s.deps.Source.IndexTrigger(fctx, t.ID, t.At, doc); err != nil {
		s.log.Warn("failed to index trigger", zap.String("trigger_id", t.ID), zap.Error(err))
	}
}

func (s *Service) writeTriggerLog(t *notify.Trigger, outcomes []notify.Outcome) {
	if s.deps.TriggerLogDir == "" {
		return
	}
	actions := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		status := "failed"
		if o.Sent {
			status = "sent"
		}
		actions = append(actions, fmt.Sprintf("%s:%s", o.Type, status))
	}
	entry := &logger.TriggerLogEntry{
		Timestamp:     t.At,
		TriggerID:     t.ID,
		RuleID:        t.Rule.ID,
		RuleName:      t.Rule.Name,
		Severity:      string(t.Severity()),
		MatchingCount: len(t.Matched),
		AvgValue:      t.AvgValue,
		Zones:         t.Zones,
		Actions:       actions,
	}
	if err := logger.WriteTriggerLog(s.deps.TriggerLogDir, entry); err != nil {
		s.log.Warn("failed to write trigger log", zap.String("trigger_id", t.ID), zap.Error(err))
	}
}
