package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"smartbuilding/internal/models"
)

// Store persists alert rules and their trigger statistics.
type Store interface {
	Create(ctx context.Context, rule *models.AlertRule) (uint, error)
	Get(ctx context.Context, id uint) (*models.AlertRule, error)
	List(ctx context.Context, enabledOnly bool) ([]models.AlertRule, error)
	Update(ctx context.Context, id uint, partial map[string]any) (*models.AlertRule, error)
	Delete(ctx context.Context, id uint) error
	Toggle(ctx context.Context, id uint) (bool, error)
	RecordTrigger(ctx context.Context, id uint, upd TriggerUpdate) (*models.AlertRule, error)
	Stats(ctx context.Context) (*RulesStats, error)
	History(ctx context.Context, id uint, limit int) ([]models.AlertHistory, error)
}

// Fields a partial update may never touch.
var protectedFields = []string{
	"id", "created_at", "updated_at", "last_triggered", "trigger_count", "stats",
}

// Columns written by Update. Trigger statistics are owned by RecordTrigger.
var editableColumns = []string{
	"name", "description", "enabled", "rule_type", "conditions", "actions",
	"severity", "priority", "cooldown", "escalation", "created_by", "updated_at",
}

// Service is the gorm backed Store.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	now   func() time.Time
	locks sync.Map // rule id -> *sync.Mutex
}

// NewService creates a rule store on db.
func NewService(db *gorm.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db:  db,
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, rule *models.AlertRule) (uint, error) {
	rule.Name = strings.TrimSpace(rule.Name)
	if rule.Severity == "" {
		rule.Severity = models.SeverityMedium
	}
	if err := Validate(rule); err != nil {
		return 0, err
	}

	taken, err := s.nameTaken(ctx, rule.Name, 0)
	if err != nil {
		return 0, err
	}
	if taken {
		return 0, fmt.Errorf("%w: %q", ErrDuplicateName, rule.Name)
	}

	now := s.now()
	rule.ID = 0
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.LastTriggered = nil
	rule.TriggerCount = 0
	rule.Stats = models.RuleStats{ZonesAffected: []string{}}

	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, fmt.Errorf("%w: %q", ErrDuplicateName, rule.Name)
		}
		return 0, fmt.Errorf("create rule: %w", err)
	}

	s.log.Info("alert rule created", zap.Uint("rule_id", rule.ID), zap.String("name", rule.Name))
	return rule.ID, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.AlertRule, error) {
	var rule models.AlertRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get rule %d: %w", id, err)
	}
	return &rule, nil
}

// List returns rules ordered by ascending priority, then id.
func (s *Service) List(ctx context.Context, enabledOnly bool) ([]models.AlertRule, error) {
	q := s.db.WithContext(ctx).Model(&models.AlertRule{})
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}
	var rules []models.AlertRule
	if err := q.Order("priority ASC").Order("id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

// Update shallow-merges partial into the stored rule and revalidates the
// result. Identity and trigger statistics are never taken from partial.
func (s *Service) Update(ctx context.Context, id uint, partial map[string]any) (*models.AlertRule, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	merged, err := mergeRule(current, partial)
	if err != nil {
		return nil, err
	}
	merged.Name = strings.TrimSpace(merged.Name)
	if merged.Severity == "" {
		merged.Severity = models.SeverityMedium
	}
	if err := Validate(merged); err != nil {
		return nil, err
	}

	if merged.Name != current.Name {
		taken, err := s.nameTaken(ctx, merged.Name, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, merged.Name)
		}
	}

	merged.ID = id
	merged.UpdatedAt = s.now()
	res := s.db.WithContext(ctx).Model(&models.AlertRule{ID: id}).Select(editableColumns).Updates(merged)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, merged.Name)
		}
		return nil, fmt.Errorf("update rule %d: %w", id, res.Error)
	}

	s.log.Info("alert rule updated", zap.Uint("rule_id", id))
	return s.Get(ctx, id)
}

func mergeRule(current *models.AlertRule, partial map[string]any) (*models.AlertRule, error) {
	raw, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	var doc, orig map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &orig); err != nil {
		return nil, err
	}

	for k, v := range partial {
		doc[k] = v
	}
	for _, k := range protectedFields {
		doc[k] = orig[k]
	}

	raw, err = json.Marshal(doc)
	if err != nil {
		return nil, invalid(fmt.Sprintf("invalid rule update: %v", err))
	}
	var merged models.AlertRule
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, invalid(fmt.Sprintf("invalid rule update: %v", err))
	}
	return &merged, nil
}

// Delete removes the rule together with its firing history.
func (s *Service) Delete(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.AlertRule{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("rule_id = ?", id).Delete(&models.AlertHistory{}).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	s.locks.Delete(id)
	s.log.Info("alert rule deleted", zap.Uint("rule_id", id))
	return nil
}

// Toggle flips enabled and returns the new value.
func (s *Service) Toggle(ctx context.Context, id uint) (bool, error) {
	var enabled bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rule models.AlertRule
		if err := tx.Select("id", "enabled").First(&rule, id).Error; err != nil {
			return err
		}
		enabled = !rule.Enabled
		return tx.Model(&models.AlertRule{}).Where("id = ?", id).
			UpdateColumns(map[string]any{"enabled": enabled, "updated_at": s.now()}).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("toggle rule %d: %w", id, err)
	}
	s.log.Info("alert rule toggled", zap.Uint("rule_id", id), zap.Bool("enabled", enabled))
	return enabled, nil
}

func (s *Service) ruleLock(id uint) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// RecordTrigger applies one firing to the rule: counters, running average,
// zone union and the history journal, all in a single transaction.
func (s *Service) RecordTrigger(ctx context.Context, id uint, upd TriggerUpdate) (*models.AlertRule, error) {
	if upd.At.IsZero() {
		upd.At = s.now()
	}
	if upd.TriggerID == "" {
		upd.TriggerID = uuid.NewString()
	}

	mu := s.ruleLock(id)
	mu.Lock()
	defer mu.Unlock()

	var out models.AlertRule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rule models.AlertRule
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rule, id).Error; err != nil {
			return err
		}

		zones, err := json.Marshal(mergeZones(rule.Stats.ZonesAffected, upd.Zones))
		if err != nil {
			return err
		}

		hist := models.AlertHistory{
			TriggerID:     upd.TriggerID,
			RuleID:        id,
			RuleName:      rule.Name,
			Severity:      rule.Severity,
			MatchingCount: upd.MatchingCount,
			AvgValue:      upd.AvgValue,
			Zones:         upd.Zones,
			TriggeredAt:   upd.At,
		}
		if err := tx.Create(&hist).Error; err != nil {
			return err
		}

		var recent int64
		if err := tx.Model(&models.AlertHistory{}).
			Where("rule_id = ? AND triggered_at >= ?", id, upd.At.Add(-7*24*time.Hour)).
			Count(&recent).Error; err != nil {
			return err
		}

		// gorm emits map keys in sorted order, so avg_value_on_trigger is
		// assigned before total_triggers changes (MySQL evaluates SET left to right).
		if err := tx.Model(&models.AlertRule{}).Where("id = ?", id).UpdateColumns(map[string]any{
			"avg_value_on_trigger": gorm.Expr("(avg_value_on_trigger * total_triggers + ?) / (total_triggers + 1)", upd.AvgValue),
			"last_7_days_triggers": recent,
			"last_triggered":       upd.At,
			"total_triggers":       gorm.Expr("total_triggers + 1"),
			"trigger_count":        gorm.Expr("trigger_count + 1"),
			"zones_affected":       string(zones),
		}).Error; err != nil {
			return err
		}

		return tx.First(&out, id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record trigger for rule %d: %w", id, err)
	}
	return &out, nil
}

func (s *Service) Stats(ctx context.Context) (*RulesStats, error) {
	db := s.db.WithContext(ctx)
	stats := &RulesStats{
		BySeverity:   make(map[models.Severity]int64, len(models.Severities)),
		TopTriggered: []models.AlertRule{},
	}
	for _, sev := range models.Severities {
		stats.BySeverity[sev] = 0
	}

	if err := db.Model(&models.AlertRule{}).Count(&stats.TotalRules).Error; err != nil {
		return nil, fmt.Errorf("count rules: %w", err)
	}
	if err := db.Model(&models.AlertRule{}).Where("enabled = ?", true).Count(&stats.EnabledRules).Error; err != nil {
		return nil, fmt.Errorf("count enabled rules: %w", err)
	}
	stats.DisabledRules = stats.TotalRules - stats.EnabledRules

	var rows []struct {
		Severity models.Severity
		Count    int64
	}
	if err := db.Model(&models.AlertRule{}).
		Select("severity, COUNT(*) AS count").
		Where("enabled = ?", true).
		Group("severity").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("group rules by severity: %w", err)
	}
	for _, r := range rows {
		stats.BySeverity[r.Severity] = r.Count
	}

	if err := db.Where("enabled = ?", true).
		Order("trigger_count DESC").Order("id ASC").
		Limit(5).
		Find(&stats.TopTriggered).Error; err != nil {
		return nil, fmt.Errorf("top triggered rules: %w", err)
	}
	return stats, nil
}

// History returns the most recent firings of a rule, newest first.
func (s *Service) History(ctx context.Context, id uint, limit int) ([]models.AlertHistory, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []models.AlertHistory
	if err := s.db.WithContext(ctx).
		Where("rule_id = ?", id).
		Order("triggered_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("rule %d history: %w", id, err)
	}
	return out, nil
}

func (s *Service) nameTaken(ctx context.Context, name string, exclude uint) (bool, error) {
	q := s.db.WithContext(ctx).Model(&models.AlertRule{}).Where("name = ?", name)
	if exclude != 0 {
		q = q.Where("id <> ?", exclude)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("check rule name: %w", err)
	}
	return n > 0, nil
}
