package models

import "time"

// AlertHistory 告警历史记录, one row per rule firing.
type AlertHistory struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TriggerID     string    `gorm:"size:36;not null;uniqueIndex" json:"trigger_id"`
	RuleID        uint      `gorm:"not null;index:idx_alert_history_rule_time,priority:1" json:"rule_id"`
	RuleName      string    `gorm:"size:255" json:"rule_name"`
	Severity      Severity  `gorm:"size:20" json:"severity"`
	MatchingCount int       `json:"matching_count"`
	AvgValue      float64   `json:"avg_value"`
	Zones         []string  `gorm:"serializer:json;type:text" json:"zones"`
	TriggeredAt   time.Time `gorm:"not null;index:idx_alert_history_rule_time,priority:2" json:"triggered_at"`
}

func (AlertHistory) TableName() string {
	return "alert_history"
}
