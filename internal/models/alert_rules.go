package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// RuleType selects the evaluation semantics of a rule.
type RuleType string

const (
	RuleTypeThreshold RuleType = "threshold"
	RuleTypeRange     RuleType = "range"
	RuleTypePattern   RuleType = "pattern"
	RuleTypeTrend     RuleType = "trend"
)

var RuleTypes = []RuleType{RuleTypeThreshold, RuleTypeRange, RuleTypeTrend, RuleTypePattern}

func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeThreshold, RuleTypeRange, RuleTypePattern, RuleTypeTrend:
		return true
	}
	return false
}

// Operator is a comparison operator of a threshold rule.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

var Operators = []Operator{OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual}

func (o Operator) Valid() bool {
	switch o {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual:
		return true
	}
	return false
}

// Severity 告警级别
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ActionType 告警渠道类型
type ActionType string

const (
	ActionEmail   ActionType = "email"
	ActionWebhook ActionType = "webhook"
	ActionSlack   ActionType = "slack"
	ActionDiscord ActionType = "discord"
	ActionSMS     ActionType = "sms"
)

var ActionTypes = []ActionType{ActionEmail, ActionWebhook, ActionSlack, ActionDiscord, ActionSMS}

func (a ActionType) Valid() bool {
	switch a {
	case ActionEmail, ActionWebhook, ActionSlack, ActionDiscord, ActionSMS:
		return true
	}
	return false
}

// Scalar holds a threshold that is either a number or a string.
type Scalar struct {
	num *float64
	str *string
}

func NumberScalar(v float64) *Scalar { return &Scalar{num: &v} }

func TextScalar(v string) *Scalar { return &Scalar{str: &v} }

// Number returns the numeric value, if the scalar is numeric.
func (s *Scalar) Number() (float64, bool) {
	if s == nil || s.num == nil {
		return 0, false
	}
	return *s.num, true
}

// Text returns the string value, if the scalar is a string.
func (s *Scalar) Text() (string, bool) {
	if s == nil || s.str == nil {
		return "", false
	}
	return *s.str, true
}

func (s Scalar) String() string {
	if s.num != nil {
		return strconv.FormatFloat(*s.num, 'f', -1, 64)
	}
	if s.str != nil {
		return *s.str
	}
	return ""
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	if s.num != nil {
		return json.Marshal(*s.num)
	}
	if s.str != nil {
		return json.Marshal(*s.str)
	}
	return []byte("null"), nil
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		s.num, s.str = &n, nil
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.num, s.str = nil, &str
		return nil
	}
	return fmt.Errorf("threshold must be a number or a string, got %s", string(data))
}

// RuleFilters restrict the events a rule looks at. Empty means no restriction.
type RuleFilters struct {
	Zone       []string `json:"zone"`
	SensorType []string `json:"sensor_type"`
	Status     []string `json:"status"`
	Building   string   `json:"building,omitempty"`
}

// RuleConditions is the variant payload keyed by rule_type. Pointer fields
// distinguish an absent value from a zero value.
type RuleConditions struct {
	Field      string      `json:"field,omitempty"`
	Operator   Operator    `json:"operator,omitempty"`
	Threshold  *Scalar     `json:"threshold,omitempty"`
	MinValue   *float64    `json:"min_value,omitempty"`
	MaxValue   *float64    `json:"max_value,omitempty"`
	TimeWindow *int        `json:"time_window,omitempty"` // seconds
	EventCount *int        `json:"event_count,omitempty"`
	Filters    RuleFilters `json:"filters"`
}

// ActionConfig carries the channel specific settings of an action.
type ActionConfig struct {
	// email
	Recipients []string `json:"recipients,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Template   string   `json:"template,omitempty"`

	// webhook / slack / discord
	URL             string            `json:"url,omitempty"`
	WebhookURL      string            `json:"webhook_url,omitempty"`
	Method          string            `json:"method,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	PayloadTemplate string            `json:"payload_template,omitempty"`
	Timeout         int               `json:"timeout,omitempty"` // seconds

	// sms
	PhoneNumbers []string `json:"phone_numbers,omitempty"`
}

// Endpoint returns the target URL, accepting either url or webhook_url.
func (c ActionConfig) Endpoint() string {
	if c.URL != "" {
		return c.URL
	}
	return c.WebhookURL
}

type RuleAction struct {
	Type    ActionType   `json:"type"`
	Config  ActionConfig `json:"config"`
	Enabled bool         `json:"enabled"`
}

// RuleEscalation is stored with the rule but not evaluated.
type RuleEscalation struct {
	Enabled           bool     `json:"enabled"`
	After             int      `json:"after"`
	ToSeverity        Severity `json:"to_severity,omitempty"`
	AdditionalActions []string `json:"additional_actions"`
}

type RuleStats struct {
	TotalTriggers     int64    `gorm:"not null;default:0" json:"total_triggers"`
	Last7DaysTriggers int64    `gorm:"column:last_7_days_triggers;not null;default:0" json:"last_7_days_triggers"`
	AvgValueOnTrigger float64  `gorm:"not null;default:0" json:"avg_value_on_trigger"`
	ZonesAffected     []string `gorm:"serializer:json;type:text" json:"zones_affected"`
}

// AlertRule 告警规则模型
type AlertRule struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"size:255;not null;uniqueIndex" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	Enabled     bool           `gorm:"not null;index;index:idx_alert_rules_enabled_severity,priority:1" json:"enabled"`
	RuleType    RuleType       `gorm:"size:20;not null" json:"rule_type"`
	Conditions  RuleConditions `gorm:"serializer:json;type:text" json:"conditions"`
	Actions     []RuleAction   `gorm:"serializer:json;type:text" json:"actions"`
	Severity    Severity       `gorm:"size:20;index:idx_alert_rules_enabled_severity,priority:2" json:"severity"`
	Priority    int            `gorm:"not null;index" json:"priority"` // 1 = most urgent
	Cooldown    int            `gorm:"not null" json:"cooldown"`       // seconds
	Escalation  RuleEscalation `gorm:"serializer:json;type:text" json:"escalation"`
	CreatedBy   string         `gorm:"size:100" json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	LastTriggered *time.Time `gorm:"index" json:"last_triggered"`
	TriggerCount  int64      `gorm:"not null;default:0" json:"trigger_count"`
	Stats         RuleStats  `gorm:"embedded" json:"stats"`
}

func (AlertRule) TableName() string {
	return "alert_rules"
}

// EnabledActions returns the actions that should be dispatched on a firing.
func (r *AlertRule) EnabledActions() []RuleAction {
	out := make([]RuleAction, 0, len(r.Actions))
	for _, a := range r.Actions {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}
