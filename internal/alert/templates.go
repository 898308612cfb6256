package alert

import "smartbuilding/internal/models"

const defaultBuilding = "Smart Building A"

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// DefaultRule is the blank form served by the rule template endpoint.
func DefaultRule() models.AlertRule {
	return models.AlertRule{
		Name:     "New Rule",
		Enabled:  true,
		RuleType: models.RuleTypeThreshold,
		Conditions: models.RuleConditions{
			Field:     "value",
			Operator:  models.OpGreater,
			Threshold: models.NumberScalar(0),
			Filters: models.RuleFilters{
				Zone:       []string{},
				SensorType: []string{},
				Status:     []string{},
				Building:   defaultBuilding,
			},
		},
		Actions: []models.RuleAction{{
			Type: models.ActionEmail,
			Config: models.ActionConfig{
				Recipients: []string{"admin@smartbuilding.com"},
				Subject:    "Alert: {rule_name}",
				Template:   "alert_notification",
			},
			Enabled: true,
		}},
		Severity: models.SeverityMedium,
		Priority: 5,
		Cooldown: 300,
		Escalation: models.RuleEscalation{
			After:             1800,
			ToSeverity:        models.SeverityHigh,
			AdditionalActions: []string{},
		},
		CreatedBy: "system",
		Stats:     models.RuleStats{ZonesAffected: []string{}},
	}
}

// ExampleRules returns the rules installed by the seeding command.
func ExampleRules() []models.AlertRule {
	return []models.AlertRule{
		{
			Name:        "Critical Temperature - Zone A",
			Description: "Alert when temperature exceeds 35°C in zone A",
			Enabled:     true,
			RuleType:    models.RuleTypeThreshold,
			Conditions: models.RuleConditions{
				Field:     "value",
				Operator:  models.OpGreater,
				Threshold: models.NumberScalar(35),
				Filters: models.RuleFilters{
					Zone:       []string{"A"},
					SensorType: []string{"temperature"},
					Status:     []string{},
					Building:   defaultBuilding,
				},
			},
			Actions: []models.RuleAction{
				{
					Type: models.ActionEmail,
					Config: models.ActionConfig{
						Recipients: []string{"admin@smartbuilding.com", "tech@smartbuilding.com"},
						Subject:    "🔥 Critical Temperature - Zone A",
						Template:   "critical_temperature",
					},
					Enabled: true,
				},
				{
					Type: models.ActionWebhook,
					Config: models.ActionConfig{
						URL:             "https://hooks.slack.com/services/YOUR/WEBHOOK/URL",
						Method:          "POST",
						Headers:         map[string]string{"Content-Type": "application/json"},
						PayloadTemplate: `{"text": "🔥 Alert: temperature {value}°C in zone {zone}"}`,
					},
					Enabled: false,
				},
			},
			Severity: models.SeverityCritical,
			Priority: 1,
			Cooldown: 600,
			Escalation: models.RuleEscalation{
				Enabled:           true,
				After:             1800,
				ToSeverity:        models.SeverityCritical,
				AdditionalActions: []string{"sms"},
			},
			CreatedBy: "admin",
		},
		{
			Name:        "Dangerous CO2 - All Zones",
			Description: "Alert when CO2 leaves the normal band (400-1000 ppm)",
			Enabled:     true,
			RuleType:    models.RuleTypeRange,
			Conditions: models.RuleConditions{
				Field:    "value",
				Operator: "out_of_range",
				MinValue: floatPtr(400),
				MaxValue: floatPtr(1000),
				Filters: models.RuleFilters{
					Zone:       []string{},
					SensorType: []string{"co2", "co2_high"},
					Status:     []string{},
					Building:   defaultBuilding,
				},
			},
			Actions: []models.RuleAction{{
				Type: models.ActionEmail,
				Config: models.ActionConfig{
					Recipients: []string{"maintenance@smartbuilding.com"},
					Subject:    "⚠️ Abnormal CO2 Level",
					Template:   "co2_alert",
				},
				Enabled: true,
			}},
			Severity: models.SeverityHigh,
			Priority: 2,
			Cooldown: 900,
			Escalation: models.RuleEscalation{
				After:             3600,
				ToSeverity:        models.SeverityCritical,
				AdditionalActions: []string{},
			},
			CreatedBy: "admin",
		},
		{
			Name:        "Multiple Fire Alarms",
			Description: "Alert on 3 or more fire alarms within 5 minutes",
			Enabled:     true,
			RuleType:    models.RuleTypePattern,
			Conditions: models.RuleConditions{
				Field:      "sensor_type",
				Operator:   models.OpEqual,
				Threshold:  models.TextScalar("fire_alarm"),
				TimeWindow: intPtr(300),
				EventCount: intPtr(3),
				Filters: models.RuleFilters{
					Zone:       []string{},
					SensorType: []string{"fire_alarm"},
					Status:     []string{"critical"},
					Building:   defaultBuilding,
				},
			},
			Actions: []models.RuleAction{{
				Type: models.ActionEmail,
				Config: models.ActionConfig{
					Recipients: []string{"emergency@smartbuilding.com", "security@smartbuilding.com"},
					Subject:    "🚨 EMERGENCY - Multiple Fire Alarms",
					Template:   "fire_emergency",
				},
				Enabled: true,
			}},
			Severity: models.SeverityCritical,
			Priority: 1,
			Cooldown: 60,
			Escalation: models.RuleEscalation{
				Enabled:           true,
				After:             120,
				ToSeverity:        models.SeverityCritical,
				AdditionalActions: []string{"sms"},
			},
			CreatedBy: "security",
		},
	}
}
