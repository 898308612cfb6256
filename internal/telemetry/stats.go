package telemetry

import "time"

// DashboardStats is the aggregate pushed as stats_update and served by the
// dashboard API.
type DashboardStats struct {
	TotalLogs     int64            `json:"total_logs"`
	LogsToday     int64            `json:"logs_today"`
	ErrorsCount   int64            `json:"errors_count"`
	SensorsActive int64            `json:"sensors_active"`
	ZonesActivity map[string]int64 `json:"zones_activity"`
	Timestamp     time.Time        `json:"timestamp"`
}

// EmptyStats is published when no source and no cached copy are available.
func EmptyStats(now time.Time) *DashboardStats {
	return &DashboardStats{
		ZonesActivity: map[string]int64{},
		Timestamp:     now,
	}
}
