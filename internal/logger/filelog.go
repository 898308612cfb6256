package logger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	logFileMutex sync.Mutex
)

// TriggerLogEntry is one rule firing in the local trigger log.
type TriggerLogEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	TriggerID     string    `json:"trigger_id"`
	RuleID        uint      `json:"rule_id"`
	RuleName      string    `json:"rule_name"`
	Severity      string    `json:"severity"`
	MatchingCount int       `json:"matching_count"`
	AvgValue      float64   `json:"avg_value"`
	Zones         []string  `json:"zones"`
	Actions       []string  `json:"actions,omitempty"`
}

// InitTriggerLog creates the trigger log directory.
func InitTriggerLog(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func triggerLogPath(logDir string, day time.Time) string {
	return filepath.Join(logDir, fmt.Sprintf("triggers-%s.jsonl", day.UTC().Format("2006-01-02")))
}

// WriteTriggerLog appends entry to the file of its day.
func WriteTriggerLog(logDir string, entry *TriggerLogEntry) error {
	logFileMutex.Lock()
	defer logFileMutex.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	file, err := os.OpenFile(triggerLogPath(logDir, entry.Timestamp), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	return nil
}

// TriggerLogQuery filters the trigger log.
type TriggerLogQuery struct {
	RuleID    *uint      `json:"rule_id,omitempty"`
	Severity  string     `json:"severity,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

type TriggerLogResult struct {
	Total int                `json:"total"`
	Logs  []*TriggerLogEntry `json:"logs"`
}

// maxTriggerLogDays caps how many daily files one query scans.
const maxTriggerLogDays = 31

// QueryTriggerLogs reads the daily files covering the query range (last 7
// days by default, at most 31 days back from the end) and returns matching
// entries, newest first.
func QueryTriggerLogs(ctx context.Context, logDir string, req *TriggerLogQuery) (*TriggerLogResult, error) {
	result := &TriggerLogResult{Logs: make([]*TriggerLogEntry, 0)}

	endDate := time.Now().UTC()
	if req.EndTime != nil {
		endDate = req.EndTime.UTC()
	}
	startDate := endDate.AddDate(0, 0, -7)
	if req.StartTime != nil {
		startDate = req.StartTime.UTC()
	}
	if floor := endDate.AddDate(0, 0, -maxTriggerLogDays); startDate.Before(floor) {
		startDate = floor
	}

	matched := make([]*TriggerLogEntry, 0)
	for d := startDate.Truncate(24 * time.Hour); !d.After(endDate); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := triggerLogPath(logDir, d)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		entries, err := readTriggerLog(path)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if matchesQuery(entry, req) {
				matched = append(matched, entry)
			}
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	result.Total = len(matched)
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	start := min(max(req.Offset, 0), len(matched))
	end := min(start+limit, len(matched))
	result.Logs = matched[start:end]
	return result, nil
}

func readTriggerLog(path string) ([]*TriggerLogEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entries := make([]*TriggerLogEntry, 0)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry TriggerLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // skip torn lines
		}
		entries = append(entries, &entry)
	}
	return entries, scanner.Err()
}

func matchesQuery(entry *TriggerLogEntry, req *TriggerLogQuery) bool {
	if req.RuleID != nil && entry.RuleID != *req.RuleID {
		return false
	}
	if req.Severity != "" && entry.Severity != req.Severity {
		return false
	}
	if req.StartTime != nil && entry.Timestamp.Before(*req.StartTime) {
		return false
	}
	if req.EndTime != nil && entry.Timestamp.After(*req.EndTime) {
		return false
	}
	return true
}
