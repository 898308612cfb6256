package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"smartbuilding/internal/models"
	"smartbuilding/internal/telemetry"
)

const (
	defaultColor = "#6c757d"
	defaultEmoji = "📢"
	footerText   = "IoT Smart Building Alerting"
	timeLayout   = "2006-01-02 15:04:05"
)

var severityColors = map[models.Severity]string{
	models.SeverityLow:      "#17a2b8",
	models.SeverityMedium:   "#ffc107",
	models.SeverityHigh:     "#fd7e14",
	models.SeverityCritical: "#dc3545",
}

var severityEmojis = map[models.Severity]string{
	models.SeverityLow:      "📘",
	models.SeverityMedium:   "⚠️",
	models.SeverityHigh:     "🔶",
	models.SeverityCritical: "🚨",
}

// SeverityColor returns the hex color used by email and Slack.
func SeverityColor(s models.Severity) string {
	if c, ok := severityColors[s]; ok {
		return c
	}
	return defaultColor
}

// SeverityColorInt is the Discord embed form of SeverityColor.
func SeverityColorInt(s models.Severity) int {
	v, _ := strconv.ParseInt(strings.TrimPrefix(SeverityColor(s), "#"), 16, 64)
	return int(v)
}

func severityEmoji(s models.Severity) string {
	if e, ok := severityEmojis[s]; ok {
		return e
	}
	return defaultEmoji
}

// Subject builds the email subject. A configured subject wins and may use
// the {rule_name} placeholder.
func Subject(cfg models.ActionConfig, t *Trigger) string {
	if cfg.Subject != "" {
		return strings.ReplaceAll(cfg.Subject, "{rule_name}", t.Rule.Name)
	}
	return fmt.Sprintf("🚨 [%s] %s - IoT Smart Building", strings.ToUpper(string(t.Severity())), t.Rule.Name)
}

// applyPayloadTemplate 替换 payload_template 中的占位符
// Values are JSON string-escaped since the template is sent as a JSON body.
func applyPayloadTemplate(tpl string, t *Trigger) string {
	r := strings.NewReplacer(
		"{rule_name}", jsonEscape(t.Rule.Name),
		"{severity}", jsonEscape(string(t.Severity())),
		"{value}", strconv.FormatFloat(t.AvgValue, 'f', 2, 64),
		"{zone}", jsonEscape(strings.Join(t.Zones, ", ")),
		"{matching_count}", strconv.Itoa(len(t.Matched)),
	)
	return r.Replace(tpl)
}

// jsonEscape returns s as the inside of a JSON string literal.
func jsonEscape(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return s
	}
	out := strings.TrimSuffix(buf.String(), "\n")
	return out[1 : len(out)-1]
}

func orNA(e telemetry.Event, keys ...string) string {
	for _, k := range keys {
		if v, ok := e[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return "N/A"
}

type sampleRow struct {
	Timestamp string
	Zone      string
	Type      string
	Value     string
}

func sampleRows(t *Trigger) []sampleRow {
	sample := t.Sample()
	rows := make([]sampleRow, 0, len(sample))
	for _, e := range sample {
		rows = append(rows, sampleRow{
			Timestamp: orNA(e, telemetry.KeyESTimestamp, telemetry.KeyTimestamp),
			Zone:      orNA(e, telemetry.KeyZone),
			Type:      orNA(e, telemetry.KeySensorType, telemetry.KeyEventType),
			Value:     orNA(e, telemetry.KeyValue),
		})
	}
	return rows
}

func renderText(t *Trigger) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🚨 IOT SMART BUILDING ALERT [%s]\n", strings.ToUpper(string(t.Severity())))
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")
	fmt.Fprintf(&sb, "Rule: %s\n", t.Rule.Name)
	desc := t.Rule.Description
	if desc == "" {
		desc = "N/A"
	}
	fmt.Fprintf(&sb, "Description: %s\n\n", desc)
	fmt.Fprintf(&sb, "Events detected: %d\n", len(t.Matched))
	fmt.Fprintf(&sb, "Average value: %.2f\n", t.AvgValue)
	if len(t.Zones) > 0 {
		fmt.Fprintf(&sb, "Zones affected: %s\n", strings.Join(t.Zones, ", "))
	}

	sb.WriteString("\nFirst events:\n")
	sb.WriteString(strings.Repeat("-", 40) + "\n")
	for _, row := range sampleRows(t) {
		fmt.Fprintf(&sb, "  [%s] Zone %s | %s: %s\n", row.Timestamp, row.Zone, row.Type, row.Value)
	}
	if extra := len(t.Matched) - sampleSize; extra > 0 {
		fmt.Fprintf(&sb, "  ... and %d more events\n", extra)
	}

	sb.WriteString("\n" + strings.Repeat("-", 40) + "\n")
	fmt.Fprintf(&sb, "Triggered at: %s\n\n", t.At.Format(timeLayout))
	sb.WriteString("This message was generated by the IoT Smart Building alerting system.")
	return sb.String()
}

var htmlTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.header { background: {{.Color}}; color: white; padding: 20px; border-radius: 8px 8px 0 0; }
.content { background: #f8f9fa; padding: 20px; border-radius: 0 0 8px 8px; }
.badge { display: inline-block; padding: 5px 15px; border-radius: 4px; background: white; color: {{.Color}}; font-weight: bold; }
.stat-value { font-size: 24px; font-weight: bold; color: {{.Color}}; }
.stat-label { font-size: 12px; color: #666; }
table { width: 100%; border-collapse: collapse; margin-top: 15px; }
th, td { padding: 10px; text-align: left; border-bottom: 1px solid #ddd; }
th { background: #e9ecef; }
.footer { margin-top: 20px; font-size: 12px; color: #666; text-align: center; }
</style>
</head>
<body>
<div class="container">
  <div class="header">
    <h1 style="margin: 0;">🚨 IoT Smart Building Alert</h1>
    <div class="badge">{{.Severity}}</div>
  </div>
  <div class="content">
    <h2>{{.Name}}</h2>
    <p>{{.Description}}</p>
    <div>
      <span class="stat-value">{{.Count}}</span> <span class="stat-label">events detected</span>
      <span class="stat-value">{{printf "%.2f" .AvgValue}}</span> <span class="stat-label">average value</span>
      {{- if .Zones}}
      <span class="stat-value">{{len .Zones}}</span> <span class="stat-label">zones affected</span>
      {{- end}}
    </div>
    {{- if .Zones}}
    <p><strong>Zones:</strong> {{range $i, $z := .Zones}}{{if $i}}, {{end}}{{$z}}{{end}}</p>
    {{- end}}
    <h3>Events</h3>
    <table>
      <thead><tr><th>Timestamp</th><th>Zone</th><th>Type</th><th>Value</th></tr></thead>
      <tbody>
      {{- range .Rows}}
        <tr><td>{{.Timestamp}}</td><td>{{.Zone}}</td><td>{{.Type}}</td><td>{{.Value}}</td></tr>
      {{- end}}
      </tbody>
    </table>
    {{- if gt .Extra 0}}
    <p style="font-style: italic; color: #666;">... and {{.Extra}} more events</p>
    {{- end}}
    <div class="footer">
      <p>Generated by the IoT Smart Building alerting system.<br><a href="{{.DashboardURL}}">Open the dashboard</a></p>
      <p>Triggered at: {{.Timestamp}}</p>
    </div>
  </div>
</div>
</body>
</html>
`))

func renderHTML(t *Trigger, dashboardURL string) (string, error) {
	data := struct {
		Color        template.CSS
		Severity     string
		Name         string
		Description  string
		Count        int
		AvgValue     float64
		Zones        []string
		Rows         []sampleRow
		Extra        int
		DashboardURL string
		Timestamp    string
	}{
		Color:        template.CSS(SeverityColor(t.Severity())),
		Severity:     strings.ToUpper(string(t.Severity())),
		Name:         t.Rule.Name,
		Description:  t.Rule.Description,
		Count:        len(t.Matched),
		AvgValue:     t.AvgValue,
		Zones:        t.Zones,
		Rows:         sampleRows(t),
		Extra:        len(t.Matched) - sampleSize,
		DashboardURL: dashboardURL,
		Timestamp:    t.At.Format(timeLayout),
	}

	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render email html: %w", err)
	}
	return buf.String(), nil
}
