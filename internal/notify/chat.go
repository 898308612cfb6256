package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"smartbuilding/internal/models"
)

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackMessage struct {
	Attachments []slackAttachment `json:"attachments"`
}

func newSlackMessage(t *Trigger) slackMessage {
	sev := t.Severity()
	att := slackAttachment{
		Color: SeverityColor(sev),
		Title: severityEmoji(sev) + " " + t.Rule.Name,
		Text:  t.Rule.Description,
		Fields: []slackField{
			{Title: "Severity", Value: strings.ToUpper(string(sev)), Short: true},
			{Title: "Events", Value: fmt.Sprint(len(t.Matched)), Short: true},
		},
		Footer: footerText,
		Ts:     t.At.Unix(),
	}
	if len(t.Zones) > 0 {
		att.Fields = append(att.Fields, slackField{Title: "Zones", Value: strings.Join(t.Zones, ", ")})
	}
	att.Fields = append(att.Fields, slackField{Title: "Average value", Value: fmt.Sprintf("%.2f", t.AvgValue), Short: true})
	return slackMessage{Attachments: []slackAttachment{att}}
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Footer      struct {
		Text string `json:"text"`
	} `json:"footer"`
	Timestamp string `json:"timestamp"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

func newDiscordMessage(t *Trigger) discordMessage {
	sev := t.Severity()
	embed := discordEmbed{
		Title:       "🚨 " + t.Rule.Name,
		Description: t.Rule.Description,
		Color:       SeverityColorInt(sev),
		Fields: []discordField{
			{Name: "Severity", Value: strings.ToUpper(string(sev)), Inline: true},
			{Name: "Events", Value: fmt.Sprint(len(t.Matched)), Inline: true},
		},
		Timestamp: t.At.UTC().Format(time.RFC3339),
	}
	embed.Footer.Text = footerText
	if len(t.Zones) > 0 {
		embed.Fields = append(embed.Fields, discordField{Name: "Zones affected", Value: strings.Join(t.Zones, ", ")})
	}
	return discordMessage{Embeds: []discordEmbed{embed}}
}

// postJSON posts body and accepts only the listed status codes.
func (d *Dispatcher) postJSON(ctx context.Context, url string, body any, accept ...int) error {
	resp, err := d.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(url)
	if err != nil {
		return err
	}
	for _, code := range accept {
		if resp.StatusCode() == code {
			return nil
		}
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode())
}

func (d *Dispatcher) sendSlack(ctx context.Context, cfg models.ActionConfig, t *Trigger) error {
	url := cfg.Endpoint()
	if url == "" {
		return ErrNoEndpoint
	}
	return d.postJSON(ctx, url, newSlackMessage(t), http.StatusOK)
}

func (d *Dispatcher) sendDiscord(ctx context.Context, cfg models.ActionConfig, t *Trigger) error {
	url := cfg.Endpoint()
	if url == "" {
		return ErrNoEndpoint
	}
	return d.postJSON(ctx, url, newDiscordMessage(t), http.StatusOK, http.StatusNoContent)
}
