package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"smartbuilding/internal/models"
	"smartbuilding/internal/telemetry"
)

var ErrNoEndpoint = errors.New("url or webhook_url is required")

// WebhookPayload is the JSON body posted to generic webhooks.
type WebhookPayload struct {
	RuleName      string            `json:"rule_name"`
	Severity      models.Severity   `json:"severity"`
	MatchingCount int               `json:"matching_count"`
	AvgValue      float64           `json:"avg_value"`
	ZonesAffected []string          `json:"zones_affected"`
	Timestamp     string            `json:"timestamp"`
	LogsSample    []telemetry.Event `json:"logs_sample"`
}

func newWebhookPayload(t *Trigger) WebhookPayload {
	zones := t.Zones
	if zones == nil {
		zones = []string{}
	}
	sample := t.Sample()
	if sample == nil {
		sample = []telemetry.Event{}
	}
	return WebhookPayload{
		RuleName:      t.Rule.Name,
		Severity:      t.Severity(),
		MatchingCount: len(t.Matched),
		AvgValue:      t.AvgValue,
		ZonesAffected: zones,
		Timestamp:     t.At.UTC().Format(time.RFC3339),
		LogsSample:    sample,
	}
}

// queryParams flattens the payload for GET webhooks. The sample is not sent.
func (p WebhookPayload) queryParams() map[string]string {
	return map[string]string{
		"rule_name":      p.RuleName,
		"severity":       string(p.Severity),
		"matching_count": strconv.Itoa(p.MatchingCount),
		"avg_value":      strconv.FormatFloat(p.AvgValue, 'f', -1, 64),
		"zones_affected": strings.Join(p.ZonesAffected, ","),
		"timestamp":      p.Timestamp,
	}
}

func (d *Dispatcher) sendWebhook(ctx context.Context, cfg models.ActionConfig, t *Trigger) error {
	url := cfg.Endpoint()
	if url == "" {
		return ErrNoEndpoint
	}

	req := d.http.R().SetContext(ctx)
	if len(cfg.Headers) > 0 {
		req.SetHeaders(cfg.Headers)
	} else {
		req.SetHeader("Content-Type", "application/json")
	}

	payload := newWebhookPayload(t)
	var (
		resp *resty.Response
		err  error
	)
	switch strings.ToUpper(cfg.Method) {
	case "", http.MethodPost:
		if cfg.PayloadTemplate != "" {
			req.SetBody(applyPayloadTemplate(cfg.PayloadTemplate, t))
		} else {
			req.SetBody(payload)
		}
		resp, err = req.Post(url)
	case http.MethodGet:
		resp, err = req.SetQueryParams(payload.queryParams()).Get(url)
	default:
		return fmt.Errorf("unsupported webhook method %q", cfg.Method)
	}
	if err != nil {
		return err
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
