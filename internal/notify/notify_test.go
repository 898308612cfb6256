package notify

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartbuilding/internal/config"
	"smartbuilding/internal/models"
	"smartbuilding/internal/telemetry"
)

type captured struct {
	method string
	query  map[string][]string
	header http.Header
	body   []byte
}

type hookServer struct {
	mu     sync.Mutex
	calls  []captured
	status int
}

func newHookServer(t *testing.T, status int) (*hookServer, *httptest.Server) {
	t.Helper()
	h := &hookServer{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		h.mu.Lock()
		h.calls = append(h.calls, captured{method: r.Method, query: r.URL.Query(), header: r.Header.Clone(), body: body})
		h.mu.Unlock()
		w.WriteHeader(h.status)
	}))
	t.Cleanup(srv.Close)
	return h, srv
}

func (h *hookServer) last(t *testing.T) captured {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.calls)
	return h.calls[len(h.calls)-1]
}

type fakeMailer struct {
	from string
	to   []string
	msg  []byte
	err  error
}

func (f *fakeMailer) Send(_ context.Context, from string, to []string, msg []byte) error {
	f.from, f.to, f.msg = from, to, msg
	return f.err
}

func newTestDispatcher(opts ...Option) *Dispatcher {
	cfg := config.NotifyConfig{Enabled: true, Timeout: 10, DashboardURL: "http://dashboard.local"}
	mailCfg := config.MailConfig{DefaultSender: "alerts@smartbuilding.test"}
	return NewDispatcher(cfg, mailCfg, zap.NewNop(), opts...)
}

func testTrigger(matched int) *Trigger {
	events := make([]telemetry.Event, 0, matched)
	for i := 0; i < matched; i++ {
		events = append(events, telemetry.Event{
			"@timestamp":  "2025-03-14T10:29:58Z",
			"zone":        "A",
			"sensor_type": "temperature",
			"value":       36.0 + float64(i),
		})
	}
	return &Trigger{
		ID: "trigger-1",
		Rule: &models.AlertRule{
			Name:        "Critical Temperature - Zone A",
			Description: "Temperature above 35",
			Severity:    models.SeverityCritical,
		},
		Matched:  events,
		AvgValue: 36.5,
		Zones:    []string{"A", "B"},
		At:       time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC),
	}
}

func TestWebhookPostsPayload(t *testing.T) {
	hook, srv := newHookServer(t, http.StatusAccepted)
	d := newTestDispatcher()

	action := models.RuleAction{Type: models.ActionWebhook, Enabled: true, Config: models.ActionConfig{
		URL:     srv.URL,
		Headers: map[string]string{"Content-Type": "application/json", "X-Token": "secret"},
	}}
	require.True(t, d.Send(context.Background(), action, testTrigger(7)))

	call := hook.last(t)
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "secret", call.header.Get("X-Token"))

	var got WebhookPayload
	require.NoError(t, json.Unmarshal(call.body, &got))
	assert.Equal(t, "Critical Temperature - Zone A", got.RuleName)
	assert.Equal(t, models.SeverityCritical, got.Severity)
	assert.Equal(t, 7, got.MatchingCount)
	assert.Equal(t, 36.5, got.AvgValue)
	assert.Equal(t, []string{"A", "B"}, got.ZonesAffected)
	assert.Equal(t, "2025-03-14T10:30:00Z", got.Timestamp)
	assert.Len(t, got.LogsSample, 5)
}

func TestWebhookGetUsesQueryParameters(t *testing.T) {
	hook, srv := newHookServer(t, http.StatusOK)
	d := newTestDispatcher()

	action := models.RuleAction{Type: models.ActionWebhook, Config: models.ActionConfig{WebhookURL: srv.URL, Method: "get"}}
	require.True(t, d.Send(context.Background(), action, testTrigger(2)))

	call := hook.last(t)
	assert.Equal(t, http.MethodGet, call.method)
	assert.Equal(t, []string{"2"}, call.query["matching_count"])
	assert.Equal(t, []string{"A,B"}, call.query["zones_affected"])
	assert.Empty(t, call.body)
}

func TestWebhookPayloadTemplate(t *testing.T) {
	hook, srv := newHookServer(t, http.StatusOK)
	d := newTestDispatcher()

	action := models.RuleAction{Type: models.ActionWebhook, Config: models.ActionConfig{
		URL:             srv.URL,
		PayloadTemplate: `{"text": "{rule_name}: {value} in {zone} ({matching_count}, {severity})"}`,
	}}
	require.True(t, d.Send(context.Background(), action, testTrigger(3)))
	assert.JSONEq(t, `{"text": "Critical Temperature - Zone A: 36.50 in A, B (3, critical)"}`, string(hook.last(t).body))

	quoted := testTrigger(1)
	quoted.Rule.Name = `Server room "B" heat`
	quoted.Zones = []string{`C:\racks`, "<lab>"}
	action.Config.PayloadTemplate = `{"text": "{rule_name} in {zone}"}`
	require.True(t, d.Send(context.Background(), action, quoted))

	got := hook.last(t)
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(got.body, &body))
	assert.Equal(t, `Server room "B" heat in C:\racks, <lab>`, body["text"])
}

func TestWebhookFailureStatus(t *testing.T) {
	_, srv := newHookServer(t, http.StatusBadRequest)
	d := newTestDispatcher()

	action := models.RuleAction{Type: models.ActionWebhook, Config: models.ActionConfig{URL: srv.URL}}
	assert.False(t, d.Send(context.Background(), action, testTrigger(1)))

	action.Config.URL = ""
	assert.False(t, d.Send(context.Background(), action, testTrigger(1)))
}

func TestSlackMessage(t *testing.T) {
	hook, srv := newHookServer(t, http.StatusOK)
	d := newTestDispatcher()

	action := models.RuleAction{Type: models.ActionSlack, Config: models.ActionConfig{WebhookURL: srv.URL}}
	require.True(t, d.Send(context.Background(), action, testTrigger(4)))

	var msg slackMessage
	require.NoError(t, json.Unmarshal(hook.last(t).body, &msg))
	require.Len(t, msg.Attachments, 1)
	att := msg.Attachments[0]
	assert.Equal(t, "#dc3545", att.Color)
	assert.Equal(t, "🚨 Critical Temperature - Zone A", att.Title)
	assert.Equal(t, footerText, att.Footer)
	assert.Equal(t, int64(1741948200), att.Ts)
	titles := make([]string, 0, len(att.Fields))
	for _, f := range att.Fields {
		titles = append(titles, f.Title)
	}
	assert.Equal(t, []string{"Severity", "Events", "Zones", "Average value"}, titles)
	assert.Equal(t, "36.50", att.Fields[3].Value)
}

func TestSlackRequiresOK(t *testing.T) {
	_, srv := newHookServer(t, http.StatusNoContent)
	d := newTestDispatcher()
	action := models.RuleAction{Type: models.ActionSlack, Config: models.ActionConfig{URL: srv.URL}}
	assert.False(t, d.Send(context.Background(), action, testTrigger(1)))
}

func TestDiscordEmbed(t *testing.T) {
	hook, srv := newHookServer(t, http.StatusNoContent)
	d := newTestDispatcher()

	trig := testTrigger(1)
	trig.Rule.Severity = models.SeverityHigh
	action := models.RuleAction{Type: models.ActionDiscord, Config: models.ActionConfig{WebhookURL: srv.URL}}
	require.True(t, d.Send(context.Background(), action, trig))

	var msg discordMessage
	require.NoError(t, json.Unmarshal(hook.last(t).body, &msg))
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, 0xfd7e14, msg.Embeds[0].Color)
	assert.Equal(t, "2025-03-14T10:30:00Z", msg.Embeds[0].Timestamp)
	assert.Equal(t, footerText, msg.Embeds[0].Footer.Text)
	assert.Len(t, msg.Embeds[0].Fields, 3)
}

func TestSendHonoursActionTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	d := newTestDispatcher()

	action := models.RuleAction{Type: models.ActionWebhook, Config: models.ActionConfig{URL: srv.URL, Timeout: 1}}
	start := time.Now()
	assert.False(t, d.Send(context.Background(), action, testTrigger(1)))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSMSIsUnsupported(t *testing.T) {
	d := newTestDispatcher()
	action := models.RuleAction{Type: models.ActionSMS, Config: models.ActionConfig{PhoneNumbers: []string{"+33600000000"}}}
	assert.False(t, d.Send(context.Background(), action, testTrigger(1)))
	assert.ErrorIs(t, d.deliver(context.Background(), action, testTrigger(1)), ErrUnsupported)
}

func TestEmailMessage(t *testing.T) {
	mailer := &fakeMailer{}
	d := newTestDispatcher(WithMailer(mailer))

	action := models.RuleAction{Type: models.ActionEmail, Config: models.ActionConfig{
		Recipients: []string{"ops@smartbuilding.test", "ops@smartbuilding.test", " admin@smartbuilding.test "},
	}}
	require.True(t, d.Send(context.Background(), action, testTrigger(8)))

	assert.Equal(t, "alerts@smartbuilding.test", mailer.from)
	assert.Equal(t, []string{"ops@smartbuilding.test", "admin@smartbuilding.test"}, mailer.to)

	msg, err := mail.ReadMessage(strings.NewReader(string(mailer.msg)))
	require.NoError(t, err)
	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "🚨 [CRITICAL] Critical Temperature - Zone A - IoT Smart Building", subject)
	assert.True(t, strings.HasPrefix(msg.Header.Get("Content-Type"), "multipart/alternative"))

	body, err := io.ReadAll(msg.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Events detected: 8")
	assert.Contains(t, string(body), "... and 3 more events")
	assert.Contains(t, string(body), "background: #dc3545")
	assert.Contains(t, string(body), `href="http://dashboard.local"`)
}

func TestEmailRequiresRecipients(t *testing.T) {
	mailer := &fakeMailer{}
	d := newTestDispatcher(WithMailer(mailer))
	action := models.RuleAction{Type: models.ActionEmail}
	assert.False(t, d.Send(context.Background(), action, testTrigger(1)))
	assert.Nil(t, mailer.msg)
}

func TestSubjectOverride(t *testing.T) {
	trig := testTrigger(1)
	assert.Equal(t, "Heads up: Critical Temperature - Zone A",
		Subject(models.ActionConfig{Subject: "Heads up: {rule_name}"}, trig))

	trig.Rule.Severity = ""
	assert.Equal(t, "🚨 [MEDIUM] Critical Temperature - Zone A - IoT Smart Building", Subject(models.ActionConfig{}, trig))
}

func TestSeverityColors(t *testing.T) {
	assert.Equal(t, "#17a2b8", SeverityColor(models.SeverityLow))
	assert.Equal(t, "#ffc107", SeverityColor(models.SeverityMedium))
	assert.Equal(t, "#6c757d", SeverityColor("unknown"))
	assert.Equal(t, 0xdc3545, SeverityColorInt(models.SeverityCritical))
	assert.Equal(t, 0x6c757d, SeverityColorInt(""))
}

func TestDispatchAll(t *testing.T) {
	hook, srv := newHookServer(t, http.StatusOK)
	mailer := &fakeMailer{}
	d := newTestDispatcher(WithMailer(mailer))

	trig := testTrigger(2)
	trig.Rule.Actions = []models.RuleAction{
		{Type: models.ActionEmail, Enabled: true},
		{Type: models.ActionSlack, Enabled: false, Config: models.ActionConfig{URL: srv.URL}},
		{Type: models.ActionWebhook, Enabled: true, Config: models.ActionConfig{URL: srv.URL}},
	}

	outcomes := d.DispatchAll(context.Background(), trig)
	assert.Equal(t, []Outcome{
		{Type: models.ActionEmail, Sent: false},
		{Type: models.ActionWebhook, Sent: true},
	}, outcomes)
	assert.Len(t, hook.calls, 1)
}

func TestDispatchAllDisabled(t *testing.T) {
	hook, srv := newHookServer(t, http.StatusOK)
	d := NewDispatcher(config.NotifyConfig{Enabled: false}, config.MailConfig{}, zap.NewNop())

	trig := testTrigger(1)
	trig.Rule.Actions = []models.RuleAction{{Type: models.ActionWebhook, Enabled: true, Config: models.ActionConfig{URL: srv.URL}}}
	assert.Empty(t, d.DispatchAll(context.Background(), trig))
	assert.Empty(t, hook.calls)
}

func TestSecurityMode(t *testing.T) {
	assert.Equal(t, SecurityTLS, SecurityMode(config.MailConfig{UseSSL: true}))
	assert.Equal(t, SecurityStartTLS, SecurityMode(config.MailConfig{UseTLS: true}))
	assert.Equal(t, SecurityNone, SecurityMode(config.MailConfig{}))
}
