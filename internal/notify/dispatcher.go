package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"smartbuilding/internal/config"
	"smartbuilding/internal/metrics"
	"smartbuilding/internal/models"
)

const defaultTimeout = 10 * time.Second

var ErrUnsupported = errors.New("notification channel not supported")

// DispatchError describes one failed action. It never leaves the dispatcher;
// callers only see the boolean outcome.
type DispatchError struct {
	Channel  models.ActionType
	RuleName string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s notification for rule %q failed: %v", e.Channel, e.RuleName, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Outcome is the result of one action.
type Outcome struct {
	Type models.ActionType `json:"type"`
	Sent bool              `json:"sent"`
}

// Dispatcher sends rule firings to email, webhook, Slack and Discord.
type Dispatcher struct {
	cfg    config.NotifyConfig
	from   string
	mailer MailTransport
	http   *resty.Client
	log    *zap.Logger
}

type Option func(*Dispatcher)

// WithMailer replaces the SMTP transport.
func WithMailer(m MailTransport) Option {
	return func(d *Dispatcher) { d.mailer = m }
}

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.http = resty.NewWithClient(c) }
}

func NewDispatcher(cfg config.NotifyConfig, mail config.MailConfig, log *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:    cfg,
		from:   mail.DefaultSender,
		mailer: NewSMTPTransport(mail),
		http:   resty.NewWithClient(SharedHTTPClient()),
		log:    log,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.http.SetHeader("User-Agent", "smartbuilding-alerting")
	return d
}

func (d *Dispatcher) timeoutFor(action models.RuleAction) time.Duration {
	if action.Config.Timeout > 0 {
		return time.Duration(action.Config.Timeout) * time.Second
	}
	if d.cfg.Timeout > 0 {
		return time.Duration(d.cfg.Timeout) * time.Second
	}
	return defaultTimeout
}

// Send delivers one action under its own timeout and reports success.
func (d *Dispatcher) Send(ctx context.Context, action models.RuleAction, t *Trigger) (ok bool) {
	ctx, cancel := context.WithTimeout(ctx, d.timeoutFor(action))
	defer cancel()

	start := time.Now()
	err := d.deliver(ctx, action, t)
	metrics.NotificationDuration.WithLabelValues(string(action.Type)).Observe(time.Since(start).Seconds())

	if err != nil {
		derr := &DispatchError{Channel: action.Type, RuleName: t.Rule.Name, Err: err}
		metrics.NotificationsTotal.WithLabelValues(string(action.Type), "failed").Inc()
		d.log.Warn("notification failed",
			zap.String("channel", string(action.Type)),
			zap.String("rule", t.Rule.Name),
			zap.String("trigger_id", t.ID),
			zap.Error(derr))
		return false
	}

	metrics.NotificationsTotal.WithLabelValues(string(action.Type), "sent").Inc()
	d.log.Info("notification sent",
		zap.String("channel", string(action.Type)),
		zap.String("rule", t.Rule.Name),
		zap.String("trigger_id", t.ID))
	return true
}

func (d *Dispatcher) deliver(ctx context.Context, action models.RuleAction, t *Trigger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch action.Type {
	case models.ActionEmail:
		return d.sendEmail(ctx, action.Config, t)
	case models.ActionWebhook:
		return d.sendWebhook(ctx, action.Config, t)
	case models.ActionSlack:
		return d.sendSlack(ctx, action.Config, t)
	case models.ActionDiscord:
		return d.sendDiscord(ctx, action.Config, t)
	case models.ActionSMS:
		return ErrUnsupported
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, action.Type)
	}
}

// DispatchAll sends every enabled action of the rule in order. A failed
// action does not stop the next one.
func (d *Dispatcher) DispatchAll(ctx context.Context, t *Trigger) []Outcome {
	actions := t.Rule.EnabledActions()
	if !d.cfg.Enabled {
		d.log.Debug("notifications disabled, skipping actions",
			zap.String("rule", t.Rule.Name), zap.Int("actions", len(actions)))
		return nil
	}

	outcomes := make([]Outcome, 0, len(actions))
	for _, action := range actions {
		outcomes = append(outcomes, Outcome{Type: action.Type, Sent: d.Send(ctx, action, t)})
	}
	return outcomes
}
