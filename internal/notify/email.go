package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"smartbuilding/internal/config"
	"smartbuilding/internal/models"
)

// SMTP security modes.
const (
	SecurityNone     = "none"
	SecurityStartTLS = "starttls"
	SecurityTLS      = "tls"
)

var ErrNoRecipients = errors.New("email recipients are required")

// MailTransport delivers one already encoded message.
type MailTransport interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// SMTPTransport sends mail through the configured SMTP server.
type SMTPTransport struct {
	host     string
	port     int
	username string
	password string
	security string
}

func NewSMTPTransport(cfg config.MailConfig) *SMTPTransport {
	return &SMTPTransport{
		host:     strings.TrimSpace(cfg.Server),
		port:     cfg.Port,
		username: strings.TrimSpace(cfg.Username),
		password: cfg.Password,
		security: SecurityMode(cfg),
	}
}

// SecurityMode maps use_ssl / use_tls onto a transport mode.
func SecurityMode(cfg config.MailConfig) string {
	switch {
	case cfg.UseSSL:
		return SecurityTLS
	case cfg.UseTLS:
		return SecurityStartTLS
	default:
		return SecurityNone
	}
}

func (t *SMTPTransport) Send(ctx context.Context, from string, to []string, msg []byte) error {
	if t.host == "" || t.port == 0 {
		return errors.New("smtp is not configured")
	}

	client, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (t *SMTPTransport) connect(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(t.host, fmt.Sprint(t.port))
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	tlsConfig := &tls.Config{ServerName: t.host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	if t.security == SecurityTLS {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, t.host)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if t.security == SecurityStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			_ = client.Close()
			return nil, errors.New("smtp server does not support STARTTLS")
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("STARTTLS: %w", err)
		}
	}

	if t.username != "" && t.password != "" {
		if err := client.Auth(smtp.PlainAuth("", t.username, t.password, t.host)); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	return client, nil
}

// buildMessage encodes a multipart/alternative mail with text and HTML parts.
func buildMessage(from string, to []string, subject, text, html string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", text},
		{"text/html; charset=UTF-8", html},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	headers := []string{
		"From: " + from,
		"To: " + strings.Join(to, ", "),
		"Subject: " + mime.QEncoding.Encode("UTF-8", subject),
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", mw.Boundary()),
	}
	msg.WriteString(strings.Join(headers, "\r\n"))
	msg.WriteString("\r\n\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func uniqueRecipients(recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients))
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (d *Dispatcher) sendEmail(ctx context.Context, cfg models.ActionConfig, t *Trigger) error {
	to := uniqueRecipients(cfg.Recipients)
	if len(to) == 0 {
		return ErrNoRecipients
	}

	html, err := renderHTML(t, d.cfg.DashboardURL)
	if err != nil {
		return err
	}
	msg, err := buildMessage(d.from, to, Subject(cfg, t), renderText(t), html)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}
	return d.mailer.Send(ctx, d.from, to, msg)
}
