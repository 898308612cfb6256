package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"smartbuilding/internal/config"
)

// NATSPublisher publishes events as JSON on <prefix>.<event>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSPublisher(cfg config.NATSConfig) (*NATSPublisher, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("smartbuilding-alerting"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return newNATSPublisher(conn, cfg.SubjectPrefix), nil
}

func newNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

func (p *NATSPublisher) Subject(event string) string {
	if p.prefix == "" {
		return event
	}
	return p.prefix + "." + event
}

func (p *NATSPublisher) Publish(_ context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.Subject(event), data)
}

func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.FlushTimeout(2 * time.Second)
	p.conn.Close()
	return err
}
