package realtime

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"smartbuilding/internal/metrics"
)

// Realtime event names pushed to clients.
const (
	EventNewLogs       = "new_logs"
	EventStatsUpdate   = "stats_update"
	EventCriticalAlert = "critical_alert"
)

// Publisher pushes one named event. Delivery is fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) error
}

// Closer is implemented by publishers holding a broker connection.
type Closer interface {
	Close() error
}

type namedPublisher struct {
	name string
	pub  Publisher
}

// Multi fans an event out to every registered publisher. A failing
// transport is logged and does not stop the others.
type Multi struct {
	log        *zap.Logger
	publishers []namedPublisher
}

func NewMulti(log *zap.Logger) *Multi {
	return &Multi{log: log}
}

// Add registers a transport under a name used in logs and metrics.
func (m *Multi) Add(name string, pub Publisher) *Multi {
	if pub != nil {
		m.publishers = append(m.publishers, namedPublisher{name: name, pub: pub})
	}
	return m
}

// Transports 返回已注册的传输名称
func (m *Multi) Transports() []string {
	names := make([]string, 0, len(m.publishers))
	for _, p := range m.publishers {
		names = append(names, p.name)
	}
	return names
}

func (m *Multi) Publish(ctx context.Context, event string, payload any) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.pub.Publish(ctx, event, payload); err != nil {
			metrics.RealtimePublishTotal.WithLabelValues(p.name, event, "failed").Inc()
			m.log.Warn("realtime publish failed",
				zap.String("transport", p.name),
				zap.String("event", event),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
			continue
		}
		metrics.RealtimePublishTotal.WithLabelValues(p.name, event, "ok").Inc()
	}
	return errors.Join(errs...)
}

// Close closes every transport that holds a connection.
func (m *Multi) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if c, ok := p.pub.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
			}
		}
	}
	return errors.Join(errs...)
}
