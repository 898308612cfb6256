package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"smartbuilding/internal/config"
)

const mqttPublishWait = 5 * time.Second

// MQTTPublisher 将实时事件发布到 <topic_prefix>/<event>
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	qos    byte
}

func NewMQTTPublisher(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return newMQTTPublisher(client, cfg.TopicPrefix, cfg.QoS), nil
}

func newMQTTPublisher(client mqtt.Client, prefix string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		qos:    qos,
	}
}

func (p *MQTTPublisher) Topic(event string) string {
	if p.prefix == "" {
		return event
	}
	return p.prefix + "/" + event
}

func (p *MQTTPublisher) Publish(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	topic := p.Topic(event)
	token := p.client.Publish(topic, p.qos, false, data)

	wait := mqttPublishWait
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("publish to topic %s timed out", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
