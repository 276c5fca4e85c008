package sink

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"avbridge/internal/source"
)

type MQTTConfig struct {
	Broker   string
	Topic    string
	QoS      byte
	Retain   bool
	Username string
	Password string
	// Timeout bounds both the initial connect and each publish.
	Timeout time.Duration
}

// MQTT publishes each reading to <Topic>/<source>.
type MQTT struct {
	cfg     MQTTConfig
	client  mqtt.Client
	publish func(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "avbridge"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID("avbridge_" + uuid.NewString())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("mqtt connected broker=%s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("mqtt connection lost broker=%s: %v", cfg.Broker, err)
	})

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("connect mqtt broker %s: timed out after %s", cfg.Broker, cfg.Timeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, err)
	}
	return &MQTT{cfg: cfg, client: client, publish: client.Publish}, nil
}

func (m *MQTT) topic(r source.Reading) string {
	return m.cfg.Topic + "/" + r.Source.String()
}

func (m *MQTT) Send(ctx context.Context, r source.Reading) error {
	payload, err := Encode(r)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}
	tok := m.publish(m.topic(r), m.cfg.QoS, m.cfg.Retain, payload)

	timer := time.NewTimer(m.cfg.Timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
	case <-timer.C:
		return unavailable("mqtt", fmt.Errorf("publish timed out after %s", m.cfg.Timeout))
	case <-ctx.Done():
		return unavailable("mqtt", ctx.Err())
	}
	if err := tok.Error(); err != nil {
		return unavailable("mqtt", err)
	}
	return nil
}

func (m *MQTT) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		log.Printf("mqtt disconnected broker=%s", m.cfg.Broker)
	}
	return nil
}
