// Package mqtt publishes triage notifications to an MQTT broker topic.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/linnemanlabs/sieve/internal/triage"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "sieve/triage"

// Options configures the broker connection.
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	ConnectTimeout time.Duration
}

// publisher is the subset of paho.Client used here.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Notifier publishes JSON notifications to one topic.
type Notifier struct {
	pub    publisher
	client paho.Client
	topic  string
	qos    byte
}

// Dial connects to the broker and returns a ready Notifier.
func Dial(o Options) (*Notifier, error) {
	if o.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(o.ConnectTimeout)

	client := paho.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(o.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", o.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", o.Broker, err)
	}

	n := newNotifier(client, o.Topic, o.QoS)
	n.client = client
	return n, nil
}

func newNotifier(pub publisher, topic string, qos byte) *Notifier {
	return &Notifier{pub: pub, topic: topic, qos: qos}
}

// Publish sends n as JSON and waits for the broker acknowledgement or ctx.
func (m *Notifier) Publish(ctx context.Context, n *triage.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("mqtt: marshal notification: %w", err)
	}

	tok := m.pub.Publish(m.topic, m.qos, false, payload)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt: publish to %s: %w", m.topic, ctx.Err())
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", m.topic, err)
	}
	return nil
}

// Close disconnects from the broker, waiting up to 250ms for in-flight work.
func (m *Notifier) Close() {
	if m.client != nil {
		m.client.Disconnect(250)
	}
}
