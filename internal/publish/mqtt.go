package publish

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("publish: broker connection not open")

// MQTT publishes sink state as a retained QoS 1 message, so a late
// subscriber sees the current light state at once.
type MQTT struct {
	client  mqtt.Client
	topic   string
	node    uint16
	timeout time.Duration
	log     *zap.Logger
}

// DialMQTT connects to broker and returns a publisher for topic.
func DialMQTT(broker, clientID, topic string, node uint16, log *zap.Logger) (*MQTT, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	opts.SetWill(StatusTopic(topic), "offline", 1, true)
	// runs again after every automatic reconnect
	opts.SetOnConnectHandler(func(c mqtt.Client) { announce(c, topic, true) })

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return NewMQTT(c, topic, node, log), nil
}

func NewMQTT(c mqtt.Client, topic string, node uint16, log *zap.Logger) *MQTT {
	if topic == "" {
		topic = DefaultTopic
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MQTT{client: c, topic: topic, node: node, timeout: 2 * time.Second, log: log}
}

// PublishState does not wait for the broker; delivery failures are logged.
func (m *MQTT) PublishState(state bool, seq uint16) error {
	if !m.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	b, err := encode(m.node, state, seq, time.Now())
	if err != nil {
		return err
	}
	tok := m.client.Publish(m.topic, 1, true, b)
	go func() {
		if !tok.WaitTimeout(m.timeout) {
			m.log.Warn("mqtt publish timed out", zap.String("topic", m.topic), zap.Uint16("seq", seq))
			return
		}
		if err := tok.Error(); err != nil {
			m.log.Warn("mqtt publish failed", zap.String("topic", m.topic), zap.Error(err))
		}
	}()
	return nil
}

// Close marks the sink offline and disconnects.
func (m *MQTT) Close() {
	if m.client.IsConnectionOpen() {
		announce(m.client, m.topic, false).WaitTimeout(m.timeout)
	}
	m.client.Disconnect(250)
}

// StatusTopic carries the retained "online"/"offline" marker for topic. The
// will publishes "offline" there when the connection drops.
func StatusTopic(topic string) string { return topic + "/status" }

func announce(c mqtt.Client, topic string, online bool) mqtt.Token {
	v := "offline"
	if online {
		v = "online"
	}
	return c.Publish(StatusTopic(topic), 1, true, []byte(v))
}
