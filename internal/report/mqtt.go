package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the part of mqtt.Client the MQTT reporter uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes every event as JSON on <prefix>/<device>/status.
// Finish events are retained so a new subscriber sees the last outcome.
type MQTT struct {
	pub     Publisher
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
}

// NewMQTT creates an MQTT reporter. An empty prefix becomes "campbellsync".
func NewMQTT(pub Publisher, prefix string, logger *slog.Logger) *MQTT {
	if prefix == "" {
		prefix = "campbellsync"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{
		pub:     pub,
		prefix:  strings.TrimSuffix(prefix, "/"),
		qos:     1,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Topic returns the status topic of a device.
func (m *MQTT) Topic(device string) string {
	return m.prefix + "/" + device + "/status"
}

// statusMessage is the MQTT payload.
type statusMessage struct {
	Kind       Kind      `json:"kind"`
	Device     string    `json:"device"`
	CycleID    string    `json:"cycle_id"`
	Seq        int64     `json:"seq"`
	Time       time.Time `json:"time"`
	Outcome    string    `json:"outcome,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Reading    string    `json:"reading_time,omitempty"`
	Created    []string  `json:"created,omitempty"`
	Appended   []string  `json:"appended,omitempty"`
	Failed     []string  `json:"failed,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}

func newStatusMessage(ev Event) statusMessage {
	msg := statusMessage{
		Kind:    ev.Kind,
		Device:  ev.Device,
		CycleID: ev.CycleID,
		Seq:     ev.Seq,
		Time:    ev.Time.UTC(),
	}
	if res := ev.Result; res != nil {
		msg.Outcome = string(res.Outcome)
		msg.Reason = res.Reason
		msg.Created = res.Created
		msg.Appended = res.Appended
		if len(res.Failures) > 0 {
			msg.Failed = res.FailedFields()
		}
		if !res.Timestamp.IsZero() {
			msg.Reading = res.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		if res.Err != nil {
			msg.Error = res.Err.Error()
		}
		msg.DurationMS = res.Duration.Milliseconds()
	}
	return msg
}

// Report implements Reporter. Publish failures are logged, never returned.
func (m *MQTT) Report(_ context.Context, ev Event) {
	payload, err := json.Marshal(newStatusMessage(ev))
	if err != nil {
		m.logger.Error("encode mqtt status", "device", ev.Device, "error", err)
		return
	}

	topic := m.Topic(ev.Device)
	token := m.pub.Publish(topic, m.qos, ev.Kind == KindFinish, payload)
	if !token.WaitTimeout(m.timeout) {
		m.logger.Warn("mqtt publish timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		m.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
	}
}

// DialMQTT connects a paho client to broker.
func DialMQTT(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt %s: connect timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt %s: %w", broker, err)
	}
	return client, nil
}
