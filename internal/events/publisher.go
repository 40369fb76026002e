// Package events publishes job lifecycle and progress events.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/potree-clip/internal/monitoring"
)

// Event types.
const (
	TypeStarted  = "started"
	TypeProgress = "progress"
	TypeFinished = "finished"
	TypeCanceled = "canceled"
	TypeFailed   = "failed"
)

// Event is one job notification.
type Event struct {
	Type      string `json:"type"`
	JobID     string `json:"jobId"`
	Kind      string `json:"kind"`
	Nodes     int64  `json:"nodes,omitempty"`
	Points    int64  `json:"points,omitempty"`
	Accepted  int64  `json:"accepted,omitempty"`
	Discarded int64  `json:"discarded,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(e Event) error
	Close()
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(Event) error { return nil }
func (NoopPublisher) Close()              {}

// MQTTPublisher publishes events as JSON to <prefix>/<jobID>.
type MQTTPublisher struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewMQTTPublisher wraps an already connected client.
func NewMQTTPublisher(client mqtt.Client, prefix string) *MQTTPublisher {
	return &MQTTPublisher{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		qos:     0, // progress is fire and forget
		timeout: 2 * time.Second,
	}
}

// Connect dials broker and returns a publisher on it.
func Connect(broker, clientID, prefix string) (*MQTTPublisher, error) {
	if broker == "" {
		return nil, errors.New("mqtt broker not configured")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Logf("[Events] MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("connecting to %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", broker, err)
	}
	monitoring.Logf("[Events] Connected to MQTT broker %s as %s", broker, clientID)
	return NewMQTTPublisher(client, prefix), nil
}

// Topic returns the topic events of jobID are published to.
func (p *MQTTPublisher) Topic(jobID string) string {
	return fmt.Sprintf("%s/%s", p.prefix, jobID)
}

// Publish sends e. Final events are retained so late subscribers see the
// outcome of a job.
func (p *MQTTPublisher) Publish(e Event) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || !p.client.IsConnected() {
		return errors.New("MQTT client not connected")
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	retain := e.Type != TypeProgress && e.Type != TypeStarted
	topic := p.Topic(e.JobID)
	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(p.timeout) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Close disconnects the client.
func (p *MQTTPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.client.Disconnect(250)
}
