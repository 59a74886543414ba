// Package mqtt connects the engine to field devices over MQTT: telemetry
// in on <root>/<node>/status, commands out on <root>/<node>/control.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ohowland/winterriver/internal/pkg/asset"
	"github.com/ohowland/winterriver/internal/pkg/telemetry"
)

// Config is the broker connection.
type Config struct {
	Server    string `json:"Server"`
	TopicRoot string `json:"TopicRoot"`
	ClientID  string `json:"ClientID"`
	Username  string `json:"Username"`
	Password  string `json:"Password"`
	QoS       byte   `json:"QoS"`
	// PublishTimeout in milliseconds.
	PublishTimeout int `json:"PublishTimeout"`
}

// Defaults
const (
	DefaultTopicRoot      = "winter-river"
	DefaultClientID       = "winter-river-engine"
	DefaultPublishTimeout = 500
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt publish timed out")

// publisher is the part of mqtt.Client the handler publishes through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Handler is both the telemetry source and the command Transport.
type Handler struct {
	mux    *sync.Mutex
	config Config
	topics telemetry.Topics
	sink   telemetry.Sink
	client mqtt.Client
	pub    publisher
}

// New returns a Handler delivering telemetry to sink.
func New(cfg Config, sink telemetry.Sink) *Handler {
	if cfg.TopicRoot == "" {
		cfg.TopicRoot = DefaultTopicRoot
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	return &Handler{
		mux:    &sync.Mutex{},
		config: cfg,
		topics: telemetry.Topics{Root: cfg.TopicRoot, Sep: "/"},
		sink:   sink,
	}
}

// StatusFilter is the subscription matching every node's telemetry.
func (h *Handler) StatusFilter() string {
	return h.config.TopicRoot + "/+/" + telemetry.StatusSuffix
}

// Connect dials the broker. The status subscription is renewed on every
// reconnect.
func (h *Handler) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(h.config.Server).
		SetClientID(h.config.ClientID).
		SetUsername(h.config.Username).
		SetPassword(h.config.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			log.Printf("[MQTT] connection lost: %v\n", err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			token := c.Subscribe(h.StatusFilter(), h.config.QoS, h.onMessage)
			if token.Wait() && token.Error() != nil {
				log.Printf("[MQTT] subscribe %s: %v\n", h.StatusFilter(), token.Error())
				return
			}
			log.Printf("[MQTT] subscribed %s\n", h.StatusFilter())
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect %s: %w", h.config.Server, err)
	}
	h.mux.Lock()
	h.client = client
	h.pub = client
	h.mux.Unlock()
	log.Printf("[MQTT] connected to %s\n", h.config.Server)
	return nil
}

func (h *Handler) onMessage(c mqtt.Client, m mqtt.Message) {
	h.receive(m.Topic(), m.Payload(), time.Now())
}

// receive hands one message to the sink. Topics that do not name a node
// are dropped.
func (h *Handler) receive(topic string, payload []byte, at time.Time) bool {
	id, err := h.topics.NodeID(topic)
	if err != nil {
		log.Printf("[MQTT] %v\n", &asset.TelemetryError{Topic: topic, Reason: err.Error()})
		return false
	}
	body := make([]byte, len(payload))
	copy(body, payload)
	return h.sink.Deliver(telemetry.Delivery{Topic: topic, NodeID: id, Payload: body, Received: at})
}

// Publish sends a control line to the node's control topic.
func (h *Handler) Publish(ctx context.Context, nodeID string, line string) error {
	topic := h.topics.Control(nodeID)
	h.mux.Lock()
	pub := h.pub
	h.mux.Unlock()
	if pub == nil {
		return &asset.TransportError{NodeID: nodeID, Topic: topic, Err: errors.New("not connected")}
	}

	token := pub.Publish(topic, h.config.QoS, false, line)
	timeout := time.Duration(h.config.PublishTimeout) * time.Millisecond
	if !token.WaitTimeout(timeout) {
		return &asset.TransportError{NodeID: nodeID, Topic: topic, Err: ErrTimeout}
	}
	if err := token.Error(); err != nil {
		return &asset.TransportError{NodeID: nodeID, Topic: topic, Err: err}
	}
	return nil
}

// Close disconnects, allowing in-flight messages a short grace period.
func (h *Handler) Close() {
	h.mux.Lock()
	defer h.mux.Unlock()
	if h.client != nil {
		h.client.Disconnect(250)
		log.Println("[MQTT] disconnected")
	}
	h.client = nil
	h.pub = nil
}
