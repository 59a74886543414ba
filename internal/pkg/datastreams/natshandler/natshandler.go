// Package natshandler carries telemetry and commands over NATS and relays
// tick results onto the bus for other consumers.
package natshandler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"

	"github.com/ohowland/winterriver/internal/pkg/asset"
	"github.com/ohowland/winterriver/internal/pkg/msg"
	"github.com/ohowland/winterriver/internal/pkg/telemetry"
)

// Config is the NATS connection.
type Config struct {
	Server    string `json:"Server"`
	TopicRoot string `json:"TopicRoot"`
	ClientID  string `json:"ClientID"`
}

// TickSubject suffix carries one JSON tick result per committed tick.
const TickSubject = "tick"

type conn interface {
	Publish(subj string, data []byte) error
}

// Handler is both the telemetry source and the command Transport.
type Handler struct {
	mux    *sync.Mutex
	inbox  chan msg.Msg
	pid    uuid.UUID
	config Config
	topics telemetry.Topics
	sink   telemetry.Sink
	nc     *nats.Conn
	pub    conn
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg) {
	for m := range chIn {
		select {
		case chOut <- m:
		default:
		}
	}
}

// New returns a Handler delivering telemetry to sink. When system is not
// nil the handler also relays its tick results.
func New(cfg Config, sink telemetry.Sink, system msg.Publisher) (*Handler, error) {
	if cfg.Server == "" {
		cfg.Server = nats.DefaultURL
	}
	if cfg.TopicRoot == "" {
		cfg.TopicRoot = "winter-river"
	}
	h := &Handler{
		mux:    &sync.Mutex{},
		inbox:  make(chan msg.Msg, 50),
		pid:    uuid.New(),
		config: cfg,
		topics: telemetry.Topics{Root: cfg.TopicRoot, Sep: "."},
		sink:   sink,
	}
	if system != nil {
		if err := h.Follow(system); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Follow subscribes the handler to the tick results of system.
func (h *Handler) Follow(system msg.Publisher) error {
	ch, err := system.Subscribe(h.pid, msg.Status)
	if err != nil {
		return err
	}
	go redirectMsg(ch, h.inbox)
	return nil
}

// PID is the handler's subscriber id.
func (h *Handler) PID() uuid.UUID {
	return h.pid
}

// StatusSubject is the wildcard subject of every node's telemetry.
func (h *Handler) StatusSubject() string {
	return h.config.TopicRoot + ".*." + telemetry.StatusSuffix
}

// TickSubject is where tick results are relayed.
func (h *Handler) TickSubject() string {
	return h.config.TopicRoot + "." + TickSubject
}

// Connect dials the server and subscribes to telemetry.
func (h *Handler) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(h.config.ClientID),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("[NATS client] disconnected: %v\n", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[NATS client] reconnected to %s\n", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(h.config.Server, opts...)
	if err != nil {
		return err
	}
	if _, err := nc.Subscribe(h.StatusSubject(), func(m *nats.Msg) {
		h.receive(m.Subject, m.Data, time.Now())
	}); err != nil {
		nc.Close()
		return err
	}
	h.mux.Lock()
	h.nc = nc
	h.pub = nc
	h.mux.Unlock()
	log.Printf("[NATS client] connected to %s\n", h.config.Server)
	return nil
}

func (h *Handler) receive(subject string, data []byte, at time.Time) bool {
	id, err := h.topics.NodeID(subject)
	if err != nil {
		log.Printf("[NATS client] %v\n", &asset.TelemetryError{Topic: subject, Reason: err.Error()})
		return false
	}
	body := make([]byte, len(data))
	copy(body, data)
	return h.sink.Deliver(telemetry.Delivery{Topic: subject, NodeID: id, Payload: body, Received: at})
}

// Publish sends a control line to the node's control subject.
func (h *Handler) Publish(ctx context.Context, nodeID string, line string) error {
	subject := h.topics.Control(nodeID)
	h.mux.Lock()
	pub := h.pub
	h.mux.Unlock()
	if pub == nil {
		return &asset.TransportError{NodeID: nodeID, Topic: subject, Err: errors.New("not connected")}
	}
	if err := pub.Publish(subject, []byte(line)); err != nil {
		return &asset.TransportError{NodeID: nodeID, Topic: subject, Err: err}
	}
	return nil
}

// Process relays tick results until ctx is cancelled.
func (h *Handler) Process(ctx context.Context) {
	log.Println("[NATS client] Process Started")
loop:
	for {
		select {
		case m := <-h.inbox:
			if m.Topic() != msg.Status {
				continue
			}
			if err := h.relay(m.Payload()); err != nil {
				log.Printf("[NATS client] unable to relay tick: %v\n", err)
			}
		case <-ctx.Done():
			break loop
		}
	}
	log.Println("[NATS client] Process Shutdown")
}

func (h *Handler) relay(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	h.mux.Lock()
	pub := h.pub
	h.mux.Unlock()
	if pub == nil {
		return errors.New("not connected")
	}
	return pub.Publish(h.TickSubject(), data)
}

// Close drains and closes the connection.
func (h *Handler) Close() {
	h.mux.Lock()
	defer h.mux.Unlock()
	if h.nc != nil {
		if err := h.nc.Drain(); err != nil {
			h.nc.Close()
		}
	}
	h.nc = nil
	h.pub = nil
}
