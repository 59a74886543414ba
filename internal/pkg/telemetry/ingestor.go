package telemetry

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ohowland/winterriver/internal/pkg/asset"
)

// Observation is the merge an ingested message makes into the store:
// presence and last-seen into live state plus one history record.
type Observation struct {
	NodeID  string
	Present bool
	At      time.Time
	Payload []byte
}

// Record is the history entry of the observation.
func (o Observation) Record() asset.Record {
	return asset.Record{NodeID: o.NodeID, Timestamp: o.At, Payload: o.Payload}
}

// Store applies an Observation atomically. It must wrap
// asset.ErrUnknownNode when no live state exists for the node, and must
// never touch the fields a tick owns.
type Store interface {
	RecordTelemetry(ctx context.Context, obs Observation) error
}

// Archiver receives a copy of every history record after the store has
// accepted it.
type Archiver interface {
	Archive(ctx context.Context, rec asset.Record) error
}

// Delivery is a message handed over by a transport.
type Delivery struct {
	Topic    string
	NodeID   string
	Payload  []byte
	Received time.Time
}

// Sink accepts deliveries from a transport without blocking it.
type Sink interface {
	Deliver(d Delivery) bool
}

// InboxSize bounds deliveries waiting for Process.
const InboxSize = 256

// Ingestor merges telemetry into the store one message at a time.
type Ingestor struct {
	mux       *sync.Mutex
	store     Store
	archivers []Archiver
	inbox     chan Delivery
	now       func() time.Time
}

// NewIngestor returns an Ingestor writing to store.
func NewIngestor(store Store, archivers ...Archiver) *Ingestor {
	return &Ingestor{
		mux:       &sync.Mutex{},
		store:     store,
		archivers: archivers,
		inbox:     make(chan Delivery, InboxSize),
		now:       time.Now,
	}
}

// SetClock replaces the time source stamped on deliveries without one.
func (i *Ingestor) SetClock(now func() time.Time) {
	i.now = now
}

// Deliver queues d for Process without blocking. It reports false when
// the inbox is full and the message was dropped.
func (i *Ingestor) Deliver(d Delivery) bool {
	select {
	case i.inbox <- d:
		return true
	default:
		log.Printf("[Ingestor] inbox full, dropped telemetry from %s\n", d.NodeID)
		return false
	}
}

// Process drains the inbox until ctx is cancelled.
func (i *Ingestor) Process(ctx context.Context) {
	log.Println("[Ingestor] Process Started")
loop:
	for {
		select {
		case d := <-i.inbox:
			// errors are logged inside Handle
			_ = i.Handle(ctx, d)
		case <-ctx.Done():
			break loop
		}
	}
	log.Println("[Ingestor] Process Shutdown")
}

// Drain handles every queued delivery without waiting for more and
// returns how many it handled.
func (i *Ingestor) Drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case d := <-i.inbox:
			_ = i.Handle(ctx, d)
			n++
		default:
			return n
		}
	}
}

// Handle parses and merges one delivery. Unattributable telemetry comes
// back as an *asset.TelemetryError; it is logged and never fatal.
func (i *Ingestor) Handle(ctx context.Context, d Delivery) error {
	i.mux.Lock()
	defer i.mux.Unlock()

	if d.NodeID == "" {
		return i.drop(&asset.TelemetryError{Topic: d.Topic, Reason: "no node id"})
	}
	at := d.Received
	if at.IsZero() {
		at = i.now()
	}

	report := Parse(d.Payload)
	obs := Observation{NodeID: d.NodeID, Present: report.Present, At: at, Payload: report.Payload}
	if err := i.store.RecordTelemetry(ctx, obs); err != nil {
		if errors.Is(err, asset.ErrUnknownNode) {
			return i.drop(&asset.TelemetryError{Topic: d.Topic, NodeID: d.NodeID, Reason: "unknown node"})
		}
		log.Printf("[Ingestor] %v\n", err)
		return err
	}

	for _, a := range i.archivers {
		if err := a.Archive(ctx, obs.Record()); err != nil {
			log.Printf("[Ingestor] archive %s: %v\n", d.NodeID, err)
		}
	}
	return nil
}

func (i *Ingestor) drop(err *asset.TelemetryError) error {
	log.Printf("[Ingestor] %v\n", err)
	return err
}
