// Package mongodb mirrors tick results and archives telemetry history
// into MongoDB.
package mongodb

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ohowland/winterriver/internal/pkg/asset"
	"github.com/ohowland/winterriver/internal/pkg/engine"
	"github.com/ohowland/winterriver/internal/pkg/msg"
)

// Collections
const (
	NodeCollection    = "nodeStatus"
	HistoryCollection = "history"
	FaultCollection   = "faults"
)

// Config locates the MongoDB deployment.
type Config struct {
	URI      string `json:"URI"`
	Port     string `json:"Port"`
	Database string `json:"Database"`
	Enabled  bool   `json:"Enabled"`
}

// ErrNotConnected is returned by Archive before Connect succeeds.
var ErrNotConnected = errors.New("mongodb not connected")

// Handler consumes engine messages and writes them to MongoDB.
type Handler struct {
	mux    *sync.Mutex
	inbox  chan msg.Msg
	pid    uuid.UUID
	config Config
	client *mongo.Client
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg) {
	for m := range chIn {
		select {
		case chOut <- m:
		default:
			log.Printf("[Mongo] inbox full, dropped %v message\n", m.Topic())
		}
	}
}

// New returns a Handler. When system is not nil the handler subscribes to
// its tick results and transport faults.
func New(cfg Config, system msg.Publisher) (*Handler, error) {
	h := &Handler{
		mux:    &sync.Mutex{},
		inbox:  make(chan msg.Msg, 50),
		pid:    uuid.New(),
		config: cfg,
	}
	if system != nil {
		if err := h.Follow(system); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Follow subscribes the handler to the tick results and transport faults
// of system.
func (h *Handler) Follow(system msg.Publisher) error {
	for _, topic := range []msg.Topic{msg.Status, msg.Fault} {
		ch, err := system.Subscribe(h.pid, topic)
		if err != nil {
			return err
		}
		go redirectMsg(ch, h.inbox)
	}
	return nil
}

// PID is the handler's subscriber id.
func (h *Handler) PID() uuid.UUID {
	return h.pid
}

// uri joins the configured URI and port.
func (c Config) uri() string {
	if c.Port == "" {
		return c.URI
	}
	return c.URI + ":" + c.Port
}

// Connect opens the client used by Process and Archive.
func (h *Handler) Connect(ctx context.Context) error {
	client, err := mongo.NewClient(options.Client().ApplyURI(h.config.uri()))
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	h.mux.Lock()
	h.client = client
	h.mux.Unlock()
	log.Printf("[Mongo] connected to %s\n", h.config.Database)
	return nil
}

func (h *Handler) collection(name string) (*mongo.Collection, error) {
	h.mux.Lock()
	defer h.mux.Unlock()
	if h.client == nil {
		return nil, ErrNotConnected
	}
	return h.client.Database(h.config.Database).Collection(name), nil
}

// Archive stores one telemetry history record.
func (h *Handler) Archive(ctx context.Context, rec asset.Record) error {
	coll, err := h.collection(HistoryCollection)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, err = coll.InsertOne(ctx, recordToBSON(rec))
	return err
}

// Process writes inbox messages until ctx is cancelled, then disconnects.
func (h *Handler) Process(ctx context.Context) {
	log.Println("[Mongo] Process Started")
	nodes, err := h.collection(NodeCollection)
	if err != nil {
		log.Printf("[Mongo] %v\n", err)
		return
	}
	faults, _ := h.collection(FaultCollection)
	// the mirror reflects this run only
	if err := nodes.Drop(ctx); err != nil {
		log.Printf("[Mongo] drop %s: %v\n", NodeCollection, err)
	}

loop:
	for {
		select {
		case m := <-h.inbox:
			switch m.Topic() {
			case msg.Status:
				result, ok := m.Payload().(engine.TickResult)
				if !ok {
					continue
				}
				h.mirror(ctx, nodes, result)
			case msg.Fault:
				te, ok := m.Payload().(*asset.TransportError)
				if !ok {
					continue
				}
				if _, err := faults.InsertOne(ctx, faultToBSON(te, time.Now())); err != nil {
					log.Printf("[Mongo] fault %s: %v\n", te.NodeID, err)
				}
			}
		case <-ctx.Done():
			break loop
		}
	}

	h.mux.Lock()
	client := h.client
	h.mux.Unlock()
	disconnect, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Disconnect(disconnect); err != nil {
		log.Printf("[Mongo] disconnect: %v\n", err)
	}
	log.Println("[Mongo] Process Shutdown")
}

func (h *Handler) mirror(ctx context.Context, nodes *mongo.Collection, result engine.TickResult) {
	opts := options.Update().SetUpsert(true)
	for _, r := range result.Nodes {
		_, err := nodes.UpdateOne(ctx, bson.M{"node_id": r.Def.ID}, reportToBSON(result, r), opts)
		if err != nil {
			log.Printf("[Mongo] tick %v node %s: %v\n", result.ID, r.Def.ID, err)
		}
	}
}

func reportToBSON(result engine.TickResult, r engine.NodeReport) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.M{
			"node_id":       r.Def.ID,
			"node_type":     string(r.Def.Type),
			"side":          string(r.Def.Side),
			"tick":          result.ID.String(),
			"tick_started":  result.Started,
			"is_present":    r.State.Present,
			"v_out":         r.State.VOut,
			"status_msg":    string(r.State.Status),
			"battery_level": r.State.Battery,
			"gen_timer":     r.State.GenTimer,
			"source":        string(r.Source),
			"command":       r.Command,
			"fault":         r.Fault,
		}},
	}
}

func recordToBSON(rec asset.Record) bson.M {
	doc := bson.M{
		"node_id": rec.NodeID,
		"ts":      rec.Timestamp,
		"raw":     string(rec.Payload),
	}
	var metrics bson.M
	if err := bson.UnmarshalExtJSON(rec.Payload, false, &metrics); err == nil {
		doc["metrics"] = metrics
	}
	return doc
}

func faultToBSON(te *asset.TransportError, at time.Time) bson.M {
	return bson.M{
		"node_id": te.NodeID,
		"topic":   te.Topic,
		"error":   te.Err.Error(),
		"ts":      at,
	}
}
