// Package engine drives the tick: snapshot the store, sequence the
// topology, run every node's transition, commit, then emit commands.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ohowland/winterriver/internal/pkg/asset"
	"github.com/ohowland/winterriver/internal/pkg/msg"
	"github.com/ohowland/winterriver/internal/pkg/topology"
	"github.com/ohowland/winterriver/internal/pkg/transition"
)

// Store is the Topology Store as the tick sees it. Commit must apply all
// states or none, and only write the fields a tick owns.
type Store interface {
	Snapshot(ctx context.Context) (asset.Snapshot, error)
	Commit(ctx context.Context, states map[string]asset.LiveState) error
}

// Transport delivers one control line to a node's field device.
type Transport interface {
	Publish(ctx context.Context, nodeID string, line string) error
}

// TickResult summarizes one committed tick.
type TickResult struct {
	ID       uuid.UUID     `json:"ID"`
	Started  time.Time     `json:"Started"`
	Duration time.Duration `json:"Duration"`
	Nodes    []NodeReport  `json:"Nodes"`
}

// Node returns the report for id.
func (r TickResult) Node(id string) (NodeReport, bool) {
	for _, n := range r.Nodes {
		if n.Def.ID == id {
			return n, true
		}
	}
	return NodeReport{}, false
}

// Engine owns the tick loop. At most one tick runs at a time.
type Engine struct {
	pid       uuid.UUID
	store     Store
	transport Transport
	params    transition.Params
	publisher *msg.PubSub

	tickMux *sync.Mutex
	plan    topology.Plan
	planned bool

	lastMux *sync.RWMutex
	last    TickResult
	hasLast bool

	now func() time.Time
}

// New returns an Engine reading and committing through store and
// emitting through transport.
func New(store Store, transport Transport, params transition.Params) *Engine {
	pid := uuid.New()
	return &Engine{
		pid:       pid,
		store:     store,
		transport: transport,
		params:    params.WithDefaults(),
		publisher: msg.NewPublisher(pid),
		tickMux:   &sync.Mutex{},
		lastMux:   &sync.RWMutex{},
		now:       time.Now,
	}
}

// PID is the sender id stamped on published results.
func (e *Engine) PID() uuid.UUID {
	return e.pid
}

// Publisher exposes tick results (msg.Status) and transport faults
// (msg.Fault) to subscribers.
func (e *Engine) Publisher() msg.Publisher {
	return e.publisher
}

// Params returns the electrical constants in effect.
func (e *Engine) Params() transition.Params {
	return e.params
}

// Last returns the most recently committed tick.
func (e *Engine) Last() (TickResult, bool) {
	e.lastMux.RLock()
	defer e.lastMux.RUnlock()
	return e.last, e.hasLast
}

// Tick runs one full pass. A ConfigError or StoreError aborts the tick
// before anything is committed or emitted. Transport failures are logged
// and published on msg.Fault but never fail the tick.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	e.tickMux.Lock()
	defer e.tickMux.Unlock()

	result := TickResult{ID: uuid.New(), Started: e.now()}

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return result, e.abort(result.ID, storeError("snapshot", err))
	}

	plan, err := e.sequence(snap.Defs)
	if err != nil {
		return result, e.abort(result.ID, err)
	}

	out := Compute(e.params, plan, snap)
	for _, f := range out.Faults {
		log.Printf("[Engine] tick %v: %v\n", result.ID, f)
	}

	if err := e.store.Commit(ctx, out.States); err != nil {
		return result, e.abort(result.ID, storeError("commit", err))
	}

	for _, r := range out.Reports {
		if r.Command == "" {
			continue
		}
		if err := e.transport.Publish(ctx, r.Def.ID, r.Command); err != nil {
			te := transportError(r.Def.ID, err)
			log.Printf("[Engine] tick %v: %v\n", result.ID, te)
			e.publisher.Publish(msg.Fault, te)
		}
	}

	result.Nodes = out.Reports
	result.Duration = e.now().Sub(result.Started)

	e.lastMux.Lock()
	e.last = result
	e.hasLast = true
	e.lastMux.Unlock()

	e.publisher.Publish(msg.Status, result)
	return result, nil
}

// Run ticks every period until ctx is cancelled. A tick that overruns
// delays the next one.
func (e *Engine) Run(ctx context.Context, period time.Duration) {
	log.Println("[Engine] Tick Loop Started")
	ticker := time.NewTicker(period)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			// failures are logged by Tick and retried next period
			_, _ = e.Tick(ctx)
		case <-ctx.Done():
			break loop
		}
	}
	e.publisher.Close()
	log.Println("[Engine] Tick Loop Shutdown")
}

// sequence returns the cached plan while the topology fingerprint holds.
func (e *Engine) sequence(defs []asset.Def) (topology.Plan, error) {
	fp := topology.Fingerprint(defs)
	if e.planned && e.plan.Fingerprint == fp {
		return e.plan, nil
	}
	plan, err := topology.Sequence(defs)
	if err != nil {
		e.planned = false
		return topology.Plan{}, err
	}
	e.plan = plan
	e.planned = true
	log.Printf("[Engine] sequenced %d nodes\n", len(plan.Order))
	return plan, nil
}

func (e *Engine) abort(id uuid.UUID, err error) error {
	log.Printf("[Engine] tick %v aborted: %v\n", id, err)
	return err
}

func storeError(op string, err error) error {
	if asset.IsStoreError(err) {
		return err
	}
	return &asset.StoreError{Op: op, Err: err}
}

func transportError(nodeID string, err error) *asset.TransportError {
	var te *asset.TransportError
	if errors.As(err, &te) {
		return te
	}
	return &asset.TransportError{NodeID: nodeID, Err: err}
}
