package memdb

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ohowland/winterriver/internal/pkg/asset"
	"github.com/ohowland/winterriver/internal/pkg/telemetry"
)

// DB is an in-process Topology Store. It backs tests and virtual runs.
type DB struct {
	mux     *sync.RWMutex
	defs    map[string]asset.Def
	states  map[string]asset.LiveState
	history []asset.Record
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		mux:    &sync.RWMutex{},
		defs:   make(map[string]asset.Def),
		states: make(map[string]asset.LiveState),
	}
}

// Provision upserts defs and seeds live state for nodes that have none.
func (db *DB) Provision(ctx context.Context, defs []asset.Def, genStartDelay int) error {
	db.mux.Lock()
	defer db.mux.Unlock()
	for _, d := range defs {
		db.defs[d.ID] = d
		if _, ok := db.states[d.ID]; !ok {
			db.states[d.ID] = asset.Seed(d, genStartDelay)
		}
	}
	return nil
}

// Put overwrites the live state of a provisioned node.
func (db *DB) Put(id string, s asset.LiveState) error {
	db.mux.Lock()
	defer db.mux.Unlock()
	if _, ok := db.defs[id]; !ok {
		return fmt.Errorf("put %s: %w", id, asset.ErrUnknownNode)
	}
	db.states[id] = s
	return nil
}

// Snapshot returns every def, ordered by id, with its live state.
func (db *DB) Snapshot(ctx context.Context) (asset.Snapshot, error) {
	db.mux.RLock()
	defer db.mux.RUnlock()
	snap := asset.Snapshot{
		Defs:   make([]asset.Def, 0, len(db.defs)),
		States: make(map[string]asset.LiveState, len(db.states)),
	}
	for _, d := range db.defs {
		snap.Defs = append(snap.Defs, d)
	}
	sort.Slice(snap.Defs, func(i, j int) bool { return snap.Defs[i].ID < snap.Defs[j].ID })
	for id, s := range db.states {
		snap.States[id] = s
	}
	return snap, nil
}

// Commit writes the tick-owned fields of states. Nothing is written if any
// id is unknown.
func (db *DB) Commit(ctx context.Context, states map[string]asset.LiveState) error {
	db.mux.Lock()
	defer db.mux.Unlock()
	for id := range states {
		if _, ok := db.states[id]; !ok {
			return &asset.StoreError{Op: "commit", Err: fmt.Errorf("%s: %w", id, asset.ErrUnknownNode)}
		}
	}
	for id, s := range states {
		cur := db.states[id]
		cur.VOut = s.VOut
		cur.Status = s.Status
		cur.Battery = asset.ClampBattery(s.Battery)
		cur.GenTimer = s.GenTimer
		db.states[id] = cur
	}
	return nil
}

// RecordTelemetry updates presence and last-seen and appends history.
func (db *DB) RecordTelemetry(ctx context.Context, obs telemetry.Observation) error {
	db.mux.Lock()
	defer db.mux.Unlock()
	cur, ok := db.states[obs.NodeID]
	if !ok {
		return fmt.Errorf("record telemetry %s: %w", obs.NodeID, asset.ErrUnknownNode)
	}
	cur.Present = obs.Present
	cur.LastUpdate = obs.At
	db.states[obs.NodeID] = cur
	db.history = append(db.history, obs.Record())
	return nil
}

// State returns the live state of id.
func (db *DB) State(id string) (asset.LiveState, bool) {
	db.mux.RLock()
	defer db.mux.RUnlock()
	s, ok := db.states[id]
	return s, ok
}

// History returns the records of id in arrival order. An empty id returns
// every record.
func (db *DB) History(id string) []asset.Record {
	db.mux.RLock()
	defer db.mux.RUnlock()
	out := make([]asset.Record, 0)
	for _, r := range db.history {
		if id == "" || r.NodeID == id {
			out = append(out, r)
		}
	}
	return out
}
