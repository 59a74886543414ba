package main

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ohowland/winterriver/internal/pkg/asset"
	"github.com/ohowland/winterriver/internal/pkg/asset/mockasset"
	"github.com/ohowland/winterriver/internal/pkg/comm/modbuscomm"
	"github.com/ohowland/winterriver/internal/pkg/database/memdb"
	"github.com/ohowland/winterriver/internal/pkg/database/mongodb"
	"github.com/ohowland/winterriver/internal/pkg/database/sqldb"
	"github.com/ohowland/winterriver/internal/pkg/datastreams/mqtt"
	"github.com/ohowland/winterriver/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/winterriver/internal/pkg/engine"
	"github.com/ohowland/winterriver/internal/pkg/telemetry"
	"github.com/ohowland/winterriver/internal/pkg/topology"
	"github.com/ohowland/winterriver/internal/pkg/virtual"
	"github.com/ohowland/winterriver/internal/pkg/webservice"
)

// siteStore is what both Topology Store backends provide.
type siteStore interface {
	engine.Store
	telemetry.Store
	Provision(ctx context.Context, defs []asset.Def, genStartDelay int) error
}

// site is one assembled engine with its adapters.
type site struct {
	settings Settings
	store    siteStore
	ingestor *telemetry.Ingestor
	engine   *engine.Engine
	bus      *virtual.Bus
	mqtt     *mqtt.Handler
	nats     *natshandler.Handler
	mongo    *mongodb.Handler
	pollers  []*modbuscomm.Poller
	closers  []func()
}

// assemble opens the store and connects the transport.
func assemble(ctx context.Context, s Settings) (*site, error) {
	st := &site{settings: s}

	log.Println("[Main] Opening Topology Store")
	if err := st.openStore(ctx); err != nil {
		st.close()
		return nil, err
	}

	var archivers []telemetry.Archiver
	if s.Mongo.Enabled {
		log.Println("[Main] Connecting MongoDB Service")
		h, err := mongodb.New(s.Mongo, nil)
		if err != nil {
			st.close()
			return nil, err
		}
		if err := h.Connect(ctx); err != nil {
			st.close()
			return nil, fmt.Errorf("mongodb: %w", err)
		}
		st.mongo = h
		archivers = append(archivers, h)
	}
	st.ingestor = telemetry.NewIngestor(st.store, archivers...)

	log.Printf("[Main] Connecting %s transport\n", s.Transport.Kind)
	transport, err := st.connect(ctx)
	if err != nil {
		st.close()
		return nil, err
	}

	for _, cfg := range s.Modbus {
		p, err := modbuscomm.NewPoller(cfg, st.ingestor)
		if err != nil {
			st.close()
			return nil, err
		}
		st.pollers = append(st.pollers, p)
	}

	st.engine = engine.New(st.store, transport, s.Params)
	if st.nats != nil {
		if err := st.nats.Follow(st.engine.Publisher()); err != nil {
			st.close()
			return nil, err
		}
	}
	if st.mongo != nil {
		if err := st.mongo.Follow(st.engine.Publisher()); err != nil {
			st.close()
			return nil, err
		}
	}
	return st, nil
}

func (st *site) openStore(ctx context.Context) error {
	s := st.settings
	if s.Store.Driver != MemoryDriver {
		store, err := sqldb.Open(s.Store)
		if err != nil {
			return err
		}
		st.store = store
		st.closers = append(st.closers, func() { store.Close() })
		return nil
	}
	defs, err := st.defs()
	if err != nil {
		return err
	}
	db := memdb.New()
	if err := db.Provision(ctx, defs, s.Params.GenStartDelay); err != nil {
		return err
	}
	st.store = db
	return nil
}

// defs is the topology an in-process store starts from.
func (st *site) defs() ([]asset.Def, error) {
	if st.settings.Topology == "" {
		return mockasset.Topology(), nil
	}
	return topology.LoadFile(st.settings.Topology)
}

func (st *site) connect(ctx context.Context) (engine.Transport, error) {
	s := st.settings
	switch s.Transport.Kind {
	case KindMQTT:
		h := mqtt.New(s.Transport.MQTT(), st.ingestor)
		if err := h.Connect(ctx); err != nil {
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		st.mqtt = h
		st.closers = append(st.closers, h.Close)
		return h, nil
	case KindNATS:
		h, err := natshandler.New(s.Transport.NATS(), st.ingestor, nil)
		if err != nil {
			return nil, err
		}
		if err := h.Connect(ctx); err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		st.nats = h
		st.closers = append(st.closers, h.Close)
		return h, nil
	case KindVirtual:
		defs, err := st.defs()
		if err != nil {
			return nil, err
		}
		st.bus = virtual.NewBus(s.Transport.TopicRoot, st.ingestor)
		st.bus.AttachAll(defs)
		for _, d := range st.bus.Devices() {
			d.SetPresent(true)
		}
		return st.bus, nil
	}
	return nil, fmt.Errorf("unknown transport %q", s.Transport.Kind)
}

// run starts every background loop and ticks until ctx is cancelled.
func (st *site) run(ctx context.Context) {
	var wg sync.WaitGroup
	spawn := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	spawn(func() { st.ingestor.Process(ctx) })
	if st.bus != nil {
		spawn(func() { st.bus.Run(ctx, st.settings.Period()) })
	}
	if st.nats != nil {
		spawn(func() { st.nats.Process(ctx) })
	}
	if st.mongo != nil {
		spawn(func() { st.mongo.Process(ctx) })
	}
	for _, p := range st.pollers {
		p := p
		spawn(func() { p.Run(ctx) })
	}
	if st.settings.Web.Enabled {
		hub := webservice.NewHub()
		svc := webservice.New(st.engine, hub)
		spawn(func() {
			if err := hub.Process(ctx, st.engine.Publisher()); err != nil {
				log.Printf("[Main] websocket hub: %v\n", err)
			}
		})
		spawn(func() {
			if err := svc.ListenAndServe(ctx, st.settings.Web.Addr); err != nil {
				log.Printf("[Main] webservice: %v\n", err)
			}
		})
	}

	log.Println("[Main] Starting tick loop")
	st.engine.Run(ctx, st.settings.Period())
	wg.Wait()
	st.close()
}

func (st *site) close() {
	for i := len(st.closers) - 1; i >= 0; i-- {
		st.closers[i]()
	}
	st.closers = nil
}
