package virtual

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/ohowland/winterriver/internal/pkg/asset"
	"github.com/ohowland/winterriver/internal/pkg/asset/mockasset"
	"github.com/ohowland/winterriver/internal/pkg/command"
	"github.com/ohowland/winterriver/internal/pkg/database/memdb"
	"github.com/ohowland/winterriver/internal/pkg/engine"
	"github.com/ohowland/winterriver/internal/pkg/telemetry"
	"github.com/ohowland/winterriver/internal/pkg/transition"
)

type sink struct {
	got []telemetry.Delivery
}

func (s *sink) Deliver(d telemetry.Delivery) bool {
	s.got = append(s.got, d)
	return true
}

func TestSetPresentEmitsOnChange(t *testing.T) {
	s := &sink{}
	b := NewBus("winter-river", s)
	d := b.Attach(asset.Def{ID: "ups_a", Type: asset.UPS})

	d.SetPresent(true)
	d.SetPresent(true)
	d.SetPresent(false)
	assert.Equal(t, len(s.got), 2)

	assert.Equal(t, s.got[0].Topic, "winter-river/ups_a/status")
	assert.Assert(t, telemetry.Parse(s.got[0].Payload).Present)
	assert.Assert(t, !telemetry.Parse(s.got[1].Payload).Present)
}

func TestHeartbeat(t *testing.T) {
	s := &sink{}
	b := NewBus("winter-river", s)
	pdu := b.Attach(asset.Def{ID: "pdu_a", Type: asset.PDU})
	srv := b.Attach(asset.Def{ID: "srv_a", Type: asset.ServerRack})

	pdu.Heartbeat()
	assert.Equal(t, len(s.got), 0)

	pdu.SetPresent(true)
	srv.SetPresent(true)
	s.got = nil
	pdu.Heartbeat()
	srv.Heartbeat()

	assert.Equal(t, string(s.got[0].Payload), "pdu_a alive")
	assert.Assert(t, !telemetry.Parse(s.got[0].Payload).Structured)
	assert.Assert(t, telemetry.Parse(s.got[1].Payload).Structured)
}

func TestPublish(t *testing.T) {
	b := NewBus("winter-river", &sink{})
	sw := b.Attach(asset.Def{ID: "sw_a", Type: asset.SwitchGear})

	assert.NilError(t, b.Publish(context.Background(), "sw_a", "CLOSE STATUS:CLOSED"))
	_, ok := sw.Last()
	assert.Assert(t, !ok, "absent device must miss commands")

	sw.SetPresent(true)
	assert.NilError(t, b.Publish(context.Background(), "sw_a", "CLOSE STATUS:CLOSED"))
	l, ok := sw.Last()
	assert.Assert(t, ok)
	assert.Equal(t, l.Verb, command.VerbClose)
	assert.Equal(t, l.Status(), asset.Closed)

	err := b.Publish(context.Background(), "ghost", "STATUS:NORMAL")
	assert.ErrorIs(t, err, ErrNoDevice)
	assert.Assert(t, asset.IsTransportError(err))

	err = b.Publish(context.Background(), "sw_a", "")
	assert.Assert(t, asset.IsTransportError(err))
}

func TestRunHeartbeats(t *testing.T) {
	s := &sink{}
	b := NewBus("winter-river", s)
	b.Attach(asset.Def{ID: "util_a", Type: asset.Utility}).SetPresent(true)
	b.Attach(asset.Def{ID: "util_b", Type: asset.Utility})

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	b.Run(ctx, 10*time.Millisecond)

	assert.Assert(t, len(s.got) > 1)
	for _, d := range s.got {
		assert.Equal(t, d.NodeID, "util_a")
	}
}

// A whole site on the loopback bus: utility loss on side A drives the
// generator through its start sequence and the devices see every step.
func TestSiteFailover(t *testing.T) {
	ctx := context.Background()
	db := memdb.New()
	defs := mockasset.Topology()
	params := transition.Params{GenStartDelay: 2}.WithDefaults()
	assert.NilError(t, db.Provision(ctx, defs, params.GenStartDelay))

	ing := telemetry.NewIngestor(db)
	bus := NewBus("winter-river", ing)
	bus.AttachAll(defs)
	for _, d := range bus.Devices() {
		d.SetPresent(true)
	}
	drain(t, ing)

	e := engine.New(db, bus, params)
	_, err := e.Tick(ctx)
	assert.NilError(t, err)
	dist, _ := bus.Device("dist_a")
	l, _ := dist.Last()
	src, _ := l.Get(command.KeySource)
	assert.Equal(t, src, "UTILITY")

	util, _ := bus.Device("util_a")
	util.SetPresent(false)
	drain(t, ing)

	gen, _ := bus.Device("gen_a")
	want := []asset.Status{asset.Starting, asset.Starting, asset.Running}
	for _, status := range want {
		_, err := e.Tick(ctx)
		assert.NilError(t, err)
		l, _ := gen.Last()
		assert.Equal(t, l.Status(), status)
	}
	l, _ = dist.Last()
	src, _ = l.Get(command.KeySource)
	assert.Equal(t, src, "GENERATOR")

	_, ok := util.Last()
	assert.Assert(t, ok)
	assert.Equal(t, util.Received(), 1, "absent utility misses later commands")
}

func drain(t *testing.T, ing *telemetry.Ingestor) {
	t.Helper()
	assert.Assert(t, ing.Drain(context.Background()) > 0)
}
