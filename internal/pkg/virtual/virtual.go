// Package virtual stands in for the broker and the field devices so the
// engine can run without hardware.
package virtual

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ohowland/winterriver/internal/pkg/asset"
	"github.com/ohowland/winterriver/internal/pkg/command"
	"github.com/ohowland/winterriver/internal/pkg/telemetry"
)

// ErrNoDevice is returned when publishing to a node with no device attached.
var ErrNoDevice = errors.New("no virtual device attached")

// Bus is a loopback Transport: commands go straight to devices and device
// telemetry goes straight to the sink.
type Bus struct {
	mux     *sync.RWMutex
	devices map[string]*Device
	sink    telemetry.Sink
	topics  telemetry.Topics
	now     func() time.Time
}

// NewBus returns a Bus delivering device telemetry to sink.
func NewBus(root string, sink telemetry.Sink) *Bus {
	return &Bus{
		mux:     &sync.RWMutex{},
		devices: make(map[string]*Device),
		sink:    sink,
		topics:  telemetry.Topics{Root: root, Sep: "/"},
		now:     time.Now,
	}
}

// Attach creates the device for def. PDUs heartbeat with a bare string
// like their firmware does.
func (b *Bus) Attach(def asset.Def) *Device {
	b.mux.Lock()
	defer b.mux.Unlock()
	d := &Device{
		mux:   &sync.Mutex{},
		id:    def.ID,
		bus:   b,
		plain: def.Type == asset.PDU,
	}
	b.devices[def.ID] = d
	return d
}

// AttachAll attaches a device per def.
func (b *Bus) AttachAll(defs []asset.Def) {
	for _, d := range defs {
		b.Attach(d)
	}
}

// Device returns the device attached for id.
func (b *Bus) Device(id string) (*Device, bool) {
	b.mux.RLock()
	defer b.mux.RUnlock()
	d, ok := b.devices[id]
	return d, ok
}

// Devices returns every attached device ordered by node id.
func (b *Bus) Devices() []*Device {
	b.mux.RLock()
	defer b.mux.RUnlock()
	out := make([]*Device, 0, len(b.devices))
	for _, d := range b.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Publish hands a control line to the node's device. An absent device
// misses it, the same as one that has dropped off the broker.
func (b *Bus) Publish(ctx context.Context, nodeID string, line string) error {
	topic := b.topics.Control(nodeID)
	d, ok := b.Device(nodeID)
	if !ok {
		return &asset.TransportError{NodeID: nodeID, Topic: topic, Err: ErrNoDevice}
	}
	l, err := command.Decode(line)
	if err != nil {
		return &asset.TransportError{NodeID: nodeID, Topic: topic, Err: err}
	}
	d.receive(l)
	return nil
}

func (b *Bus) emit(id string, payload []byte) {
	b.sink.Deliver(telemetry.Delivery{
		Topic:    b.topics.Status(id),
		NodeID:   id,
		Payload:  payload,
		Received: b.now(),
	})
}

// Run heartbeats every present device each period until ctx is cancelled.
func (b *Bus) Run(ctx context.Context, period time.Duration) {
	log.Println("[VirtualBus] Running")
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, d := range b.Devices() {
				d.Heartbeat()
			}
		case <-ctx.Done():
			log.Println("[VirtualBus] Stopped")
			return
		}
	}
}

// Device is one virtual field device.
type Device struct {
	mux      *sync.Mutex
	id       string
	bus      *Bus
	plain    bool
	present  bool
	last     command.Line
	received int
}

// ID is the node the device reports for.
func (d *Device) ID() string {
	return d.id
}

// SetPresent connects or disconnects the device. Connecting announces
// ONLINE; disconnecting delivers the device's last will.
func (d *Device) SetPresent(present bool) {
	d.mux.Lock()
	changed := d.present != present
	d.present = present
	d.mux.Unlock()
	if !changed {
		return
	}
	status := "ONLINE"
	if !present {
		status = telemetry.Offline
	}
	d.bus.emit(d.id, d.structured(status))
}

// Present reports whether the device is connected.
func (d *Device) Present() bool {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.present
}

// Heartbeat reports liveness if the device is connected.
func (d *Device) Heartbeat() {
	if !d.Present() {
		return
	}
	if d.plain {
		d.bus.emit(d.id, []byte(d.id+" alive"))
		return
	}
	d.bus.emit(d.id, d.structured("ONLINE"))
}

func (d *Device) structured(status string) []byte {
	ts := d.bus.now().Format("15:04:05")
	return []byte(fmt.Sprintf(`{"ts":%q,"node":%q,"status":%q}`, ts, d.id, status))
}

func (d *Device) receive(l command.Line) {
	d.mux.Lock()
	defer d.mux.Unlock()
	if !d.present {
		return
	}
	d.last = l
	d.received++
}

// Last returns the most recent command the device received.
func (d *Device) Last() (command.Line, bool) {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.last, d.received > 0
}

// Received counts commands the device has accepted.
func (d *Device) Received() int {
	d.mux.Lock()
	defer d.mux.Unlock()
	return d.received
}
