// Package modbuscomm polls hard-wired field devices over Modbus TCP and
// turns each read into presence telemetry.
package modbuscomm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/goburrow/modbus"

	"github.com/ohowland/winterriver/internal/pkg/telemetry"
)

// PollerConfig is the configuration format for one polled node
type PollerConfig struct {
	Node     string   `json:"Node"`
	IPAddr   string   `json:"IPAddr"`
	Port     string   `json:"Port"`
	SlaveID  byte     `json:"SlaveID"`
	Timeout  int      `json:"Timeout"`
	PollRate int      `json:"PollRate"`
	Register Register `json:"Register"`
	// ZeroIsOffline reports the node absent when the register reads zero.
	ZeroIsOffline bool `json:"ZeroIsOffline"`
	EnableLogger  bool `json:"EnableLogger"`
}

// reader is the part of modbus.Client the poller uses.
type reader interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
}

// session opens and closes the connection around one read.
type session interface {
	Connect() error
	Close() error
}

// Poller reads one node's presence register every PollRate.
type Poller struct {
	cfg     PollerConfig
	handler session
	client  reader
	sink    telemetry.Sink
	now     func() time.Time
}

// NewPoller is a factory for the Poller struct
func NewPoller(cfg PollerConfig, sink telemetry.Sink) (*Poller, error) {
	if cfg.Node == "" {
		return nil, fmt.Errorf("modbus poller for %s:%s has no node", cfg.IPAddr, cfg.Port)
	}
	if err := cfg.Register.Validate(); err != nil {
		return nil, err
	}
	if cfg.PollRate <= 0 {
		cfg.PollRate = 1000
	}
	handler := modbus.NewTCPClientHandler(cfg.IPAddr + ":" + cfg.Port)
	handler.Timeout = time.Millisecond * time.Duration(cfg.Timeout)
	handler.SlaveId = cfg.SlaveID
	if cfg.EnableLogger {
		handler.Logger = log.New(os.Stdout, "modbus: ", log.LstdFlags)
	}
	return &Poller{
		cfg:     cfg,
		handler: handler,
		client:  modbus.NewClient(handler),
		sink:    sink,
		now:     time.Now,
	}, nil
}

// Topic identifies the device a delivery came from.
func (p *Poller) Topic() string {
	return fmt.Sprintf("modbus/%s:%s/%d", p.cfg.IPAddr, p.cfg.Port, p.cfg.SlaveID)
}

// Read returns the decoded presence register.
func (p *Poller) Read() (float64, error) {
	if err := p.handler.Connect(); err != nil {
		return 0, err
	}
	defer p.handler.Close()

	r := p.cfg.Register
	var (
		resp []byte
		err  error
	)
	if r.FunctionCode == ReadInput {
		resp, err = p.client.ReadInputRegisters(r.Address, sizeOf(r.DataType))
	} else {
		resp, err = p.client.ReadHoldingRegisters(r.Address, sizeOf(r.DataType))
	}
	if err != nil {
		return 0, err
	}
	return decode(resp, r)
}

type reading struct {
	Node   string   `json:"node"`
	Status string   `json:"status"`
	Value  *float64 `json:"value,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Poll reads once and builds the telemetry it implies.
func (p *Poller) Poll() telemetry.Delivery {
	rd := reading{Node: p.cfg.Node, Status: "ONLINE"}
	v, err := p.Read()
	switch {
	case err != nil:
		rd.Status = telemetry.Offline
		rd.Error = err.Error()
	case v == 0 && p.cfg.ZeroIsOffline:
		rd.Status = telemetry.Offline
		rd.Value = &v
	default:
		rd.Value = &v
	}
	payload, _ := json.Marshal(rd)
	return telemetry.Delivery{Topic: p.Topic(), NodeID: p.cfg.Node, Payload: payload, Received: p.now()}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	log.Printf("[Modbus] Poller %s Started\n", p.cfg.Node)
	ticker := time.NewTicker(time.Duration(p.cfg.PollRate) * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			p.sink.Deliver(p.Poll())
		case <-ctx.Done():
			break loop
		}
	}
	log.Printf("[Modbus] Poller %s Shutdown\n", p.cfg.Node)
}
