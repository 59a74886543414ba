package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ohowland/winterriver/internal/pkg/comm/modbuscomm"
	"github.com/ohowland/winterriver/internal/pkg/database/mongodb"
	"github.com/ohowland/winterriver/internal/pkg/database/sqldb"
	"github.com/ohowland/winterriver/internal/pkg/datastreams/mqtt"
	"github.com/ohowland/winterriver/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/winterriver/internal/pkg/transition"
	"github.com/ohowland/winterriver/internal/pkg/webservice"
)

// Transport kinds
const (
	KindMQTT    = "mqtt"
	KindNATS    = "nats"
	KindVirtual = "virtual"
)

// MemoryDriver keeps the topology in process.
const MemoryDriver = "memory"

// DefaultTickMillis is the tick period when none is configured.
const DefaultTickMillis = 1000

// TransportConfig selects and configures the device transport.
type TransportConfig struct {
	Kind      string `json:"Kind"`
	Server    string `json:"Server"`
	TopicRoot string `json:"TopicRoot"`
	ClientID  string `json:"ClientID"`
	Username  string `json:"Username"`
	Password  string `json:"Password"`
	QoS       byte   `json:"QoS"`
	// PublishTimeout in milliseconds.
	PublishTimeout int `json:"PublishTimeout"`
}

// MQTT is the paho configuration.
func (t TransportConfig) MQTT() mqtt.Config {
	return mqtt.Config{
		Server:         t.Server,
		TopicRoot:      t.TopicRoot,
		ClientID:       t.ClientID,
		Username:       t.Username,
		Password:       t.Password,
		QoS:            t.QoS,
		PublishTimeout: t.PublishTimeout,
	}
}

// NATS is the nats.go configuration.
func (t TransportConfig) NATS() natshandler.Config {
	return natshandler.Config{
		Server:    t.Server,
		TopicRoot: t.TopicRoot,
		ClientID:  t.ClientID,
	}
}

// Settings is the top level configuration file.
type Settings struct {
	TickMillis int                       `json:"TickMillis"`
	Topology   string                    `json:"Topology"`
	Store      sqldb.Config              `json:"Store"`
	Transport  TransportConfig           `json:"Transport"`
	Mongo      mongodb.Config            `json:"Mongo"`
	Web        webservice.Config         `json:"Web"`
	Modbus     []modbuscomm.PollerConfig `json:"Modbus"`
	Params     transition.Params         `json:"Params"`
}

// DefaultSettings runs the reference site on the loopback transport.
func DefaultSettings() Settings {
	return Settings{
		TickMillis: DefaultTickMillis,
		Store:      sqldb.Config{Driver: MemoryDriver},
		Transport:  TransportConfig{Kind: KindVirtual, TopicRoot: mqtt.DefaultTopicRoot},
		Web:        webservice.Config{Addr: ":8080", Enabled: true},
		Params:     transition.DefaultParams(),
	}
}

// LoadSettings reads path over DefaultSettings. An empty path returns the
// defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return s.normalize()
}

func (s Settings) normalize() (Settings, error) {
	if s.TickMillis <= 0 {
		s.TickMillis = DefaultTickMillis
	}
	s.Params = s.Params.WithDefaults()
	if s.Transport.TopicRoot == "" {
		s.Transport.TopicRoot = mqtt.DefaultTopicRoot
	}
	switch s.Transport.Kind {
	case KindMQTT, KindNATS, KindVirtual:
	case "":
		s.Transport.Kind = KindMQTT
	default:
		return Settings{}, fmt.Errorf("unknown transport %q", s.Transport.Kind)
	}
	if s.Web.Enabled && s.Web.Addr == "" {
		s.Web.Addr = ":8080"
	}
	return s, nil
}

// Period is the tick interval.
func (s Settings) Period() time.Duration {
	return time.Duration(s.TickMillis) * time.Millisecond
}

// Virtual switches to the in-process store and loopback transport.
func (s Settings) Virtual() Settings {
	s.Store = sqldb.Config{Driver: MemoryDriver}
	s.Transport.Kind = KindVirtual
	s.Modbus = nil
	return s
}
