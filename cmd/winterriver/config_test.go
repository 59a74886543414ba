package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/ohowland/winterriver/internal/pkg/transition"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	assert.NilError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings("")
	assert.NilError(t, err)
	assert.Equal(t, s.Transport.Kind, KindVirtual)
	assert.Equal(t, s.Store.Driver, MemoryDriver)
	assert.Equal(t, s.Period(), time.Second)
	assert.DeepEqual(t, s.Params, transition.DefaultParams())
}

func TestLoadSettings(t *testing.T) {
	path := writeFile(t, "winterriver.json", `{
		"TickMillis": 250,
		"Store": {"Driver": "postgres", "DSN": "postgres://wr@localhost/winter_river"},
		"Transport": {"Kind": "nats", "Server": "nats://localhost:4222"},
		"Modbus": [{"Node": "util_a", "IPAddr": "10.0.0.5", "Port": "502", "SlaveID": 1}],
		"Params": {"GenStartDelay": 3}
	}`)
	s, err := LoadSettings(path)
	assert.NilError(t, err)
	assert.Equal(t, s.Period(), 250*time.Millisecond)
	assert.Equal(t, s.Store.Driver, "postgres")
	assert.Equal(t, s.Transport.NATS().Server, "nats://localhost:4222")
	assert.Equal(t, s.Transport.TopicRoot, "winter-river")
	assert.Equal(t, s.Params.GenStartDelay, 3)
	assert.Equal(t, s.Params.UtilityVolts, transition.DefaultUtilityVolts)
	assert.Equal(t, len(s.Modbus), 1)

	v := s.Virtual()
	assert.Equal(t, v.Transport.Kind, KindVirtual)
	assert.Equal(t, v.Store.Driver, MemoryDriver)
	assert.Equal(t, len(v.Modbus), 0)
}

func TestLoadSettingsErrors(t *testing.T) {
	_, err := LoadSettings(filepath.Join(t.TempDir(), "missing.json"))
	assert.Assert(t, os.IsNotExist(err))

	_, err = LoadSettings(writeFile(t, "bad.json", `{"TickMillis": "fast"}`))
	assert.ErrorContains(t, err, "decode")

	_, err = LoadSettings(writeFile(t, "kind.json", `{"Transport": {"Kind": "carrier-pigeon"}}`))
	assert.ErrorContains(t, err, "unknown transport")
}

func TestSampleConfig(t *testing.T) {
	s, err := LoadSettings("../../config/winterriver.json")
	assert.NilError(t, err)
	assert.Equal(t, s.Transport.Kind, KindMQTT)
	assert.Equal(t, s.Transport.MQTT().ClientID, "winter-river-engine")
}
