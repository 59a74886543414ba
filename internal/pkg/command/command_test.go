package command

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/golden"

	"github.com/ohowland/winterriver/internal/pkg/asset"
)

type encodeCase struct {
	def    asset.Def
	state  asset.LiveState
	source asset.Source
}

func siteCases() []encodeCase {
	return []encodeCase{
		{asset.Def{ID: "util_a", Type: asset.Utility}, asset.LiveState{VOut: 230000, Status: asset.Normal}, ""},
		{asset.Def{ID: "gen_a", Type: asset.Generator}, asset.LiveState{VOut: 480, Status: asset.Running}, ""},
		{asset.Def{ID: "gen_b", Type: asset.Generator}, asset.LiveState{Status: asset.Standby, GenTimer: 10}, ""},
		{asset.Def{ID: "transformer_a", Type: asset.Transformer}, asset.LiveState{VOut: 480, Status: asset.Normal}, ""},
		{asset.Def{ID: "sw_a", Type: asset.SwitchGear}, asset.LiveState{VOut: 480, Status: asset.Closed}, ""},
		{asset.Def{ID: "sw_b", Type: asset.SwitchGear}, asset.LiveState{Status: asset.Open}, ""},
		{asset.Def{ID: "ups_a", Type: asset.UPS}, asset.LiveState{VOut: 480, Battery: 4, Status: asset.OnBattery}, ""},
		{asset.Def{ID: "dist_a", Type: asset.DistBoard}, asset.LiveState{VOut: 480, Status: asset.Normal}, asset.SourceGenerator},
		{asset.Def{ID: "dist_b", Type: asset.DistBoard}, asset.LiveState{Status: asset.NoInput}, ""},
		{asset.Def{ID: "pdu_a", Type: asset.PDU}, asset.LiveState{VOut: 120, Status: asset.Normal}, ""},
		{asset.Def{ID: "srv_a", Type: asset.ServerRack}, asset.LiveState{VOut: 120, Status: asset.Normal}, ""},
	}
}

func TestEncodeSite(t *testing.T) {
	var b strings.Builder
	for _, c := range siteCases() {
		line, err := Encode(c.def, c.state, c.source)
		assert.NilError(t, err)
		b.WriteString(c.def.ID + " " + line + "\n")
	}
	golden.Assert(t, b.String(), "site.golden")
}

func TestEncodeUnknownType(t *testing.T) {
	_, err := Encode(asset.Def{ID: "x", Type: "CHILLER"}, asset.LiveState{}, "")
	assert.ErrorContains(t, err, "no command format")
}

func TestDecodeRoundTrip(t *testing.T) {
	for _, c := range siteCases() {
		encoded, err := Encode(c.def, c.state, c.source)
		assert.NilError(t, err)
		decoded, err := Decode(encoded)
		assert.NilError(t, err)
		assert.Equal(t, decoded.String(), encoded)
		assert.Equal(t, decoded.Status(), c.state.Status)
	}
}

func TestDecodeFields(t *testing.T) {
	l, err := Decode("INPUT:480.0 BATT:99 STATUS:CHARGING")
	assert.NilError(t, err)
	assert.Equal(t, l.Verb, "")

	v, err := l.Float(KeyInput)
	assert.NilError(t, err)
	assert.Equal(t, v, 480.0)

	batt, err := l.Int(KeyBatt)
	assert.NilError(t, err)
	assert.Equal(t, batt, 99)

	_, err = l.Float(KeyRPM)
	assert.ErrorContains(t, err, "no RPM field")
}

func TestDecodeSwitchGearVerb(t *testing.T) {
	l, err := Decode("CLOSE STATUS:CLOSED")
	assert.NilError(t, err)
	assert.Equal(t, l.Verb, VerbClose)
	assert.Equal(t, l.Status(), asset.Closed)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode("   ")
	assert.Equal(t, err, ErrEmpty)

	_, err = Decode("STATUS:NORMAL garbage")
	assert.ErrorContains(t, err, "not KEY:VALUE")

	_, err = Decode(":NORMAL")
	assert.ErrorContains(t, err, "no key")
}

func TestDistBoardDefaultsSource(t *testing.T) {
	line, err := Encode(asset.Def{ID: "dist_a", Type: asset.DistBoard}, asset.LiveState{Status: asset.NoInput}, "")
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(line, "SOURCE:NONE"))
}
