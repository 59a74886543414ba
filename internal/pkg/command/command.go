package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ohowland/winterriver/internal/pkg/asset"
)

// Control line keys
const (
	KeyVolt   = "VOLT"
	KeyStatus = "STATUS"
	KeyRPM    = "RPM"
	KeyInput  = "INPUT"
	KeySource = "SOURCE"
	KeyBatt   = "BATT"
)

// Switch gear verbs
const (
	VerbClose = "CLOSE"
	VerbOpen  = "OPEN"
)

// RunningRPM is the shaft speed reported to an energized generator.
const RunningRPM = 1800

// Field is one KEY:VALUE token.
type Field struct {
	Key   string
	Value string
}

// Line is a decoded control message. Verb is only set for switch gear.
type Line struct {
	Verb   string
	Fields []Field
}

// Get returns the value of key.
func (l Line) Get(key string) (string, bool) {
	for _, f := range l.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Float returns the value of key parsed as a float.
func (l Line) Float(key string) (float64, error) {
	v, ok := l.Get(key)
	if !ok {
		return 0, fmt.Errorf("no %s field", key)
	}
	return strconv.ParseFloat(v, 64)
}

// Int returns the value of key parsed as an int.
func (l Line) Int(key string) (int, error) {
	v, ok := l.Get(key)
	if !ok {
		return 0, fmt.Errorf("no %s field", key)
	}
	return strconv.Atoi(v)
}

// Status returns the STATUS field.
func (l Line) Status() asset.Status {
	v, _ := l.Get(KeyStatus)
	return asset.Status(v)
}

func (l Line) String() string {
	tokens := make([]string, 0, len(l.Fields)+1)
	if l.Verb != "" {
		tokens = append(tokens, l.Verb)
	}
	for _, f := range l.Fields {
		tokens = append(tokens, f.Key+":"+f.Value)
	}
	return strings.Join(tokens, " ")
}

func volts(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// Build assembles the control line for a node's new state. The key set
// and order are fixed per node type.
func Build(d asset.Def, s asset.LiveState, src asset.Source) (Line, error) {
	status := Field{KeyStatus, string(s.Status)}
	switch d.Type {
	case asset.Utility:
		return Line{Fields: []Field{{KeyVolt, volts(s.VOut)}, status}}, nil
	case asset.Generator:
		rpm := 0
		if s.VOut > 0 {
			rpm = RunningRPM
		}
		return Line{Fields: []Field{{KeyRPM, strconv.Itoa(rpm)}, status}}, nil
	case asset.SwitchGear:
		verb := VerbOpen
		if s.VOut > 0 {
			verb = VerbClose
		}
		return Line{Verb: verb, Fields: []Field{status}}, nil
	case asset.DistBoard:
		if src == "" {
			src = asset.SourceNone
		}
		return Line{Fields: []Field{{KeyInput, volts(s.VOut)}, {KeySource, string(src)}, status}}, nil
	case asset.UPS:
		return Line{Fields: []Field{{KeyInput, volts(s.VOut)}, {KeyBatt, strconv.Itoa(s.Battery)}, status}}, nil
	case asset.Transformer, asset.PDU, asset.ServerRack:
		return Line{Fields: []Field{status}}, nil
	}
	return Line{}, fmt.Errorf("no command format for node type %q", d.Type)
}

// Encode renders the control line for a node's new state.
func Encode(d asset.Def, s asset.LiveState, src asset.Source) (string, error) {
	l, err := Build(d, s, src)
	if err != nil {
		return "", err
	}
	return l.String(), nil
}

// ErrEmpty is returned when decoding a blank line.
var ErrEmpty = errors.New("empty command line")

// Decode parses a control line. A leading bare token is taken as the verb.
func Decode(raw string) (Line, error) {
	tokens := strings.Fields(raw)
	if len(tokens) == 0 {
		return Line{}, ErrEmpty
	}
	l := Line{}
	for i, tok := range tokens {
		key, value, found := strings.Cut(tok, ":")
		if !found {
			if i == 0 {
				l.Verb = tok
				continue
			}
			return Line{}, fmt.Errorf("token %q is not KEY:VALUE", tok)
		}
		if key == "" {
			return Line{}, fmt.Errorf("token %q has no key", tok)
		}
		l.Fields = append(l.Fields, Field{Key: key, Value: value})
	}
	return l, nil
}
