package protocol

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var schemaFiles = map[string]string{
	TypeMap:        "schemas/map.schema.json",
	TypeStartState: "schemas/start_state.schema.json",
	TypeTicks:      "schemas/ticks.schema.json",
	TypeTerminal:   "schemas/terminal.schema.json",
}

// Validator checks messages against the embedded JSON schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	v := &Validator{schemas: map[string]*jsonschema.Schema{}}
	for typ, path := range schemaFiles {
		raw, err := schemaFS.ReadFile(path)
		if err != nil {
			return nil, err
		}
		s, err := jsonschema.CompileString(path, string(raw))
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", path, err)
		}
		v.schemas[typ] = s
	}
	return v, nil
}

// Validate checks raw against the schema registered for typ.
func (v *Validator) Validate(typ string, raw []byte) error {
	s, ok := v.schemas[typ]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}

// Inbound is one decoded server message; exactly one payload is set.
type Inbound struct {
	Type       string
	Map        *MapMsg
	StartState *StartStateMsg
	Terminal   *TerminalMsg
}

// Decode routes raw by type, validates it and decodes the payload.
func (v *Validator) Decode(raw []byte) (Inbound, error) {
	base, err := DecodeBase(raw)
	if err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	in := Inbound{Type: base.Type}
	switch base.Type {
	case TypeMap, TypeStartState, TypeTerminal:
	default:
		return in, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}
	if err := v.Validate(base.Type, raw); err != nil {
		return in, err
	}
	switch base.Type {
	case TypeMap:
		var m MapMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return in, fmt.Errorf("%w: %v", ErrBadJSON, err)
		}
		in.Map = &m
	case TypeStartState:
		var m StartStateMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return in, fmt.Errorf("%w: %v", ErrBadJSON, err)
		}
		in.StartState = &m
	case TypeTerminal:
		var m TerminalMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return in, fmt.Errorf("%w: %v", ErrBadJSON, err)
		}
		in.Terminal = &m
	}
	return in, nil
}
