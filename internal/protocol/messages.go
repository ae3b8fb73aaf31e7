package protocol

import (
	"encoding/hex"
	"encoding/json"

	"tickpilot.dev/internal/sim/state"
)

// map (server -> client). Map is kept raw so it can be dumped to disk
// byte for byte before decoding.
type MapMsg struct {
	Type string          `json:"type"`
	Map  json.RawMessage `json:"map"`
}

// startState (server -> client). State.Tick is the server start tick.
type StartStateMsg struct {
	Type  string          `json:"type"`
	State state.GameState `json:"state"`
}

// GameState returns the decoded state with entity ids filled from their keys
// and the player kind tag made consistent with Motion.
func (m StartStateMsg) GameState() state.GameState {
	st := m.State.Clone()
	for id, e := range st.Entities {
		if e.ID == "" {
			e.ID = id
		}
		switch {
		case e.Type == state.TypePlayer && e.Motion == nil:
			e.Motion = &state.Motion{JumpProgress: -1}
		case e.Type != state.TypePlayer && e.Motion != nil:
			e.Motion = nil
		}
		st.Entities[id] = e
	}
	return st
}

// terminal (server -> client). Only the "data" event carries a payload,
// hex encoded.
type TerminalMsg struct {
	Type        string `json:"type"`
	ChallengeID string `json:"challengeID"`
	EventType   string `json:"eventType"`
	Data        string `json:"data,omitempty"`
}

const TerminalEventData = "data"

// Payload returns the decoded data bytes.
func (m TerminalMsg) Payload() ([]byte, error) {
	return hex.DecodeString(m.Data)
}

// Change is one committed tick: the input held and the state delta it caused.
type Change struct {
	Inputs state.Input `json:"inputs"`
	State  state.Diff  `json:"state"`
}

// ticks (client -> server)
type TicksMsg struct {
	Type    string   `json:"type"`
	Changes []Change `json:"changes"`
}

func NewTicks(changes []Change) TicksMsg {
	if changes == nil {
		changes = []Change{}
	}
	return TicksMsg{Type: TypeTicks, Changes: changes}
}
