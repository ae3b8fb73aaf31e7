package state

import "sort"

// DefaultPlayerID is the entity key the peer uses for the local avatar.
const DefaultPlayerID = "player"

// TypePlayer tags entities that carry Motion.
const TypePlayer = "Player"

// Motion is the avatar-only part of an entity.
type Motion struct {
	MoveV        float64 `json:"moveV"`
	JumpV        float64 `json:"jumpV"`
	CanJump      bool    `json:"canJump"`
	JumpProgress int     `json:"jumpProgress"`
	SolidGround  bool    `json:"solidGround"`
}

// Entity is a tagged record: Motion is non-nil exactly for TypePlayer.
type Entity struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	FrameSet   string  `json:"frameSet"`
	FrameState string  `json:"frameState"`
	Frame      int     `json:"frame"`
	Solid      bool    `json:"solid,omitempty"`

	*Motion
}

// IsPlayer reports whether e is the avatar kind.
func (e Entity) IsPlayer() bool { return e.Motion != nil }

// Clone returns a copy that shares no memory with e.
func (e Entity) Clone() Entity {
	if e.Motion != nil {
		m := *e.Motion
		e.Motion = &m
	}
	return e
}

// GameState is one tick of simulated world state. The map is not part of it;
// it is passed to the simulator as a separate read-only environment.
type GameState struct {
	Tick     uint64            `json:"tick"`
	PlayerID string            `json:"playerID,omitempty"`
	Entities map[string]Entity `json:"entities"`
}

// Clone deep-copies the entity table.
func (s GameState) Clone() GameState {
	out := GameState{Tick: s.Tick, PlayerID: s.PlayerID}
	if s.Entities != nil {
		out.Entities = make(map[string]Entity, len(s.Entities))
		for id, e := range s.Entities {
			out.Entities[id] = e.Clone()
		}
	}
	return out
}

// Player returns the avatar entity.
func (s GameState) Player() (Entity, bool) {
	id := s.PlayerID
	if id == "" {
		id = DefaultPlayerID
	}
	e, ok := s.Entities[id]
	if !ok || !e.IsPlayer() {
		return Entity{}, false
	}
	return e, true
}

// PlayerKey returns the key of the avatar in Entities.
func (s GameState) PlayerKey() string {
	if s.PlayerID == "" {
		return DefaultPlayerID
	}
	return s.PlayerID
}

// WithPlayer returns a copy of s with the avatar replaced.
func (s GameState) WithPlayer(p Entity) GameState {
	out := s.Clone()
	if out.Entities == nil {
		out.Entities = map[string]Entity{}
	}
	out.Entities[s.PlayerKey()] = p.Clone()
	return out
}

// SortedIDs returns entity keys in a stable order.
func (s GameState) SortedIDs() []string {
	ids := make([]string, 0, len(s.Entities))
	for id := range s.Entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
