package eventlog

import (
	"fmt"
	"time"

	"cardroom/internal/game"
)

// Type identifies the kind of a logged event.
type Type string

const (
	// TypePhaseChanged records a phase transition. Payload: from, to, reason.
	TypePhaseChanged Type = "phase_changed"
	// TypeDataUpdated records a phase-data merge. Payload: diff, before, reason.
	TypeDataUpdated Type = "data_updated"
)

// Event is one immutable entry in a room's history.
type Event struct {
	Sequence  uint64         `json:"sequence"`
	RoomID    string         `json:"room_id"`
	Type      Type           `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// State is what replaying a room's events reconstructs. Timestamps are
// metadata only and never fold into it, so replay is independent of when
// it runs.
type State struct {
	Phase game.Phase     `json:"phase"`
	Data  map[string]any `json:"data"`
}

// ApplyFunc folds one event into a replay state. Apply functions must be
// pure: no clocks, no randomness, no reads outside st and e.
type ApplyFunc func(st *State, e Event) error

var appliers = map[Type]ApplyFunc{}

// RegisterApply binds an apply function to an event type. An event type
// shipping without one is a programming error, so duplicates and nil
// functions panic at registration.
func RegisterApply(t Type, fn ApplyFunc) {
	if fn == nil {
		panic(fmt.Sprintf("eventlog: nil apply func for %q", t))
	}
	if _, dup := appliers[t]; dup {
		panic(fmt.Sprintf("eventlog: duplicate apply func for %q", t))
	}
	appliers[t] = fn
}

// KnownTypes returns every event type with a registered apply function.
func KnownTypes() []Type {
	ts := make([]Type, 0, len(appliers))
	for t := range appliers {
		ts = append(ts, t)
	}
	return ts
}

func init() {
	RegisterApply(TypePhaseChanged, applyPhaseChanged)
	RegisterApply(TypeDataUpdated, applyDataUpdated)
}

func applyPhaseChanged(st *State, e Event) error {
	to, ok := e.Payload["to"].(string)
	if !ok {
		return fmt.Errorf("event %d: phase_changed without a target phase", e.Sequence)
	}
	st.Phase = game.Phase(to)
	st.Data = map[string]any{}
	return nil
}

func applyDataUpdated(st *State, e Event) error {
	diff, ok := e.Payload["diff"].(map[string]any)
	if !ok {
		return fmt.Errorf("event %d: data_updated without a diff", e.Sequence)
	}
	for k, v := range diff {
		st.Data[k] = CopyValue(v)
	}
	return nil
}
