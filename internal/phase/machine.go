// Package phase implements the per-room state machine. A Machine is the
// single writer of its room's phase and phase data: every mutation goes
// through TransitionTo or Update, which sequence, log and broadcast the
// change as one unit. Machines are not safe for concurrent use; the room
// actor's loop is the only caller.
package phase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cardroom/internal/eventlog"
	"cardroom/internal/game"
	"cardroom/pkg/types"
)

var ErrInvalidTransition = errors.New("invalid phase transition")
var ErrInvalidAction = errors.New("action not allowed in current phase")
var ErrRoomFailed = errors.New("room is in error phase")

// transitions is the adjacency table. ERROR is reachable from anywhere
// and handled separately.
var transitions = map[game.Phase][]game.Phase{
	game.PhaseWaiting:     {game.PhasePreparation},
	game.PhasePreparation: {game.PhasePreparation, game.PhaseRoundStart},
	game.PhaseRoundStart:  {game.PhaseDeclaration},
	game.PhaseDeclaration: {game.PhaseTurn},
	game.PhaseTurn:        {game.PhaseTurnResults},
	game.PhaseTurnResults: {game.PhaseTurn, game.PhaseScoring},
	game.PhaseScoring:     {game.PhaseRoundEnd},
	game.PhaseRoundEnd:    {game.PhasePreparation, game.PhaseGameOver},
	game.PhaseGameOver:    {},
	game.PhaseError:       {},
}

// allowedActions is the per-phase action permission table. Ping is legal
// everywhere; it never reaches the machine but belongs in the table so
// the table alone answers "is this action legal now".
var allowedActions = map[game.Phase]map[game.ActionType]bool{
	game.PhaseWaiting: {
		game.ActionJoinRoom:  true,
		game.ActionStartGame: true,
		game.ActionLeaveRoom: true,
		game.ActionPing:      true,
	},
	game.PhasePreparation: {
		game.ActionAcceptRedeal:  true,
		game.ActionDeclineRedeal: true,
		game.ActionLeaveRoom:     true,
		game.ActionPing:          true,
	},
	game.PhaseRoundStart: {
		game.ActionLeaveRoom: true,
		game.ActionPing:      true,
	},
	game.PhaseDeclaration: {
		game.ActionDeclare:   true,
		game.ActionLeaveRoom: true,
		game.ActionPing:      true,
	},
	game.PhaseTurn: {
		game.ActionPlay:      true,
		game.ActionLeaveRoom: true,
		game.ActionPing:      true,
	},
	game.PhaseTurnResults: {
		game.ActionLeaveRoom: true,
		game.ActionPing:      true,
	},
	game.PhaseScoring: {
		game.ActionLeaveRoom: true,
		game.ActionPing:      true,
	},
	game.PhaseRoundEnd: {
		game.ActionLeaveRoom: true,
		game.ActionPing:      true,
	},
	game.PhaseGameOver: {
		game.ActionLeaveRoom: true,
		game.ActionPing:      true,
	},
	game.PhaseError: {
		game.ActionPing: true,
	},
}

// Broadcaster fans a machine broadcast out to the room. Implementations
// must isolate per-connection failures; the machine treats Broadcast as
// infallible. critical marks messages that must survive queue trimming
// for disconnected players.
type Broadcaster interface {
	Broadcast(event string, payload map[string]any, critical bool)
}

// Machine owns one room's phase, phase data and sequence counter.
type Machine struct {
	roomID string
	phase  game.Phase
	data   map[string]any
	seq    uint64

	elog *eventlog.Log
	bc   Broadcaster
	hist history
	log  *zap.Logger

	failed bool
}

func NewMachine(roomID string, elog *eventlog.Log, bc Broadcaster, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		roomID: roomID,
		phase:  game.PhaseWaiting,
		data:   map[string]any{},
		elog:   elog,
		bc:     bc,
		log:    logger.With(zap.String("room_id", roomID)),
	}
}

func (m *Machine) RoomID() string    { return m.roomID }
func (m *Machine) Phase() game.Phase { return m.phase }
func (m *Machine) Sequence() uint64  { return m.seq }
func (m *Machine) Failed() bool      { return m.failed }

// Data returns a deep copy of the phase data. The live map never leaves
// the machine.
func (m *Machine) Data() map[string]any {
	return eventlog.CloneMap(m.data)
}

// Get reads one phase-data key without exposing the map.
func (m *Machine) Get(key string) (any, bool) {
	v, ok := m.data[key]
	if !ok {
		return nil, false
	}
	return eventlog.CopyValue(v), true
}

// History returns the recent-change ring, oldest first.
func (m *Machine) History() []Change {
	return m.hist.list()
}

// TransitionTo exits the current phase, clears phase data and enters the
// new phase. Disallowed transitions fail without any mutation.
func (m *Machine) TransitionTo(to game.Phase, reason string) error {
	if m.failed {
		return ErrRoomFailed
	}
	if to != game.PhaseError && !m.canTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.phase, to)
	}

	from := m.phase
	seq, err := m.elog.Append(context.Background(), eventlog.Event{
		RoomID: m.roomID,
		Type:   eventlog.TypePhaseChanged,
		Payload: map[string]any{
			"from":   string(from),
			"to":     string(to),
			"reason": reason,
		},
	})
	if err != nil {
		m.fail(fmt.Sprintf("event append failed: %v", err))
		return ErrRoomFailed
	}
	if seq != m.seq+1 {
		m.fail(fmt.Sprintf("sequence gap: log assigned %d, machine at %d", seq, m.seq))
		return ErrRoomFailed
	}

	m.seq = seq
	m.phase = to
	m.data = map[string]any{}
	if to == game.PhaseError {
		m.failed = true
	}
	m.hist.add(Change{
		Sequence: seq,
		Phase:    to,
		Type:     eventlog.TypePhaseChanged,
		Reason:   reason,
		At:       time.Now().UTC(),
	})
	m.log.Info("phase transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Uint64("sequence", seq),
		zap.String("reason", reason))
	m.broadcastSnapshot(reason, true)
	return nil
}

// Update is the only legal way to mutate phase data: merge the partial
// update in, assign the next sequence number, log the change with its
// before/after diff and broadcast the full snapshot — one atomic unit
// from the caller's side. A connection whose send fails during the
// broadcast gets its own disconnection handling; Update still succeeds.
func (m *Machine) Update(partial map[string]any, reason string) error {
	if m.failed {
		return ErrRoomFailed
	}
	if len(partial) == 0 {
		return nil
	}

	diff := make(map[string]any, len(partial))
	before := make(map[string]any, len(partial))
	for k, v := range partial {
		if prev, ok := m.data[k]; ok {
			before[k] = eventlog.CopyValue(prev)
		}
		diff[k] = eventlog.CopyValue(v)
	}

	seq, err := m.elog.Append(context.Background(), eventlog.Event{
		RoomID: m.roomID,
		Type:   eventlog.TypeDataUpdated,
		Payload: map[string]any{
			"diff":   diff,
			"before": before,
			"reason": reason,
		},
	})
	if err != nil {
		m.fail(fmt.Sprintf("event append failed: %v", err))
		return ErrRoomFailed
	}
	if seq != m.seq+1 {
		m.fail(fmt.Sprintf("sequence gap: log assigned %d, machine at %d", seq, m.seq))
		return ErrRoomFailed
	}

	m.seq = seq
	for k, v := range diff {
		m.data[k] = eventlog.CopyValue(v)
	}
	m.hist.add(Change{
		Sequence: seq,
		Phase:    m.phase,
		Type:     eventlog.TypeDataUpdated,
		Reason:   reason,
		Diff:     eventlog.CloneMap(diff),
		At:       time.Now().UTC(),
	})
	// Data snapshots are full-state, so any later one supersedes this
	// one; only phase transitions are critical for queue retention.
	m.broadcastSnapshot(reason, false)
	return nil
}

// ProcessAction checks the action against the current phase's allowed set
// and, only if permitted, runs apply. A rejected action never mutates
// state.
func (m *Machine) ProcessAction(a game.Action, apply func() error) error {
	if m.failed {
		return ErrRoomFailed
	}
	if !allowedActions[m.phase][a.Type] {
		return fmt.Errorf("%w: %s during %s", ErrInvalidAction, a.Type, m.phase)
	}
	return apply()
}

// ActionAllowed answers the permission table without running anything.
func (m *Machine) ActionAllowed(t game.ActionType) bool {
	return !m.failed && allowedActions[m.phase][t]
}

// Fail forces the room into the terminal ERROR phase. Used when an
// invariant violation is detected outside the machine itself.
func (m *Machine) Fail(reason string) {
	if !m.failed {
		m.fail(reason)
	}
}

// Snapshot builds the full broadcast payload for the current state.
func (m *Machine) Snapshot() map[string]any {
	return map[string]any{
		"room_id":         m.roomID,
		"sequence_number": m.seq,
		"server_time":     time.Now().UTC(),
		"phase":           string(m.phase),
		"phase_data":      eventlog.CloneMap(m.data),
	}
}

func (m *Machine) canTransition(to game.Phase) bool {
	for _, p := range transitions[m.phase] {
		if p == to {
			return true
		}
	}
	return false
}

func (m *Machine) broadcastSnapshot(reason string, critical bool) {
	if m.bc == nil {
		return
	}
	payload := m.Snapshot()
	payload["reason"] = reason
	m.bc.Broadcast(types.EventPhaseChange, payload, critical)
}

// fail flips the machine into ERROR directly. The transition is still
// logged when the log is healthy so the audit trail records why the room
// died, but a broken log cannot block entering ERROR.
func (m *Machine) fail(reason string) {
	from := m.phase
	m.failed = true
	m.phase = game.PhaseError
	m.data = map[string]any{}

	seq, err := m.elog.Append(context.Background(), eventlog.Event{
		RoomID: m.roomID,
		Type:   eventlog.TypePhaseChanged,
		Payload: map[string]any{
			"from":   string(from),
			"to":     string(game.PhaseError),
			"reason": reason,
		},
	})
	if err == nil {
		m.seq = seq
	}
	m.hist.add(Change{
		Sequence: m.seq,
		Phase:    game.PhaseError,
		Type:     eventlog.TypePhaseChanged,
		Reason:   reason,
		At:       time.Now().UTC(),
	})
	m.log.Error("room entered error phase", zap.String("reason", reason))
	m.broadcastSnapshot(reason, true)
}
