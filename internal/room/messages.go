package room

import (
	"cardroom/internal/conn"
	"cardroom/internal/game"
	"cardroom/internal/phase"
)

// Msg is a request posted to a room's inbox. The loop goroutine is the
// only consumer, which is what serializes all room mutations.
type Msg interface{ isRoomMsg() }

// Join seats a player, or reconnects one whose seat is bot-substituted.
type Join struct {
	Player string
	Conn   *conn.Conn
	Reply  chan error
}

// AddBot seats a genuine bot player. Only legal while waiting.
type AddBot struct {
	Name  string
	Reply chan error
}

// ClientAction carries a validated inbound action plus the connection it
// came from, so rejections can be answered to that client alone.
type ClientAction struct {
	Conn   *conn.Conn
	Action game.Action
}

// ConnLost reports a socket loss, from the read loop or from a failed
// broadcast send.
type ConnLost struct {
	Conn   *conn.Conn
	Reason error
}

// Teardown destroys the room: timers cancelled, connections closed,
// in-flight requests failed with ErrRoomDestroyed.
type Teardown struct{}

// GetView asks for a consistent snapshot of room internals. Used by the
// debug API and tests; it runs on the loop, so it observes no torn state.
type GetView struct {
	Reply chan View
}

// timerFired is the internal message scheduled timers post back to the
// loop. Stale generations are dropped.
type timerFired struct {
	gen  int
	kind timerKind
}

type timerKind int

const (
	timerBotMove timerKind = iota
	timerAdvanceResults
)

func (Join) isRoomMsg()         {}
func (AddBot) isRoomMsg()       {}
func (ClientAction) isRoomMsg() {}
func (ConnLost) isRoomMsg()     {}
func (Teardown) isRoomMsg()     {}
func (GetView) isRoomMsg()      {}
func (timerFired) isRoomMsg()   {}

// View is a read-only copy of the room's state.
type View struct {
	RoomID       string
	Phase        game.Phase
	Sequence     uint64
	Players      []game.PlayerSlot
	Data         map[string]any
	Disconnected []string
	History      []phase.Change
}
