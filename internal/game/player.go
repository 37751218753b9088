package game

import "errors"

var ErrNotSubstituted = errors.New("player is not bot-substituted")
var ErrGenuineBot = errors.New("player is a genuine bot")

// ConnState says who is driving a joined player's seat. Exactly one of
// the two states holds at all times once a player has joined.
type ConnState string

const (
	StateConnected      ConnState = "connected"
	StateBotSubstituted ConnState = "bot_substituted"
)

// PlayerSlot is one seat in a room's ordered roster.
type PlayerSlot struct {
	Name      string    `json:"name"`
	ConnState ConnState `json:"conn_state"`

	// OriginalIsBot marks seats that were bots from the start. It never
	// changes after join, and it is the guard that keeps a genuine bot
	// from ever being "reconnected" into human control.
	OriginalIsBot bool `json:"original_is_bot"`
}

// Substitute flips a human seat to bot control. Genuine bots are already
// bot-driven, so substitution is a no-op for them.
func (s *PlayerSlot) Substitute() bool {
	if s.OriginalIsBot || s.ConnState == StateBotSubstituted {
		return false
	}
	s.ConnState = StateBotSubstituted
	return true
}

// Restore returns a substituted seat to human control.
func (s *PlayerSlot) Restore() error {
	if s.OriginalIsBot {
		return ErrGenuineBot
	}
	if s.ConnState != StateBotSubstituted {
		return ErrNotSubstituted
	}
	s.ConnState = StateConnected
	return nil
}

// BotDriven reports whether the seat's next action comes from a bot,
// either a genuine bot or a substituted human.
func (s *PlayerSlot) BotDriven() bool {
	return s.OriginalIsBot || s.ConnState == StateBotSubstituted
}
