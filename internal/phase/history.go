package phase

import (
	"time"

	"cardroom/internal/eventlog"
	"cardroom/internal/game"
)

const historySize = 64

// Change is one entry in the machine's debug history.
type Change struct {
	Sequence uint64         `json:"sequence"`
	Phase    game.Phase     `json:"phase"`
	Type     eventlog.Type  `json:"type"`
	Reason   string         `json:"reason"`
	Diff     map[string]any `json:"diff,omitempty"`
	At       time.Time      `json:"at"`
}

// history is a fixed-size ring of recent changes. Oldest entries fall off.
type history struct {
	buf  [historySize]Change
	next int
	full bool
}

func (h *history) add(c Change) {
	h.buf[h.next] = c
	h.next = (h.next + 1) % historySize
	if h.next == 0 {
		h.full = true
	}
}

func (h *history) list() []Change {
	if !h.full {
		return append([]Change(nil), h.buf[:h.next]...)
	}
	out := make([]Change, 0, historySize)
	out = append(out, h.buf[h.next:]...)
	out = append(out, h.buf[:h.next]...)
	return out
}
