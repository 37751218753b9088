// Package recovery keeps disconnected players recoverable: their seat is
// handed to a bot and every broadcast they miss is queued, bounded, with
// critical messages retained over chatter. A Recovery instance belongs to
// one room actor and is only touched from that actor's goroutine, so it
// carries no lock of its own.
package recovery

import (
	"errors"

	"go.uber.org/zap"

	"cardroom/internal/game"
)

var ErrNotDisconnected = errors.New("player is not disconnected")

const DefaultQueueMax = 100

// Recovery tracks per-player message queues for one room.
type Recovery struct {
	queueMax int
	queues   map[string]*queue
	log      *zap.Logger
}

func New(queueMax int, logger *zap.Logger) *Recovery {
	if queueMax <= 0 {
		queueMax = DefaultQueueMax
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recovery{
		queueMax: queueMax,
		queues:   make(map[string]*queue),
		log:      logger,
	}
}

// HandleDisconnect starts queuing for the player and, for humans,
// substitutes a bot. Returns whether a bot was activated. Genuine bots
// neither queue nor substitute; their socket loss is cosmetic.
func (r *Recovery) HandleDisconnect(slot *game.PlayerSlot) (botActivated bool) {
	if slot.OriginalIsBot {
		return false
	}
	if _, already := r.queues[slot.Name]; already {
		return false
	}
	r.queues[slot.Name] = &queue{max: r.queueMax}
	activated := slot.Substitute()
	r.log.Info("player disconnected",
		zap.String("player", slot.Name),
		zap.Bool("bot_activated", activated))
	return activated
}

// Disconnected reports whether the player currently has a queue.
func (r *Recovery) Disconnected(player string) bool {
	_, ok := r.queues[player]
	return ok
}

// DisconnectedPlayers lists every player currently queuing.
func (r *Recovery) DisconnectedPlayers() []string {
	out := make([]string, 0, len(r.queues))
	for p := range r.queues {
		out = append(out, p)
	}
	return out
}

// Enqueue records a broadcast the player missed. No-op for players that
// are not disconnected.
func (r *Recovery) Enqueue(player string, m QueuedMessage) {
	q, ok := r.queues[player]
	if !ok {
		return
	}
	q.push(m)
}

// QueueLen reports the player's current queue depth.
func (r *Recovery) QueueLen(player string) int {
	if q, ok := r.queues[player]; ok {
		return q.len()
	}
	return 0
}

// HandleReconnect drains the player's queue exactly once, in enqueue
// order, and restores human control if a bot was substituted. The
// OriginalIsBot guard means a genuine bot can never be reconnected.
func (r *Recovery) HandleReconnect(slot *game.PlayerSlot) (missed []QueuedMessage, botDeactivated bool, err error) {
	if slot.OriginalIsBot {
		return nil, false, game.ErrGenuineBot
	}
	q, ok := r.queues[slot.Name]
	if !ok {
		return nil, false, ErrNotDisconnected
	}
	missed = q.drain()
	delete(r.queues, slot.Name)

	if slot.ConnState == game.StateBotSubstituted {
		if rerr := slot.Restore(); rerr == nil {
			botDeactivated = true
		}
	}
	r.log.Info("player reconnected",
		zap.String("player", slot.Name),
		zap.Int("missed", len(missed)),
		zap.Bool("bot_deactivated", botDeactivated))
	return missed, botDeactivated, nil
}

// Forget discards a player's queue without delivery, for leavers and
// room teardown.
func (r *Recovery) Forget(player string) {
	delete(r.queues, player)
}
