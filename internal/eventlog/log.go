package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cardroom/internal/game"
)

var ErrUnknownRoom = errors.New("no events for room")
var ErrUnknownEventType = errors.New("event type has no apply function")

// Sink receives every appended event for external persistence. Sink
// failures are logged and never fail the append: the in-process log stays
// authoritative.
type Sink interface {
	Append(ctx context.Context, e Event) error
}

// Log is the per-room append-only event history. Appends for one room
// come from that room's single writer; reads may come from anywhere.
type Log struct {
	mu    sync.RWMutex
	rooms map[string][]Event
	sink  Sink
	log   *zap.Logger
}

func New(sink Sink, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		rooms: make(map[string][]Event),
		sink:  sink,
		log:   logger,
	}
}

// Append stamps the next sequence number for the event's room, stores the
// event and forwards it to the sink. The stored payload is a deep copy;
// callers cannot mutate history after the fact.
func (l *Log) Append(ctx context.Context, e Event) (uint64, error) {
	if e.RoomID == "" {
		return 0, fmt.Errorf("append: missing room id")
	}
	if _, ok := appliers[e.Type]; !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEventType, e.Type)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.Payload = CloneMap(e.Payload)

	l.mu.Lock()
	events := l.rooms[e.RoomID]
	e.Sequence = uint64(len(events)) + 1
	l.rooms[e.RoomID] = append(events, e)
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.Append(ctx, e); err != nil {
			l.log.Warn("event sink append failed",
				zap.String("room_id", e.RoomID),
				zap.Uint64("sequence", e.Sequence),
				zap.Error(err))
		}
	}
	return e.Sequence, nil
}

// EventsSince returns the room's events with sequence > after, in order.
// The returned events are copies.
func (l *Log) EventsSince(roomID string, after uint64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	events := l.rooms[roomID]
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Sequence > after {
			c := e
			c.Payload = CloneMap(e.Payload)
			out = append(out, c)
		}
	}
	return out
}

// LastSequence returns the highest sequence appended for the room, 0 if none.
func (l *Log) LastSequence(roomID string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.rooms[roomID]))
}

// Replay folds the room's full event history into a fresh state.
func (l *Log) Replay(roomID string) (State, error) {
	return l.ReplayTo(roomID, 0)
}

// ReplayTo folds events up to and including upto (0 means all). The result
// shares nothing with live state or with the stored events.
func (l *Log) ReplayTo(roomID string, upto uint64) (State, error) {
	l.mu.RLock()
	events := l.rooms[roomID]
	l.mu.RUnlock()

	if events == nil {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
	}

	st := State{Phase: game.PhaseWaiting, Data: map[string]any{}}
	for _, e := range events {
		if upto > 0 && e.Sequence > upto {
			break
		}
		fn, ok := appliers[e.Type]
		if !ok {
			return State{}, fmt.Errorf("%w: %q at sequence %d", ErrUnknownEventType, e.Type, e.Sequence)
		}
		if err := fn(&st, e); err != nil {
			return State{}, err
		}
	}
	return st, nil
}

// ValidateSequence checks the room's history for gapless, strictly
// increasing sequence numbers and returns any missing values.
func (l *Log) ValidateSequence(roomID string) (bool, []uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var gaps []uint64
	want := uint64(1)
	for _, e := range l.rooms[roomID] {
		for want < e.Sequence {
			gaps = append(gaps, want)
			want++
		}
		if e.Sequence == want {
			want++
		}
	}
	return len(gaps) == 0, gaps
}

// DropRoom discards a room's in-process history on teardown. Events
// already forwarded to the sink are unaffected.
func (l *Log) DropRoom(roomID string) {
	l.mu.Lock()
	delete(l.rooms, roomID)
	l.mu.Unlock()
}
