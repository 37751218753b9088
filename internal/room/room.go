// Package room runs one actor goroutine per game room. The loop owns the
// phase machine, the player roster and the recovery queues exclusively;
// everything that wants to mutate a room posts a message to its inbox.
// Rooms share nothing with each other, so a stuck room slows only itself.
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"cardroom/internal/conn"
	"cardroom/internal/eventlog"
	"cardroom/internal/game"
	"cardroom/internal/phase"
	"cardroom/internal/recovery"
	"cardroom/pkg/types"
)

var ErrRoomDestroyed = errors.New("room destroyed")
var ErrRoomFull = errors.New("room is full")
var ErrGameInProgress = errors.New("game already in progress")
var ErrDuplicatePlayer = errors.New("player name already taken")
var ErrUnknownPlayer = errors.New("player not in room")

// Config wires a room's collaborators. Everything but ID and the shared
// managers has a sensible default.
type Config struct {
	ID      string
	Conns   *conn.Manager
	Events  *eventlog.Log
	Rules   game.RulesEngine
	Scoring game.ScoringService
	Bots    game.BotStrategy

	MinPlayers   int
	MaxPlayers   int
	MaxRounds    int
	QueueMax     int
	BotDelay     time.Duration
	ResultsDelay time.Duration

	Logger *zap.Logger

	// OnClosed is called after the loop exits, outside the loop goroutine's
	// locks, so the registry can forget the room.
	OnClosed func(id string)
}

func (c *Config) applyDefaults() {
	if c.MinPlayers <= 0 {
		c.MinPlayers = 2
	}
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = 4
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = 3
	}
	if c.BotDelay < 0 {
		c.BotDelay = 0
	}
	if c.ResultsDelay < 0 {
		c.ResultsDelay = 0
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Room is the actor. All fields below cancel are loop-owned; sendMu and
// destroyed form the teardown handshake with Send.
type Room struct {
	id     string
	inbox  chan Msg
	ctx    context.Context
	cancel context.CancelFunc

	sendMu    sync.RWMutex
	destroyed bool

	cfg     Config
	conns   *conn.Manager
	machine *phase.Machine
	rec     *recovery.Recovery
	players []*game.PlayerSlot

	timerGen int
	timer    *time.Timer

	log *zap.Logger
}

func New(parent context.Context, cfg Config) *Room {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(parent)

	r := &Room{
		id:     cfg.ID,
		inbox:  make(chan Msg, 64),
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		conns:  cfg.Conns,
		rec:    recovery.New(cfg.QueueMax, cfg.Logger),
		log:    cfg.Logger.With(zap.String("room_id", cfg.ID)),
	}
	r.machine = phase.NewMachine(cfg.ID, cfg.Events, &broadcaster{room: r}, cfg.Logger)

	go r.loop()
	return r
}

func (r *Room) ID() string { return r.id }

// Inbox exposes the raw channel for callers that manage their own
// lifetime checks. Prefer Send.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done closes when the room is destroyed.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

// Send posts a message unless the room is already destroyed. The read
// lock pairs with shutdown's write lock: once shutdown has drained the
// inbox, no Send can slip a message into it, so a post-teardown Send
// always fails with ErrRoomDestroyed rather than filling a channel no
// one reads.
func (r *Room) Send(ctx context.Context, m Msg) error {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.destroyed {
		return ErrRoomDestroyed
	}
	select {
	case <-r.ctx.Done():
		return ErrRoomDestroyed
	case <-ctx.Done():
		return ctx.Err()
	case r.inbox <- m:
		return nil
	}
}

func (r *Room) loop() {
	defer func() {
		if r.cfg.OnClosed != nil {
			r.cfg.OnClosed(r.id)
		}
	}()

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				reply(msg.Reply, r.handleJoin(msg))
			case AddBot:
				reply(msg.Reply, r.handleAddBot(msg.Name))
			case ClientAction:
				r.handleAction(msg.Conn, msg.Action)
			case ConnLost:
				r.handleConnLost(msg.Conn)
			case GetView:
				msg.Reply <- r.view()
			case timerFired:
				r.handleTimer(msg)
			case Teardown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) shutdown() {
	r.stopTimer()
	r.cancel()

	// Taking the write lock waits out every in-flight Send: each one
	// either enqueued before we got here or saw the cancelled context.
	// After the flag flips, Send fails fast and the inbox stops growing,
	// so the drain below is complete, not best-effort.
	r.sendMu.Lock()
	r.destroyed = true
	r.sendMu.Unlock()

	// Fail whatever is still parked in the inbox; no one else will read it.
	for {
		select {
		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				reply(msg.Reply, ErrRoomDestroyed)
			case AddBot:
				reply(msg.Reply, ErrRoomDestroyed)
			case ClientAction:
				if msg.Conn != nil {
					_ = r.conns.SendTo(context.Background(), msg.Conn,
						types.EventError, types.ErrorData{
							Code:    "room_closed",
							Message: ErrRoomDestroyed.Error(),
						})
				}
			case GetView:
				msg.Reply <- View{RoomID: r.id, Phase: game.PhaseError}
			}
		default:
			for _, c := range r.conns.Connections(r.id) {
				r.conns.Disconnect(c)
			}
			r.log.Info("room destroyed")
			return
		}
	}
}

func reply(ch chan error, err error) {
	if ch != nil {
		ch <- err
	}
}

func (r *Room) view() View {
	players := make([]game.PlayerSlot, len(r.players))
	for i, s := range r.players {
		players[i] = *s
	}
	return View{
		RoomID:       r.id,
		Phase:        r.machine.Phase(),
		Sequence:     r.machine.Sequence(),
		Players:      players,
		Data:         r.machine.Data(),
		Disconnected: r.rec.DisconnectedPlayers(),
		History:      r.machine.History(),
	}
}

func (r *Room) slot(name string) *game.PlayerSlot {
	for _, s := range r.players {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func (r *Room) playerNames() []string {
	names := make([]string, len(r.players))
	for i, s := range r.players {
		names[i] = s.Name
	}
	return names
}

// notify broadcasts an unsequenced room notification. excludePlayers are
// skipped both on the wire and in recovery queues: a notice about a
// player is never destined for that player.
func (r *Room) notify(event string, data map[string]any, excludePlayers ...string) {
	skipConns := make([]string, 0, len(excludePlayers))
	skip := make(map[string]bool, len(excludePlayers))
	for _, p := range excludePlayers {
		skip[p] = true
		if c := r.conns.PlayerConn(r.id, p); c != nil {
			skipConns = append(skipConns, c.ID)
		}
	}
	r.conns.Broadcast(r.ctx, r.id, event, data, skipConns...)
	for _, p := range r.rec.DisconnectedPlayers() {
		if skip[p] {
			continue
		}
		r.rec.Enqueue(p, recovery.QueuedMessage{
			Event:     event,
			Payload:   eventlog.CloneMap(data),
			Sequence:  r.machine.Sequence(),
			Timestamp: time.Now().UTC(),
		})
	}
}

// broadcaster adapts the room to phase.Broadcaster: live connections get
// the payload through the connection manager, disconnected players get it
// queued. Called synchronously from inside machine mutations, on the loop.
type broadcaster struct {
	room *Room
}

func (b *broadcaster) Broadcast(event string, payload map[string]any, critical bool) {
	r := b.room
	r.conns.Broadcast(r.ctx, r.id, event, payload)

	seq, _ := payload["sequence_number"].(uint64)
	for _, p := range r.rec.DisconnectedPlayers() {
		r.rec.Enqueue(p, recovery.QueuedMessage{
			Event:     event,
			Payload:   eventlog.CloneMap(payload),
			Sequence:  seq,
			Critical:  critical,
			Timestamp: time.Now().UTC(),
		})
	}
}

// sendError answers one client with a validation error; never broadcast.
func (r *Room) sendError(c *conn.Conn, code string, err error) {
	if c == nil {
		return
	}
	_ = r.conns.SendTo(r.ctx, c, types.EventError, types.ErrorData{
		Code:    code,
		Message: err.Error(),
	})
}

func (r *Room) schedule(kind timerKind, d time.Duration) {
	r.stopTimer()
	r.timerGen++
	gen := r.timerGen
	r.timer = time.AfterFunc(d, func() {
		select {
		case r.inbox <- timerFired{gen: gen, kind: kind}:
		case <-r.ctx.Done():
		}
	})
}

func (r *Room) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerGen++
}

func (r *Room) handleTimer(t timerFired) {
	if t.gen != r.timerGen {
		return // stale fire from a cancelled schedule
	}
	r.timer = nil
	switch t.kind {
	case timerBotMove:
		r.runBotMove()
	case timerAdvanceResults:
		r.advanceFromResults()
	}
}
