// Package conn tracks live client connections per room and per player
// and fans out broadcasts. It is the only component that touches sockets
// directly; everything above it deals in events and payloads.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cardroom/pkg/types"
)

var ErrNoConnection = errors.New("no such connection")

const DefaultSendTimeout = 3 * time.Second

// Sender is the write half of a client socket. Send must respect the
// context deadline; the manager never waits longer than its send timeout
// on any single connection.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Conn is an ephemeral handle for one live socket, bound to exactly one
// room and at most one player. A fresh connection is registered but
// inactive: unicast sends reach it, broadcasts skip it until the room
// activates it. The room does that while seating or reconnecting the
// player, so a reconnect queue drain and the flip to live delivery
// happen as one step on the room loop, with no window where a message
// is both broadcast to the socket and queued for the player.
type Conn struct {
	ID     string
	RoomID string
	Player string

	sender Sender
	active atomic.Bool
}

// Active reports whether the connection receives broadcasts.
func (c *Conn) Active() bool { return c.active.Load() }

// DropFunc is called, in its own goroutine, whenever the manager removes
// a connection because a send failed or the socket closed.
type DropFunc func(c *Conn, reason error)

// Manager owns the room→connections and player→connection maps. All map
// mutation happens under its lock; no method blocks on socket I/O while
// holding it.
type Manager struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Conn
	players map[string]map[string]*Conn

	sendTimeout time.Duration
	onDrop      DropFunc
	log         *zap.Logger
}

func NewManager(sendTimeout time.Duration, logger *zap.Logger) *Manager {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		rooms:       make(map[string]map[string]*Conn),
		players:     make(map[string]map[string]*Conn),
		sendTimeout: sendTimeout,
		log:         logger,
	}
}

// SetDropHandler installs the hook that turns send failures into
// disconnection events. Set once during wiring, before traffic.
func (m *Manager) SetDropHandler(fn DropFunc) {
	m.onDrop = fn
}

// Connect registers a socket for a room, optionally bound to a player.
// A previous connection for the same player is dropped first: the newest
// socket wins.
func (m *Manager) Connect(roomID, player string, s Sender) *Conn {
	var stale *Conn

	m.mu.Lock()
	if player != "" {
		if prev := m.players[roomID][player]; prev != nil {
			stale = prev
			m.removeLocked(prev)
		}
	}
	c := &Conn{
		ID:     uuid.NewString(),
		RoomID: roomID,
		Player: player,
		sender: s,
	}
	if m.rooms[roomID] == nil {
		m.rooms[roomID] = make(map[string]*Conn)
	}
	m.rooms[roomID][c.ID] = c
	if player != "" {
		if m.players[roomID] == nil {
			m.players[roomID] = make(map[string]*Conn)
		}
		m.players[roomID][player] = c
	}
	m.mu.Unlock()

	if stale != nil {
		m.log.Info("replaced stale connection",
			zap.String("room_id", roomID),
			zap.String("player", player),
			zap.String("conn_id", stale.ID))
	}
	m.log.Debug("connection registered",
		zap.String("room_id", roomID),
		zap.String("player", player),
		zap.String("conn_id", c.ID))
	return c
}

// Activate opts the connection into broadcast fan-out. Called by the
// room once the player is seated or their queued backlog is drained.
func (m *Manager) Activate(c *Conn) {
	if c == nil {
		return
	}
	c.active.Store(true)
}

// Disconnect removes a connection without invoking the drop handler.
// Idempotent.
func (m *Manager) Disconnect(c *Conn) {
	if c == nil {
		return
	}
	m.mu.Lock()
	m.removeLocked(c)
	m.mu.Unlock()
}

// Drop removes a connection and reports the loss through the drop
// handler, asynchronously so callers inside a room loop never deadlock.
func (m *Manager) Drop(c *Conn, reason error) {
	if c == nil {
		return
	}
	m.mu.Lock()
	_, present := m.rooms[c.RoomID][c.ID]
	m.removeLocked(c)
	m.mu.Unlock()

	if !present {
		return
	}
	m.log.Info("connection dropped",
		zap.String("room_id", c.RoomID),
		zap.String("player", c.Player),
		zap.String("conn_id", c.ID),
		zap.Error(reason))
	if m.onDrop != nil {
		go m.onDrop(c, reason)
	}
}

func (m *Manager) removeLocked(c *Conn) {
	if conns := m.rooms[c.RoomID]; conns != nil {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(m.rooms, c.RoomID)
		}
	}
	if c.Player != "" {
		if players := m.players[c.RoomID]; players != nil && players[c.Player] == c {
			delete(players, c.Player)
			if len(players) == 0 {
				delete(m.players, c.RoomID)
			}
		}
	}
}

// Connections returns a snapshot of the room's live connections.
func (m *Manager) Connections(roomID string) []*Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Conn, 0, len(m.rooms[roomID]))
	for _, c := range m.rooms[roomID] {
		out = append(out, c)
	}
	return out
}

// PlayerConn returns the live connection bound to a player, or nil.
func (m *Manager) PlayerConn(roomID, player string) *Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.players[roomID][player]
}

// Broadcast fans an event out to every connection in the room except the
// excluded connection IDs. Each send gets its own short deadline; a
// failing connection is dropped and the fan-out moves on. Broadcast never
// returns an error: send failures become disconnection events instead.
func (m *Manager) Broadcast(ctx context.Context, roomID, event string, data any, exclude ...string) {
	payload, err := json.Marshal(types.ServerMessage{Event: event, Data: data})
	if err != nil {
		m.log.Error("broadcast marshal failed",
			zap.String("room_id", roomID),
			zap.String("event", event),
			zap.Error(err))
		return
	}

	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	for _, c := range m.Connections(roomID) {
		if skip[c.ID] || !c.Active() {
			continue
		}
		if err := m.send(ctx, c, payload); err != nil {
			m.Drop(c, err)
		}
	}
}

// SendTo delivers one message to a single connection. Unlike Broadcast,
// the failure is returned: callers addressing one client usually want to
// know. The connection is still dropped on failure.
func (m *Manager) SendTo(ctx context.Context, c *Conn, event string, data any) error {
	if c == nil {
		return ErrNoConnection
	}
	payload, err := json.Marshal(types.ServerMessage{Event: event, Data: data})
	if err != nil {
		return err
	}
	if err := m.send(ctx, c, payload); err != nil {
		m.Drop(c, err)
		return err
	}
	return nil
}

// SendToPlayer delivers one message to whichever connection currently
// belongs to the player.
func (m *Manager) SendToPlayer(ctx context.Context, roomID, player, event string, data any) error {
	c := m.PlayerConn(roomID, player)
	if c == nil {
		return ErrNoConnection
	}
	return m.SendTo(ctx, c, event, data)
}

func (m *Manager) send(ctx context.Context, c *Conn, payload []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()
	return c.sender.Send(sendCtx, payload)
}
