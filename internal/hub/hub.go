package hub

import (
	"context"

	"go.uber.org/zap"

	"cardroom/internal/room"
)

type Msg interface{ isHubMsg() }

type CreateRoom struct {
	ID    string
	Reply chan *room.Room
}

type GetRoom struct {
	ID    string
	Reply chan *room.Room
}

// EnsureRoom returns the room, creating it if needed.
type EnsureRoom struct {
	ID    string
	Reply chan *room.Room
}

type RemoveRoom struct {
	ID string
}

type Shutdown struct{}

func (CreateRoom) isHubMsg() {}
func (GetRoom) isHubMsg()    {}
func (EnsureRoom) isHubMsg() {}
func (RemoveRoom) isHubMsg() {}
func (Shutdown) isHubMsg()   {}

// Template carries everything a new room needs except its ID. The hub
// stamps the ID and the OnClosed hook on top.
type Template struct {
	Base   room.Config
	Logger *zap.Logger
}

// Hub owns the room registry. A single goroutine serializes creation,
// lookup and removal, so two racing creates for the same ID always
// yield the same room.
type Hub struct {
	inbox  chan Msg
	rooms  map[string]*room.Room
	tmpl   Template
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

func New(parent context.Context, tmpl Template) *Hub {
	if tmpl.Logger == nil {
		tmpl.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan Msg, 64),
		rooms:  make(map[string]*room.Room),
		tmpl:   tmpl,
		ctx:    ctx,
		cancel: cancel,
		log:    tmpl.Logger.Named("hub"),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- Msg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

// Create returns the room for id, creating it if absent.
func (h *Hub) Create(ctx context.Context, id string) (*room.Room, error) {
	return h.roundTrip(ctx, func(reply chan *room.Room) Msg {
		return CreateRoom{ID: id, Reply: reply}
	})
}

// Get returns the room for id, or nil without error if it does not exist.
func (h *Hub) Get(ctx context.Context, id string) (*room.Room, error) {
	return h.roundTrip(ctx, func(reply chan *room.Room) Msg {
		return GetRoom{ID: id, Reply: reply}
	})
}

// Ensure returns the room for id, creating it if needed.
func (h *Hub) Ensure(ctx context.Context, id string) (*room.Room, error) {
	return h.roundTrip(ctx, func(reply chan *room.Room) Msg {
		return EnsureRoom{ID: id, Reply: reply}
	})
}

func (h *Hub) roundTrip(ctx context.Context, build func(chan *room.Room) Msg) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	select {
	case h.inbox <- build(reply):
	case <-h.ctx.Done():
		return nil, h.ctx.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-h.ctx.Done():
		return nil, h.ctx.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				msg.Reply <- h.ensure(msg.ID)

			case GetRoom:
				msg.Reply <- h.rooms[msg.ID] // may be nil

			case EnsureRoom:
				msg.Reply <- h.ensure(msg.ID)

			case RemoveRoom:
				delete(h.rooms, msg.ID)
				h.log.Info("room removed", zap.String("room", msg.ID))

			case Shutdown:
				h.cancel()
			}
		}
	}
}

func (h *Hub) ensure(id string) *room.Room {
	if r := h.rooms[id]; r != nil {
		return r
	}
	cfg := h.tmpl.Base
	cfg.ID = id
	cfg.Logger = h.tmpl.Logger
	cfg.OnClosed = func(closedID string) {
		// Runs on the room goroutine; never block on the hub shutting down.
		select {
		case h.inbox <- RemoveRoom{ID: closedID}:
		case <-h.ctx.Done():
		}
	}
	r := room.New(h.ctx, cfg)
	h.rooms[id] = r
	h.log.Info("room created", zap.String("room", id))
	return r
}

func (h *Hub) shutdown() {
	for _, r := range h.rooms {
		select {
		case r.Inbox() <- room.Teardown{}:
		case <-r.Done():
		}
	}
	clear(h.rooms)
}
