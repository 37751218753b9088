package router

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"cardroom/internal/conn"
	"cardroom/internal/game"
	"cardroom/internal/hub"
	"cardroom/internal/room"
	"cardroom/pkg/types"
)

// Router turns raw inbound frames into room messages. Malformed or
// unknown frames are answered on the offending connection only; they
// never reach a room.
type Router struct {
	hub   *hub.Hub
	conns *conn.Manager
	log   *zap.Logger
}

func New(h *hub.Hub, cm *conn.Manager, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{hub: h, conns: cm, log: logger.Named("router")}
}

var actionEvents = map[string]game.ActionType{
	"start_game":     game.ActionStartGame,
	"declare":        game.ActionDeclare,
	"play":           game.ActionPlay,
	"accept_redeal":  game.ActionAcceptRedeal,
	"decline_redeal": game.ActionDeclineRedeal,
	"leave_room":     game.ActionLeaveRoom,
	"ping":           game.ActionPing,
}

// Dispatch routes one inbound frame from c.
func (rt *Router) Dispatch(ctx context.Context, c *conn.Conn, raw []byte) {
	var msg types.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Event == "" {
		rt.sendError(ctx, c, "invalid_message", "frame is not a valid message envelope")
		return
	}

	switch {
	case msg.Event == "join_room":
		rt.join(ctx, c)

	case msg.Event == "add_bot":
		rt.addBot(ctx, c, msg.Data)

	default:
		typ, ok := actionEvents[msg.Event]
		if !ok {
			rt.sendError(ctx, c, "unknown_event", "unknown event "+msg.Event)
			return
		}
		rt.action(ctx, c, typ, msg.Data)
	}
}

// Join seats c.Player in the room named at connect time. The room
// replies synchronously so the client gets a definite verdict.
func (rt *Router) join(ctx context.Context, c *conn.Conn) {
	r, err := rt.hub.Get(ctx, c.RoomID)
	if err != nil || r == nil {
		rt.sendError(ctx, c, "room_not_found", "room "+c.RoomID+" does not exist")
		return
	}

	reply := make(chan error, 1)
	if err := r.Send(ctx, room.Join{Player: c.Player, Conn: c, Reply: reply}); err != nil {
		rt.sendError(ctx, c, joinErrorCode(err), err.Error())
		return
	}
	select {
	case err := <-reply:
		if err != nil {
			rt.sendError(ctx, c, joinErrorCode(err), err.Error())
		}
	case <-ctx.Done():
	}
}

func (rt *Router) addBot(ctx context.Context, c *conn.Conn, data json.RawMessage) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Name == "" {
		rt.sendError(ctx, c, "invalid_message", "add_bot needs a name")
		return
	}

	r, err := rt.hub.Get(ctx, c.RoomID)
	if err != nil || r == nil {
		rt.sendError(ctx, c, "room_not_found", "room "+c.RoomID+" does not exist")
		return
	}

	reply := make(chan error, 1)
	if err := r.Send(ctx, room.AddBot{Name: body.Name, Reply: reply}); err != nil {
		rt.sendError(ctx, c, joinErrorCode(err), err.Error())
		return
	}
	select {
	case err := <-reply:
		if err != nil {
			rt.sendError(ctx, c, joinErrorCode(err), err.Error())
		}
	case <-ctx.Done():
	}
}

func (rt *Router) action(ctx context.Context, c *conn.Conn, typ game.ActionType, data json.RawMessage) {
	var payload map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			rt.sendError(ctx, c, "invalid_message", "payload is not an object")
			return
		}
	}

	r, err := rt.hub.Get(ctx, c.RoomID)
	if err != nil || r == nil {
		rt.sendError(ctx, c, "room_not_found", "room "+c.RoomID+" does not exist")
		return
	}

	err = r.Send(ctx, room.ClientAction{
		Conn:   c,
		Action: game.Action{Type: typ, Player: c.Player, Payload: payload},
	})
	if err != nil {
		rt.sendError(ctx, c, "room_closed", err.Error())
	}
}

func joinErrorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomFull):
		return "room_full"
	case errors.Is(err, room.ErrGameInProgress):
		return "game_in_progress"
	case errors.Is(err, room.ErrDuplicatePlayer):
		return "duplicate_player"
	case errors.Is(err, room.ErrRoomDestroyed):
		return "room_closed"
	default:
		return "join_failed"
	}
}

func (rt *Router) sendError(ctx context.Context, c *conn.Conn, code, message string) {
	err := rt.conns.SendTo(ctx, c, types.EventError, types.ErrorData{Code: code, Message: message})
	if err != nil {
		rt.log.Debug("error reply undeliverable",
			zap.String("player", c.Player), zap.Error(err))
	}
}
