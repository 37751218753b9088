package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"cardroom/internal/conn"
	"cardroom/internal/hub"
	"cardroom/internal/router"
)

const readTimeout = 90 * time.Second

// Handler upgrades GET /ws?room=R1&player=alice to a WebSocket and
// pumps frames into the router until the socket dies. Registration with
// the connection manager happens before the first frame is read, so a
// reconnecting player's replacement socket is visible to the room the
// moment it joins.
func Handler(h *hub.Hub, cm *conn.Manager, rt *router.Router, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("room")
		player := r.URL.Query().Get("player")
		if roomID == "" || player == "" {
			http.Error(w, "missing room or player", http.StatusBadRequest)
			return
		}

		rm, err := h.Get(r.Context(), roomID)
		if err != nil || rm == nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		sock, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer sock.Close(websocket.StatusNormalClosure, "bye")

		c := cm.Connect(roomID, player, &sender{sock: sock})
		log.Info("socket connected",
			zap.String("room", roomID),
			zap.String("player", player),
			zap.String("conn", c.ID))

		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := sock.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					cm.Drop(c, nil)
				default:
					cm.Drop(c, err)
				}
				log.Info("socket closed",
					zap.String("room", roomID),
					zap.String("player", player),
					zap.Error(err))
				return
			}
			rt.Dispatch(r.Context(), c, data)
		}
	}
}

// sender adapts a websocket connection to the connection manager's
// Sender. The manager supplies the per-send deadline.
type sender struct {
	sock *websocket.Conn
}

func (s *sender) Send(ctx context.Context, payload []byte) error {
	return s.sock.Write(ctx, websocket.MessageText, payload)
}
