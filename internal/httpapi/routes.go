package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"cardroom/internal/conn"
	"cardroom/internal/router"
	"cardroom/internal/ws"
)

func (s *Server) Routes(cm *conn.Manager, rt *router.Router) http.Handler {
	r := chi.NewRouter()

	r.Post("/rooms", s.createRoom)
	r.Get("/rooms/{id}", s.getRoom)
	r.Delete("/rooms/{id}", s.deleteRoom)
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(s.Hub, cm, rt, s.Log))

	// Debug surface over the event log.
	r.Get("/rooms/{id}/events", s.roomEvents)
	r.Get("/rooms/{id}/replay", s.roomReplay)
	r.Get("/rooms/{id}/sequence", s.roomSequence)

	return r
}
