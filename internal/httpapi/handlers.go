package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"cardroom/internal/eventlog"
	"cardroom/internal/hub"
	"cardroom/internal/room"
)

// Server holds the HTTP surface's dependencies: room creation and
// lookup plus read-only access to the event log for the debug routes.
type Server struct {
	Hub    *hub.Hub
	Events *eventlog.Log
	Log    *zap.Logger
}

// Room ids are short enough to read aloud; uppercase-only keeps them
// unambiguous when typed back.
const roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const roomIDLength = 6

// GenerateCode returns a random room identifier.
func GenerateCode() (string, error) {
	id := make([]byte, roomIDLength)
	for i := range id {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomIDAlphabet))))
		if err != nil {
			return "", err
		}
		id[i] = roomIDAlphabet[n.Int64()]
	}
	return string(id), nil
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var id string
	for {
		c, err := GenerateCode()
		if err != nil {
			http.Error(w, "failed to generate room id", http.StatusInternalServerError)
			return
		}
		existing, err := s.Hub.Get(r.Context(), c)
		if err != nil {
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}
		if existing == nil {
			id = c
			break
		}
		s.Log.Warn("room id collision, regenerating", zap.String("room", c))
	}

	if _, err := s.Hub.Create(r.Context(), id); err != nil {
		http.Error(w, "failed to create room", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"room_id": id})
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	rm, ok := s.lookup(w, r)
	if !ok {
		return
	}

	reply := make(chan room.View, 1)
	if err := rm.Send(r.Context(), room.GetView{Reply: reply}); err != nil {
		http.Error(w, "room closed", http.StatusGone)
		return
	}
	select {
	case v := <-reply:
		players := make([]map[string]any, len(v.Players))
		for i, p := range v.Players {
			players[i] = map[string]any{
				"name":       p.Name,
				"conn_state": p.ConnState,
				"is_bot":     p.OriginalIsBot,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"room_id":         v.RoomID,
			"phase":           v.Phase,
			"sequence_number": v.Sequence,
			"players":         players,
			"disconnected":    v.Disconnected,
		})
	case <-r.Context().Done():
	}
}

func (s *Server) deleteRoom(w http.ResponseWriter, r *http.Request) {
	rm, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := rm.Send(r.Context(), room.Teardown{}); err != nil && !errors.Is(err, room.ErrRoomDestroyed) {
		http.Error(w, "teardown failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// roomEvents serves the append-only history, optionally from a client
// supplied sequence, for debugging and for clients that resync by
// catching up rather than reading a snapshot.
func (s *Server) roomEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	after := uint64(0)
	if q := r.URL.Query().Get("after"); q != "" {
		n, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			http.Error(w, "after must be a sequence number", http.StatusBadRequest)
			return
		}
		after = n
	}

	events := s.Events.EventsSince(id, after)
	if events == nil {
		events = []eventlog.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id": id,
		"after":   after,
		"events":  events,
	})
}

func (s *Server) roomReplay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, err := s.Events.Replay(id)
	if err != nil {
		if errors.Is(err, eventlog.ErrUnknownRoom) {
			http.Error(w, "no events for room", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":    id,
		"phase":      st.Phase,
		"phase_data": st.Data,
		"sequence":   s.Events.LastSequence(id),
	})
}

func (s *Server) roomSequence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, gaps := s.Events.ValidateSequence(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":  id,
		"sequence": s.Events.LastSequence(id),
		"gapless":  ok,
		"gaps":     gaps,
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*room.Room, bool) {
	id := chi.URLParam(r, "id")
	rm, err := s.Hub.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return nil, false
	}
	if rm == nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return nil, false
	}
	return rm, true
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
