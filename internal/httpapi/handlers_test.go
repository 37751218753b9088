package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"cardroom/internal/conn"
	"cardroom/internal/eventlog"
	"cardroom/internal/game"
	"cardroom/internal/hub"
	"cardroom/internal/room"
	"cardroom/internal/router"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	cm := conn.NewManager(time.Second, nil)
	elog := eventlog.New(nil, nil)
	h := hub.New(context.Background(), hub.Template{
		Base: room.Config{
			Conns:   cm,
			Events:  elog,
			Rules:   game.NewDefaultRules(1),
			Scoring: game.DefaultScoring{},
			Bots:    game.FirstCardBot{},
		},
	})
	t.Cleanup(func() { h.Inbox() <- hub.Shutdown{} })

	s := &Server{Hub: h, Events: elog, Log: zap.NewNop()}
	return s, s.Routes(cm, router.New(h, cm, nil))
}

func TestGenerateCodeShapeAndUniqueness(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Fatalf("too many collisions: %d unique of 50", len(seen))
	}
}

func TestCreateRoomThenFetchIt(t *testing.T) {
	_, routes := newTestServer(t)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rooms", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created struct {
		RoomID string `json:"room_id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(created.RoomID) != 6 {
		t.Fatalf("room_id = %q", created.RoomID)
	}

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/"+created.RoomID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got struct {
		Phase          string  `json:"phase"`
		SequenceNumber float64 `json:"sequence_number"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Phase != string(game.PhaseWaiting) || got.SequenceNumber != 0 {
		t.Fatalf("fresh room: phase=%s seq=%v", got.Phase, got.SequenceNumber)
	}
}

func TestGetUnknownRoomIs404(t *testing.T) {
	_, routes := newTestServer(t)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/NOPE11", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeleteRoomTearsItDown(t *testing.T) {
	s, routes := newTestServer(t)

	rm, err := s.Hub.Create(context.Background(), "KILLME")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/rooms/KILLME", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	select {
	case <-rm.Done():
	case <-time.After(time.Second):
		t.Fatalf("room not torn down")
	}
}

func TestRoomEventsEndpoint(t *testing.T) {
	s, routes := newTestServer(t)

	for i := 0; i < 3; i++ {
		_, err := s.Events.Append(context.Background(), eventlog.Event{
			RoomID: "LOGGED",
			Type:   eventlog.TypeDataUpdated,
			Payload: map[string]any{
				"diff":   map[string]any{"round": i + 1},
				"before": map[string]any{},
			},
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/LOGGED/events?after=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Events []eventlog.Event `json:"events"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Events) != 2 || got.Events[0].Sequence != 2 {
		t.Fatalf("events = %+v", got.Events)
	}
}

func TestRoomReplayEndpoint(t *testing.T) {
	s, routes := newTestServer(t)

	_, err := s.Events.Append(context.Background(), eventlog.Event{
		RoomID: "REPLAYED",
		Type:   eventlog.TypePhaseChanged,
		Payload: map[string]any{
			"from": string(game.PhaseWaiting),
			"to":   string(game.PhasePreparation),
		},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/REPLAYED/replay", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		Phase    string  `json:"phase"`
		Sequence float64 `json:"sequence"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Phase != string(game.PhasePreparation) || got.Sequence != 1 {
		t.Fatalf("replay = %+v", got)
	}

	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/EMPTY99/replay", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty replay status = %d", rec.Code)
	}
}

func TestBadAfterParamRejected(t *testing.T) {
	_, routes := newTestServer(t)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/X/events?after=banana", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	_, routes := newTestServer(t)

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
