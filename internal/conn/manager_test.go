package conn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cardroom/pkg/types"
)

type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
	fail error
}

func (s *fakeSender) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, payload)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSender) last(t *testing.T) types.ServerMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatalf("no messages sent")
	}
	var msg types.ServerMessage
	if err := json.Unmarshal(s.sent[len(s.sent)-1], &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestBroadcastReachesAllConnections(t *testing.T) {
	m := NewManager(time.Second, nil)
	senders := make([]*fakeSender, 4)
	for i := range senders {
		senders[i] = &fakeSender{}
		m.Activate(m.Connect("r1", "", senders[i]))
	}

	m.Broadcast(context.Background(), "r1", "phase_change", map[string]any{"phase": "turn"})

	for i, s := range senders {
		if s.count() != 1 {
			t.Fatalf("sender %d got %d messages, want 1", i, s.count())
		}
		if msg := s.last(t); msg.Event != "phase_change" {
			t.Fatalf("sender %d got event %q", i, msg.Event)
		}
	}
}

func TestBroadcastExcludes(t *testing.T) {
	m := NewManager(time.Second, nil)
	a := &fakeSender{}
	b := &fakeSender{}
	ca := m.Connect("r1", "p1", a)
	m.Activate(ca)
	m.Activate(m.Connect("r1", "p2", b))

	m.Broadcast(context.Background(), "r1", "ev", nil, ca.ID)

	if a.count() != 0 {
		t.Fatalf("excluded connection received broadcast")
	}
	if b.count() != 1 {
		t.Fatalf("other connection missed broadcast")
	}
}

func TestBroadcastFailureDropsOnlyFailingConn(t *testing.T) {
	m := NewManager(time.Second, nil)

	var mu sync.Mutex
	var dropped []string
	done := make(chan struct{}, 1)
	m.SetDropHandler(func(c *Conn, reason error) {
		mu.Lock()
		dropped = append(dropped, c.Player)
		mu.Unlock()
		done <- struct{}{}
	})

	good := &fakeSender{}
	bad := &fakeSender{fail: errors.New("socket gone")}
	m.Activate(m.Connect("r1", "p1", good))
	m.Activate(m.Connect("r1", "p2", bad))

	m.Broadcast(context.Background(), "r1", "ev", nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("drop handler never called")
	}

	if good.count() != 1 {
		t.Fatalf("healthy connection should still receive the broadcast")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(dropped) != 1 || dropped[0] != "p2" {
		t.Fatalf("dropped = %v, want [p2]", dropped)
	}
	if len(m.Connections("r1")) != 1 {
		t.Fatalf("failing connection should be removed from the room")
	}
}

func TestBroadcastSkipsInactiveConnections(t *testing.T) {
	m := NewManager(time.Second, nil)
	pending := &fakeSender{}
	live := &fakeSender{}
	cp := m.Connect("r1", "p1", pending)
	m.Activate(m.Connect("r1", "p2", live))

	m.Broadcast(context.Background(), "r1", "ev", nil)
	if pending.count() != 0 {
		t.Fatalf("inactive connection received a broadcast")
	}
	if live.count() != 1 {
		t.Fatalf("active connection missed the broadcast")
	}

	// Unicast still reaches a pending connection.
	if err := m.SendTo(context.Background(), cp, "ev", nil); err != nil {
		t.Fatalf("unicast to pending: %v", err)
	}
	if pending.count() != 1 {
		t.Fatalf("pending connection missed unicast")
	}

	m.Activate(cp)
	m.Broadcast(context.Background(), "r1", "ev", nil)
	if pending.count() != 2 {
		t.Fatalf("activated connection still skipped")
	}
}

func TestConnectReplacesStalePlayerConnection(t *testing.T) {
	m := NewManager(time.Second, nil)
	old := &fakeSender{}
	fresh := &fakeSender{}
	m.Connect("r1", "p1", old)
	c2 := m.Connect("r1", "p1", fresh)

	if got := m.PlayerConn("r1", "p1"); got != c2 {
		t.Fatalf("player map should point at the newest connection")
	}
	if n := len(m.Connections("r1")); n != 1 {
		t.Fatalf("room has %d connections, want 1", n)
	}
}

func TestSendToPlayer(t *testing.T) {
	m := NewManager(time.Second, nil)
	s := &fakeSender{}
	m.Connect("r1", "p1", s)

	if err := m.SendToPlayer(context.Background(), "r1", "p1", "pong", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if s.count() != 1 {
		t.Fatalf("player never received unicast")
	}
	if err := m.SendToPlayer(context.Background(), "r1", "ghost", "pong", nil); !errors.Is(err, ErrNoConnection) {
		t.Fatalf("got %v, want ErrNoConnection", err)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	m := NewManager(time.Second, nil)
	c := m.Connect("r1", "p1", &fakeSender{})

	m.Disconnect(c)
	m.Disconnect(c)

	if len(m.Connections("r1")) != 0 {
		t.Fatalf("connection still registered")
	}
	if m.PlayerConn("r1", "p1") != nil {
		t.Fatalf("player mapping still registered")
	}
}

func TestDropSkipsHandlerForUnknownConn(t *testing.T) {
	m := NewManager(time.Second, nil)
	called := make(chan struct{}, 1)
	m.SetDropHandler(func(c *Conn, reason error) { called <- struct{}{} })

	c := m.Connect("r1", "p1", &fakeSender{})
	m.Disconnect(c)
	m.Drop(c, errors.New("late"))

	select {
	case <-called:
		t.Fatalf("drop handler fired for an already-removed connection")
	case <-time.After(100 * time.Millisecond):
	}
}
