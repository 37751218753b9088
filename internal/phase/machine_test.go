package phase

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"cardroom/internal/eventlog"
	"cardroom/internal/game"
)

type captureBroadcaster struct {
	events   []string
	payloads []map[string]any
	critical []bool
}

func (b *captureBroadcaster) Broadcast(event string, payload map[string]any, critical bool) {
	b.events = append(b.events, event)
	b.payloads = append(b.payloads, payload)
	b.critical = append(b.critical, critical)
}

func newTestMachine(t *testing.T) (*Machine, *eventlog.Log, *captureBroadcaster) {
	t.Helper()
	elog := eventlog.New(nil, nil)
	bc := &captureBroadcaster{}
	return NewMachine("r1", elog, bc, nil), elog, bc
}

func TestMachineStartsWaitingAtSequenceZero(t *testing.T) {
	m, _, _ := newTestMachine(t)
	if m.Phase() != game.PhaseWaiting {
		t.Fatalf("phase = %s, want waiting", m.Phase())
	}
	if m.Sequence() != 0 {
		t.Fatalf("sequence = %d, want 0", m.Sequence())
	}
}

func TestUpdateMergesLogsAndBroadcasts(t *testing.T) {
	m, elog, bc := newTestMachine(t)

	if err := m.Update(map[string]any{"round": 1}, "round setup"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if m.Sequence() != 1 {
		t.Fatalf("sequence = %d, want 1", m.Sequence())
	}
	if v, _ := m.Get("round"); v != 1 {
		t.Fatalf("round = %v", v)
	}

	events := elog.EventsSince("r1", 0)
	if len(events) != 1 || events[0].Type != eventlog.TypeDataUpdated {
		t.Fatalf("log = %+v", events)
	}
	if events[0].Payload["reason"] != "round setup" {
		t.Fatalf("logged reason = %v", events[0].Payload["reason"])
	}

	if len(bc.events) != 1 || bc.events[0] != "phase_change" {
		t.Fatalf("broadcasts = %v", bc.events)
	}
	if got := bc.payloads[0]["sequence_number"]; got != uint64(1) {
		t.Fatalf("broadcast sequence = %v", got)
	}
	if bc.critical[0] {
		t.Fatalf("data snapshots are superseded by later ones; they must not be critical")
	}
}

func TestOnlyTransitionsAreCritical(t *testing.T) {
	m, _, bc := newTestMachine(t)

	must(t, m.TransitionTo(game.PhasePreparation, "start"))
	must(t, m.Update(map[string]any{"round": 1}, "dealt"))
	must(t, m.Update(map[string]any{"round": 2}, "dealt again"))

	want := []bool{true, false, false}
	for i, c := range bc.critical {
		if c != want[i] {
			t.Fatalf("broadcast %d critical=%v, want %v", i, c, want[i])
		}
	}
}

func TestUpdateLogsBeforeAfterDiff(t *testing.T) {
	m, elog, _ := newTestMachine(t)

	must(t, m.Update(map[string]any{"turn": 1}, "first"))
	must(t, m.Update(map[string]any{"turn": 2}, "second"))

	events := elog.EventsSince("r1", 1)
	payload := events[0].Payload
	diff, _ := payload["diff"].(map[string]any)
	before, _ := payload["before"].(map[string]any)
	if diff["turn"] != 2 {
		t.Fatalf("diff = %v", diff)
	}
	if before["turn"] != 1 {
		t.Fatalf("before = %v", before)
	}
}

func TestTransitionClearsDataAndRejectsIllegalEdges(t *testing.T) {
	m, _, _ := newTestMachine(t)

	must(t, m.Update(map[string]any{"lobby_note": "hi"}, "note"))
	if err := m.TransitionTo(game.PhaseTurn, "skip ahead"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
	// Rejected transition must not mutate anything.
	if m.Phase() != game.PhaseWaiting || m.Sequence() != 1 {
		t.Fatalf("rejected transition mutated state: %s seq %d", m.Phase(), m.Sequence())
	}

	must(t, m.TransitionTo(game.PhasePreparation, "start"))
	if m.Phase() != game.PhasePreparation {
		t.Fatalf("phase = %s", m.Phase())
	}
	if _, ok := m.Get("lobby_note"); ok {
		t.Fatalf("transition should clear phase data")
	}
	if m.Sequence() != 2 {
		t.Fatalf("transition should consume one sequence number, got %d", m.Sequence())
	}
}

func TestErrorReachableFromAnyPhase(t *testing.T) {
	m, _, _ := newTestMachine(t)

	must(t, m.TransitionTo(game.PhaseError, "operator test"))
	if m.Phase() != game.PhaseError {
		t.Fatalf("phase = %s", m.Phase())
	}
	if err := m.Update(map[string]any{"x": 1}, "after death"); !errors.Is(err, ErrRoomFailed) {
		t.Fatalf("got %v, want ErrRoomFailed", err)
	}
	if err := m.TransitionTo(game.PhaseWaiting, "resurrect"); !errors.Is(err, ErrRoomFailed) {
		t.Fatalf("got %v, want ErrRoomFailed", err)
	}
}

func TestProcessActionPermissionTable(t *testing.T) {
	m, _, _ := newTestMachine(t)

	applied := false
	err := m.ProcessAction(game.Action{Type: game.ActionPlay, Player: "p1"}, func() error {
		applied = true
		return nil
	})
	if !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("got %v, want ErrInvalidAction", err)
	}
	if applied {
		t.Fatalf("apply ran for a disallowed action")
	}
	if m.Sequence() != 0 {
		t.Fatalf("rejected action mutated state")
	}

	err = m.ProcessAction(game.Action{Type: game.ActionStartGame, Player: "p1"}, func() error {
		applied = true
		return nil
	})
	if err != nil || !applied {
		t.Fatalf("allowed action did not run: %v", err)
	}
}

func TestSequenceIsGaplessAcrossManyMutations(t *testing.T) {
	m, elog, _ := newTestMachine(t)

	must(t, m.TransitionTo(game.PhasePreparation, "start"))
	for i := 0; i < 50; i++ {
		must(t, m.Update(map[string]any{"tick": i}, "tick"))
	}
	if m.Sequence() != 51 {
		t.Fatalf("sequence = %d, want 51", m.Sequence())
	}
	if ok, gaps := elog.ValidateSequence("r1"); !ok {
		t.Fatalf("gaps: %v", gaps)
	}
}

func TestReplayMatchesLiveStateForEveryPrefix(t *testing.T) {
	m, elog, _ := newTestMachine(t)

	type liveSnap struct {
		Phase game.Phase
		Data  map[string]any
	}
	snaps := map[uint64]liveSnap{}
	record := func() {
		snaps[m.Sequence()] = liveSnap{Phase: m.Phase(), Data: m.Data()}
	}

	must(t, m.TransitionTo(game.PhasePreparation, "start"))
	record()
	must(t, m.Update(map[string]any{"round": 1, "hands": map[string][]string{"p1": {"4", "9"}}}, "deal"))
	record()
	must(t, m.TransitionTo(game.PhaseRoundStart, "dealt"))
	record()
	must(t, m.TransitionTo(game.PhaseDeclaration, "declare"))
	record()
	must(t, m.Update(map[string]any{"declarations": map[string]int{"p1": 3}}, "p1 declares"))
	record()
	must(t, m.Update(map[string]any{"declarations": map[string]int{"p1": 3, "p2": 1}}, "p2 declares"))
	record()

	for seq, want := range snaps {
		got, err := elog.ReplayTo("r1", seq)
		if err != nil {
			t.Fatalf("replay to %d: %v", seq, err)
		}
		if got.Phase != want.Phase {
			t.Fatalf("seq %d: replay phase %s, live %s", seq, got.Phase, want.Phase)
		}
		a, _ := json.Marshal(got.Data)
		b, _ := json.Marshal(want.Data)
		if string(a) != string(b) {
			t.Fatalf("seq %d: replay data %s, live %s", seq, a, b)
		}
	}
}

func TestHistoryRingIsBounded(t *testing.T) {
	m, _, _ := newTestMachine(t)

	for i := 0; i < historySize+10; i++ {
		must(t, m.Update(map[string]any{"i": i}, fmt.Sprintf("tick %d", i)))
	}
	h := m.History()
	if len(h) != historySize {
		t.Fatalf("history length = %d, want %d", len(h), historySize)
	}
	if h[0].Sequence != 11 || h[len(h)-1].Sequence != uint64(historySize+10) {
		t.Fatalf("history window [%d..%d]", h[0].Sequence, h[len(h)-1].Sequence)
	}
}

func TestFailEntersErrorAndBroadcasts(t *testing.T) {
	m, _, bc := newTestMachine(t)

	m.Fail("sequence gap detected")
	if m.Phase() != game.PhaseError || !m.Failed() {
		t.Fatalf("machine not failed: %s", m.Phase())
	}
	last := bc.payloads[len(bc.payloads)-1]
	if last["phase"] != string(game.PhaseError) {
		t.Fatalf("clients were not told about the error phase: %v", last)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
