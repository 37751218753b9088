package game

// Phase is the canonical room lifecycle state. It is the fine-grained
// variant; external consumers that only care about the broad stage can
// use Coarse.
type Phase string

const (
	PhaseWaiting     Phase = "waiting"
	PhasePreparation Phase = "preparation"
	PhaseRoundStart  Phase = "round_start"
	PhaseDeclaration Phase = "declaration"
	PhaseTurn        Phase = "turn"
	PhaseTurnResults Phase = "turn_results"
	PhaseScoring     Phase = "scoring"
	PhaseRoundEnd    Phase = "round_end"
	PhaseGameOver    Phase = "game_over"

	// PhaseError is terminal for the room: an invariant was violated and
	// the room refuses further mutations until an operator steps in.
	PhaseError Phase = "error"
)

// CoarsePhase is the 6-state external view of a room's lifecycle.
type CoarsePhase string

const (
	CoarseWaiting     CoarsePhase = "waiting"
	CoarsePreparation CoarsePhase = "preparation"
	CoarseDeclaration CoarsePhase = "declaration"
	CoarseTurn        CoarsePhase = "turn"
	CoarseScoring     CoarsePhase = "scoring"
	CoarseGameOver    CoarsePhase = "game_over"
)

var coarseOf = map[Phase]CoarsePhase{
	PhaseWaiting:     CoarseWaiting,
	PhasePreparation: CoarsePreparation,
	PhaseRoundStart:  CoarsePreparation,
	PhaseDeclaration: CoarseDeclaration,
	PhaseTurn:        CoarseTurn,
	PhaseTurnResults: CoarseTurn,
	PhaseScoring:     CoarseScoring,
	PhaseRoundEnd:    CoarseScoring,
	PhaseGameOver:    CoarseGameOver,
	PhaseError:       CoarseGameOver,
}

// Coarse collapses the fine-grained phase into the 6-state view.
// PhaseError maps to CoarseGameOver: both are terminal for clients.
func (p Phase) Coarse() CoarsePhase {
	return coarseOf[p]
}

// Valid reports whether p is one of the canonical phases.
func (p Phase) Valid() bool {
	_, ok := coarseOf[p]
	return ok
}

// Terminal reports whether no further game progress is possible from p.
func (p Phase) Terminal() bool {
	return p == PhaseGameOver || p == PhaseError
}
