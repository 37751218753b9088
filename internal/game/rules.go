package game

// The orchestrator sequences *when* rule checks run and what happens to
// phase and data afterwards; the checks themselves live behind these
// interfaces.

// RulesEngine decides which cards exist, which plays are legal and who
// wins a turn.
type RulesEngine interface {
	// DealHands produces one hand per player name. Called at the start of
	// every round, and again after an accepted redeal.
	DealHands(players []string) map[string][]string

	// OfferRedeal reports whether a freshly dealt hand qualifies for a
	// redeal offer.
	OfferRedeal(hand []string) bool

	// ValidateDeclaration checks one player's declared pile count.
	// declared is the value being declared, total the sum of declarations
	// so far, remaining the number of players still to declare.
	ValidateDeclaration(player string, declared, total, remaining int) error

	// ValidatePlay checks the cards a player wants to put down against
	// their current hand and the plays already on the table.
	ValidatePlay(player string, cards []string, hand []string, table map[string][]string) error

	// ResolveTurn picks the winner among the plays on the table. order is
	// the seat order starting from the turn's leader.
	ResolveTurn(table map[string][]string, order []string) string
}

// ScoringService turns a finished round into score deltas.
type ScoringService interface {
	CalculateRoundScores(declarations map[string]int, captured map[string]int) map[string]int
}

// BotStrategy decides for a bot-driven seat. state is the room's current
// phase data snapshot; implementations must treat it as read-only.
type BotStrategy interface {
	DecideAction(player string, hand []string, state map[string]any) Action
}
