package game

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strconv"
)

var ErrCardNotInHand = errors.New("card not in hand")
var ErrForbiddenSum = errors.New("declaration sum is forbidden")
var ErrBadDeclaration = errors.New("declaration out of range")

// DefaultRules is a stand-in rules engine: numeric cards, highest card
// wins, last declarer may not complete the forbidden sum. Real deployments
// swap in a game-specific engine.
type DefaultRules struct {
	DeckSize int
	HandSize int
	Rand     *rand.Rand
}

func NewDefaultRules(seed int64) *DefaultRules {
	return &DefaultRules{
		DeckSize: 32,
		HandSize: 8,
		Rand:     rand.New(rand.NewSource(seed)),
	}
}

func (r *DefaultRules) DealHands(players []string) map[string][]string {
	deck := make([]string, r.DeckSize)
	for i := range deck {
		deck[i] = strconv.Itoa(i + 1)
	}
	r.Rand.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })

	hands := make(map[string][]string, len(players))
	for i, p := range players {
		start := i * r.HandSize
		hands[p] = slices.Clone(deck[start : start+r.HandSize])
	}
	return hands
}

func (r *DefaultRules) OfferRedeal(hand []string) bool {
	// Weak hand: nothing above the deck's midpoint.
	for _, c := range hand {
		if v, err := strconv.Atoi(c); err == nil && v > r.DeckSize/2 {
			return false
		}
	}
	return true
}

func (r *DefaultRules) ValidateDeclaration(player string, declared, total, remaining int) error {
	if declared < 0 || declared > r.HandSize {
		return fmt.Errorf("%w: %d", ErrBadDeclaration, declared)
	}
	// The last declarer may not make declarations sum to a full round.
	if remaining == 1 && total+declared == r.HandSize {
		return ErrForbiddenSum
	}
	return nil
}

func (r *DefaultRules) ValidatePlay(player string, cards, hand []string, table map[string][]string) error {
	if len(cards) == 0 {
		return fmt.Errorf("%w: empty play", ErrCardNotInHand)
	}
	for _, c := range cards {
		if !slices.Contains(hand, c) {
			return fmt.Errorf("%w: %s", ErrCardNotInHand, c)
		}
	}
	return nil
}

func (r *DefaultRules) ResolveTurn(table map[string][]string, order []string) string {
	winner := ""
	best := -1
	for _, p := range order {
		for _, c := range table[p] {
			if v, err := strconv.Atoi(c); err == nil && v > best {
				best = v
				winner = p
			}
		}
	}
	return winner
}

// DefaultScoring scores captured-minus-declared, doubled on an exact hit.
type DefaultScoring struct{}

func (DefaultScoring) CalculateRoundScores(declarations, captured map[string]int) map[string]int {
	scores := make(map[string]int, len(declarations))
	for p, d := range declarations {
		got := captured[p]
		if got == d {
			scores[p] = d * 2
		} else {
			scores[p] = got - d
		}
	}
	return scores
}

// FirstCardBot plays the first card in hand and declares zero.
type FirstCardBot struct{}

func (FirstCardBot) DecideAction(player string, hand []string, state map[string]any) Action {
	phase, _ := state["phase"].(string)
	if Phase(phase) == PhaseDeclaration {
		return Action{Type: ActionDeclare, Player: player, Payload: map[string]any{"value": 0}}
	}
	if len(hand) == 0 {
		return Action{Type: ActionPing, Player: player}
	}
	return Action{
		Type:    ActionPlay,
		Player:  player,
		Payload: map[string]any{"cards": []any{hand[0]}},
	}
}
