package room

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"cardroom/internal/conn"
	"cardroom/internal/game"
	"cardroom/internal/phase"
	"cardroom/pkg/types"
)

var ErrNotEnoughPlayers = errors.New("not enough players to start")
var ErrNotYourTurn = fmt.Errorf("%w: not your turn", phase.ErrInvalidAction)
var ErrNotYourOffer = fmt.Errorf("%w: redeal offer is not yours", phase.ErrInvalidAction)

func (r *Room) handleJoin(msg Join) error {
	slot := r.slot(msg.Player)
	if slot == nil {
		return r.seatNewPlayer(msg)
	}
	if slot.OriginalIsBot {
		return ErrDuplicatePlayer
	}
	if r.rec.Disconnected(msg.Player) {
		return r.reconnectPlayer(slot, msg.Conn)
	}
	// Same player on a fresh socket; the connection manager already
	// replaced the stale one. Resync them.
	r.conns.Activate(msg.Conn)
	return r.conns.SendTo(r.ctx, msg.Conn, types.EventPhaseChange, r.machine.Snapshot())
}

func (r *Room) seatNewPlayer(msg Join) error {
	if r.machine.Phase() != game.PhaseWaiting {
		return ErrGameInProgress
	}
	if len(r.players) >= r.cfg.MaxPlayers {
		return ErrRoomFull
	}
	r.players = append(r.players, &game.PlayerSlot{
		Name:      msg.Player,
		ConnState: game.StateConnected,
	})
	r.conns.Activate(msg.Conn)
	r.log.Info("player joined", zap.String("player", msg.Player))
	r.notify("player_joined", map[string]any{
		"player":  msg.Player,
		"players": r.playerNames(),
	})
	return r.conns.SendTo(r.ctx, msg.Conn, types.EventPhaseChange, r.machine.Snapshot())
}

// reconnectPlayer swaps the seat back to human control and replays the
// queued messages, in order, exactly once, before anything else reaches
// the new socket. The socket joins broadcast fan-out only after the
// drain completes; until then every mutation lands in the queue, so no
// message is ever both broadcast live and drained.
func (r *Room) reconnectPlayer(slot *game.PlayerSlot, c *conn.Conn) error {
	missed, botDeactivated, err := r.rec.HandleReconnect(slot)
	if err != nil {
		return err
	}
	for _, m := range missed {
		if serr := r.conns.SendTo(r.ctx, c, m.Event, m.Payload); serr != nil {
			// The new socket died mid-drain; its ConnLost will restart
			// queuing. Undelivered messages are gone, which is the
			// at-most-once half of the exactly-once contract.
			r.log.Warn("queue drain interrupted",
				zap.String("player", slot.Name), zap.Error(serr))
			return serr
		}
	}
	r.conns.Activate(c)
	r.notify(types.EventPlayerReconnected, map[string]any{
		"player":  slot.Name,
		"players": r.playerNames(),
	})
	if botDeactivated {
		r.notify(types.EventBotDeactivated, map[string]any{"player": slot.Name})
	}
	r.log.Info("player reconnected",
		zap.String("player", slot.Name),
		zap.Int("missed", len(missed)))
	r.syncBotTimer()
	return nil
}

func (r *Room) handleAddBot(name string) error {
	if r.machine.Phase() != game.PhaseWaiting {
		return ErrGameInProgress
	}
	if r.slot(name) != nil {
		return ErrDuplicatePlayer
	}
	if len(r.players) >= r.cfg.MaxPlayers {
		return ErrRoomFull
	}
	r.players = append(r.players, &game.PlayerSlot{
		Name:          name,
		ConnState:     game.StateBotSubstituted,
		OriginalIsBot: true,
	})
	r.notify("player_joined", map[string]any{
		"player":  name,
		"players": r.playerNames(),
		"is_bot":  true,
	})
	return nil
}

func (r *Room) handleAction(c *conn.Conn, a game.Action) {
	if a.Type == game.ActionPing {
		if c != nil {
			_ = r.conns.SendTo(r.ctx, c, types.EventPong, map[string]any{
				"sequence_number": r.machine.Sequence(),
			})
		}
		return
	}
	if r.slot(a.Player) == nil {
		r.sendError(c, "unknown_player", ErrUnknownPlayer)
		return
	}
	if err := r.machine.ProcessAction(a, func() error { return r.applyAction(a) }); err != nil {
		r.sendError(c, errorCode(err), err)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, phase.ErrInvalidAction):
		return "invalid_action"
	case errors.Is(err, phase.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, phase.ErrRoomFailed):
		return "room_error"
	default:
		return "invalid_move"
	}
}

func (r *Room) applyAction(a game.Action) error {
	switch a.Type {
	case game.ActionStartGame:
		return r.handleStartGame(a)
	case game.ActionDeclare:
		return r.handleDeclare(a)
	case game.ActionPlay:
		return r.handlePlay(a)
	case game.ActionAcceptRedeal:
		return r.handleRedeal(a, true)
	case game.ActionDeclineRedeal:
		return r.handleRedeal(a, false)
	case game.ActionLeaveRoom:
		return r.handleLeave(a)
	default:
		return fmt.Errorf("%w: %s", phase.ErrInvalidAction, a.Type)
	}
}

func (r *Room) handleStartGame(a game.Action) error {
	if len(r.players) < r.cfg.MinPlayers {
		return fmt.Errorf("%w: have %d, need %d", ErrNotEnoughPlayers, len(r.players), r.cfg.MinPlayers)
	}
	if err := r.machine.TransitionTo(game.PhasePreparation, "game started by "+a.Player); err != nil {
		return err
	}
	scores := make(map[string]int, len(r.players))
	for _, name := range r.playerNames() {
		scores[name] = 0
	}
	return r.beginRound(1, scores)
}

// beginRound deals and either opens a redeal offer or moves on to the
// round proper. Caller has already put the machine in PREPARATION.
func (r *Room) beginRound(round int, scores map[string]int) error {
	names := r.playerNames()
	hands := r.cfg.Rules.DealHands(names)

	var candidates []string
	for _, name := range names {
		if r.cfg.Rules.OfferRedeal(hands[name]) {
			candidates = append(candidates, name)
		}
	}

	data := map[string]any{
		"round":   round,
		"players": names,
		"hands":   hands,
		"scores":  scores,
	}
	if len(candidates) > 0 {
		data["redeal_offer"] = candidates[0]
		data["redeal_candidates"] = candidates[1:]
		if err := r.machine.Update(data, "hands dealt, redeal offered"); err != nil {
			return err
		}
		r.syncBotTimer()
		return nil
	}
	if err := r.machine.Update(data, "hands dealt"); err != nil {
		return err
	}
	return r.enterRoundStart()
}

func (r *Room) handleRedeal(a game.Action, accepted bool) error {
	d := r.machine.Data()
	if toString(d["redeal_offer"]) != a.Player {
		return ErrNotYourOffer
	}
	if accepted {
		round := toInt(d["round"])
		scores := toIntMap(d["scores"])
		if err := r.machine.TransitionTo(game.PhasePreparation, "redeal accepted by "+a.Player); err != nil {
			return err
		}
		return r.beginRound(round, scores)
	}

	candidates := toStrings(d["redeal_candidates"])
	if len(candidates) > 0 {
		if err := r.machine.Update(map[string]any{
			"redeal_offer":      candidates[0],
			"redeal_candidates": candidates[1:],
		}, "redeal declined by "+a.Player); err != nil {
			return err
		}
		r.syncBotTimer()
		return nil
	}
	return r.enterRoundStart()
}

func (r *Room) enterRoundStart() error {
	carry := r.machine.Data()
	if err := r.machine.TransitionTo(game.PhaseRoundStart, "hands accepted"); err != nil {
		return err
	}
	round := toInt(carry["round"])
	names := toStrings(carry["players"])
	leader := names[(round-1)%len(names)]
	if err := r.machine.Update(map[string]any{
		"round":   round,
		"players": names,
		"hands":   carry["hands"],
		"scores":  carry["scores"],
		"leader":  leader,
	}, "round begins"); err != nil {
		return err
	}
	return r.enterDeclaration()
}

func (r *Room) enterDeclaration() error {
	carry := r.machine.Data()
	if err := r.machine.TransitionTo(game.PhaseDeclaration, "declarations open"); err != nil {
		return err
	}
	names := toStrings(carry["players"])
	leader := toString(carry["leader"])
	if err := r.machine.Update(map[string]any{
		"round":        carry["round"],
		"players":      names,
		"hands":        carry["hands"],
		"scores":       carry["scores"],
		"leader":       leader,
		"turn_index":   indexOf(names, leader),
		"declarations": map[string]int{},
	}, "declarations open"); err != nil {
		return err
	}
	r.syncBotTimer()
	return nil
}

func (r *Room) handleDeclare(a game.Action) error {
	d := r.machine.Data()
	names := toStrings(d["players"])
	if names[toInt(d["turn_index"])] != a.Player {
		return ErrNotYourTurn
	}
	value := toInt(a.Payload["value"])
	decls := toIntMap(d["declarations"])
	total := 0
	for _, v := range decls {
		total += v
	}
	remaining := len(names) - len(decls)
	if err := r.cfg.Rules.ValidateDeclaration(a.Player, value, total, remaining); err != nil {
		return err
	}

	decls[a.Player] = value
	next := (toInt(d["turn_index"]) + 1) % len(names)
	if err := r.machine.Update(map[string]any{
		"declarations": decls,
		"turn_index":   next,
	}, fmt.Sprintf("%s declared %d", a.Player, value)); err != nil {
		return err
	}

	if len(decls) == len(names) {
		return r.enterTurn(toString(d["leader"]))
	}
	r.syncBotTimer()
	return nil
}

func (r *Room) enterTurn(leader string) error {
	carry := r.machine.Data()
	if err := r.machine.TransitionTo(game.PhaseTurn, "turn begins"); err != nil {
		return err
	}
	names := toStrings(carry["players"])
	captured := toIntMap(carry["captured"])
	if captured == nil {
		captured = map[string]int{}
	}
	if err := r.machine.Update(map[string]any{
		"round":        carry["round"],
		"players":      names,
		"hands":        carry["hands"],
		"scores":       carry["scores"],
		"declarations": carry["declarations"],
		"captured":     captured,
		"leader":       leader,
		"turn_index":   indexOf(names, leader),
		"table":        map[string][]string{},
	}, "turn begins, "+leader+" leads"); err != nil {
		return err
	}
	r.syncBotTimer()
	return nil
}

func (r *Room) handlePlay(a game.Action) error {
	d := r.machine.Data()
	names := toStrings(d["players"])
	if names[toInt(d["turn_index"])] != a.Player {
		return ErrNotYourTurn
	}
	cards := toStrings(a.Payload["cards"])
	hands := toHands(d["hands"])
	table := toHands(d["table"])
	if err := r.cfg.Rules.ValidatePlay(a.Player, cards, hands[a.Player], table); err != nil {
		return err
	}

	hand := hands[a.Player]
	for _, c := range cards {
		if i := slices.Index(hand, c); i >= 0 {
			hand = slices.Delete(hand, i, i+1)
		}
	}
	hands[a.Player] = hand
	table[a.Player] = cards
	next := (toInt(d["turn_index"]) + 1) % len(names)

	if err := r.machine.Update(map[string]any{
		"hands":      hands,
		"table":      table,
		"turn_index": next,
	}, fmt.Sprintf("%s played %v", a.Player, cards)); err != nil {
		return err
	}

	if len(table) == len(names) {
		return r.enterTurnResults()
	}
	r.syncBotTimer()
	return nil
}

func (r *Room) enterTurnResults() error {
	carry := r.machine.Data()
	names := toStrings(carry["players"])
	table := toHands(carry["table"])
	order := rotatedFrom(names, toString(carry["leader"]))
	winner := r.cfg.Rules.ResolveTurn(table, order)

	captured := toIntMap(carry["captured"])
	if captured == nil {
		captured = map[string]int{}
	}
	captured[winner]++

	if err := r.machine.TransitionTo(game.PhaseTurnResults, "all plays in"); err != nil {
		return err
	}
	if err := r.machine.Update(map[string]any{
		"round":        carry["round"],
		"players":      names,
		"hands":        carry["hands"],
		"scores":       carry["scores"],
		"declarations": carry["declarations"],
		"captured":     captured,
		"table":        table,
		"winner":       winner,
	}, "turn won by "+winner); err != nil {
		return err
	}
	r.schedule(timerAdvanceResults, r.cfg.ResultsDelay)
	return nil
}

// advanceFromResults moves on once clients have had their look at the
// resolved turn: next turn while cards remain, scoring otherwise.
func (r *Room) advanceFromResults() {
	if r.machine.Phase() != game.PhaseTurnResults {
		return
	}
	d := r.machine.Data()
	hands := toHands(d["hands"])
	remaining := 0
	for _, h := range hands {
		remaining += len(h)
	}

	var err error
	if remaining > 0 {
		err = r.enterTurn(toString(d["winner"]))
	} else {
		err = r.enterScoring()
	}
	if err != nil {
		r.log.Error("advance from turn results failed", zap.Error(err))
	}
}

func (r *Room) enterScoring() error {
	carry := r.machine.Data()
	names := toStrings(carry["players"])
	decls := toIntMap(carry["declarations"])
	captured := toIntMap(carry["captured"])

	roundScores := r.cfg.Scoring.CalculateRoundScores(decls, captured)
	totals := toIntMap(carry["scores"])
	if totals == nil {
		totals = map[string]int{}
	}
	for p, s := range roundScores {
		totals[p] += s
	}

	if err := r.machine.TransitionTo(game.PhaseScoring, "round complete"); err != nil {
		return err
	}
	if err := r.machine.Update(map[string]any{
		"round":        carry["round"],
		"players":      names,
		"scores":       totals,
		"round_scores": roundScores,
		"declarations": decls,
		"captured":     captured,
	}, "round scores computed"); err != nil {
		return err
	}
	return r.enterRoundEnd()
}

func (r *Room) enterRoundEnd() error {
	carry := r.machine.Data()
	round := toInt(carry["round"])
	totals := toIntMap(carry["scores"])
	names := toStrings(carry["players"])

	if err := r.machine.TransitionTo(game.PhaseRoundEnd, "scores posted"); err != nil {
		return err
	}
	if err := r.machine.Update(map[string]any{
		"round":        round,
		"players":      names,
		"scores":       totals,
		"round_scores": carry["round_scores"],
	}, "round ended"); err != nil {
		return err
	}

	if round >= r.cfg.MaxRounds {
		return r.enterGameOver(names, totals)
	}
	if err := r.machine.TransitionTo(game.PhasePreparation, "next round"); err != nil {
		return err
	}
	return r.beginRound(round+1, totals)
}

func (r *Room) enterGameOver(names []string, totals map[string]int) error {
	winner := ""
	best := 0
	for _, name := range names {
		if winner == "" || totals[name] > best {
			winner = name
			best = totals[name]
		}
	}
	if err := r.machine.TransitionTo(game.PhaseGameOver, "all rounds played"); err != nil {
		return err
	}
	return r.machine.Update(map[string]any{
		"players":      names,
		"final_scores": totals,
		"game_winner":  winner,
	}, "game over, won by "+winner)
}

func (r *Room) handleLeave(a game.Action) error {
	slot := r.slot(a.Player)
	if slot == nil {
		return ErrUnknownPlayer
	}
	if c := r.conns.PlayerConn(r.id, a.Player); c != nil {
		r.conns.Disconnect(c)
	}

	if r.machine.Phase() == game.PhaseWaiting {
		r.players = slices.DeleteFunc(r.players, func(s *game.PlayerSlot) bool {
			return s.Name == a.Player
		})
		r.rec.Forget(a.Player)
		r.notify("player_left", map[string]any{
			"player":  a.Player,
			"players": r.playerNames(),
		}, a.Player)
		if len(r.players) == 0 {
			r.cancel()
		}
		return nil
	}

	// Mid-game leavers are handled like a disconnect: the bot takes over
	// so the game can finish.
	r.substituteFor(slot)
	return nil
}

func (r *Room) handleConnLost(c *conn.Conn) {
	if c == nil || c.Player == "" {
		return
	}
	slot := r.slot(c.Player)
	if slot == nil {
		return
	}
	// A fresh socket may have replaced this one already; the loss of the
	// old socket means nothing then.
	if r.conns.PlayerConn(r.id, c.Player) != nil {
		return
	}

	ph := r.machine.Phase()
	if ph == game.PhaseWaiting || ph.Terminal() {
		r.players = slices.DeleteFunc(r.players, func(s *game.PlayerSlot) bool {
			return s.Name == c.Player
		})
		r.rec.Forget(c.Player)
		r.notify("player_left", map[string]any{
			"player":  c.Player,
			"players": r.playerNames(),
		}, c.Player)
		if len(r.players) == 0 {
			r.cancel()
		}
		return
	}

	r.substituteFor(slot)
}

// substituteFor starts queuing for a player who lost their socket mid
// game and hands their seat to the bot.
func (r *Room) substituteFor(slot *game.PlayerSlot) {
	botActivated := r.rec.HandleDisconnect(slot)
	r.notify(types.EventPlayerDisconnected, map[string]any{"player": slot.Name}, slot.Name)
	if botActivated {
		r.notify(types.EventBotActivated, map[string]any{"player": slot.Name}, slot.Name)
	}
	r.syncBotTimer()
}

// syncBotTimer arms the bot-delay timer when the seat that must act next
// is bot-driven, and disarms any stale bot timer otherwise.
func (r *Room) syncBotTimer() {
	actor := r.pendingActor()
	if actor == "" {
		return
	}
	slot := r.slot(actor)
	if slot == nil || !slot.BotDriven() {
		return
	}
	r.schedule(timerBotMove, r.cfg.BotDelay)
}

// pendingActor names the seat the room is waiting on, if any.
func (r *Room) pendingActor() string {
	switch r.machine.Phase() {
	case game.PhasePreparation:
		if v, ok := r.machine.Get("redeal_offer"); ok {
			return toString(v)
		}
	case game.PhaseDeclaration, game.PhaseTurn:
		d := r.machine.Data()
		names := toStrings(d["players"])
		if len(names) == 0 {
			return ""
		}
		return names[toInt(d["turn_index"])%len(names)]
	}
	return ""
}

func (r *Room) runBotMove() {
	actor := r.pendingActor()
	if actor == "" {
		return
	}
	slot := r.slot(actor)
	if slot == nil || !slot.BotDriven() {
		return
	}

	for _, a := range r.botActions(actor) {
		err := r.machine.ProcessAction(a, func() error { return r.applyAction(a) })
		if err == nil {
			return
		}
		r.log.Debug("bot action rejected, trying fallback",
			zap.String("player", actor),
			zap.String("action", string(a.Type)),
			zap.Error(err))
	}
	r.log.Warn("bot found no legal action", zap.String("player", actor))
}

// botActions builds the strategy's preferred action plus mechanical
// fallbacks, so one rules rejection cannot stall the room.
func (r *Room) botActions(actor string) []game.Action {
	d := r.machine.Data()

	switch r.machine.Phase() {
	case game.PhasePreparation:
		// Bots never gamble on a redeal.
		return []game.Action{{Type: game.ActionDeclineRedeal, Player: actor}}

	case game.PhaseDeclaration:
		state := d
		state["phase"] = string(r.machine.Phase())
		hands := toHands(d["hands"])
		actions := []game.Action{r.cfg.Bots.DecideAction(actor, hands[actor], state)}
		for v := 0; v <= len(hands[actor]); v++ {
			actions = append(actions, game.Action{
				Type:    game.ActionDeclare,
				Player:  actor,
				Payload: map[string]any{"value": v},
			})
		}
		for i := range actions {
			actions[i].Player = actor
		}
		return actions

	case game.PhaseTurn:
		state := d
		state["phase"] = string(r.machine.Phase())
		hands := toHands(d["hands"])
		actions := []game.Action{r.cfg.Bots.DecideAction(actor, hands[actor], state)}
		for _, c := range hands[actor] {
			actions = append(actions, game.Action{
				Type:    game.ActionPlay,
				Player:  actor,
				Payload: map[string]any{"cards": []string{c}},
			})
		}
		for i := range actions {
			actions[i].Player = actor
		}
		return actions
	}
	return nil
}
