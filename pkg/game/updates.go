package game

import (
	"slices"
	"strings"
)

// UpdateKind is a bitset of the state slices a player needs resent.
type UpdateKind uint8

const (
	UpdateGame UpdateKind = 1 << iota
	UpdatePlayers
	UpdateHand
	UpdateOptions

	// UpdateAll resyncs every slice of game state.
	UpdateAll = UpdateGame | UpdatePlayers | UpdateHand | UpdateOptions
)

// Updates are not sent as they happen. Each player accumulates a bitset
// of pending update kinds plus a queue of one-off events, and the
// server flushes them at the end of the turn, so a player gets at most
// one message no matter how much state one request touched.

// sendUpdates queues the update kinds for every player in the game.
func (g *Game) sendUpdates(kinds UpdateKind) {
	for _, p := range g.players.All() {
		p.pendingUpdates |= kinds
	}
	g.server.markDirty(g)
}

// sendUpdatesTo queues the update kinds for a single player.
func (g *Game) sendUpdatesTo(player *Player, kinds UpdateKind) {
	player.pendingUpdates |= kinds
	g.server.markDirty(g)
}

// FullResync queues a resend of all game state to the player.
func (g *Game) FullResync(player *Player) {
	g.sendUpdatesTo(player, UpdateAll)
}

// SendEvent queues a one-off event for every player in the game.
func (g *Game) SendEvent(event map[string]any) {
	for _, p := range g.players.All() {
		p.pendingEvents = append(p.pendingEvents, event)
	}
	g.server.markDirty(g)
}

// flushUpdates sends each player their accumulated updates and events.
func (g *Game) flushUpdates() {
	for _, p := range g.players.All() {
		g.flushPlayer(p)
	}
}

// flushPlayer builds and sends one player's pending message. A player
// no longer in the game gets told so with a null game instead of state
// they can no longer see.
func (g *Game) flushPlayer(player *Player) {
	message := make(map[string]any)
	if !g.players.Contains(player) {
		message["game"] = nil
	} else {
		if player.pendingUpdates&UpdateGame != 0 {
			message["game"] = g.stateJSON(player)
		}
		if player.pendingUpdates&UpdatePlayers != 0 {
			message["players"] = g.playersJSON()
		}
		if player.pendingUpdates&UpdateHand != 0 {
			message["hand"] = whiteCardsJSON(player.hand)
		}
		if player.pendingUpdates&UpdateOptions != 0 {
			message["options"] = g.options.JSON()
		}
	}
	if len(player.pendingEvents) > 0 {
		message["events"] = slices.Clone(player.pendingEvents)
	}
	player.pendingUpdates = 0
	player.pendingEvents = nil
	if len(message) > 0 {
		player.User.SendMessage(message)
	}
}

// stateJSON builds the game slice of an update as seen by one player.
// Played cards stay hidden until judging starts, except that players
// always see their own play.
func (g *Game) stateJSON(player *Player) map[string]any {
	state := map[string]any{
		"code":  g.code,
		"state": string(g.state),
	}
	round := g.currentRound()
	if round == nil {
		state["current_round"] = nil
		return state
	}
	var whiteCards any
	switch {
	case g.state == StateJudging || g.state == StateRoundEnded:
		plays := make([]any, 0, len(round.WhiteCards))
		for _, play := range round.RandomizedPlays() {
			plays = append(plays, whiteCardsJSON(play))
		}
		whiteCards = plays
	case g.state == StatePlaying:
		if play, ok := round.WhiteCards[player.ID()]; ok {
			whiteCards = []any{whiteCardsJSON(play)}
		}
	}
	var winner any
	if round.Winner != nil {
		winner = map[string]any{
			"player": round.Winner.ID().String(),
			"cards":  round.WhiteCards[round.Winner.ID()][0].SlotID.String(),
		}
	}
	state["current_round"] = map[string]any{
		"id":          round.ID.String(),
		"black_card":  round.BlackCard.JSON(),
		"white_cards": whiteCards,
		"card_czar":   round.CardCzar.ID().String(),
		"winner":      winner,
	}
	return state
}

// playersJSON builds the players slice of an update.
func (g *Game) playersJSON() []any {
	players := make([]any, 0, g.players.Len())
	for _, p := range g.players.All() {
		players = append(players, map[string]any{
			"id":      p.ID().String(),
			"name":    p.User.Name,
			"score":   p.score,
			"playing": g.state == StatePlaying && g.currentRound().NeedsToPlay(p),
		})
	}
	return players
}

func whiteCardsJSON(cards []WhiteCard) []any {
	result := make([]any, 0, len(cards))
	for _, card := range cards {
		result = append(result, card.JSON())
	}
	return result
}

// GameListJSON builds the game's entry in the public game list.
func (g *Game) GameListJSON() map[string]any {
	title := strings.TrimSpace(g.options.GameTitle)
	if title == "" {
		title = strings.ReplaceAll(g.server.cfg.Game.Title.Default, "{USER}", g.Host().User.Name)
	}
	return map[string]any{
		"code":         g.code,
		"title":        title,
		"players":      g.players.Len(),
		"player_limit": g.options.PlayerLimit,
		"passworded":   g.options.Password != "",
	}
}
