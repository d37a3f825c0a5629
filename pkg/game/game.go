package game

import (
	"time"

	"github.com/google/uuid"

	"github.com/PurkkaKoodari/pyxyzzy/pkg/statemachine"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/utils"
)

// GameState names a phase of a game as seen on the wire.
type GameState string

const (
	StateNotStarted GameState = "not_started"
	StatePlaying    GameState = "playing"
	StateJudging    GameState = "judging"
	StateRoundEnded GameState = "round_ended"
	StateGameEnded  GameState = "game_ended"
)

// GameStateFn represents a game phase following Rob Pike's pattern.
type GameStateFn = statemachine.StateFn[Game]

// Game is one table of players working through rounds. All methods must
// run inside the owning server's Run loop; the Run loop is also what
// delivers the updates the methods queue.
type Game struct {
	code    string
	server  *GameServer
	options GameOptions

	rounds  []*Round
	players *utils.SearchableList[*Player]
	state   GameState

	machine *statemachine.StateMachine[Game]

	blackDeck *Deck[BlackCard]
	whiteDeck *Deck[WhiteCard]

	roundTimer utils.CallbackTimer
}

// NewGame creates an empty game with a fresh code and default options.
// The creator joins like anyone else via AddPlayer.
func NewGame(server *GameServer) *Game {
	g := &Game{
		code:    server.generateGameCode(),
		server:  server,
		options: DefaultOptions(server.cfg, server.rng),
		state:   StateNotStarted,
	}
	g.players = utils.NewSearchableList(utils.IndexSpec[*Player]{
		Name: "id",
		Key:  func(p *Player) any { return p.ID() },
	})
	g.machine = statemachine.NewStateMachine(g, gameStateNotStarted)
	g.buildDecks()
	return g
}

// Each state function runs the phase's entry actions, which are all
// about timers and update fan-out, and returns itself to remain current
// until the next transition.

func gameStateNotStarted(g *Game) GameStateFn {
	g.state = StateNotStarted
	g.roundTimer.Cancel()
	g.sendUpdates(UpdateGame)
	return gameStateNotStarted
}

func gameStatePlaying(g *Game) GameStateFn {
	g.state = StatePlaying
	g.armRoundTimer(g.options.ThinkTime, (*Game).playTimeExpired)
	g.sendUpdates(UpdateGame)
	return gameStatePlaying
}

func gameStateJudging(g *Game) GameStateFn {
	g.state = StateJudging
	g.armRoundTimer(g.options.ThinkTime, (*Game).judgeTimeExpired)
	g.sendUpdates(UpdateGame)
	return gameStateJudging
}

func gameStateRoundEnded(g *Game) GameStateFn {
	g.state = StateRoundEnded
	g.armRoundTimer(g.options.RoundEndTime, (*Game).roundEndExpired)
	g.sendUpdates(UpdateGame)
	return gameStateRoundEnded
}

func gameStateGameEnded(g *Game) GameStateFn {
	g.state = StateGameEnded
	g.roundTimer.Cancel()
	g.sendUpdates(UpdateGame)
	return gameStateGameEnded
}

// setState transitions the machine, running the new phase's entry
// actions.
func (g *Game) setState(next GameStateFn) {
	g.machine.Dispatch(next)
}

// armRoundTimer schedules expired to run when the phase timer lapses.
// The callback re-enters the server loop and re-checks that the game is
// still in the same phase of the same round, since the timer may fire
// while another request holds the loop and changes the state first.
func (g *Game) armRoundTimer(seconds int, expired func(*Game)) {
	state := g.state
	round := g.currentRound()
	g.roundTimer.Start(time.Duration(seconds)*time.Second, func() {
		g.server.Run(func() {
			if g.state != state || g.currentRound() != round {
				return
			}
			expired(g)
		})
	})
}

// Code returns the game's join code.
func (g *Game) Code() string {
	return g.code
}

// Options returns the game's current options.
func (g *Game) Options() GameOptions {
	return g.options
}

// State returns the game's current phase.
func (g *Game) State() GameState {
	return g.state
}

// Running reports whether a game is in progress.
func (g *Game) Running() bool {
	return g.state != StateNotStarted && g.state != StateGameEnded
}

// currentRound returns the round in progress, or nil when the game is
// not running.
func (g *Game) currentRound() *Round {
	if !g.Running() {
		return nil
	}
	return g.rounds[len(g.rounds)-1]
}

// CardCzar returns the current round's card czar, or nil when the game
// is not running.
func (g *Game) CardCzar() *Player {
	if round := g.currentRound(); round != nil {
		return round.CardCzar
	}
	return nil
}

// Host returns the player who has been in the game the longest. The
// host controls the game's options and lifecycle.
func (g *Game) Host() *Player {
	return g.players.At(0)
}

// PlayerByID returns the player for the given user id.
func (g *Game) PlayerByID(id uuid.UUID) (*Player, bool) {
	return g.players.FindBy("id", id)
}

// UpdateOptions replaces the game's options and syncs them to players.
// Deck-affecting changes take effect when the game is next started.
func (g *Game) UpdateOptions(options GameOptions) {
	g.options = options
	g.sendUpdates(UpdateOptions)
}

func (g *Game) buildDecks() {
	g.blackDeck = BuildBlackDeck(g.server.rng, g.options.CardPacks)
	g.whiteDeck = BuildWhiteDeck(g.server.rng, g.options.CardPacks, g.options.BlankCards)
}

// AddPlayer adds the user to the game and syncs the full game state to
// them.
func (g *Game) AddPlayer(user *User) error {
	if user.game != nil {
		return NewStateError("user_in_game", "user already in game")
	}
	if user.conn == nil {
		return NewStateError("user_not_connected", "user not connected")
	}
	if g.players.Len() >= g.options.PlayerLimit {
		return NewStateError("game_full", "the game is full")
	}
	// a mid-game joiner needs a full hand's worth of cards to exist
	if g.Running() {
		available := g.whiteDeck.TotalCards()
		for _, p := range g.players.All() {
			available += len(p.hand)
		}
		if available < (g.server.cfg.Game.HandSize+2)*(g.players.Len()+1) {
			return NewStateError("too_few_white_cards", "too few white cards in the game for any more players")
		}
	}
	player := NewPlayer(user)
	if err := g.players.Append(player); err != nil {
		return NewStateError("user_in_game", "user already in game")
	}
	user.addedToGame(g, player)
	g.SendEvent(map[string]any{
		"type":   "player_join",
		"player": player.EventJSON(),
	})
	g.FullResync(player)
	g.sendUpdates(UpdatePlayers)
	return nil
}

// RemovePlayer takes the player out of the game and deals with the
// fallout: the game may stop, the round may be cancelled and the host
// may change.
func (g *Game) RemovePlayer(player *Player, reason LeaveReason) error {
	if !g.players.Contains(player) {
		return NewStateError("user_not_in_game", "user not in game")
	}
	g.SendEvent(map[string]any{
		"type":   "player_leave",
		"player": player.EventJSON(),
		"reason": string(reason),
	})
	wasHost := player == g.Host()
	wasCzar := player == g.CardCzar()
	// detach the user while the game state is still valid, then drop the
	// player so they get no further messages
	player.User.removedFromGame()
	g.players.Remove(player)
	// deliver their final message right away
	g.flushPlayer(player)
	if g.players.Len() == 0 {
		g.server.RemoveGame(g)
		return nil
	}
	if g.players.Len() <= 2 && g.Running() {
		g.SendEvent(map[string]any{"type": "too_few_players"})
		g.StopGame()
		return nil
	}
	if wasCzar && (g.state == StatePlaying || g.state == StateJudging) {
		g.SendEvent(map[string]any{"type": "card_czar_leave"})
		g.cancelRound()
	}
	if wasHost {
		g.SendEvent(map[string]any{
			"type":     "host_leave",
			"new_host": g.Host().EventJSON(),
		})
	}
	g.whiteDeck.DiscardAll(player.hand)
	// discard their played cards too if the round is not decided yet
	if g.state == StatePlaying || g.state == StateJudging {
		if played, ok := g.currentRound().WhiteCards[player.ID()]; ok {
			delete(g.currentRound().WhiteCards, player.ID())
			g.whiteDeck.DiscardAll(played)
			g.sendUpdates(UpdateGame)
		}
	}
	if g.state == StatePlaying {
		g.checkAllPlayed()
	}
	g.sendUpdates(UpdatePlayers)
	return nil
}

// StartGame starts the game, resetting it first if a finished one is
// still on screen.
func (g *Game) StartGame() error {
	if g.state == StateGameEnded {
		g.StopGame()
	}
	if g.state != StateNotStarted {
		return NewStateError("game_already_started", "game is already ongoing")
	}
	if g.players.Len() < 3 {
		return NewStateError("too_few_players", "too few players")
	}
	g.buildDecks()
	if g.blackDeck.TotalCards() == 0 {
		return NewStateError("too_few_black_cards", "no black cards in selected packs")
	}
	if g.whiteDeck.TotalCards() < (g.server.cfg.Game.HandSize+2)*g.players.Len() {
		return NewStateError("too_few_white_cards", "too few white cards in selected packs for this many players")
	}
	g.startNextRound()
	return nil
}

// StopGame stops and resets the game, clearing scores and hands.
func (g *Game) StopGame() {
	g.setState(gameStateNotStarted)
	for _, p := range g.players.All() {
		p.hand = nil
		p.score = 0
		p.idleRounds = 0
	}
	g.rounds = nil
	// fresh decks so cards left in hands or on the table are not lost
	g.buildDecks()
	g.sendUpdates(UpdateGame | UpdateHand | UpdatePlayers)
}

func (g *Game) startNextRound() {
	czar := g.nextCardCzar()
	black, ok := g.blackDeck.DrawDiscard()
	if !ok {
		panic("black deck exhausted")
	}
	round := newRound(czar, black)
	g.rounds = append(g.rounds, round)
	for _, p := range g.players.All() {
		// the card czar only draws up to hand size, others draw extras
		// when the black card says so
		target := g.server.cfg.Game.HandSize
		if p != czar {
			target += black.DrawCount
		}
		for len(p.hand) < target {
			card, ok := g.whiteDeck.Draw()
			if !ok {
				panic("white deck exhausted")
			}
			p.hand = append(p.hand, card)
		}
	}
	g.setState(gameStatePlaying)
	g.sendUpdates(UpdateGame | UpdateHand | UpdatePlayers)
}

// nextCardCzar picks the player after the most recent card czar still
// in the game, or a random player when no previous czar remains.
func (g *Game) nextCardCzar() *Player {
	for i := len(g.rounds) - 1; i >= 0; i-- {
		if pos := g.players.IndexOf(g.rounds[i].CardCzar); pos >= 0 {
			return g.players.At((pos + 1) % g.players.Len())
		}
	}
	return g.players.At(g.server.rng.Intn(g.players.Len()))
}

// playTimeExpired handles the think timer lapsing while white cards are
// being played: idlers accumulate strikes and may be kicked, then the
// round moves to judging or is cancelled depending on how many plays
// came in.
func (g *Game) playTimeExpired() {
	var kick []*Player
	for _, p := range g.players.All() {
		if !g.currentRound().NeedsToPlay(p) {
			continue
		}
		p.idleRounds++
		if p.idleRounds >= g.options.IdleRounds {
			kick = append(kick, p)
		}
	}
	for _, p := range kick {
		g.RemovePlayer(p, LeaveIdle)
	}
	// the kicks may have cancelled the round or stopped the game
	if g.state != StatePlaying {
		return
	}
	if len(g.currentRound().WhiteCards) < 2 {
		g.SendEvent(map[string]any{"type": "too_few_cards_played"})
		g.cancelRound()
	} else {
		g.setState(gameStateJudging)
	}
}

// judgeTimeExpired handles the think timer lapsing while the card czar
// is choosing: the czar takes an idle strike and the round is
// cancelled, kicking the czar outright when they hit the strike limit.
func (g *Game) judgeTimeExpired() {
	czar := g.CardCzar()
	czar.idleRounds++
	if czar.idleRounds >= g.options.IdleRounds {
		// removing the czar also cancels the round
		g.RemovePlayer(czar, LeaveIdle)
	} else {
		g.cancelRound()
	}
}

// roundEndExpired moves on to the next round once the results have been
// on screen long enough.
func (g *Game) roundEndExpired() {
	for _, cards := range g.currentRound().WhiteCards {
		g.whiteDeck.DiscardAll(cards)
	}
	g.startNextRound()
}

// cancelRound returns played cards to their owners' hands and skips to
// the end of the round without a winner. Cards whose owner is gone go
// back to the deck.
func (g *Game) cancelRound() {
	round := g.currentRound()
	for id, cards := range round.WhiteCards {
		if p, ok := g.players.FindBy("id", id); ok {
			p.hand = append(p.hand, cards...)
		} else {
			g.whiteDeck.DiscardAll(cards)
		}
	}
	clear(round.WhiteCards)
	g.setState(gameStateRoundEnded)
	g.sendUpdates(UpdateGame | UpdateHand)
}

func (g *Game) checkAllPlayed() {
	if g.state != StatePlaying {
		return
	}
	for _, p := range g.players.All() {
		if g.currentRound().NeedsToPlay(p) {
			return
		}
	}
	g.setState(gameStateJudging)
}

// CardPlay identifies one card played from a hand. Text carries the
// text to write on the card when it is a blank.
type CardPlay struct {
	SlotID uuid.UUID
	Text   *string
}

// PlayWhiteCards plays the player's answer for the round. The cards
// must come from the player's hand and match the black card's pick
// count, and blanks must have their text written.
func (g *Game) PlayWhiteCards(roundID uuid.UUID, player *Player, plays []CardPlay) error {
	if g.state != StatePlaying {
		return NewStateError("invalid_round_state", "white cards are not being played for the round")
	}
	round := g.currentRound()
	if roundID != round.ID {
		return NewStateError("wrong_round", "the round is not being played")
	}
	if !round.NeedsToPlay(player) {
		return NewStateError("already_played", "you already played white cards for the round")
	}
	slots := make(map[uuid.UUID]bool, len(plays))
	for _, play := range plays {
		slots[play.SlotID] = true
	}
	if len(slots) != len(plays) {
		return NewStateError("invalid_white_cards", "duplicate cards chosen")
	}
	if len(plays) != round.BlackCard.PickCount {
		return NewStateError("invalid_white_cards", "wrong number of cards chosen")
	}
	cards := make([]WhiteCard, 0, len(plays))
	for _, play := range plays {
		card, ok := utils.Single(player.hand, func(c WhiteCard) bool { return c.SlotID == play.SlotID })
		if !ok {
			return NewStateError("card_not_in_hand", "you do not have the chosen cards")
		}
		if play.Text != nil {
			written, err := card.WriteBlank(*play.Text)
			if err != nil {
				return err
			}
			card = written
		}
		cards = append(cards, card)
	}
	for _, card := range cards {
		if err := player.playCard(card); err != nil {
			return err
		}
	}
	round.WhiteCards[player.ID()] = cards
	player.idleRounds = 0
	g.checkAllPlayed()
	g.sendUpdates(UpdatePlayers)
	g.sendUpdatesTo(player, UpdateHand|UpdateGame)
	return nil
}

// ChooseWinner records the czar's pick, scores it and moves the game
// on, ending the game when the winner hits the point limit.
func (g *Game) ChooseWinner(roundID uuid.UUID, winningCard uuid.UUID) error {
	if g.state != StateJudging {
		return NewStateError("invalid_round_state", "the winner is not being chosen for the round")
	}
	round := g.currentRound()
	if roundID != round.ID {
		return NewStateError("wrong_round", "the round is not being played")
	}
	var winnerID uuid.UUID
	found := 0
	for id, cards := range round.WhiteCards {
		if cards[0].SlotID == winningCard {
			winnerID = id
			found++
		}
	}
	if found != 1 {
		return NewStateError("invalid_winner", "no such card played")
	}
	winner, ok := g.players.FindBy("id", winnerID)
	if !ok {
		return NewStateError("invalid_winner", "no such card played")
	}
	g.CardCzar().idleRounds = 0
	round.Winner = winner
	winner.score++
	if winner.score == g.options.PointLimit {
		g.setState(gameStateGameEnded)
	} else {
		g.setState(gameStateRoundEnded)
	}
	g.sendUpdates(UpdateGame | UpdatePlayers)
	return nil
}
