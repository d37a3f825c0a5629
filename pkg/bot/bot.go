// Package bot implements computer players used for load testing and to
// fill out games during development.
package bot

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/PurkkaKoodari/pyxyzzy/pkg/config"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/game"
)

// stateNotInGame is the bot's own pseudo-state for when it has no game.
const stateNotInGame game.GameState = "not_in_game"

// blankCardText is what bots write on blank white cards.
const blankCardText = "This blank card was played by a bot."

// actionState tracks the bot's progress on the move the current game
// state asks of it.
type actionState int

const (
	// actionIdle means the bot has not reacted to the state yet.
	actionIdle actionState = iota
	// actionRunning means a move is in progress on its own goroutine.
	actionRunning
	// actionDone means the move completed and no new one should start
	// until the game state changes.
	actionDone
)

type credentials struct {
	id    string
	token string
}

// Config carries the dependencies for one bot.
type Config struct {
	Log    slog.Logger
	Config *config.Config
	Dial   Dialer
	// Rand seeds the bot's private randomness. May be nil.
	Rand *rand.Rand
}

// RandomPlayBot is a player that joins or creates a public game, fills
// its moves with random cards at a human-ish pace, and quits once its
// game ends. When it becomes the host it starts the game as soon as
// enough players have gathered.
type RandomPlayBot struct {
	log  slog.Logger
	cfg  *config.Config
	dial Dialer
	ctx  context.Context

	// username and playerID are written once at authentication and
	// stable afterwards, so String can read them without the lock.
	username string
	playerID string

	// mu guards everything below, plus rng.
	mu            sync.Mutex
	rng           *rand.Rand
	conn          Connection
	creds         *credentials
	authenticated bool
	finished      bool

	gameState    game.GameState
	gameCode     string
	joinComplete bool
	isHost       bool
	playerCount  int
	options      map[string]any
	updatesSeen  map[string]bool
	hand         []any
	roundID      string
	czarID       string
	pickCount    int
	plays        []any

	action       actionState
	cancelAction context.CancelFunc
}

// NewRandomPlayBot builds a bot. Start must be called to set it going.
func NewRandomPlayBot(cfg Config) *RandomPlayBot {
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	var seed int64
	if cfg.Rand != nil {
		seed = cfg.Rand.Int63()
	} else {
		seed = time.Now().UnixNano()
	}
	return &RandomPlayBot{
		log:         log,
		cfg:         cfg.Config,
		dial:        cfg.Dial,
		rng:         rand.New(rand.NewSource(seed)),
		gameState:   stateNotInGame,
		updatesSeen: make(map[string]bool),
	}
}

func (b *RandomPlayBot) String() string {
	if b.username == "" {
		return "unnamed bot"
	}
	return fmt.Sprintf("%s [%s]", b.username, b.playerID)
}

// Start connects the bot in the background and lets it play until its
// game ends. Once ctx is cancelled the bot stops acting; call Quit to
// also disconnect it.
func (b *RandomPlayBot) Start(ctx context.Context) {
	go func() {
		if err := b.connect(ctx); err != nil {
			if ctx.Err() == nil {
				b.log.Errorf("Bot failed to connect: %v", err)
			}
			b.Quit()
		}
	}()
}

// Finished reports whether the bot has quit for good.
func (b *RandomPlayBot) Finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

// Quit makes the bot log out and disconnect.
func (b *RandomPlayBot) Quit() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quitLocked()
}

func (b *RandomPlayBot) quitLocked() {
	if b.finished {
		return
	}
	b.finished = true
	if b.cancelAction != nil {
		b.cancelAction()
		b.cancelAction = nil
	}
	b.action = actionIdle
	conn := b.conn
	loggedIn := b.authenticated
	if conn == nil {
		return
	}
	go func() {
		if loggedIn {
			// say goodbye properly so the user is freed right away
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn.Call(ctx, "log_out", nil)
		}
		conn.Close()
	}()
}

func (b *RandomPlayBot) connect(ctx context.Context) error {
	conn, err := b.dial(ctx, b.receiveMessage, b.connectionClosed)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.ctx = ctx
	b.conn = conn
	b.mu.Unlock()
	if err := b.authenticate(ctx); err != nil {
		conn.Close()
		return err
	}
	go b.joinOrCreateGame(ctx)
	return nil
}

// authenticate logs the bot in, trying stored credentials first and
// falling back to registering under a fresh random name.
func (b *RandomPlayBot) authenticate(ctx context.Context) error {
	b.mu.Lock()
	creds := b.creds
	b.mu.Unlock()
	if creds != nil {
		reply, err := b.conn.Call(ctx, "authenticate", map[string]any{
			"id":    creds.id,
			"token": creds.token,
		})
		var gameErr *game.Error
		switch {
		case err == nil:
			b.finishAuth(reply)
			return nil
		case errors.As(err, &gameErr) && gameErr.Code == "user_not_found":
			// the server forgot us, register anew
			b.mu.Lock()
			b.creds = nil
			b.mu.Unlock()
		default:
			return err
		}
	}
	for {
		b.mu.Lock()
		name := fmt.Sprintf("RandomPlayBot%d", 100000+b.rng.Intn(900000))
		b.mu.Unlock()
		reply, err := b.conn.Call(ctx, "authenticate", map[string]any{"name": name})
		var gameErr *game.Error
		if errors.As(err, &gameErr) && gameErr.Code == "name_in_use" {
			continue
		}
		if err != nil {
			return err
		}
		b.finishAuth(reply)
		return nil
	}
}

func (b *RandomPlayBot) finishAuth(reply map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, _ := reply["id"].(string)
	token, _ := reply["token"].(string)
	b.creds = &credentials{id: id, token: token}
	b.playerID = id
	b.username, _ = reply["name"].(string)
	b.authenticated = true
	b.log.Infof("%s authenticated", b)
}

// connectionClosed runs once when the connection dies for any reason.
func (b *RandomPlayBot) connectionClosed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.finished {
		b.log.Infof("%s lost its connection", b)
		b.quitLocked()
	}
}

// receiveMessage handles one server-pushed message. Call replies never
// come here; the connection routes those to their callers.
func (b *RandomPlayBot) receiveMessage(message map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if events, ok := message["events"].([]any); ok {
		for _, raw := range events {
			if event, ok := raw.(map[string]any); ok {
				b.handleEvent(event)
			}
		}
	}
	b.handleUpdate(message)
}

// handleEvent lets testers dismiss bots from the chat box with
// "bot all quit" or "bot <name> quit".
func (b *RandomPlayBot) handleEvent(event map[string]any) {
	if event["type"] != "chat_message" {
		return
	}
	text, _ := event["text"].(string)
	if text == "bot all quit" || text == "bot "+b.username+" quit" {
		b.log.Infof("%s quitting by chat request", b)
		b.quitLocked()
	}
}

// handleUpdate folds one update into the bot's view of the game and
// decides its next move. Only one move runs at a time; a game state
// change cancels whatever move was in progress.
func (b *RandomPlayBot) handleUpdate(update map[string]any) {
	if b.finished {
		return
	}
	if raw, present := update["game"]; present && raw == nil {
		if b.gameState != stateNotInGame {
			b.log.Infof("%s was removed from game %s", b, b.gameCode)
			b.quitLocked()
		}
		b.gameState = stateNotInGame
		return
	}

	prev := b.gameState
	if raw, ok := update["game"].(map[string]any); ok {
		state, _ := raw["state"].(string)
		b.gameState = game.GameState(state)
		b.gameCode, _ = raw["code"].(string)
		if round, ok := raw["current_round"].(map[string]any); ok {
			b.roundID, _ = round["id"].(string)
			b.czarID, _ = round["card_czar"].(string)
			if black, ok := round["black_card"].(map[string]any); ok {
				b.pickCount = intField(black, "pick_count")
			}
			b.plays, _ = round["white_cards"].([]any)
		} else {
			b.roundID, b.czarID, b.pickCount, b.plays = "", "", 0, nil
		}
	}
	if raw, ok := update["hand"].([]any); ok {
		b.hand = raw
	}
	if raw, ok := update["players"].([]any); ok {
		b.playerCount = len(raw)
		b.isHost = false
		if len(raw) > 0 {
			if head, ok := raw[0].(map[string]any); ok {
				b.isHost = head["id"] == b.playerID
			}
		}
	}
	if raw, ok := update["options"].(map[string]any); ok {
		b.options = raw
	}
	for key := range update {
		b.updatesSeen[key] = true
	}
	// Hold moves until the first full sync has arrived in all its parts.
	if !b.updatesSeen["game"] || !b.updatesSeen["players"] || !b.updatesSeen["options"] {
		return
	}

	if b.gameState != prev {
		b.perform(nil)
		if prev == stateNotInGame {
			b.log.Infof("%s is in game %s", b, b.gameCode)
		}
	}

	public, _ := b.options["public"].(bool)
	switch {
	case b.joinComplete && !public:
		b.log.Infof("%s quitting game %s since it went private", b, b.gameCode)
		b.quitLocked()
	case b.gameState == game.StateGameEnded && prev != stateNotInGame:
		b.log.Infof("%s quitting ended game %s", b, b.gameCode)
		b.quitLocked()
	case b.gameState == game.StateNotStarted && b.action == actionIdle && b.isHost:
		target := b.targetPlayers()
		if b.playerCount >= target {
			b.log.Infof("%s starting game %s with %d players", b, b.gameCode, b.playerCount)
			b.perform(b.startGame)
		} else {
			b.log.Debugf("%s waiting for players in %s, %d/%d", b, b.gameCode, b.playerCount, target)
		}
	case b.gameState == game.StatePlaying && b.action == actionIdle && b.playerID != b.czarID:
		b.perform(b.playWhite)
	case b.gameState == game.StateJudging && b.action == actionIdle && b.playerID == b.czarID:
		b.perform(b.judge)
	}
}

// perform cancels the in-progress move, then starts the given one on
// its own goroutine. Callers hold b.mu.
func (b *RandomPlayBot) perform(move func(context.Context) error) {
	if b.cancelAction != nil {
		b.cancelAction()
		b.cancelAction = nil
	}
	b.action = actionIdle
	if move == nil {
		return
	}
	ctx, cancel := context.WithCancel(b.ctx)
	b.cancelAction = cancel
	b.action = actionRunning
	go func() {
		err := move(ctx)
		b.mu.Lock()
		defer b.mu.Unlock()
		if ctx.Err() != nil {
			// a state change cancelled this move
			return
		}
		b.cancelAction = nil
		cancel()
		if err != nil {
			b.log.Errorf("%s move failed: %v", b, err)
			b.quitLocked()
			return
		}
		b.action = actionDone
	}()
}

// targetPlayers is how many players the bot waits for before starting
// its game, capped by the game's player limit. Callers hold b.mu.
func (b *RandomPlayBot) targetPlayers() int {
	target := targetGameSize(b.cfg, b.gameCode)
	if limit := intField(b.options, "player_limit"); limit > 0 && limit < target {
		target = limit
	}
	return target
}

func (b *RandomPlayBot) joinOrCreateGame(ctx context.Context) {
	err := b.findGame(ctx)
	if err == nil {
		return
	}
	if ctx.Err() == nil && !errors.Is(err, ErrDisconnected) {
		b.log.Errorf("%s could not join a game: %v", b, err)
	}
	b.Quit()
}

// findGame joins the first public game that still has room for more
// bots, or creates one when allowed. With game creation disabled it
// retries until a game appears.
func (b *RandomPlayBot) findGame(ctx context.Context) error {
	for {
		// pause first so simultaneously started bots spread out
		if err := b.playSleep(ctx); err != nil {
			return err
		}
		reply, err := b.conn.Call(ctx, "game_list", nil)
		if err != nil {
			return err
		}
		games, _ := reply["games"].([]any)
		for _, raw := range games {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			code, _ := entry["code"].(string)
			passworded, _ := entry["passworded"].(bool)
			target := targetGameSize(b.cfg, code)
			if limit := intField(entry, "player_limit"); limit < target {
				target = limit
			}
			if passworded || intField(entry, "players") >= target {
				continue
			}
			b.log.Infof("%s joining game %s", b, code)
			if _, err := b.conn.Call(ctx, "join_game", map[string]any{"code": code}); err != nil {
				return err
			}
			return b.joined(ctx)
		}
		if !b.cfg.Debug.Bots.CreateGames {
			continue
		}
		b.log.Infof("%s creating a new game", b)
		if _, err := b.conn.Call(ctx, "create_game", nil); err != nil {
			return err
		}
		options := map[string]any{"public": true}
		for key, value := range b.cfg.Debug.Bots.GameOptions {
			options[key] = value
		}
		if _, err := b.conn.Call(ctx, "game_options", options); err != nil {
			return err
		}
		return b.joined(ctx)
	}
}

// joined marks the join complete and has the bot greet the table now
// and then.
func (b *RandomPlayBot) joined(ctx context.Context) error {
	b.mu.Lock()
	b.joinComplete = true
	greet := b.rng.Intn(4) == 0
	b.mu.Unlock()
	if !greet {
		return nil
	}
	_, err := b.conn.Call(ctx, "chat", map[string]any{"text": "glhf"})
	return err
}

// startGame is the host bot's move: put every card pack the server has
// into play, apply the configured option overrides and start.
func (b *RandomPlayBot) startGame(ctx context.Context) error {
	var packs []any
	if raw, ok := b.conn.ServerConfig()["card_packs"].([]any); ok {
		for _, entry := range raw {
			if pack, ok := entry.(map[string]any); ok {
				packs = append(packs, pack["id"])
			}
		}
	}
	options := map[string]any{"card_packs": packs}
	for key, value := range b.cfg.Debug.Bots.GameOptions {
		options[key] = value
	}
	if _, err := b.conn.Call(ctx, "game_options", options); err != nil {
		return err
	}
	if err := b.playSleep(ctx); err != nil {
		return err
	}
	_, err := b.conn.Call(ctx, "start_game", nil)
	return err
}

// playWhite plays randomly chosen cards from the bot's hand.
func (b *RandomPlayBot) playWhite(ctx context.Context) error {
	if err := b.playSleep(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	round := b.roundID
	pick := b.pickCount
	if pick > len(b.hand) {
		// joined mid-round with a short hand; cards come with the next
		// round
		b.mu.Unlock()
		return nil
	}
	cards := make([]any, 0, pick)
	for _, i := range b.rng.Perm(len(b.hand))[:pick] {
		card, _ := b.hand[i].(map[string]any)
		play := map[string]any{"id": card["id"]}
		if blank, _ := card["blank"].(bool); blank {
			play["text"] = blankCardText
		}
		cards = append(cards, play)
	}
	b.mu.Unlock()
	_, err := b.conn.Call(ctx, "play_white", map[string]any{"round": round, "cards": cards})
	return err
}

// judge crowns a random play as the round winner.
func (b *RandomPlayBot) judge(ctx context.Context) error {
	if err := b.playSleep(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	round := b.roundID
	var winner any
	if len(b.plays) > 0 {
		if play, ok := b.plays[b.rng.Intn(len(b.plays))].([]any); ok && len(play) > 0 {
			if card, ok := play[0].(map[string]any); ok {
				winner = card["id"]
			}
		}
	}
	b.mu.Unlock()
	if winner == nil {
		return nil
	}
	_, err := b.conn.Call(ctx, "choose_winner", map[string]any{"round": round, "winner": winner})
	return err
}

// playSleep pauses for the configured randomized play pace.
func (b *RandomPlayBot) playSleep(ctx context.Context) error {
	b.mu.Lock()
	pace := b.cfg.Debug.Bots.PlaySpeed.Sample(b.rng)
	b.mu.Unlock()
	if pace < 0.1 {
		pace = 0.1
	}
	timer := time.NewTimer(time.Duration(pace * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// targetGameSize decides how many players bots try to gather into one
// game. The game code seeds the variation so every bot agrees on the
// same target without coordinating.
func targetGameSize(cfg *config.Config, code string) int {
	h := fnv.New64a()
	h.Write([]byte(code))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	extra := int(rng.ExpFloat64() / 0.6)
	if extra > 6 {
		extra = 6
	}
	return cfg.Debug.Bots.GameSize + extra
}

// intField reads a numeric JSON field as an int.
func intField(object map[string]any, key string) int {
	value, _ := object[key].(float64)
	return int(value)
}
