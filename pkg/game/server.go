package game

import (
	"math/rand"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"

	"github.com/PurkkaKoodari/pyxyzzy/pkg/config"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/utils"
)

// GameServerConfig holds the dependencies for a GameServer.
type GameServerConfig struct {
	Log    slog.Logger
	Config *config.Config
	// Rand drives all game randomness. Leave nil to seed from the clock;
	// tests inject a fixed seed.
	Rand *rand.Rand
}

// GameServer owns every user, game and card pack on the server. All
// state behind it is guarded by a single mutex taken in Run, so
// everything inside a Run call can touch game state freely without
// further locking.
type GameServer struct {
	cfg *config.Config
	log slog.Logger
	rng *rand.Rand

	mu        sync.Mutex
	users     *utils.SearchableList[*User]
	games     *utils.SearchableList[*Game]
	cardPacks *utils.SearchableList[*CardPack]

	// games whose players have updates queued this turn
	dirty map[*Game]struct{}
}

// NewGameServer creates an empty game server.
func NewGameServer(cfg GameServerConfig) *GameServer {
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s := &GameServer{
		cfg:   cfg.Config,
		log:   log,
		rng:   rng,
		dirty: make(map[*Game]struct{}),
	}
	s.users = utils.NewSearchableList(
		utils.IndexSpec[*User]{Name: "id", Key: func(u *User) any { return u.ID }},
		utils.IndexSpec[*User]{Name: "name", Key: func(u *User) any { return strings.ToLower(u.Name) }},
	)
	s.games = utils.NewSearchableList(
		utils.IndexSpec[*Game]{Name: "code", Key: func(g *Game) any { return g.code }},
	)
	s.cardPacks = utils.NewSearchableList(
		utils.IndexSpec[*CardPack]{Name: "id", Key: func(p *CardPack) any { return p.ID }},
	)
	return s
}

// Run executes fn as one server turn: it takes the server lock, runs
// fn, and flushes the updates fn queued before releasing the lock.
// Every entry point into game state goes through here, including timer
// callbacks and disconnect handling. A panic in fn is logged and the
// flush skipped, leaving the queued updates for the next turn.
func (s *GameServer) Run(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("Panic in server turn: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
	s.flushDirty()
}

func (s *GameServer) markDirty(g *Game) {
	s.dirty[g] = struct{}{}
}

func (s *GameServer) flushDirty() {
	for g := range s.dirty {
		delete(s.dirty, g)
		g.flushUpdates()
	}
}

// Config returns the server configuration.
func (s *GameServer) Config() *config.Config {
	return s.cfg
}

// ConfigJSON returns the client-visible configuration plus the loaded
// card packs, as sent in the handshake reply.
func (s *GameServer) ConfigJSON() map[string]any {
	result := s.cfg.ConfigJSON()
	packs := make([]any, 0, s.cardPacks.Len())
	for _, p := range s.cardPacks.All() {
		packs = append(packs, p.JSON())
	}
	result["card_packs"] = packs
	return result
}

func (s *GameServer) generateGameCode() string {
	for {
		code := utils.GenerateCode(s.rng, s.cfg.Game.Code.Characters, s.cfg.Game.Code.Length)
		if !s.games.Exists("code", code) {
			return code
		}
	}
}

// AddUser registers a user. Names are unique ignoring case.
func (s *GameServer) AddUser(user *User) error {
	if err := s.users.Append(user); err != nil {
		return err
	}
	s.log.Debugf("user %s logged in", user)
	return nil
}

// RemoveUser forgets a user entirely, removing them from their game
// first.
func (s *GameServer) RemoveUser(user *User, reason LeaveReason) {
	if user.game != nil {
		user.game.RemovePlayer(user.player, reason)
	}
	user.kickTimer.Cancel()
	user.forgetTimer.Cancel()
	s.users.Remove(user)
	s.log.Debugf("user %s removed (%s)", user, reason)
}

// UserByID returns the user with the given id.
func (s *GameServer) UserByID(id uuid.UUID) (*User, bool) {
	return s.users.FindBy("id", id)
}

// NameTaken reports whether a user already holds the name, ignoring
// case.
func (s *GameServer) NameTaken(name string) bool {
	return s.users.Exists("name", strings.ToLower(name))
}

// AddGame registers a game.
func (s *GameServer) AddGame(game *Game) error {
	if err := s.games.Append(game); err != nil {
		return err
	}
	s.log.Debugf("game %s created", game.code)
	return nil
}

// RemoveGame drops a game. Its round timer is cancelled so no stale
// callback runs against the dead game.
func (s *GameServer) RemoveGame(game *Game) {
	game.roundTimer.Cancel()
	delete(s.dirty, game)
	s.games.Remove(game)
	s.log.Debugf("game %s removed", game.code)
}

// GameByCode returns the game with the given code.
func (s *GameServer) GameByCode(code string) (*Game, bool) {
	return s.games.FindBy("code", code)
}

// PublicGames returns the games that show up in the public game list.
func (s *GameServer) PublicGames() []*Game {
	var public []*Game
	for _, g := range s.games.All() {
		if g.options.Public {
			public = append(public, g)
		}
	}
	return public
}

// AddCardPack registers a card pack for games to choose from.
func (s *GameServer) AddCardPack(pack *CardPack) error {
	return s.cardPacks.Append(pack)
}

// CardPackByID returns the card pack with the given id.
func (s *GameServer) CardPackByID(id uuid.UUID) (*CardPack, bool) {
	return s.cardPacks.FindBy("id", id)
}

// CardPacks returns all loaded card packs.
func (s *GameServer) CardPacks() []*CardPack {
	return s.cardPacks.All()
}

// Stop cancels every pending game and user timer so no further
// callbacks fire. Meant for shutdown; the server keeps accepting calls
// but nothing will drive games forward anymore.
func (s *GameServer) Stop() {
	s.Run(func() {
		for _, g := range s.games.All() {
			g.roundTimer.Cancel()
		}
		for _, u := range s.users.All() {
			u.kickTimer.Cancel()
			u.forgetTimer.Cancel()
		}
	})
}
