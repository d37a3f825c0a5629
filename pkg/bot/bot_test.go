package bot

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PurkkaKoodari/pyxyzzy/pkg/config"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/game"
)

type fakeCall struct {
	action  string
	content map[string]any
}

// fakeConn is a scripted Connection: calls get canned replies and the
// test pushes updates through the receive callback by hand.
type fakeConn struct {
	mu       sync.Mutex
	calls    []fakeCall
	handlers map[string]func(map[string]any) (map[string]any, error)
	receive  func(map[string]any)
	closed   func()
	dead     bool
	cfg      map[string]any
}

func newFakeConn() *fakeConn {
	f := &fakeConn{
		handlers: make(map[string]func(map[string]any) (map[string]any, error)),
		cfg: map[string]any{
			"card_packs": []any{
				map[string]any{"id": "pack-1", "name": "Test Pack", "black_cards": 10.0, "white_cards": 20.0},
			},
		},
	}
	f.handlers["authenticate"] = func(content map[string]any) (map[string]any, error) {
		name, _ := content["name"].(string)
		return map[string]any{"id": "bot-id-1", "token": "token-1", "name": name, "in_game": false}, nil
	}
	f.handlers["game_list"] = func(map[string]any) (map[string]any, error) {
		return map[string]any{"games": []any{}}, nil
	}
	return f
}

func (f *fakeConn) dialer() Dialer {
	return func(ctx context.Context, receive func(map[string]any), closed func()) (Connection, error) {
		f.mu.Lock()
		f.receive, f.closed = receive, closed
		f.mu.Unlock()
		return f, nil
	}
}

func (f *fakeConn) Call(ctx context.Context, action string, content map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead {
		return nil, ErrDisconnected
	}
	f.calls = append(f.calls, fakeCall{action, content})
	if handler, ok := f.handlers[action]; ok {
		return handler(content)
	}
	return map[string]any{}, nil
}

func (f *fakeConn) ServerConfig() map[string]any {
	return f.cfg
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	wasDead := f.dead
	f.dead = true
	closed := f.closed
	f.mu.Unlock()
	if !wasDead && closed != nil {
		closed()
	}
}

func (f *fakeConn) handle(action string, handler func(map[string]any) (map[string]any, error)) {
	f.mu.Lock()
	f.handlers[action] = handler
	f.mu.Unlock()
}

func (f *fakeConn) push(update map[string]any) {
	f.mu.Lock()
	receive := f.receive
	f.mu.Unlock()
	receive(update)
}

func (f *fakeConn) count(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.calls {
		if call.action == action {
			n++
		}
	}
	return n
}

func (f *fakeConn) last(action string) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].action == action {
			return f.calls[i].content, true
		}
	}
	return nil, false
}

func (f *fakeConn) calledInOrder(first, second string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	firstAt, secondAt := -1, -1
	for i, call := range f.calls {
		if call.action == first && firstAt == -1 {
			firstAt = i
		}
		if call.action == second && secondAt == -1 {
			secondAt = i
		}
	}
	return firstAt != -1 && secondAt != -1 && firstAt < secondAt
}

func (f *fakeConn) isDead() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dead
}

func botTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Debug.Bots = config.BotConfig{
		GameSize:    3,
		CreateGames: true,
		PlaySpeed:   config.NormalDist{},
		GameOptions: map[string]any{"password": ""},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

// startTestBot starts a bot against the fake and waits until it is
// authenticated and hunting for a game.
func startTestBot(t *testing.T, cfg *config.Config, f *fakeConn) (*RandomPlayBot, context.CancelFunc) {
	t.Helper()
	b := NewRandomPlayBot(Config{Config: cfg, Dial: f.dialer(), Rand: rand.New(rand.NewSource(1))})
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	require.Eventually(t, func() bool { return f.count("game_list") > 0 }, 5*time.Second, 10*time.Millisecond)
	return b, cancel
}

// syncUpdate builds the kind of full state message the server sends on
// a resync.
func syncUpdate(state string, playerIDs []string, options map[string]any, round map[string]any, hand []any) map[string]any {
	players := make([]any, 0, len(playerIDs))
	for i, id := range playerIDs {
		players = append(players, map[string]any{
			"id": id, "name": fmt.Sprintf("player%d", i), "score": 0.0, "playing": false,
		})
	}
	opts := map[string]any{"public": true, "player_limit": 10.0, "game_title": "bots at play"}
	for key, value := range options {
		opts[key] = value
	}
	if hand == nil {
		hand = []any{}
	}
	return map[string]any{
		"game":    map[string]any{"code": "TESTG", "state": state, "current_round": round},
		"players": players,
		"options": opts,
		"hand":    hand,
	}
}

func playingRound(czar string, pick float64) map[string]any {
	return map[string]any{
		"id":          "round-1",
		"black_card":  map[string]any{"text": "_?", "pick_count": pick, "draw_count": 0.0, "pack_name": "Test Pack"},
		"card_czar":   czar,
		"white_cards": nil,
		"winner":      nil,
	}
}

func TestTargetGameSize(t *testing.T) {
	cfg := botTestConfig(t)
	for _, code := range []string{"AAAAA", "QWERT", "ZZZZZ"} {
		size := targetGameSize(cfg, code)
		assert.GreaterOrEqual(t, size, 3, "code %s", code)
		assert.LessOrEqual(t, size, 9, "code %s", code)
		assert.Equal(t, size, targetGameSize(cfg, code), "same code must give the same target")
	}
}

func TestBotRegistersFreshName(t *testing.T) {
	cfg := botTestConfig(t)
	f := newFakeConn()
	attempts := 0
	f.handle("authenticate", func(content map[string]any) (map[string]any, error) {
		attempts++
		if attempts == 1 {
			return nil, game.NewError("name_in_use", "name already in use")
		}
		name, _ := content["name"].(string)
		return map[string]any{"id": "bot-id-1", "token": "token-1", "name": name, "in_game": false}, nil
	})
	_, cancel := startTestBot(t, cfg, f)
	defer cancel()

	require.Equal(t, 2, f.count("authenticate"))
	content, ok := f.last("authenticate")
	require.True(t, ok)
	assert.Regexp(t, `^RandomPlayBot\d{6}$`, content["name"])
}

func TestBotReusesCredentials(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		cfg := botTestConfig(t)
		f := newFakeConn()
		f.handle("authenticate", func(content map[string]any) (map[string]any, error) {
			if content["id"] != "old-id" || content["token"] != "old-token" {
				return nil, game.NewError("invalid_token", "invalid token")
			}
			return map[string]any{"id": "old-id", "token": "old-token", "name": "OldBot", "in_game": false}, nil
		})
		b := NewRandomPlayBot(Config{Config: cfg, Dial: f.dialer(), Rand: rand.New(rand.NewSource(1))})
		b.creds = &credentials{id: "old-id", token: "old-token"}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		b.Start(ctx)

		require.Eventually(t, func() bool { return f.count("game_list") > 0 }, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, 1, f.count("authenticate"))
	})

	t.Run("forgotten", func(t *testing.T) {
		cfg := botTestConfig(t)
		f := newFakeConn()
		f.handle("authenticate", func(content map[string]any) (map[string]any, error) {
			if _, hasID := content["id"]; hasID {
				return nil, game.NewError("user_not_found", "user not found")
			}
			name, _ := content["name"].(string)
			return map[string]any{"id": "bot-id-1", "token": "token-1", "name": name, "in_game": false}, nil
		})
		b := NewRandomPlayBot(Config{Config: cfg, Dial: f.dialer(), Rand: rand.New(rand.NewSource(1))})
		b.creds = &credentials{id: "old-id", token: "old-token"}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		b.Start(ctx)

		require.Eventually(t, func() bool { return f.count("game_list") > 0 }, 5*time.Second, 10*time.Millisecond)
		require.Equal(t, 2, f.count("authenticate"))
		content, ok := f.last("authenticate")
		require.True(t, ok)
		assert.Regexp(t, `^RandomPlayBot\d{6}$`, content["name"])
	})
}

func TestBotCreatesGameWhenNoneOpen(t *testing.T) {
	cfg := botTestConfig(t)
	cfg.Debug.Bots.GameOptions = map[string]any{"password": "", "game_title": "bot playground"}
	f := newFakeConn()
	_, cancel := startTestBot(t, cfg, f)
	defer cancel()

	require.Eventually(t, func() bool { return f.count("game_options") > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, f.calledInOrder("create_game", "game_options"))
	content, ok := f.last("game_options")
	require.True(t, ok)
	assert.Equal(t, true, content["public"])
	assert.Equal(t, "", content["password"])
	assert.Equal(t, "bot playground", content["game_title"])
}

func TestBotJoinsListedGame(t *testing.T) {
	cfg := botTestConfig(t)
	f := newFakeConn()
	f.handle("game_list", func(map[string]any) (map[string]any, error) {
		return map[string]any{"games": []any{
			map[string]any{"code": "ABCDE", "title": "join me", "players": 1.0, "player_limit": 10.0, "passworded": false},
		}}, nil
	})
	_, cancel := startTestBot(t, cfg, f)
	defer cancel()

	require.Eventually(t, func() bool { return f.count("join_game") > 0 }, 5*time.Second, 10*time.Millisecond)
	content, _ := f.last("join_game")
	assert.Equal(t, "ABCDE", content["code"])
	assert.Zero(t, f.count("create_game"))
}

func TestBotSkipsFullAndPasswordedGames(t *testing.T) {
	cfg := botTestConfig(t)
	f := newFakeConn()
	f.handle("game_list", func(map[string]any) (map[string]any, error) {
		return map[string]any{"games": []any{
			map[string]any{"code": "AAAAA", "title": "secret", "players": 1.0, "player_limit": 10.0, "passworded": true},
			map[string]any{"code": "BBBBB", "title": "packed", "players": 10.0, "player_limit": 10.0, "passworded": false},
		}}, nil
	})
	_, cancel := startTestBot(t, cfg, f)
	defer cancel()

	require.Eventually(t, func() bool { return f.count("create_game") > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.count("join_game"))
}

func TestBotWaitsForFullSync(t *testing.T) {
	cfg := botTestConfig(t)
	cfg.Debug.Bots.CreateGames = false
	f := newFakeConn()
	_, cancel := startTestBot(t, cfg, f)
	defer cancel()

	// A game state alone is not enough to act on.
	f.push(map[string]any{
		"game": map[string]any{"code": "TESTG", "state": "playing", "current_round": playingRound("someone-else", 1.0)},
		"hand": []any{map[string]any{"id": "card-1", "text": "A thing", "blank": false}},
	})
	require.Never(t, func() bool { return f.count("play_white") > 0 }, 700*time.Millisecond, 50*time.Millisecond)

	// Players and options complete the picture.
	f.push(map[string]any{
		"players": []any{
			map[string]any{"id": "someone-else", "name": "other", "score": 0.0, "playing": false},
			map[string]any{"id": "bot-id-1", "name": "bot", "score": 0.0, "playing": false},
		},
		"options": map[string]any{"public": true, "player_limit": 10.0},
	})
	require.Eventually(t, func() bool { return f.count("play_white") > 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestBotPlaysWhenAsked(t *testing.T) {
	t.Run("plain card", func(t *testing.T) {
		cfg := botTestConfig(t)
		cfg.Debug.Bots.CreateGames = false
		f := newFakeConn()
		_, cancel := startTestBot(t, cfg, f)
		defer cancel()

		hand := []any{map[string]any{"id": "card-2", "text": "A thing", "blank": false}}
		f.push(syncUpdate("playing", []string{"someone-else", "bot-id-1"}, nil, playingRound("someone-else", 1.0), hand))

		require.Eventually(t, func() bool { return f.count("play_white") > 0 }, 5*time.Second, 10*time.Millisecond)
		content, _ := f.last("play_white")
		assert.Equal(t, "round-1", content["round"])
		cards, ok := content["cards"].([]any)
		require.True(t, ok)
		require.Len(t, cards, 1)
		play := cards[0].(map[string]any)
		assert.Equal(t, "card-2", play["id"])
		_, hasText := play["text"]
		assert.False(t, hasText)
	})

	t.Run("blank card", func(t *testing.T) {
		cfg := botTestConfig(t)
		cfg.Debug.Bots.CreateGames = false
		f := newFakeConn()
		_, cancel := startTestBot(t, cfg, f)
		defer cancel()

		hand := []any{map[string]any{"id": "card-3", "text": nil, "blank": true}}
		f.push(syncUpdate("playing", []string{"someone-else", "bot-id-1"}, nil, playingRound("someone-else", 1.0), hand))

		require.Eventually(t, func() bool { return f.count("play_white") > 0 }, 5*time.Second, 10*time.Millisecond)
		content, _ := f.last("play_white")
		cards := content["cards"].([]any)
		require.Len(t, cards, 1)
		play := cards[0].(map[string]any)
		assert.Equal(t, "card-3", play["id"])
		assert.Equal(t, blankCardText, play["text"])
	})
}

func TestBotJudgesWhenCzar(t *testing.T) {
	cfg := botTestConfig(t)
	cfg.Debug.Bots.CreateGames = false
	f := newFakeConn()
	_, cancel := startTestBot(t, cfg, f)
	defer cancel()

	round := map[string]any{
		"id":          "round-1",
		"black_card":  map[string]any{"text": "_?", "pick_count": 1.0, "draw_count": 0.0, "pack_name": "Test Pack"},
		"card_czar":   "bot-id-1",
		"white_cards": []any{
			[]any{map[string]any{"id": "white-1", "text": "first"}},
			[]any{map[string]any{"id": "white-2", "text": "second"}},
		},
		"winner": nil,
	}
	f.push(syncUpdate("judging", []string{"bot-id-1", "someone-else", "third"}, nil, round, nil))

	require.Eventually(t, func() bool { return f.count("choose_winner") > 0 }, 5*time.Second, 10*time.Millisecond)
	content, _ := f.last("choose_winner")
	assert.Equal(t, "round-1", content["round"])
	assert.Contains(t, []any{"white-1", "white-2"}, content["winner"])
}

func TestBotStartsGameAsHost(t *testing.T) {
	cfg := botTestConfig(t)
	cfg.Debug.Bots.CreateGames = false
	cfg.Debug.Bots.GameOptions = map[string]any{"password": "", "point_limit": 5}
	f := newFakeConn()
	_, cancel := startTestBot(t, cfg, f)
	defer cancel()

	// The bot heads the player list and the limit caps the target size,
	// so three players are enough to start.
	f.push(syncUpdate("not_started",
		[]string{"bot-id-1", "second", "third"},
		map[string]any{"player_limit": 3.0}, nil, nil))

	require.Eventually(t, func() bool { return f.count("start_game") > 0 }, 5*time.Second, 10*time.Millisecond)
	require.True(t, f.calledInOrder("game_options", "start_game"))
	content, _ := f.last("game_options")
	assert.Equal(t, []any{"pack-1"}, content["card_packs"])
	assert.Equal(t, 5, content["point_limit"])
}

func TestBotQuitsWhenGameEnds(t *testing.T) {
	cfg := botTestConfig(t)
	cfg.Debug.Bots.CreateGames = false
	f := newFakeConn()
	b, cancel := startTestBot(t, cfg, f)
	defer cancel()

	f.push(syncUpdate("round_ended", []string{"someone-else", "bot-id-1"}, nil, nil, nil))
	require.False(t, b.Finished())

	f.push(syncUpdate("game_ended", []string{"someone-else", "bot-id-1"}, nil, nil, nil))
	require.Eventually(t, func() bool { return b.Finished() && f.isDead() }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.count("log_out"))
}

func TestBotQuitsWhenKicked(t *testing.T) {
	cfg := botTestConfig(t)
	cfg.Debug.Bots.CreateGames = false
	f := newFakeConn()
	b, cancel := startTestBot(t, cfg, f)
	defer cancel()

	f.push(syncUpdate("round_ended", []string{"someone-else", "bot-id-1"}, nil, nil, nil))
	f.push(map[string]any{"game": nil})

	require.Eventually(t, func() bool { return b.Finished() && f.isDead() }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.count("log_out"))
}

func TestBotQuitsByChatCommand(t *testing.T) {
	chatEvent := func(text string) map[string]any {
		return map[string]any{"events": []any{
			map[string]any{
				"type":   "chat_message",
				"player": map[string]any{"id": "someone-else", "name": "other"},
				"text":   text,
			},
		}}
	}

	t.Run("all bots", func(t *testing.T) {
		cfg := botTestConfig(t)
		cfg.Debug.Bots.CreateGames = false
		f := newFakeConn()
		b, cancel := startTestBot(t, cfg, f)
		defer cancel()

		f.push(chatEvent("hello bots"))
		require.Never(t, func() bool { return b.Finished() }, 300*time.Millisecond, 50*time.Millisecond)

		f.push(chatEvent("bot all quit"))
		require.Eventually(t, func() bool { return b.Finished() }, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("by name", func(t *testing.T) {
		cfg := botTestConfig(t)
		cfg.Debug.Bots.CreateGames = false
		f := newFakeConn()
		b, cancel := startTestBot(t, cfg, f)
		defer cancel()

		content, ok := f.last("authenticate")
		require.True(t, ok)
		name := content["name"].(string)

		f.push(chatEvent("bot SomeOtherBot quit"))
		require.Never(t, func() bool { return b.Finished() }, 300*time.Millisecond, 50*time.Millisecond)

		f.push(chatEvent("bot " + name + " quit"))
		require.Eventually(t, func() bool { return b.Finished() }, 5*time.Second, 10*time.Millisecond)
	})
}
