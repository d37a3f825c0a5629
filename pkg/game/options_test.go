package game

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/PurkkaKoodari/pyxyzzy/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	return cfg
}

func TestDefaultOptions(t *testing.T) {
	cfg := testConfig(t)
	rng := rand.New(rand.NewSource(42))
	opts := DefaultOptions(cfg, rng)

	if opts.ThinkTime != cfg.Game.ThinkTime.Default {
		t.Errorf("Expected think time %d, got %d", cfg.Game.ThinkTime.Default, opts.ThinkTime)
	}
	if opts.Public != cfg.Game.Public.Default {
		t.Errorf("Expected public %v, got %v", cfg.Game.Public.Default, opts.Public)
	}
	if got := utf8.RuneCountInString(opts.Password); got != cfg.Game.Password.Length.Default {
		t.Errorf("Expected password of length %d, got %q", cfg.Game.Password.Length.Default, opts.Password)
	}
	for _, r := range opts.Password {
		if !strings.ContainsRune(cfg.Game.Password.Characters, r) {
			t.Errorf("Password %q contains character outside the configured set", opts.Password)
		}
	}
}

func TestOptionsBuilderApplies(t *testing.T) {
	cfg := testConfig(t)
	rng := rand.New(rand.NewSource(42))
	pack := testPack("test", 5, 20)

	b := NewOptionsBuilder(cfg, DefaultOptions(cfg, rng))
	b.Set("game_title", "My Game")
	b.Set("think_time", 30)
	b.Set("point_limit", float64(5))
	b.Set("password", "")
	b.SetCardPacks([]*CardPack{pack})

	opts, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if opts.GameTitle != "My Game" {
		t.Errorf("Expected title to apply, got %q", opts.GameTitle)
	}
	if opts.ThinkTime != 30 {
		t.Errorf("Expected think time 30, got %d", opts.ThinkTime)
	}
	if opts.PointLimit != 5 {
		t.Errorf("Expected point limit 5 from JSON number, got %d", opts.PointLimit)
	}
	if opts.Password != "" {
		t.Errorf("Expected password cleared, got %q", opts.Password)
	}
	if len(opts.CardPacks) != 1 || opts.CardPacks[0] != pack {
		t.Errorf("Expected card packs to apply, got %v", opts.CardPacks)
	}
	// Untouched fields keep their defaults
	if opts.RoundEndTime != cfg.Game.RoundEndTime.Default {
		t.Errorf("Expected untouched round_end_time default, got %d", opts.RoundEndTime)
	}
}

func TestOptionsBuilderTypeErrors(t *testing.T) {
	cfg := testConfig(t)
	rng := rand.New(rand.NewSource(42))

	tests := []struct {
		field   string
		value   any
		message string
	}{
		{"game_title", 42, "game_title must be a string"},
		{"public", "yes", "public must be a boolean"},
		{"think_time", "30", "think_time must be an integer"},
		{"think_time", 30.5, "think_time must be an integer"},
		{"password", false, "password must be a string"},
	}
	for _, test := range tests {
		b := NewOptionsBuilder(cfg, DefaultOptions(cfg, rng))
		b.Set(test.field, test.value)
		_, err := b.Build()
		if err == nil {
			t.Errorf("Expected %s=%v to fail", test.field, test.value)
			continue
		}
		if err.Error() != test.message {
			t.Errorf("Expected error %q, got %q", test.message, err.Error())
		}
	}
}

func TestOptionsBuilderRangeErrors(t *testing.T) {
	cfg := testConfig(t)
	rng := rand.New(rand.NewSource(42))

	tests := []struct {
		field   string
		value   any
		message string
	}{
		{"think_time", 1, "think_time must be at least 5"},
		{"think_time", 1000, "think_time must be at most 600"},
		{"player_limit", 2, "player_limit must be at least 3"},
		{"game_title", strings.Repeat("x", 33), "length of game_title must be at most 32"},
		{"password", strings.Repeat("x", 13), "length of password must be at most 12"},
	}
	for _, test := range tests {
		b := NewOptionsBuilder(cfg, DefaultOptions(cfg, rng))
		b.Set(test.field, test.value)
		_, err := b.Build()
		if err == nil {
			t.Errorf("Expected %s=%v to fail", test.field, test.value)
			continue
		}
		if err.Error() != test.message {
			t.Errorf("Expected error %q, got %q", test.message, err.Error())
		}
	}
}

func TestOptionsBuilderReportsFirstFieldInOrder(t *testing.T) {
	cfg := testConfig(t)
	rng := rand.New(rand.NewSource(42))

	// think_time comes before point_limit in application order, so its
	// error wins no matter the map iteration order
	b := NewOptionsBuilder(cfg, DefaultOptions(cfg, rng))
	b.Set("point_limit", 0)
	b.Set("think_time", 0)
	_, err := b.Build()
	if err == nil {
		t.Fatal("Expected Build to fail")
	}
	if err.Error() != "think_time must be at least 5" {
		t.Errorf("Expected think_time error first, got %q", err.Error())
	}
}

func TestUpdateableInGame(t *testing.T) {
	updateable := []string{"game_title", "public", "password", "player_limit"}
	for _, field := range updateable {
		if !UpdateableInGame(field) {
			t.Errorf("Expected %s to be updateable in game", field)
		}
	}
	locked := []string{"think_time", "round_end_time", "idle_rounds", "blank_cards", "point_limit", "card_packs"}
	for _, field := range locked {
		if UpdateableInGame(field) {
			t.Errorf("Expected %s to be locked in game", field)
		}
	}
}

func TestOptionsJSON(t *testing.T) {
	cfg := testConfig(t)
	rng := rand.New(rand.NewSource(42))
	pack := testPack("test", 5, 20)

	opts := DefaultOptions(cfg, rng)
	opts.GameTitle = "Title"
	opts.CardPacks = []*CardPack{pack}

	data := opts.JSON()
	if data["game_title"] != "Title" {
		t.Errorf("Expected game_title in JSON, got %v", data["game_title"])
	}
	packs, ok := data["card_packs"].([]string)
	if !ok || len(packs) != 1 || packs[0] != pack.ID.String() {
		t.Errorf("Expected card packs as id list, got %v", data["card_packs"])
	}
}
