package game

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"unicode/utf8"

	"github.com/PurkkaKoodari/pyxyzzy/pkg/config"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/utils"
)

// GameOptions are the host-adjustable settings of a single game. Values
// are validated against the server configuration when built, so a held
// GameOptions is always within limits.
type GameOptions struct {
	GameTitle    string
	Public       bool
	ThinkTime    int
	RoundEndTime int
	IdleRounds   int
	BlankCards   int
	PlayerLimit  int
	PointLimit   int
	Password     string
	CardPacks    []*CardPack
}

// optionFields lists the option names in the order they are applied and
// validated, which fixes which error a request with several bad fields
// reports.
var optionFields = []string{
	"game_title",
	"public",
	"think_time",
	"round_end_time",
	"idle_rounds",
	"blank_cards",
	"player_limit",
	"point_limit",
	"password",
	"card_packs",
}

var updateableInGame = map[string]bool{
	"game_title":   true,
	"public":       true,
	"password":     true,
	"player_limit": true,
}

// OptionFields returns the option names in application order.
func OptionFields() []string {
	return slices.Clone(optionFields)
}

// UpdateableInGame reports whether the named option may change while a
// game is running.
func UpdateableInGame(name string) bool {
	return updateableInGame[name]
}

// DefaultOptions returns the options a newly created game starts with.
// The password defaults to a generated code of the configured length.
func DefaultOptions(cfg *config.Config, rng *rand.Rand) GameOptions {
	return GameOptions{
		Public:       cfg.Game.Public.Default,
		ThinkTime:    cfg.Game.ThinkTime.Default,
		RoundEndTime: cfg.Game.RoundEndTime.Default,
		IdleRounds:   cfg.Game.IdleRounds.Default,
		BlankCards:   cfg.Game.BlankCards.Count.Default,
		PlayerLimit:  cfg.Game.PlayerLimit.Default,
		PointLimit:   cfg.Game.PointLimit.Default,
		Password:     utils.GenerateCode(rng, cfg.Game.Password.Characters, cfg.Game.Password.Length.Default),
	}
}

// JSON returns the wire form of the options. Card packs are referenced
// by id.
func (o GameOptions) JSON() map[string]any {
	packs := make([]string, 0, len(o.CardPacks))
	for _, pack := range o.CardPacks {
		packs = append(packs, pack.ID.String())
	}
	return map[string]any{
		"game_title":     o.GameTitle,
		"public":         o.Public,
		"think_time":     o.ThinkTime,
		"round_end_time": o.RoundEndTime,
		"idle_rounds":    o.IdleRounds,
		"blank_cards":    o.BlankCards,
		"player_limit":   o.PlayerLimit,
		"point_limit":    o.PointLimit,
		"password":       o.Password,
		"card_packs":     packs,
	}
}

func (o GameOptions) validate(cfg *config.Config) error {
	if utf8.RuneCountInString(o.GameTitle) > cfg.Game.Title.MaxLength {
		return fmt.Errorf("length of game_title must be at most %d", cfg.Game.Title.MaxLength)
	}
	if !cfg.Game.Title.IsValidTitle(o.GameTitle) {
		return fmt.Errorf("game_title: blacklisted words used")
	}
	if err := cfg.Game.Public.CheckPublic(o.Public); err != nil {
		return fmt.Errorf("public: %v", err)
	}
	if err := checkOptionRange("think_time", o.ThinkTime, cfg.Game.ThinkTime.IntLimits); err != nil {
		return err
	}
	if err := checkOptionRange("round_end_time", o.RoundEndTime, cfg.Game.RoundEndTime.IntLimits); err != nil {
		return err
	}
	if err := checkOptionRange("idle_rounds", o.IdleRounds, cfg.Game.IdleRounds.IntLimits); err != nil {
		return err
	}
	if err := checkOptionRange("blank_cards", o.BlankCards, cfg.Game.BlankCards.Count.IntLimits); err != nil {
		return err
	}
	if err := checkOptionRange("player_limit", o.PlayerLimit, cfg.Game.PlayerLimit.IntLimits); err != nil {
		return err
	}
	if err := checkOptionRange("point_limit", o.PointLimit, cfg.Game.PointLimit.IntLimits); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(o.Password); n < cfg.Game.Password.Length.Min {
		return fmt.Errorf("length of password must be at least %d", cfg.Game.Password.Length.Min)
	} else if n > cfg.Game.Password.Length.Max {
		return fmt.Errorf("length of password must be at most %d", cfg.Game.Password.Length.Max)
	}
	return nil
}

func checkOptionRange(name string, value int, limits config.IntLimits) error {
	if value < limits.Min {
		return fmt.Errorf("%s must be at least %d", name, limits.Min)
	}
	if value > limits.Max {
		return fmt.Errorf("%s must be at most %d", name, limits.Max)
	}
	return nil
}

// OptionsBuilder accumulates option changes on top of a base and turns
// them into a validated GameOptions. Values come straight from decoded
// JSON; type checks happen in Build.
type OptionsBuilder struct {
	cfg      *config.Config
	base     GameOptions
	changes  map[string]any
	packs    []*CardPack
	setPacks bool
}

// NewOptionsBuilder starts a builder from the given base options.
func NewOptionsBuilder(cfg *config.Config, base GameOptions) *OptionsBuilder {
	return &OptionsBuilder{
		cfg:     cfg,
		base:    base,
		changes: make(map[string]any),
	}
}

// Set records a change to the named scalar option. Unknown names are
// ignored.
func (b *OptionsBuilder) Set(name string, value any) {
	b.changes[name] = value
}

// SetCardPacks records a change to the selected card packs.
func (b *OptionsBuilder) SetCardPacks(packs []*CardPack) {
	b.packs = packs
	b.setPacks = true
}

// Build applies the recorded changes and validates the result. The error
// reports the first offending field in application order.
func (b *OptionsBuilder) Build() (GameOptions, error) {
	o := b.base
	for _, name := range optionFields {
		value, ok := b.changes[name]
		if !ok {
			continue
		}
		switch name {
		case "game_title":
			s, ok := value.(string)
			if !ok {
				return GameOptions{}, fmt.Errorf("game_title must be a string")
			}
			o.GameTitle = s
		case "public":
			v, ok := value.(bool)
			if !ok {
				return GameOptions{}, fmt.Errorf("public must be a boolean")
			}
			o.Public = v
		case "think_time", "round_end_time", "idle_rounds", "blank_cards", "player_limit", "point_limit":
			n, ok := intValue(value)
			if !ok {
				return GameOptions{}, fmt.Errorf("%s must be an integer", name)
			}
			switch name {
			case "think_time":
				o.ThinkTime = n
			case "round_end_time":
				o.RoundEndTime = n
			case "idle_rounds":
				o.IdleRounds = n
			case "blank_cards":
				o.BlankCards = n
			case "player_limit":
				o.PlayerLimit = n
			case "point_limit":
				o.PointLimit = n
			}
		case "password":
			s, ok := value.(string)
			if !ok {
				return GameOptions{}, fmt.Errorf("password must be a string")
			}
			o.Password = s
		}
	}
	if b.setPacks {
		o.CardPacks = b.packs
	}
	if err := o.validate(b.cfg); err != nil {
		return GameOptions{}, err
	}
	return o, nil
}

// intValue converts a decoded JSON value to an int, rejecting fractions.
func intValue(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}
