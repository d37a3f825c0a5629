// Package config defines the server configuration file structure and the
// validation rules for player-supplied strings. Limits here are hard
// floors for cases where exceeding them would make no sense at all; the
// config file sets its own stricter limits for what is reasonable for
// the players.
package config

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"unicode/utf8"
)

// UIVersion is the protocol version a client must present in its
// handshake message before any other request is accepted.
const UIVersion = "0.1"

// Config is the root of the server configuration file.
type Config struct {
	Debug    DebugConfig    `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Game     GameConfig     `yaml:"game"`
	Users    UserConfig     `yaml:"users"`
	Chat     ChatConfig     `yaml:"chat"`
}

// DebugConfig holds development-only switches.
type DebugConfig struct {
	Enabled bool      `yaml:"enabled"`
	Bots    BotConfig `yaml:"bots"`
}

// BotConfig controls the built-in bot fleet used for load and play
// testing.
type BotConfig struct {
	Count       int            `yaml:"count"`
	GameSize    int            `yaml:"game_size"`
	CreateGames bool           `yaml:"create_games"`
	PlaySpeed   NormalDist     `yaml:"play_speed"`
	GameOptions map[string]any `yaml:"game_options"`
}

// NormalDist parameterizes a normal distribution, used for randomized
// bot pacing.
type NormalDist struct {
	Mean   float64 `yaml:"mean"`
	Stddev float64 `yaml:"stddev"`
}

// Sample draws one value from the distribution.
func (n NormalDist) Sample(rng *rand.Rand) float64 {
	return n.Mean + rng.NormFloat64()*n.Stddev
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	File string `yaml:"file"`
}

// IntLimits is an inclusive integer range.
type IntLimits struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Contains reports whether n falls inside the range.
func (l IntLimits) Contains(n int) bool {
	return n >= l.Min && n <= l.Max
}

// IntOptions is an integer range plus the default used when a game
// does not set the option explicitly.
type IntOptions struct {
	IntLimits `yaml:",inline"`
	Default   int `yaml:"default"`
}

// GameConfig bounds the per-game options players may choose.
type GameConfig struct {
	Title    TitleConfig     `yaml:"title"`
	Password PasswordConfig  `yaml:"password"`
	Public   PublicityConfig `yaml:"public"`

	ThinkTime    IntOptions `yaml:"think_time"`
	RoundEndTime IntOptions `yaml:"round_end_time"`
	IdleRounds   IntOptions `yaml:"idle_rounds"`

	BlankCards  BlankCardConfig `yaml:"blank_cards"`
	PlayerLimit IntOptions      `yaml:"player_limit"`
	PointLimit  IntOptions      `yaml:"point_limit"`

	HandSize int `yaml:"hand_size"`

	Code CodeConfig `yaml:"code"`
}

type TitleConfig struct {
	MaxLength int      `yaml:"max_length"`
	Default   string   `yaml:"default"`
	Blacklist []string `yaml:"blacklist"`

	blacklist []*regexp.Regexp
}

// IsValidTitle reports whether the title passes the blacklist. Length
// limits are enforced by the game options layer.
func (c *TitleConfig) IsValidTitle(title string) bool {
	return !matchesBlacklist(title, c.blacklist)
}

type PasswordConfig struct {
	Length     IntOptions `yaml:"length"`
	Characters string     `yaml:"characters"`
}

type PublicityConfig struct {
	Default  bool `yaml:"default"`
	Allowed  bool `yaml:"allowed"`
	Required bool `yaml:"required"`
}

// CheckPublic verifies the chosen publicity against the allowed and
// required switches.
func (c *PublicityConfig) CheckPublic(public bool) error {
	if public && !c.Allowed {
		return fmt.Errorf("public games are disabled")
	}
	if !public && c.Required {
		return fmt.Errorf("private games are disabled")
	}
	return nil
}

type BlankCardConfig struct {
	Count     IntOptions `yaml:"count"`
	MaxLength int        `yaml:"max_length"`
	Blacklist []string   `yaml:"blacklist"`

	blacklist []*regexp.Regexp
}

// IsValidText reports whether player-written blank card text is
// acceptable after trimming surrounding whitespace.
func (c *BlankCardConfig) IsValidText(text string) bool {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n < 1 || n > c.MaxLength {
		return false
	}
	return !matchesBlacklist(text, c.blacklist)
}

type CodeConfig struct {
	Length     int    `yaml:"length"`
	Characters string `yaml:"characters"`
}

type UserConfig struct {
	Username UsernameConfig `yaml:"username"`
	// Seconds before a disconnected user is kicked from their game and
	// before they are forgotten entirely.
	DisconnectKickTime   int `yaml:"disconnect_kick_time"`
	DisconnectForgetTime int `yaml:"disconnect_forget_time"`
}

type UsernameConfig struct {
	Length     IntLimits `yaml:"length"`
	Characters string    `yaml:"characters"`
	Blacklist  []string  `yaml:"blacklist"`

	badChars  *regexp.Regexp
	blacklist []*regexp.Regexp
}

// IsValidName reports whether the name is an acceptable username: right
// length, no leading/trailing/doubled spaces, only allowed characters,
// and not blacklisted.
func (c *UsernameConfig) IsValidName(name string) bool {
	if !c.Length.Contains(utf8.RuneCountInString(name)) {
		return false
	}
	if c.badChars.MatchString(name) {
		return false
	}
	return !matchesBlacklist(name, c.blacklist)
}

type ChatConfig struct {
	MaxLength int      `yaml:"max_length"`
	Blacklist []string `yaml:"blacklist"`

	blacklist []*regexp.Regexp
}

// IsValidMessage reports whether a chat message is acceptable after
// trimming surrounding whitespace.
func (c *ChatConfig) IsValidMessage(text string) bool {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n < 1 || n > c.MaxLength {
		return false
	}
	return !matchesBlacklist(text, c.blacklist)
}

// Default returns the configuration used when the file sets nothing.
func Default() *Config {
	return &Config{
		Debug: DebugConfig{
			Enabled: false,
			Bots: BotConfig{
				Count:       0,
				GameSize:    4,
				CreateGames: true,
				PlaySpeed:   NormalDist{Mean: 3, Stddev: 1},
				// bots can only share games that have no password
				GameOptions: map[string]any{"password": ""},
			},
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 9001,
		},
		Database: DatabaseConfig{
			File: "cards.db",
		},
		Game: GameConfig{
			Title: TitleConfig{
				MaxLength: 32,
				Default:   "{USER}'s game",
			},
			Password: PasswordConfig{
				Length:     IntOptions{IntLimits: IntLimits{Min: 0, Max: 12}, Default: 5},
				Characters: "ABCDEFGHJKLMNPQRSTUVWXYZ23456789",
			},
			Public: PublicityConfig{
				Default:  true,
				Allowed:  true,
				Required: false,
			},
			ThinkTime:    IntOptions{IntLimits: IntLimits{Min: 5, Max: 600}, Default: 60},
			RoundEndTime: IntOptions{IntLimits: IntLimits{Min: 2, Max: 60}, Default: 8},
			IdleRounds:   IntOptions{IntLimits: IntLimits{Min: 1, Max: 5}, Default: 2},
			BlankCards: BlankCardConfig{
				Count:     IntOptions{IntLimits: IntLimits{Min: 0, Max: 50}, Default: 0},
				MaxLength: 140,
			},
			PlayerLimit: IntOptions{IntLimits: IntLimits{Min: 3, Max: 20}, Default: 10},
			PointLimit:  IntOptions{IntLimits: IntLimits{Min: 1, Max: 50}, Default: 8},
			HandSize:    10,
			Code: CodeConfig{
				Length:     5,
				Characters: "ABCDEFGHJKLMNPQRSTUVWXYZ",
			},
		},
		Users: UserConfig{
			Username: UsernameConfig{
				Length:     IntLimits{Min: 3, Max: 32},
				Characters: `-_ A-Za-z0-9`,
			},
			DisconnectKickTime:   60,
			DisconnectForgetTime: 3600,
		},
		Chat: ChatConfig{
			MaxLength: 500,
		},
	}
}

// Validate checks the hard floors and cross-field rules, and compiles
// the blacklists and username pattern for the IsValid helpers. It must
// be called before the config is used.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Debug.Bots.Count < 0 || c.Debug.Bots.Count > 1000 {
		return fmt.Errorf("debug.bots.count must be between 0 and 1000")
	}
	if c.Debug.Bots.GameSize < 3 {
		return fmt.Errorf("debug.bots.game_size must be at least 3")
	}

	if err := c.Game.Title.validate(); err != nil {
		return err
	}
	if err := c.Game.Password.validate(); err != nil {
		return err
	}
	if err := c.Game.Public.validate(); err != nil {
		return err
	}
	if err := c.Game.ThinkTime.validate("game.think_time", 1); err != nil {
		return err
	}
	if err := c.Game.RoundEndTime.validate("game.round_end_time", 1); err != nil {
		return err
	}
	if err := c.Game.IdleRounds.validate("game.idle_rounds", 1); err != nil {
		return err
	}
	if err := c.Game.BlankCards.validate(); err != nil {
		return err
	}
	if err := c.Game.PlayerLimit.validate("game.player_limit", 3); err != nil {
		return err
	}
	if err := c.Game.PointLimit.validate("game.point_limit", 1); err != nil {
		return err
	}
	if c.Game.HandSize < 2 {
		return fmt.Errorf("game.hand_size must be at least 2")
	}
	if c.Game.Code.Length < 1 {
		return fmt.Errorf("game.code.length must be at least 1")
	}
	if len(c.Game.Code.Characters) < 2 {
		return fmt.Errorf("game.code.characters must have at least 2 characters")
	}

	if err := c.Users.Username.validate(); err != nil {
		return err
	}
	if c.Users.DisconnectKickTime < 1 {
		return fmt.Errorf("users.disconnect_kick_time must be at least 1")
	}
	if c.Users.DisconnectForgetTime < 1 {
		return fmt.Errorf("users.disconnect_forget_time must be at least 1")
	}

	if c.Chat.MaxLength < 1 {
		return fmt.Errorf("chat.max_length must be at least 1")
	}
	var err error
	if c.Chat.blacklist, err = compileBlacklist("chat.blacklist", c.Chat.Blacklist); err != nil {
		return err
	}

	return nil
}

func (o IntOptions) validate(path string, floor int) error {
	if o.Min < floor {
		return fmt.Errorf("%s.min must be at least %d", path, floor)
	}
	if o.Max < o.Min {
		return fmt.Errorf("%s.max can't be less than min", path)
	}
	if o.Default < o.Min || o.Default > o.Max {
		return fmt.Errorf("%s.default must be between min and max", path)
	}
	return nil
}

func (c *TitleConfig) validate() error {
	if c.MaxLength < 0 {
		return fmt.Errorf("game.title.max_length must be at least 0")
	}
	var err error
	c.blacklist, err = compileBlacklist("game.title.blacklist", c.Blacklist)
	return err
}

func (c *PasswordConfig) validate() error {
	if err := c.Length.validate("game.password.length", 0); err != nil {
		return err
	}
	if len(c.Characters) < 1 {
		return fmt.Errorf("game.password.characters must not be empty")
	}
	return nil
}

func (c *PublicityConfig) validate() error {
	if !c.Allowed && c.Required {
		return fmt.Errorf("game.public.required can't be true if allowed is false")
	}
	if !c.Allowed && c.Default {
		return fmt.Errorf("game.public.default can't be true if allowed is false")
	}
	if c.Required && !c.Default {
		return fmt.Errorf("game.public.default can't be false if required is true")
	}
	return nil
}

func (c *BlankCardConfig) validate() error {
	if err := c.Count.validate("game.blank_cards.count", 0); err != nil {
		return err
	}
	if c.MaxLength < 1 {
		return fmt.Errorf("game.blank_cards.max_length must be at least 1")
	}
	var err error
	c.blacklist, err = compileBlacklist("game.blank_cards.blacklist", c.Blacklist)
	return err
}

func (c *UsernameConfig) validate() error {
	if c.Length.Min < 1 {
		return fmt.Errorf("users.username.length.min must be at least 1")
	}
	if c.Length.Max < c.Length.Min {
		return fmt.Errorf("users.username.length.max can't be less than min")
	}
	if len(c.Characters) < 1 {
		return fmt.Errorf("users.username.characters must not be empty")
	}
	// Leading or trailing spaces, doubled spaces, or anything outside
	// the allowed character class makes a name invalid.
	badChars, err := regexp.Compile(`^ | {2}| $|[^` + c.Characters + `]`)
	if err != nil {
		return fmt.Errorf("users.username.characters is not a valid character class: %v", err)
	}
	c.badChars = badChars
	c.blacklist, err = compileBlacklist("users.username.blacklist", c.Blacklist)
	return err
}

func compileBlacklist(path string, patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for i, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("%s item %d is not a valid regex", path, i+1)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchesBlacklist(s string, blacklist []*regexp.Regexp) bool {
	for _, re := range blacklist {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// ConfigJSON returns the client-visible subset of the configuration,
// sent to every client in the handshake reply. Network, database and
// debug settings, blacklists, and disconnect timings stay private.
func (c *Config) ConfigJSON() map[string]any {
	return map[string]any{
		"game": map[string]any{
			"title": map[string]any{
				"max_length": c.Game.Title.MaxLength,
				"default":    c.Game.Title.Default,
			},
			"password": map[string]any{
				"length":     c.Game.Password.Length.json(),
				"characters": c.Game.Password.Characters,
			},
			"public": map[string]any{
				"default":  c.Game.Public.Default,
				"allowed":  c.Game.Public.Allowed,
				"required": c.Game.Public.Required,
			},
			"think_time":     c.Game.ThinkTime.json(),
			"round_end_time": c.Game.RoundEndTime.json(),
			"idle_rounds":    c.Game.IdleRounds.json(),
			"blank_cards": map[string]any{
				"count":      c.Game.BlankCards.Count.json(),
				"max_length": c.Game.BlankCards.MaxLength,
			},
			"player_limit": c.Game.PlayerLimit.json(),
			"point_limit":  c.Game.PointLimit.json(),
			"hand_size":    c.Game.HandSize,
			"code": map[string]any{
				"length":     c.Game.Code.Length,
				"characters": c.Game.Code.Characters,
			},
		},
		"users": map[string]any{
			"username": map[string]any{
				"length": map[string]any{
					"min": c.Users.Username.Length.Min,
					"max": c.Users.Username.Length.Max,
				},
				"characters": c.Users.Username.Characters,
			},
		},
		"chat": map[string]any{
			"max_length": c.Chat.MaxLength,
		},
	}
}

func (o IntOptions) json() map[string]any {
	return map[string]any{"min": o.Min, "max": o.Max, "default": o.Default}
}
