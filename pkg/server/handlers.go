package server

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/PurkkaKoodari/pyxyzzy/pkg/game"
)

// handlerFunc is one API call handler. It runs inside a game server
// turn and returns extra fields for the reply envelope, or an error to
// report to the client.
type handlerFunc func(c *Conn, content map[string]any) (map[string]any, error)

// handlers maps action names to their handlers. Authentication is
// checked in dispatch; game membership checks are layered on here.
var handlers = map[string]handlerFunc{
	"authenticate":  (*Conn).handleAuthenticate,
	"log_out":       (*Conn).handleLogOut,
	"game_list":     (*Conn).handleGameList,
	"create_game":   requireNotInGame((*Conn).handleCreateGame),
	"join_game":     requireNotInGame((*Conn).handleJoinGame),
	"leave_game":    requireInGame((*Conn).handleLeaveGame),
	"kick_player":   requireHost((*Conn).handleKickPlayer),
	"game_options":  requireHost((*Conn).handleGameOptions),
	"start_game":    requireHost((*Conn).handleStartGame),
	"stop_game":     requireHost((*Conn).handleStopGame),
	"play_white":    requireInGame((*Conn).handlePlayWhite),
	"choose_winner": requireCzar((*Conn).handleChooseWinner),
	"chat":          requireInGame((*Conn).handleChat),
}

func requireNotInGame(h handlerFunc) handlerFunc {
	return func(c *Conn, content map[string]any) (map[string]any, error) {
		if c.user.Game() != nil {
			return nil, game.NewStateError("user_in_game", "user already in game")
		}
		return h(c, content)
	}
}

func requireInGame(h handlerFunc) handlerFunc {
	return func(c *Conn, content map[string]any) (map[string]any, error) {
		if c.user.Game() == nil {
			return nil, game.NewStateError("user_not_in_game", "user not in game")
		}
		return h(c, content)
	}
}

func requireCzar(h handlerFunc) handlerFunc {
	return requireInGame(func(c *Conn, content map[string]any) (map[string]any, error) {
		if c.user.Game().CardCzar() != c.user.Player() {
			return nil, game.NewStateError("user_not_czar", "you are not the card czar")
		}
		return h(c, content)
	})
}

func requireHost(h handlerFunc) handlerFunc {
	return requireInGame(func(c *Conn, content map[string]any) (map[string]any, error) {
		if c.user.Game().Host() != c.user.Player() {
			return nil, game.NewStateError("user_not_host", "you are not the host")
		}
		return h(c, content)
	})
}

// uuidField extracts a UUID-valued request field.
func uuidField(content map[string]any, key string) (uuid.UUID, bool) {
	s, ok := content[key].(string)
	if !ok {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(s)
	return id, err == nil
}

// handleAuthenticate logs the connection in, either as a new user with
// a fresh name or as an existing user presenting its id and token.
func (c *Conn) handleAuthenticate(content map[string]any) (map[string]any, error) {
	if c.user != nil {
		return nil, game.NewError("already_authenticated", "already authenticated")
	}

	var user *game.User
	_, hasID := content["id"]
	_, hasToken := content["token"]
	_, hasName := content["name"]
	switch {
	case hasID && hasToken:
		id, ok := uuidField(content, "id")
		if !ok {
			return nil, game.NewInvalidRequest("invalid id")
		}
		found, ok := c.srv.games.UserByID(id)
		if !ok {
			return nil, game.NewError("user_not_found", "user not found")
		}
		token, _ := content["token"].(string)
		if token != found.Token {
			return nil, game.NewError("invalid_token", "invalid token")
		}
		found.Reconnected(c)
		user = found
	case hasName:
		name, ok := content["name"].(string)
		if !ok || !c.srv.cfg.Users.Username.IsValidName(name) {
			return nil, game.NewInvalidRequest("invalid name")
		}
		if c.srv.games.NameTaken(name) {
			return nil, game.NewError("name_in_use", "name already in use")
		}
		user = game.NewUser(name, c.srv.games, c)
		if err := c.srv.games.AddUser(user); err != nil {
			return nil, err
		}
	default:
		return nil, game.NewInvalidRequest("missing id/token or name")
	}

	c.user = user
	c.log.Infof("%s authenticated as %s", c.addr, user)
	if user.Game() != nil {
		user.Game().FullResync(user.Player())
	}
	return map[string]any{
		"id":      user.ID.String(),
		"token":   user.Token,
		"name":    user.Name,
		"in_game": user.Game() != nil,
	}, nil
}

func (c *Conn) handleLogOut(map[string]any) (map[string]any, error) {
	c.srv.games.RemoveUser(c.user, game.LeaveVoluntary)
	c.user = nil
	return nil, nil
}

func (c *Conn) handleGameList(map[string]any) (map[string]any, error) {
	public := c.srv.games.PublicGames()
	list := make([]any, 0, len(public))
	for _, g := range public {
		list = append(list, g.GameListJSON())
	}
	return map[string]any{"games": list}, nil
}

func (c *Conn) handleCreateGame(map[string]any) (map[string]any, error) {
	g := game.NewGame(c.srv.games)
	if err := g.AddPlayer(c.user); err != nil {
		return nil, err
	}
	return nil, c.srv.games.AddGame(g)
}

func (c *Conn) handleJoinGame(content map[string]any) (map[string]any, error) {
	code, ok := content["code"].(string)
	if !ok {
		return nil, game.NewInvalidRequest("invalid code")
	}
	g, ok := c.srv.games.GameByCode(code)
	if !ok {
		return nil, game.NewError("game_not_found", "game not found")
	}
	if g.Options().Password != "" {
		password, _ := content["password"].(string)
		if password == "" {
			return nil, game.NewError("password_required", "a password is required to join the game")
		}
		if !strings.EqualFold(password, g.Options().Password) {
			return nil, game.NewError("password_incorrect", "incorrect password")
		}
	}
	return nil, g.AddPlayer(c.user)
}

func (c *Conn) handleLeaveGame(map[string]any) (map[string]any, error) {
	return nil, c.user.Game().RemovePlayer(c.user.Player(), game.LeaveVoluntary)
}

func (c *Conn) handleKickPlayer(content map[string]any) (map[string]any, error) {
	id, ok := uuidField(content, "user")
	if !ok {
		return nil, game.NewInvalidRequest("invalid user")
	}
	if id == c.user.ID {
		return nil, game.NewStateError("self_kick", "can't kick yourself")
	}
	player, ok := c.user.Game().PlayerByID(id)
	if !ok {
		return nil, game.NewStateError("player_not_in_game", "the player is not in the game")
	}
	return nil, c.user.Game().RemovePlayer(player, game.LeaveHostKick)
}

// handleGameOptions applies a partial options update. Fields are
// checked in a fixed order so a request with several bad fields always
// reports the same one.
func (c *Conn) handleGameOptions(content map[string]any) (map[string]any, error) {
	g := c.user.Game()
	builder := game.NewOptionsBuilder(c.srv.cfg, g.Options())
	for _, field := range game.OptionFields() {
		value, ok := content[field]
		if !ok {
			continue
		}
		if g.Running() && !game.UpdateableInGame(field) {
			return nil, game.NewStateError("option_locked",
				fmt.Sprintf("%s can't be changed while the game is ongoing", field))
		}
		if field == "card_packs" {
			packs, err := c.resolveCardPacks(value)
			if err != nil {
				return nil, err
			}
			builder.SetCardPacks(packs)
			continue
		}
		builder.Set(field, value)
	}
	options, err := builder.Build()
	if err != nil {
		return nil, game.NewError("invalid_options", err.Error())
	}
	g.UpdateOptions(options)
	return nil, nil
}

// resolveCardPacks turns a request's list of pack ids into the packs
// registered on the server.
func (c *Conn) resolveCardPacks(value any) ([]*game.CardPack, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, game.NewInvalidRequest("invalid card_packs list")
	}
	packs := make([]*game.CardPack, 0, len(list))
	for _, entry := range list {
		s, ok := entry.(string)
		if !ok {
			return nil, game.NewInvalidRequest("invalid card_packs list")
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, game.NewInvalidRequest("invalid card_packs list")
		}
		pack, ok := c.srv.games.CardPackByID(id)
		if !ok {
			return nil, game.NewInvalidRequest("invalid card_packs list")
		}
		packs = append(packs, pack)
	}
	return packs, nil
}

func (c *Conn) handleStartGame(map[string]any) (map[string]any, error) {
	return nil, c.user.Game().StartGame()
}

func (c *Conn) handleStopGame(map[string]any) (map[string]any, error) {
	c.user.Game().StopGame()
	return nil, nil
}

func (c *Conn) handlePlayWhite(content map[string]any) (map[string]any, error) {
	roundID, ok := uuidField(content, "round")
	if !ok {
		return nil, game.NewInvalidRequest("invalid round")
	}
	rawCards, ok := content["cards"].([]any)
	if !ok {
		return nil, game.NewInvalidRequest("invalid cards")
	}
	plays := make([]game.CardPlay, 0, len(rawCards))
	for _, raw := range rawCards {
		slot, ok := raw.(map[string]any)
		if !ok {
			return nil, game.NewInvalidRequest("invalid cards")
		}
		play := game.CardPlay{}
		if play.SlotID, ok = uuidField(slot, "id"); !ok {
			return nil, game.NewInvalidRequest("invalid cards")
		}
		if text, present := slot["text"]; present && text != nil {
			s, ok := text.(string)
			if !ok || !c.srv.cfg.Game.BlankCards.IsValidText(s) {
				return nil, game.NewInvalidRequest("invalid cards")
			}
			trimmed := strings.TrimSpace(s)
			play.Text = &trimmed
		}
		plays = append(plays, play)
	}
	return nil, c.user.Game().PlayWhiteCards(roundID, c.user.Player(), plays)
}

func (c *Conn) handleChooseWinner(content map[string]any) (map[string]any, error) {
	roundID, ok := uuidField(content, "round")
	if !ok {
		return nil, game.NewInvalidRequest("invalid round")
	}
	winner, ok := uuidField(content, "winner")
	if !ok {
		return nil, game.NewInvalidRequest("invalid winner")
	}
	return nil, c.user.Game().ChooseWinner(roundID, winner)
}

// handleChat relays a chat message to everyone in the game. The event
// carries the text as sent; trimming is the client's business.
func (c *Conn) handleChat(content map[string]any) (map[string]any, error) {
	text, ok := content["text"].(string)
	if !ok || !c.srv.cfg.Chat.IsValidMessage(text) {
		return nil, game.NewInvalidRequest("invalid text")
	}
	c.user.Game().SendEvent(map[string]any{
		"type":   "chat_message",
		"player": c.user.Player().EventJSON(),
		"text":   text,
	})
	return nil, nil
}
