package game

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PurkkaKoodari/pyxyzzy/pkg/utils"
)

// Connection is the transport-side handle the game layer uses to reach
// a user's client.
type Connection interface {
	// SendMessage queues a JSON-compatible message for delivery. It must
	// not block; backpressure from slow clients is the transport's
	// problem.
	SendMessage(message map[string]any)
	// Replaced tells the client that another connection took over the
	// user and that this connection is closing.
	Replaced()
}

// User is an authenticated person on the server, possibly in a game and
// possibly temporarily disconnected. All methods must run inside the
// server's Run loop.
type User struct {
	ID    uuid.UUID
	Token string
	Name  string

	server *GameServer
	game   *Game
	player *Player
	conn   Connection

	kickTimer   utils.CallbackTimer
	forgetTimer utils.CallbackTimer
}

// NewUser creates a user attached to the given connection. The token is
// the client's proof of identity for later reconnects.
func NewUser(name string, server *GameServer, conn Connection) *User {
	token := make([]byte, 24)
	rand.Read(token)
	return &User{
		ID:     uuid.New(),
		Token:  base64.StdEncoding.EncodeToString(token),
		Name:   name,
		server: server,
		conn:   conn,
	}
}

func (u *User) String() string {
	return fmt.Sprintf("%s [%s]", u.Name, u.ID)
}

// Game returns the game the user is in, or nil.
func (u *User) Game() *Game {
	return u.game
}

// Player returns the user's player in their current game, or nil.
func (u *User) Player() *Player {
	return u.player
}

// Connected reports whether the user currently has a connection.
func (u *User) Connected() bool {
	return u.conn != nil
}

// Disconnected detaches the user from conn and starts the timers that
// kick them from their game and later forget them entirely unless they
// reconnect. Calls with a connection that is no longer current are
// ignored.
func (u *User) Disconnected(conn Connection) {
	if conn != u.conn {
		return
	}
	u.conn = nil
	forget := time.Duration(u.server.cfg.Users.DisconnectForgetTime) * time.Second
	u.forgetTimer.Start(forget, func() {
		u.server.Run(func() {
			if u.conn == nil {
				u.server.RemoveUser(u, LeaveDisconnect)
			}
		})
	})
	if u.game != nil {
		kick := time.Duration(u.server.cfg.Users.DisconnectKickTime) * time.Second
		u.kickTimer.Start(kick, func() {
			u.server.Run(func() {
				if u.conn == nil && u.game != nil {
					u.game.RemovePlayer(u.player, LeaveDisconnect)
				}
			})
		})
	}
}

// Reconnected attaches the user to a new connection, displacing any
// previous one, and cancels the disconnection timers.
func (u *User) Reconnected(conn Connection) {
	if u.conn != nil {
		u.conn.Replaced()
	}
	u.conn = conn
	u.kickTimer.Cancel()
	u.forgetTimer.Cancel()
}

// SendMessage delivers a message to the user's client, dropping it if
// no client is connected.
func (u *User) SendMessage(message map[string]any) {
	if u.conn != nil {
		u.conn.SendMessage(message)
	}
}

func (u *User) addedToGame(game *Game, player *Player) {
	u.game = game
	u.player = player
}

func (u *User) removedFromGame() {
	u.game = nil
	u.player = nil
	u.kickTimer.Cancel()
}
