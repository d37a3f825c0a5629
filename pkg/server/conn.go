package server

import (
	"encoding/json"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/slog"
	"github.com/gorilla/websocket"

	"github.com/PurkkaKoodari/pyxyzzy/pkg/config"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/game"
)

const (
	// writeWait is the deadline for a single websocket write.
	writeWait = 10 * time.Second
	// pongWait is how long to wait for a pong before dropping the client.
	pongWait = 60 * time.Second
	// pingPeriod is how often pings go out. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds incoming messages. The largest legitimate
	// request is a game_options call with a long card pack list.
	maxMessageSize = 64 << 10
	// sendQueueSize bounds the outbound queue. A client that falls this
	// far behind is dropped.
	sendQueueSize = 64
)

// Conn is one client connection. The websocket read goroutine owns
// handshaked; user is only accessed inside game server turns. The
// write side runs in its own goroutine fed by the send channel, so
// SendMessage never blocks a server turn on a slow client.
type Conn struct {
	srv  *Server
	ws   *websocket.Conn
	log  slog.Logger
	addr string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeMsg  []byte

	handshaked bool
	user       *game.User
}

var _ game.Connection = (*Conn)(nil)

func newConn(s *Server, ws *websocket.Conn) *Conn {
	return &Conn{
		srv:  s,
		ws:   ws,
		log:  s.log,
		addr: ws.RemoteAddr().String(),
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// close tears the connection down at most once. The close frame is
// written by the write pump after it drains the queued messages.
func (c *Conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeMsg = websocket.FormatCloseMessage(code, reason)
		close(c.done)
	})
}

// SendMessage queues a message for the client. It is called with the
// game server lock held and must not block, so a client whose queue is
// full is dropped instead.
func (c *Conn) SendMessage(message map[string]any) {
	data, err := json.Marshal(message)
	if err != nil {
		c.log.Errorf("Failed to marshal message for %s: %v", c.addr, err)
		return
	}
	c.log.Tracef("send %s: %s", c.addr, data)
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.log.Warnf("Send queue full for %s, dropping connection", c.addr)
		c.close(websocket.CloseGoingAway, "send queue overflow")
	}
}

// Replaced tells the client another connection took over its user and
// closes this one.
func (c *Conn) Replaced() {
	c.SendMessage(map[string]any{"disconnect": "connected_elsewhere"})
	c.close(websocket.CloseNormalClosure, "")
}

func (c *Conn) readPump() {
	defer func() {
		c.close(websocket.CloseNormalClosure, "")
		c.srv.games.Run(func() {
			if c.user != nil {
				c.log.Infof("%s disconnected", c.user)
				c.user.Disconnected(c)
			} else {
				c.log.Infof("Connection from %s closed", c.addr)
			}
		})
	}()
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			c.reject("only text JSON messages allowed", nil)
			return
		}
		c.log.Tracef("recv %s: %s", c.addr, data)
		if !c.handleMessage(data) {
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// Flush anything still queued, then say goodbye.
			for {
				select {
				case data := <-c.send:
					c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					c.ws.WriteMessage(websocket.CloseMessage, c.closeMsg)
					return
				}
			}
		}
	}
}

// reject drops the connection over a protocol violation, closing with
// the unsupported data code and the reason as the close message.
func (c *Conn) reject(reason string, payload any) bool {
	if payload != nil {
		c.log.Debugf("Rejecting message from %s: %s\n%s", c.addr, reason, spew.Sdump(payload))
	} else {
		c.log.Debugf("Rejecting message from %s: %s", c.addr, reason)
	}
	c.close(websocket.CloseUnsupportedData, reason)
	return false
}

// handleMessage processes one incoming text message and reports whether
// the read loop should continue.
func (c *Conn) handleMessage(data []byte) bool {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return c.reject("invalid JSON", nil)
	}
	parsed, ok := raw.(map[string]any)
	if !ok {
		return c.reject("only JSON objects allowed", raw)
	}

	if !c.handshaked {
		if _, ok := parsed["version"]; !ok {
			return c.reject("invalid handshake", parsed)
		}
		if version, ok := parsed["version"].(string); !ok || version != config.UIVersion {
			c.SendMessage(map[string]any{"error": "incorrect_version"})
			c.close(websocket.CloseNormalClosure, "")
			return false
		}
		c.srv.games.Run(func() {
			c.SendMessage(map[string]any{"config": c.srv.games.ConfigJSON()})
		})
		c.handshaked = true
		return true
	}

	action, actionOK := parsed["action"].(string)
	callID := parsed["call_id"]
	callOK := false
	switch callID.(type) {
	case string, float64:
		callOK = true
	}
	if !actionOK || !callOK {
		return c.reject("action or call_id missing or invalid", parsed)
	}

	c.srv.games.Run(func() {
		c.SendMessage(c.handleRequest(action, callID, parsed))
	})
	return true
}

// handleRequest runs one API call inside a game server turn and builds
// the reply envelope. Handler panics become internal_error replies so a
// bad request cannot take the whole turn loop down.
func (c *Conn) handleRequest(action string, callID any, content map[string]any) (reply map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("Panic handling %s for %s: %v\n%s", action, c.addr, r, debug.Stack())
			reply = internalErrorReply(callID)
		}
	}()

	result, err := c.dispatch(action, content)
	if err == nil {
		reply = map[string]any{"call_id": callID, "error": nil}
		for key, value := range result {
			reply[key] = value
		}
		return reply
	}

	var gameErr *game.Error
	if !errors.As(err, &gameErr) {
		c.log.Errorf("Internal error handling %s for %s: %v", action, c.addr, err)
		return internalErrorReply(callID)
	}
	// A state error while in a game usually means the client acted on a
	// stale view, so the error is followed by a full resync.
	if gameErr.IsStateError() && c.user != nil && c.user.Game() != nil {
		c.log.Warnf("%s hit %s, resyncing", c.user, gameErr.Code)
		c.user.Game().FullResync(c.user.Player())
	}
	return map[string]any{
		"call_id":     callID,
		"error":       gameErr.Code,
		"description": gameErr.Description,
	}
}

func (c *Conn) dispatch(action string, content map[string]any) (map[string]any, error) {
	if c.user == nil && action != "authenticate" {
		return nil, game.NewError("not_authenticated", "must authenticate first")
	}
	handler, ok := handlers[action]
	if !ok {
		return nil, game.NewError("invalid_action", "invalid action")
	}
	return handler(c, content)
}

func internalErrorReply(callID any) map[string]any {
	return map[string]any{
		"call_id":     callID,
		"error":       "internal_error",
		"description": "internal error",
	}
}
