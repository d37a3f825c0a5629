package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"

	"github.com/PurkkaKoodari/pyxyzzy/pkg/config"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/game"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/server"
)

// ErrDisconnected is returned by calls that were still pending when the
// connection died.
var ErrDisconnected = errors.New("connection lost")

// Connection is a bot's view of a server. Calls are matched to their
// replies by call id; everything else the server pushes goes to the
// receive callback given at dial time.
type Connection interface {
	// Call performs one API call and waits for its reply. A reply
	// carrying an error code is returned as a *game.Error.
	Call(ctx context.Context, action string, content map[string]any) (map[string]any, error)
	// ServerConfig returns the config payload from the handshake.
	ServerConfig() map[string]any
	// Close tears the connection down.
	Close()
}

// Dialer opens a Connection. Pushed messages go to receive and closed
// runs once when the connection dies.
type Dialer func(ctx context.Context, receive func(map[string]any), closed func()) (Connection, error)

type callResult struct {
	reply map[string]any
	err   error
}

// callTable tracks in-flight calls so replies can be routed back to
// their callers.
type callTable struct {
	mu     sync.Mutex
	nextID int
	calls  map[int]chan callResult
	dead   bool
}

func (t *callTable) register() (int, chan callResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dead {
		return 0, nil, ErrDisconnected
	}
	if t.calls == nil {
		t.calls = make(map[int]chan callResult)
	}
	t.nextID++
	ch := make(chan callResult, 1)
	t.calls[t.nextID] = ch
	return t.nextID, ch, nil
}

func (t *callTable) drop(id int) {
	t.mu.Lock()
	delete(t.calls, id)
	t.mu.Unlock()
}

// route resolves the pending call a message replies to and reports
// whether the message was a reply at all.
func (t *callTable) route(message map[string]any) bool {
	rawID, ok := message["call_id"].(float64)
	if !ok {
		return false
	}
	t.mu.Lock()
	ch, ok := t.calls[int(rawID)]
	delete(t.calls, int(rawID))
	t.mu.Unlock()
	if !ok {
		// reply to a call that gave up waiting
		return true
	}
	if code, ok := message["error"].(string); ok {
		description, _ := message["description"].(string)
		ch <- callResult{err: game.NewError(code, description)}
	} else {
		ch <- callResult{reply: message}
	}
	return true
}

// fail rejects every pending call and all future ones.
func (t *callTable) fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dead = true
	for id, ch := range t.calls {
		delete(t.calls, id)
		ch <- callResult{err: ErrDisconnected}
	}
}

// wsConn talks to a server over a real websocket.
type wsConn struct {
	ws    *websocket.Conn
	log   slog.Logger
	cfg   map[string]any
	calls callTable

	// gorilla allows only one concurrent writer
	writeMu sync.Mutex
}

var _ Connection = (*wsConn)(nil)

// DialWebSocket returns a Dialer that connects to the given URL and
// performs the version handshake.
func DialWebSocket(url string, log slog.Logger) Dialer {
	if log == nil {
		log = slog.Disabled
	}
	return func(ctx context.Context, receive func(map[string]any), closed func()) (Connection, error) {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		if err := ws.WriteJSON(map[string]any{"version": config.UIVersion}); err != nil {
			ws.Close()
			return nil, err
		}
		var greeting map[string]any
		if err := ws.ReadJSON(&greeting); err != nil {
			ws.Close()
			return nil, err
		}
		cfg, ok := greeting["config"].(map[string]any)
		if !ok {
			ws.Close()
			return nil, fmt.Errorf("handshake rejected: %v", greeting["error"])
		}
		c := &wsConn{ws: ws, log: log, cfg: cfg}
		go c.readLoop(receive, closed)
		return c, nil
	}
}

func (c *wsConn) readLoop(receive func(map[string]any), closed func()) {
	defer func() {
		c.ws.Close()
		c.calls.fail()
		closed()
	}()
	for {
		var message map[string]any
		if err := c.ws.ReadJSON(&message); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debugf("Connection read failed: %v", err)
			}
			return
		}
		if c.calls.route(message) {
			continue
		}
		receive(message)
	}
}

func (c *wsConn) Call(ctx context.Context, action string, content map[string]any) (map[string]any, error) {
	id, ch, err := c.calls.register()
	if err != nil {
		return nil, err
	}
	message := map[string]any{"action": action, "call_id": id}
	for key, value := range content {
		message[key] = value
	}
	c.writeMu.Lock()
	err = c.ws.WriteJSON(message)
	c.writeMu.Unlock()
	if err != nil {
		c.calls.drop(id)
		return nil, err
	}
	select {
	case res := <-ch:
		return res.reply, res.err
	case <-ctx.Done():
		c.calls.drop(id)
		return nil, ctx.Err()
	}
}

func (c *wsConn) ServerConfig() map[string]any {
	return c.cfg
}

func (c *wsConn) Close() {
	deadline := time.Now().Add(time.Second)
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.ws.Close()
}

// directConn talks to an in-process server with no socket in between.
type directConn struct {
	raw   *server.DirectConn
	cfg   map[string]any
	calls callTable
}

var _ Connection = (*directConn)(nil)

// DialDirect returns a Dialer that attaches bots straight to an
// in-process server.
func DialDirect(srv *server.Server) Dialer {
	return func(ctx context.Context, receive func(map[string]any), closed func()) (Connection, error) {
		c := &directConn{}
		c.raw = srv.NewDirectConn(
			func(message map[string]any) {
				if c.calls.route(message) {
					return
				}
				receive(message)
			},
			func() {
				c.calls.fail()
				closed()
			},
		)
		c.cfg = c.raw.ServerConfig()
		return c, nil
	}
}

func (c *directConn) Call(ctx context.Context, action string, content map[string]any) (map[string]any, error) {
	id, ch, err := c.calls.register()
	if err != nil {
		return nil, err
	}
	message := map[string]any{"action": action, "call_id": id}
	for key, value := range content {
		message[key] = value
	}
	if err := c.raw.Send(message); err != nil {
		c.calls.drop(id)
		return nil, err
	}
	select {
	case res := <-ch:
		return res.reply, res.err
	case <-ctx.Done():
		c.calls.drop(id)
		return nil, ctx.Err()
	}
}

func (c *directConn) ServerConfig() map[string]any {
	return c.cfg
}

func (c *directConn) Close() {
	c.raw.Close()
}
