package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newDirectClient(t *testing.T, s *Server) (*DirectConn, chan map[string]any, chan struct{}) {
	t.Helper()
	incoming := make(chan map[string]any, 64)
	closed := make(chan struct{})
	d := s.NewDirectConn(
		func(message map[string]any) { incoming <- message },
		func() { close(closed) },
	)
	return d, incoming, closed
}

func awaitMessage(t *testing.T, incoming chan map[string]any) map[string]any {
	t.Helper()
	select {
	case message := <-incoming:
		return message
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

// directCall sends one request and waits for its reply, letting updates
// pass by.
func directCall(t *testing.T, d *DirectConn, incoming chan map[string]any, action string, content map[string]any) map[string]any {
	t.Helper()
	callCounter++
	id := fmt.Sprintf("direct-%d", callCounter)
	message := map[string]any{"action": action, "call_id": id}
	for key, value := range content {
		message[key] = value
	}
	require.NoError(t, d.Send(message))
	for {
		reply := awaitMessage(t, incoming)
		if reply["call_id"] == id {
			return reply
		}
	}
}

func TestDirectConnSkipsHandshake(t *testing.T) {
	s := newTestServer(t)
	d, incoming, _ := newDirectClient(t, s)
	defer d.Close()

	cfg := d.ServerConfig()
	require.Contains(t, cfg, "game")
	require.Contains(t, cfg, "card_packs")

	// No version message needed before the first call.
	reply := directCall(t, d, incoming, "authenticate", map[string]any{"name": "direct bot"})
	requireOK(t, reply)
	require.Equal(t, "direct bot", reply["name"])
}

func TestDirectConnUpdatesFlow(t *testing.T) {
	s := newTestServer(t)
	d, incoming, _ := newDirectClient(t, s)
	defer d.Close()

	requireOK(t, directCall(t, d, incoming, "authenticate", map[string]any{"name": "direct bot"}))
	requireOK(t, directCall(t, d, incoming, "create_game", nil))

	// The create reply is followed by the full game sync.
	var sawGame, sawHand bool
	for !sawGame || !sawHand {
		update := awaitMessage(t, incoming)
		if _, ok := update["game"]; ok {
			sawGame = true
		}
		if _, ok := update["hand"]; ok {
			sawHand = true
		}
	}
}

func TestDirectConnClose(t *testing.T) {
	s := newTestServer(t)
	d, incoming, closed := newDirectClient(t, s)

	requireOK(t, directCall(t, d, incoming, "authenticate", map[string]any{"name": "direct bot"}))

	d.Close()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("closed callback never ran")
	}
	require.Error(t, d.Send(map[string]any{"action": "game_list", "call_id": "late"}))
}

func TestDirectConnReplaced(t *testing.T) {
	s := newTestServer(t)
	d, incoming, closed := newDirectClient(t, s)

	reply := directCall(t, d, incoming, "authenticate", map[string]any{"name": "direct bot"})
	requireOK(t, reply)

	// A websocket connection takes over the bot's user.
	c := newTestConn(s)
	handshake(t, c)
	takeover, _ := request(t, c, "authenticate", map[string]any{
		"id":    reply["id"],
		"token": reply["token"],
	})
	requireOK(t, takeover)

	var sawDisconnect bool
	for !sawDisconnect {
		select {
		case message := <-incoming:
			if message["disconnect"] == "connected_elsewhere" {
				sawDisconnect = true
			}
		case <-time.After(time.Second):
			t.Fatal("never told about the takeover")
		}
	}
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("closed callback never ran")
	}
}
