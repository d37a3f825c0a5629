package game

import (
	"strings"
	"testing"
)

func TestReconnectReplacesConnection(t *testing.T) {
	srv := newTestServer(t)
	user, conn1 := addTestUser(t, srv, "Alice")

	conn2 := &fakeConn{}
	srv.Run(func() { user.Reconnected(conn2) })
	if !conn1.replaced {
		t.Error("Expected the old connection to be told it was replaced")
	}

	srv.Run(func() { user.SendMessage(map[string]any{"ping": true}) })
	if len(conn2.messages) != 1 {
		t.Errorf("Expected the message on the new connection, got %d", len(conn2.messages))
	}
}

func TestDisconnectStartsTimers(t *testing.T) {
	srv := newTestServer(t)
	game, users, conns := setupTestGame(t, srv, 3)
	user := users[0]

	srv.Run(func() { user.Disconnected(conns[0]) })
	if user.Connected() {
		t.Error("Expected the user to be disconnected")
	}
	if !user.kickTimer.Running() {
		t.Error("Expected the game kick timer to be armed")
	}
	if !user.forgetTimer.Running() {
		t.Error("Expected the forget timer to be armed")
	}
	// Still in the game until the kick timer fires
	if game.players.Len() != 3 {
		t.Errorf("Expected the player to stay in the game, got %d players", game.players.Len())
	}

	conn2 := &fakeConn{}
	srv.Run(func() { user.Reconnected(conn2) })
	if user.kickTimer.Running() || user.forgetTimer.Running() {
		t.Error("Expected reconnection to cancel the timers")
	}
}

func TestDisconnectIgnoresStaleConnection(t *testing.T) {
	srv := newTestServer(t)
	user, conn1 := addTestUser(t, srv, "Alice")
	conn2 := &fakeConn{}
	srv.Run(func() { user.Reconnected(conn2) })

	// A disconnect reported by the replaced connection changes nothing
	srv.Run(func() { user.Disconnected(conn1) })
	if !user.Connected() {
		t.Error("Expected the user to stay connected to the new connection")
	}
}

func TestSendMessageWithoutConnection(t *testing.T) {
	srv := newTestServer(t)
	user, conn := addTestUser(t, srv, "Alice")

	srv.Run(func() { user.Disconnected(conn) })
	srv.Run(func() { user.SendMessage(map[string]any{"ping": true}) })
	if len(conn.messages) != 0 {
		t.Errorf("Expected no delivery without a connection, got %d", len(conn.messages))
	}
}

func TestUserString(t *testing.T) {
	srv := newTestServer(t)
	user, _ := addTestUser(t, srv, "Alice")

	s := user.String()
	if !strings.HasPrefix(s, "Alice [") || !strings.Contains(s, user.ID.String()) {
		t.Errorf("Expected name and id in %q", s)
	}
}

func TestTokensDiffer(t *testing.T) {
	srv := newTestServer(t)
	user1, _ := addTestUser(t, srv, "Alice")
	user2, _ := addTestUser(t, srv, "Bob")

	if user1.Token == "" || user1.Token == user2.Token {
		t.Error("Expected distinct nonempty tokens")
	}
}
