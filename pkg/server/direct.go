package server

import (
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"
)

// DirectConn is an in-process client connection with no websocket
// behind it, used by the built-in bot fleet and by tests. It speaks the
// same protocol as a real client, except that the handshake is skipped:
// the caller reads the server config with ServerConfig instead.
//
// Messages from the game server are decoded and handed to the receive
// callback on a dedicated goroutine, mirroring a client's read loop.
// When the connection dies, for any reason, the closed callback runs
// once after the last message has been delivered.
type DirectConn struct {
	conn    *Conn
	receive func(map[string]any)
	closed  func()
}

// NewDirectConn attaches an in-process client to the server. Both
// callbacks must be non-nil.
func (s *Server) NewDirectConn(receive func(map[string]any), closed func()) *DirectConn {
	c := &Conn{
		srv:        s,
		log:        s.log,
		addr:       "bot",
		send:       make(chan []byte, sendQueueSize),
		done:       make(chan struct{}),
		handshaked: true,
	}
	d := &DirectConn{conn: c, receive: receive, closed: closed}
	s.log.Debugf("New direct connection")
	go d.dispatch()
	return d
}

// ServerConfig returns the payload a websocket handshake would have
// produced.
func (d *DirectConn) ServerConfig() map[string]any {
	var cfg map[string]any
	d.conn.srv.games.Run(func() {
		cfg = d.conn.srv.games.ConfigJSON()
	})
	return cfg
}

// Send feeds one request to the server as if it had arrived on a
// socket. Replies and updates come back through the receive callback.
func (d *DirectConn) Send(message map[string]any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	select {
	case <-d.conn.done:
		return errors.New("connection closed")
	default:
	}
	if !d.conn.handleMessage(data) {
		return errors.New("connection closed")
	}
	return nil
}

// Close disconnects the client side. Delivery of already queued
// messages still completes before the closed callback runs.
func (d *DirectConn) Close() {
	d.conn.close(websocket.CloseNormalClosure, "")
}

// dispatch plays the role of readPump and writePump for a socketless
// connection: it delivers outbound messages to the receive callback and
// runs the disconnect cleanup once the connection dies.
func (d *DirectConn) dispatch() {
	for {
		select {
		case data := <-d.conn.send:
			d.deliver(data)
		case <-d.conn.done:
			for {
				select {
				case data := <-d.conn.send:
					d.deliver(data)
				default:
					d.conn.srv.games.Run(func() {
						if d.conn.user != nil {
							d.conn.log.Infof("%s disconnected", d.conn.user)
							d.conn.user.Disconnected(d.conn)
						}
					})
					d.closed()
					return
				}
			}
		}
	}
}

func (d *DirectConn) deliver(data []byte) {
	var message map[string]any
	if err := json.Unmarshal(data, &message); err != nil {
		d.conn.log.Errorf("Failed to decode message for direct connection: %v", err)
		return
	}
	d.receive(message)
}
