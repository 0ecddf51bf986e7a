// Package wsconn wraps a gorilla/websocket connection as a net.Conn
// carrying binary frames, so a single per-connection reader/writer loop
// can drive both plain TCP and websocket connections. Every WS message
// on this listener is a binary frame; there is no subprotocol
// negotiation.
package wsconn

import (
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var ErrNotBinaryMessage = errors.New("wsconn: received non-binary websocket message")

// Conn adapts *websocket.Conn to net.Conn.
type Conn struct {
	*websocket.Conn
	r io.Reader
}

// Wrap adapts an already-upgraded websocket connection.
func Wrap(c *websocket.Conn) net.Conn {
	return &Conn{Conn: c}
}

func (c *Conn) Write(p []byte) (int, error) {
	if err := c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			mt, r, err := c.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				return 0, ErrNotBinaryMessage
			}
			c.r = r
		}

		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.SetWriteDeadline(t); err != nil {
		return err
	}
	return c.SetReadDeadline(t)
}

// Upgrader builds an http.Handler that upgrades incoming requests to
// websocket connections and hands each one to dispatch as a net.Conn.
func Upgrader(checkOrigin bool, dispatch func(net.Conn)) http.Handler {
	up := websocket.Upgrader{}
	if !checkOrigin {
		up.CheckOrigin = func(*http.Request) bool { return true }
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "websocket upgrade failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		go dispatch(Wrap(conn))
	})
}
