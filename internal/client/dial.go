// Package client implements the publisher and subscriber drivers
// shared by cmd/publisher and cmd/subscriber: dial a transport, run the
// handshake, then either push generated payloads or print received
// ones.
package client

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/signalmesh/broker/internal/wsconn"
)

// Transport selects which socket type a client dials.
type Transport string

const (
	TCP Transport = "tcp"
	UDP Transport = "udp"
	WS  Transport = "ws"
)

// Dial opens a connection to addr over the given transport. For WS,
// addr is the ws(s) or http(s) URL of the broker's websocket listener,
// or a bare host:port that is dialed as ws://host:port; for tcp and udp
// it is a host:port pair.
func Dial(transport Transport, addr string) (net.Conn, error) {
	switch transport {
	case TCP:
		return net.Dial("tcp", addr)
	case UDP:
		return net.Dial("udp", addr)
	case WS:
		url := addr
		switch {
		case strings.HasPrefix(url, "http://"):
			url = "ws://" + strings.TrimPrefix(url, "http://")
		case strings.HasPrefix(url, "https://"):
			url = "wss://" + strings.TrimPrefix(url, "https://")
		case !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://"):
			url = "ws://" + addr
		}
		header := http.Header{}
		conn, _, err := websocket.DefaultDialer.Dial(url, header)
		if err != nil {
			return nil, err
		}
		return wsconn.Wrap(conn), nil
	default:
		return nil, fmt.Errorf("client: unknown transport %q", transport)
	}
}
