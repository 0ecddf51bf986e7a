package udp

import (
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/signalmesh/broker/internal/channel"
)

const sendQueueCap = 256

// Role records whether a peer handshook as a publisher or a
// subscriber.
type Role uint8

const (
	RoleUnknown Role = iota
	RolePublisher
	RoleSubscriber
)

// client is the UDP client record: a client exists iff a frame from
// that peer has been accepted, and persists until process exit unless
// Server.RemoveOnDisconnect is set and the peer sends DISCONNECT - UDP
// has no connection to close, so there is no handshake/ready/closing
// state machine here.
type client struct {
	addr *net.UDPAddr
	id   string
	role Role
	mask channel.Set

	mu     sync.Mutex // guards role/id/mask; single recv goroutine normally, but kept for clarity and safety
	sendCh chan []byte
}

func newClient(addr *net.UDPAddr) *client {
	return &client{
		addr:   addr,
		sendCh: make(chan []byte, sendQueueCap),
	}
}

// Enqueue implements channel.Subscriber.
func (c *client) Enqueue(frame []byte) {
	select {
	case c.sendCh <- frame:
	default:
		log.WithFields(log.Fields{
			"peer": c.addr.String(),
		}).Debug("udp: send queue full, dropping frame")
	}
}
