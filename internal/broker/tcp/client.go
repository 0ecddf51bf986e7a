package tcp

import (
	"net"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/signalmesh/broker/internal/channel"
)

// sendQueueCap is the bounded capacity of a client's outbound frame
// queue. Enqueue on a full queue drops the newest frame, per the
// protocol's send-queue rule.
const sendQueueCap = 256

// Role is the client's declared purpose, set exactly once on handshake.
type Role uint8

const (
	RoleUnknown Role = iota
	RolePublisher
	RoleSubscriber
)

// State is the client's position in its lifecycle. Transitions are
// monotone: Handshake -> Ready -> Closing.
type State int32

const (
	StateHandshake State = iota
	StateReady
	StateClosing
)

// client is one connected TCP client's full state: connection handle,
// role, channel mask, receive buffer, bounded send queue and
// handshake/ready/closing state.
type client struct {
	conn     net.Conn
	id       string
	role     Role
	state    atomic.Int32
	mask     channel.Set
	recvBuf  []byte
	sendCh   chan []byte
	closeOne sync.Once
	closeSig chan struct{}
}

func newClient(conn net.Conn) *client {
	return &client{
		conn:     conn,
		sendCh:   make(chan []byte, sendQueueCap),
		closeSig: make(chan struct{}),
		recvBuf:  make([]byte, 0, 256),
	}
}

func (c *client) getState() State { return State(c.state.Load()) }
func (c *client) setState(s State) { c.state.Store(int32(s)) }

// Enqueue implements channel.Subscriber. It never blocks: if the send
// queue is full, the new frame is dropped and logged, not the head.
func (c *client) Enqueue(frame []byte) {
	if c.getState() == StateClosing {
		return
	}
	select {
	case c.sendCh <- frame:
	default:
		log.WithFields(log.Fields{
			"client": c.id,
		}).Debug("tcp: send queue full, dropping frame")
	}
}

// transitionClosing moves the client to CLOSING exactly once, waking the
// send loop via closeSig. Safe to call from either the recv or send
// goroutine, or concurrently from both.
func (c *client) transitionClosing() {
	c.closeOne.Do(func() {
		c.setState(StateClosing)
		close(c.closeSig)
	})
}
