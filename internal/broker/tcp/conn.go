package tcp

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/signalmesh/broker/internal/proto"
)

const recvScratchSize = 4096

// handleConn drives one client's full lifecycle: spawn send/receive
// loops, wait for both to finish, then prune the client from the
// registry and channel index and close the socket. One goroutine per
// direction keeps at most one read and one write in flight per client.
func (s *Server) handleConn(conn net.Conn) {
	c := newClient(conn)
	s.addClient(c)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.sendLoop()
	}()
	go func() {
		defer wg.Done()
		s.recvLoop(c)
	}()
	wg.Wait()

	s.removeClient(c)
	conn.Close()

	log.WithFields(log.Fields{"client": c.id}).Debug("tcp: client removed")
}

// sendLoop owns the client's outbound direction exclusively: it is the
// only goroutine that ever calls conn.Write for this client, so at most
// one SEND is ever in flight and frames leave in the order they were
// enqueued.
func (c *client) sendLoop() {
	for {
		select {
		case <-c.closeSig:
			return
		case frame := <-c.sendCh:
			if c.getState() == StateClosing {
				return
			}
			// net.Conn.Write loops internally until the full buffer is
			// written or an error occurs.
			if _, err := c.conn.Write(frame); err != nil {
				log.WithFields(log.Fields{
					"client": c.id,
					"err":    err,
				}).Debug("tcp: send error, dropping client")
				c.transitionClosing()
				return
			}
		}
	}
}

// recvLoop owns the client's inbound direction and all of its protocol
// state (role, mask, recv buffer) exclusively, satisfying the
// concurrency model's "all mutations of a client's record happen on one
// logical task" requirement.
func (s *Server) recvLoop(c *client) {
	scratch := make([]byte, recvScratchSize)
	for {
		n, err := c.conn.Read(scratch)
		if err != nil {
			if err == io.EOF {
				log.WithFields(log.Fields{"client": c.id}).Debug("tcp: peer closed connection")
			} else if !errors.Is(err, net.ErrClosed) {
				log.WithFields(log.Fields{
					"client": c.id,
					"err":    err,
				}).Debug("tcp: recv error")
			}
			c.transitionClosing()
			return
		}
		if n == 0 {
			continue
		}

		c.recvBuf = append(c.recvBuf, scratch[:n]...)

		if !s.drainFrames(c) {
			c.transitionClosing()
			return
		}
		if c.getState() == StateClosing {
			return
		}
	}
}

// drainFrames decodes and dispatches every complete frame currently
// sitting in c.recvBuf, advancing past each, then compacts the buffer.
// Returns false if the client should be closed (invalid frame or
// oversize buffer).
func (s *Server) drainFrames(c *client) bool {
	offset := 0
	for c.getState() != StateClosing {
		res := proto.Decode(c.recvBuf[offset:])
		switch res.Status {
		case proto.Ok:
			s.dispatch(c, res.Message)
			offset += int(res.BytesConsumed)
		case proto.Invalid:
			log.WithFields(log.Fields{"client": c.id}).Debug("tcp: invalid frame, closing")
			compact(c, offset)
			return false
		case proto.NeedMore:
			remaining := len(c.recvBuf) - offset
			limit := handshakeBufferLimit
			if c.getState() == StateReady {
				limit = int(proto.MaxPayloadSize) + proto.HeaderSize
			}
			if remaining > limit {
				log.WithFields(log.Fields{"client": c.id}).Debug("tcp: receive buffer oversize, closing")
				compact(c, offset)
				return false
			}
			compact(c, offset)
			return true
		}
	}
	compact(c, offset)
	return true
}

// compact drops the bytes already consumed from the front of the recv
// buffer, keeping it bounded to whatever is still unparsed.
func compact(c *client, offset int) {
	if offset == 0 {
		return
	}
	remaining := len(c.recvBuf) - offset
	copy(c.recvBuf, c.recvBuf[offset:])
	c.recvBuf = c.recvBuf[:remaining]
}

func (s *Server) dispatch(c *client, msg proto.DecodedMessage) {
	switch c.getState() {
	case StateHandshake:
		s.dispatchHandshake(c, msg)
	case StateReady:
		s.dispatchReady(c, msg)
	}
}

func (s *Server) dispatchHandshake(c *client, msg proto.DecodedMessage) {
	switch msg.Opcode {
	case proto.HandshakePub:
		hs, err := proto.DecodeHandshakePub(msg.Payload)
		if err != nil {
			log.WithFields(log.Fields{"client": c.id}).Debug("tcp: malformed HANDSHAKE_PUB")
			c.transitionClosing()
			return
		}
		c.role = RolePublisher
		c.id = hs.ClientID
		c.mask.Add(hs.Channel)
		s.completeHandshake(c)

	case proto.HandshakeSub:
		hs, err := proto.DecodeHandshakeSub(msg.Payload)
		if err != nil {
			log.WithFields(log.Fields{"client": c.id}).Debug("tcp: malformed HANDSHAKE_SUB")
			c.transitionClosing()
			return
		}
		c.role = RoleSubscriber
		c.id = hs.ClientID
		for _, ch := range hs.Channels {
			c.mask.Add(ch)
		}
		s.completeHandshake(c)
		// Join the index only once the ACK is queued, so a concurrent
		// route cannot queue a MESSAGE ahead of it.
		for _, ch := range hs.Channels {
			s.idx.Subscribe(ch, c)
		}

	default:
		log.WithFields(log.Fields{
			"client": c.id,
			"opcode": msg.Opcode,
		}).Debug("tcp: unexpected opcode during handshake, closing")
		c.transitionClosing()
	}
}

func (s *Server) completeHandshake(c *client) {
	sessionID := s.nextSessionID()
	ack := proto.Build(proto.SizeHandshakeAck(), func(b []byte) int {
		return proto.EncodeHandshakeAck(b, 0, sessionID)
	})
	c.setState(StateReady)
	c.Enqueue(ack) // HANDSHAKE_ACK is always the first frame a client receives.

	log.WithFields(log.Fields{
		"client":     c.id,
		"session_id": sessionID,
	}).Info("tcp: client handshake complete")
}

func (s *Server) dispatchReady(c *client, msg proto.DecodedMessage) {
	switch msg.Opcode {
	case proto.Disconnect:
		log.WithFields(log.Fields{"client": c.id}).Debug("tcp: got DISCONNECT")
		c.transitionClosing()

	case proto.Publish:
		if c.role != RolePublisher {
			log.WithFields(log.Fields{"client": c.id}).Debug("tcp: PUBLISH from non-publisher, ignored")
			return
		}
		pub, err := proto.DecodePublish(msg.Payload)
		if err != nil {
			log.WithFields(log.Fields{"client": c.id}).Debug("tcp: malformed PUBLISH")
			return
		}
		s.route(pub.Channel, pub.Message, c)

	case proto.Subscribe:
		ch, err := proto.DecodeChannelOnly(msg.Payload)
		if err != nil {
			return
		}
		// Role is fixed at handshake; SUBSCRIBE only grows this
		// client's channel mask and index membership, it does not
		// relabel a publisher as a subscriber.
		c.mask.Add(ch)
		s.idx.Subscribe(ch, c)

	case proto.Unsubscribe:
		ch, err := proto.DecodeChannelOnly(msg.Payload)
		if err != nil {
			return
		}
		c.mask.Remove(ch)
		s.idx.Unsubscribe(ch, c)

	case proto.Ping:
		c.Enqueue(proto.Build(proto.SizePong(), proto.EncodePong))

	default:
		log.WithFields(log.Fields{
			"client": c.id,
			"opcode": msg.Opcode,
		}).Debug("tcp: unexpected opcode, sending ERROR")
		c.Enqueue(proto.Build(proto.SizeError(), func(b []byte) int {
			return proto.EncodeError(b, proto.InvalidOpcode)
		}))
	}
}

// route fans a PUBLISH out to every subscriber of channel except sender.
func (s *Server) route(ch uint8, message []byte, sender *client) {
	timestamp := uint64(time.Now().UnixMilli())
	frame := proto.Build(proto.SizeMessage(message), func(b []byte) int {
		return proto.EncodeMessage(b, ch, timestamp, message)
	})

	for _, sub := range s.idx.SubscribersOf(ch) {
		if sub == sender {
			continue
		}
		sub.Enqueue(append([]byte(nil), frame...))
	}
}
