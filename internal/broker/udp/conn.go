package udp

import (
	"errors"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/signalmesh/broker/internal/proto"
)

// recvLoop is the broker's single point of ingress: one goroutine
// calls ReadFromUDP in a loop, decodes exactly one frame per datagram
// and dispatches it. There is no per-client recv goroutine because
// there is no per-client socket to read from.
func (s *Server) recvLoop() error {
	scratch := make([]byte, scratchSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(scratch)
		if err != nil {
			select {
			case <-s.stopCh:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.WithError(err).Error("udp broker: recv error")
			return err
		}
		if n == 0 {
			continue
		}

		res := proto.Decode(scratch[:n])
		if res.Status != proto.Ok {
			log.WithFields(log.Fields{"peer": addr.String()}).Debug("udp: dropped malformed datagram")
			continue
		}

		c := s.clientFor(addr)
		s.dispatch(c, res.Message)
	}
}

// sendLoop is the one goroutine that ever writes to addr, so frames for
// a given peer leave in enqueue order regardless of how many peers are
// being serviced concurrently.
func (s *Server) sendLoop(c *client) {
	for frame := range c.sendCh {
		s.sendSem <- struct{}{}
		_, err := s.conn.WriteToUDP(frame, c.addr)
		<-s.sendSem
		if err != nil {
			log.WithFields(log.Fields{
				"peer": c.addr.String(),
				"err":  err,
			}).Debug("udp: send error")
		}
	}
}

func (s *Server) dispatch(c *client, msg proto.DecodedMessage) {
	switch msg.Opcode {
	case proto.HandshakePub:
		s.dispatchHandshakePub(c, msg)
	case proto.HandshakeSub:
		s.dispatchHandshakeSub(c, msg)
	case proto.Publish:
		s.dispatchPublish(c, msg)
	case proto.Subscribe:
		s.dispatchSubscribe(c, msg)
	case proto.Unsubscribe:
		s.dispatchUnsubscribe(c, msg)
	case proto.Ping:
		c.Enqueue(proto.Build(proto.SizePong(), proto.EncodePong))
	case proto.Disconnect:
		log.WithFields(log.Fields{"peer": c.addr.String()}).Debug("udp: got DISCONNECT")
		if s.RemoveOnDisconnect {
			s.removeClient(c)
		}
	default:
		c.Enqueue(proto.Build(proto.SizeError(), func(b []byte) int {
			return proto.EncodeError(b, proto.InvalidOpcode)
		}))
	}
}

func (s *Server) dispatchHandshakePub(c *client, msg proto.DecodedMessage) {
	hs, err := proto.DecodeHandshakePub(msg.Payload)
	if err != nil {
		log.WithFields(log.Fields{"peer": c.addr.String()}).Debug("udp: malformed HANDSHAKE_PUB")
		return
	}
	c.mu.Lock()
	c.role = RolePublisher
	c.id = hs.ClientID
	c.mask.Add(hs.Channel)
	c.mu.Unlock()
	s.ack(c)
}

func (s *Server) dispatchHandshakeSub(c *client, msg proto.DecodedMessage) {
	hs, err := proto.DecodeHandshakeSub(msg.Payload)
	if err != nil {
		log.WithFields(log.Fields{"peer": c.addr.String()}).Debug("udp: malformed HANDSHAKE_SUB")
		return
	}
	c.mu.Lock()
	c.role = RoleSubscriber
	c.id = hs.ClientID
	for _, ch := range hs.Channels {
		c.mask.Add(ch)
		s.idx.Subscribe(ch, c)
	}
	c.mu.Unlock()
	s.ack(c)
}

func (s *Server) ack(c *client) {
	sessionID := s.nextSessionID()
	c.Enqueue(proto.Build(proto.SizeHandshakeAck(), func(b []byte) int {
		return proto.EncodeHandshakeAck(b, 0, sessionID)
	}))
	log.WithFields(log.Fields{
		"peer":       c.addr.String(),
		"session_id": sessionID,
	}).Info("udp: client handshake complete")
}

func (s *Server) dispatchPublish(c *client, msg proto.DecodedMessage) {
	c.mu.Lock()
	role := c.role
	c.mu.Unlock()
	if role != RolePublisher {
		log.WithFields(log.Fields{"peer": c.addr.String()}).Debug("udp: PUBLISH from non-publisher, ignored")
		return
	}
	pub, err := proto.DecodePublish(msg.Payload)
	if err != nil {
		log.WithFields(log.Fields{"peer": c.addr.String()}).Debug("udp: malformed PUBLISH")
		return
	}
	s.route(pub.Channel, pub.Message, c)
}

func (s *Server) dispatchSubscribe(c *client, msg proto.DecodedMessage) {
	ch, err := proto.DecodeChannelOnly(msg.Payload)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.mask.Add(ch)
	c.mu.Unlock()
	s.idx.Subscribe(ch, c)
}

func (s *Server) dispatchUnsubscribe(c *client, msg proto.DecodedMessage) {
	ch, err := proto.DecodeChannelOnly(msg.Payload)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.mask.Remove(ch)
	c.mu.Unlock()
	s.idx.Unsubscribe(ch, c)
}

// route fans a PUBLISH out to every subscriber of ch except sender.
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
