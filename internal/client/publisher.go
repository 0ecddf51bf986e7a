package client

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/signalmesh/broker/internal/msggen"
	"github.com/signalmesh/broker/internal/proto"
)

// PublisherConfig holds everything a publisher run needs.
type PublisherConfig struct {
	Transport Transport
	Addr      string
	Channel   uint8
	ClientID  string
	Seed      uint32
	DelayMs   uint32
	MaxLen    int
}

// RunPublisher connects, completes the HANDSHAKE_PUB exchange, then
// publishes generated payloads every DelayMs until stop is closed or an
// I/O error occurs. It returns the error that ended the loop, nil on a
// clean stop.
func RunPublisher(cfg PublisherConfig, stop <-chan struct{}) error {
	conn, err := Dial(cfg.Transport, cfg.Addr)
	if err != nil {
		return fmt.Errorf("publisher: dial: %w", err)
	}
	defer conn.Close()

	if err := handshakePub(conn, cfg.Transport, cfg.Channel, cfg.ClientID); err != nil {
		return fmt.Errorf("publisher: handshake: %w", err)
	}
	log.WithFields(log.Fields{
		"client_id": cfg.ClientID,
		"channel":   cfg.Channel,
	}).Info("publisher: handshake complete")

	gen := msggen.New(cfg.Seed)
	ticker := time.NewTicker(time.Duration(cfg.DelayMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			sendDisconnect(conn)
			return nil
		case <-ticker.C:
			payload := gen.Next(cfg.MaxLen)
			frame := proto.Build(proto.SizePublish([]byte(payload)), func(b []byte) int {
				return proto.EncodePublish(b, cfg.Channel, []byte(payload))
			})
			if _, err := conn.Write(frame); err != nil {
				return fmt.Errorf("publisher: send: %w", err)
			}
			log.WithFields(log.Fields{"channel": cfg.Channel, "payload": payload}).Debug("publisher: sent")
		}
	}
}

func handshakePub(conn net.Conn, transport Transport, channel uint8, clientID string) error {
	size, err := proto.SizeHandshakePub(clientID)
	if err != nil {
		return err
	}
	frame := proto.Build(size, func(b []byte) int {
		n, _ := proto.EncodeHandshakePub(b, channel, clientID)
		return n
	})
	if _, err := conn.Write(frame); err != nil {
		return err
	}

	r := newFrameReader(conn, transport)
	msg, err := r.Next()
	if err != nil {
		return err
	}
	if msg.Opcode != proto.HandshakeAck {
		return fmt.Errorf("expected HANDSHAKE_ACK, got %v", msg.Opcode)
	}
	_, _, err = proto.DecodeHandshakeAck(msg.Payload)
	return err
}

func sendDisconnect(conn net.Conn) {
	frame := proto.Build(proto.SizeDisconnect(), proto.EncodeDisconnect)
	conn.Write(frame)
}
