package client

import (
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/signalmesh/broker/internal/proto"
)

// SubscriberConfig holds everything a subscriber run needs.
type SubscriberConfig struct {
	Transport Transport
	Addr      string
	Channels  []uint8
	ClientID  string
}

// RunSubscriber connects, completes the HANDSHAKE_SUB exchange, then
// prints every MESSAGE it receives to stdout until the connection ends
// or a DISCONNECT frame arrives. Returns the error that ended the loop,
// nil on a clean DISCONNECT.
func RunSubscriber(cfg SubscriberConfig, stop <-chan struct{}) error {
	conn, err := Dial(cfg.Transport, cfg.Addr)
	if err != nil {
		return fmt.Errorf("subscriber: dial: %w", err)
	}
	defer conn.Close()

	if err := handshakeSub(conn, cfg.Transport, cfg.Channels, cfg.ClientID); err != nil {
		return fmt.Errorf("subscriber: handshake: %w", err)
	}
	log.WithFields(log.Fields{
		"client_id": cfg.ClientID,
		"channels":  cfg.Channels,
	}).Info("subscriber: handshake complete")

	done := make(chan struct{})
	go func() {
		select {
		case <-stop:
			sendDisconnect(conn)
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	r := newFrameReader(conn, cfg.Transport)
	for {
		msg, err := r.Next()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
			}
			return fmt.Errorf("subscriber: recv: %w", err)
		}

		switch msg.Opcode {
		case proto.Message:
			m, err := proto.DecodeMessageFrame(msg.Payload)
			if err != nil {
				log.WithError(err).Warn("subscriber: malformed MESSAGE, ignored")
				continue
			}
			fmt.Printf("[channel %d] %d %s\n", m.Channel, m.Timestamp, m.Payload)
		case proto.Error:
			code, err := proto.DecodeErrorFrame(msg.Payload)
			if err != nil {
				log.WithError(err).Warn("subscriber: malformed ERROR frame")
				continue
			}
			log.WithField("code", code).Warn("subscriber: broker sent ERROR")
		case proto.Disconnect:
			log.Info("subscriber: broker sent DISCONNECT")
			return nil
		default:
			log.WithField("opcode", msg.Opcode).Debug("subscriber: ignoring unexpected opcode")
		}
	}
}

func handshakeSub(conn net.Conn, transport Transport, channels []uint8, clientID string) error {
	size, err := proto.SizeHandshakeSub(channels, clientID)
	if err != nil {
		return err
	}
	frame := proto.Build(size, func(b []byte) int {
		n, _ := proto.EncodeHandshakeSub(b, channels, clientID)
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
