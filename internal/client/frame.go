package client

import (
	"errors"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/signalmesh/broker/internal/proto"
)

var ErrConnectionClosed = errors.New("client: connection closed")

const recvScratchSize = 4096

// frameReader yields complete frames off a net.Conn. Stream transports
// (tcp, ws) accumulate bytes across reads and drain whatever complete
// frames that produces, same as the broker's own recvLoop. UDP has no
// byte stream to accumulate - each Read is exactly one datagram, so a
// malformed or incomplete one is dropped and the next Read starts
// clean, matching the broker's own decode-per-datagram rule
// (internal/broker/udp/conn.go).
type frameReader struct {
	conn      net.Conn
	transport Transport
	buf       []byte
}

func newFrameReader(conn net.Conn, transport Transport) *frameReader {
	return &frameReader{conn: conn, transport: transport, buf: make([]byte, 0, 256)}
}

// Next blocks until one complete frame is available, reading more from
// the connection as needed.
func (r *frameReader) Next() (proto.DecodedMessage, error) {
	if r.transport == UDP {
		return r.nextDatagram()
	}
	return r.nextFromStream()
}

func (r *frameReader) nextDatagram() (proto.DecodedMessage, error) {
	scratch := make([]byte, recvScratchSize)
	for {
		n, err := r.conn.Read(scratch)
		if err != nil {
			return proto.DecodedMessage{}, err
		}
		if n == 0 {
			return proto.DecodedMessage{}, ErrConnectionClosed
		}

		res := proto.Decode(scratch[:n])
		if res.Status != proto.Ok {
			log.Warn("client: dropped malformed or incomplete udp datagram")
			continue
		}
		return proto.DecodedMessage{Opcode: res.Message.Opcode, Payload: append([]byte(nil), res.Message.Payload...)}, nil
	}
}

func (r *frameReader) nextFromStream() (proto.DecodedMessage, error) {
	for {
		res := proto.Decode(r.buf)
		switch res.Status {
		case proto.Ok:
			msg := proto.DecodedMessage{Opcode: res.Message.Opcode, Payload: append([]byte(nil), res.Message.Payload...)}
			r.buf = r.buf[res.BytesConsumed:]
			return msg, nil
		case proto.Invalid:
			return proto.DecodedMessage{}, fmt.Errorf("client: invalid frame on wire")
		}

		scratch := make([]byte, recvScratchSize)
		n, err := r.conn.Read(scratch)
		if err != nil {
			return proto.DecodedMessage{}, err
		}
		if n == 0 {
			return proto.DecodedMessage{}, ErrConnectionClosed
		}
		r.buf = append(r.buf, scratch[:n]...)
	}
}
