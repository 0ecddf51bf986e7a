package proto

import "encoding/binary"

// Each encodeXxx has a matching sizeXxx; sizeXxx(args) must equal
// len(buffer written) by encodeXxx(buf, args) for every opcode (testable
// property 7). Encoders never allocate; they write into a caller-sized
// buffer. Overflowing a u8 length prefix is rejected rather than
// truncated, unlike the C++ reference this protocol was distilled from.

func writeHeader(buf []byte, op OpCode, payloadLen uint32) {
	binary.LittleEndian.PutUint16(buf[0:2], Magic)
	buf[2] = byte(op)
	binary.LittleEndian.PutUint32(buf[3:7], payloadLen)
}

// SizeHandshakePub returns the total frame size for a HANDSHAKE_PUB with
// the given client id.
func SizeHandshakePub(clientID string) (uint32, error) {
	if len(clientID) > 255 {
		return 0, ErrClientIDTooLong
	}
	return HeaderSize + 2 + uint32(len(clientID)), nil
}

// EncodeHandshakePub writes a HANDSHAKE_PUB frame into buf, which must be
// at least SizeHandshakePub(clientID) bytes.
func EncodeHandshakePub(buf []byte, channel uint8, clientID string) (int, error) {
	n, err := SizeHandshakePub(clientID)
	if err != nil {
		return 0, err
	}
	writeHeader(buf, HandshakePub, n-HeaderSize)
	buf[HeaderSize] = channel
	buf[HeaderSize+1] = byte(len(clientID))
	copy(buf[HeaderSize+2:n], clientID)
	return int(n), nil
}

// SizeHandshakeSub returns the total frame size for a HANDSHAKE_SUB with
// the given channel list and client id.
func SizeHandshakeSub(channels []uint8, clientID string) (uint32, error) {
	if len(channels) > 255 {
		return 0, ErrTooManyChannels
	}
	if len(clientID) > 255 {
		return 0, ErrClientIDTooLong
	}
	return HeaderSize + 1 + uint32(len(channels)) + 1 + uint32(len(clientID)), nil
}

// EncodeHandshakeSub writes a HANDSHAKE_SUB frame into buf.
func EncodeHandshakeSub(buf []byte, channels []uint8, clientID string) (int, error) {
	n, err := SizeHandshakeSub(channels, clientID)
	if err != nil {
		return 0, err
	}
	writeHeader(buf, HandshakeSub, n-HeaderSize)
	i := HeaderSize
	buf[i] = byte(len(channels))
	i++
	copy(buf[i:], channels)
	i += len(channels)
	buf[i] = byte(len(clientID))
	i++
	copy(buf[i:int(n)], clientID)
	return int(n), nil
}

// SizeHandshakeAck returns the total frame size for a HANDSHAKE_ACK.
func SizeHandshakeAck() uint32 {
	return HeaderSize + 1 + 8
}

// EncodeHandshakeAck writes a HANDSHAKE_ACK frame into buf.
func EncodeHandshakeAck(buf []byte, status uint8, sessionID uint64) int {
	n := SizeHandshakeAck()
	writeHeader(buf, HandshakeAck, n-HeaderSize)
	buf[HeaderSize] = status
	binary.LittleEndian.PutUint64(buf[HeaderSize+1:n], sessionID)
	return int(n)
}

// SizeDisconnect, SizePing, SizePong: empty-payload frames.
func SizeDisconnect() uint32 { return HeaderSize }
func SizePing() uint32       { return HeaderSize }
func SizePong() uint32       { return HeaderSize }

func EncodeDisconnect(buf []byte) int { return encodeEmpty(buf, Disconnect) }
func EncodePing(buf []byte) int       { return encodeEmpty(buf, Ping) }
func EncodePong(buf []byte) int       { return encodeEmpty(buf, Pong) }

func encodeEmpty(buf []byte, op OpCode) int {
	writeHeader(buf, op, 0)
	return HeaderSize
}

// SizePublish returns the total frame size for a PUBLISH with the given
// message payload.
func SizePublish(message []byte) uint32 {
	return HeaderSize + 1 + uint32(len(message))
}

// EncodePublish writes a PUBLISH frame into buf.
func EncodePublish(buf []byte, channel uint8, message []byte) int {
	n := SizePublish(message)
	writeHeader(buf, Publish, n-HeaderSize)
	buf[HeaderSize] = channel
	copy(buf[HeaderSize+1:n], message)
	return int(n)
}

// SizeMessage returns the total frame size for a MESSAGE with the given
// payload.
func SizeMessage(message []byte) uint32 {
	return HeaderSize + 1 + 8 + uint32(len(message))
}

// EncodeMessage writes a MESSAGE frame into buf.
func EncodeMessage(buf []byte, channel uint8, timestamp uint64, message []byte) int {
	n := SizeMessage(message)
	writeHeader(buf, Message, n-HeaderSize)
	i := HeaderSize
	buf[i] = channel
	i++
	binary.LittleEndian.PutUint64(buf[i:i+8], timestamp)
	i += 8
	copy(buf[i:int(n)], message)
	return int(n)
}

// SizeSubscribe, SizeUnsubscribe: a single channel byte payload.
func SizeSubscribe() uint32   { return HeaderSize + 1 }
func SizeUnsubscribe() uint32 { return HeaderSize + 1 }

func EncodeSubscribe(buf []byte, channel uint8) int {
	return encodeChannelOnly(buf, Subscribe, channel)
}

func EncodeUnsubscribe(buf []byte, channel uint8) int {
	return encodeChannelOnly(buf, Unsubscribe, channel)
}

func encodeChannelOnly(buf []byte, op OpCode, channel uint8) int {
	writeHeader(buf, op, 1)
	buf[HeaderSize] = channel
	return HeaderSize + 1
}

// SizeError returns the total frame size for an ERROR frame.
func SizeError() uint32 { return HeaderSize + 1 }

// EncodeError writes an ERROR frame into buf.
func EncodeError(buf []byte, code ErrorCode) int {
	writeHeader(buf, Error, 1)
	buf[HeaderSize] = byte(code)
	return HeaderSize + 1
}

// Build allocates and encodes in one step, for call sites that don't
// already own a correctly-sized buffer (e.g. constructing an owned frame
// to place on a subscriber's send queue).
func Build(size uint32, encode func(buf []byte) int) []byte {
	buf := make([]byte, size)
	n := encode(buf)
	return buf[:n]
}
