package proto

import (
	"encoding/binary"
	"errors"
)

// ErrMalformedPayload is returned by the payload decoders below when a
// frame's opcode is recognized but its payload doesn't match the
// layout in the protocol table (e.g. a declared cid_len that doesn't
// fit the frame). Decode itself never returns this - opcode-level
// payload validation is the handler's job, per the protocol's decoder
// contract.
var ErrMalformedPayload = errors.New("proto: malformed payload")

// HandshakePubPayload is the decoded payload of a HANDSHAKE_PUB frame.
type HandshakePubPayload struct {
	Channel  uint8
	ClientID string
}

func DecodeHandshakePub(payload []byte) (HandshakePubPayload, error) {
	if len(payload) < 2 {
		return HandshakePubPayload{}, ErrMalformedPayload
	}
	channel := payload[0]
	cidLen := int(payload[1])
	if len(payload) != 2+cidLen {
		return HandshakePubPayload{}, ErrMalformedPayload
	}
	return HandshakePubPayload{Channel: channel, ClientID: string(payload[2 : 2+cidLen])}, nil
}

// HandshakeSubPayload is the decoded payload of a HANDSHAKE_SUB frame.
type HandshakeSubPayload struct {
	Channels []uint8
	ClientID string
}

func DecodeHandshakeSub(payload []byte) (HandshakeSubPayload, error) {
	if len(payload) < 1 {
		return HandshakeSubPayload{}, ErrMalformedPayload
	}
	chCount := int(payload[0])
	i := 1 + chCount
	if len(payload) < i+1 {
		return HandshakeSubPayload{}, ErrMalformedPayload
	}
	channels := payload[1:i]
	cidLen := int(payload[i])
	i++
	if len(payload) != i+cidLen {
		return HandshakeSubPayload{}, ErrMalformedPayload
	}
	return HandshakeSubPayload{
		Channels: append([]uint8(nil), channels...),
		ClientID: string(payload[i : i+cidLen]),
	}, nil
}

// PublishPayload is the decoded payload of a PUBLISH frame.
type PublishPayload struct {
	Channel uint8
	Message []byte
}

func DecodePublish(payload []byte) (PublishPayload, error) {
	if len(payload) < 1 {
		return PublishPayload{}, ErrMalformedPayload
	}
	return PublishPayload{Channel: payload[0], Message: payload[1:]}, nil
}

// MessagePayload is the decoded payload of a MESSAGE frame.
type MessagePayload struct {
	Channel   uint8
	Timestamp uint64
	Payload   []byte
}

func DecodeMessageFrame(payload []byte) (MessagePayload, error) {
	if len(payload) < 9 {
		return MessagePayload{}, ErrMalformedPayload
	}
	return MessagePayload{
		Channel:   payload[0],
		Timestamp: binary.LittleEndian.Uint64(payload[1:9]),
		Payload:   payload[9:],
	}, nil
}

// DecodeChannelOnly decodes the single-byte channel payload shared by
// SUBSCRIBE and UNSUBSCRIBE.
func DecodeChannelOnly(payload []byte) (uint8, error) {
	if len(payload) != 1 {
		return 0, ErrMalformedPayload
	}
	return payload[0], nil
}

// DecodeHandshakeAck decodes a HANDSHAKE_ACK payload.
func DecodeHandshakeAck(payload []byte) (status uint8, sessionID uint64, err error) {
	if len(payload) != 9 {
		return 0, 0, ErrMalformedPayload
	}
	return payload[0], binary.LittleEndian.Uint64(payload[1:9]), nil
}

// DecodeErrorFrame decodes an ERROR payload.
func DecodeErrorFrame(payload []byte) (ErrorCode, error) {
	if len(payload) != 1 {
		return 0, ErrMalformedPayload
	}
	return ErrorCode(payload[0]), nil
}
