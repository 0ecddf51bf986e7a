package proto

import "encoding/binary"

// ParseStatus classifies a Decode call's outcome.
type ParseStatus uint8

const (
	// NeedMore means fewer than HeaderSize bytes are available, or the
	// header is valid but the payload is not yet complete. Try again
	// once more bytes have arrived.
	NeedMore ParseStatus = iota
	// Invalid means the magic did not match or the declared length
	// exceeds MaxPayloadSize. The caller should treat this as a
	// protocol violation.
	Invalid
	// Ok means a complete frame was decoded.
	Ok
)

// ParseResult is the result of a single Decode call.
type ParseResult struct {
	Status        ParseStatus
	BytesConsumed uint32
	Message       DecodedMessage
}

// Decode parses at most one frame from the front of data. It never
// allocates and never copies the payload: Message.Payload is a slice
// into data, valid only until the caller advances past BytesConsumed
// bytes and calls Decode again. The caller must keep calling Decode on
// the remainder while it keeps returning Ok.
func Decode(data []byte) ParseResult {
	if len(data) < HeaderSize {
		return ParseResult{Status: NeedMore}
	}

	magic := binary.LittleEndian.Uint16(data[0:2])
	if magic != Magic {
		return ParseResult{Status: Invalid}
	}

	length := binary.LittleEndian.Uint32(data[3:7])
	if length > MaxPayloadSize {
		return ParseResult{Status: Invalid}
	}

	total := HeaderSize + length
	if uint32(len(data)) < total {
		return ParseResult{Status: NeedMore}
	}

	payload := data[HeaderSize:total:total]
	return ParseResult{
		Status:        Ok,
		BytesConsumed: total,
		Message: DecodedMessage{
			Opcode:  OpCode(data[2]),
			Payload: payload,
		},
	}
}
