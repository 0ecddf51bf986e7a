package proto

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	n, err := SizeHandshakeSub([]uint8{5, 7}, "sub")
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, n)
	written, err := EncodeHandshakeSub(buf, []uint8{5, 7}, "sub")
	if err != nil {
		t.Fatal(err)
	}
	if uint32(written) != n {
		t.Fatalf("sizeof/encode mismatch: size=%d written=%d", n, written)
	}

	res := Decode(buf)
	if res.Status != Ok {
		t.Fatalf("expected Ok, got %v", res.Status)
	}
	if res.BytesConsumed != n {
		t.Fatalf("expected consumed=%d got %d", n, res.BytesConsumed)
	}
	if res.Message.Opcode != HandshakeSub {
		t.Fatalf("wrong opcode: %v", res.Message.Opcode)
	}

	hs, err := DecodeHandshakeSub(res.Message.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if hs.ClientID != "sub" || len(hs.Channels) != 2 || hs.Channels[0] != 5 || hs.Channels[1] != 7 {
		t.Fatalf("unexpected decode: %+v", hs)
	}
}

func TestHandshakeSubRoundTrip(t *testing.T) {
	t.Parallel()

	n, err := SizeHandshakeSub([]uint8{0x05, 0x07}, "sub")
	if err != nil {
		t.Fatal(err)
	}
	if n != 14 {
		t.Fatalf("expected request size 14, got %d", n)
	}

	ackSize := SizeHandshakeAck()
	if ackSize != 16 {
		t.Fatalf("expected response size 16, got %d", ackSize)
	}

	ack := make([]byte, ackSize)
	EncodeHandshakeAck(ack, 0, 1)
	res := Decode(ack)
	if res.Status != Ok {
		t.Fatalf("expected Ok, got %v", res.Status)
	}
	status, sessionID, err := DecodeHandshakeAck(res.Message.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if status != 0 || sessionID != 1 {
		t.Fatalf("unexpected ack: status=%d session=%d", status, sessionID)
	}
}

func TestPartialFrameNeedsMoreBytes(t *testing.T) {
	t.Parallel()

	partial := []byte{0xFE, 0xCA, 0x13, 0x02, 0x00, 0x00, 0x00, 0x05}
	res := Decode(partial)
	if res.Status != NeedMore {
		t.Fatalf("expected NeedMore, got %v", res.Status)
	}
	if res.BytesConsumed != 0 {
		t.Fatalf("expected bytesConsumed=0, got %d", res.BytesConsumed)
	}

	full := append(append([]byte{}, partial...), 0x41)
	res = Decode(full)
	if res.Status != Ok {
		t.Fatalf("expected Ok, got %v", res.Status)
	}
	if res.BytesConsumed != 9 {
		t.Fatalf("expected bytesConsumed=9, got %d", res.BytesConsumed)
	}
	// The 2-byte payload (channel 0x05, byte 0x41) is shorter than a
	// MESSAGE's channel+timestamp layout, so check the raw payload view
	// the decoder returns rather than decoding it as a MESSAGE.
	if res.Message.Opcode != Message {
		t.Fatalf("expected MESSAGE opcode, got %v", res.Message.Opcode)
	}
	p := res.Message.Payload
	if len(p) != 2 || p[0] != 0x05 || p[1] != 0x41 {
		t.Fatalf("unexpected payload: %v", p)
	}
}

func TestInvalidMagicRejected(t *testing.T) {
	t.Parallel()

	bad := []byte{0xDE, 0xAD, 0x13, 0x00, 0x00, 0x00, 0x00}
	res := Decode(bad)
	if res.Status != Invalid {
		t.Fatalf("expected Invalid, got %v", res.Status)
	}
	if res.BytesConsumed != 0 {
		t.Fatalf("expected bytesConsumed=0, got %d", res.BytesConsumed)
	}
}

func TestDecodeLengthOverflowIsInvalid(t *testing.T) {
	t.Parallel()

	buf := make([]byte, HeaderSize)
	buf[0], buf[1] = 0xFE, 0xCA
	buf[2] = byte(Publish)
	// length field set above MaxPayloadSize
	buf[3], buf[4], buf[5], buf[6] = 0x01, 0x00, 0x10, 0x00 // 0x00100001 > 1,048,576
	res := Decode(buf)
	if res.Status != Invalid {
		t.Fatalf("expected Invalid, got %v", res.Status)
	}
}

func TestDecodeNeverReadsPastConsumed(t *testing.T) {
	t.Parallel()

	payload := []byte{0x42}
	n := SizePublish(payload)
	buf := make([]byte, n, n+64) // extra capacity the decoder must not touch
	EncodePublish(buf, 1, payload)

	res := Decode(buf)
	if res.Status != Ok || res.BytesConsumed != n {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Message.Payload) != cap(res.Message.Payload) {
		// payload view must be bounded exactly to the frame, not the
		// caller's extra buffer capacity.
		t.Fatalf("payload view escapes frame bounds: len=%d cap=%d",
			len(res.Message.Payload), cap(res.Message.Payload))
	}
}

func TestEncodeRejectsOversizeClientID(t *testing.T) {
	t.Parallel()

	id := make([]byte, 256)
	if _, err := SizeHandshakePub(string(id)); err != ErrClientIDTooLong {
		t.Fatalf("expected ErrClientIDTooLong, got %v", err)
	}
	if _, err := EncodeHandshakePub(make([]byte, 512), 0, string(id)); err != ErrClientIDTooLong {
		t.Fatalf("expected ErrClientIDTooLong, got %v", err)
	}
}

func TestEncodeRejectsTooManyChannels(t *testing.T) {
	t.Parallel()

	channels := make([]uint8, 256)
	if _, err := SizeHandshakeSub(channels, "x"); err != ErrTooManyChannels {
		t.Fatalf("expected ErrTooManyChannels, got %v", err)
	}
}

func TestSizeofMatchesEncodedLength(t *testing.T) {
	t.Parallel()

	msg := []byte("hello")

	cases := []struct {
		name string
		size uint32
		buf  []byte
	}{
		{"disconnect", SizeDisconnect(), Build(SizeDisconnect(), EncodeDisconnect)},
		{"ping", SizePing(), Build(SizePing(), EncodePing)},
		{"pong", SizePong(), Build(SizePong(), EncodePong)},
		{"publish", SizePublish(msg), Build(SizePublish(msg), func(b []byte) int { return EncodePublish(b, 1, msg) })},
		{"message", SizeMessage(msg), Build(SizeMessage(msg), func(b []byte) int { return EncodeMessage(b, 1, 42, msg) })},
		{"subscribe", SizeSubscribe(), Build(SizeSubscribe(), func(b []byte) int { return EncodeSubscribe(b, 9) })},
		{"unsubscribe", SizeUnsubscribe(), Build(SizeUnsubscribe(), func(b []byte) int { return EncodeUnsubscribe(b, 9) })},
		{"error", SizeError(), Build(SizeError(), func(b []byte) int { return EncodeError(b, MessageTooLarge) })},
	}

	for _, c := range cases {
		if uint32(len(c.buf)) != c.size {
			t.Errorf("%s: sizeof=%d encoded=%d", c.name, c.size, len(c.buf))
		}
	}
}
