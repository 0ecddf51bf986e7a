package tcp

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/signalmesh/broker/internal/proto"
)

// startServer starts a server on an ephemeral port and returns it plus
// a cleanup func.
func startServer(t *testing.T) (*Server, func()) {
	t.Helper()
	s := NewServer("127.0.0.1", 0, "")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.ln = ln
	errs := make(chan error, 1)
	go s.acceptLoop(ln, errs)

	return s, func() { s.Shutdown() }
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn net.Conn) proto.DecodedMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	total := 0
	for {
		n, err := conn.Read(buf[total:])
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		total += n
		res := proto.Decode(buf[:total])
		if res.Status == proto.Ok {
			return res.Message
		}
		if res.Status == proto.Invalid {
			t.Fatalf("invalid frame")
		}
	}
}

func handshakeSub(t *testing.T, conn net.Conn, channels []uint8, id string) uint64 {
	t.Helper()
	n, err := proto.SizeHandshakeSub(channels, id)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	frame := proto.Build(n, func(b []byte) int {
		m, _ := proto.EncodeHandshakeSub(b, channels, id)
		return m
	})
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readFrame(t, conn)
	if msg.Opcode != proto.HandshakeAck {
		t.Fatalf("expected HANDSHAKE_ACK, got %v", msg.Opcode)
	}
	_, sid, err := proto.DecodeHandshakeAck(msg.Payload)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return sid
}

func handshakePub(t *testing.T, conn net.Conn, ch uint8, id string) {
	t.Helper()
	n, err := proto.SizeHandshakePub(id)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	frame := proto.Build(n, func(b []byte) int {
		m, _ := proto.EncodeHandshakePub(b, ch, id)
		return m
	})
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readFrame(t, conn)
	if msg.Opcode != proto.HandshakeAck {
		t.Fatalf("expected HANDSHAKE_ACK, got %v", msg.Opcode)
	}
}

// TestFanOutExcludesSender checks that two subscribers on the same
// channel both receive a PUBLISH from a third connection handshaking
// as a publisher on that channel, and that the publisher never
// receives its own message back.
func TestFanOutExcludesSender(t *testing.T) {
	s, cleanup := startServer(t)
	defer cleanup()

	a := dial(t, s)
	defer a.Close()
	b := dial(t, s)
	defer b.Close()
	p := dial(t, s)
	defer p.Close()

	handshakeSub(t, a, []uint8{0x05}, uuid.NewString())
	handshakeSub(t, b, []uint8{0x05}, uuid.NewString())
	handshakePub(t, p, 0x05, uuid.NewString())

	pub := proto.Build(proto.SizePublish([]byte("goal")), func(buf []byte) int {
		return proto.EncodePublish(buf, 0x05, []byte("goal"))
	})
	if _, err := p.Write(pub); err != nil {
		t.Fatalf("write publish: %v", err)
	}

	for _, conn := range []net.Conn{a, b} {
		msg := readFrame(t, conn)
		if msg.Opcode != proto.Message {
			t.Fatalf("expected MESSAGE, got %v", msg.Opcode)
		}
		m, err := proto.DecodeMessageFrame(msg.Payload)
		if err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if string(m.Payload) != "goal" {
			t.Fatalf("unexpected payload %q", m.Payload)
		}
	}

	p.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := p.Read(buf); err == nil {
		t.Fatalf("publisher should not receive its own message, got %d bytes", n)
	}
}

// TestSendQueueOverflowDropsNewest fills a client's send queue to
// capacity, then enqueues one more frame. The extra frame must be
// dropped, leaving the queue's existing contents untouched.
func TestSendQueueOverflowDropsNewest(t *testing.T) {
	c := newClient(nil)
	c.setState(StateReady)

	for i := 0; i < sendQueueCap; i++ {
		c.Enqueue(proto.Build(proto.SizePing(), proto.EncodePing))
	}
	if len(c.sendCh) != sendQueueCap {
		t.Fatalf("expected queue full at %d, got %d", sendQueueCap, len(c.sendCh))
	}

	overflow := proto.Build(proto.SizePong(), proto.EncodePong)
	c.Enqueue(overflow)

	if len(c.sendCh) != sendQueueCap {
		t.Fatalf("queue size changed on overflow enqueue: %d", len(c.sendCh))
	}
	for i := 0; i < sendQueueCap; i++ {
		frame := <-c.sendCh
		msg := proto.Decode(frame).Message
		if msg.Opcode != proto.Ping {
			t.Fatalf("frame %d: expected PING survivors, got %v", i, msg.Opcode)
		}
	}
}

// TestSessionIDsMonotonicAndUnique checks that every HANDSHAKE_ACK
// carries a session id greater than 0, strictly increasing across
// handshakes.
func TestSessionIDsMonotonicAndUnique(t *testing.T) {
	s, cleanup := startServer(t)
	defer cleanup()

	var ids []uint64
	for i := 0; i < 3; i++ {
		conn := dial(t, s)
		defer conn.Close()
		ids = append(ids, handshakeSub(t, conn, []uint8{0x01}, uuid.NewString()))
	}

	for i, id := range ids {
		if id == 0 {
			t.Fatalf("session id %d was zero", i)
		}
		if i > 0 && id <= ids[i-1] {
			t.Fatalf("session ids not strictly increasing: %v", ids)
		}
	}
}

// TestRoleImmutableAfterHandshake covers the decision that SUBSCRIBE
// sent by an already-handshaken publisher grows its channel mask
// without relabeling its role.
func TestRoleImmutableAfterHandshake(t *testing.T) {
	s, cleanup := startServer(t)
	defer cleanup()

	conn := dial(t, s)
	defer conn.Close()
	handshakePub(t, conn, 0x01, uuid.NewString())

	sub := proto.Build(proto.SizeSubscribe(), func(b []byte) int {
		return proto.EncodeSubscribe(b, 0x02)
	})
	if _, err := conn.Write(sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	// Give the server a moment to process, then verify that the client
	// was added to the channel 0x02 index (mask/index membership grew):
	// publishing on 0x02 from elsewhere should now reach this connection.
	time.Sleep(50 * time.Millisecond)

	other := dial(t, s)
	defer other.Close()
	handshakePub(t, other, 0x02, uuid.NewString())

	pub := proto.Build(proto.SizePublish([]byte("hi")), func(b []byte) int {
		return proto.EncodePublish(b, 0x02, []byte("hi"))
	})
	if _, err := other.Write(pub); err != nil {
		t.Fatalf("write publish: %v", err)
	}

	msg := readFrame(t, conn)
	if msg.Opcode != proto.Message {
		t.Fatalf("expected MESSAGE after late SUBSCRIBE, got %v", msg.Opcode)
	}

	// The role is still RolePublisher: this connection's own PUBLISH on
	// 0x01 is routed, not ignored as coming from a non-publisher.
	listener := dial(t, s)
	defer listener.Close()
	handshakeSub(t, listener, []uint8{0x01}, uuid.NewString())

	own := proto.Build(proto.SizePublish([]byte("still")), func(b []byte) int {
		return proto.EncodePublish(b, 0x01, []byte("still"))
	})
	if _, err := conn.Write(own); err != nil {
		t.Fatalf("write own publish: %v", err)
	}

	got := readFrame(t, listener)
	if got.Opcode != proto.Message {
		t.Fatalf("expected MESSAGE from publisher after its SUBSCRIBE, got %v", got.Opcode)
	}
}
