// Package udp implements the connectionless broker: a single receive
// loop keyed by peer address, no handshake state machine, and a
// bounded per-peer send queue drained by that peer's own sender
// goroutine. A UDP "client" is just an address that has sent a frame.
package udp

import (
	"net"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/signalmesh/broker/internal/channel"
)

// scratchSize bounds a single recv; the protocol never splits a frame
// across datagrams, so this is also the effective max datagram size.
const scratchSize = 4096

// Server is the UDP pub/sub broker.
type Server struct {
	Host string
	Port uint16

	// SendConcurrency is how many WriteToUDP calls may be in flight
	// across all peers at once. 1 serializes every send process-wide; a
	// higher value lets sends to different peers overlap, while each
	// peer's own sender goroutine still keeps that peer's frames
	// strictly ordered. NewServer sizes the send semaphore from it;
	// changing the field afterwards has no effect.
	SendConcurrency int

	// RemoveOnDisconnect controls whether a DISCONNECT frame drops the
	// client record. UDP client records are otherwise address leases
	// with no natural end-of-life, so this defaults to false: idle
	// records just sit unused until process exit.
	RemoveOnDisconnect bool

	idx       channel.Index
	sessionID uint64 // guarded by mu, see nextSessionID

	mu      sync.Mutex
	clients map[string]*client

	conn    *net.UDPConn
	sendSem chan struct{}
	stopCh  chan struct{}
	stopOnce sync.Once
}

// NewServer constructs a UDP broker bound to host:port. sendConcurrency
// <= 0 is treated as 1.
func NewServer(host string, port uint16, sendConcurrency int) *Server {
	if sendConcurrency <= 0 {
		sendConcurrency = 1
	}
	return &Server{
		Host:            host,
		Port:            port,
		SendConcurrency: sendConcurrency,
		clients:         make(map[string]*client, 16),
		sendSem:         make(chan struct{}, sendConcurrency),
		stopCh:          make(chan struct{}),
	}
}

// Run binds the socket and serves datagrams until Shutdown is called
// or a fatal read error occurs.
func (s *Server) Run() error {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(int(s.Port)))
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	s.conn = conn

	log.WithFields(log.Fields{"address": addr}).Info("udp broker listening")

	return s.recvLoop()
}

// Shutdown closes the socket, unblocking recvLoop.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *Server) nextSessionID() uint64 {
	s.mu.Lock()
	s.sessionID++
	id := s.sessionID
	s.mu.Unlock()
	return id
}

// clientFor returns the existing client record for addr, or creates
// one and starts its dedicated sender goroutine.
func (s *Server) clientFor(addr *net.UDPAddr) *client {
	key := addr.String()

	s.mu.Lock()
	c, ok := s.clients[key]
	if !ok {
		c = newClient(addr)
		s.clients[key] = c
	}
	s.mu.Unlock()

	if !ok {
		go s.sendLoop(c)
	}
	return c
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c.addr.String())
	s.mu.Unlock()
	s.idx.RemoveEverywhere(c)
}
