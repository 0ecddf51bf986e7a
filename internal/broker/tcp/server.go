// Package tcp implements the connection-oriented broker: per-client
// receive/send buffers, a handshake state machine, back-pressured send
// queues and cleanup on disconnect.
package tcp

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/signalmesh/broker/internal/channel"
	"github.com/signalmesh/broker/internal/wsconn"
)

// handshakeBufferLimit bounds how many unparsed bytes a not-yet-ready
// client may accumulate before it's dropped for being too slow or
// malicious during handshake.
const handshakeBufferLimit = 1024

// Server is the TCP (and, optionally, WebSocket) pub/sub broker.
type Server struct {
	Host   string
	Port   uint16
	WSAddr string // empty disables the websocket listener

	idx       channel.Index
	sessionID atomic.Uint64

	mu      sync.Mutex
	clients map[*client]struct{}

	ln       net.Listener
	wsSrv    *http.Server
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewServer constructs a broker bound to host:port, with an optional
// additional WebSocket listener at wsAddr (empty to disable it).
// Verbosity is controlled process-wide via logrus's level, set by the
// caller (see cmd/broker-tcp), not per-server.
func NewServer(host string, port uint16, wsAddr string) *Server {
	return &Server{
		Host:    host,
		Port:    port,
		WSAddr:  wsAddr,
		clients: make(map[*client]struct{}, 16),
		stopCh:  make(chan struct{}),
	}
}

// Run binds the listener(s) and serves until Shutdown is called or a
// fatal accept error occurs.
func (s *Server) Run() error {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(int(s.Port)))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln

	log.WithFields(log.Fields{"address": addr}).Info("tcp broker listening")

	errs := make(chan error, 2)
	go s.acceptLoop(ln, errs)

	if s.WSAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/", wsconn.Upgrader(true, s.handleConn))
		s.wsSrv = &http.Server{Addr: s.WSAddr, Handler: mux}

		log.WithFields(log.Fields{"address": s.WSAddr}).Info("websocket listener starting")
		go func() {
			if err := s.wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errs <- err
			}
		}()
	}

	select {
	case err := <-errs:
		return err
	case <-s.stopCh:
		return nil
	}
}

// Shutdown closes the listeners; outstanding client connections are
// closed as their goroutines notice EOF/errors.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.ln != nil {
			s.ln.Close()
		}
		if s.wsSrv != nil {
			s.wsSrv.Close()
		}
	})
}

func (s *Server) acceptLoop(ln net.Listener, errs chan<- error) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.WithError(err).Error("tcp broker: accept error")
			errs <- err
			return
		}

		go s.handleConn(conn)
	}
}

func (s *Server) nextSessionID() uint64 {
	return s.sessionID.Add(1)
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.idx.RemoveEverywhere(c)
}
