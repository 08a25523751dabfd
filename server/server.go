// Package server implements the UDP front of the proxy. It accepts raw
// datagrams, decodes just enough of them to run the middleware chain and
// relays upstream answers back to the original clients.
package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/semihalev/zlog/v2"

	"github.com/fqdnguard/fqdnguard/config"
	"github.com/fqdnguard/fqdnguard/dnswire"
	"github.com/fqdnguard/fqdnguard/middleware"
)

// Server type
type Server struct {
	addr string

	mu   sync.RWMutex
	conn *net.UDPConn

	chainPool sync.Pool
	bufPool   sync.Pool
}

// New return new server
func New(cfg *config.Config) *Server {
	if cfg.Bind == "" {
		cfg.Bind = "127.0.0.1:53"
	}

	server := &Server{
		addr: cfg.Bind,
	}

	server.chainPool.New = func() interface{} {
		return middleware.NewChain(middleware.Handlers())
	}

	server.bufPool.New = func() interface{} {
		return make([]byte, dnswire.MaxMsgSize)
	}

	return server
}

// Run binds the UDP socket and starts serving queries.
func (s *Server) Run() error {
	uaddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", uaddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	zlog.Info("DNS server listening...", "net", "udp", "addr", conn.LocalAddr().String())

	go s.serve(conn)

	return nil
}

// Stop closes the listening socket.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Addr returns the bound address, empty until Run succeeds.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return ""
	}

	return s.conn.LocalAddr().String()
}

// Deliver writes an upstream answer back to a client. It implements the
// forwarder transport.
func (s *Server) Deliver(raw []byte, addr net.Addr) error {
	uaddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return errors.New("server: client address is not udp")
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn == nil {
		return net.ErrClosed
	}

	_, err := conn.WriteToUDP(raw, uaddr)

	return err
}

func (s *Server) serve(conn *net.UDPConn) {
	for {
		buf := s.bufPool.Get().([]byte)

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			s.bufPool.Put(buf)

			if errors.Is(err, net.ErrClosed) {
				return
			}

			zlog.Warn("UDP read failed", "error", err.Error())
			continue
		}

		go func(buf []byte, n int, addr *net.UDPAddr) {
			s.handle(conn, buf[:n], addr)
			s.bufPool.Put(buf)
		}(buf, n, addr)
	}
}

func (s *Server) handle(conn *net.UDPConn, raw []byte, addr *net.UDPAddr) {
	msg, err := dnswire.Decode(raw)
	if err != nil {
		zlog.Debug("Query unparseable", "client", addr.String(), "rawlen", len(raw), "error", err.Error())
		return
	}

	if msg.Header.Response() {
		// answers arrive on the upstream socket, not here
		return
	}

	s.ServeDNS(&udpWriter{conn: conn, addr: addr}, msg)
}

// ServeDNS runs one decoded query through the middleware chain.
func (s *Server) ServeDNS(w middleware.Writer, msg *dnswire.Msg) {
	ch := s.chainPool.Get().(*middleware.Chain)

	ch.Reset(w, msg)

	ch.Next(context.Background())

	s.chainPool.Put(ch)
}

type udpWriter struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

func (w *udpWriter) Write(m []byte) (int, error) {
	return w.conn.WriteToUDP(m, w.addr)
}

func (w *udpWriter) RemoteAddr() net.Addr { return w.addr }
