// Package forwarder relays permitted queries to the configured upstream DNS
// server. It owns the upstream-facing socket: each query goes out under a
// locally generated transaction ID, and the single receive loop matches
// upstream responses back to waiting clients through the session tracker.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/zlog/v2"

	"github.com/fqdnguard/fqdnguard/config"
	"github.com/fqdnguard/fqdnguard/dnswire"
	"github.com/fqdnguard/fqdnguard/middleware"
	"github.com/fqdnguard/fqdnguard/session"
)

// Transport delivers recovered upstream responses back to the original
// client. The listener implements it over its own socket.
type Transport interface {
	Deliver(raw []byte, addr net.Addr) error
}

// Forwarder type.
type Forwarder struct {
	upstream   string
	timeout    time.Duration
	sweepEvery time.Duration

	sessions  *session.Tracker
	conn      *net.UDPConn
	transport Transport

	stopCh chan struct{}

	forwarded      prometheus.Counter
	delivered      prometheus.Counter
	orphans        prometheus.Counter
	upstreamErrors prometheus.Counter
}

func init() {
	middleware.Register(name, func(cfg *config.Config) middleware.Handler {
		return New(cfg)
	})
}

// New return forwarder.
func New(cfg *config.Config) *Forwarder {
	if host, _, err := net.SplitHostPort(cfg.Upstream); err != nil || net.ParseIP(host) == nil {
		zlog.Error("Upstream server is not correct. Check your config.", "upstream", cfg.Upstream)
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	sweepEvery := cfg.SweepInterval.Duration
	if sweepEvery <= 0 {
		sweepEvery = time.Second
	}

	f := &Forwarder{
		upstream:   cfg.Upstream,
		timeout:    timeout,
		sweepEvery: sweepEvery,
		sessions:   session.NewTracker(cfg.SessionTimeout.Duration),
		stopCh:     make(chan struct{}),

		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dns_forward_total",
			Help: "How many queries forwarded upstream",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dns_forward_responses_total",
			Help: "How many upstream responses relayed back to clients",
		}),
		orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dns_forward_orphans_total",
			Help: "How many upstream responses had no live session",
		}),
		upstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dns_forward_upstream_errors_total",
			Help: "How many upstream sends failed",
		}),
	}

	_ = prometheus.Register(f.forwarded)
	_ = prometheus.Register(f.delivered)
	_ = prometheus.Register(f.orphans)
	_ = prometheus.Register(f.upstreamErrors)
	_ = prometheus.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dns_sessions_live",
		Help: "Live forwarded sessions awaiting an upstream response",
	}, func() float64 { return float64(f.sessions.Len()) }))

	return f
}

// Name return middleware name.
func (f *Forwarder) Name() string { return name }

// Sessions exposes the tracker for the admin API.
func (f *Forwarder) Sessions() *session.Tracker { return f.sessions }

// Start dials the upstream and begins the receive and sweep loops.
// Responses recovered by the receive loop go back out through t.
func (f *Forwarder) Start(t Transport) error {
	raddr, err := net.ResolveUDPAddr("udp", f.upstream)
	if err != nil {
		return fmt.Errorf("forwarder: could not resolve upstream %s: %w", f.upstream, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("forwarder: could not dial upstream %s: %w", f.upstream, err)
	}

	f.conn = conn
	f.transport = t

	go f.readLoop()
	go f.sweepLoop()

	zlog.Info("Forwarder started", "upstream", f.upstream)

	return nil
}

// Stop terminates the loops and closes the upstream socket. Pending sessions
// are abandoned without a response.
func (f *Forwarder) Stop() {
	close(f.stopCh)
	if f.conn != nil {
		_ = f.conn.Close()
	}
}

// ServeDNS implements the Handler interface. The chain ends here: either the
// query goes upstream or it is dropped.
func (f *Forwarder) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	if f.conn == nil {
		zlog.Warn("Forwarder not started, dropping query")
		ch.Cancel()
		return
	}

	q := ch.Query

	outID, err := f.sessions.Register(ch.Writer.RemoteAddr(), q.ID())
	if err != nil {
		zlog.Warn("Session register failed", "error", err.Error())
		ch.Cancel()
		return
	}

	q.SetID(outID)

	_ = f.conn.SetWriteDeadline(time.Now().Add(f.timeout))
	if _, err := f.conn.Write(q.Bytes()); err != nil {
		f.upstreamErrors.Inc()
		zlog.Warn("Upstream send failed", "upstream", f.upstream, "error", err.Error())

		f.sessions.Unregister(outID)
		ch.Cancel()
		return
	}

	f.forwarded.Inc()
}

// readLoop receives upstream datagrams and relays each one to the client its
// session belongs to. Responses with no live session, whether late, swept or
// spoofed, are dropped.
func (f *Forwarder) readLoop() {
	buf := make([]byte, dnswire.MaxMsgSize)

	for {
		n, err := f.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-f.stopCh:
				return
			default:
			}

			f.upstreamErrors.Inc()
			zlog.Warn("Upstream receive failed", "upstream", f.upstream, "error", err.Error())
			continue
		}

		id, err := dnswire.UnpackID(buf[:n])
		if err != nil {
			zlog.Debug("Upstream sent unparseable datagram", "raw_len", n)
			continue
		}

		entry, ok := f.sessions.Resolve(id)
		if !ok {
			f.orphans.Inc()
			zlog.Debug("Response for unknown session", "id", id)
			continue
		}

		resp := make([]byte, n)
		copy(resp, buf[:n])
		_ = dnswire.PatchID(resp, entry.OrigID)

		if err := f.transport.Deliver(resp, entry.Client); err != nil {
			zlog.Warn("Client delivery failed", "client", entry.Client.String(), "error", err.Error())
			continue
		}

		f.delivered.Inc()
	}
}

// sweepLoop evicts sessions that never got an upstream reply, keeping table
// memory proportional to the recent query rate rather than process lifetime.
func (f *Forwarder) sweepLoop() {
	ticker := time.NewTicker(f.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, e := range f.sessions.Sweep(time.Now()) {
				zlog.Debug("Session timeout", "id", e.OutboundID, "client", e.Client.String())
			}
		case <-f.stopCh:
			return
		}
	}
}

const name = "forwarder"
