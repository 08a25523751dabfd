package forwarder

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"

	"github.com/fqdnguard/fqdnguard/config"
	"github.com/fqdnguard/fqdnguard/dnswire"
	"github.com/fqdnguard/fqdnguard/middleware"
	"github.com/fqdnguard/fqdnguard/mock"
)

type delivery struct {
	raw  []byte
	addr net.Addr
}

type captureTransport struct {
	ch chan delivery
}

func (c *captureTransport) Deliver(raw []byte, addr net.Addr) error {
	c.ch <- delivery{raw: raw, addr: addr}
	return nil
}

// fakeUpstream answers every query by echoing it with the QR bit set.
func fakeUpstream(t *testing.T) (*net.UDPConn, string) {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	assert.NoError(t, err)

	go func() {
		buf := make([]byte, dnswire.MaxMsgSize)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}

			resp := make([]byte, n)
			copy(resp, buf[:n])
			resp[2] |= 0x80

			_, _ = conn.WriteToUDP(resp, addr)
		}
	}()

	return conn, conn.LocalAddr().String()
}

func makeQuery(t *testing.T, name string, id uint16) *dnswire.Msg {
	t.Helper()

	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), dns.TypeA)
	req.Id = id

	buf, err := req.Pack()
	assert.NoError(t, err)

	msg, err := dnswire.Decode(buf)
	assert.NoError(t, err)

	return msg
}

func Test_ForwardAndRelay(t *testing.T) {
	upstream, addr := fakeUpstream(t)
	defer upstream.Close()

	cfg := new(config.Config)
	cfg.Upstream = addr

	f := New(cfg)
	assert.Equal(t, "forwarder", f.Name())

	tr := &captureTransport{ch: make(chan delivery, 1)}
	assert.NoError(t, f.Start(tr))
	defer f.Stop()

	w := mock.NewWriter("127.0.0.1:53531")
	ch := middleware.NewChain([]middleware.Handler{f})
	ch.Reset(w, makeQuery(t, "www.debian.org", 0x1234))

	ch.Next(context.Background())

	select {
	case d := <-tr.ch:
		// the client sees its own transaction ID again
		assert.Equal(t, uint16(0x1234), binary.BigEndian.Uint16(d.raw[:2]))
		assert.True(t, d.raw[2]&0x80 != 0)
		assert.Equal(t, "127.0.0.1:53531", d.addr.String())
	case <-time.After(2 * time.Second):
		t.Fatal("no response relayed")
	}

	// the session is consumed, nothing is left to sweep
	assert.Equal(t, 0, f.Sessions().Len())
}

func Test_ForwardRewritesOutboundID(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	assert.NoError(t, err)
	defer conn.Close()

	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, dnswire.MaxMsgSize)
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		received <- raw
	}()

	cfg := new(config.Config)
	cfg.Upstream = conn.LocalAddr().String()

	f := New(cfg)
	assert.NoError(t, f.Start(&captureTransport{ch: make(chan delivery, 1)}))
	defer f.Stop()

	ch := middleware.NewChain([]middleware.Handler{f})
	ch.Reset(mock.NewWriter("127.0.0.1:53531"), makeQuery(t, "example.com", 0x1111))
	ch.Next(context.Background())

	select {
	case raw := <-received:
		outID := binary.BigEndian.Uint16(raw[:2])
		assert.NotEqual(t, uint16(0), outID)
		// everything except the ID is untouched
		orig := makeQuery(t, "example.com", 0x1111).Bytes()
		assert.Equal(t, orig[2:], raw[2:])
		assert.Equal(t, 1, f.Sessions().Len())
	case <-time.After(2 * time.Second):
		t.Fatal("query never reached upstream")
	}
}

func Test_UnsolicitedResponseDropped(t *testing.T) {
	upstream, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	assert.NoError(t, err)
	defer upstream.Close()

	cfg := new(config.Config)
	cfg.Upstream = upstream.LocalAddr().String()

	f := New(cfg)
	tr := &captureTransport{ch: make(chan delivery, 1)}
	assert.NoError(t, f.Start(tr))
	defer f.Stop()

	// one real query so the forwarder's local port is known to the upstream
	ch := middleware.NewChain([]middleware.Handler{f})
	ch.Reset(mock.NewWriter("127.0.0.1:53531"), makeQuery(t, "example.com", 0x2222))
	ch.Next(context.Background())

	buf := make([]byte, dnswire.MaxMsgSize)
	n, raddr, err := upstream.ReadFromUDP(buf)
	assert.NoError(t, err)

	// answer with a transaction ID that was never issued
	spoofed := make([]byte, n)
	copy(spoofed, buf[:n])
	spoofed[2] |= 0x80

	issued := binary.BigEndian.Uint16(spoofed[:2])
	binary.BigEndian.PutUint16(spoofed[:2], issued+1)

	_, err = upstream.WriteToUDP(spoofed, raddr)
	assert.NoError(t, err)

	select {
	case <-tr.ch:
		t.Fatal("spoofed response was delivered")
	case <-time.After(500 * time.Millisecond):
	}

	// the real session is still live
	assert.Equal(t, 1, f.Sessions().Len())
}

func Test_SessionTimeoutSweep(t *testing.T) {
	upstream, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	assert.NoError(t, err)
	defer upstream.Close()

	cfg := new(config.Config)
	cfg.Upstream = upstream.LocalAddr().String()
	cfg.SessionTimeout.Duration = 100 * time.Millisecond
	cfg.SweepInterval.Duration = 50 * time.Millisecond

	f := New(cfg)
	assert.NoError(t, f.Start(&captureTransport{ch: make(chan delivery, 1)}))
	defer f.Stop()

	ch := middleware.NewChain([]middleware.Handler{f})
	ch.Reset(mock.NewWriter("127.0.0.1:53531"), makeQuery(t, "example.com", 0x3333))
	ch.Next(context.Background())

	assert.Equal(t, 1, f.Sessions().Len())

	assert.Eventually(t, func() bool {
		return f.Sessions().Len() == 0
	}, 2*time.Second, 50*time.Millisecond)
}
