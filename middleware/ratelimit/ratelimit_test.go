package ratelimit

import (
	"context"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"

	"github.com/fqdnguard/fqdnguard/config"
	"github.com/fqdnguard/fqdnguard/dnswire"
	"github.com/fqdnguard/fqdnguard/middleware"
	"github.com/fqdnguard/fqdnguard/mock"
)

type counter struct {
	calls int
}

func (c *counter) Name() string { return "counter" }

func (c *counter) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	c.calls++
}

func makeQuery(t *testing.T) *dnswire.Msg {
	t.Helper()

	req := new(dns.Msg)
	req.SetQuestion("test.com.", dns.TypeA)

	buf, err := req.Pack()
	assert.NoError(t, err)

	msg, err := dnswire.Decode(buf)
	assert.NoError(t, err)

	return msg
}

func Test_RateLimitDisabled(t *testing.T) {
	cfg := new(config.Config)

	r := New(cfg)
	assert.Equal(t, "ratelimit", r.Name())

	c := &counter{}
	ch := middleware.NewChain([]middleware.Handler{r, c})

	for i := 0; i < 100; i++ {
		ch.Reset(mock.NewWriter("8.8.8.8:0"), makeQuery(t))
		ch.Next(context.Background())
	}

	assert.Equal(t, 100, c.calls)
}

func Test_RateLimit(t *testing.T) {
	cfg := new(config.Config)
	cfg.ClientRateLimit = 2

	r := New(cfg)

	c := &counter{}
	ch := middleware.NewChain([]middleware.Handler{r, c})

	for i := 0; i < 10; i++ {
		ch.Reset(mock.NewWriter("8.8.8.8:0"), makeQuery(t))
		ch.Next(context.Background())
	}

	// burst of 2, the rest are limited
	assert.Equal(t, 2, c.calls)
}

func Test_RateLimitLoopbackExempt(t *testing.T) {
	cfg := new(config.Config)
	cfg.ClientRateLimit = 1

	r := New(cfg)

	c := &counter{}
	ch := middleware.NewChain([]middleware.Handler{r, c})

	for i := 0; i < 10; i++ {
		ch.Reset(mock.NewWriter("127.0.0.1:0"), makeQuery(t))
		ch.Next(context.Background())
	}

	assert.Equal(t, 10, c.calls)
}
