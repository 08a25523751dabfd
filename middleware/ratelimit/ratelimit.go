// Package ratelimit drops queries from clients that exceed the configured
// per-IP query rate. Limited clients get no reply at all.
package ratelimit

import (
	"context"
	"net"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"

	"github.com/fqdnguard/fqdnguard/config"
	"github.com/fqdnguard/fqdnguard/middleware"
)

// maxLimiters bounds the per-client table; when full it is reset wholesale.
const maxLimiters = 65536

// RateLimit type.
type RateLimit struct {
	rate int

	mu       sync.Mutex
	limiters map[uint64]*rate.Limiter
}

func init() {
	middleware.Register(name, func(cfg *config.Config) middleware.Handler {
		return New(cfg)
	})
}

// New return ratelimit.
func New(cfg *config.Config) *RateLimit {
	return &RateLimit{
		rate:     cfg.ClientRateLimit,
		limiters: make(map[uint64]*rate.Limiter),
	}
}

// Name return middleware name.
func (r *RateLimit) Name() string { return name }

// ServeDNS implements the Handler interface.
func (r *RateLimit) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	if r.rate == 0 {
		ch.Next(ctx)
		return
	}

	ip := ch.Writer.RemoteIP()
	if ip == nil || ip.IsLoopback() {
		ch.Next(ctx)
		return
	}

	if !r.getLimiter(ip).Allow() {
		//no reply to client
		ch.Cancel()
		return
	}

	ch.Next(ctx)
}

func (r *RateLimit) getLimiter(ip net.IP) *rate.Limiter {
	key := xxhash.Sum64(ip)

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[key]; ok {
		return l
	}

	if len(r.limiters) >= maxLimiters {
		r.limiters = make(map[uint64]*rate.Limiter)
	}

	l := rate.NewLimiter(rate.Limit(r.rate), r.rate)
	r.limiters[key] = l

	return l
}

const name = "ratelimit"
