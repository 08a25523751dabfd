// Package metrics counts every query by type and policy decision.
package metrics

import (
	"context"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fqdnguard/fqdnguard/config"
	"github.com/fqdnguard/fqdnguard/middleware"
)

// Metrics type.
type Metrics struct {
	queries *prometheus.CounterVec
}

func init() {
	middleware.Register(name, func(cfg *config.Config) middleware.Handler {
		return New(cfg)
	})
}

// New return new metrics.
func New(cfg *config.Config) *Metrics {
	m := &Metrics{
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dns_queries_total",
				Help: "How many DNS queries processed",
			},
			[]string{"qtype", "decision"},
		),
	}
	_ = prometheus.Register(m.queries)

	return m
}

// Name return middleware name.
func (m *Metrics) Name() string { return name }

// ServeDNS implements the Handler interface.
func (m *Metrics) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	ch.Next(ctx)

	if len(ch.Query.Question) == 0 {
		return
	}

	m.queries.With(
		prometheus.Labels{
			"qtype":    dns.TypeToString[ch.Query.Question[0].Qtype],
			"decision": ch.Decision.String(),
		}).Inc()
}

const name = "metrics"
