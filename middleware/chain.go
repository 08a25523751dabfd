package middleware

import (
	"context"

	"github.com/fqdnguard/fqdnguard/dnswire"
	"github.com/fqdnguard/fqdnguard/policy"
)

// Chain carries one client query through the handlers. There is no negative
// response path: a query that may not resolve is simply cancelled, which
// drops the datagram without answering.
type Chain struct {
	Writer ResponseWriter
	Query  *dnswire.Msg

	// Decision is set by the filter handler; later handlers and the
	// accesslog read it.
	Decision policy.Decision

	handlers []Handler

	head  int
	count int
}

// NewChain returns a fresh chain over the handlers.
func NewChain(handlers []Handler) *Chain {
	return &Chain{
		Writer:   &responseWriter{},
		handlers: handlers,
		count:    len(handlers),
	}
}

// Next calls the next handler in the chain.
func (ch *Chain) Next(ctx context.Context) {
	if ch.count == 0 {
		return
	}

	handler := ch.handlers[ch.head]
	ch.head = (ch.head + 1) % len(ch.handlers)
	ch.count--

	handler.ServeDNS(ctx, ch)
}

// Cancel stops the chain. The client gets no reply; with UDP its resolver
// will time out and retry on its own.
func (ch *Chain) Cancel() {
	ch.count = 0
}

// Reset rebinds the chain to a new query for reuse from a pool.
func (ch *Chain) Reset(w Writer, q *dnswire.Msg) {
	ch.Writer.Reset(w)
	ch.Query = q
	ch.Decision = policy.Unlisted
	ch.count = len(ch.handlers)
	ch.head = 0
}
