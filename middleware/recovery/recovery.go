// Package recovery keeps a panicking handler from taking the process down.
// The query in flight is dropped; with UDP there is nothing useful to answer.
package recovery

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/semihalev/zlog/v2"

	"github.com/fqdnguard/fqdnguard/config"
	"github.com/fqdnguard/fqdnguard/middleware"
)

// Recovery dummy type.
type Recovery struct{}

func init() {
	middleware.Register(name, func(cfg *config.Config) middleware.Handler {
		return New(cfg)
	})
}

// New return recovery.
func New(cfg *config.Config) *Recovery {
	return &Recovery{}
}

// Name return middleware name.
func (r *Recovery) Name() string { return name }

// ServeDNS implements the Handler interface.
func (r *Recovery) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	defer func() {
		if rec := recover(); rec != nil {
			ch.Cancel()

			zlog.Error("Recovered in ServeDNS", "recover", rec)

			_, _ = os.Stderr.WriteString(fmt.Sprintf("panic: %v\n\n", rec))
			debug.PrintStack()
		}
	}()

	ch.Next(ctx)
}

const name = "recovery"
