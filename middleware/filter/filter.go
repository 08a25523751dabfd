// Package filter applies the allow/deny policy to each query. Queries that
// may not resolve are dropped without any reply; the client resolver sees a
// timeout, not a refusal.
package filter

import (
	"context"

	"github.com/semihalev/zlog/v2"

	"github.com/fqdnguard/fqdnguard/config"
	"github.com/fqdnguard/fqdnguard/middleware"
	"github.com/fqdnguard/fqdnguard/policy"
)

// Filter type.
type Filter struct {
	engine   *policy.Engine
	reloader *policy.Reloader
}

func init() {
	middleware.Register(name, func(cfg *config.Config) middleware.Handler {
		return New(cfg)
	})
}

// New returns a filter with lists loaded from the config.
func New(cfg *config.Config) *Filter {
	mode, err := policy.ParseMode(cfg.Mode)
	if err != nil {
		zlog.Error("Filter mode invalid, falling back to allowlist", "mode", cfg.Mode)
	}

	engine := policy.New(mode)
	reloader := policy.NewReloader(engine, cfg.AllowlistFile, cfg.DenylistFile, cfg.Allowlist, cfg.Denylist)

	if err := reloader.Load(); err != nil {
		zlog.Error("Policy list load failed", "error", err.Error())
	}

	if cfg.WatchLists {
		if err := reloader.Watch(); err != nil {
			zlog.Error("Policy list watch failed", "error", err.Error())
		}
	}

	return &Filter{engine: engine, reloader: reloader}
}

// Name return middleware name.
func (f *Filter) Name() string { return name }

// Engine exposes the policy engine for the admin API.
func (f *Filter) Engine() *policy.Engine { return f.engine }

// Stop terminates the list watcher.
func (f *Filter) Stop() {
	f.reloader.Stop()
}

// ServeDNS implements the Handler interface.
func (f *Filter) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	name, ok := ch.Query.QName()
	if !ok {
		ch.Cancel()
		return
	}

	d := f.engine.Decide(name)
	ch.Decision = d

	client := ch.Writer.RemoteAddr().String()

	switch d {
	case policy.Deny:
		zlog.Info("Query denied", "name", name, "client", client, "reason", "denylist")
		ch.Cancel()

	case policy.Allow:
		zlog.Debug("Query allowed", "name", name, "client", client)
		ch.Next(ctx)

	default:
		if f.engine.Permitted(d) {
			zlog.Debug("Query not checked", "name", name, "client", client)
			ch.Next(ctx)
			return
		}

		zlog.Info("Query not checked", "name", name, "client", client)
		ch.Cancel()
	}
}

const name = "filter"
