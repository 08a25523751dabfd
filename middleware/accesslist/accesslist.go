// Package accesslist gates queries by client source network.
package accesslist

import (
	"context"
	"net"

	"github.com/semihalev/zlog/v2"
	"github.com/yl2chen/cidranger"

	"github.com/fqdnguard/fqdnguard/config"
	"github.com/fqdnguard/fqdnguard/middleware"
)

// AccessList type.
type AccessList struct {
	ranger cidranger.Ranger
}

func init() {
	middleware.Register(name, func(cfg *config.Config) middleware.Handler {
		return New(cfg)
	})
}

// New return accesslist.
func New(cfg *config.Config) *AccessList {
	a := new(AccessList)
	a.ranger = cidranger.NewPCTrieRanger()

	for _, cidr := range cfg.AccessList {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			zlog.Error("Access list parse cidr failed", "cidr", cidr, "error", err.Error())
			continue
		}

		_ = a.ranger.Insert(cidranger.NewBasicRangerEntry(*ipnet))
	}

	return a
}

// Name return middleware name.
func (a *AccessList) Name() string { return name }

// ServeDNS implements the Handler interface.
func (a *AccessList) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	if a.ranger.Len() == 0 {
		ch.Next(ctx)
		return
	}

	ip := ch.Writer.RemoteIP()
	if ip == nil {
		ch.Cancel()
		return
	}

	allowed, _ := a.ranger.Contains(ip)
	if !allowed {
		//no reply to client
		ch.Cancel()
		return
	}

	ch.Next(ctx)
}

const name = "accesslist"
