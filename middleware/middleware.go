// Package middleware wires the query pipeline. Handlers register themselves
// at init time and are constructed once from the config; every incoming
// datagram then runs through the same ordered chain.
package middleware

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/semihalev/zlog/v2"

	"github.com/fqdnguard/fqdnguard/config"
)

// Handler processes one query in the chain.
type Handler interface {
	Name() string
	ServeDNS(ctx context.Context, ch *Chain)
}

type handler struct {
	name string
	new  func(*config.Config) Handler
}

type registry struct {
	mu sync.RWMutex

	handlers []handler
	setup    bool
}

var (
	m          registry
	chainedSet []Handler
)

// chainOrder fixes the pipeline order. Package init order of the importers
// is not guaranteed, so registration order alone cannot be trusted.
var chainOrder = []string{
	"recovery",
	"metrics",
	"accesslist",
	"ratelimit",
	"accesslog",
	"filter",
	"forwarder",
}

func rank(name string) int {
	for i, n := range chainOrder {
		if n == name {
			return i
		}
	}

	return len(chainOrder)
}

// Register adds a middleware constructor under a name. The pipeline position
// comes from chainOrder, unknown names go to the end in registration order.
func Register(name string, new func(*config.Config) Handler) {
	zlog.Debug("Register middleware", "name", name)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler{name: name, new: new})
}

// Setup constructs every registered middleware from the config. It may run
// only once.
func Setup(cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.setup {
		return errors.New("middleware: setup already done")
	}

	sort.SliceStable(m.handlers, func(i, j int) bool {
		return rank(m.handlers[i].name) < rank(m.handlers[j].name)
	})

	for _, h := range m.handlers {
		chainedSet = append(chainedSet, h.new(cfg))
	}

	m.setup = true

	return nil
}

// Handlers returns the constructed handlers in chain order.
func Handlers() []Handler {
	return chainedSet
}

// List returns the registered middleware names in chain order.
func List() (list []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, h := range m.handlers {
		list = append(list, h.name)
	}

	return list
}

// Get returns a constructed handler by name, or nil if setup has not reached
// it.
func Get(name string) Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, h := range m.handlers {
		if h.name == name {
			if len(chainedSet) <= i {
				return nil
			}
			return chainedSet[i]
		}
	}

	return nil
}
