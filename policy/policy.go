// Package policy decides whether a queried FQDN may be resolved. Lookups run
// against an immutable snapshot of the allow and deny sets; every change,
// whether a single API mutation or a wholesale file reload, swaps in a new
// snapshot atomically so concurrent decisions never see a torn state.
package policy

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Decision is the outcome of a name lookup.
type Decision uint8

const (
	// Unlisted means the name appears in neither list.
	Unlisted Decision = iota
	// Allow means the name is in the allowlist and not in the denylist.
	Allow
	// Deny means the name is in the denylist. Denylist membership always
	// wins, allowlist membership notwithstanding.
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "unlisted"
	}
}

// Mode selects how unlisted names are treated. It is an explicit config
// choice, never inferred from which lists happen to be empty.
type Mode uint8

const (
	// ModeAllowlist resolves only allowlisted names; unlisted names drop.
	ModeAllowlist Mode = iota
	// ModeDenylist drops only denylisted names; unlisted names resolve.
	ModeDenylist
)

func (m Mode) String() string {
	if m == ModeDenylist {
		return "denylist"
	}
	return "allowlist"
}

// ParseMode parses the config mode selector.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "allowlist", "":
		return ModeAllowlist, nil
	case "denylist":
		return ModeDenylist, nil
	}
	return ModeAllowlist, fmt.Errorf("policy: unknown mode %q", s)
}

type snapshot struct {
	allow map[string]struct{}
	deny  map[string]struct{}
}

// Engine answers Decide for normalized names.
type Engine struct {
	mode Mode

	mu   sync.Mutex // serializes snapshot writers
	snap atomic.Pointer[snapshot]
}

// New returns an engine with empty lists.
func New(mode Mode) *Engine {
	e := &Engine{mode: mode}
	e.snap.Store(&snapshot{
		allow: make(map[string]struct{}),
		deny:  make(map[string]struct{}),
	})
	return e
}

// Mode returns the configured unlisted-name mode.
func (e *Engine) Mode() Mode { return e.mode }

// Decide returns the decision for a normalized name. Pure lookup, total and
// deterministic: denylist first, then allowlist, else unlisted.
func (e *Engine) Decide(name string) Decision {
	s := e.snap.Load()

	if _, ok := s.deny[name]; ok {
		return Deny
	}
	if _, ok := s.allow[name]; ok {
		return Allow
	}
	return Unlisted
}

// Permitted folds the mode into the decision: deny never resolves, allow
// always does, unlisted resolves only in denylist mode.
func (e *Engine) Permitted(d Decision) bool {
	switch d {
	case Deny:
		return false
	case Allow:
		return true
	}
	return e.mode == ModeDenylist
}

// Swap replaces both lists wholesale. Entries are normalized here so callers
// can hand over raw file lines.
func (e *Engine) Swap(allow, deny []string) {
	s := &snapshot{
		allow: make(map[string]struct{}, len(allow)),
		deny:  make(map[string]struct{}, len(deny)),
	}
	for _, name := range allow {
		s.allow[normalize(name)] = struct{}{}
	}
	for _, name := range deny {
		s.deny[normalize(name)] = struct{}{}
	}

	e.mu.Lock()
	e.snap.Store(s)
	e.mu.Unlock()
}

// AddAllow inserts a name into the allowlist. Copy-on-write: live lookups
// keep reading the old snapshot until the new one lands.
func (e *Engine) AddAllow(name string) { e.mutate(name, true, true) }

// RemoveAllow deletes a name from the allowlist.
func (e *Engine) RemoveAllow(name string) { e.mutate(name, true, false) }

// AddDeny inserts a name into the denylist.
func (e *Engine) AddDeny(name string) { e.mutate(name, false, true) }

// RemoveDeny deletes a name from the denylist.
func (e *Engine) RemoveDeny(name string) { e.mutate(name, false, false) }

// ExistsAllow reports allowlist membership of a name.
func (e *Engine) ExistsAllow(name string) bool {
	_, ok := e.snap.Load().allow[normalize(name)]
	return ok
}

// ExistsDeny reports denylist membership of a name.
func (e *Engine) ExistsDeny(name string) bool {
	_, ok := e.snap.Load().deny[normalize(name)]
	return ok
}

// Counts returns the sizes of both lists.
func (e *Engine) Counts() (allow, deny int) {
	s := e.snap.Load()
	return len(s.allow), len(s.deny)
}

func (e *Engine) mutate(name string, allowlist, insert bool) {
	name = normalize(name)

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.snap.Load()
	s := &snapshot{
		allow: old.allow,
		deny:  old.deny,
	}

	if allowlist {
		s.allow = cloneSet(old.allow)
		if insert {
			s.allow[name] = struct{}{}
		} else {
			delete(s.allow, name)
		}
	} else {
		s.deny = cloneSet(old.deny)
		if insert {
			s.deny[name] = struct{}{}
		} else {
			delete(s.deny, name)
		}
	}

	e.snap.Store(s)
}

func cloneSet(src map[string]struct{}) map[string]struct{} {
	dst := make(map[string]struct{}, len(src)+1)
	for k := range src {
		dst[k] = struct{}{}
	}
	return dst
}
