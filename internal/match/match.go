// Package match implements the ban/prefer glob matcher (component C): walks
// the banlist with `*`-wildcard address and name matching. Mirror addresses
// are implicitly whitelisted and never banned; 127.0.0.1 is never banned.
package match

import (
	"context"
	"fmt"

	"github.com/gobwas/glob"

	"github.com/jj2net/j2lsd/internal/store"
)

// Matcher answers ban/whitelist/prefer questions against the store's banlist
// and mirror tables.
type Matcher struct {
	st *store.Store
}

// New returns a Matcher backed by st.
func New(st *store.Store) *Matcher {
	return &Matcher{st: st}
}

func compile(pattern string) (glob.Glob, error) {
	// No separator: spec.md §4.3's "*" wildcard must match an arbitrary run,
	// crossing dots (e.g. "10.*" must match "10.0.0.9"). A '.'-bound
	// separator would stop "*" from crossing octets, which breaks every
	// multi-octet IP-glob pattern this matcher exists for.
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling glob %q: %w", pattern, err)
	}
	return g, nil
}

func matchAddress(pattern, ip string) bool {
	g, err := compile(pattern)
	if err != nil {
		return false
	}
	return g.Match(ip)
}

func matchName(pattern, name string) bool {
	g, err := compile(pattern)
	if err != nil {
		return false
	}
	return g.Match(name)
}

// Banned reports whether ip is banned: it matches a `ban` row and isn't
// 127.0.0.1, isn't explicitly whitelisted, and isn't a known mirror address.
func (m *Matcher) Banned(ctx context.Context, ip string) (bool, error) {
	if ip == "127.0.0.1" {
		return false, nil
	}

	if _, ok, err := m.st.GetMirrorByAddress(ctx, ip); err != nil {
		return false, fmt.Errorf("checking mirror address %q: %w", ip, err)
	} else if ok {
		return false, nil
	}

	whitelisted, err := m.Whitelisted(ctx, ip)
	if err != nil {
		return false, err
	}
	if whitelisted {
		return false, nil
	}

	rows, err := m.st.ListBanlist(ctx, store.BanTypeBan)
	if err != nil {
		return false, fmt.Errorf("listing ban rows: %w", err)
	}
	for _, row := range rows {
		if matchAddress(row.Address, ip) {
			return true, nil
		}
	}
	return false, nil
}

// Whitelisted reports whether ip matches any whitelist row.
func (m *Matcher) Whitelisted(ctx context.Context, ip string) (bool, error) {
	rows, err := m.st.ListBanlist(ctx, store.BanTypeWhitelist)
	if err != nil {
		return false, fmt.Errorf("listing whitelist rows: %w", err)
	}
	for _, row := range rows {
		if matchAddress(row.Address, ip) {
			return true, nil
		}
	}
	return false, nil
}

// Preferred reports whether (ip, name) matches a `prefer` row. A row with a
// non-empty Reserved glob additionally requires name to match it.
func (m *Matcher) Preferred(ctx context.Context, ip, name string) (bool, error) {
	return m.matchTyped(ctx, store.BanTypePrefer, ip, name)
}

// Unpreferred reports whether (ip, name) matches an `unprefer` row, with the
// same Reserved-name semantics as Preferred.
func (m *Matcher) Unpreferred(ctx context.Context, ip, name string) (bool, error) {
	return m.matchTyped(ctx, store.BanTypeUnprefer, ip, name)
}

func (m *Matcher) matchTyped(ctx context.Context, typ, ip, name string) (bool, error) {
	rows, err := m.st.ListBanlist(ctx, typ)
	if err != nil {
		return false, fmt.Errorf("listing %s rows: %w", typ, err)
	}
	for _, row := range rows {
		if !matchAddress(row.Address, ip) {
			continue
		}
		if row.Reserved != "" && !matchName(row.Reserved, name) {
			continue
		}
		return true, nil
	}
	return false, nil
}

// ReservedNameConflict reports whether name is claimed by a whitelist row's
// Reserved glob for an IP range that does not include ip — per spec §4.2's
// reserved-name enforcement. It returns the matching row's fallback need.
func (m *Matcher) ReservedNameConflict(ctx context.Context, ip, name string) (bool, error) {
	rows, err := m.st.ListBanlist(ctx, store.BanTypeWhitelist)
	if err != nil {
		return false, fmt.Errorf("listing whitelist rows: %w", err)
	}
	for _, row := range rows {
		if row.Reserved == "" {
			continue
		}
		if !matchName(row.Reserved, name) {
			continue
		}
		if matchAddress(row.Address, ip) {
			continue // claimant IP itself — no conflict
		}
		return true, nil
	}
	return false, nil
}
