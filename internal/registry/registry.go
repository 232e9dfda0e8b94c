package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jj2net/j2lsd/internal/match"
	"github.com/jj2net/j2lsd/internal/store"
)

// ErrServerUnknown is returned when a lookup-without-create finds no row.
var ErrServerUnknown = errors.New("server unknown")

// Registry mediates ServerRecord lifecycle against the store, enforcing the
// reserved-name check from spec §4.2.
type Registry struct {
	st      *store.Store
	matcher *match.Matcher
}

// New returns a Registry backed by st and matcher.
func New(st *store.Store, matcher *match.Matcher) *Registry {
	return &Registry{st: st, matcher: matcher}
}

// Get fetches an existing record. Returns ErrServerUnknown if absent —
// "construction without create" per spec §4.2.
func (g *Registry) Get(ctx context.Context, id string) (*Record, error) {
	row, ok, err := g.st.GetServer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching server %q: %w", id, err)
	}
	if !ok {
		return nil, ErrServerUnknown
	}
	return FromRow(row), nil
}

// Create builds a new local record and persists it immediately.
func (g *Registry) Create(ctx context.Context, id, ip string, port int, selfOrigin string) (*Record, error) {
	rec := NewLocal(id, ip, port, time.Now().Unix(), selfOrigin)
	if err := g.st.UpsertServer(ctx, rec.Row()); err != nil {
		return nil, fmt.Errorf("creating server %q: %w", id, err)
	}
	return rec, nil
}

// Persist writes the record's current snapshot to the store.
func (g *Registry) Persist(ctx context.Context, rec *Record) error {
	if err := g.st.UpsertServer(ctx, rec.Row()); err != nil {
		return fmt.Errorf("persisting server %q: %w", rec.Row().ID, err)
	}
	return nil
}

// Delete forgets a row.
func (g *Registry) Delete(ctx context.Context, id string) error {
	if err := g.st.DeleteServer(ctx, id); err != nil {
		return fmt.Errorf("deleting server %q: %w", id, err)
	}
	return nil
}

// CountByIP returns how many local rows ip already owns, for MAXSERVERS
// enforcement by the live-server session handler.
func (g *Registry) CountByIP(ctx context.Context, ip string) (int, error) {
	n, err := g.st.CountByIP(ctx, ip)
	if err != nil {
		return 0, fmt.Errorf("counting servers for %q: %w", ip, err)
	}
	return n, nil
}

// ExistsIPPort reports whether a row already exists for (ip, port), for the
// reconnect-too-fast rejection in spec §4.6.
func (g *Registry) ExistsIPPort(ctx context.Context, ip string, port int) (bool, error) {
	ok, err := g.st.ExistsIPPort(ctx, ip, port)
	if err != nil {
		return false, fmt.Errorf("checking existing server %s:%d: %w", ip, port, err)
	}
	return ok, nil
}

// ResolveName runs the reserved-name check (spec §4.2) and returns the name
// to store: the sanitized candidate, or fallback if a reserved glob the
// candidate's IP doesn't own claims the candidate name.
func (g *Registry) ResolveName(ctx context.Context, ip, candidate string) (string, error) {
	sanitized := SanitizeName(candidate)
	conflict, err := g.matcher.ReservedNameConflict(ctx, ip, sanitized)
	if err != nil {
		return "", fmt.Errorf("checking reserved-name conflict: %w", err)
	}
	if conflict {
		return fmt.Sprintf("Server on %s", ip), nil
	}
	return sanitized, nil
}
