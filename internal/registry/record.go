package registry

import (
	"time"

	"github.com/jj2net/j2lsd/internal/store"
)

// Record is the in-memory representation of one advertised game server
// (component B), with a change-set buffer for delta broadcasts (spec §4.2).
type Record struct {
	row   store.ServerRow
	dirty map[string]any
}

// FromRow wraps an existing store row for in-memory mutation.
func FromRow(row store.ServerRow) *Record {
	return &Record{row: row, dirty: map[string]any{}}
}

// NewLocal builds a fresh local record: origin=self, remote=0.
func NewLocal(id, ip string, port int, now int64, selfOrigin string) *Record {
	return &Record{
		row: store.ServerRow{
			ID:      id,
			IP:      ip,
			Port:    port,
			Created: now,
			Lifesign: now,
			Remote:  false,
			Origin:  selfOrigin,
			Mode:    "unknown",
		},
		dirty: map[string]any{},
	}
}

// Row returns the current snapshot.
func (r *Record) Row() store.ServerRow { return r.row }

func (r *Record) touch() {
	r.row.Lifesign = time.Now().Unix()
	r.dirty["lifesign"] = r.row.Lifesign
}

// SetName sanitizes and sets the display name. fallback is substituted when
// the candidate collides with a reserved-name claim the caller has already
// detected (spec §4.2 reserved-name enforcement).
func (r *Record) SetName(name, fallback string, reservedConflict bool) {
	sanitized := SanitizeName(name)
	if reservedConflict {
		sanitized = fallback
	}
	r.row.Name = sanitized
	r.dirty["name"] = sanitized
	r.touch()
}

// SetPlayers clamps to [0, maxPlayers] and sets players.
func (r *Record) SetPlayers(players, maxPlayers int) {
	r.row.Players = clamp(players, 0, maxPlayers)
	r.dirty["players"] = r.row.Players
	r.touch()
}

// SetMax clamps to [0, maxPlayers] and sets max. If the new max is below the
// current players count, players is clamped down too (spec invariant 4).
func (r *Record) SetMax(max, maxPlayers int) {
	r.row.Max = clamp(max, 0, maxPlayers)
	if r.row.Players > r.row.Max {
		r.row.Players = r.row.Max
		r.dirty["players"] = r.row.Players
	}
	r.dirty["max"] = r.row.Max
	r.touch()
}

// SetMode updates the mode field.
func (r *Record) SetMode(mode string) {
	r.row.Mode = mode
	r.dirty["mode"] = mode
	r.touch()
}

// SetPrivate updates the private flag.
func (r *Record) SetPrivate(private bool) {
	r.row.Private = private
	r.dirty["private"] = private
	r.touch()
}

// SetPlusOnly updates the plusonly flag.
func (r *Record) SetPlusOnly(plusonly bool) {
	r.row.PlusOnly = plusonly
	r.dirty["plusonly"] = plusonly
	r.touch()
}

// SetVersion updates the version string (only set during hello parsing).
func (r *Record) SetVersion(version string) {
	r.row.Version = version
	r.dirty["version"] = version
}

// SetLastPing updates the last UDP probe timestamp.
func (r *Record) SetLastPing(ts int64) {
	r.row.LastPing = ts
	r.dirty["last_ping"] = ts
}

// SetPrefer updates the sort-order booster flag (UDP prober only).
func (r *Record) SetPrefer(prefer bool) {
	r.row.Prefer = prefer
	r.dirty["prefer"] = prefer
}

// FlushUpdates returns the accumulated delta (always including id) and
// resets the change-set buffer, per spec §4.2 / round-trip law (§8).
func (r *Record) FlushUpdates() map[string]any {
	delta := map[string]any{"id": r.row.ID}
	for k, v := range r.dirty {
		delta[k] = v
	}
	r.dirty = map[string]any{}
	return delta
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
