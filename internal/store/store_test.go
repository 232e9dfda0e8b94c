package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jj2net/j2lsd/internal/store"
	"github.com/jj2net/j2lsd/internal/testutil"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	pool := testutil.SetupTestDB(t)
	return store.FromPool(pool)
}

func TestUpsertAndGetServer(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	row := store.ServerRow{ID: "1.2.3.4:10112", IP: "1.2.3.4", Port: 10112, Created: 1000, Lifesign: 1000, Mode: "ctf", Max: 32}
	require.NoError(t, st.UpsertServer(ctx, row))

	got, ok, err := st.GetServer(ctx, "1.2.3.4:10112")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ctf", got.Mode)

	row.Mode = "battle"
	require.NoError(t, st.UpsertServer(ctx, row))

	got, _, err = st.GetServer(ctx, "1.2.3.4:10112")
	require.NoError(t, err)
	require.Equal(t, "battle", got.Mode) // invariant 1: one row per id, last write wins
}

func TestListServers_Ordering(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	mustUpsert := func(id string, prefer, private bool, players, max int, created int64) {
		require.NoError(t, st.UpsertServer(ctx, store.ServerRow{
			ID: id, IP: "1.2.3.4", Port: 1, Created: created, Lifesign: created,
			Prefer: prefer, Private: private, Players: players, Max: max, Mode: "ctf",
		}))
	}

	mustUpsert("full-public", false, false, 10, 10, 1) // players==max sorts after not-full
	mustUpsert("preferred", true, false, 1, 10, 2)
	mustUpsert("normal", false, false, 5, 10, 3)

	rows, err := st.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "preferred", rows[0].ID) // prefer DESC wins first
	require.Equal(t, "full-public", rows[len(rows)-1].ID)
}

func TestSweepExpiredRemote(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.UpsertServer(ctx, store.ServerRow{ID: "stale", IP: "1.1.1.1", Port: 1, Remote: true, Lifesign: 100}))
	require.NoError(t, st.UpsertServer(ctx, store.ServerRow{ID: "fresh", IP: "1.1.1.2", Port: 1, Remote: true, Lifesign: 100000}))

	n, err := st.SweepExpiredRemote(ctx, 50000)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, ok, err := st.GetServer(ctx, "stale")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddBanlistEntry_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	row := store.BanlistRow{Address: "10.*", Type: store.BanTypeBan, Note: "spam", Origin: "self"}

	inserted, err := st.AddBanlistEntry(ctx, row)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = st.AddBanlistEntry(ctx, row)
	require.NoError(t, err)
	require.False(t, inserted) // testable property 5: idempotent by full tuple

	rows, err := st.ListBanlist(ctx, store.BanTypeBan)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestAddMirror_RejectsReservedName(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	inserted, err := st.AddMirror(ctx, store.MirrorRow{Name: store.ReservedMirrorName, Address: "10.0.0.1"})
	require.NoError(t, err)
	require.False(t, inserted)
}

func TestSettings_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	_, ok, err := st.GetSetting(ctx, "motd")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.SetSetting(ctx, "motd", "hello"))
	v, ok, err := st.GetSetting(ctx, "motd")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", v)
}
