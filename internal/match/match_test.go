package match_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jj2net/j2lsd/internal/match"
	"github.com/jj2net/j2lsd/internal/store"
	"github.com/jj2net/j2lsd/internal/testutil"
)

func newFixture(t *testing.T) (*store.Store, *match.Matcher) {
	t.Helper()
	st := store.FromPool(testutil.SetupTestDB(t))
	return st, match.New(st)
}

func TestBanned_GlobMatch(t *testing.T) {
	ctx := context.Background()
	st, m := newFixture(t)

	_, err := st.AddBanlistEntry(ctx, store.BanlistRow{Address: "10.0.0.*", Type: store.BanTypeBan, Origin: "self"})
	require.NoError(t, err)

	banned, err := m.Banned(ctx, "10.0.0.42")
	require.NoError(t, err)
	require.True(t, banned)

	banned, err = m.Banned(ctx, "10.0.1.42")
	require.NoError(t, err)
	require.False(t, banned)
}

func TestBanned_LoopbackNeverBanned(t *testing.T) {
	ctx := context.Background()
	st, m := newFixture(t)

	_, err := st.AddBanlistEntry(ctx, store.BanlistRow{Address: "*", Type: store.BanTypeBan, Origin: "self"})
	require.NoError(t, err)

	banned, err := m.Banned(ctx, "127.0.0.1")
	require.NoError(t, err)
	require.False(t, banned)
}

func TestBanned_WhitelistOverridesBan(t *testing.T) {
	ctx := context.Background()
	st, m := newFixture(t)

	_, err := st.AddBanlistEntry(ctx, store.BanlistRow{Address: "10.*", Type: store.BanTypeBan, Origin: "self"})
	require.NoError(t, err)
	_, err = st.AddBanlistEntry(ctx, store.BanlistRow{Address: "10.0.0.5", Type: store.BanTypeWhitelist, Origin: "self"})
	require.NoError(t, err)

	banned, err := m.Banned(ctx, "10.0.0.5")
	require.NoError(t, err)
	require.False(t, banned)
}

func TestBanned_MirrorAddressExempt(t *testing.T) {
	ctx := context.Background()
	st, m := newFixture(t)

	_, err := st.AddBanlistEntry(ctx, store.BanlistRow{Address: "*", Type: store.BanTypeBan, Origin: "self"})
	require.NoError(t, err)
	_, err = st.AddMirror(ctx, store.MirrorRow{Name: "peer", Address: "10.9.9.9"})
	require.NoError(t, err)

	banned, err := m.Banned(ctx, "10.9.9.9")
	require.NoError(t, err)
	require.False(t, banned)
}

func TestPreferred_RequiresReservedNameMatch(t *testing.T) {
	ctx := context.Background()
	st, m := newFixture(t)

	_, err := st.AddBanlistEntry(ctx, store.BanlistRow{
		Address: "10.*", Type: store.BanTypePrefer, Origin: "self", Reserved: "ace*",
	})
	require.NoError(t, err)

	ok, err := m.Preferred(ctx, "10.0.0.1", "ace01")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Preferred(ctx, "10.0.0.1", "other")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReservedNameConflict(t *testing.T) {
	ctx := context.Background()
	st, m := newFixture(t)

	_, err := st.AddBanlistEntry(ctx, store.BanlistRow{
		Address: "10.*", Type: store.BanTypeWhitelist, Origin: "self", Reserved: "ace*",
	})
	require.NoError(t, err)

	conflict, err := m.ReservedNameConflict(ctx, "192.0.2.5", "ace01")
	require.NoError(t, err)
	require.True(t, conflict)

	conflict, err = m.ReservedNameConflict(ctx, "10.0.0.9", "ace01")
	require.NoError(t, err)
	require.False(t, conflict)
}
