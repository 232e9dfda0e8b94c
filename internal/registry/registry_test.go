package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jj2net/j2lsd/internal/match"
	"github.com/jj2net/j2lsd/internal/registry"
	"github.com/jj2net/j2lsd/internal/store"
	"github.com/jj2net/j2lsd/internal/testutil"
)

func newFixture(t *testing.T) *registry.Registry {
	t.Helper()
	st := store.FromPool(testutil.SetupTestDB(t))
	return registry.New(st, match.New(st))
}

func TestGet_UnknownReturnsSentinel(t *testing.T) {
	reg := newFixture(t)
	_, err := reg.Get(context.Background(), "nope")
	require.True(t, errors.Is(err, registry.ErrServerUnknown))
}

func TestCreateThenGet(t *testing.T) {
	ctx := context.Background()
	reg := newFixture(t)

	rec, err := reg.Create(ctx, "1.2.3.4:1", "1.2.3.4", 1, "self")
	require.NoError(t, err)
	require.False(t, rec.Row().Remote)

	got, err := reg.Get(ctx, "1.2.3.4:1")
	require.NoError(t, err)
	require.Equal(t, "1.2.3.4", got.Row().IP)
}

func TestResolveName_NoConflictPassesThroughSanitized(t *testing.T) {
	ctx := context.Background()
	reg := newFixture(t)

	name, err := reg.ResolveName(ctx, "192.0.2.5", "plain-name")
	require.NoError(t, err)
	require.Equal(t, "plain-name", name)
}

func TestExistsIPPort(t *testing.T) {
	ctx := context.Background()
	reg := newFixture(t)

	ok, err := reg.ExistsIPPort(ctx, "1.2.3.4", 1)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = reg.Create(ctx, "1.2.3.4:1", "1.2.3.4", 1, "self")
	require.NoError(t, err)

	ok, err = reg.ExistsIPPort(ctx, "1.2.3.4", 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCountByIP(t *testing.T) {
	ctx := context.Background()
	reg := newFixture(t)

	_, err := reg.Create(ctx, "1.2.3.4:1", "1.2.3.4", 1, "self")
	require.NoError(t, err)
	_, err = reg.Create(ctx, "1.2.3.4:2", "1.2.3.4", 2, "self")
	require.NoError(t, err)

	n, err := reg.CountByIP(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
