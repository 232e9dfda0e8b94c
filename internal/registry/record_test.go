package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlushUpdates_OnlyIDWhenUntouched(t *testing.T) {
	rec := NewLocal("1.2.3.4:10112", "1.2.3.4", 10112, 1000, "self")
	delta := rec.FlushUpdates()
	require.Equal(t, map[string]any{"id": "1.2.3.4:10112"}, delta)
}

func TestFlushUpdates_ResetsAfterRead(t *testing.T) {
	rec := NewLocal("1.2.3.4:10112", "1.2.3.4", 10112, 1000, "self")
	rec.SetPlayers(5, 32)

	delta := rec.FlushUpdates()
	require.Equal(t, 5, delta["players"])

	again := rec.FlushUpdates()
	require.Equal(t, map[string]any{"id": "1.2.3.4:10112"}, again)
}

func TestSetMax_ClampsPlayersDown(t *testing.T) {
	rec := NewLocal("id", "1.2.3.4", 1, 0, "self")
	rec.SetPlayers(20, 32)
	rec.SetMax(10, 32)

	row := rec.Row()
	require.Equal(t, 10, row.Max)
	require.Equal(t, 10, row.Players)
}

func TestSetPlayers_ClampsToMaxPlayers(t *testing.T) {
	rec := NewLocal("id", "1.2.3.4", 1, 0, "self")
	rec.SetPlayers(999, 32)
	require.Equal(t, 32, rec.Row().Players)
}

func TestSetName_ReservedConflictUsesFallback(t *testing.T) {
	rec := NewLocal("id", "1.2.3.4", 1, 0, "self")
	rec.SetName("ace01", "Server on 1.2.3.4", true)
	require.Equal(t, "Server on 1.2.3.4", rec.Row().Name)
}
