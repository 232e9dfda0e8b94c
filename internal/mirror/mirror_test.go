package mirror

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jj2net/j2lsd/internal/testutil"
)

func TestReadEnvelope_ParsesOneCompleteValue(t *testing.T) {
	client, server := testutil.PipeConn(t)

	go func() {
		_ = json.NewEncoder(client).Encode(map[string]any{
			"action": "ping",
			"data":   []map[string]any{},
			"origin": "10.0.0.1",
		})
	}()

	env, err := readEnvelope(server)
	require.NoError(t, err)
	require.Equal(t, "ping", env.Action)
	require.Equal(t, "10.0.0.1", env.Origin)
}

func TestGetHelpers(t *testing.T) {
	m := map[string]any{"name": "ace", "count": float64(3), "flag": true}

	s, ok := getString(m, "name")
	require.True(t, ok)
	require.Equal(t, "ace", s)

	n, ok := getInt(m, "count")
	require.True(t, ok)
	require.Equal(t, 3, n)

	b, ok := getBool(m, "flag")
	require.True(t, ok)
	require.True(t, b)

	_, ok = getString(m, "missing")
	require.False(t, ok)
}

func TestBanlistRowFrom(t *testing.T) {
	item := map[string]any{
		"address": "10.*", "type": "ban", "note": "spam", "origin": "self", "reserved": "",
	}
	row := banlistRowFrom(item)
	require.Equal(t, "10.*", row.Address)
	require.Equal(t, "ban", row.Type)
	require.Equal(t, "spam", row.Note)
}

func TestClamp(t *testing.T) {
	require.Equal(t, 0, clamp(-5, 0, 32))
	require.Equal(t, 32, clamp(100, 0, 32))
	require.Equal(t, 10, clamp(10, 0, 32))
}
