package broadcast_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jj2net/j2lsd/internal/broadcast"
	"github.com/jj2net/j2lsd/internal/testutil"
)

func TestSendTo_DeliversOneJSONValue(t *testing.T) {
	ln, addr := testutil.ListenTCP(t)

	received := make(chan broadcast.Envelope, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var env broadcast.Envelope
		_ = json.NewDecoder(conn).Decode(&env)
		received <- env
	}()

	env := broadcast.Envelope{Action: "ping", Data: nil, Origin: "10.0.0.1"}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, broadcast.SendTo(ctx, addr, env))

	select {
	case got := <-received:
		require.Equal(t, "ping", got.Action)
		require.Equal(t, "10.0.0.1", got.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive envelope")
	}
}

func TestSendTo_FailsOnUnreachableAddress(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	err := broadcast.SendTo(ctx, "127.0.0.1:1", broadcast.Envelope{Action: "ping"})
	require.Error(t, err)
}
