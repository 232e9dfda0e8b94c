package liveserver_test

import (
	"context"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jj2net/j2lsd/internal/liveserver"
	"github.com/jj2net/j2lsd/internal/match"
	"github.com/jj2net/j2lsd/internal/registry"
	"github.com/jj2net/j2lsd/internal/store"
	"github.com/jj2net/j2lsd/internal/testutil"
)

type fakeBroadcaster struct {
	mu       sync.Mutex
	deltas   []map[string]any
	delisted []string
}

func (f *fakeBroadcaster) BroadcastServer(ctx context.Context, delta map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas = append(f.deltas, delta)
}

func (f *fakeBroadcaster) BroadcastDelist(ctx context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delisted = append(f.delisted, id)
}

func newHandler(t *testing.T) (*liveserver.Handler, *fakeBroadcaster) {
	t.Helper()
	st := store.FromPool(testutil.SetupTestDB(t))
	reg := registry.New(st, match.New(st))
	bc := &fakeBroadcaster{}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	return &liveserver.Handler{
		Registry: reg, Matcher: match.New(st), Broadcaster: bc,
		SelfOrigin: "self", MaxServers: 2, MaxPlayers: 32, Log: log,
	}, bc
}

func TestHandle_HelloThenPlayerUpdate(t *testing.T) {
	h, bc := newHandler(t)

	client, server := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.Handle(ctx, server, "192.0.2.9")
		close(done)
	}()

	hello := buildHello(10112, "testsrv", 1, 32, 0, "24  ")
	_, err := client.Write(hello)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	bc.mu.Lock()
	require.NotEmpty(t, bc.deltas)
	require.Equal(t, 1, bc.deltas[0]["players"])
	bc.mu.Unlock()

	// 0x00, 0x05 updates players to 5
	_, err = client.Write([]byte{0x00, 0x05})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	client.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate after connection close")
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()
	require.NotEmpty(t, bc.delisted)

	found5 := false
	for _, d := range bc.deltas {
		if p, ok := d["players"]; ok && p == 5 {
			found5 = true
		}
	}
	require.True(t, found5, "expected a players=5 delta")
}

func buildHello(port uint16, name string, players, max byte, flags byte, version string) []byte {
	buf := make([]byte, liveserver.HelloSize)
	buf[0] = byte(port)
	buf[1] = byte(port >> 8)
	copy(buf[2:35], []byte(name))
	for i := len(name); i < 33; i++ {
		buf[2+i] = 0x20
	}
	buf[35] = players
	buf[36] = max
	buf[37] = flags
	copy(buf[38:42], []byte(version))
	return buf
}
