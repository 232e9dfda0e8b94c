// Package broadcast implements component I: one-shot outbound fan-out of
// JSON mirror envelopes to peer daemons, per spec.md §4.9.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jj2net/j2lsd/internal/store"
)

// sendTimeout bounds connect+send for one recipient (spec.md §4.9/§5).
const sendTimeout = 5 * time.Second

// Envelope is the wire shape shared by both mirror directions (spec.md §4.8).
type Envelope struct {
	Action string           `json:"action"`
	Data   []map[string]any `json:"data"`
	Origin string           `json:"origin"`
}

// Broadcaster fans envelopes out to every known mirror, skipping loopback
// and the daemon's own address.
type Broadcaster struct {
	Store      *store.Store
	SelfOrigin string
	MirrorPort int
	Log        *slog.Logger
}

// BroadcastServer publishes a ServerRecord delta to every mirror (satisfies
// liveserver.Broadcaster and mirror.Broadcaster).
func (b *Broadcaster) BroadcastServer(ctx context.Context, delta map[string]any) {
	b.fanout(ctx, Envelope{Action: "server", Data: []map[string]any{delta}, Origin: b.SelfOrigin})
}

// BroadcastDelist publishes a delist notice for id to every mirror.
func (b *Broadcaster) BroadcastDelist(ctx context.Context, id string) {
	b.fanout(ctx, Envelope{Action: "delist", Data: []map[string]any{{"id": id}}, Origin: b.SelfOrigin})
}

// Broadcast fans an arbitrary envelope out to every mirror except those in
// skip (used by the rebroadcast policy in spec.md §4.8, which excludes the
// sender).
func (b *Broadcaster) Broadcast(ctx context.Context, env Envelope, skip ...string) {
	excluded := map[string]bool{}
	for _, s := range skip {
		excluded[s] = true
	}

	mirrors, err := b.Store.ListMirrors(ctx)
	if err != nil {
		b.Log.Warn("broadcast: listing mirrors failed", "error", err)
		return
	}
	for _, m := range mirrors {
		if excluded[m.Address] {
			continue
		}
		b.send(ctx, m.Address, env)
	}
}

func (b *Broadcaster) fanout(ctx context.Context, env Envelope) {
	b.Broadcast(ctx, env)
}

func (b *Broadcaster) send(ctx context.Context, address string, env Envelope) {
	if address == "127.0.0.1" || address == "::1" || address == "localhost" || address == b.SelfOrigin {
		return
	}

	go func() {
		addr := fmt.Sprintf("%s:%d", address, b.MirrorPort)
		if err := SendTo(ctx, addr, env); err != nil {
			b.Log.Info("broadcast delivery failed", "peer", address, "action", env.Action, "error", err)
		}
	}()
}

// SendTo dials addr, writes env as a single JSON value, and closes — the
// one-shot-per-recipient pattern named in spec.md §4.9. Used both by
// Broadcaster's fan-out and by the mirror handler's direct unicast replies
// (hello, full-state push).
func SendTo(ctx context.Context, addr string, env Envelope) error {
	dialCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing mirror %s: %w", addr, err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	enc := json.NewEncoder(conn)
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("sending envelope to %s: %w", addr, err)
	}
	return nil
}
