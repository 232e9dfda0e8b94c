// Package prober implements component J: the periodic UDP liveness/privacy
// probe against locally-advertised servers, per spec.md §4.10.
package prober

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jj2net/j2lsd/internal/registry"
	"github.com/jj2net/j2lsd/internal/store"
)

const (
	tickInterval = 10 * time.Second
	staleAfter   = 300 * time.Second
	replyTimeout = 5 * time.Second
)

// payloadTail is the fixed 12-byte tail of the 14-byte probe body;
// buildPayload prepends the two Fletcher-style running checksum bytes
// computed over it, per spec.md §6.
var payloadTail = []byte{0x79, 0x79, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x32, 0x34, 0x20, 0x20}

// privacyByte is the offset within a reply where bit 5 carries the server's
// own observed privacy flag (spec.md §4.10).
const privacyByte = 8

// Prober periodically probes the oldest-unprobed locally-owned server.
type Prober struct {
	Store    *store.Store
	Registry *registry.Registry
	Log      *slog.Logger
}

// checksum computes the Fletcher-style running sum pair over payloadTail.
func checksum() (byte, byte) {
	var x, y int
	for _, b := range payloadTail {
		x = (x + int(b)) % 251
		y = (y + x) % 251
	}
	return byte(x), byte(y)
}

func buildPayload() []byte {
	x, y := checksum()
	out := make([]byte, 0, 2+len(payloadTail))
	out = append(out, x, y)
	out = append(out, payloadTail...)
	return out
}

// Run loops every 10s, probing the stalest eligible local server, until ctx
// is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Prober) tick(ctx context.Context) {
	rows, err := p.Store.ListServers(ctx)
	if err != nil {
		p.Log.Warn("prober: listing servers failed", "error", err)
		return
	}

	cutoff := time.Now().Add(-staleAfter).Unix()
	var target *store.ServerRow
	for i := range rows {
		row := &rows[i]
		if row.Remote {
			continue
		}
		if row.LastPing >= cutoff {
			continue
		}
		if target == nil || row.LastPing < target.LastPing {
			target = row
		}
	}
	if target == nil {
		return
	}

	if err := p.probe(ctx, *target); err != nil {
		p.Log.Info("prober: probe failed", "id", target.ID, "error", err)
	}
}

func (p *Prober) probe(ctx context.Context, row store.ServerRow) error {
	now := time.Now().Unix()

	rec, err := p.Registry.Get(ctx, row.ID)
	if err != nil {
		return fmt.Errorf("fetching server %q: %w", row.ID, err)
	}
	rec.SetLastPing(now)

	reply, err := p.send(ctx, row.IP, row.Port)
	if err != nil {
		rec.SetPrefer(false) // sort-to-bottom on failure, never delist (spec.md §4.10)
		if perr := p.Registry.Persist(ctx, rec); perr != nil {
			p.Log.Warn("prober: persisting failed probe result failed", "error", perr)
		}
		return err
	}

	if len(reply) > privacyByte {
		observedPrivate := reply[privacyByte]&0x20 != 0
		if observedPrivate != row.Private {
			rec.SetPrivate(observedPrivate)
		}
	}
	rec.SetPrefer(true)

	return p.Registry.Persist(ctx, rec)
}

func (p *Prober) send(ctx context.Context, ip string, port int) ([]byte, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s:%d: %w", ip, port, err)
	}
	defer conn.Close()

	if _, err := conn.Write(buildPayload()); err != nil {
		return nil, fmt.Errorf("sending probe: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(replyTimeout))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("waiting for probe reply: %w", err)
	}
	return buf[:n], nil
}
