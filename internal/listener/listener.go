// Package listener implements the multi-port listener pool (component E):
// one accept loop per configured port, each gated by ban and rate checks,
// running handlers under a bounded concurrency cap, and preemptible within
// the 5-second accept-loop quantum named in spec §4.5/§5.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jj2net/j2lsd/internal/match"
	"github.com/jj2net/j2lsd/internal/ratelimit"
)

// Handler processes one accepted connection. It must return once ctx is
// cancelled or the connection is closed.
type Handler func(ctx context.Context, conn net.Conn, remoteIP string)

// acceptQuantum bounds how long Accept blocks before re-checking ctx, so a
// cooperative halt is observed within 5s even with no incoming traffic.
const acceptQuantum = 5 * time.Second

const bindRetryWindow = 5 * time.Minute
const bindRetryInterval = 5 * time.Second

// maxConcurrentPerPort bounds simultaneous handlers per port (spec §9
// redesign note: "impose an upper bound... beyond that, reject with the same
// rate-limit treatment").
const maxConcurrentPerPort = 512

// Port is one bound TCP port with its own accept loop.
type Port struct {
	Name       string
	Addr       string
	Handler    Handler
	Matcher    *match.Matcher // nil skips the ban check (e.g. admin port, gated by TLS+loopback instead)
	Limiter    *ratelimit.Limiter
	TLSConfig  *tls.Config // non-nil wraps accepted conns with TLS
	Log        *slog.Logger

	sem chan struct{}
}

// Run binds Addr and serves until ctx is cancelled, retrying bind failures
// for up to 5 minutes per spec §4.5. If the port still cannot be bound, it
// is logged as unavailable and Run returns nil, so the other ports keep
// running.
func (p *Port) Run(ctx context.Context) error {
	if p.sem == nil {
		p.sem = make(chan struct{}, maxConcurrentPerPort)
	}

	ln, err := p.bindWithRetry(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.Log.Warn("port unavailable: giving up on bind", "port", p.Name, "addr", p.Addr, "error", err)
		}
		return nil
	}
	defer ln.Close()

	p.Log.Info("listener started", "port", p.Name, "addr", ln.Addr())

	var wg sync.WaitGroup
	defer wg.Wait()

	tcpLn, _ := ln.(*net.TCPListener)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if tcpLn != nil {
			_ = tcpLn.SetDeadline(time.Now().Add(acceptQuantum))
		}

		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			p.Log.Warn("accept failed", "port", p.Name, "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			p.serve(ctx, conn)
		}()
	}
}

func (p *Port) bindWithRetry(ctx context.Context) (net.Listener, error) {
	deadline := time.Now().Add(bindRetryWindow)
	var lastErr error
	for time.Now().Before(deadline) {
		ln, err := net.Listen("tcp", p.Addr)
		if err == nil {
			return ln, nil
		}
		lastErr = err
		p.Log.Warn("bind failed, retrying", "port", p.Name, "addr", p.Addr, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(bindRetryInterval):
		}
	}
	return nil, fmt.Errorf("binding %s (%s) after retry window: %w", p.Name, p.Addr, lastErr)
}

func (p *Port) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}

	if p.Matcher != nil {
		banned, err := p.Matcher.Banned(ctx, host)
		if err != nil {
			p.Log.Warn("ban check failed", "port", p.Name, "remote", host, "error", err)
			return
		}
		if banned {
			p.Log.Warn("connection refused: banned", "port", p.Name, "remote", host)
			return
		}
	}

	if p.Limiter != nil {
		whitelisted := false
		if p.Matcher != nil {
			var err error
			whitelisted, err = p.Matcher.Whitelisted(ctx, host)
			if err != nil {
				p.Log.Warn("whitelist check failed", "port", p.Name, "remote", host, "error", err)
			}
		}
		if !whitelisted && !p.Limiter.Allow(host) {
			p.Log.Info("connection refused: rate limited", "port", p.Name, "remote", host)
			return
		}
	}

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	default:
		p.Log.Info("connection refused: too many concurrent handlers", "port", p.Name, "remote", host)
		return
	}

	if p.TLSConfig != nil {
		tlsConn := tls.Server(conn, p.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			p.Log.Warn("TLS handshake failed", "port", p.Name, "remote", host, "error", err)
			return
		}
		conn = tlsConn
	}

	p.Handler(ctx, conn, host)
}
