// Package supervisor implements component K: boots the store, starts the
// listener pool and prober, runs the periodic ping/resync loops, and
// coordinates graceful halt and reload, per spec.md §4.11.
package supervisor

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jj2net/j2lsd/internal/broadcast"
	"github.com/jj2net/j2lsd/internal/config"
	"github.com/jj2net/j2lsd/internal/emit"
	"github.com/jj2net/j2lsd/internal/listener"
	"github.com/jj2net/j2lsd/internal/liveserver"
	"github.com/jj2net/j2lsd/internal/match"
	"github.com/jj2net/j2lsd/internal/mirror"
	"github.com/jj2net/j2lsd/internal/prober"
	"github.com/jj2net/j2lsd/internal/ratelimit"
	"github.com/jj2net/j2lsd/internal/registry"
	"github.com/jj2net/j2lsd/internal/store"
)

const (
	pingInterval  = 120 * time.Second
	resyncInterval = 900 * time.Second
)

// Reload levels named in spec.md §4.11.
const (
	ReloadConfig         = 1
	ReloadQuitAndRestart = 2
	ReloadReexec         = 3
)

// Supervisor owns every long-lived component and the process's single halt
// signal.
type Supervisor struct {
	Config     config.Config
	ConfigPath string
	SelfIP     string
	Store      *store.Store
	Registry   *registry.Registry
	Matcher    *match.Matcher
	Limiter    *ratelimit.Limiter
	Broadcaster *broadcast.Broadcaster
	Reload     chan int
	Log        *slog.Logger

	// RestartRequested is set when a reload-level-2 request completes Run;
	// main observes it and re-enters its own startup sequence.
	RestartRequested bool
}

// Boot connects the store, runs migrations, discovers the daemon's own
// address, and bootstraps the registry/matcher/limiter/broadcaster.
func Boot(ctx context.Context, cfg config.Config, configPath string, log *slog.Logger) (*Supervisor, error) {
	if err := store.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	st, err := store.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to store: %w", err)
	}

	selfIP, err := DiscoverIP(ctx,
		ExternalEchoResolver("https://api.ipify.org"),
		UDPSocknameResolver("8.8.8.8:53"),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("discovering own IP: %w", err)
	}

	if err := st.Bootstrap(ctx, selfIP, cfg.Version); err != nil {
		st.Close()
		return nil, fmt.Errorf("bootstrapping store: %w", err)
	}

	matcher := match.New(st)
	reg := registry.New(st, matcher)
	limiter := ratelimit.New(cfg.TicksMax, cfg.TicksDecay, time.Duration(cfg.TicksMaxAge)*time.Second)
	caster := &broadcast.Broadcaster{Store: st, SelfOrigin: selfIP, MirrorPort: cfg.Ports.Mirror, Log: log}

	return &Supervisor{
		Config:      cfg,
		ConfigPath:  configPath,
		SelfIP:      selfIP,
		Store:       st,
		Registry:    reg,
		Matcher:     matcher,
		Limiter:     limiter,
		Broadcaster: caster,
		Reload:      make(chan int, 4),
		Log:         log,
	}, nil
}

// Run builds the listener pool and runs every long-lived component until
// ctx is cancelled, "q" is read from stdin, or a reload request ends the run.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := s.buildListenerPool()
	prb := &prober.Prober{Store: s.Store, Registry: s.Registry, Log: s.Log}

	s.announce(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return prb.Run(ctx) })
	g.Go(func() error { return s.pingLoop(ctx) })
	g.Go(func() error { return s.resyncLoop(ctx) })
	g.Go(func() error { return s.stdinPoller(ctx, cancel) })
	g.Go(func() error { return s.reloadLoop(ctx, cancel) })

	return g.Wait()
}

func (s *Supervisor) buildListenerPool() *listener.Pool {
	pool := listener.NewPool()
	cfg := s.Config
	addr := func(port int) string { return fmt.Sprintf("%s:%d", cfg.BindAddress, port) }

	emitters := &emit.Emitters{Store: s.Store, Config: cfg, SelfAddr: s.SelfIP, SourceLink: "https://jj2.plus", Log: s.Log}
	live := &liveserver.Handler{
		Registry: s.Registry, Matcher: s.Matcher, Broadcaster: s.Broadcaster,
		SelfOrigin: s.SelfIP, MaxServers: cfg.MaxServers, MaxPlayers: cfg.MaxPlayers, Log: s.Log,
	}
	peerMirror := &mirror.Handler{
		Store: s.Store, Registry: s.Registry, Broadcaster: s.Broadcaster,
		Config: cfg, SelfOrigin: s.SelfIP, Admin: false, Reload: s.Reload, Log: s.Log,
	}

	pool.Add(&listener.Port{Name: "binary-list", Addr: addr(cfg.Ports.BinaryList), Handler: emitters.BinaryList, Matcher: s.Matcher, Limiter: s.Limiter, Log: s.Log})
	pool.Add(&listener.Port{Name: "live-server", Addr: addr(cfg.Ports.LiveServer), Handler: live.Handle, Matcher: s.Matcher, Limiter: s.Limiter, Log: s.Log})
	pool.Add(&listener.Port{Name: "stats", Addr: addr(cfg.Ports.Stats), Handler: emitters.Stats, Matcher: s.Matcher, Limiter: s.Limiter, Log: s.Log})
	pool.Add(&listener.Port{Name: "mirror", Addr: addr(cfg.Ports.Mirror), Handler: peerMirror.Handle, Log: s.Log})
	pool.Add(&listener.Port{Name: "ascii-list", Addr: addr(cfg.Ports.AsciiList), Handler: emitters.AsciiList, Matcher: s.Matcher, Limiter: s.Limiter, Log: s.Log})
	pool.Add(&listener.Port{Name: "motd", Addr: addr(cfg.Ports.Motd), Handler: emitters.MOTD, Matcher: s.Matcher, Limiter: s.Limiter, Log: s.Log})

	if cfg.TLSEnabled() {
		if tlsCfg, err := adminTLSConfig(cfg); err != nil {
			s.Log.Warn("admin port disabled: building TLS config failed", "error", err)
		} else {
			adminMirror := &mirror.Handler{
				Store: s.Store, Registry: s.Registry, Broadcaster: s.Broadcaster,
				Config: cfg, SelfOrigin: s.SelfIP, Admin: true, Reload: s.Reload, Log: s.Log,
			}
			pool.Add(&listener.Port{
				Name: "admin", Addr: fmt.Sprintf("127.0.0.1:%d", cfg.Ports.Admin),
				Handler: adminMirror.Handle, TLSConfig: tlsCfg, Log: s.Log,
			})
		}
	} else {
		s.Log.Info("admin port not started: TLS material absent")
	}

	return pool
}

func adminTLSConfig(cfg config.Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.CertKey)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}

	caBytes, err := os.ReadFile(cfg.CertChain)
	if err != nil {
		return nil, fmt.Errorf("reading CA chain: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("parsing CA chain %s", cfg.CertChain)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// announce sends a one-shot "request" to every known mirror on startup, per
// spec.md §4.11.
func (s *Supervisor) announce(ctx context.Context) {
	s.Broadcaster.Broadcast(ctx, broadcast.Envelope{
		Action: "request",
		Data:   []map[string]any{{"from": s.SelfIP}},
		Origin: s.SelfIP,
	})
}

func (s *Supervisor) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Broadcaster.Broadcast(ctx, broadcast.Envelope{Action: "ping", Data: nil, Origin: s.SelfIP})
		}
	}
}

func (s *Supervisor) resyncLoop(ctx context.Context) error {
	ticker := time.NewTicker(resyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Broadcaster.Broadcast(ctx, broadcast.Envelope{
				Action: "request",
				Data:   []map[string]any{{"from": s.SelfIP, "fragment": "servers"}},
				Origin: s.SelfIP,
			})
		}
	}
}

// stdinPoller watches standard input for "q" and triggers a graceful halt.
func (s *Supervisor) stdinPoller(ctx context.Context, cancel context.CancelFunc) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "q" {
				s.Log.Info("halt requested via stdin")
				cancel()
				return nil
			}
		}
	}
}

// reloadLoop applies reload requests arriving from the mirror/admin handler
// (spec.md §4.11's reload levels).
func (s *Supervisor) reloadLoop(ctx context.Context, cancel context.CancelFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case level := <-s.Reload:
			switch level {
			case ReloadConfig:
				cfg, err := config.Load(s.ConfigPath)
				if err != nil {
					s.Log.Warn("config reload failed", "error", err)
					continue
				}
				s.Config = cfg
				s.Log.Info("config re-read")
			case ReloadQuitAndRestart:
				s.Log.Info("quit-and-restart requested")
				s.RestartRequested = true
				cancel()
				return nil
			case ReloadReexec:
				s.Log.Info("full re-exec requested")
				exe, err := os.Executable()
				if err != nil {
					s.Log.Warn("re-exec failed: resolving own executable", "error", err)
					continue
				}
				if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
					s.Log.Warn("re-exec failed", "error", err)
				}
			}
		}
	}
}
