// Package liveserver implements component F: the long-lived session handler
// for the live-game-server registration port (10054). A session walks
// Connecting -> AwaitingHello -> Listed -> Delisting, per spec §4.6.
package liveserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jj2net/j2lsd/internal/gamemode"
	"github.com/jj2net/j2lsd/internal/match"
	"github.com/jj2net/j2lsd/internal/registry"
)

// State names one point in the session's lifecycle.
type State int

const (
	Connecting State = iota
	AwaitingHello
	Listed
	Delisting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case AwaitingHello:
		return "awaiting-hello"
	case Listed:
		return "listed"
	case Delisting:
		return "delisting"
	default:
		return "unknown"
	}
}

const (
	helloTimeout = 10 * time.Second
	idleTimeout  = 32 * time.Second

	// reconnectGrace rejects a fresh hello for the same (ip, port) that
	// arrives this soon after the prior session for it ended, so a crash-loop
	// client doesn't repeatedly thrash the registry and broadcaster.
	reconnectGrace = 5 * time.Second

	// unknownOpcodeStrikes is the grace window before a run of unrecognized
	// opcodes is treated as a protocol violation (recovered from the original
	// implementation's tolerance for stray bytes on a slow client).
	unknownOpcodeStrikes = 3
)

// guruMeditation prefixes the human-readable error line sent before a
// session is closed for a protocol violation or a rejected hello.
const guruMeditation = "/!\\ GURU MEDITATION /!\\ "

// Broadcaster fans a server's delta, or its delisting, out to peer mirrors
// (component I). *broadcast.Broadcaster satisfies it; tests substitute a
// fake.
type Broadcaster interface {
	BroadcastServer(ctx context.Context, delta map[string]any)
	BroadcastDelist(ctx context.Context, id string)
}

// Handler serves accepted connections on the live-server port. Its Handle
// method satisfies listener.Handler.
type Handler struct {
	Registry    *registry.Registry
	Matcher     *match.Matcher
	Broadcaster Broadcaster
	SelfOrigin  string
	MaxServers  int
	MaxPlayers  int
	Log         *slog.Logger

	mu         sync.Mutex
	lastDelist map[string]time.Time
}

func (h *Handler) recentlyDelisted(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.lastDelist[id]
	return ok && time.Since(t) < reconnectGrace
}

func (h *Handler) markDelisted(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastDelist == nil {
		h.lastDelist = map[string]time.Time{}
	}
	h.lastDelist[id] = time.Now()
}

// Handle implements listener.Handler.
func (h *Handler) Handle(ctx context.Context, conn net.Conn, remoteIP string) {
	s := &session{
		h:     h,
		conn:  conn,
		ip:    remoteIP,
		state: AwaitingHello,
		log:   h.Log.With("remote", remoteIP, "port", "live"),
	}
	s.run(ctx)
}

type session struct {
	h     *Handler
	conn  net.Conn
	ip    string
	id    string
	state State
	rec   *registry.Record
	log   *slog.Logger

	unknownStreak int
}

func (s *session) run(ctx context.Context) {
	hello, err := s.readHello()
	if err != nil {
		s.log.Info("hello failed", "error", err)
		s.refuse("invalid hello")
		return
	}

	id := fmt.Sprintf("%s:%d", s.ip, hello.Port)
	s.id = id

	if s.h.recentlyDelisted(id) {
		s.log.Info("rejecting reconnect, too soon after delisting", "id", id)
		s.refuse("reconnecting too fast")
		return
	}

	already, err := s.h.Registry.ExistsIPPort(ctx, s.ip, hello.Port)
	if err != nil {
		s.log.Warn("checking existing (ip, port) failed", "error", err)
		return
	}
	if already {
		s.log.Info("rejecting hello, (ip, port) already listed", "id", id)
		s.refuse("server already listed")
		return
	}

	count, err := s.h.Registry.CountByIP(ctx, s.ip)
	if err != nil {
		s.log.Warn("count-by-ip failed", "error", err)
		return
	}
	if count >= s.h.MaxServers {
		s.log.Info("rejecting hello, MAXSERVERS exceeded", "ip", s.ip, "count", count)
		s.refuse("too many servers from this IP")
		return
	}

	resolvedName, err := s.h.Registry.ResolveName(ctx, s.ip, hello.Name)
	if err != nil {
		s.log.Warn("resolving name failed", "error", err)
		return
	}

	rec, err := s.h.Registry.Create(ctx, id, s.ip, hello.Port, s.h.SelfOrigin)
	if err != nil {
		s.log.Warn("creating server record failed", "error", err)
		return
	}
	s.rec = rec

	rec.SetName(resolvedName, "", false)
	rec.SetMode(gamemode.Decode(hello.ModeCode))
	rec.SetMax(hello.Max, s.h.MaxPlayers)
	rec.SetPlayers(hello.Players, s.h.MaxPlayers)
	rec.SetPrivate(hello.Private)
	rec.SetPlusOnly(hello.PlusOnly)
	rec.SetVersion(hello.Version)

	if err := s.persistAndBroadcast(ctx); err != nil {
		s.log.Warn("listing server failed", "error", err)
		return
	}

	s.state = Listed
	s.log.Info("server listed", "id", id, "name", resolvedName)

	s.serveUpdates(ctx)

	s.state = Delisting
	s.delist(ctx)
}

func (s *session) readHello() (Hello, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(helloTimeout))
	buf := make([]byte, HelloSize)
	if _, err := io.ReadFull(s.conn, buf); err != nil {
		return Hello{}, fmt.Errorf("reading hello: %w", err)
	}
	return ParseHello(buf)
}

func (s *session) refuse(reason string) {
	_, _ = s.conn.Write([]byte(guruMeditation + reason + "\n"))
}

func (s *session) persistAndBroadcast(ctx context.Context) error {
	if err := s.h.Registry.Persist(ctx, s.rec); err != nil {
		return err
	}
	s.h.Broadcaster.BroadcastServer(ctx, s.rec.FlushUpdates())
	return nil
}

// serveUpdates runs the Listed-state opcode loop until the connection closes,
// the context is cancelled, or the server is banned mid-session.
func (s *session) serveUpdates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		banned, err := s.h.Matcher.Banned(ctx, s.ip)
		if err != nil {
			s.log.Warn("ban re-check failed", "error", err)
			return
		}
		if banned {
			s.log.Info("delisting: now banned", "id", s.id)
			return
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		op := make([]byte, 1)
		_, err = io.ReadFull(s.conn, op)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if _, werr := s.conn.Write([]byte{0x00}); werr != nil {
					return
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				return
			}
			return
		}

		if err := s.dispatch(ctx, op[0]); err != nil {
			s.log.Info("dispatch failed", "opcode", op[0], "error", err)
			return
		}
	}
}

func (s *session) dispatch(ctx context.Context, opcode byte) error {
	switch opcode {
	case 0x00:
		n, err := s.readByte()
		if err != nil {
			return err
		}
		s.unknownStreak = 0
		s.rec.SetPlayers(int(n), s.h.MaxPlayers)
	case 0x01:
		n, err := s.readByte()
		if err != nil {
			return err
		}
		s.unknownStreak = 0
		s.rec.SetMode(gamemode.Decode(int(n)))
	case 0x02:
		buf := make([]byte, 32)
		if _, err := io.ReadFull(s.conn, buf); err != nil {
			return fmt.Errorf("reading name update: %w", err)
		}
		s.unknownStreak = 0
		if i := indexByte(buf, 0); i >= 0 {
			buf = buf[:i]
		}
		resolved, err := s.h.Registry.ResolveName(ctx, s.ip, string(buf))
		if err != nil {
			return fmt.Errorf("resolving updated name: %w", err)
		}
		s.rec.SetName(resolved, "", false)
	case 0x03:
		n, err := s.readByte()
		if err != nil {
			return err
		}
		s.unknownStreak = 0
		s.rec.SetMax(int(n), s.h.MaxPlayers)
	case 0x04:
		n, err := s.readByte()
		if err != nil {
			return err
		}
		s.unknownStreak = 0
		s.rec.SetPrivate(n != 0)
	case 0x05:
		n, err := s.readByte()
		if err != nil {
			return err
		}
		s.unknownStreak = 0
		s.rec.SetPlusOnly(n != 0)
	default:
		s.unknownStreak++
		if s.unknownStreak >= unknownOpcodeStrikes {
			s.refuse("too many unrecognized opcodes")
			return fmt.Errorf("too many unrecognized opcodes")
		}
		return nil
	}

	return s.persistAndBroadcast(ctx)
}

func (s *session) readByte() (byte, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(s.conn, buf); err != nil {
		return 0, fmt.Errorf("reading opcode payload: %w", err)
	}
	return buf[0], nil
}

func (s *session) delist(ctx context.Context) {
	if s.rec == nil {
		return
	}
	if err := s.h.Registry.Delete(ctx, s.id); err != nil {
		s.log.Warn("delisting failed", "id", s.id, "error", err)
	}
	s.h.Broadcaster.BroadcastDelist(ctx, s.id)
	s.h.markDelisted(s.id)
	s.log.Info("server delisted", "id", s.id)
}
