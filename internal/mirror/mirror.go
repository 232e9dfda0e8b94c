// Package mirror implements component H: the JSON inbound processor shared
// by the peer mesh port (10056) and the admin channel (10059), per spec.md
// §4.8. Messages are parsed once into a typed envelope, then dispatched by
// action — the tagged-union shape spec.md §9's redesign note calls for,
// here expressed as a map-keyed dispatch table rather than a type switch
// since every action's payload shape is read from the same envelope.
package mirror

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jj2net/j2lsd/internal/broadcast"
	"github.com/jj2net/j2lsd/internal/config"
	"github.com/jj2net/j2lsd/internal/registry"
	"github.com/jj2net/j2lsd/internal/store"
)

// readTimeout and maxEnvelopeBytes bound the inbound JSON read per spec.md §4.8.
const (
	readTimeout      = 5 * time.Second
	maxEnvelopeBytes = 12 * 2048
)

// actions exempted from the web-origin admin rebroadcast policy (spec.md §4.8).
var noRebroadcast = map[string]bool{
	"hello": true, "request": true, "delist": true,
	"request-log": true, "send-log": true, "request-log-from": true,
}

// Handler processes mirror envelopes for one port. Bind two instances — one
// with Admin=false for 10056, one with Admin=true for 10059 — to the
// listener pool.
type Handler struct {
	Store       *store.Store
	Registry    *registry.Registry
	Broadcaster *broadcast.Broadcaster
	Config      config.Config
	SelfOrigin  string
	Admin       bool
	LogDir      string // destination for send-log payloads; "" disables persistence
	LogFilePath string // local daemon log to tail for request-log; "" replies empty
	Reload      chan int
	Log         *slog.Logger
}

// Handle implements listener.Handler.
func (h *Handler) Handle(ctx context.Context, conn net.Conn, remoteIP string) {
	log := h.Log.With("remote", remoteIP, "admin", h.Admin)

	if h.Admin {
		if remoteIP != "127.0.0.1" && remoteIP != "::1" {
			log.Warn("admin connection refused: not loopback")
			return
		}
	} else {
		if remoteIP == "127.0.0.1" || remoteIP == "::1" || remoteIP == h.SelfOrigin {
			log.Warn("mirror connection refused: loopback or self")
			return
		}
		mirror, ok, err := h.Store.GetMirrorByAddress(ctx, remoteIP)
		if err != nil {
			log.Warn("mirror lookup failed", "error", err)
			return
		}
		if !ok {
			log.Warn("mirror connection refused: not a known mirror")
			return
		}
		if err := h.Store.TouchMirrorLifesign(ctx, mirror.Address, time.Now().Unix()); err != nil {
			log.Warn("touching mirror lifesign failed", "error", err)
		}
	}

	env, err := readEnvelope(conn)
	if err != nil {
		log.Info("mirror envelope read failed", "error", err)
		_, _ = conn.Write([]byte("/!\\ GURU MEDITATION /!\\ " + err.Error() + "\n"))
		return
	}

	if env.Origin == h.SelfOrigin {
		return // loop suppression, spec.md §4.8 and testable property 7
	}

	if strings.HasPrefix(env.Action, "get-") {
		if !h.Admin {
			log.Warn("get-* action refused on non-admin port", "action", env.Action)
			return
		}
		h.handleGet(ctx, conn, env.Action, log)
		return
	}

	switch env.Action {
	case "request", "hello":
		h.handleRequestOrHello(ctx, env, remoteIP, log)
		return
	case "request-log-from":
		h.handleRequestLogFrom(ctx, env, log)
		return
	case "request-log":
		h.handleRequestLog(ctx, env, remoteIP, log)
		return
	case "send-log":
		h.handleSendLog(ctx, env, remoteIP, log)
		return
	case "reload":
		h.handleReload(ctx, env, log)
		return
	case "ping":
		return // lifesign already touched at admission; never rebroadcast
	}

	var successes []map[string]any
	for _, item := range env.Data {
		ok, err := h.processItem(ctx, env.Action, item, env.Origin)
		if err != nil {
			log.Info("mirror item rejected", "action", env.Action, "error", err)
			continue
		}
		if ok {
			successes = append(successes, item)
		}
	}

	if h.Admin && env.Origin == "web" && !noRebroadcast[env.Action] && !strings.HasPrefix(env.Action, "get-") && len(successes) > 0 {
		h.Broadcaster.Broadcast(ctx, broadcast.Envelope{Action: env.Action, Data: successes, Origin: h.SelfOrigin}, remoteIP)
	}
}

func (h *Handler) processItem(ctx context.Context, action string, item map[string]any, origin string) (bool, error) {
	switch action {
	case "server":
		return h.handleServer(ctx, item, origin)
	case "delist":
		return h.handleDelist(ctx, item)
	case "add-banlist":
		return h.Store.AddBanlistEntry(ctx, banlistRowFrom(item))
	case "delete-banlist":
		return true, h.Store.DeleteBanlistEntry(ctx, banlistRowFrom(item))
	case "add-mirror":
		return h.handleAddMirror(ctx, item)
	case "delete-mirror":
		name, _ := getString(item, "name")
		address, _ := getString(item, "address")
		return true, h.Store.DeleteMirror(ctx, name, address)
	case "set-motd":
		return h.handleSetMotd(ctx, item)
	default:
		return false, fmt.Errorf("unrecognized mirror action %q", action)
	}
}

func (h *Handler) handleServer(ctx context.Context, item map[string]any, origin string) (bool, error) {
	id, ok := getString(item, "id")
	if !ok {
		return false, fmt.Errorf("server item missing id")
	}

	row, found, err := h.Store.GetServer(ctx, id)
	if err != nil {
		return false, fmt.Errorf("fetching server %q: %w", id, err)
	}
	if !found {
		row = store.ServerRow{ID: id, Created: time.Now().Unix(), Origin: origin, Mode: "unknown"}
	}

	if ip, ok := getString(item, "ip"); ok {
		row.IP = ip
	}
	if port, ok := getInt(item, "port"); ok {
		row.Port = port
	}
	if players, ok := getInt(item, "players"); ok {
		row.Players = clamp(players, 0, h.Config.MaxPlayers)
	}
	if max, ok := getInt(item, "max"); ok {
		row.Max = clamp(max, 0, h.Config.MaxPlayers)
	}
	if name, ok := getString(item, "name"); ok {
		row.Name = registry.SanitizeName(name)
	}
	if mode, ok := getString(item, "mode"); ok {
		row.Mode = mode
	}
	if private, ok := getBool(item, "private"); ok {
		row.Private = private
	}
	if plusonly, ok := getBool(item, "plusonly"); ok {
		row.PlusOnly = plusonly
	}
	if version, ok := getString(item, "version"); ok {
		row.Version = version
	}
	if prefer, ok := getBool(item, "prefer"); ok {
		row.Prefer = prefer
	}
	row.Remote = true
	row.Lifesign = time.Now().Unix()

	if !found && (row.IP == "" || row.Port == 0) {
		return true, nil // partial update before first full announce: forget, per spec.md §4.8
	}

	if err := h.Store.UpsertServer(ctx, row); err != nil {
		return false, fmt.Errorf("upserting mirrored server %q: %w", id, err)
	}
	return true, nil
}

func (h *Handler) handleDelist(ctx context.Context, item map[string]any) (bool, error) {
	id, ok := getString(item, "id")
	if !ok {
		return false, fmt.Errorf("delist item missing id")
	}
	row, found, err := h.Store.GetServer(ctx, id)
	if err != nil {
		return false, fmt.Errorf("fetching server %q: %w", id, err)
	}
	if !found {
		return false, fmt.Errorf("delist of unknown server %q", id)
	}
	if !row.Remote {
		return false, fmt.Errorf("refusing cross-origin delist of locally-owned server %q", id)
	}
	if err := h.Store.DeleteServer(ctx, id); err != nil {
		return false, fmt.Errorf("delisting %q: %w", id, err)
	}
	return true, nil
}

func (h *Handler) handleAddMirror(ctx context.Context, item map[string]any) (bool, error) {
	name, _ := getString(item, "name")
	address, _ := getString(item, "address")
	row := store.MirrorRow{Name: name, Address: address, Lifesign: time.Now().Unix()}

	inserted, err := h.Store.AddMirror(ctx, row)
	if err != nil {
		return false, fmt.Errorf("adding mirror %q: %w", name, err)
	}
	if inserted {
		addr := fmt.Sprintf("%s:%d", address, h.Config.Ports.Mirror)
		env := broadcast.Envelope{Action: "hello", Data: []map[string]any{{"from": h.SelfOrigin}}, Origin: h.SelfOrigin}
		if err := broadcast.SendTo(ctx, addr, env); err != nil {
			h.Log.Info("greeting new mirror failed", "peer", address, "error", err)
		}
	}
	return inserted, nil
}

func (h *Handler) handleSetMotd(ctx context.Context, item map[string]any) (bool, error) {
	updated, ok := getInt64(item, "motd-updated")
	if !ok {
		return false, fmt.Errorf("set-motd item missing motd-updated")
	}

	if curStr, ok, err := h.Store.GetSetting(ctx, "motd-updated"); err != nil {
		return false, fmt.Errorf("reading current motd-updated: %w", err)
	} else if ok {
		if cur, err := strconv.ParseInt(curStr, 10, 64); err == nil && updated <= cur {
			return false, fmt.Errorf("stale motd-updated %d (current %d)", updated, cur)
		}
	}

	motd, _ := getString(item, "motd")

	expires := time.Now().Add(72 * time.Hour).Unix()
	if raw, ok := getString(item, "motd-expires"); ok {
		if t, err := time.Parse("02-01-2006 15:04", raw); err == nil {
			expires = t.Unix()
		}
	}

	if err := h.Store.SetSetting(ctx, "motd", motd); err != nil {
		return false, err
	}
	if err := h.Store.SetSetting(ctx, "motd-updated", strconv.FormatInt(updated, 10)); err != nil {
		return false, err
	}
	if err := h.Store.SetSetting(ctx, "motd-expires", strconv.FormatInt(expires, 10)); err != nil {
		return false, err
	}
	return true, nil
}

// handleRequestOrHello answers with a full-state push, fragment-scoped per
// the decided policy (SPEC_FULL.md §6 item 1, overriding spec.md §4.8's
// prose with spec.md §8 Testable Scenario 4's literal, more specific
// requirement): an absent fragment pushes everything, including mirrors;
// any named fragment pushes only that one. "hello" additionally triggers a
// reciprocal "request", sent before the push.
func (h *Handler) handleRequestOrHello(ctx context.Context, env envelope, remoteIP string, log *slog.Logger) {
	fragment := ""
	for _, item := range env.Data {
		if f, ok := getString(item, "fragment"); ok {
			fragment = f
		}
	}

	addr := fmt.Sprintf("%s:%d", remoteIP, h.Config.Ports.Mirror)

	if env.Action == "hello" {
		req := broadcast.Envelope{Action: "request", Data: []map[string]any{{"from": h.SelfOrigin}}, Origin: h.SelfOrigin}
		if err := broadcast.SendTo(ctx, addr, req); err != nil {
			log.Info("reciprocal request failed", "peer", remoteIP, "error", err)
		}
	}

	h.pushFullState(ctx, addr, fragment, log)
}

func (h *Handler) pushFullState(ctx context.Context, addr, fragment string, log *slog.Logger) {
	sendServers := fragment == "" || fragment == "servers"
	sendBanlist := fragment == "" || fragment == "banlist"
	sendMotd := fragment == "" || fragment == "motd"
	sendMirrors := fragment == "" || fragment == "mirrors"

	if fragment != "" && fragment != "servers" && fragment != "banlist" && fragment != "motd" && fragment != "mirrors" {
		log.Info("request with unrecognized fragment, ignoring", "fragment", fragment)
		return
	}

	if sendServers {
		rows, err := h.Store.ListServers(ctx)
		if err != nil {
			log.Warn("pushing servers fragment failed", "error", err)
		} else if len(rows) > 0 {
			data := make([]map[string]any, 0, len(rows))
			for _, r := range rows {
				data = append(data, serverRowToMap(r))
			}
			send(ctx, addr, broadcast.Envelope{Action: "server", Data: data, Origin: h.SelfOrigin}, log)
		}
	}
	if sendBanlist {
		rows, err := h.Store.ListBanlist(ctx, "")
		if err != nil {
			log.Warn("pushing banlist fragment failed", "error", err)
		} else if len(rows) > 0 {
			data := make([]map[string]any, 0, len(rows))
			for _, r := range rows {
				data = append(data, map[string]any{
					"address": r.Address, "type": r.Type, "note": r.Note, "origin": r.Origin, "reserved": r.Reserved,
				})
			}
			send(ctx, addr, broadcast.Envelope{Action: "add-banlist", Data: data, Origin: h.SelfOrigin}, log)
		}
	}
	if sendMirrors {
		rows, err := h.Store.ListMirrors(ctx)
		if err != nil {
			log.Warn("pushing mirrors fragment failed", "error", err)
		} else if len(rows) > 0 {
			data := make([]map[string]any, 0, len(rows))
			for _, r := range rows {
				data = append(data, map[string]any{"name": r.Name, "address": r.Address})
			}
			send(ctx, addr, broadcast.Envelope{Action: "add-mirror", Data: data, Origin: h.SelfOrigin}, log)
		}
	}
	if sendMotd {
		motd, ok, err := h.Store.GetSetting(ctx, "motd")
		if err != nil {
			log.Warn("pushing motd fragment failed", "error", err)
		} else if ok {
			updatedStr, _, _ := h.Store.GetSetting(ctx, "motd-updated")
			updated, _ := strconv.ParseInt(updatedStr, 10, 64)
			send(ctx, addr, broadcast.Envelope{
				Action: "set-motd",
				Data:   []map[string]any{{"motd": motd, "motd-updated": updated}},
				Origin: h.SelfOrigin,
			}, log)
		}
	}
}

func send(ctx context.Context, addr string, env broadcast.Envelope, log *slog.Logger) {
	if err := broadcast.SendTo(ctx, addr, env); err != nil {
		log.Info("full-state push failed", "peer", addr, "action", env.Action, "error", err)
	}
}

func (h *Handler) handleRequestLogFrom(ctx context.Context, env envelope, log *slog.Logger) {
	if len(env.Data) == 0 {
		return
	}
	peerName, _ := getString(env.Data[0], "peer")
	lines, _ := getInt(env.Data[0], "lines")

	mirrors, err := h.Store.ListMirrors(ctx)
	if err != nil {
		log.Warn("routing request-log-from failed", "error", err)
		return
	}
	for _, m := range mirrors {
		if m.Name != peerName {
			continue
		}
		addr := fmt.Sprintf("%s:%d", m.Address, h.Config.Ports.Mirror)
		req := broadcast.Envelope{Action: "request-log", Data: []map[string]any{{"lines": lines}}, Origin: h.SelfOrigin}
		send(ctx, addr, req, log)
		return
	}
	log.Info("request-log-from: unknown peer", "peer", peerName)
}

func (h *Handler) handleRequestLog(ctx context.Context, env envelope, remoteIP string, log *slog.Logger) {
	lines := 0
	if len(env.Data) > 0 {
		lines, _ = getInt(env.Data[0], "lines")
	}

	tail := readLogTail(h.LogFilePath, lines, log)

	addr := fmt.Sprintf("%s:%d", remoteIP, h.Config.Ports.Mirror)
	reply := broadcast.Envelope{Action: "send-log", Data: []map[string]any{{"lines": tail}}, Origin: h.SelfOrigin}
	send(ctx, addr, reply, log)
}

func readLogTail(path string, lines int, log *slog.Logger) []string {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		log.Info("reading log for request-log failed", "error", err)
		return nil
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if lines <= 0 || lines >= len(all) {
		return all
	}
	return all[len(all)-lines:]
}

func (h *Handler) handleSendLog(ctx context.Context, env envelope, remoteIP string, log *slog.Logger) {
	if h.LogDir == "" || len(env.Data) == 0 {
		return
	}
	raw, _ := env.Data[0]["lines"]
	lines, _ := raw.([]any)

	path := fmt.Sprintf("%s/mirror-log-%s-%d.log", h.LogDir, strings.ReplaceAll(remoteIP, ":", "_"), time.Now().Unix())
	f, err := os.Create(path)
	if err != nil {
		log.Warn("persisting received log failed", "error", err)
		return
	}
	defer f.Close()
	for _, l := range lines {
		if s, ok := l.(string); ok {
			fmt.Fprintln(f, s)
		}
	}
}

func (h *Handler) handleReload(ctx context.Context, env envelope, log *slog.Logger) {
	if len(env.Data) == 0 {
		return
	}
	level, ok := getInt(env.Data[0], "level")
	if !ok || h.Reload == nil {
		return
	}
	select {
	case h.Reload <- level:
	default:
		log.Info("reload request dropped, channel full", "level", level)
	}
}

func (h *Handler) handleGet(ctx context.Context, conn net.Conn, action string, log *slog.Logger) {
	var value any
	var err error

	switch action {
	case "get-servers":
		value, err = h.Store.ListServers(ctx)
	case "get-banlist":
		value, err = h.Store.ListBanlist(ctx, "")
	case "get-motd":
		var v string
		v, _, err = h.Store.GetSetting(ctx, "motd")
		value = v
	case "get-motd-expires":
		var v string
		v, _, err = h.Store.GetSetting(ctx, "motd-expires")
		value = v
	case "get-mirrors":
		value, err = h.Store.ListMirrors(ctx)
	case "get-version":
		value = h.Config.Version
	default:
		log.Info("unrecognized get-* action", "action", action)
		return
	}
	if err != nil {
		log.Warn("get-* query failed", "action", action, "error", err)
		return
	}

	_ = json.NewEncoder(conn).Encode(value)
}

// envelope is the decoded wire message (spec.md §4.8).
type envelope struct {
	Action string
	Data   []map[string]any
	Origin string
}

func readEnvelope(conn net.Conn) (envelope, error) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	limited := io.LimitReader(conn, maxEnvelopeBytes)

	var raw struct {
		Action string           `json:"action"`
		Data   []map[string]any `json:"data"`
		Origin string           `json:"origin"`
	}
	if err := json.NewDecoder(limited).Decode(&raw); err != nil {
		return envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	return envelope{Action: raw.Action, Data: raw.Data, Origin: raw.Origin}, nil
}

func banlistRowFrom(item map[string]any) store.BanlistRow {
	address, _ := getString(item, "address")
	typ, _ := getString(item, "type")
	note, _ := getString(item, "note")
	origin, _ := getString(item, "origin")
	reserved, _ := getString(item, "reserved")
	return store.BanlistRow{Address: address, Type: typ, Note: note, Origin: origin, Reserved: reserved}
}

func serverRowToMap(r store.ServerRow) map[string]any {
	return map[string]any{
		"id": r.ID, "ip": r.IP, "port": r.Port, "players": r.Players, "max": r.Max,
		"name": r.Name, "mode": r.Mode, "private": r.Private, "plusonly": r.PlusOnly,
		"version": r.Version, "prefer": r.Prefer,
	}
}

func getString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func getBool(m map[string]any, key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func getInt(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func getInt64(m map[string]any, key string) (int64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
