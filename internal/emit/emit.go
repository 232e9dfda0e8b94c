// Package emit implements component G: the four short-lived list/stats/MOTD
// responders. Each is a listener.Handler bound to its own port.
package emit

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jj2net/j2lsd/internal/config"
	"github.com/jj2net/j2lsd/internal/store"
)

// adEntry is one fixed binary-list advertisement row (spec.md §4.7/§8 scenario 6).
type adEntry struct {
	ip   [4]byte
	port uint16
	name string
}

var advertisements = []adEntry{
	{ip: [4]byte{192, 0, 2, 0}, port: 80, name: "Get Jazz Jackrabbit 2 Plus!"},
	{ip: [4]byte{192, 0, 2, 1}, port: 80, name: "Visit jj2.plus for more info"},
	{ip: [4]byte{192, 0, 2, 2}, port: 80, name: "Report issues at jj2.plus/bugs"},
}

// Emitters holds the shared dependencies every list/stats/MOTD handler needs.
type Emitters struct {
	Store      *store.Store
	Config     config.Config
	SelfAddr   string
	SourceLink string
	Log        *slog.Logger
}

// cleanup evicts remote rows whose lifesign has fallen behind TIMEOUT,
// matching spec.md §4.7's "cleanup + query servers" and testable property 2
// (§8): an emitter must never read a remote row past its lifesign window.
func (e *Emitters) cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(e.Config.Timeout) * time.Second).Unix()
	if _, err := e.Store.SweepExpiredRemote(ctx, cutoff); err != nil {
		e.Log.Warn("cleanup: sweeping expired remote servers failed", "error", err)
	}
}

// AsciiList implements listener.Handler for port 10057.
func (e *Emitters) AsciiList(ctx context.Context, conn net.Conn, remoteIP string) {
	e.cleanup(ctx)

	rows, err := e.Store.ListServers(ctx)
	if err != nil {
		e.Log.Warn("ascii list: listing servers failed", "error", err)
		return
	}

	w := bufio.NewWriter(conn)
	now := time.Now().Unix()
	for _, row := range rows {
		origin := "local"
		if row.Remote {
			origin = "mirror"
		}
		visibility := "public"
		if row.Private {
			visibility = "private"
		}
		uptime := now - row.Created
		if uptime < 0 {
			uptime = 0
		}

		fmt.Fprintf(w, "%s:%d %s %s %s %-6s %d [%d/%d] %s\r\n",
			row.IP, row.Port, origin, visibility, row.Mode, row.Version, uptime, row.Players, row.Max, row.Name)
	}
	_ = w.Flush()
}

// BinaryList implements listener.Handler for port 10053.
func (e *Emitters) BinaryList(ctx context.Context, conn net.Conn, remoteIP string) {
	e.cleanup(ctx)

	rows, err := e.Store.ListServers(ctx)
	if err != nil {
		e.Log.Warn("binary list: listing servers failed", "error", err)
		return
	}

	w := bufio.NewWriter(conn)
	w.Write([]byte{0x07, 'L', 'I', 'S', 'T', 0x01, 0x01})

	for _, ad := range advertisements {
		writeBinaryEntry(w, ad.ip[:], ad.port, ad.name)
	}

	for _, row := range rows {
		if row.PlusOnly {
			continue
		}
		ip := net.ParseIP(row.IP)
		v4 := ip.To4()
		if v4 == nil {
			e.Log.Warn("binary list: skipping non-IPv4 server", "id", row.ID, "ip", row.IP)
			continue
		}
		writeBinaryEntry(w, v4, uint16(row.Port), row.Name)
	}
	_ = w.Flush()
}

func writeBinaryEntry(w *bufio.Writer, ip []byte, port uint16, name string) {
	nameBytes := []byte(name)
	w.WriteByte(byte(len(nameBytes) + 7))
	w.WriteByte(ip[3])
	w.WriteByte(ip[2])
	w.WriteByte(ip[1])
	w.WriteByte(ip[0])
	w.WriteByte(byte(port))
	w.WriteByte(byte(port >> 8))
	w.Write(nameBytes)
}

// Stats implements listener.Handler for port 10055.
func (e *Emitters) Stats(ctx context.Context, conn net.Conn, remoteIP string) {
	e.cleanup(ctx)

	rows, err := e.Store.ListServers(ctx)
	if err != nil {
		e.Log.Warn("stats: listing servers failed", "error", err)
		return
	}
	mirrors, err := e.Store.ListMirrors(ctx)
	if err != nil {
		e.Log.Warn("stats: listing mirrors failed", "error", err)
		return
	}

	var local, remote, players int
	for _, row := range rows {
		if row.Remote {
			remote++
		} else {
			local++
		}
		players += row.Players
	}

	started := startTime(ctx, e.Store, e.Log)
	now := time.Now()

	w := bufio.NewWriter(conn)
	fmt.Fprintf(w, "Daemon address: %s\r\n", e.SelfAddr)
	fmt.Fprintf(w, "Started: %s\r\n", started.Format(time.RFC1123))
	fmt.Fprintf(w, "Uptime: %s\r\n", FancyTime(now.Sub(started)))
	fmt.Fprintf(w, "Servers: %d local, %d mirrored\r\n", local, remote)
	fmt.Fprintf(w, "Players: %d\r\n", players)
	fmt.Fprintf(w, "Mirrors:\r\n")
	for _, m := range mirrors {
		flag := ""
		if m.Lifesign < now.Unix()-600 {
			flag = " (inactive)"
		}
		fmt.Fprintf(w, "  %s %s%s\r\n", m.Name, m.Address, flag)
	}
	fmt.Fprintf(w, "Version: %s\r\n", e.Config.Version)
	fmt.Fprintf(w, "Source: %s\r\n", e.SourceLink)
	_ = w.Flush()
}

func startTime(ctx context.Context, st *store.Store, log *slog.Logger) time.Time {
	v, ok, err := st.GetSetting(ctx, "started")
	if err != nil || !ok {
		if err != nil {
			log.Warn("stats: reading start time failed", "error", err)
		}
		return time.Now()
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Now()
	}
	return ts
}

// MOTD implements listener.Handler for port 10058.
func (e *Emitters) MOTD(ctx context.Context, conn net.Conn, remoteIP string) {
	motd, ok, err := e.Store.GetSetting(ctx, "motd")
	if err != nil {
		e.Log.Warn("motd: reading setting failed", "error", err)
		return
	}
	if !ok {
		return
	}

	expiresStr, ok, err := e.Store.GetSetting(ctx, "motd-expires")
	if err != nil {
		e.Log.Warn("motd: reading expiry failed", "error", err)
		return
	}
	if !ok {
		return
	}

	var expires int64
	if _, err := fmt.Sscanf(expiresStr, "%d", &expires); err != nil {
		return
	}
	if expires <= time.Now().Unix() {
		return
	}

	_, _ = conn.Write([]byte(motd))
}
