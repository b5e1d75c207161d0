// Package monitor implements the read-only Monitor Service (spec section
// 4.9): a line-framed command listener reporting cumulative counters,
// per-upstream connection state, and the active Daemon IPC client list,
// plus a companion /status HTTP handler (status.go).
//
// Grounded on the teacher's own accept-loop idiom (reused from
// internal/daemon, itself grounded on cmd/mcp-broker-router/main.go) and
// on the teacher's broker.go StatusResponse/ValidateAllServers shape for
// the HTTP side.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/aditzel/mcp-squared/internal/daemon"
	"github.com/aditzel/mcp-squared/internal/ipcframe"
	"github.com/aditzel/mcp-squared/internal/upstream"
)

// UpstreamView is the `upstreams` command's per-entry reply shape,
// covering UpstreamConnection's visible fields (spec section 3).
type UpstreamView struct {
	Key           string    `json:"key"`
	State         string    `json:"state"`
	LastError     string    `json:"lastError,omitempty"`
	ToolCount     int       `json:"toolCount"`
	ConnectedAt   time.Time `json:"connectedAt,omitempty"`
	ServerName    string    `json:"serverName,omitempty"`
	ServerVersion string    `json:"serverVersion,omitempty"`
	Transport     string    `json:"transport"`
	AuthPending   bool      `json:"authPending"`
}

// Options configures a Listener.
type Options struct {
	Network    string // "unix" or "tcp"
	SocketPath string

	Counters  *Counters
	Upstreams *upstream.Registry

	// ListClients returns the active Daemon IPC session list; wired to
	// (*daemon.Daemon).Clients in production, nil if no daemon is running
	// in this process (the `clients` command then always reports empty).
	ListClients func() []daemon.ClientInfo

	// IndexToolCount returns the current Index Store row count for the
	// stats command's cacheSize field.
	IndexToolCount func(ctx context.Context) (int, error)
}

func (o *Options) applyDefaults() {
	if o.Network == "" {
		o.Network = "unix"
	}
}

// Listener accepts connections and serves bare command lines, replying
// with one MonitorReply JSON object per command.
type Listener struct {
	opts     Options
	logger   *slog.Logger
	listener net.Listener
}

// New builds a Listener. Call Listen then Serve.
func New(opts Options, logger *slog.Logger) *Listener {
	opts.applyDefaults()
	return &Listener{opts: opts, logger: logger}
}

// Listen binds the underlying socket.
func (l *Listener) Listen() error {
	lis, err := net.Listen(l.opts.Network, l.opts.SocketPath)
	if err != nil {
		return err
	}
	l.listener = lis
	return nil
}

// Addr returns the bound address, valid after Listen.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Serve accepts connections until ctx is canceled or the listener
// errors, serving each on its own goroutine.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go l.handleConn(ctx, conn)
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	lines := ipcframe.NewLineReader(conn)

	for {
		line, err := lines.ReadLine()
		if err != nil {
			return
		}
		reply := l.dispatch(ctx, line)
		if err := ipcframe.WriteMonitorReply(conn, reply); err != nil {
			return
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, line string) ipcframe.MonitorReply {
	now := time.Now().UnixMilli()
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return errorReply("empty command", now)
	}

	switch fields[0] {
	case "ping":
		return dataReply(json.RawMessage(`{"pong":true}`), now)
	case "stats":
		return l.handleStats(ctx, now)
	case "tools":
		limit := 0
		if len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil {
				limit = n
			}
		}
		return l.handleTools(limit, now)
	case "upstreams":
		return l.handleUpstreams(now)
	case "clients":
		return l.handleClients(now)
	default:
		return errorReply("unknown command: "+fields[0], now)
	}
}

func (l *Listener) handleStats(ctx context.Context, now int64) ipcframe.MonitorReply {
	cacheSize := 0
	if l.opts.IndexToolCount != nil {
		if n, err := l.opts.IndexToolCount(ctx); err == nil {
			cacheSize = n
		}
	}
	snap := l.opts.Counters.Snapshot(cacheSize)
	data, err := json.Marshal(snap)
	if err != nil {
		return errorReply(err.Error(), now)
	}
	return dataReply(data, now)
}

func (l *Listener) handleTools(limit int, now int64) ipcframe.MonitorReply {
	if !l.opts.Counters.ToolTrackingEnabled() {
		return errorReply("tool call tracking is disabled", now)
	}
	data, err := json.Marshal(l.opts.Counters.ToolSnapshot(limit))
	if err != nil {
		return errorReply(err.Error(), now)
	}
	return dataReply(data, now)
}

func (l *Listener) handleUpstreams(now int64) ipcframe.MonitorReply {
	var views []UpstreamView
	for _, c := range l.opts.Upstreams.All() {
		var lastErr string
		if err := c.LastError(); err != nil {
			lastErr = err.Error()
		}
		name, version := c.ServerInfo()
		views = append(views, UpstreamView{
			Key:           c.Key(),
			State:         string(c.State()),
			LastError:     lastErr,
			ToolCount:     len(c.CachedTools()),
			ConnectedAt:   c.ConnectedAt(),
			ServerName:    name,
			ServerVersion: version,
			Transport:     c.Transport(),
			AuthPending:   c.State() == upstream.StateAuthPending,
		})
	}
	data, err := json.Marshal(views)
	if err != nil {
		return errorReply(err.Error(), now)
	}
	return dataReply(data, now)
}

func (l *Listener) handleClients(now int64) ipcframe.MonitorReply {
	var clients []daemon.ClientInfo
	if l.opts.ListClients != nil {
		clients = l.opts.ListClients()
	}
	data, err := json.Marshal(clients)
	if err != nil {
		return errorReply(err.Error(), now)
	}
	return dataReply(data, now)
}

func dataReply(data json.RawMessage, now int64) ipcframe.MonitorReply {
	return ipcframe.MonitorReply{Status: "success", Data: data, Timestamp: now}
}

func errorReply(msg string, now int64) ipcframe.MonitorReply {
	return ipcframe.MonitorReply{Status: "error", Error: msg, Timestamp: now}
}
