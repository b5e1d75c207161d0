// Package daemon implements the Daemon IPC listener (spec section 4.7):
// a local socket — UNIX domain socket on POSIX hosts, TCP loopback
// elsewhere — speaking the newline-framed JSON protocol from
// internal/ipcframe. It is grounded on the teacher's cmd/mcp-broker-router
// raw net.Listen accept-loop idiom, generalized from the teacher's gRPC
// and HTTP listeners to a framed-JSON socket, and on
// theRebelliousNerd-browserNerd's per-transport server.NewStdioServer
// wiring, generalized from a single os.Stdin/os.Stdout pair to one
// in-process pipe pair per connected session so every client gets its own
// Session Server instance over the same shared retriever/registry/engine.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/aditzel/mcp-squared/internal/ipcframe"
	"github.com/aditzel/mcp-squared/internal/session"
)

// Options configures the Daemon's listener and session limits.
type Options struct {
	// Network is "unix" or "tcp". SocketPath is the filesystem path for
	// "unix" or the "host:port" pair for "tcp".
	Network    string
	SocketPath string

	// Secret, if non-empty, must be presented as the hello frame's token.
	Secret string

	// HeartbeatInterval is N from spec section 4.7: the daemon pings
	// every interval and reaps a session whose previous ping has not been
	// answered with a pong by the next tick.
	HeartbeatInterval time.Duration

	// MaxConcurrentExecutes bounds in-flight `execute` calls across all
	// sessions, so one client cannot exhaust the upstream fleet.
	MaxConcurrentExecutes int

	ServerName    string
	ServerVersion string
}

func (o *Options) applyDefaults() {
	if o.Network == "" {
		o.Network = "unix"
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.MaxConcurrentExecutes <= 0 {
		o.MaxConcurrentExecutes = 16
	}
	if o.ServerName == "" {
		o.ServerName = "mcp-squared"
	}
	if o.ServerVersion == "" {
		o.ServerVersion = "0.1.0"
	}
}

// NewSessionServer builds one Session Server for one connected client.
// The Daemon calls this once per hello handshake; callers typically close
// over a shared retriever, registry, and policy engine and return a fresh
// *session.Server each time since server.MCPServer keeps per-connection
// hook state.
type NewSessionServer func() *session.Server

// Daemon accepts Daemon IPC connections and fans each one out to its own
// session, all sharing the admission pool and heartbeat policy.
type Daemon struct {
	opts      Options
	newServer NewSessionServer
	logger    *slog.Logger

	listener net.Listener

	mu       sync.Mutex
	sessions map[string]*clientSession
	nextID   uint64

	admission chan struct{}

	wg sync.WaitGroup
}

// New builds a Daemon. Call Listen then Serve to start accepting.
func New(opts Options, newServer NewSessionServer, logger *slog.Logger) *Daemon {
	opts.applyDefaults()
	return &Daemon{
		opts:      opts,
		newServer: newServer,
		logger:    logger.With("component", "daemon"),
		sessions:  make(map[string]*clientSession),
		admission: make(chan struct{}, opts.MaxConcurrentExecutes),
	}
}

// Listen opens the configured socket. It does not remove a stale socket
// file at SocketPath first, so with network "unix" a leftover file makes
// the listen fail. The instance registry's pruning removes only entry and
// lock files, not sockets.
func (d *Daemon) Listen() error {
	lis, err := net.Listen(d.opts.Network, d.opts.SocketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen %s %s: %w", d.opts.Network, d.opts.SocketPath, err)
	}
	d.listener = lis
	return nil
}

// Addr returns the bound listener's address, valid after Listen.
func (d *Daemon) Addr() net.Addr {
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

// Serve runs the accept loop until ctx is cancelled or the listener
// closes. It blocks; callers typically run it in its own goroutine.
func (d *Daemon) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = d.listener.Close()
	}()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				d.Shutdown("daemon shutting down")
				return nil
			default:
				return err
			}
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handleConn(ctx, conn)
		}()
	}
}

// Clients returns the active session list for the Monitor Service's
// `clients` command (spec section 4.9).
func (d *Daemon) Clients() []ClientInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ClientInfo, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s.info())
	}
	return out
}

// Shutdown broadcasts {type:shutdown} to every live session and closes
// their connections, per spec section 4.7.
func (d *Daemon) Shutdown(reason string) {
	d.mu.Lock()
	sessions := make([]*clientSession, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	for _, s := range sessions {
		s.sendShutdown(reason)
		s.close()
	}
	d.wg.Wait()
}

func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := ipcframe.NewReader(conn)
	writer := ipcframe.NewWriter(conn)

	hello, err := reader.ReadFrame()
	if err != nil || hello.Type != ipcframe.TypeHello {
		_ = writer.WriteFrame(ipcframe.Frame{Type: ipcframe.TypeError, Reason: "expected hello"})
		return
	}
	if d.opts.Secret != "" && hello.Token != d.opts.Secret {
		_ = writer.WriteFrame(ipcframe.Frame{Type: ipcframe.TypeError, Reason: "unauthorized"})
		return
	}

	sessionID := hello.SessionID
	d.mu.Lock()
	if sessionID == "" || d.sessions[sessionID] != nil {
		d.nextID++
		sessionID = fmt.Sprintf("sess-%d", d.nextID)
	}
	cs := newClientSession(sessionID, hello.ClientID, conn, reader, writer, d.newServer(), d.admission, d.logger)
	cs.isOwner = len(d.sessions) == 0
	d.sessions[sessionID] = cs
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.sessions, sessionID)
		d.mu.Unlock()
	}()

	serverInfo, _ := json.Marshal(map[string]string{"name": d.opts.ServerName, "version": d.opts.ServerVersion})
	if err := writer.WriteFrame(ipcframe.Frame{Type: ipcframe.TypeWelcome, SessionID: sessionID, ServerInfo: serverInfo}); err != nil {
		return
	}

	cs.run(ctx, d.opts.HeartbeatInterval)
}
