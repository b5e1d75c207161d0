package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/aditzel/mcp-squared/internal/ipcframe"
	"github.com/aditzel/mcp-squared/internal/session"
)

// clientSession is one connected Daemon IPC client: a reader goroutine
// (this session's run loop), a writer goroutine draining a bounded
// channel, and a dedicated in-process stdio-framed MCP server instance
// bridging frame payloads to the shared Session Server's tool handlers.
type clientSession struct {
	id       string
	clientID string

	conn   net.Conn
	reader *ipcframe.Reader
	writer *ipcframe.Writer

	mcpServer *session.Server
	admission chan struct{}
	logger    *slog.Logger

	writeCh chan ipcframe.Frame

	inW        *io.PipeWriter
	outScanner *bufio.Scanner

	connectedAt time.Time
	isOwner     bool

	mu           sync.Mutex
	lastSeen     time.Time
	awaitingPong bool
	closed       bool
	cancel       context.CancelFunc
}

func newClientSession(id, clientID string, conn net.Conn, reader *ipcframe.Reader, writer *ipcframe.Writer, mcpServer *session.Server, admission chan struct{}, logger *slog.Logger) *clientSession {
	return &clientSession{
		id:          id,
		clientID:    clientID,
		conn:        conn,
		reader:      reader,
		writer:      writer,
		mcpServer:   mcpServer,
		admission:   admission,
		logger:      logger.With("sessionID", id),
		writeCh:     make(chan ipcframe.Frame, 64),
		connectedAt: time.Now(),
		lastSeen:    time.Now(),
	}
}

// ClientInfo is the shape the Monitor Service's `clients` command reports
// (spec section 4.9).
type ClientInfo struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"clientId"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastSeen    time.Time `json:"lastSeen"`
	IsOwner     bool      `json:"isOwner"`
}

func (cs *clientSession) info() ClientInfo {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return ClientInfo{ID: cs.id, ClientID: cs.clientID, ConnectedAt: cs.connectedAt, LastSeen: cs.lastSeen, IsOwner: cs.isOwner}
}

// run bridges frames to the session's MCP server until the connection
// closes, the context is cancelled, or the heartbeat watchdog reaps it.
func (cs *clientSession) run(ctx context.Context, heartbeatInterval time.Duration) {
	sessCtx, cancel := context.WithCancel(ctx)
	cs.mu.Lock()
	cs.cancel = cancel
	cs.mu.Unlock()
	defer cancel()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	cs.inW = inW

	scanner := bufio.NewScanner(outR)
	scanner.Buffer(make([]byte, 0, 64*1024), ipcframe.MaxFrameBytes)
	cs.outScanner = scanner

	stdio := server.NewStdioServer(cs.mcpServer.MCP)
	go func() {
		_ = stdio.Listen(sessCtx, inR, outW)
	}()

	go cs.writeLoop(sessCtx)
	go cs.heartbeatLoop(sessCtx, heartbeatInterval)

	for {
		frame, err := cs.reader.ReadFrame()
		if err != nil {
			break
		}
		cs.touch()

		switch frame.Type {
		case ipcframe.TypePong:
			cs.mu.Lock()
			cs.awaitingPong = false
			cs.mu.Unlock()
		case ipcframe.TypeMCP:
			cs.handleMCP(frame)
		default:
			cs.logger.Debug("ignoring unexpected frame type", "type", frame.Type)
		}
	}

	cs.close()
}

func (cs *clientSession) touch() {
	cs.mu.Lock()
	cs.lastSeen = time.Now()
	cs.mu.Unlock()
}

// handleMCP writes one MCP request payload into this session's stdio
// bridge and waits for exactly one response line, enforcing the spec's
// in-order dispatch/response guarantee by construction: the next frame
// isn't read from the socket until this one's response is in hand.
func (cs *clientSession) handleMCP(frame ipcframe.Frame) {
	isExecute := isExecuteCall(frame.Payload)
	if isExecute {
		cs.admission <- struct{}{}
		defer func() { <-cs.admission }()
	}

	payload := append([]byte{}, frame.Payload...)
	payload = append(payload, '\n')
	if _, err := cs.inW.Write(payload); err != nil {
		cs.logger.Warn("write to session mcp bridge failed", "error", err)
		return
	}

	if !cs.outScanner.Scan() {
		cs.logger.Warn("session mcp bridge closed unexpectedly")
		return
	}

	resp := ipcframe.Frame{
		Type:      ipcframe.TypeMCP,
		SessionID: cs.id,
		Payload:   json.RawMessage(append([]byte{}, cs.outScanner.Bytes()...)),
	}
	select {
	case cs.writeCh <- resp:
	default:
		cs.logger.Warn("write channel full, dropping response frame")
	}
}

func (cs *clientSession) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-cs.writeCh:
			if err := cs.writer.WriteFrame(f); err != nil {
				return
			}
		}
	}
}

func (cs *clientSession) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cs.mu.Lock()
			missed := cs.awaitingPong
			cs.awaitingPong = true
			cs.mu.Unlock()
			if missed {
				cs.logger.Info("reaping session: missed heartbeat")
				cs.close()
				return
			}
			select {
			case cs.writeCh <- ipcframe.Frame{Type: ipcframe.TypePing}:
			default:
			}
		}
	}
}

func (cs *clientSession) sendShutdown(reason string) {
	_ = cs.writer.WriteFrame(ipcframe.Frame{Type: ipcframe.TypeShutdown, Reason: reason})
}

func (cs *clientSession) close() {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	cs.closed = true
	cancel := cs.cancel
	cs.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cs.inW != nil {
		_ = cs.inW.Close()
	}
	_ = cs.conn.Close()
}

// isExecuteCall reports whether payload is a tools/call JSON-RPC request
// invoking the "execute" meta-tool, the only one the admission pool gates
// (spec section 4.7's "caps concurrent in-flight executes").
func isExecuteCall(payload json.RawMessage) bool {
	var req struct {
		Method string `json:"method"`
		Params struct {
			Name string `json:"name"`
		} `json:"params"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return false
	}
	return req.Method == "tools/call" && req.Params.Name == "execute"
}
