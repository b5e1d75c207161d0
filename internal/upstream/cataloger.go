package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	sdkclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	sdkmcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/aditzel/mcp-squared/internal/appconfig"
	"github.com/aditzel/mcp-squared/internal/catalog"
	"github.com/aditzel/mcp-squared/internal/mcperr"
)

// mcpClient is the narrow slice of mark3labs/mcp-go's client.MCPClient
// interface the Cataloger depends on. sdkclient.Client (the concrete type
// returned by NewStdioMCPClient and NewStreamableHttpClient) satisfies it
// structurally; tests substitute a fake implementing only these five
// methods instead of the SDK's full resources/prompts/sampling surface.
type mcpClient interface {
	Initialize(ctx context.Context, req sdkmcp.InitializeRequest) (*sdkmcp.InitializeResult, error)
	ListTools(ctx context.Context, req sdkmcp.ListToolsRequest) (*sdkmcp.ListToolsResult, error)
	CallTool(ctx context.Context, req sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// clientFactory constructs the underlying transport client for cfg; the
// production factory is dialDefaultClient, tests substitute a factory
// that returns a fake so no subprocess or network socket is ever touched.
type clientFactory func(cfg appconfig.UpstreamConfig, lookup func(string) (string, bool)) (mcpClient, error)

// Cataloger owns one upstream's live connection, its most recently
// fetched tool list, and the state machine tracking connection health. It
// implements catalog.ToolSource so the Retriever can sync directly from a
// live set of Catalogers.
type Cataloger struct {
	cfg     appconfig.UpstreamConfig
	factory clientFactory
	logger  *slog.Logger

	mu            sync.RWMutex
	state         State
	client        mcpClient
	tools         []catalog.CatalogedTool
	lastErr       error
	connected     time.Time
	serverName    string
	serverVersion string
}

// NewCataloger builds a Cataloger for cfg using the default mcp-go dial
// logic. Use newCatalogerWithFactory in tests to inject a fake client.
func NewCataloger(cfg appconfig.UpstreamConfig, logger *slog.Logger) *Cataloger {
	return newCatalogerWithFactory(cfg, dialDefaultClient, logger)
}

func newCatalogerWithFactory(cfg appconfig.UpstreamConfig, factory clientFactory, logger *slog.Logger) *Cataloger {
	return &Cataloger{
		cfg:     cfg,
		factory: factory,
		logger:  logger.With("upstream", cfg.Key),
		state:   StateDisconnected,
	}
}

// Key returns the upstream's configured key, satisfying catalog.ToolSource.
func (c *Cataloger) Key() string { return c.cfg.Key }

// CachedTools returns the most recently fetched tool list, satisfying
// catalog.ToolSource. Safe to call from any state; returns nil before the
// first successful fetch.
func (c *Cataloger) CachedTools() []catalog.CatalogedTool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]catalog.CatalogedTool, len(c.tools))
	copy(out, c.tools)
	return out
}

// State returns the current connection state.
func (c *Cataloger) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the error from the most recent failed dial or
// refresh, if any.
func (c *Cataloger) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// ConnectedAt returns the time of the most recent successful connect, or
// the zero time if the upstream has never connected.
func (c *Cataloger) ConnectedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Cataloger) setState(to State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := checkTransition(c.state, to); err != nil {
		c.logger.Debug("ignoring invalid state transition", "error", err)
		return
	}
	c.state = to
	if to == StateConnected {
		c.connected = time.Now()
	}
}

// Connect dials the upstream and performs the MCP initialize handshake.
// Idempotent: a no-op if already connected.
func (c *Cataloger) Connect(ctx context.Context, lookup func(string) (string, bool)) error {
	c.mu.RLock()
	alreadyConnected := c.state == StateConnected
	c.mu.RUnlock()
	if alreadyConnected {
		return nil
	}

	c.setState(StateConnecting)

	cli, err := c.factory(c.cfg, lookup)
	if err != nil {
		c.recordError(classifyDialError(err))
		return c.LastError()
	}

	initReq := sdkmcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = sdkmcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = sdkmcp.Implementation{Name: "mcp-squared", Version: "0.1.0"}
	initRes, err := cli.Initialize(ctx, initReq)
	if err != nil {
		_ = cli.Close()
		wrapped := classifyDialError(err)
		if wrapped.Subkind == mcperr.DialUnauthorized {
			c.setState(StateConnecting) // re-arm so auth_pending is a valid target
			c.setState(StateAuthPending)
			c.mu.Lock()
			c.lastErr = wrapped
			c.mu.Unlock()
			return wrapped
		}
		c.recordError(wrapped)
		return wrapped
	}

	c.mu.Lock()
	c.client = cli
	c.lastErr = nil
	if initRes != nil {
		c.serverName = initRes.ServerInfo.Name
		c.serverVersion = initRes.ServerInfo.Version
	}
	c.mu.Unlock()
	c.setState(StateConnected)
	return nil
}

// ServerInfo returns the name and version the upstream reported during
// the MCP initialize handshake, or empty strings before the first
// successful connect.
func (c *Cataloger) ServerInfo() (name, version string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverName, c.serverVersion
}

// Transport returns the configured transport kind ("stdio" or "http").
func (c *Cataloger) Transport() string {
	return string(c.cfg.Transport)
}

func (c *Cataloger) recordError(err *mcperr.Error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.setState(StateError)
}

func classifyDialError(err error) *mcperr.Error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "executable file not found"), strings.Contains(msg, "no such file"):
		return mcperr.WrapDial(mcperr.DialExecutableNotFound, "dial upstream", err)
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "403"):
		return mcperr.WrapDial(mcperr.DialUnauthorized, "dial upstream", err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return mcperr.WrapDial(mcperr.DialHandshakeTimeout, "dial upstream", err)
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no route to host"):
		return mcperr.WrapDial(mcperr.DialNetworkUnreachable, "dial upstream", err)
	case strings.Contains(msg, "certificate"), strings.Contains(msg, "tls"):
		return mcperr.WrapDial(mcperr.DialTLS, "dial upstream", err)
	default:
		return mcperr.WrapDial(mcperr.DialChildExited, "dial upstream", err)
	}
}

// Disconnect drops the cached tools and closes the underlying client, if
// any. The state moves to disconnected only when a client was held.
func (c *Cataloger) Disconnect() error {
	c.mu.Lock()
	cli := c.client
	c.client = nil
	c.tools = nil
	c.mu.Unlock()

	if cli == nil {
		return nil
	}
	c.setState(StateDisconnected)
	return cli.Close()
}

// Refresh re-fetches the tool list from the upstream and updates the
// cache. The caller is responsible for having called Connect first; a
// disconnected Cataloger returns an error rather than silently no-oping.
func (c *Cataloger) Refresh(ctx context.Context) error {
	c.mu.RLock()
	cli := c.client
	c.mu.RUnlock()
	if cli == nil {
		return mcperr.New(mcperr.CodeUpstreamToolListFailed, "refresh: "+c.cfg.Key+" is not connected")
	}

	res, err := cli.ListTools(ctx, sdkmcp.ListToolsRequest{})
	if err != nil {
		wrapped := mcperr.Wrap(mcperr.CodeUpstreamToolListFailed, "list tools for "+c.cfg.Key, err)
		c.recordError(wrapped)
		return wrapped
	}

	fetched := make([]catalog.CatalogedTool, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = json.RawMessage(`{}`)
		}
		fetched = append(fetched, catalog.CatalogedTool{
			UpstreamKey: c.cfg.Key,
			ToolName:    t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	c.mu.Lock()
	c.tools = fetched
	c.mu.Unlock()
	return nil
}

// CallTool invokes name on the upstream with args and returns the
// concatenated text content of the response.
func (c *Cataloger) CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	c.mu.RLock()
	cli := c.client
	c.mu.RUnlock()
	if cli == nil {
		return "", false, mcperr.New(mcperr.CodeUpstreamCallFailed, "call "+name+": "+c.cfg.Key+" is not connected")
	}

	req := sdkmcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := cli.CallTool(ctx, req)
	if err != nil {
		return "", false, mcperr.Wrap(mcperr.CodeUpstreamCallFailed, fmt.Sprintf("call %s on %s", name, c.cfg.Key), err)
	}

	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(sdkmcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n"), result.IsError, nil
}

// Ping checks liveness of an already-connected client.
func (c *Cataloger) Ping(ctx context.Context) error {
	c.mu.RLock()
	cli := c.client
	c.mu.RUnlock()
	if cli == nil {
		return mcperr.New(mcperr.CodeUpstreamDialFailed, c.cfg.Key+" is not connected")
	}
	return cli.Ping(ctx)
}

// dialDefaultClient builds the real mcp-go client for cfg, expanding
// environment variable references in stdio env and HTTP headers per
// appconfig's $NAME/${NAME} substitution rule. References that do not
// resolve are passed on verbatim; the unresolved-name report is discarded.
func dialDefaultClient(cfg appconfig.UpstreamConfig, lookup func(string) (string, bool)) (mcpClient, error) {
	switch cfg.Transport {
	case appconfig.TransportStdio:
		env, _ := cfg.ResolveEnv(lookup)
		envPairs := make([]string, 0, len(env))
		for k, v := range env {
			envPairs = append(envPairs, k+"="+v)
		}
		cli, err := sdkclient.NewStdioMCPClient(cfg.Command, envPairs, cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("start stdio upstream %s: %w", cfg.Key, err)
		}
		return cli, nil

	case appconfig.TransportHTTP:
		headers := make(map[string]string, len(cfg.Headers))
		for k, v := range cfg.Headers {
			headers[k] = appconfig.ExpandString(v, lookup)
		}
		opts := []transport.StreamableHTTPCOption{
			transport.WithContinuousListening(),
			transport.WithHTTPHeaders(headers),
		}
		cli, err := sdkclient.NewStreamableHttpClient(cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("create http client for %s: %w", cfg.Key, err)
		}
		return cli, nil

	default:
		return nil, fmt.Errorf("unknown transport %q for upstream %s", cfg.Transport, cfg.Key)
	}
}
