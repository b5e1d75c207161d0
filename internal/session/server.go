package session

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aditzel/mcp-squared/internal/appconfig"
	"github.com/aditzel/mcp-squared/internal/catalog"
	"github.com/aditzel/mcp-squared/internal/policy"
	"github.com/aditzel/mcp-squared/internal/upstream"
)

// UpstreamHandle is the narrow view of one live upstream connection the
// session server needs: its key, state, cached tools, and the ability to
// invoke a tool once the policy engine has allowed it. upstream.Cataloger
// satisfies this structurally; tests substitute a fake so the session
// package never needs to dial a real upstream.
type UpstreamHandle interface {
	Key() string
	State() upstream.State
	CachedTools() []catalog.CatalogedTool
	CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error)
	ServerInfo() (name, version string)
	Transport() string
}

// ToolCaller is the narrow slice of upstream.Registry the session server
// needs to look up and execute tools on live upstreams.
type ToolCaller interface {
	Get(key string) (UpstreamHandle, bool)
	All() []UpstreamHandle
}

// Server wraps one mark3labs/mcp-go server.MCPServer exposing exactly the
// five meta-tools from spec section 4.3, backed by a shared Retriever,
// policy Engine, and live upstream Registry. One Server instance is
// shared across all client sessions; mcp-go's own session machinery
// (server.ClientSession) is what the teacher's hooks log against, so this
// type keeps no per-client state beyond a bounded recent-execution window
// used for co-occurrence tracking.
type Server struct {
	MCP *server.MCPServer

	retriever *catalog.Retriever
	registry  ToolCaller
	engine    *policy.Engine
	cfg       *appconfig.Config
	logger    *slog.Logger

	mu           sync.Mutex
	recentExecs  []string
	execWindow   int
	summarizer   ToolSummarizer
}

// ToolSummarizer is the narrow view of internal/llmsummary's Summarizer
// the session server needs, kept local so this package never imports
// llmsummary (and, through it, any-llm-go) directly.
type ToolSummarizer interface {
	Summarize(ctx context.Context, toolName, description string, inputSchema []byte) (string, error)
}

// NewServer builds a Server. cfg is read for operations.findTools
// defaults and is expected to be swapped out wholesale (not mutated) on
// config reload, so the Server always reads through a pointer obtained
// fresh from the appconfig.Watcher.
func NewServer(retriever *catalog.Retriever, registry ToolCaller, engine *policy.Engine, cfg *appconfig.Config, logger *slog.Logger) *Server {
	s := &Server{
		retriever:  retriever,
		registry:   registry,
		engine:     engine,
		cfg:        cfg,
		logger:     logger.With("component", "session-server"),
		execWindow: 5,
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, session server.ClientSession) {
		s.logger.Info("client session connected", "sessionID", session.SessionID())
	})
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.logger.Info("client session disconnected", "sessionID", session.SessionID())
	})
	hooks.AddBeforeAny(func(_ context.Context, _ any, method mcp.MCPMethod, _ any) {
		s.logger.Debug("processing request", "method", method)
	})
	hooks.AddOnError(func(_ context.Context, _ any, method mcp.MCPMethod, _ any, err error) {
		s.logger.Warn("request error", "method", method, "error", err)
	})

	s.MCP = server.NewMCPServer(
		"mcp-squared",
		"0.1.0",
		server.WithHooks(hooks),
		server.WithToolCapabilities(false),
	)

	s.registerMetaTools()
	return s
}

// ServeStdio bridges a single MCP session directly over stdin/stdout
// with no Daemon IPC framing, for the `server --stdio` subcommand where
// the client process spawns the broker itself. Grounded on
// theRebelliousNerd-browserNerd's mcpserver.NewStdioServer(s.mcpServer)
// + .Listen(ctx, in, out) wiring, the same entry point internal/daemon
// generalizes to one pipe pair per connected session.
func ServeStdio(ctx context.Context, s *Server, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.MCP).Listen(ctx, in, out)
}

// SetSummarizer wires an optional LLM-backed explanation generator into
// describe_tools' full detail level. A nil summarizer (the default)
// leaves describe_tools returning the raw upstream description only.
func (s *Server) SetSummarizer(summarizer ToolSummarizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summarizer = summarizer
}

func (s *Server) toolSummarizer() ToolSummarizer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summarizer
}

// SetConfig swaps the config pointer this server reads defaults from,
// called by the appconfig.Watcher's Observer callback on every reload.
func (s *Server) SetConfig(cfg *appconfig.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func (s *Server) config() *appconfig.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Server) recordExecution(qualifiedName string) {
	s.mu.Lock()
	window := append(s.recentExecs, qualifiedName)
	if len(window) > s.execWindow {
		window = window[len(window)-s.execWindow:]
	}
	s.recentExecs = window
	s.mu.Unlock()

	if s.retriever != nil && len(window) >= 2 {
		_ = s.retriever.RecordExecution(context.Background(), window)
	}
}

// RegistryAdapter adapts an *upstream.Registry to ToolCaller: the
// registry's methods return the concrete *upstream.Cataloger, which
// satisfies UpstreamHandle structurally, but Go does not implicitly
// convert a []*upstream.Cataloger to []UpstreamHandle, so this adapter
// does it explicitly at the one production call site.
type RegistryAdapter struct {
	Registry *upstream.Registry
}

func (a RegistryAdapter) Get(key string) (UpstreamHandle, bool) {
	c, ok := a.Registry.Get(key)
	if !ok {
		return nil, false
	}
	return c, true
}

func (a RegistryAdapter) All() []UpstreamHandle {
	all := a.Registry.All()
	out := make([]UpstreamHandle, len(all))
	for i, c := range all {
		out[i] = c
	}
	return out
}

func (s *Server) registerMetaTools() {
	s.MCP.AddTool(findToolsSchema(), s.handleFindTools)
	s.MCP.AddTool(describeToolsSchema(), s.handleDescribeTools)
	s.MCP.AddTool(executeSchema(), s.handleExecute)
	s.MCP.AddTool(listNamespacesSchema(), s.handleListNamespaces)
	s.MCP.AddTool(clearSelectionCacheSchema(), s.handleClearSelectionCache)
}
