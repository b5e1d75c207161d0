package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aditzel/mcp-squared/internal/catalog"
	"github.com/aditzel/mcp-squared/internal/policy"
	"github.com/aditzel/mcp-squared/internal/upstream"
)

func findToolsSchema() mcp.Tool {
	return mcp.NewToolWithRawSchema("find_tools",
		"Search the unified tool catalog across every connected upstream MCP server. Returns tools matching the query, filtered to what the caller is allowed to see.",
		[]byte(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Free-text search over tool names and descriptions."},
				"limit": {"type": "integer", "description": "Maximum number of results to return."},
				"mode": {"type": "string", "enum": ["fast", "semantic", "hybrid"], "description": "Ranking strategy."},
				"namespace": {"type": "string", "description": "Restrict results to one upstream's namespace."},
				"detailLevel": {"type": "string", "enum": ["L1", "L2"], "description": "L2 includes each result's input schema; L1 (default) omits it."}
			},
			"required": ["query"]
		}`))
}

func describeToolsSchema() mcp.Tool {
	return mcp.NewToolWithRawSchema("describe_tools",
		"Fetch full details (input schema, description) for one or more tools already discovered via find_tools.",
		[]byte(`{
			"type": "object",
			"properties": {
				"names": {"type": "array", "items": {"type": "string"}, "description": "Qualified or bare tool names."},
				"detailLevel": {"type": "string", "enum": ["L1", "L2", "full"], "description": "How much of the input schema to include."}
			},
			"required": ["names"]
		}`))
}

func executeSchema() mcp.Tool {
	return mcp.NewToolWithRawSchema("execute",
		"Invoke a tool on its upstream MCP server, subject to the broker's security policy. May return a confirmation token that must be replayed to actually run the tool.",
		[]byte(`{
			"type": "object",
			"properties": {
				"tool": {"type": "string", "description": "Qualified or bare tool name to invoke."},
				"arguments": {"type": "object", "description": "Arguments to pass to the tool."},
				"confirmationToken": {"type": "string", "description": "Token from a prior confirm-required response."}
			},
			"required": ["tool"]
		}`))
}

func listNamespacesSchema() mcp.Tool {
	return mcp.NewToolWithRawSchema("list_namespaces",
		"List every connected upstream MCP server's namespace key, label, connection state, and tool count.",
		[]byte(`{"type": "object", "properties": {}}`))
}

func clearSelectionCacheSchema() mcp.Tool {
	return mcp.NewToolWithRawSchema("clear_selection_cache",
		"Reset all outstanding confirmation tokens and co-occurrence suggestion history.",
		[]byte(`{"type": "object", "properties": {}}`))
}

type findToolsResult struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	Score                float64         `json:"score"`
	RequiresConfirmation bool            `json:"requiresConfirmation"`
	UpstreamKey          string          `json:"upstreamKey"`
	InputSchema          json.RawMessage `json:"inputSchema,omitempty"`
}

type findToolsResponse struct {
	Tools        []findToolsResult `json:"tools"`
	Query        string            `json:"query"`
	TotalMatches int               `json:"totalMatches"`
	Suggestions  []string          `json:"suggestions,omitempty"`
}

func (s *Server) handleFindTools(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := requestArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query must not be empty"), nil
	}

	cfg := s.config()
	limit := cfg.Operations.FindTools.DefaultLimit
	if raw, ok := args["limit"].(float64); ok && int(raw) > 0 {
		limit = int(raw)
	}
	if limit > cfg.Operations.FindTools.MaxLimit {
		limit = cfg.Operations.FindTools.MaxLimit
	}

	mode := catalog.SearchMode(cfg.Operations.FindTools.DefaultMode)
	if raw, ok := args["mode"].(string); ok && raw != "" {
		mode = catalog.SearchMode(raw)
	}

	detailLevel, _ := args["detailLevel"].(string)
	if detailLevel == "" {
		detailLevel = "L1"
	}

	namespace, _ := args["namespace"].(string)

	hits, err := s.retriever.Search(ctx, query, mode, limit*3+10)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	results := make([]findToolsResult, 0, limit)
	matchedNames := make([]string, 0, limit)
	for _, hit := range hits {
		if len(results) >= limit {
			break
		}
		if namespace != "" && hit.Tool.UpstreamKey != namespace {
			continue
		}
		vis := s.engine.VisibilityOf(hit.Tool.UpstreamKey, hit.Tool.ToolName)
		if !vis.Visible {
			continue
		}
		r := findToolsResult{
			Name:                 hit.Tool.QualifiedName(),
			Description:          SanitizeDescription(hit.Tool.Description),
			Score:                hit.Score,
			RequiresConfirmation: vis.RequiresConfirmation,
			UpstreamKey:          hit.Tool.UpstreamKey,
		}
		if detailLevel == "L2" {
			r.InputSchema = hit.Tool.InputSchema
		}
		results = append(results, r)
		matchedNames = append(matchedNames, r.Name)
	}

	totalMatches, err := s.retriever.CountMatches(ctx, query)
	if err != nil {
		s.logger.Warn("find_tools count failed", "error", err)
		totalMatches = len(results)
	}

	var suggestions []string
	if cfg.Operations.SelectionCache.Enabled && len(matchedNames) > 0 {
		suggestions, err = s.retriever.SuggestBundles(ctx, matchedNames,
			cfg.Operations.SelectionCache.MinCooccurrenceThreshold,
			cfg.Operations.SelectionCache.MaxBundleSuggestions)
		if err != nil {
			s.logger.Warn("find_tools suggestions failed", "error", err)
			suggestions = nil
		}
	}

	payload, _ := json.Marshal(findToolsResponse{
		Tools:        results,
		Query:        query,
		TotalMatches: totalMatches,
		Suggestions:  suggestions,
	})
	return mcp.NewToolResultText(string(payload)), nil
}

type describeToolsResult struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Summary     string          `json:"summary,omitempty"`
}

type ambiguousResult struct {
	Name         string   `json:"name"`
	Alternatives []string `json:"alternatives"`
}

type describeToolsResponse struct {
	Tools     []describeToolsResult `json:"tools"`
	Ambiguous []ambiguousResult     `json:"ambiguous"`
}

func (s *Server) handleDescribeTools(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := requestArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	names := stringSliceArg(args["names"])
	if len(names) == 0 {
		return mcp.NewToolResultError("names must not be empty"), nil
	}
	detailLevel, _ := args["detailLevel"].(string)
	if detailLevel == "" {
		detailLevel = s.config().Operations.FindTools.DefaultDetailLevel
	}

	resolved, err := s.retriever.GetTools(ctx, names)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("describe failed: %v", err)), nil
	}

	out := make([]describeToolsResult, 0, len(resolved.Tools))
	for _, t := range resolved.Tools {
		vis := s.engine.VisibilityOf(t.UpstreamKey, t.ToolName)
		if !vis.Visible {
			continue
		}
		d := describeToolsResult{
			Name:        t.QualifiedName(),
			Description: SanitizeDescription(t.Description),
		}
		if detailLevel != "L1" {
			d.InputSchema = t.InputSchema
		}
		if detailLevel == "full" && s.config().Operations.Summarize.Enabled {
			if summarizer := s.toolSummarizer(); summarizer != nil {
				if summary, err := summarizer.Summarize(ctx, d.Name, t.Description, t.InputSchema); err == nil {
					d.Summary = summary
				} else {
					s.logger.Warn("tool summarization failed", "tool", d.Name, "error", err)
				}
			}
		}
		out = append(out, d)
	}

	ambiguous := make([]ambiguousResult, 0, len(resolved.Ambiguous))
	for _, a := range resolved.Ambiguous {
		ambiguous = append(ambiguous, ambiguousResult{Name: a.Name, Alternatives: a.Alternatives})
	}

	payload, _ := json.Marshal(describeToolsResponse{Tools: out, Ambiguous: ambiguous})
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := requestArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	toolName, _ := args["tool"].(string)
	if toolName == "" {
		return mcp.NewToolResultError("tool must not be empty"), nil
	}
	token, _ := args["confirmationToken"].(string)
	arguments, _ := args["arguments"].(map[string]interface{})

	upstreamKey, bareName, ok := catalog.SplitQualifiedName(toolName)
	if !ok {
		resolved, found, ambiguous, alternatives, err := s.retriever.GetTool(ctx, toolName)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("resolve tool failed: %v", err)), nil
		}
		if ambiguous {
			payload, _ := json.Marshal(map[string]any{
				"tool":         "none",
				"ambiguous":    true,
				"alternatives": alternatives,
			})
			return mcp.NewToolResultText(string(payload)), nil
		}
		if !found {
			return mcp.NewToolResultError("tool not found: " + toolName), nil
		}
		upstreamKey, bareName = resolved.UpstreamKey, resolved.ToolName
	}

	decision := s.engine.Evaluate(upstreamKey, bareName, token)
	switch decision.Decision {
	case policy.DecisionBlock:
		return mcp.NewToolResultError("blocked: " + decision.Reason), nil
	case policy.DecisionConfirm:
		payload, _ := json.Marshal(map[string]string{
			"status":            "confirmation_required",
			"confirmationToken": decision.Token,
			"reason":            decision.Reason,
		})
		return mcp.NewToolResultText(string(payload)), nil
	}

	cataloger, ok := s.registry.Get(upstreamKey)
	if !ok {
		return mcp.NewToolResultError("upstream not connected: " + upstreamKey), nil
	}

	text, isToolErr, err := cataloger.CallTool(ctx, bareName, arguments)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.recordExecution(upstreamKey + ":" + bareName)

	if isToolErr {
		return mcp.NewToolResultError(text), nil
	}
	return mcp.NewToolResultText(text), nil
}

type namespaceInfo struct {
	Key           string `json:"key"`
	State         string `json:"state"`
	ToolCount     int    `json:"toolCount"`
	ServerName    string `json:"serverName,omitempty"`
	ServerVersion string `json:"serverVersion,omitempty"`
	Transport     string `json:"transport"`
	AuthPending   bool   `json:"authPending"`
}

type listNamespacesResult struct {
	Namespaces []namespaceInfo     `json:"namespaces"`
	Conflicts  map[string][]string `json:"conflicts"`
}

func (s *Server) handleListNamespaces(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var infos []namespaceInfo
	for _, c := range s.registry.All() {
		name, version := c.ServerInfo()
		infos = append(infos, namespaceInfo{
			Key:           c.Key(),
			State:         string(c.State()),
			ToolCount:     len(c.CachedTools()),
			ServerName:    name,
			ServerVersion: version,
			Transport:     c.Transport(),
			AuthPending:   c.State() == upstream.StateAuthPending,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	conflicts, err := s.retriever.ConflictingNames(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list namespaces failed: %v", err)), nil
	}

	payload, _ := json.Marshal(listNamespacesResult{Namespaces: infos, Conflicts: conflicts})
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleClearSelectionCache(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tokensCleared := s.engine.ClearConfirmations()
	pairsCleared, err := s.retriever.ClearSelectionCache(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("clear failed: %v", err)), nil
	}

	s.mu.Lock()
	s.recentExecs = nil
	s.mu.Unlock()

	payload, _ := json.Marshal(map[string]int{
		"confirmationTokensCleared": tokensCleared,
		"cooccurrencePairsCleared":  pairsCleared,
	})
	return mcp.NewToolResultText(string(payload)), nil
}

func requestArgs(req mcp.CallToolRequest) (map[string]interface{}, error) {
	if req.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	m, ok := req.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected arguments shape")
	}
	return m, nil
}

func stringSliceArg(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
