package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aditzel/mcp-squared/internal/upstream"
)

// StatusResponse is the /status HTTP handler's reply, the MCP-adjacent
// analogue of list_namespaces: per-upstream connection state plus a
// summary roll-up. Grounded directly on the teacher's own
// broker.StatusResponse/ValidateAllServers shape.
type StatusResponse struct {
	Upstreams        []UpstreamView `json:"upstreams"`
	OverallHealthy   bool           `json:"overallHealthy"`
	TotalUpstreams   int            `json:"totalUpstreams"`
	HealthyUpstreams int            `json:"healthyUpstreams"`
	Timestamp        time.Time      `json:"timestamp"`
}

// StatusHandler serves GET /status and GET /status/<upstreamKey>.
type StatusHandler struct {
	upstreams *upstream.Registry
	logger    *slog.Logger
}

// NewStatusHandler builds a StatusHandler over reg.
func NewStatusHandler(reg *upstream.Registry, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{upstreams: reg, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "method not allowed; GET only")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/status")
	if key := strings.TrimPrefix(path, "/"); key != "" && path != "/" {
		h.serveOne(w, key)
		return
	}
	h.sendJSON(w, http.StatusOK, h.validateAll())
}

func (h *StatusHandler) serveOne(w http.ResponseWriter, key string) {
	resp := h.validateAll()
	for _, u := range resp.Upstreams {
		if u.Key == key {
			h.sendJSON(w, http.StatusOK, u)
			return
		}
	}
	h.sendError(w, http.StatusNotFound, fmt.Sprintf("upstream %q not found", key))
}

func (h *StatusHandler) validateAll() StatusResponse {
	resp := StatusResponse{Timestamp: time.Now()}
	for _, c := range h.upstreams.All() {
		var lastErr string
		if err := c.LastError(); err != nil {
			lastErr = err.Error()
		}
		healthy := c.State() == upstream.StateConnected
		resp.Upstreams = append(resp.Upstreams, UpstreamView{
			Key:         c.Key(),
			State:       string(c.State()),
			LastError:   lastErr,
			ToolCount:   len(c.CachedTools()),
			ConnectedAt: c.ConnectedAt(),
		})
		resp.TotalUpstreams++
		if healthy {
			resp.HealthyUpstreams++
		}
	}
	resp.OverallHealthy = resp.TotalUpstreams > 0 && resp.HealthyUpstreams == resp.TotalUpstreams
	return resp
}

func (h *StatusHandler) sendJSON(w http.ResponseWriter, code int, data any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode status response", "error", err)
	}
}

func (h *StatusHandler) sendError(w http.ResponseWriter, code int, msg string) {
	h.sendJSON(w, code, map[string]string{"error": msg})
}
