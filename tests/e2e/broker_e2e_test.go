// Package e2e drives mcp-squared end to end over the real MCP wire
// protocol: a fixture upstream served over streamable HTTP, the broker's
// own session Server dialing it exactly as production code does, and a
// real mcp-go client calling the five meta-tools against the broker's
// own streamable HTTP endpoint.
package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	sdkclient "github.com/mark3labs/mcp-go/client"
	sdkmcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aditzel/mcp-squared/internal/appconfig"
	"github.com/aditzel/mcp-squared/internal/catalog"
	"github.com/aditzel/mcp-squared/internal/policy"
	"github.com/aditzel/mcp-squared/internal/session"
	"github.com/aditzel/mcp-squared/internal/testfixture"
	"github.com/aditzel/mcp-squared/internal/upstream"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func callTool(ctx context.Context, cli *sdkclient.Client, name string, args map[string]any) *sdkmcp.CallToolResult {
	req := sdkmcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := cli.CallTool(ctx, req)
	Expect(err).NotTo(HaveOccurred())
	return result
}

func resultText(result *sdkmcp.CallToolResult) string {
	ExpectWithOffset(1, result.Content).NotTo(BeEmpty())
	tc, ok := result.Content[0].(sdkmcp.TextContent)
	ExpectWithOffset(1, ok).To(BeTrue())
	return tc.Text
}

var _ = Describe("broker meta-tools against a real upstream", func() {
	var (
		ctx        context.Context
		cancel     context.CancelFunc
		upstreamTS *httptest.Server
		brokerTS   *httptest.Server
		registry   *upstream.Registry
		retriever  *catalog.Retriever
		client     *sdkclient.Client
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)

		upstreamTS = httptest.NewServer(testfixture.NewHandler())

		cfg := &appconfig.Config{
			Upstreams: map[string]*appconfig.UpstreamConfig{
				"fixture": {
					Key:       "fixture",
					Label:     "fixture",
					Enabled:   true,
					Transport: appconfig.TransportHTTP,
					URL:       upstreamTS.URL + "/mcp",
				},
			},
		}
		cfg.ApplyDefaults()
		cfg.Permissive()

		store, err := catalog.Open(":memory:")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = store.Close() })

		retriever = catalog.NewRetriever(store, catalog.NoopEmbeddingGenerator{})

		policyCfg, err := policy.Compile(cfg.Security.Allow, cfg.Security.Block, cfg.Security.Confirm)
		Expect(err).NotTo(HaveOccurred())
		engine := policy.NewEngine(policyCfg)

		logger := discardLogger()
		registry = upstream.NewRegistry(logger, func(string) (string, bool) { return "", false })
		registry.Configure(cfg)

		Expect(registry.DialAll(ctx)).To(Succeed())
		_, err = retriever.SyncFromCataloger(ctx, registry.Sources())
		Expect(err).NotTo(HaveOccurred())

		sessionServer := session.NewServer(retriever, session.RegistryAdapter{Registry: registry}, engine, cfg, logger)

		mux := http.NewServeMux()
		mux.Handle("/mcp", server.NewStreamableHTTPServer(sessionServer.MCP))
		brokerTS = httptest.NewServer(mux)

		client, err = sdkclient.NewStreamableHttpClient(brokerTS.URL + "/mcp")
		Expect(err).NotTo(HaveOccurred())

		initReq := sdkmcp.InitializeRequest{}
		initReq.Params.ProtocolVersion = sdkmcp.LATEST_PROTOCOL_VERSION
		initReq.Params.ClientInfo = sdkmcp.Implementation{Name: "e2e-test", Version: "0.0.1"}
		_, err = client.Initialize(ctx, initReq)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = client.Close()
		brokerTS.Close()
		registry.Shutdown()
		upstreamTS.Close()
		cancel()
	})

	It("discovers the fixture upstream's tools via find_tools", func() {
		result := callTool(ctx, client, "find_tools", map[string]any{"query": "echo"})
		var found struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		}
		Expect(json.Unmarshal([]byte(resultText(result)), &found)).To(Succeed())

		var names []string
		for _, h := range found.Tools {
			names = append(names, h.Name)
		}
		Expect(names).To(ContainElement("fixture:echo"))
	})

	It("executes a discovered tool end to end", func() {
		result := callTool(ctx, client, "execute", map[string]any{
			"tool":      "fixture:echo",
			"arguments": map[string]any{"text": "hello from e2e"},
		})
		Expect(result.IsError).To(BeFalse())
		Expect(resultText(result)).To(Equal("hello from e2e"))
	})

	It("lists the fixture upstream as a connected namespace", func() {
		result := callTool(ctx, client, "list_namespaces", map[string]any{})
		var listed struct {
			Namespaces []struct {
				Key       string `json:"key"`
				State     string `json:"state"`
				ToolCount int    `json:"toolCount"`
			} `json:"namespaces"`
		}
		Expect(json.Unmarshal([]byte(resultText(result)), &listed)).To(Succeed())
		namespaces := listed.Namespaces
		Expect(namespaces).To(HaveLen(1))
		Expect(namespaces[0].Key).To(Equal("fixture"))
		Expect(namespaces[0].State).To(Equal("connected"))
		Expect(namespaces[0].ToolCount).To(Equal(3))
	})

	It("clears the selection cache without error", func() {
		_ = callTool(ctx, client, "execute", map[string]any{
			"tool":      "fixture:echo",
			"arguments": map[string]any{"text": "warm the cache"},
		})
		result := callTool(ctx, client, "clear_selection_cache", map[string]any{})
		Expect(result.IsError).To(BeFalse())
	})
})
