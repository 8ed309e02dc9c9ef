package toolfed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nimbusworks/aviary/internal/store"
)

const (
	discoveryAttempts = 3
	discoveryBackoff  = 2 * time.Second
)

// ServerConfig is the endpoint description stored in a tool record.
type ServerConfig struct {
	URL       string            `json:"url,omitempty"`
	Transport string            `json:"transport,omitempty"` // "stdio", "sse" or "streamable-http"
	Headers   map[string]string `json:"headers,omitempty"`
	Command   string            `json:"command,omitempty"` // stdio only
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Federation holds the live connections behind one agent's tool set.
// Servers are isolated: one failing server removes only its own tools.
type Federation struct {
	set *ToolSet

	mu      sync.Mutex
	clients map[string]*mcpclient.Client
}

// NewFederation creates a federation with an empty tool set.
func NewFederation() *Federation {
	return &Federation{
		set:     NewToolSet(),
		clients: make(map[string]*mcpclient.Client),
	}
}

// Tools returns the federated tool set.
func (f *Federation) Tools() *ToolSet { return f.set }

// ConnectAll connects every tool server and registers its discovered tools.
// Failures are logged per server and do not abort the rest.
func (f *Federation) ConnectAll(ctx context.Context, tools []*store.Tool) {
	for _, t := range tools {
		if err := f.Connect(ctx, t); err != nil {
			slog.Warn("toolfed.server.connect_failed", "server", t.Name, "error", err)
		}
	}
}

// Connect connects a single tool server, retrying discovery with exponential
// backoff before giving up.
func (f *Federation) Connect(ctx context.Context, t *store.Tool) error {
	var cfg ServerConfig
	if len(t.Config) > 0 {
		if err := json.Unmarshal(t.Config, &cfg); err != nil {
			return fmt.Errorf("decode server config: %w", err)
		}
	}
	if cfg.Transport == "stdio" {
		if cfg.Command == "" {
			return fmt.Errorf("server %s: missing command", t.Name)
		}
	} else if cfg.URL == "" {
		return fmt.Errorf("server %s: missing url", t.Name)
	}

	var lastErr error
	for attempt := 1; attempt <= discoveryAttempts; attempt++ {
		if attempt > 1 {
			backoff := discoveryBackoff * time.Duration(1<<(attempt-2))
			slog.Info("toolfed.server.retrying",
				"server", t.Name,
				"attempt", attempt,
				"backoff", backoff,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := f.connectOnce(ctx, t.Name, cfg); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("server %s: discovery failed after %d attempts: %w", t.Name, discoveryAttempts, lastErr)
}

func (f *Federation) connectOnce(ctx context.Context, name string, cfg ServerConfig) error {
	client, err := createClient(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	if err := client.Start(ctx); err != nil {
		_ = client.Close()
		return fmt.Errorf("start transport: %w", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{
		Name:    "aviary",
		Version: "1.0.0",
	}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	toolsResult, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	var registered []string
	for _, def := range toolsResult.Tools {
		if f.set.Has(def.Name) {
			slog.Warn("toolfed.tool.name_collision",
				"server", name,
				"tool", def.Name,
				"action", "skipped",
			)
			continue
		}
		bt, err := newBridgeTool(name, def, client)
		if err != nil {
			slog.Warn("toolfed.tool.schema_invalid", "server", name, "tool", def.Name, "error", err)
			continue
		}
		f.set.Register(bt)
		registered = append(registered, def.Name)
	}

	f.mu.Lock()
	if old, ok := f.clients[name]; ok {
		_ = old.Close()
	}
	f.clients[name] = client
	f.mu.Unlock()

	slog.Info("toolfed.server.connected",
		"server", name,
		"transport", cfg.Transport,
		"tools", len(registered),
	)
	return nil
}

// Close shuts down all server connections.
func (f *Federation) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, client := range f.clients {
		if err := client.Close(); err != nil {
			slog.Debug("toolfed.server.close_error", "server", name, "error", err)
		}
	}
	f.clients = make(map[string]*mcpclient.Client)
}

func createClient(cfg ServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio":
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(cfg.Headers))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)
	case "", "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported transport: %q", cfg.Transport)
	}
}
