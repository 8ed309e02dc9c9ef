package toolfed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nimbusworks/aviary/internal/apperr"
)

// invokeTimeout caps a single remote tool invocation.
const invokeTimeout = 60 * time.Second

// bridgeTool adapts a remote MCP tool to the Tool interface. Arguments are
// validated against the server-declared schema before the call goes out.
type bridgeTool struct {
	server      string
	name        string
	description string
	schema      map[string]any
	compiled    *jsonschema.Schema
	client      *mcpclient.Client
}

func newBridgeTool(server string, def mcpgo.Tool, client *mcpclient.Client) (*bridgeTool, error) {
	schemaJSON, err := json.Marshal(def.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", def.Name, err)
	}
	var schema map[string]any
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", def.Name, err)
	}

	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("mcp://%s/%s", server, def.Name)
	if err := compiler.AddResource(resource, strings.NewReader(string(schemaJSON))); err != nil {
		return nil, fmt.Errorf("add schema resource for %s: %w", def.Name, err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", def.Name, err)
	}

	return &bridgeTool{
		server:      server,
		name:        def.Name,
		description: def.Description,
		schema:      schema,
		compiled:    compiled,
		client:      client,
	}, nil
}

func (b *bridgeTool) Name() string              { return b.name }
func (b *bridgeTool) Description() string       { return b.description }
func (b *bridgeTool) ArgSchema() map[string]any { return b.schema }

func (b *bridgeTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	if err := b.compiled.Validate(args); err != nil {
		return "", apperr.Wrap(apperr.ToolFatalError, fmt.Sprintf("tool %s: invalid arguments", b.name), err)
	}

	ctx, cancel := context.WithTimeout(ctx, invokeTimeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.name
	req.Params.Arguments = args

	result, err := b.client.CallTool(ctx, req)
	if err != nil {
		// Transport-level failures may clear on retry.
		return "", apperr.Wrap(apperr.ToolTransientError, fmt.Sprintf("tool %s: call failed", b.name), err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		// The tool itself reported failure; retrying will not help.
		return "", apperr.Newf(apperr.ToolFatalError, "tool %s: %s", b.name, text)
	}
	return text, nil
}

// flattenContent joins the textual parts of a tool result.
func flattenContent(content []mcpgo.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := mcpgo.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
