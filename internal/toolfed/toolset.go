// Package toolfed federates remote tool servers into a per-agent tool set.
// Tools are discovered over MCP, optionally wrapped with credential
// injection, and exposed to the model layer as provider tool definitions.
package toolfed

import (
	"context"
	"sort"
	"sync"

	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/providers"
)

// Tool is a single invocable tool.
type Tool interface {
	Name() string
	Description() string
	// ArgSchema returns the JSON Schema for the tool's arguments.
	ArgSchema() map[string]any
	// Invoke runs the tool and returns its textual output.
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// ToolSet is a concurrency-safe named collection of tools.
type ToolSet struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolSet creates an empty tool set.
func NewToolSet() *ToolSet {
	return &ToolSet{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (s *ToolSet) Register(t Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[t.Name()] = t
}

// Get returns the named tool.
func (s *ToolSet) Get(name string) (Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	return t, ok
}

// Has reports whether the named tool is registered.
func (s *ToolSet) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Names returns the registered tool names, sorted.
func (s *ToolSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (s *ToolSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tools)
}

// Invoke runs the named tool. An unknown name is a ToolNotFound error.
func (s *ToolSet) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := s.Get(name)
	if !ok {
		return "", apperr.Newf(apperr.ToolNotFound, "tool %q is not registered", name)
	}
	return t.Invoke(ctx, args)
}

// Definitions returns the tools as provider definitions, sorted by name.
func (s *ToolSet) Definitions() []providers.ToolDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(s.tools))
	for _, t := range s.tools {
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.ArgSchema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
