package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ajitpratap0/transcript-mcp/pkg/protocol"
)

// ErrToolNotFound is returned by CallTool for unregistered names.
var ErrToolNotFound = errors.New("tool not found")

// ToolsProvider defines the interface for providing tools functionality
type ToolsProvider interface {
	// ListTools returns the available tools
	ListTools(ctx context.Context) ([]protocol.Tool, error)

	// CallTool executes a tool and returns the result
	CallTool(ctx context.Context, name string, args json.RawMessage) (*protocol.CallToolResult, error)
}

// ToolHandler runs one tool. Failures the caller should see belong in an
// isError result; a returned error is an internal fault.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error)

type registeredTool struct {
	tool    protocol.Tool
	handler ToolHandler
}

// BaseToolsProvider provides a simple implementation of ToolsProvider
type BaseToolsProvider struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
	order []string
}

// NewBaseToolsProvider creates a new BaseToolsProvider
func NewBaseToolsProvider() *BaseToolsProvider {
	return &BaseToolsProvider{
		tools: make(map[string]registeredTool),
	}
}

// RegisterTool registers a tool. Registering a name again replaces it.
func (p *BaseToolsProvider) RegisterTool(tool protocol.Tool, handler ToolHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.tools[tool.Name]; !exists {
		p.order = append(p.order, tool.Name)
	}
	p.tools[tool.Name] = registeredTool{tool: tool, handler: handler}
}

// ListTools returns all registered tools in registration order
func (p *BaseToolsProvider) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tools := make([]protocol.Tool, 0, len(p.order))
	for _, name := range p.order {
		tools = append(tools, p.tools[name].tool)
	}
	return tools, nil
}

// CallTool executes a tool and returns the result
func (p *BaseToolsProvider) CallTool(ctx context.Context, name string, args json.RawMessage) (*protocol.CallToolResult, error) {
	p.mu.RLock()
	rt, ok := p.tools[name]
	p.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if rt.handler == nil {
		return nil, fmt.Errorf("tool %s has no handler", name)
	}
	return rt.handler(ctx, args)
}
