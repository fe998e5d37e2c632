package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/ajitpratap0/transcript-mcp/pkg/logging"
	"github.com/ajitpratap0/transcript-mcp/pkg/protocol"
	"github.com/ajitpratap0/transcript-mcp/pkg/transport"
)

const (
	DefaultServerName    = "youtube-transcript-mcp"
	DefaultServerVersion = "0.1.0"
)

// ToolObserver records tool outcomes.
type ToolObserver interface {
	ToolCalled(tool, status string)
}

type handlerFunc func(ctx context.Context, sessionID string, params json.RawMessage, notify transport.Notifier) (interface{}, error)

// Dispatcher executes MCP JSON-RPC methods. It is shared by every session
// and both transports.
type Dispatcher struct {
	name            string
	version         string
	instructions    string
	protocolVersion string
	tools           ToolsProvider
	logger          logging.Logger
	observer        ToolObserver
	handlers        map[string]handlerFunc
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithServerInfo sets the name and version reported by initialize.
func WithServerInfo(name, version string) DispatcherOption {
	return func(d *Dispatcher) {
		d.name = name
		d.version = version
	}
}

// WithInstructions sets the initialize instructions text.
func WithInstructions(s string) DispatcherOption {
	return func(d *Dispatcher) {
		d.instructions = s
	}
}

// WithProtocolVersion sets the revision reported by initialize.
func WithProtocolVersion(v string) DispatcherOption {
	return func(d *Dispatcher) {
		d.protocolVersion = v
	}
}

// WithToolsProvider sets the tools provider
func WithToolsProvider(p ToolsProvider) DispatcherOption {
	return func(d *Dispatcher) {
		d.tools = p
	}
}

func WithDispatcherLogger(l logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

func WithToolObserver(o ToolObserver) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = o
	}
}

// NewDispatcher creates a dispatcher. Without a tools provider, tools/list
// is empty and every tools/call reports an unknown tool.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		name:            DefaultServerName,
		version:         DefaultServerVersion,
		protocolVersion: protocol.ProtocolRevision,
		tools:           NewBaseToolsProvider(),
		logger:          logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithFields(logging.String("component", "dispatcher"))

	d.handlers = map[string]handlerFunc{
		protocol.MethodInitialize: d.handleInitialize,
		protocol.MethodPing:       d.handlePing,
		protocol.MethodListTools:  d.handleListTools,
		protocol.MethodCallTool:   d.handleCallTool,
	}
	return d
}

// Dispatch implements transport.Dispatcher. Notifications and client
// responses get nil; every request gets a response, including when a
// handler panics.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, msg *protocol.Message, notify transport.Notifier) (resp *protocol.Response) {
	logger := d.logger.WithContext(ctx).WithFields(
		logging.String("session_id", sessionID),
		logging.String("method", msg.Method),
	)

	if msg.IsResponse() {
		logger.Debug("Ignoring client response")
		return nil
	}
	if msg.IsNotification() {
		if !strings.HasPrefix(msg.Method, protocol.NotificationPrefix) {
			logger.Debug("Ignoring unknown notification")
		}
		return nil
	}

	id := msg.IDValue()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Handler panicked",
				logging.Any("panic", rec),
				logging.String("stack", string(debug.Stack())))
			resp = protocol.NewErrorResponse(id, protocol.InternalError, "Internal error", nil)
		}
	}()

	handler, ok := d.handlers[msg.Method]
	if !ok {
		return protocol.NewErrorResponse(id, protocol.MethodNotFound, "Method not found", map[string]string{"method": msg.Method})
	}
	if notify == nil {
		notify = func(*protocol.Notification) {}
	}

	result, err := handler(ctx, sessionID, msg.Params, notify)
	if err != nil {
		var rpcErr *protocol.Error
		if errors.As(err, &rpcErr) {
			return protocol.NewErrorResponse(id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		}
		logger.WithError(err).Error("Handler failed")
		return protocol.NewErrorResponse(id, protocol.InternalError, "Internal error", nil)
	}

	resp, err = protocol.NewResponse(id, result)
	if err != nil {
		logger.WithError(err).Error("Failed to encode result")
		return protocol.NewErrorResponse(id, protocol.InternalError, "Internal error", nil)
	}
	return resp
}

func invalidParams(err error) error {
	return &protocol.Error{Code: protocol.InvalidParams, Message: "Invalid params", Data: err.Error()}
}

func decodeParams(params json.RawMessage, target interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, target); err != nil {
		return invalidParams(err)
	}
	return nil
}

func (d *Dispatcher) handleInitialize(ctx context.Context, sessionID string, params json.RawMessage, _ transport.Notifier) (interface{}, error) {
	var initParams protocol.InitializeParams
	if err := decodeParams(params, &initParams); err != nil {
		return nil, err
	}

	fields := []logging.Field{
		logging.String("session_id", sessionID),
		logging.String("client_protocol", initParams.ProtocolVersion),
	}
	if initParams.ClientInfo != nil {
		fields = append(fields,
			logging.String("client_name", initParams.ClientInfo.Name),
			logging.String("client_version", initParams.ClientInfo.Version))
	}
	d.logger.WithContext(ctx).Info("Initializing session", fields...)

	return &protocol.InitializeResult{
		ProtocolVersion: d.protocolVersion,
		Capabilities: protocol.ServerCapabilities{
			Tools:   &protocol.ToolsCapability{},
			Logging: map[string]interface{}{},
		},
		ServerInfo: protocol.Implementation{
			Name:    d.name,
			Version: d.version,
		},
		Instructions: d.instructions,
	}, nil
}

func (d *Dispatcher) handlePing(ctx context.Context, _ string, _ json.RawMessage, _ transport.Notifier) (interface{}, error) {
	return struct{}{}, nil
}

func (d *Dispatcher) handleListTools(ctx context.Context, _ string, _ json.RawMessage, _ transport.Notifier) (interface{}, error) {
	tools, err := d.tools.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	if tools == nil {
		tools = []protocol.Tool{}
	}
	return &protocol.ListToolsResult{Tools: tools}, nil
}

func (d *Dispatcher) handleCallTool(ctx context.Context, sessionID string, params json.RawMessage, notify transport.Notifier) (interface{}, error) {
	var callParams protocol.CallToolParams
	if err := decodeParams(params, &callParams); err != nil {
		return nil, err
	}
	if callParams.Name == "" {
		return nil, invalidParams(errors.New("name is required"))
	}

	logger := d.logger.WithContext(ctx).WithFields(
		logging.String("session_id", sessionID),
		logging.String("tool", callParams.Name),
	)

	result, err := d.callTool(ctx, callParams)
	switch {
	case errors.Is(err, ErrToolNotFound):
		result = protocol.ToolError("Tool not found")
	case err != nil:
		logger.WithError(err).Error("Tool failed")
		result = protocol.ToolError("Internal error")
	}

	status := "ok"
	if result.IsError {
		status = "error"
		d.notifyToolFailure(notify, callParams.Name, result)
	}
	if d.observer != nil {
		d.observer.ToolCalled(callParams.Name, status)
	}
	return result, nil
}

// callTool runs the provider, turning a panic into an error.
func (d *Dispatcher) callTool(ctx context.Context, p protocol.CallToolParams) (result *protocol.CallToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panicked: %v", rec)
		}
	}()
	result, err = d.tools.CallTool(ctx, p.Name, p.Arguments)
	if err == nil && result == nil {
		err = errors.New("tool returned no result")
	}
	return result, err
}

func (d *Dispatcher) notifyToolFailure(notify transport.Notifier, tool string, result *protocol.CallToolResult) {
	var text string
	if len(result.Content) > 0 {
		text = result.Content[0].Text
	}
	n, err := protocol.NewNotification(protocol.NotificationLogMessage, protocol.LogMessageParams{
		Level:  protocol.LogLevelWarning,
		Logger: tool,
		Data:   text,
	})
	if err != nil {
		d.logger.WithError(err).Warn("Failed to build log notification")
		return
	}
	notify(n)
}
