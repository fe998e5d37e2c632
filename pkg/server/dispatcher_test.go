package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/transcript-mcp/pkg/logging"
	"github.com/ajitpratap0/transcript-mcp/pkg/protocol"
)

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ToolCalled(tool, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, tool+":"+status)
}

func dispatch(t *testing.T, d *Dispatcher, body string) (*protocol.Response, []*protocol.Notification) {
	t.Helper()
	msg, err := protocol.ParseMessage([]byte(body))
	require.NoError(t, err)

	var notes []*protocol.Notification
	resp := d.Dispatch(context.Background(), "sess-1", msg, func(n *protocol.Notification) {
		notes = append(notes, n)
	})
	return resp, notes
}

func toolResult(t *testing.T, resp *protocol.Response) protocol.CallToolResult {
	t.Helper()
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	var result protocol.CallToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	return result
}

func TestDispatchInitialize(t *testing.T) {
	d := NewDispatcher(WithServerInfo("custom", "9.9.9"), WithInstructions("be brief"))

	resp, _ := dispatch(t, d, initializeBody)

	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)
	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, protocol.ProtocolRevision, result.ProtocolVersion)
	assert.Equal(t, "custom", result.ServerInfo.Name)
	assert.Equal(t, "9.9.9", result.ServerInfo.Version)
	assert.Equal(t, "be brief", result.Instructions)
	assert.NotNil(t, result.Capabilities.Tools)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(1), raw["id"])
	assert.Equal(t, "2.0", raw["jsonrpc"])
}

func TestDispatchDefaults(t *testing.T) {
	d := NewDispatcher()

	resp, _ := dispatch(t, d, initializeBody)
	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, DefaultServerName, result.ServerInfo.Name)
	assert.Equal(t, DefaultServerVersion, result.ServerInfo.Version)

	resp, _ = dispatch(t, d, listToolsBody)
	assert.JSONEq(t, `{"tools":[]}`, string(resp.Result))
}

func TestDispatchPing(t *testing.T) {
	resp, _ := dispatch(t, NewDispatcher(), `{"jsonrpc":"2.0","id":"abc","method":"ping"}`)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"abc","result":{}}`, string(data))
}

func TestDispatchIgnoresNotificationsAndResponses(t *testing.T) {
	d := NewDispatcher()

	for _, body := range []string{
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1}}`,
		`{"jsonrpc":"2.0","method":"something/else"}`,
		`{"jsonrpc":"2.0","id":5,"result":{}}`,
		`{"jsonrpc":"2.0","id":5,"error":{"code":-1,"message":"no"}}`,
	} {
		resp, notes := dispatch(t, d, body)
		assert.Nil(t, resp, body)
		assert.Empty(t, notes, body)
	}
}

func TestDispatchErrors(t *testing.T) {
	d := NewDispatcher()

	tests := []struct {
		name string
		body string
		code protocol.ErrorCode
	}{
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, protocol.MethodNotFound},
		{"bad initialize params", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":[1,2]}`, protocol.InvalidParams},
		{"bad call params", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":"x"}`, protocol.InvalidParams},
		{"missing tool name", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`, protocol.InvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := dispatch(t, d, tt.body)
			require.NotNil(t, resp)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Empty(t, resp.Result)
		})
	}
}

func TestDispatchMethodNotFoundData(t *testing.T) {
	resp, _ := dispatch(t, NewDispatcher(), `{"jsonrpc":"2.0","id":1,"method":"prompts/get"}`)

	require.NotNil(t, resp.Error)
	assert.Equal(t, "Method not found", resp.Error.Message)
	assert.Equal(t, map[string]string{"method": "prompts/get"}, resp.Error.Data)
}

func TestDispatchToolCall(t *testing.T) {
	tools := NewBaseToolsProvider()
	tools.RegisterTool(protocol.Tool{Name: "echo", InputSchema: json.RawMessage(`{"type":"object"}`)},
		func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
			return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent(string(args))}}, nil
		})
	observer := &recordingObserver{}
	var logs bytes.Buffer
	d := NewDispatcher(
		WithToolsProvider(tools),
		WithToolObserver(observer),
		WithDispatcherLogger(logging.New(&logs, logging.NewJSONFormatter())),
	)

	resp, notes := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"a":1}}}`)

	result := toolResult(t, resp)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.JSONEq(t, `{"a":1}`, result.Content[0].Text)
	assert.Empty(t, notes)
	assert.Equal(t, []string{"echo:ok"}, observer.calls)
}

func TestDispatchToolFailures(t *testing.T) {
	tools := NewBaseToolsProvider()
	tools.RegisterTool(protocol.Tool{Name: "fails"},
		func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
			return nil, errors.New("disk on fire")
		})
	tools.RegisterTool(protocol.Tool{Name: "panics"},
		func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
			panic("boom")
		})
	tools.RegisterTool(protocol.Tool{Name: "empty"},
		func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
			return nil, nil
		})
	tools.RegisterTool(protocol.Tool{Name: "refuses"},
		func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
			return protocol.ToolError("nope"), nil
		})
	observer := &recordingObserver{}
	var logs bytes.Buffer
	d := NewDispatcher(
		WithToolsProvider(tools),
		WithToolObserver(observer),
		WithDispatcherLogger(logging.New(&logs, logging.NewJSONFormatter())),
	)

	tests := []struct {
		tool string
		text string
	}{
		{"missing", "Tool not found"},
		{"fails", "Internal error"},
		{"panics", "Internal error"},
		{"empty", "Internal error"},
		{"refuses", "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			resp, notes := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"`+tt.tool+`"}}`)

			result := toolResult(t, resp)
			assert.True(t, result.IsError)
			require.Len(t, result.Content, 1)
			assert.Equal(t, tt.text, result.Content[0].Text)

			require.Len(t, notes, 1)
			assert.Equal(t, protocol.NotificationLogMessage, notes[0].Method)
			var params protocol.LogMessageParams
			require.NoError(t, json.Unmarshal(notes[0].Params, &params))
			assert.Equal(t, protocol.LogLevelWarning, params.Level)
			assert.Equal(t, tt.tool, params.Logger)
			assert.Equal(t, tt.text, params.Data)
		})
	}
	assert.Len(t, observer.calls, len(tests))
	for _, c := range observer.calls {
		assert.Contains(t, c, ":error")
	}

	// Causes stay in the server log.
	assert.Contains(t, logs.String(), "disk on fire")
	assert.Contains(t, logs.String(), "tool panicked: boom")
}

type panickingProvider struct{}

func (panickingProvider) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	panic("list exploded")
}

func (panickingProvider) CallTool(ctx context.Context, name string, args json.RawMessage) (*protocol.CallToolResult, error) {
	return nil, nil
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	d := NewDispatcher(WithToolsProvider(panickingProvider{}))

	resp, _ := dispatch(t, d, listToolsBody)

	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InternalError, resp.Error.Code)
	assert.Equal(t, "Internal error", resp.Error.Message)
}

func TestDispatchNilNotifier(t *testing.T) {
	tools := NewBaseToolsProvider()
	tools.RegisterTool(TranscriptTool(), TranscriptHandler(stubFetcher()))
	d := NewDispatcher(WithToolsProvider(tools))

	msg, err := protocol.ParseMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"transcript_yt","arguments":{"videoUrl":"https://youtu.be/gone0000000"}}}`))
	require.NoError(t, err)

	resp := d.Dispatch(context.Background(), "sess-1", msg, nil)
	assert.True(t, toolResult(t, resp).IsError)
}

func TestBaseToolsProviderOrder(t *testing.T) {
	p := NewBaseToolsProvider()
	noop := func(ctx context.Context, args json.RawMessage) (*protocol.CallToolResult, error) {
		return &protocol.CallToolResult{}, nil
	}
	p.RegisterTool(protocol.Tool{Name: "b"}, noop)
	p.RegisterTool(protocol.Tool{Name: "a"}, noop)
	p.RegisterTool(protocol.Tool{Name: "b", Description: "replaced"}, noop)

	tools, err := p.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "b", tools[0].Name)
	assert.Equal(t, "replaced", tools[0].Description)
	assert.Equal(t, "a", tools[1].Name)

	_, err = p.CallTool(context.Background(), "c", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}
