package protocol

const (
	// ProtocolRevision is the only MCP revision this server speaks.
	ProtocolRevision = "2025-06-18"

	MethodInitialize = "initialize"
	MethodPing       = "ping"
	MethodListTools  = "tools/list"
	MethodCallTool   = "tools/call"

	// NotificationPrefix marks client notifications. They are accepted and
	// never answered.
	NotificationPrefix      = "notifications/"
	NotificationInitialized = "notifications/initialized"
	NotificationLogMessage  = "notifications/message"
	NotificationCancelled   = "notifications/cancelled"
)

// InitializeParams defines the parameters for the initialize request
type InitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      *Implementation        `json:"clientInfo,omitempty"`
}

// Implementation names a client or server program.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities advertises what the server supports.
type ServerCapabilities struct {
	Tools   *ToolsCapability       `json:"tools,omitempty"`
	Logging map[string]interface{} `json:"logging,omitempty"`
}

// ToolsCapability is the tools entry of ServerCapabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// InitializeResult defines the response for the initialize request
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// LogLevel specifies the severity of log messages
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// LogMessageParams is the payload of a notifications/message notification.
type LogMessageParams struct {
	Level  LogLevel    `json:"level"`
	Logger string      `json:"logger,omitempty"`
	Data   interface{} `json:"data"`
}
