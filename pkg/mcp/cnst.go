package mcp

// Protocol versions
const (
	ProtocolVersion20250326 = "2025-03-26"
	ProtocolVersion20241105 = "2024-11-05"
	LatestProtocolVersion   = ProtocolVersion20250326
	JSPNRPCVersion          = "2.0"
)

// Methods
const (
	Initialize              = "initialize"
	NotificationInitialized = "notifications/initialized"
	Ping                    = "ping"
	ToolsList               = "tools/list"
	ToolsCall               = "tools/call"
)

// Notifications
const (
	NotificationCancelled       = "notifications/cancelled"
	NotificationProgress        = "notifications/progress"
	NotificationMessage         = "notifications/message"
	NotificationToolListChanged = "notifications/tools/list_changed"
)

// Error codes for MCP protocol
// Standard JSON-RPC error codes
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
)

// SDKs and applications error codes
const (
	ErrorCodeConnectionClosed  = -32000
	ErrorCodeRequestTimeout    = -32001
	ErrorCodeRateLimitExceeded = -32002
	ErrorCodeBackpressure      = -32003
	ErrorCodeCircuitOpen       = -32004
	ErrorCodeUnauthorized      = -32005
	ErrorCodeToolExecution     = -32010
)

const (
	HeaderMcpSessionID = "Mcp-Session-Id"
	// Subprotocol is the websocket subprotocol negotiated with clients that offer it.
	Subprotocol = "mcp"
)
