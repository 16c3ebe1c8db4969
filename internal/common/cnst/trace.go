package cnst

// Tracer names used across the services
const (
	// TraceTransport is the tracer name for the session transport
	TraceTransport = "mcp-edge/transport"
	// TraceTool is the tracer name for downstream tool calls
	TraceTool = "mcp-edge/tool"
)

// Common span names and prefixes
const (
	// SpanHTTPToolExecute represents executing an HTTP tool
	SpanHTTPToolExecute = "mcp.http_tool.execute"

	// SpanMCPMethodPrefix prefixes spans for handling MCP methods
	SpanMCPMethodPrefix = "mcp.method."
)

// Common attribute keys
const (
	AttrMCPTool          = "mcp.tool"
	AttrMCPSessionID     = "mcp.session_id"
	AttrMCPRequestID     = "mcp.request_id"
	AttrClientAddr       = "client.remote_addr"
	AttrErrorReason      = "error.reason"
	AttrMCPErrorCode     = "mcp.error_code"
	AttrHTTPStatusCode   = "http.status_code"
	AttrDownstreamTarget = "downstream.target"
	AttrBreakerState     = "breaker.state"
)
