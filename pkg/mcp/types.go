package mcp

import (
	"bytes"
	"encoding/json"
)

// RequestID is a JSON-RPC id kept in its original wire form.
// It is either a JSON string or a JSON number; an empty RequestID encodes as null.
type RequestID json.RawMessage

// MarshalJSON implements json.Marshaler
func (id RequestID) MarshalJSON() ([]byte, error) {
	if len(id) == 0 {
		return []byte("null"), nil
	}
	return id, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (id *RequestID) UnmarshalJSON(data []byte) error {
	*id = append((*id)[:0], data...)
	return nil
}

// IsNull reports whether the id is absent or JSON null
func (id RequestID) IsNull() bool {
	return len(id) == 0 || bytes.Equal(bytes.TrimSpace(id), []byte("null"))
}

// String returns the compact wire form, used as the correlation key.
func (id RequestID) String() string {
	if id.IsNull() {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, id); err != nil {
		return string(id)
	}
	return buf.String()
}

type (
	// JSONRPCRequest represents a JSON-RPC request that expects a response
	JSONRPCRequest struct {
		// JSONRPC version, must be "2.0"
		JSONRPC string `json:"jsonrpc"`
		// A uniquely identifying ID for a request in JSON-RPC
		ID RequestID `json:"id"`
		// The method to be invoked
		Method string `json:"method"`
		// The parameters to be passed to the method
		Params json.RawMessage `json:"params,omitempty"`
	}

	// JSONRPCNotification represents a JSON-RPC notification
	JSONRPCNotification struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}

	// JSONRPCResponse represents a successful JSON-RPC response
	JSONRPCResponse struct {
		JSONRPC string    `json:"jsonrpc"`
		ID      RequestID `json:"id"`
		Result  any       `json:"result"`
	}

	// JSONRPCErrorResponse represents a failed JSON-RPC response
	JSONRPCErrorResponse struct {
		JSONRPC string       `json:"jsonrpc"`
		ID      RequestID    `json:"id"`
		Error   JSONRPCError `json:"error"`
	}

	// JSONRPCError is the error object of a failed response
	JSONRPCError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    any    `json:"data,omitempty"`
	}

	// ToolSchema represents a tool definition
	ToolSchema struct {
		// The name of the tool
		Name string `json:"name"`
		// A human-readable description of the tool
		Description string `json:"description"`
		// A JSON Schema object defining the expected parameters for the tool
		InputSchema json.RawMessage `json:"inputSchema"`
	}

	// ListToolsResult represents the result of a tools/list request
	ListToolsResult struct {
		Tools []ToolSchema `json:"tools"`
	}

	// CallToolParams represents parameters for a tools/call request
	CallToolParams struct {
		// The name of the tool to call
		Name string `json:"name"`
		// The arguments to pass to the tool
		Arguments json.RawMessage `json:"arguments"`
	}

	// Content represents a content item in a tool call result
	Content struct {
		Type     string `json:"type"`
		Text     string `json:"text,omitempty"`
		Data     string `json:"data,omitempty"`
		MimeType string `json:"mimeType,omitempty"`
	}

	// CallToolResult represents the result of a tools/call request
	CallToolResult struct {
		Content []Content `json:"content"`
		IsError bool      `json:"isError"`
	}

	// ImplementationSchema describes the name and version of an MCP implementation
	ImplementationSchema struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}

	// InitializeRequestParams represents parameters for initialize request
	InitializeRequestParams struct {
		// The latest version of the Model Context Protocol that the client supports
		ProtocolVersion string `json:"protocolVersion"`
		// Client capabilities
		Capabilities map[string]any `json:"capabilities"`
		// Client implementation information
		ClientInfo ImplementationSchema `json:"clientInfo"`
	}

	// ServerCapabilitiesSchema represents capabilities a server may support
	ServerCapabilitiesSchema struct {
		Tools ToolsCapabilitySchema `json:"tools"`
	}

	// ToolsCapabilitySchema represents tools-related capabilities
	ToolsCapabilitySchema struct {
		ListChanged bool `json:"listChanged"`
	}

	// InitializedResult is the result of an initialize request
	InitializedResult struct {
		// The version of the Model Context Protocol that the server wants to use
		ProtocolVersion string `json:"protocolVersion"`
		// Server capabilities
		Capabilities ServerCapabilitiesSchema `json:"capabilities"`
		// Server implementation information
		ServerInfo ImplementationSchema `json:"serverInfo"`
		// Instructions describing how to use the server and its features
		Instructions string `json:"instructions,omitempty"`
	}
)

// NewResponse builds a success response for id
func NewResponse(id RequestID, result any) JSONRPCResponse {
	if result == nil {
		result = struct{}{}
	}
	return JSONRPCResponse{
		JSONRPC: JSPNRPCVersion,
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse builds an error response for id
func NewErrorResponse(id RequestID, code int, message string, data any) JSONRPCErrorResponse {
	return JSONRPCErrorResponse{
		JSONRPC: JSPNRPCVersion,
		ID:      id,
		Error: JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// NewNotification builds a server-initiated notification
func NewNotification(method string, params any) (JSONRPCNotification, error) {
	n := JSONRPCNotification{
		JSONRPC: JSPNRPCVersion,
		Method:  method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return n, err
		}
		n.Params = raw
	}
	return n, nil
}

// NewTextResult wraps text into a tool call result
func NewTextResult(text string, isError bool) *CallToolResult {
	return &CallToolResult{
		Content: []Content{{Type: "text", Text: text}},
		IsError: isError,
	}
}
