package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/amoylab/unla-edge/internal/common/errorx"
	"github.com/amoylab/unla-edge/internal/transport"
	"github.com/amoylab/unla-edge/pkg/mcp"
	"github.com/amoylab/unla-edge/pkg/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTools struct {
	gotName string
	gotArgs map[string]any
	err     error
}

func (f *fakeTools) List() []mcp.ToolSchema {
	return []mcp.ToolSchema{{Name: "echo", InputSchema: json.RawMessage(`{"type":"object"}`)}}
}

func (f *fakeTools) Call(_ context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	f.gotName, f.gotArgs = name, args
	if f.err != nil {
		return nil, f.err
	}
	return mcp.NewTextResult("ok", false), nil
}

func call(t *testing.T, r *Router, method, params string) (any, error) {
	t.Helper()
	req := &mcp.JSONRPCRequest{JSONRPC: "2.0", ID: mcp.RequestID("1"), Method: method}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return r.Dispatch(context.Background(), transport.SessionInfo{ID: "s-1"}, req)
}

func TestRouter_Initialize(t *testing.T) {
	r := NewRouter(zap.NewNop(), &fakeTools{}, "use tools")

	res, err := call(t, r, mcp.Initialize, `{"protocolVersion":"2024-11-05","clientInfo":{"name":"cli","version":"1"}}`)
	require.NoError(t, err)
	result, ok := res.(mcp.InitializedResult)
	require.True(t, ok)
	assert.Equal(t, mcp.ProtocolVersion20241105, result.ProtocolVersion)
	assert.True(t, result.Capabilities.Tools.ListChanged)
	assert.Equal(t, version.Get(), result.ServerInfo.Version)
	assert.Equal(t, "use tools", result.Instructions)

	res, err = call(t, r, mcp.Initialize, `{"protocolVersion":"1999-01-01"}`)
	require.NoError(t, err)
	assert.Equal(t, mcp.LatestProtocolVersion, res.(mcp.InitializedResult).ProtocolVersion)

	_, err = call(t, r, mcp.Initialize, `{"protocolVersion":5}`)
	var paramsErr *errorx.InvalidParamsError
	assert.ErrorAs(t, err, &paramsErr)
}

func TestRouter_PingAndList(t *testing.T) {
	r := NewRouter(zap.NewNop(), &fakeTools{}, "")

	res, err := call(t, r, mcp.Ping, "")
	require.NoError(t, err)
	raw, _ := json.Marshal(res)
	assert.JSONEq(t, `{}`, string(raw))

	res, err = call(t, r, mcp.ToolsList, "")
	require.NoError(t, err)
	list := res.(mcp.ListToolsResult)
	require.Len(t, list.Tools, 1)
	assert.Equal(t, "echo", list.Tools[0].Name)
}

func TestRouter_ToolsCall(t *testing.T) {
	tools := &fakeTools{}
	r := NewRouter(zap.NewNop(), tools, "")

	res, err := call(t, r, mcp.ToolsCall, `{"name":"echo","arguments":{"x":1}}`)
	require.NoError(t, err)
	assert.Equal(t, "echo", tools.gotName)
	assert.Equal(t, map[string]any{"x": float64(1)}, tools.gotArgs)
	assert.Equal(t, "ok", res.(*mcp.CallToolResult).Content[0].Text)

	_, err = call(t, r, mcp.ToolsCall, `{"name":"echo"}`)
	require.NoError(t, err)
	assert.Empty(t, tools.gotArgs)

	var paramsErr *errorx.InvalidParamsError
	_, err = call(t, r, mcp.ToolsCall, `{"arguments":{}}`)
	assert.ErrorAs(t, err, &paramsErr)
	_, err = call(t, r, mcp.ToolsCall, `{"name":"echo","arguments":[1]}`)
	assert.ErrorAs(t, err, &paramsErr)

	tools.err = &errorx.CircuitOpenError{Target: "api"}
	_, err = call(t, r, mcp.ToolsCall, `{"name":"echo"}`)
	assert.Equal(t, mcp.ErrorCodeCircuitOpen, errorx.ToJSONRPC(err).Code)
}

func TestRouter_MethodNotFound(t *testing.T) {
	r := NewRouter(zap.NewNop(), &fakeTools{}, "")
	_, err := call(t, r, "resources/list", "")
	var notFound *errorx.MethodNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, mcp.ErrorCodeMethodNotFound, errorx.ToJSONRPC(err).Code)
}

func TestNegotiateVersion(t *testing.T) {
	assert.Equal(t, mcp.ProtocolVersion20250326, negotiateVersion(mcp.ProtocolVersion20250326))
	assert.Equal(t, mcp.LatestProtocolVersion, negotiateVersion(""))
}
