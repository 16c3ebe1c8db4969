package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/amoylab/unla-edge/internal/common/cnst"
	"github.com/amoylab/unla-edge/internal/common/errorx"
	"github.com/amoylab/unla-edge/internal/transport"
	"github.com/amoylab/unla-edge/pkg/mcp"
	"github.com/amoylab/unla-edge/pkg/version"

	"go.uber.org/zap"
)

// Tools is the downstream collaborator behind tools/list and tools/call
type Tools interface {
	List() []mcp.ToolSchema
	Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// Router is the dispatcher the transport hands requests to
type Router struct {
	logger       *zap.Logger
	tools        Tools
	instructions string
}

var (
	_ transport.Dispatcher          = (*Router)(nil)
	_ transport.NotificationHandler = (*Router)(nil)
)

func NewRouter(logger *zap.Logger, tools Tools, instructions string) *Router {
	return &Router{
		logger:       logger.Named("dispatch"),
		tools:        tools,
		instructions: instructions,
	}
}

func (r *Router) Dispatch(ctx context.Context, session transport.SessionInfo, req *mcp.JSONRPCRequest) (any, error) {
	switch req.Method {
	case mcp.Initialize:
		var params mcp.InitializeRequestParams
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		r.logger.Info("client initialized",
			zap.String("session_id", session.ID),
			zap.String("client", params.ClientInfo.Name),
			zap.String("client_version", params.ClientInfo.Version),
			zap.String("protocol_version", params.ProtocolVersion))
		return mcp.InitializedResult{
			ProtocolVersion: negotiateVersion(params.ProtocolVersion),
			Capabilities: mcp.ServerCapabilitiesSchema{
				Tools: mcp.ToolsCapabilitySchema{ListChanged: true},
			},
			ServerInfo: mcp.ImplementationSchema{
				Name:    cnst.AppName,
				Version: version.Get(),
			},
			Instructions: r.instructions,
		}, nil

	case mcp.Ping:
		return struct{}{}, nil

	case mcp.ToolsList:
		return mcp.ListToolsResult{Tools: r.tools.List()}, nil

	case mcp.ToolsCall:
		var params mcp.CallToolParams
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		if params.Name == "" {
			return nil, &errorx.InvalidParamsError{Reason: "tool name is required"}
		}
		args := make(map[string]any)
		if err := decodeParams(params.Arguments, &args); err != nil {
			return nil, err
		}
		return r.tools.Call(ctx, params.Name, args)

	default:
		return nil, &errorx.MethodNotFoundError{Method: req.Method}
	}
}

func (r *Router) HandleNotification(_ context.Context, session transport.SessionInfo, n *mcp.JSONRPCNotification) {
	switch n.Method {
	case mcp.NotificationInitialized:
		r.logger.Debug("session ready", zap.String("session_id", session.ID))
	case mcp.NotificationCancelled:
		// downstream calls are never cancelled by the client
		r.logger.Debug("cancellation ignored", zap.String("session_id", session.ID), zap.ByteString("params", n.Params))
	default:
		r.logger.Debug("unhandled notification", zap.String("session_id", session.ID), zap.String("method", n.Method))
	}
}

func negotiateVersion(requested string) string {
	switch requested {
	case mcp.ProtocolVersion20250326, mcp.ProtocolVersion20241105:
		return requested
	default:
		return mcp.LatestProtocolVersion
	}
}

// decodeParams accepts absent or null params as the zero value
func decodeParams(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return &errorx.InvalidParamsError{Reason: fmt.Sprintf("malformed params: %v", err)}
	}
	return nil
}
