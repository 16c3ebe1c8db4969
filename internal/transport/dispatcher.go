package transport

import (
	"context"

	"github.com/amoylab/unla-edge/pkg/mcp"
)

// Dispatcher services requests. Dispatch runs on its own goroutine and its
// context is not cancelled when the originating session closes; a result
// for a closed session is dropped.
type Dispatcher interface {
	Dispatch(ctx context.Context, session SessionInfo, req *mcp.JSONRPCRequest) (any, error)
}

// NotificationHandler is implemented by dispatchers that want client
// notifications
type NotificationHandler interface {
	HandleNotification(ctx context.Context, session SessionInfo, n *mcp.JSONRPCNotification)
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ctx context.Context, session SessionInfo, req *mcp.JSONRPCRequest) (any, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, session SessionInfo, req *mcp.JSONRPCRequest) (any, error) {
	return f(ctx, session, req)
}
