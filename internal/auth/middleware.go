package auth

import (
	"net/http"

	"github.com/amoylab/unla-edge/internal/common/errorx"

	"github.com/gin-gonic/gin"
)

// ContextKeyDecision holds the Decision on the gin context
const ContextKeyDecision = "auth.decision"

// Middleware authenticates every request that reaches it. Denied requests
// get 401 with a Bearer challenge and are aborted.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Authenticate(c.Request.Context(), Attempt{
			Credential: g.ExtractCredential(c.Request),
			Path:       c.Request.URL.Path,
			RemoteAddr: c.Request.RemoteAddr,
		})
		if !d.Allowed {
			Reject(c, d.Reason)
			return
		}
		c.Set(ContextKeyDecision, d)
		c.Next()
	}
}

// Reject aborts c with 401. The body carries the same code and type an
// AuthenticationError has on the JSON-RPC side.
func Reject(c *gin.Context, reason string) {
	e := errorx.ToJSONRPC(&errorx.AuthenticationError{Reason: reason})
	c.Header("WWW-Authenticate", `Bearer realm="mcp-edge"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": e.Message,
		"code":    e.Code,
		"data":    e.Data,
	})
}

// DecisionFrom returns the decision stored by Middleware
func DecisionFrom(c *gin.Context) (Decision, bool) {
	v, ok := c.Get(ContextKeyDecision)
	if !ok {
		return Decision{}, false
	}
	d, ok := v.(Decision)
	return d, ok
}
