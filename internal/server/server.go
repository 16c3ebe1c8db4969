package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/amoylab/unla-edge/internal/auth"
	"github.com/amoylab/unla-edge/internal/breaker"
	"github.com/amoylab/unla-edge/internal/common/cnst"
	"github.com/amoylab/unla-edge/internal/common/config"
	"github.com/amoylab/unla-edge/internal/common/errorx"
	"github.com/amoylab/unla-edge/internal/notifier"
	"github.com/amoylab/unla-edge/internal/transport"
	"github.com/amoylab/unla-edge/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// maxNotificationSize bounds POST bodies on the notify endpoint
const maxNotificationSize = 1 << 20

type (
	// Deps are the components the HTTP surface exposes
	Deps struct {
		Transport *transport.Transport
		Gate      *auth.Gate
		Metrics   *metrics.Metrics
		Breakers  *breaker.Registry
	}

	// Server is the HTTP surface of the gateway: the upgradeable session
	// endpoint plus health, metrics and the notification hook
	Server struct {
		logger    *zap.Logger
		cfg       config.ServerConfig
		router    *gin.Engine
		transport *transport.Transport
		gate      *auth.Gate
		metrics   *metrics.Metrics
		breakers  *breaker.Registry
		startedAt time.Time

		httpServer *http.Server
		listener   net.Listener
	}
)

func New(logger *zap.Logger, cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		logger:    logger.Named("server"),
		cfg:       cfg,
		router:    gin.New(),
		transport: deps.Transport,
		gate:      deps.Gate,
		metrics:   deps.Metrics,
		breakers:  deps.Breakers,
		startedAt: time.Now(),
	}
	s.router.Use(s.recoveryMiddleware())
	s.router.Use(otelgin.Middleware(cnst.AppName))
	s.router.Use(s.metrics.Middleware())
	s.router.Use(s.loggerMiddleware())
	s.registerRoutes()

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET(s.cfg.HealthPath, s.handleHealth)
	if s.metrics != nil {
		s.router.GET(s.cfg.MetricsPath, gin.WrapH(s.metrics.Handler()))
	}
	s.router.GET(s.cfg.Path, s.transport.Handle)
	s.router.POST(s.cfg.NotifyPath, s.gate.Middleware(), s.handleNotify)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":       "ok",
		"sessionCount": s.transport.Stats().Sessions,
		"uptime":       time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.breakers != nil {
		body["breakers"] = s.breakers.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleNotify(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotificationSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	n, err := notifier.Decode(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}
	delivered, err := s.transport.Broadcast(c.Request.Context(), n)
	if err != nil {
		s.logger.Warn("broadcast failed", zap.String("method", n.Method), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable", "message": err.Error()})
		return
	}
	if d, ok := auth.DecisionFrom(c); ok {
		s.logger.Info("notification broadcast",
			zap.String("method", n.Method),
			zap.String("credential_id", d.CredentialID),
			zap.Int("sessions", delivered))
	}
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

// Listen binds the socket synchronously so a bad address fails startup
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &errorx.FatalStartupError{Addr: addr, Err: err}
	}
	s.listener = ln
	s.logger.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", s.tlsEnabled()))
	return nil
}

// Addr is the bound address, valid after Listen
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve blocks until Shutdown. It returns nil after a graceful stop.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	var err error
	if s.tlsEnabled() {
		err = s.httpServer.ServeTLS(s.listener, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	} else {
		err = s.httpServer.Serve(s.listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and drains in-flight HTTP requests.
// Upgraded sessions are closed by the transport.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) tlsEnabled() bool {
	return s.cfg.TLS.CertFile != "" && s.cfg.TLS.KeyFile != ""
}
