package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/amoylab/unla-edge/pkg/version"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// backend is the in-memory API the sample tools call. While failing is set
// every request answers 503, which lets the edge breakers be tripped by hand.
type backend struct {
	mu      sync.RWMutex
	users   map[string]*User
	failing bool
}

func newBackend() *backend {
	return &backend{users: make(map[string]*User)}
}

var (
	addr string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mock-downstream",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mock-downstream version %s\n", version.Get())
		},
	}

	rootCmd = &cobra.Command{
		Use:   "mock-downstream",
		Short: "Mock downstream API",
		Long:  `mock-downstream serves the user API that the sample mcp-edge tools are configured against`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
)

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", ":5236", "listen address")
	rootCmd.AddCommand(versionCmd)
}

func (b *backend) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), b.chaos)

	router.POST("/users", b.createUser)
	router.GET("/users/:email", b.getUser)
	router.PUT("/chaos", b.setChaos)
	return router
}

func (b *backend) chaos(c *gin.Context) {
	if c.Request.URL.Path == "/chaos" {
		c.Next()
		return
	}
	b.mu.RLock()
	failing := b.failing
	b.mu.RUnlock()
	if failing {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "backend unavailable"})
		return
	}
	c.Next()
}

func (b *backend) createUser(c *gin.Context) {
	var user User
	if err := c.ShouldBindJSON(&user); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if user.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()

	b.mu.Lock()
	b.users[user.Email] = &user
	b.mu.Unlock()
	c.JSON(http.StatusCreated, user)
}

func (b *backend) getUser(c *gin.Context) {
	b.mu.RLock()
	user, ok := b.users[c.Param("email")]
	b.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (b *backend) setChaos(c *gin.Context) {
	var req struct {
		Failing bool `json:"failing"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b.mu.Lock()
	b.failing = req.Failing
	b.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"failing": req.Failing})
}

func run() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting mock-downstream", zap.String("version", version.Get()))
	srv := &http.Server{
		Addr:    addr,
		Handler: newBackend().routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server is running", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
