package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amoylab/unla-edge/internal/auth"
	"github.com/amoylab/unla-edge/internal/breaker"
	"github.com/amoylab/unla-edge/internal/common/cnst"
	"github.com/amoylab/unla-edge/internal/common/config"
	"github.com/amoylab/unla-edge/internal/dispatch"
	"github.com/amoylab/unla-edge/internal/notifier"
	"github.com/amoylab/unla-edge/internal/ratelimit"
	"github.com/amoylab/unla-edge/internal/server"
	"github.com/amoylab/unla-edge/internal/tool"
	"github.com/amoylab/unla-edge/internal/transport"
	"github.com/amoylab/unla-edge/pkg/helper"
	"github.com/amoylab/unla-edge/pkg/logger"
	"github.com/amoylab/unla-edge/pkg/mcp"
	"github.com/amoylab/unla-edge/pkg/metrics"
	"github.com/amoylab/unla-edge/pkg/trace"
	"github.com/amoylab/unla-edge/pkg/version"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath string
	pidFile    string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mcp-edge",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", cnst.CommandName, version.Get())
		},
	}

	testCmd = &cobra.Command{
		Use:   "test",
		Short: "Load and validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", path, err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration file %s is valid\n", path)
			return nil
		},
	}

	notifyCmd = &cobra.Command{
		Use:   "notify <method> [params-json]",
		Short: "Publish a notification to every gateway subscribed to the notifier topic",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runNotify,
	}

	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Send SIGTERM to the process recorded in the pid file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := helper.GetPIDPath(pidFile)
			pid, err := helper.ReadPID(path)
			if err != nil {
				return err
			}
			proc, err := os.FindProcess(pid)
			if err != nil {
				return err
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to signal %d: %w", pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent SIGTERM to %d\n", pid)
			return nil
		},
	}

	rootCmd = &cobra.Command{
		Use:           cnst.CommandName,
		Short:         "Resilient MCP session gateway",
		Long:          `mcp-edge accepts authenticated WebSocket sessions from MCP clients and routes tool calls to a downstream API behind circuit breakers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", cnst.EdgeYaml, "path to configuration file, like /etc/mcp-edge/mcp-edge.yaml")
	rootCmd.PersistentFlags().StringVar(&pidFile, "pid", "", "path to PID file")
	rootCmd.AddCommand(versionCmd, testCmd, notifyCmd, stopCmd)
}

func run(ctx context.Context) error {
	cfg, cfgPath, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lg, err := logger.NewLogger(&cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Sync()
	lg.Info("starting mcp-edge",
		zap.String("version", version.Get()),
		zap.String("config", cfgPath))

	if pidFile != "" {
		path := helper.GetPIDPath(pidFile)
		if err := helper.WritePID(path); err != nil {
			return err
		}
		defer os.Remove(path)
	}

	shutdownTracing, err := trace.InitTracing(ctx, &cfg.Tracing, lg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			lg.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
	}

	gate, err := auth.NewGateFromConfig(ctx, lg, cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize authentication: %w", err)
	}
	limiter, stopLimiter, err := ratelimit.NewFromConfig(ctx, lg, cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	defer stopLimiter()

	breakers := breaker.NewRegistryFromConfig(lg, cfg.Breaker, m)
	invoker, err := tool.NewInvoker(lg, cfg.Downstream, breakers, m)
	if err != nil {
		return fmt.Errorf("failed to load tools: %w", err)
	}

	tr := transport.New(lg, transport.Options{
		Config:     cfg.Transport,
		Gate:       gate,
		Dispatcher: dispatch.NewRouter(lg, invoker, ""),
		Limiter:    limiter,
		Metrics:    m,
	})
	srv := server.New(lg, cfg.Server, server.Deps{
		Transport: tr,
		Gate:      gate,
		Metrics:   m,
		Breakers:  breakers,
	})
	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the loop outlives ctx so sessions are closed only after the listener stops
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go tr.Run(loopCtx)

	n, err := notifier.NewFromConfig(ctx, lg, cfg.Notifier)
	if err != nil {
		stopLoop()
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}
	if n != nil {
		defer n.Close()
		go func() {
			if err := n.Run(ctx, tr); err != nil {
				lg.Error("notifier stopped", zap.Error(err))
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	select {
	case <-ctx.Done():
		lg.Info("shutting down")
	case err = <-serveErr:
		if err != nil {
			lg.Error("server stopped unexpectedly", zap.Error(err))
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(sctx); serr != nil {
		lg.Warn("failed to shutdown HTTP server", zap.Error(serr))
	}
	stopLoop()
	<-tr.Done()
	lg.Info("mcp-edge stopped")
	return err
}

func runNotify(cmd *cobra.Command, args []string) error {
	cfg, path, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	var params any
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return fmt.Errorf("params must be JSON: %w", err)
		}
	}
	note, err := mcp.NewNotification(args[0], params)
	if err != nil {
		return err
	}

	n, err := notifier.NewFromConfig(cmd.Context(), zap.NewNop(), cfg.Notifier)
	if err != nil {
		return err
	}
	if n == nil {
		return errors.New("notifier.type is none, nothing to publish to")
	}
	defer n.Close()
	if err := n.Publish(cmd.Context(), note); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", note.Method)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
