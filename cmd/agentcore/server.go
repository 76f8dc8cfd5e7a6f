package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/ecanhq/agentcore/internal/api"
	"github.com/ecanhq/agentcore/internal/config"
	"github.com/ecanhq/agentcore/internal/episodic"
	"github.com/ecanhq/agentcore/internal/webdriver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory core and driver service (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "agentcore version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(os.Getenv("AGENTCORE_LOG_LEVEL"), "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Memory manager with its ingest worker.
	mgr, err := buildManager(cfg)
	if err != nil {
		return fmt.Errorf("building memory manager: %w", err)
	}
	mgr.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mgr.Stop(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: stopping memory manager: %v\n", err)
		}
	}()

	// Episodic journal and reflection engine.
	store, err := episodic.NewStore(cfg.EpisodicDir())
	if err != nil {
		return fmt.Errorf("opening episodic store: %w", err)
	}
	engine := buildReflectionEngine(cfg, store)

	// Driver lifecycle. Initialization is async; the service reports
	// readiness to the API.
	driverMgr, err := webdriver.Default(webdriver.ManagerOptions{BaseDir: cfg.WebDriverDir()})
	if err != nil {
		return err
	}
	driverSvc := webdriver.NewService(driverMgr)
	driverSvc.OnReady(func(st webdriver.Status) {
		slog.Info("webdriver ready", "path", st.DriverPath)
	})
	if err := driverSvc.Initialize(ctx); err != nil {
		slog.Warn("webdriver initialization failed, continuing without driver", "error", err)
	}
	defer driverSvc.Cleanup()

	// HTTP surface.
	handler := api.NewHandler(api.Deps{
		Manager:  mgr,
		Episodic: store,
		Reflect:  engine,
		Driver:   driverSvc,
		Token:    cfg.Server.Token,
	})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server over stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Memory:  mgr,
		Driver:  driverSvc,
		AgentID: cfg.Agent.ID,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "agentcore listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
