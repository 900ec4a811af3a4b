// claude-contextd is the long-running service: HTTP ingest/search surface
// plus the MCP socket server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/claudecontext/claude-context/internal/app"
	"github.com/claudecontext/claude-context/internal/config"
	"github.com/claudecontext/claude-context/internal/mcp"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
	"github.com/claudecontext/claude-context/internal/server"
)

var (
	configPath string
	socketPath string
	noMCP      bool
)

func main() {
	root := &cobra.Command{
		Use:   "claude-contextd",
		Short: "Code and web-content indexing and retrieval service",
		RunE:  run,
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.Flags().StringVar(&socketPath, "mcp-socket", "", "MCP unix socket path")
	root.Flags().BoolVar(&noMCP, "no-mcp", false, "disable the MCP socket server")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer application.Close()

	// Terminal progress records are evicted an hour after they end.
	go application.Tracker.RunSweeper(ctx, 5*time.Minute)

	errCh := make(chan error, 2)

	httpServer := server.New(server.Deps{
		Config:    cfg,
		Log:       log,
		Registry:  application.Registry,
		Store:     application.Store,
		Coord:     application.Coord,
		Retrieval: application.Retrieval,
		Crawler:   application.Crawler,
		Tracker:   application.Tracker,
		LLM:       application.LLM,
		Defaults:  application.Defaults,
	})
	go func() {
		errCh <- httpServer.Start(ctx)
	}()

	if !noMCP {
		handler := mcp.NewHandler(mcp.HandlerConfig{
			Config:    cfg,
			Registry:  application.Registry,
			Store:     application.Store,
			Coord:     application.Coord,
			Retrieval: application.Retrieval,
			Crawler:   application.Crawler,
			Tracker:   application.Tracker,
			LLM:       application.LLM,
			Defaults:  application.Defaults,
			Log:       log,
		})
		mcpServer := mcp.NewServer(mcp.ServerConfig{
			SocketPath: socketPath,
			Handler:    handler,
			Log:        log,
		})
		go func() {
			errCh <- mcpServer.Start(ctx)
		}()
	}

	select {
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	// Give the servers a moment to drain.
	time.Sleep(100 * time.Millisecond)
	return nil
}
