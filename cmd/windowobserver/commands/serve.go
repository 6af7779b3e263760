package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/windowobserver/internal/api"
	"github.com/bryanchriswhite/windowobserver/internal/config"
	"github.com/bryanchriswhite/windowobserver/internal/logger"
	"github.com/bryanchriswhite/windowobserver/internal/observer"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve PID",
	Short: "Serve window events of a process over HTTP",
	Long: `Observe the windows of a running process and expose the session over HTTP:
a WebSocket event stream, the session status, filter mutation and Prometheus
metrics. The server stops when the observed process goes away.`,
	Example: `  # Serve on default port (8080)
  windowobserver serve 4242

  # Serve on custom port
  windowobserver serve 4242 --port 9090

  # Stream events
  websocat ws://localhost:8080/api/events

  # Stop observing moves
  curl -X DELETE localhost:8080/api/filter/moved`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	pid, err := parsePID(args[0])
	if err != nil {
		return err
	}

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}
	cfg := effectiveConfig(configMgr)
	log.Info().Str("path", configMgr.GetConfigPath()).Msg("Configuration loaded")

	filter, err := configMgr.Filter()
	if err != nil {
		return err
	}

	backend, err := observer.BackendByName(cfg.Backend)
	if err != nil {
		return err
	}

	session, err := observer.Start(backend, pid, filter)
	if err != nil {
		return fmt.Errorf("failed to observe pid %d: %w", pid, err)
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(session)
	go func() {
		server.Broadcast(session.Events())
		// The stream only ends with the session.
		stop()
	}()

	log.Info().
		Int("pid", pid).
		Str("backend", backend.Name()).
		Int("port", cfg.ServerPort).
		Msg("WindowObserver is running")

	if err := server.Start(ctx, cfg.ServerPort); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info().Msg("Shutting down gracefully")
	return session.Close()
}
