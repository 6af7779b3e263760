package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/bryanchriswhite/windowobserver/internal/config"
	"github.com/bryanchriswhite/windowobserver/internal/logger"
	"github.com/bryanchriswhite/windowobserver/internal/observer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "windowobserver",
		Short: "WindowObserver - Stream window events of a running process",
		Long: `WindowObserver watches the windows owned by one process and reports what
happens to them as an ordered stream of events: created, moved, resized,
focused, hidden, closed and more.

Features:
  • X11 and AT-SPI backends on Linux, WinEvent hooks on Windows
  • Per-kind event filter, changeable while observing
  • Text, JSON and YAML output
  • WebSocket event stream and REST API
  • Prometheus metrics`,
		SilenceUsage:      true,
		PersistentPreRunE: initLogging,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/windowobserver/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("backend", "", "observation backend (auto, x11, atspi, win32)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

func initLogging(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := effectiveConfig(configMgr)
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return nil
}

// effectiveConfig is the stored configuration with flag overrides applied.
// Overrides are not persisted.
func effectiveConfig(configMgr *config.Manager) *config.Config {
	cfg := configMgr.Get()
	if port := viper.GetInt("server_port"); viper.IsSet("server_port") && port > 0 {
		cfg.ServerPort = port
	}
	if level := viper.GetString("log_level"); viper.IsSet("log_level") && level != "" {
		cfg.LogLevel = level
	}
	if backend := viper.GetString("backend"); viper.IsSet("backend") && backend != "" {
		cfg.Backend = backend
	}
	return cfg
}

func parsePID(arg string) (int, error) {
	pid, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", observer.ErrInvalidProcessID, arg)
	}
	return pid, nil
}
