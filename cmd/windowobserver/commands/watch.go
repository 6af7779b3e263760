package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bryanchriswhite/windowobserver/internal/config"
	"github.com/bryanchriswhite/windowobserver/internal/event"
	"github.com/bryanchriswhite/windowobserver/internal/logger"
	"github.com/bryanchriswhite/windowobserver/internal/observer"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var watchCmd = &cobra.Command{
	Use:   "watch PID",
	Short: "Print window events of a process",
	Long: `Observe the windows of a running process and print every event as it
happens. The event kinds default to the "events" list of the config file;
editing that list while watching updates the subscription in place.`,
	Example: `  # Watch every event kind
  windowobserver watch 4242

  # Only creation, closing and focus
  windowobserver watch 4242 --events created,closed,focused

  # Machine-readable output
  windowobserver watch 4242 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchEvents []string
	watchFormat string
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringSliceVarP(&watchEvents, "events", "e", nil, "event kinds to observe (default from config)")
	watchCmd.Flags().StringVarP(&watchFormat, "format", "f", "text", "output format (text, json or yaml)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	pid, err := parsePID(args[0])
	if err != nil {
		return err
	}

	printer, err := newPrinter(os.Stdout, watchFormat)
	if err != nil {
		return err
	}

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := effectiveConfig(configMgr)

	filter, err := configMgr.Filter()
	if err != nil {
		return err
	}
	explicit := len(watchEvents) > 0
	if explicit {
		if filter, err = event.ParseFilter(watchEvents); err != nil {
			return err
		}
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

	if !explicit {
		watchConfig(configMgr, session)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := session.Events()
	for {
		select {
		case <-ctx.Done():
			return session.Stop()
		case r, ok := <-events:
			if !ok {
				return nil
			}
			if err := printer(r); err != nil {
				return err
			}
		}
	}
}

// watchConfig applies edits of the config file's event list to session
func watchConfig(configMgr *config.Manager, session *observer.Session) {
	log := logger.WithComponent("watch")

	viper.SetConfigFile(configMgr.GetConfigPath())
	if err := viper.ReadInConfig(); err != nil {
		log.Warn().Err(err).Msg("Config hot reload disabled")
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		if err := configMgr.Reload(); err != nil {
			log.Warn().Err(err).Msg("Ignoring invalid config change")
			return
		}
		next, err := configMgr.Filter()
		if err != nil {
			log.Warn().Err(err).Msg("Ignoring invalid event list")
			return
		}
		current := session.Filter()
		for _, k := range event.AllKinds() {
			switch {
			case next.Has(k) && !current.Has(k):
				err = session.AddEvent(k)
			case !next.Has(k) && current.Has(k):
				err = session.RemoveEvent(k)
			default:
				continue
			}
			if err != nil {
				log.Warn().Err(err).Stringer("kind", k).Msg("Failed to apply event change")
			}
		}
		log.Info().Str("events", session.Filter().String()).Msg("Event filter reloaded")
	})
	viper.WatchConfig()
}

// newPrinter returns a function writing results to w in format
func newPrinter(w io.Writer, format string) (func(event.Result) error, error) {
	switch format {
	case "text":
		return func(r event.Result) error {
			_, err := fmt.Fprintln(w, formatText(r))
			return err
		}, nil
	case "json":
		encoder := json.NewEncoder(w)
		return func(r event.Result) error {
			return encoder.Encode(event.NewRecord(r))
		}, nil
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		return func(r event.Result) error {
			return encoder.Encode(event.NewRecord(r))
		}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (use 'text', 'json' or 'yaml')", format)
	}
}

// formatText renders one line: kind, window id, title, and the position or
// size for moves and resizes
func formatText(r event.Result) string {
	if r.Err != nil {
		return "error        " + r.Err.Error()
	}

	rec := event.NewRecord(r)
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %s", rec.Kind, rec.WindowID)
	if rec.Window == nil {
		return b.String()
	}
	if rec.Window.Title != "" {
		fmt.Fprintf(&b, " %q", rec.Window.Title)
	}
	if bounds := rec.Window.Bounds; bounds != nil {
		switch r.Payload.Event.Kind {
		case event.Moved:
			fmt.Fprintf(&b, " at (%d, %d)", bounds.X, bounds.Y)
		case event.Resized:
			fmt.Fprintf(&b, " size %dx%d", bounds.Width, bounds.Height)
		}
	}
	return b.String()
}
