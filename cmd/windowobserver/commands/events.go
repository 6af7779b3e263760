package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/bryanchriswhite/windowobserver/internal/event"
	"github.com/bryanchriswhite/windowobserver/internal/observer"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List event kinds",
	Long: `List every event kind a session can report, together with the native
signals subscribed when the kind is in the filter.`,
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tSIGNALS")
	for _, k := range event.AllKinds() {
		signals := observer.SignalsFor(k)
		names := make([]string, len(signals))
		for i, s := range signals {
			names[i] = s.String()
		}
		fmt.Fprintf(w, "%s\t%s\n", k, strings.Join(names, ", "))
	}
	return w.Flush()
}
