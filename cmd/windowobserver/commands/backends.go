package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bryanchriswhite/windowobserver/internal/observer"
	"github.com/spf13/cobra"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List observation backends",
	Long: `List the backends compiled for this platform, whether each can run in
the current environment, and which one "auto" selects.`,
	RunE: runBackends,
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	chosen := ""
	if b, err := observer.DefaultBackend(); err == nil {
		chosen = b.Name()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tAVAILABLE\tDEFAULT\tREASON")
	for _, b := range observer.Backends() {
		ok, reason := b.Available()
		def := ""
		if b.Name() == chosen {
			def = "*"
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", b.Name(), ok, def, reason)
	}
	return w.Flush()
}
