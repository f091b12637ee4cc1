// Command gsd runs the GraphStream event distribution server and ships a
// couple of operator tools alongside it.
package main

import (
	"fmt"
	"os"

	"github.com/helixgraph/graphstream/internal/ui"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gsd <command>",
	Short: "GraphStream event distribution server and tools",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if plain, _ := cmd.Flags().GetBool("no-color"); plain {
			ui.ForceNoColor()
			return
		}
		ui.Init(os.Stdout)
	},
}

func main() {
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.AddGroup(
		&cobra.Group{ID: "system", Title: "System Commands:"},
		&cobra.Group{ID: "tools", Title: "Operator Tools:"},
	)
	rootCmd.AddCommand(serveCmd, sweepCmd, tailCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
