// Command snipsession is a Neovim RPC host that runs live snippet sessions.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "snipsession",
	Short:        "Live snippet sessions for Neovim",
	Long:         `snipsession keeps a snippet template and the edited buffer line in sync while you tab through placeholders.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.Version = version

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRenderCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
