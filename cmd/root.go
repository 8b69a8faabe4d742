package cmd

import (
	"fmt"
	"os"

	"melodycommons/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "melodycommons",
	Short: "MelodyCommons is a self-hosted shared music library.",
	Run: func(cmd *cobra.Command, args []string) {
		// Running the bare binary starts the server, same as `melodycommons server`.
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
