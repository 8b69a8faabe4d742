package cmd

import (
	"melodycommons/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the MelodyCommons HTTP server",
	Long:  `Start the MelodyCommons HTTP server, serving the library API and audio streams.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
