package cmd

import (
	"context"
	"fmt"
	"os"

	"melodycommons/config"
	"melodycommons/core/reconcile"
	"melodycommons/db"
	"melodycommons/logger"
	"melodycommons/repository"

	"github.com/spf13/cobra"
)

// sweepCmd runs a single reconciliation pass and exits. The same sweep also
// runs inside the server process, so this command exists for cron jobs and
// manual cleanup after moving files around by hand.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove track rows whose backing files are gone",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		logger.InitLogger(logger.Config{Level: logger.LogLevel(cfg.LogLevel), OutputPath: cfg.LogPath})

		if err := db.ConnectDB(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
			os.Exit(1)
		}
		defer db.DB.Close()

		trackRepo := repository.NewMySQLTrackRepository(db.DB)
		reconciler := reconcile.NewReconciler(trackRepo)

		removed, err := reconciler.Sweep(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("sweep completed, removed %d track(s)\n", removed)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
