package cmd

import (
	"fmt"
	"os"

	"pgmerge/core/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "pgmerge",
	Short: "Schema-aware table merge tool",
	Long: `pgmerge merges CSV exports into a relational database.
It orders tables by their foreign keys, matches incoming rows to existing rows
through primary keys and unique constraints, and applies the minimal set of
inserts, updates and deletes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// configDir is where .env is looked up.
var configDir string

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		// Console format and debug level give readable timestamps for CLI errors
		cfg := &logger.Config{
			Level:  "debug",
			Format: "console",
		}

		l, logErr := logger.New(cfg)
		if logErr == nil {
			l.Error("command failed", zap.Error(err))
			_ = l.Sync()
		} else {
			fmt.Println(err)
		}
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory containing the .env file")
}
