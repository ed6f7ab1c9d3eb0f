// Package cli implements the cronkeeper command line.
package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"cronkeeper/internal/config"
)

var (
	version = "dev"
	cfgPath string
)

var rootCmd = &cobra.Command{
	Use:   "cronkeeper",
	Short: "Persistent cron-driven task scheduler",
	Long: `cronkeeper runs shell commands, scripts, agent tasks, reminders and
webhooks on 5-field cron schedules or after the tasks they depend on.

Run "cronkeeper serve" to start the daemon. The other commands work on the
task store directly.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config file (json or yaml)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the string printed by "cronkeeper version".
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// loadConfig reads --config. A missing file at the default path falls back to
// built-in defaults; an explicit path must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err == nil {
		return cfg, config.Validate(cfg)
	}
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Default(), nil
	}
	return nil, err
}
