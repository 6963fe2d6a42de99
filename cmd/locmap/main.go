package main

import (
	"fmt"
	"os"

	"github.com/Sternrassler/locmap/internal/config"
	"github.com/Sternrassler/locmap/pkg/logging"
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. cfg is filled before any subcommand runs.
func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:   "locmap",
		Short: "Extract store locations from web pages and pin them on a map",
		Long: `Sends page URLs to an extraction service, follows its nextUrl pointers for up to
10 pages and prints every location found as "title: address".

Configuration is read from locmap.yaml, .env and LOCMAP_* variables; flags win.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			*cfg = *c

			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			logCfg := cfg.LogSettings()
			logCfg.Output = cmd.ErrOrStderr()
			logging.Setup(logCfg)
			return nil
		},
	}

	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(newExtractCmd(cfg))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
