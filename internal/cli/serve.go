package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/collabmate/collabmate/config"
	"github.com/collabmate/collabmate/runtime"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and realtime server",
		Long: `Run the HTTP and realtime server.

The listener is bound before the store is dialed; /healthz answers at once
and /readyz reports the store state. Without --config the built-in defaults
apply, overridden by PORT, JWT_SECRET and the COLLAB_* environment.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return runtime.New(cfg, runtime.Options{HandleSignals: true}).Run()
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the YAML configuration file")
	return cmd
}
