package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command for collabd.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collabd",
		Short: "CollabMate backend",
		Long:  "Projects, tasks, expenses and chat for small teams, with realtime project rooms over WebSocket.",
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewConfigCommand())

	return cmd
}
