package main

import "github.com/spf13/cobra"

func newRunCmd() *cobra.Command {
	var foreground bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in this process (blocks until shut down)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(foreground)
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "also mirror daemon log lines to stderr")
	return cmd
}
