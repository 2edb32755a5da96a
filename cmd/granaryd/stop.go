package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/speakeasy-api/granary/internal/rpc"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask a running daemon to shut down gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := daemonHome()
			if err != nil {
				return err
			}
			token, err := rpc.ReadTokenFile(rpc.TokenPath(home))
			if err != nil {
				return fmt.Errorf("no daemon appears to be running (read token: %w)", err)
			}
			client, err := rpc.TryConnect(rpc.SocketPath(home), token)
			if err != nil {
				return err
			}
			if client == nil {
				return fmt.Errorf("no daemon is listening at %s", rpc.SocketPath(home))
			}
			defer func() { _ = client.Close() }()
			return client.Shutdown()
		},
	}
}
