package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/speakeasy-api/granary/internal/rpc"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a daemon is running and reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := daemonHome()
			if err != nil {
				return err
			}
			token, err := rpc.ReadTokenFile(rpc.TokenPath(home))
			if err != nil {
				fmt.Println("not running")
				return nil
			}
			client, err := rpc.TryConnect(rpc.SocketPath(home), token)
			if err != nil {
				return err
			}
			if client == nil {
				fmt.Println("not running")
				return nil
			}
			defer func() { _ = client.Close() }()

			pong, err := client.Ping()
			if err != nil {
				return fmt.Errorf("daemon unreachable: %w", err)
			}
			fmt.Printf("running (version %s, socket %s, started %s)\n",
				pong.Version, rpc.SocketPath(home), humanize.Time(pong.StartedAt))
			return nil
		},
	}
}
