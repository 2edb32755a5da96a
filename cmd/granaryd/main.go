// Command granaryd is the Granary daemon entrypoint. It is process control
// only — run, start, stop and status; the detached start path re-execs
// this binary as `granaryd run`. The data-entry surface lives in whatever
// front-end talks to the daemon over internal/rpc, not here.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/speakeasy-api/granary/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "granaryd",
		Short:         "Granary daemon: the worker/run supervisor behind the granary store",
		Version:       version.Current,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newStartCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newStatusCmd())
	return root
}
