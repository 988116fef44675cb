// Command nxserve is the server's entry point: it parses flags,
// loads config, wires every component built under the other packages,
// and runs the event loop until a shutdown signal arrives.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nxserve/nxserve/config"
)

func newRootCmd() *cobra.Command {
	var configPath string
	var pidFile string

	root := &cobra.Command{
		Use:           "nxserve",
		Short:         "nxserve is an event-loop HTTP/1.1 server with a reverse-proxy mode",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, pidFile, cmd.Flags())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "nxserve.json", "path to the JSON config document")
	root.PersistentFlags().StringVar(&pidFile, "pid-file", "", "write the running process's PID to this path")
	root.PersistentFlags().AddFlagSet(config.FlagSet())

	root.AddCommand(newValidateCmd(&configPath))
	return root
}

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "load and validate the config document without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(*configPath, cmd.Flags()); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "config ok")
			return nil
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "nxserve:", err)
		os.Exit(1)
	}
}
