package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "conduit",
		Short:         "Correlated task and message dispatch",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Path to a config file (yaml, json or toml)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve HTTP and run the task workers and topic router",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			return run(cmd.Context(), runOptions{ConfigPath: path, HTTP: true, Out: cmd.OutOrStdout()})
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "worker",
		Short: "Run the task workers and topic router without HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			return run(cmd.Context(), runOptions{ConfigPath: path, Out: cmd.OutOrStdout()})
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "conduit %s\n", version)
		},
	})
	return root
}
