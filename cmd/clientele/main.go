package main

import (
	"fmt"
	"os"

	"github.com/phalt/clientele-sub001/client"
	"github.com/phalt/clientele-sub001/env"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "clientele",
		Short:         "Inspect cache keys and issue cached requests against an API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if fn, _ := cmd.Flags().GetString("env-file"); fn != "" {
				return env.Load(fn)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("env-file", "", "load environment variables from this file")

	rootCmd.AddCommand(
		keyCmd(),
		getCmd(),
		versionCmd(),
	)
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), client.UserAgent())
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
