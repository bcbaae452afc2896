// Package commands implements the mongo-service CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "mongo-service",
	Short: "MongoDB service reachable over an event bus",
	Long: `mongo-service hosts a MongoDB access service on an event-bus address
(in-memory, NATS or AMQP) and issues calls against a running instance.

Configuration is read from a YAML file (--config) and MONGO_SERVICE_*
environment variables, e.g. MONGO_SERVICE_BUS_URL=nats://localhost:4222.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mongo-service %s (commit: %s)\n", Version, Commit)
	},
}
