// Package commands implements the hioload-nat CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hioload-nat",
		Short: "hioload-nat - NAT session tracking proxy",
		Long: `hioload-nat terminates intercepted UDP and TCP flows, maps each local
source port to the flow's original destination and keeps the number of
live sessions bounded.

All configuration options can be overridden with environment variables:
HIOLOAD_NAT_<SECTION>_<KEY>, e.g. HIOLOAD_NAT_UDP_MAX_SESSIONS=120.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); defaults are used when empty")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())
	cmd.CompletionOptions.DisableDefaultCmd = true
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
