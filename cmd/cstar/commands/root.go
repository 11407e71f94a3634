package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// Global flags
var (
	clusterFile  string
	settingsFile string
	metricsFile  string
	schemaFile   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cstar",
	Short: "cstar - Cassandra cluster provisioning for performance testing",
	Long: `cstar builds Cassandra from a git revision, lays it out on a set of hosts
and drives the resulting cluster through its lifecycle.

The cluster is described by a YAML file (cluster.yml by default): the hosts,
the revision to build, the partitioner and token policy, and cassandra.yaml
overrides. Tool settings (Redis, cache size, polling policy, logging) come
from cstar.yaml or CSTAR_* environment variables.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&clusterFile, "cluster", "c", "cluster.yml", "Cluster description file")
	rootCmd.PersistentFlags().StringVar(&settingsFile, "settings", "", "Settings file (default: ./cstar.yaml or ~/.cstar/cstar.yaml)")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file when the command finishes")
	rootCmd.PersistentFlags().StringVar(&schemaFile, "schema-file", "", "YAML list of cassandra.yaml option names, instead of querying the build")
}
