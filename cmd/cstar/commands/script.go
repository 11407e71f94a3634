package commands

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/cstar/internal/orchestrator"
	"github.com/dyluth/cstar/internal/printer"
)

var runScriptCmd = &cobra.Command{
	Use:     "run-script <file>",
	Aliases: []string{"bash"},
	Short:   "Run a bash script on every host",
	Long: `Copy a script to every host and run it with bash. Output is printed per
host. The command fails if the script exits non-zero on any host.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		script, err := os.ReadFile(args[0])
		if err != nil {
			return printer.Error("cannot read script", err.Error(), nil)
		}

		return runCluster("run script", false, func(ctx context.Context, o *orchestrator.Orchestrator) error {
			results, runErr := o.RunScript(ctx, script)

			hosts := make([]string, 0, len(results))
			for host := range results {
				hosts = append(hosts, host)
			}
			sort.Strings(hosts)
			for _, host := range hosts {
				out := strings.TrimRight(results[host].Stdout, "\n")
				if out == "" {
					continue
				}
				for _, line := range strings.Split(out, "\n") {
					printer.NodeStep(host, "%s\n", line)
				}
			}
			return runErr
		})(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(runScriptCmd)
}
