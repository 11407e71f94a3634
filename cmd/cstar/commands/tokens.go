package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dyluth/cstar/internal/printer"
	"github.com/dyluth/cstar/internal/tokens"
	"github.com/dyluth/cstar/pkg/cluster"
)

var (
	tokensPartitioner string
	tokensNodes       int
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Print evenly spaced initial tokens",
	Long: `Print the initial tokens cstar assigns when the cluster file gives none:
node i gets i * (range / nodes), shifted into the partitioner's token range.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		toks, err := tokens.PlanStrings(cluster.Partitioner(tokensPartitioner), tokensNodes)
		if err != nil {
			return printer.FromError("tokens", err)
		}

		rows := make([][]string, len(toks))
		for i, t := range toks {
			rows[i] = []string{strconv.Itoa(i), t}
		}
		printer.Table([]string{"NODE", "INITIAL TOKEN"}, rows)
		return nil
	},
}

func init() {
	tokensCmd.Flags().StringVarP(&tokensPartitioner, "partitioner", "p", string(cluster.PartitionerMurmur3), "murmur3 or random")
	tokensCmd.Flags().IntVarP(&tokensNodes, "nodes", "n", 3, "Number of nodes")
	rootCmd.AddCommand(tokensCmd)
}
