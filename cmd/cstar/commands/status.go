package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/cstar/internal/printer"
	"github.com/dyluth/cstar/internal/state"
)

var watchOutputFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded state of every node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		rt, err := newRuntime(ctx, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		records, err := state.NewTracker(rt.states, rt.spec.StateKey()).States(ctx, rt.spec.Hosts())
		if err != nil {
			return printer.FromError("status", err)
		}

		rows := make([][]string, 0, len(records))
		for _, r := range records {
			rows = append(rows, []string{r.Host, string(r.State), dash(r.RevisionID), since(r.UpdatedAt), dash(r.Error)})
		}
		printer.Table([]string{"HOST", "STATE", "REVISION", "UPDATED", "ERROR"}, rows)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow node state changes as they happen",
	Long: `Stream node state changes recorded by other cstar runs against the same
cluster. Requires Redis.

Output Formats:
  default - One human-readable line per change
  json    - Line-delimited JSON records

Examples:
  # Follow a provisioning run from another terminal
  cstar watch

  # Export changes for later analysis
  cstar watch --output=json > states.jsonl`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchOutputFormat != "default" && watchOutputFormat != "json" {
			return printer.Error(
				"invalid output format",
				fmt.Sprintf("Unknown format: %s", watchOutputFormat),
				[]string{"Valid formats: default, json"},
			)
		}

		ctx, cancel := signalContext(cmd)
		defer cancel()

		rt, err := newRuntime(ctx, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		if rt.rdb == nil {
			return printer.Error("watch needs Redis",
				fmt.Sprintf("No Redis server answered at %s.", rt.settings.Redis.Addr),
				[]string{"Start Redis or set redis.addr in cstar.yaml"})
		}

		sub, err := state.NewRedisStore(rt.rdb).Subscribe(ctx, rt.spec.StateKey())
		if err != nil {
			return printer.FromError("watch", err)
		}
		defer sub.Close()

		printer.Step("Watching cluster %q (Ctrl-C to stop)\n", rt.spec.Name)
		enc := json.NewEncoder(os.Stdout)
		errs := sub.Errors()
		for {
			select {
			case <-ctx.Done():
				return nil
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				printer.Warning("%v\n", err)
			case r, ok := <-sub.Events():
				if !ok {
					return nil
				}
				if watchOutputFormat == "json" {
					if err := enc.Encode(r); err != nil {
						return err
					}
					continue
				}
				line := fmt.Sprintf("%s  %-10s %s", r.UpdatedAt.Format(time.TimeOnly), r.State, dash(r.RevisionID))
				if r.Error != "" {
					line += "  " + r.Error
				}
				printer.NodeStep(r.Host, "%s\n", line)
			}
		}
	},
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(statusCmd, watchCmd)
}
