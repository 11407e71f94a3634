package commands

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/cstar/internal/printer"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the build cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached builds on the build host, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		rt, err := newRuntime(ctx, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		cache, err := rt.buildCache(ctx)
		if err != nil {
			return printer.FromError("cache list", err)
		}
		artifacts, err := cache.List(ctx)
		if err != nil {
			return printer.FromError("cache list", err)
		}
		if len(artifacts) == 0 {
			printer.Info("No cached builds on %s\n", rt.buildHost())
			return nil
		}

		rows := make([][]string, 0, len(artifacts))
		for i, a := range artifacts {
			rows = append(rows, []string{strconv.Itoa(i + 1), a.Revision, a.Location, a.CreatedAt.Format(time.RFC3339)})
		}
		printer.Table([]string{"#", "REVISION", "LOCATION", "CREATED"}, rows)
		printer.Info("%d of %d builds kept on %s\n", len(artifacts), rt.settings.Cache.MaxBuilds, rt.buildHost())
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
	rootCmd.AddCommand(cacheCmd)
}
