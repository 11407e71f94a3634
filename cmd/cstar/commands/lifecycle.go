package commands

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/cstar/internal/orchestrator"
	"github.com/dyluth/cstar/internal/printer"
)

var (
	stopForce      bool
	destroyLeave   bool
	ensureRetries  int
	ensureWait     time.Duration
	upSkipEnsuring bool
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Build the revision and lay it out on every host",
	Long: `Resolve the cluster's revision, build it on the build host (or reuse the
cached build), then install it on every host with a per-node cassandra.yaml.

Configuration problems (unknown options, missing seeds, unsupported
partitioner) are reported before any host is changed.`,
	Args: cobra.NoArgs,
	RunE: runCluster("provision", true, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		res, err := o.Provision(ctx)
		if err != nil {
			return err
		}
		printProvisioned(res)
		return nil
	}),
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start Cassandra on every host",
	Args:  cobra.NoArgs,
	RunE: runCluster("start", false, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		if err := o.Start(ctx); err != nil {
			return err
		}
		printer.Success("Started %d nodes\n", len(o.Spec().Nodes))
		return nil
	}),
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal Cassandra to stop on every host",
	Long: `Send TERM to the Cassandra daemon on every host, or KILL with --force.
Stop does not wait; use ensure-stopped to wait for the processes to exit.`,
	Args: cobra.NoArgs,
	RunE: runCluster("stop", false, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		if err := o.Stop(ctx, !stopForce); err != nil {
			return err
		}
		printer.Success("Stop signalled on %d nodes\n", len(o.Spec().Nodes))
		return nil
	}),
}

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Kill Cassandra and remove the install from every host",
	Args:  cobra.NoArgs,
	RunE: runCluster("destroy", false, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		if err := o.Destroy(ctx, destroyLeave); err != nil {
			return err
		}
		if destroyLeave {
			printer.Success("Destroyed %d nodes (data directories kept)\n", len(o.Spec().Nodes))
		} else {
			printer.Success("Destroyed %d nodes\n", len(o.Spec().Nodes))
		}
		return nil
	}),
}

var ensureRunningCmd = &cobra.Command{
	Use:   "ensure-running",
	Short: "Wait until every node reports Up in the ring",
	Args:  cobra.NoArgs,
	RunE: runCluster("ensure running", false, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		if err := o.EnsureRunning(ctx, ensureRetries, ensureWait); err != nil {
			return err
		}
		printer.Success("All %d nodes are up\n", len(o.Spec().Nodes))
		return nil
	}),
}

var ensureStoppedCmd = &cobra.Command{
	Use:   "ensure-stopped",
	Short: "Wait until no Cassandra process remains on any host",
	Args:  cobra.NoArgs,
	RunE: runCluster("ensure stopped", false, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		if err := o.EnsureStopped(ctx, ensureRetries, ensureWait); err != nil {
			return err
		}
		printer.Success("All %d nodes are stopped\n", len(o.Spec().Nodes))
		return nil
	}),
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Provision, start and wait for the cluster",
	Args:  cobra.NoArgs,
	RunE: runCluster("up", true, func(ctx context.Context, o *orchestrator.Orchestrator) error {
		if upSkipEnsuring {
			res, err := o.Provision(ctx)
			if err != nil {
				return err
			}
			printProvisioned(res)
			return o.Start(ctx)
		}

		res, err := o.Up(ctx)
		if err != nil {
			return err
		}
		printProvisioned(res)
		printer.Success("Cluster %q is up\n", o.Spec().Name)
		return nil
	}),
}

func printProvisioned(res *orchestrator.ProvisionResult) {
	hosts := make([]string, 0, len(res.Nodes))
	for host := range res.Nodes {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	rows := make([][]string, 0, len(hosts))
	for _, host := range hosts {
		n := res.Nodes[host]
		rows = append(rows, []string{host, n.Placement.Datacenter, n.Placement.Rack, initialToken(n.Config)})
	}
	printer.Success("Provisioned revision %s\n", res.RevisionID)
	printer.Table([]string{"HOST", "DATACENTER", "RACK", "INITIAL TOKEN"}, rows)
}

func initialToken(cfg map[string]any) string {
	if v, ok := cfg["initial_token"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return "-"
}

func init() {
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "Send KILL instead of TERM")
	destroyCmd.Flags().BoolVar(&destroyLeave, "leave-data", false, "Keep data, commitlog, saved caches and flush directories")

	for _, c := range []*cobra.Command{ensureRunningCmd, ensureStoppedCmd} {
		c.Flags().IntVar(&ensureRetries, "retries", 0, "Probes before giving up (default: ensure.retries setting)")
		c.Flags().DurationVar(&ensureWait, "wait", 0, "Delay between probes (default: ensure.wait setting)")
	}
	upCmd.Flags().BoolVar(&upSkipEnsuring, "no-wait", false, "Start the nodes without waiting for the ring")

	rootCmd.AddCommand(provisionCmd, startCmd, stopCmd, destroyCmd, ensureRunningCmd, ensureStoppedCmd, upCmd)
}
