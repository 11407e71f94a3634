package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dyluth/cstar/internal/config"
	dockerpkg "github.com/dyluth/cstar/internal/docker"
	"github.com/dyluth/cstar/internal/printer"
)

var (
	fleetNodes      int
	fleetEmitConfig string
)

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Manage local containers that act as cluster hosts",
	Long: `Run a set of long-lived containers on the local Docker daemon, one per
host, so a cluster can be provisioned without real machines.

Hosts are taken from the cluster file when it exists, otherwise --nodes
containers named <network>-1..N are created. Each container is reachable by
the Docker executor under its host name.`,
}

var fleetUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Create and start the fleet containers",
	Args:  cobra.NoArgs,
}

func runFleetUp(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	rt, err := newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	hosts, err := fleetHosts(rt.settings.Fleet.Network)
	if err != nil {
		return printer.FromError("fleet up", err)
	}

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return printer.Error("Docker is not available", err.Error(), nil)
	}
	defer cli.Close()

	fleet, err := dockerpkg.NewFleet(cli, rt.settings.Fleet.Network, rt.settings.Fleet.Image, rt.settings.Fleet.Ports, rt.logger)
	if err != nil {
		return printer.Error("invalid fleet settings", err.Error(), []string{"Check fleet.image, fleet.network and fleet.ports in cstar.yaml"})
	}

	printer.Step("Starting %d fleet containers on network %s\n", len(hosts), rt.settings.Fleet.Network)
	members, err := fleet.Up(ctx, hosts)
	if err != nil {
		return printer.FromError("fleet up", err)
	}
	printMembers(members)

	if fleetEmitConfig != "" {
		if err := emitHosts(fleetEmitConfig, members); err != nil {
			return printer.Error("cannot write cluster file", err.Error(), nil)
		}
		printer.Success("Wrote hosts for %d containers to %s\n", len(members), fleetEmitConfig)
	}
	return nil
}

var fleetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the fleet containers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		rt, err := newRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		cli, err := dockerpkg.NewClient(ctx)
		if err != nil {
			return printer.Error("Docker is not available", err.Error(), nil)
		}
		defer cli.Close()

		fleet, err := dockerpkg.NewFleet(cli, rt.settings.Fleet.Network, rt.settings.Fleet.Image, rt.settings.Fleet.Ports, rt.logger)
		if err != nil {
			return printer.Error("invalid fleet settings", err.Error(), nil)
		}

		members, status, err := fleet.Status(ctx)
		if err != nil {
			return printer.FromError("fleet status", err)
		}
		if len(members) == 0 {
			printer.Info("No fleet containers on network %s\n", rt.settings.Fleet.Network)
			return nil
		}
		printMembers(members)
		printer.Info("Fleet is %s\n", status)
		return nil
	},
}

var fleetDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Remove the fleet containers and network",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		rt, err := newRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		cli, err := dockerpkg.NewClient(ctx)
		if err != nil {
			return printer.Error("Docker is not available", err.Error(), nil)
		}
		defer cli.Close()

		fleet, err := dockerpkg.NewFleet(cli, rt.settings.Fleet.Network, rt.settings.Fleet.Image, rt.settings.Fleet.Ports, rt.logger)
		if err != nil {
			return printer.Error("invalid fleet settings", err.Error(), nil)
		}
		if err := fleet.Down(ctx); err != nil {
			return printer.FromError("fleet down", err)
		}
		printer.Success("Fleet %s removed\n", rt.settings.Fleet.Network)
		return nil
	},
}

// fleetHosts returns the cluster file's hosts, or generated names when
// --nodes was given or no cluster file exists.
func fleetHosts(network string) ([]string, error) {
	if !cmdFlagChanged(fleetUpCmd, "nodes") {
		if _, err := os.Stat(clusterFile); err == nil {
			file, err := config.Load(clusterFile)
			if err != nil {
				return nil, err
			}
			hosts := make([]string, len(file.Hosts))
			for i, h := range file.Hosts {
				hosts[i] = h.Address
			}
			return hosts, nil
		}
	}

	if fleetNodes < 1 {
		return nil, fmt.Errorf("--nodes must be at least 1, got %d", fleetNodes)
	}
	hosts := make([]string, fleetNodes)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("%s-%d", network, i+1)
	}
	return hosts, nil
}

func cmdFlagChanged(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

// emitHosts writes a cluster file whose hosts point at the fleet containers.
func emitHosts(filename string, members []dockerpkg.Member) error {
	file := config.ClusterFile{}
	for _, m := range members {
		file.Hosts = append(file.Hosts, config.HostEntry{
			Address: m.Host,
			Host:    config.Host{Hostname: m.Host, InternalIP: m.IP},
		})
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}

func printMembers(members []dockerpkg.Member) {
	rows := make([][]string, 0, len(members))
	for _, m := range members {
		ports := make([]string, 0, len(m.Ports))
		for port, addr := range m.Ports {
			ports = append(ports, port+"→"+addr)
		}
		sort.Strings(ports)

		id := m.ContainerID
		if len(id) > 12 {
			id = id[:12]
		}
		rows = append(rows, []string{m.Host, id, dash(m.IP), m.State, strings.Join(ports, " ")})
	}
	printer.Table([]string{"HOST", "CONTAINER", "IP", "STATE", "PORTS"}, rows)
}

func init() {
	fleetUpCmd.RunE = runFleetUp
	fleetUpCmd.Flags().IntVarP(&fleetNodes, "nodes", "n", 3, "Number of containers when not taken from the cluster file")
	fleetUpCmd.Flags().StringVar(&fleetEmitConfig, "emit-config", "", "Write a cluster file with the containers' addresses")

	fleetCmd.AddCommand(fleetUpCmd, fleetStatusCmd, fleetDownCmd)
	rootCmd.AddCommand(fleetCmd)
}
