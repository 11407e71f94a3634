package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Fleet manages local containers that stand in for cluster hosts. Each
// container is named after its host so the Docker executor can reach it.
type Fleet struct {
	cli      client.APIClient
	name     string // Network name, also the fleet label value
	image    string
	ports    nat.PortSet
	logger   logrus.FieldLogger
	newRunID func() string
}

// NewFleet parses ports ("9042", "7199/tcp") and returns a fleet.
func NewFleet(cli client.APIClient, name, image string, ports []string, logger logrus.FieldLogger) (*Fleet, error) {
	if name == "" {
		return nil, fmt.Errorf("fleet name cannot be empty")
	}
	if image == "" {
		return nil, fmt.Errorf("fleet image cannot be empty")
	}

	set := make(nat.PortSet, len(ports))
	for _, p := range ports {
		proto, port := nat.SplitProtoPort(strings.TrimSpace(p))
		np, err := nat.NewPort(proto, port)
		if err != nil {
			return nil, fmt.Errorf("invalid fleet port %q: %w", p, err)
		}
		set[np] = struct{}{}
	}

	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Fleet{
		cli:      cli,
		name:     name,
		image:    image,
		ports:    set,
		logger:   logger.WithField("component", "fleet"),
		newRunID: uuid.NewString,
	}, nil
}

// Member is one fleet container.
type Member struct {
	Host        string
	ContainerID string
	IP          string
	State       string
	Ports       map[string]string // container port → host address
}

// Up creates the network and one container per host, reusing and starting
// any that already exist. It returns the members in host order.
func (f *Fleet) Up(ctx context.Context, hosts []string) ([]Member, error) {
	runID := f.newRunID()
	if err := f.ensureNetwork(ctx, runID); err != nil {
		return nil, err
	}
	if err := f.ensureImage(ctx); err != nil {
		return nil, err
	}

	existing, err := f.containers(ctx)
	if err != nil {
		return nil, err
	}
	byHost := make(map[string]types.Container, len(existing))
	for _, c := range existing {
		byHost[c.Labels[LabelHost]] = c
	}

	members := make([]Member, 0, len(hosts))
	for _, host := range hosts {
		id, err := f.ensureNode(ctx, host, runID, byHost)
		if err != nil {
			return nil, err
		}
		m, err := f.inspect(ctx, host, id)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

func (f *Fleet) ensureNetwork(ctx context.Context, runID string) error {
	networks, err := f.cli.NetworkList(ctx, types.NetworkListOptions{
		Filters: filters.NewArgs(filters.Arg("name", f.name)),
	})
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}
	for _, n := range networks {
		if n.Name == f.name {
			return nil
		}
	}

	if _, err := f.cli.NetworkCreate(ctx, f.name, types.NetworkCreate{
		Driver: "bridge",
		Labels: BuildLabels(f.name, runID, ""),
	}); err != nil {
		return fmt.Errorf("failed to create network '%s': %w", f.name, err)
	}
	f.logger.WithFields(logrus.Fields{"event_type": "network_created", "network": f.name}).Info("created fleet network")
	return nil
}

func (f *Fleet) ensureImage(ctx context.Context) error {
	if _, _, err := f.cli.ImageInspectWithRaw(ctx, f.image); err == nil {
		return nil
	}

	reader, err := f.cli.ImagePull(ctx, f.image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", f.image, err)
	}
	_, err = io.Copy(io.Discard, reader)
	closeErr := reader.Close()
	if err != nil {
		return fmt.Errorf("failed to read image pull output: %w", err)
	}
	return closeErr
}

func (f *Fleet) ensureNode(ctx context.Context, host, runID string, existing map[string]types.Container) (string, error) {
	if c, ok := existing[host]; ok {
		if c.State != "running" {
			if err := f.cli.ContainerStart(ctx, c.ID, container.StartOptions{}); err != nil {
				return "", fmt.Errorf("failed to start container %s: %w", host, err)
			}
		}
		return c.ID, nil
	}

	bindings := make(nat.PortMap, len(f.ports))
	for p := range f.ports {
		// Empty HostPort lets Docker pick one, so several nodes can expose the same port
		bindings[p] = []nat.PortBinding{{HostIP: "127.0.0.1"}}
	}

	resp, err := f.cli.ContainerCreate(ctx, &container.Config{
		Image:        f.image,
		Hostname:     host,
		Labels:       BuildLabels(f.name, runID, host),
		Cmd:          []string{"sleep", "infinity"},
		ExposedPorts: f.ports,
	}, &container.HostConfig{
		NetworkMode:  container.NetworkMode(f.name),
		PortBindings: bindings,
	}, nil, nil, host)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", host, err)
	}

	if err := f.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", host, err)
	}
	f.logger.WithFields(logrus.Fields{"event_type": "node_container_started", "host": host}).Info("started fleet container")
	return resp.ID, nil
}

func (f *Fleet) containers(ctx context.Context) ([]types.Container, error) {
	containers, err := f.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", FleetFilter(f.name))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return containers, nil
}

func (f *Fleet) inspect(ctx context.Context, host, id string) (Member, error) {
	info, err := f.cli.ContainerInspect(ctx, id)
	if err != nil {
		return Member{}, fmt.Errorf("failed to inspect container %s: %w", host, err)
	}

	m := Member{Host: host, ContainerID: id, Ports: make(map[string]string)}
	if info.ContainerJSONBase != nil && info.State != nil {
		m.State = info.State.Status
	}
	if info.NetworkSettings != nil {
		if ep, ok := info.NetworkSettings.Networks[f.name]; ok && ep != nil {
			m.IP = ep.IPAddress
		}
		for port, bindings := range info.NetworkSettings.Ports {
			if len(bindings) > 0 {
				m.Ports[string(port)] = fmt.Sprintf("%s:%s", bindings[0].HostIP, bindings[0].HostPort)
			}
		}
	}
	return m, nil
}

// Status lists the fleet's members sorted by host, with the overall status.
func (f *Fleet) Status(ctx context.Context) ([]Member, Status, error) {
	containers, err := f.containers(ctx)
	if err != nil {
		return nil, StatusStopped, err
	}

	members := make([]Member, 0, len(containers))
	for _, c := range containers {
		m, err := f.inspect(ctx, c.Labels[LabelHost], c.ID)
		if err != nil {
			return nil, StatusStopped, err
		}
		if m.State == "" {
			m.State = c.State
		}
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Host < members[j].Host })
	return members, DetermineStatus(containers), nil
}

// Down removes every fleet container and the network.
func (f *Fleet) Down(ctx context.Context) error {
	containers, err := f.containers(ctx)
	if err != nil {
		return err
	}

	for _, c := range containers {
		if err := f.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("failed to remove container %s: %w", c.Labels[LabelHost], err)
		}
		f.logger.WithFields(logrus.Fields{"event_type": "node_container_removed", "host": c.Labels[LabelHost]}).Info("removed fleet container")
	}

	networks, err := f.cli.NetworkList(ctx, types.NetworkListOptions{
		Filters: filters.NewArgs(filters.Arg("label", FleetFilter(f.name))),
	})
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}
	for _, n := range networks {
		if err := f.cli.NetworkRemove(ctx, n.ID); err != nil {
			return fmt.Errorf("failed to remove network %s: %w", n.Name, err)
		}
	}
	return nil
}
