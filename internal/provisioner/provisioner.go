// Package provisioner materializes a cluster spec on its hosts: it resolves
// the revision, builds or reuses it, and writes each node's configuration.
package provisioner

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/dyluth/cstar/internal/buildcache"
	"github.com/dyluth/cstar/internal/layout"
	"github.com/dyluth/cstar/internal/merge"
	"github.com/dyluth/cstar/internal/schema"
	"github.com/dyluth/cstar/internal/topology"
	"github.com/dyluth/cstar/internal/transport"
	"github.com/dyluth/cstar/pkg/cluster"
)

// JNACandidates are system jars linked into lib/ when a build ships no JNA.
var JNACandidates = []string{"/usr/share/java/jna/jna.jar", "/usr/share/java/jna.jar"}

// Config wires a Provisioner.
type Config struct {
	Executor  transport.Executor
	Layout    layout.Layout
	Cache     *buildcache.Cache
	Schema    schema.Source
	BuildHost string // Empty means the first cluster host
	Logger    logrus.FieldLogger
}

// Provisioner prepares builds and configures nodes.
type Provisioner struct {
	exec      transport.Executor
	layout    layout.Layout
	cache     *buildcache.Cache
	schema    schema.Source
	buildHost string
	logger    logrus.FieldLogger
}

// New validates cfg and returns a Provisioner.
func New(cfg Config) (*Provisioner, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("build cache is required")
	}
	if cfg.Schema == nil {
		return nil, fmt.Errorf("option schema source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Provisioner{
		exec:      cfg.Executor,
		layout:    cfg.Layout,
		cache:     cfg.Cache,
		schema:    cfg.Schema,
		buildHost: cfg.BuildHost,
		logger:    logger.WithField("component", "provisioner"),
	}, nil
}

// Plan is the cluster-wide half of provisioning. It pins the build in the
// cache until Release is called.
type Plan struct {
	Spec       cluster.ClusterSpec
	BuildHost  string
	RevisionID string
	Options    schema.Set
	Topology   topology.Config
	Defaults   map[string]any // cassandra.yaml shipped with the build

	p     *Provisioner
	lease *buildcache.Lease

	archiveOnce sync.Once
	archive     []byte
	archiveErr  error
}

// Release unpins the build.
func (pl *Plan) Release() {
	if pl.lease != nil {
		pl.lease.Release()
	}
}

// Location is the build tree on the build host.
func (pl *Plan) Location() string {
	return pl.lease.Artifact.Location
}

// Prepare resolves the revision, gets the build from the cache and checks
// every cluster-wide setting. Nothing on the cluster nodes is changed.
func (p *Provisioner) Prepare(ctx context.Context, spec cluster.ClusterSpec) (*Plan, error) {
	if len(spec.Nodes) == 0 {
		return nil, &cluster.ConfigurationError{Reason: "no hosts defined"}
	}
	if len(spec.Seeds) == 0 {
		return nil, &cluster.ConfigurationError{Reason: "no seed nodes defined, the cluster cannot bootstrap"}
	}
	if _, err := spec.Partitioner.ClassName(); err != nil {
		return nil, err
	}

	buildHost := p.buildHost
	if buildHost == "" {
		buildHost = spec.Nodes[0].Host
	}

	revisionID, err := ResolveRevision(ctx, p.exec, p.layout, buildHost, spec.Revision)
	if err != nil {
		return nil, err
	}
	p.logger.WithFields(logrus.Fields{"event_type": "revision_resolved", "revision": spec.Revision, "revision_id": revisionID}).Info("resolved revision")

	builder := &GitBuilder{
		Exec:            p.exec,
		Layout:          p.layout,
		Host:            buildHost,
		JavaHome:        spec.JavaHome,
		OverrideVersion: spec.OverrideVersion,
		Logger:          p.logger,
	}
	lease, err := p.cache.Acquire(ctx, revisionID, builder.Build)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Spec:       spec,
		BuildHost:  buildHost,
		RevisionID: revisionID,
		p:          p,
		lease:      lease,
	}
	if err := p.check(ctx, plan); err != nil {
		lease.Release()
		return nil, err
	}
	return plan, nil
}

func (p *Provisioner) check(ctx context.Context, plan *Plan) error {
	spec := plan.Spec

	opts, err := p.schema.ListOptionNames(ctx, schema.Target{
		Version:  plan.RevisionID,
		Host:     plan.BuildHost,
		Tree:     plan.Location(),
		JavaHome: spec.JavaHome,
	})
	if err != nil {
		return fmt.Errorf("failed to list cassandra.yaml options: %w", err)
	}
	plan.Options = opts

	// Catches unknown strict keys and reserved-key clashes before any node is touched
	if _, err := merge.Merge(nil, spec.Options, spec.YAML, opts); err != nil {
		return err
	}
	if dropped := merge.DroppedLegacyKeys(spec.Options, opts); len(dropped) > 0 {
		p.logger.WithFields(logrus.Fields{"event_type": "legacy_options_ignored", "keys": dropped}).Debug("ignoring top-level keys that are not cassandra.yaml options")
	}

	shipped, err := p.exec.Get(ctx, plan.BuildHost, path.Join(plan.Location(), "conf", "cassandra.yaml"))
	if err != nil {
		return fmt.Errorf("failed to read shipped cassandra.yaml: %w", err)
	}
	var defaults map[string]any
	if err := yaml.Unmarshal(shipped, &defaults); err != nil {
		return fmt.Errorf("failed to parse shipped cassandra.yaml: %w", err)
	}
	plan.Defaults = defaults

	plan.Topology = topology.Resolve(spec.Nodes, spec.EndpointSnitch)
	return nil
}

// Archive returns the packed build, fetching it from the build host once.
func (pl *Plan) Archive(ctx context.Context) ([]byte, error) {
	pl.archiveOnce.Do(func() {
		pl.archive, pl.archiveErr = pl.p.exec.Get(ctx, pl.BuildHost, pl.Location()+".tar")
	})
	return pl.archive, pl.archiveErr
}

// NodeResult describes what was written to one node.
type NodeResult struct {
	Host       string
	RevisionID string
	Config     cluster.ResolvedConfig
	ConfigYAML []byte
	Placement  topology.Placement
	Files      []string // Remote files written besides the install tree
}

// RenderNode computes a node's cassandra.yaml and topology files without
// touching the node.
func (pl *Plan) RenderNode(node cluster.NodeSpec) (cluster.ResolvedConfig, []byte, map[string][]byte, error) {
	cfg, err := merge.Resolve(pl.Spec, node, pl.Defaults, pl.Options)
	if err != nil {
		return nil, nil, nil, err
	}
	topology.Apply(pl.Topology, cfg)

	data, err := cfg.Marshal()
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, data, topology.Files(pl.Topology, node), nil
}

// ProvisionNode installs the build on one node and writes its configuration.
// The configuration is resolved first so a bad node fails before any change.
func (p *Provisioner) ProvisionNode(ctx context.Context, plan *Plan, host string) (*NodeResult, error) {
	node, ok := plan.Spec.Node(host)
	if !ok {
		return nil, &cluster.ConfigurationError{Node: host, Reason: "host is not part of the cluster"}
	}

	cfg, data, files, err := plan.RenderNode(node)
	if err != nil {
		return nil, err
	}

	archive, err := plan.Archive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch build archive: %w", err)
	}

	l := p.layout
	log := p.logger.WithField("host", host)
	log.WithFields(logrus.Fields{"event_type": "node_provisioning", "revision_id": plan.RevisionID}).Info("installing build")

	run := func(cmd transport.Command) error {
		_, err := transport.Check(ctx, p.exec, host, cmd)
		return err
	}

	if err := run(transport.Cmd("mkdir", "-p", l.Root)); err != nil {
		return nil, err
	}
	if err := p.exec.Put(ctx, host, archive, l.NodeArchive()); err != nil {
		return nil, err
	}
	for _, cmd := range []transport.Command{
		transport.Cmd("rm", "-rf", l.Install()),
		transport.Cmd("mkdir", "-p", l.Install()),
		transport.Cmd("tar", "-xf", l.NodeArchive(), "-C", l.Install()),
		transport.Cmd("rm", "-f", l.NodeArchive()),
	} {
		if err := run(cmd); err != nil {
			return nil, err
		}
	}

	written := []string{l.RevisionMarker()}
	marker := fmt.Sprintf("%s\n%s\nprovisioned by cstar for cluster %s\n", plan.Spec.Revision, plan.RevisionID, plan.Spec.Name)
	if err := p.exec.Put(ctx, host, []byte(marker), l.RevisionMarker()); err != nil {
		return nil, err
	}

	if err := p.configureJNA(ctx, host, plan.Spec.UseJNA); err != nil {
		return nil, err
	}

	if err := p.exec.Put(ctx, host, data, l.Conf("cassandra.yaml")); err != nil {
		return nil, err
	}
	written = append(written, l.Conf("cassandra.yaml"))

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := p.exec.Put(ctx, host, files[name], l.Conf(name)); err != nil {
			return nil, err
		}
		written = append(written, l.Conf(name))
	}

	// Start rebuilds cassandra-env.sh from this pristine copy every time
	if err := run(transport.Cmd("cp", l.Conf("cassandra-env.sh"), l.Conf("cassandra-env.sh.orig"))); err != nil {
		return nil, err
	}

	log.WithField("event_type", "node_provisioned").Info("node configured")
	return &NodeResult{
		Host:       host,
		RevisionID: plan.RevisionID,
		Config:     cfg,
		ConfigYAML: data,
		Placement:  topology.LocalPlacement(node),
		Files:      written,
	}, nil
}

// configureJNA makes sure a JNA jar is on the classpath, or removes bundled
// ones when JNA is disabled.
func (p *Provisioner) configureJNA(ctx context.Context, host string, useJNA bool) error {
	lib := p.layout.Lib()
	if !useJNA {
		_, err := transport.Check(ctx, p.exec, host, transport.Cmd("find", lib, "-maxdepth", "1", "-name", "jna*", "-delete"))
		return err
	}

	res, err := transport.Check(ctx, p.exec, host, transport.QuietCmd("find", lib, "-maxdepth", "1", "-name", "jna*.jar"))
	if err != nil {
		return err
	}
	if res.Success() && strings.TrimSpace(res.Stdout) != "" {
		return nil
	}

	for _, jar := range JNACandidates {
		ok, err := transport.Exists(ctx, p.exec, host, "-f", jar)
		if err != nil {
			return err
		}
		if ok {
			_, err := transport.Check(ctx, p.exec, host, transport.Cmd("ln", "-s", jar, path.Join(lib, "jna.jar")))
			return err
		}
	}
	return &cluster.ConfigurationError{Node: host, Reason: "use_jna is set but no JNA jar was found (tried " + strings.Join(JNACandidates, ", ") + ")"}
}
