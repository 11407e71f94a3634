package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dyluth/cstar/internal/tokens"
	"github.com/dyluth/cstar/pkg/cluster"
)

// Snitches accepted for endpoint_snitch. Empty means derive from placement.
const (
	SnitchSimple           = "SimpleSnitch"
	SnitchGossipingPFS     = "GossipingPropertyFileSnitch"
	SnitchPropertyFile     = "PropertyFileSnitch"
	DefaultRevision        = "trunk"
	DefaultNumTokens       = 256
	DefaultClusterNameBase = "cstar_perf"
)

// Default data directories on every node.
var (
	DefaultDataFileDirectories  = []string{"/var/lib/cassandra/data"}
	DefaultCommitlogDirectory   = "/var/lib/cassandra/commitlog"
	DefaultSavedCachesDirectory = "/var/lib/cassandra/saved_caches"
	DefaultFlushDirectory       = "/var/lib/cassandra/flush"
)

// ClusterFile represents the top-level cluster.yml document
type ClusterFile struct {
	Revision             string                `yaml:"revision,omitempty"`
	OverrideVersion      string                `yaml:"override_version,omitempty"` // Passed to ant as -Dversion
	ClusterName          string                `yaml:"cluster_name,omitempty"`
	Partitioner          string                `yaml:"partitioner,omitempty"` // murmur3 or random
	UseVnodes            *bool                 `yaml:"use_vnodes,omitempty"`
	NumTokens            int                   `yaml:"num_tokens,omitempty"` // Ignored unless use_vnodes
	JavaHome             string                `yaml:"java_home,omitempty"`
	UseJNA               *bool                 `yaml:"use_jna,omitempty"`
	Env                  cluster.OverrideValue `yaml:"env,omitempty"` // Prepended to cassandra-env.sh
	EndpointSnitch       string                `yaml:"endpoint_snitch,omitempty"`
	DataFileDirectories  []string              `yaml:"data_file_directories,omitempty"`
	CommitlogDirectory   string                `yaml:"commitlog_directory,omitempty"`
	SavedCachesDirectory string                `yaml:"saved_caches_directory,omitempty"`
	FlushDirectory       string                `yaml:"flush_directory,omitempty"`
	LogDir               string                `yaml:"log_dir,omitempty"`
	Hosts                Hosts                 `yaml:"hosts"`

	// Strict cassandra.yaml overrides, validated against the option schema
	YAML map[string]any `yaml:"yaml,omitempty"`

	// Everything else at the top level is a legacy cassandra.yaml option
	Extra map[string]any `yaml:",inline"`
}

// Host is one entry of the hosts mapping
type Host struct {
	Hostname     string `yaml:"hostname,omitempty"`
	InternalIP   string `yaml:"internal_ip"`
	ExternalIP   string `yaml:"external_ip,omitempty"`
	Datacenter   string `yaml:"datacenter,omitempty"`
	Rack         string `yaml:"rack,omitempty"`
	InitialToken string `yaml:"initial_token,omitempty"`
	Seed         *bool  `yaml:"seed,omitempty"`
}

// HostEntry pairs a transport address with its host settings
type HostEntry struct {
	Address string
	Host
}

// Hosts keeps the hosts mapping in document order
type Hosts []HostEntry

// UnmarshalYAML decodes a mapping of address → Host, preserving order
func (h *Hosts) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: hosts must be a mapping of address to host settings", node.Line)
	}

	seen := make(map[string]bool, len(node.Content)/2)
	out := make(Hosts, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if seen[key.Value] {
			return fmt.Errorf("line %d: duplicate host '%s'", key.Line, key.Value)
		}
		seen[key.Value] = true

		var host Host
		if err := value.Decode(&host); err != nil {
			return fmt.Errorf("host '%s': %w", key.Value, err)
		}
		out = append(out, HostEntry{Address: key.Value, Host: host})
	}
	*h = out
	return nil
}

// MarshalYAML writes the hosts back as an ordered mapping
func (h Hosts) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, entry := range h {
		var value yaml.Node
		if err := value.Encode(entry.Host); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: entry.Address},
			&value)
	}
	return node, nil
}

// ApplyDefaults fills unset fields with their defaults
func (c *ClusterFile) ApplyDefaults() {
	if c.Revision == "" {
		c.Revision = DefaultRevision
	}
	if c.ClusterName == "" {
		c.ClusterName = fmt.Sprintf("%s %s", DefaultClusterNameBase, strings.Split(uuid.NewString(), "-")[0])
	}
	if c.Partitioner == "" {
		c.Partitioner = string(cluster.PartitionerMurmur3)
	}
	if c.UseVnodes == nil {
		enabled := true
		c.UseVnodes = &enabled
	}
	if c.NumTokens == 0 {
		c.NumTokens = DefaultNumTokens
	}
	if c.UseJNA == nil {
		enabled := true
		c.UseJNA = &enabled
	}
	if len(c.DataFileDirectories) == 0 {
		c.DataFileDirectories = append([]string(nil), DefaultDataFileDirectories...)
	}
	if c.CommitlogDirectory == "" {
		c.CommitlogDirectory = DefaultCommitlogDirectory
	}
	if c.SavedCachesDirectory == "" {
		c.SavedCachesDirectory = DefaultSavedCachesDirectory
	}
	if c.FlushDirectory == "" {
		c.FlushDirectory = DefaultFlushDirectory
	}
}

// Validate performs strict validation on the cluster file
func (c *ClusterFile) Validate() error {
	if len(c.Hosts) == 0 {
		return &cluster.ConfigurationError{Reason: "no hosts defined"}
	}

	for _, entry := range c.Hosts {
		if entry.Address == "" {
			return &cluster.ConfigurationError{Reason: "host address must not be empty"}
		}
		if entry.InternalIP == "" {
			return &cluster.ConfigurationError{Node: entry.Address, Reason: "internal_ip is required"}
		}
	}

	if _, err := cluster.Partitioner(c.Partitioner).ClassName(); err != nil {
		return err
	}

	switch c.EndpointSnitch {
	case "", SnitchSimple, SnitchGossipingPFS, SnitchPropertyFile:
	default:
		return &cluster.ConfigurationError{
			Reason: fmt.Sprintf("invalid endpoint_snitch: %s (must be '%s', '%s' or '%s')",
				c.EndpointSnitch, SnitchSimple, SnitchGossipingPFS, SnitchPropertyFile),
		}
	}

	if c.OverrideVersion != "" {
		if _, err := semver.NewVersion(c.OverrideVersion); err != nil {
			return &cluster.ConfigurationError{Reason: fmt.Sprintf("invalid override_version %q: %v", c.OverrideVersion, err)}
		}
	}

	if c.NumTokens < 0 {
		return &cluster.ConfigurationError{Reason: fmt.Sprintf("num_tokens must be >= 1, got %d", c.NumTokens)}
	}

	return nil
}

// Parse decodes and validates a cluster file from bytes
func Parse(data []byte) (*ClusterFile, error) {
	var file ClusterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	file.ApplyDefaults()
	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cluster file: %w", err)
	}
	return &file, nil
}

// Load reads and validates cluster.yml from the specified path
func Load(path string) (*ClusterFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cluster file: %w", err)
	}
	return Parse(data)
}

// Build converts the file into the immutable cluster spec. This is the only
// place node tokens and seed flags are assigned.
func (c *ClusterFile) Build() (cluster.ClusterSpec, error) {
	spec := cluster.ClusterSpec{
		Name:                 c.ClusterName,
		Revision:             c.Revision,
		OverrideVersion:      c.OverrideVersion,
		Partitioner:          cluster.Partitioner(c.Partitioner),
		UseVnodes:            c.UseVnodes == nil || *c.UseVnodes,
		NumTokens:            c.NumTokens,
		JavaHome:             c.JavaHome,
		UseJNA:               c.UseJNA == nil || *c.UseJNA,
		Env:                  c.Env,
		EndpointSnitch:       c.EndpointSnitch,
		DataFileDirectories:  append([]string(nil), c.DataFileDirectories...),
		CommitlogDirectory:   c.CommitlogDirectory,
		SavedCachesDirectory: c.SavedCachesDirectory,
		FlushDirectory:       c.FlushDirectory,
		LogDir:               c.LogDir,
	}

	seeded := false
	for _, entry := range c.Hosts {
		if entry.Seed != nil && *entry.Seed {
			seeded = true
		}
		spec.Nodes = append(spec.Nodes, cluster.NodeSpec{
			Host:         entry.Address,
			Hostname:     entry.Hostname,
			InternalIP:   entry.InternalIP,
			ExternalIP:   entry.ExternalIP,
			Datacenter:   entry.Datacenter,
			Rack:         entry.Rack,
			InitialToken: entry.InitialToken,
			Seed:         entry.Seed != nil && *entry.Seed,
		})
	}

	// With no host flagged seed, the first host without an explicit seed
	// setting is promoted. Hosts that all say seed: false leave no seeds.
	if !seeded {
		for i, entry := range c.Hosts {
			if entry.Seed == nil {
				spec.Nodes[i].Seed = true
				break
			}
		}
	}

	if !spec.UseVnodes {
		if err := assignTokens(&spec); err != nil {
			return cluster.ClusterSpec{}, err
		}
	}

	for _, n := range spec.Nodes {
		if n.Seed {
			spec.Seeds = append(spec.Seeds, n.BroadcastAddress())
		}
	}

	spec.Options = c.legacyOptions()
	if len(c.YAML) > 0 {
		spec.YAML = make(map[string]any, len(c.YAML))
		for k, v := range c.YAML {
			spec.YAML[k] = v
		}
	}

	return spec, nil
}

// assignTokens retokenizes every node when any node lacks a token, then
// checks that the resulting token set is well formed and collision-free.
func assignTokens(spec *cluster.ClusterSpec) error {
	missing := false
	for _, n := range spec.Nodes {
		if n.InitialToken == "" {
			missing = true
			break
		}
	}

	if missing {
		planned, err := tokens.PlanStrings(spec.Partitioner, len(spec.Nodes))
		if err != nil {
			return err
		}
		for i := range spec.Nodes {
			spec.Nodes[i].InitialToken = planned[i]
		}
		return nil
	}

	seen := make(map[string]string, len(spec.Nodes))
	for _, n := range spec.Nodes {
		tok, ok := new(big.Int).SetString(n.InitialToken, 10)
		if !ok {
			return &cluster.ConfigurationError{Node: n.Host, Reason: fmt.Sprintf("initial_token %q is not an integer", n.InitialToken)}
		}
		key := tok.String()
		if other, dup := seen[key]; dup {
			return &cluster.ConfigurationError{
				Node:   n.Host,
				Reason: fmt.Sprintf("initial_token %s collides with host %s", key, other),
			}
		}
		seen[key] = n.Host
	}
	return nil
}

// legacyOptions collects the top-level values that may map onto
// cassandra.yaml options. Unknown keys are filtered later against the schema.
func (c *ClusterFile) legacyOptions() map[string]any {
	opts := map[string]any{
		"cluster_name":           c.ClusterName,
		"num_tokens":             c.NumTokens,
		"data_file_directories":  append([]string(nil), c.DataFileDirectories...),
		"commitlog_directory":    c.CommitlogDirectory,
		"saved_caches_directory": c.SavedCachesDirectory,
		"flush_directory":        c.FlushDirectory,
	}
	if c.EndpointSnitch != "" {
		opts["endpoint_snitch"] = c.EndpointSnitch
	}
	for k, v := range c.Extra {
		opts[k] = v
	}
	return opts
}
