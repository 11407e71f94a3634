package cluster

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jinzhu/copier"
)

// Partitioner selects the token space used for initial token planning.
type Partitioner string

const (
	// PartitionerMurmur3 uses the signed 64-bit token range.
	PartitionerMurmur3 Partitioner = "murmur3"

	// PartitionerRandom uses the [0, 2^127) token range.
	PartitionerRandom Partitioner = "random"
)

// ClassName returns the partitioner class written to cassandra.yaml.
func (p Partitioner) ClassName() (string, error) {
	switch p {
	case PartitionerMurmur3:
		return "org.apache.cassandra.dht.Murmur3Partitioner", nil
	case PartitionerRandom:
		return "org.apache.cassandra.dht.RandomPartitioner", nil
	default:
		return "", &UnsupportedPartitionerError{Partitioner: string(p)}
	}
}

// NodeSpec describes one host of the cluster.
type NodeSpec struct {
	Host         string `json:"host"`     // Transport address (key of the hosts mapping)
	Hostname     string `json:"hostname"` // Local hostname given to the machine
	InternalIP   string `json:"internal_ip"`
	ExternalIP   string `json:"external_ip,omitempty"`
	Datacenter   string `json:"datacenter,omitempty"`
	Rack         string `json:"rack,omitempty"`
	InitialToken string `json:"initial_token,omitempty"`
	Seed         bool   `json:"seed"`
}

// BroadcastAddress returns the address other nodes use to reach this node:
// the external address when present, otherwise the internal one.
func (n NodeSpec) BroadcastAddress() string {
	if n.ExternalIP != "" {
		return n.ExternalIP
	}
	return n.InternalIP
}

// ClusterSpec is the cluster-wide intent for one run. It is produced once by
// config.Build and must be treated as read-only afterwards.
type ClusterSpec struct {
	Name            string        `json:"name"`
	Revision        string        `json:"revision"`
	OverrideVersion string        `json:"override_version,omitempty"`
	Partitioner     Partitioner   `json:"partitioner"`
	UseVnodes       bool          `json:"use_vnodes"`
	NumTokens       int           `json:"num_tokens"`
	JavaHome        string        `json:"java_home,omitempty"`
	UseJNA          bool          `json:"use_jna"`
	Env             OverrideValue `json:"-"`
	EndpointSnitch  string        `json:"endpoint_snitch,omitempty"`

	DataFileDirectories  []string `json:"data_file_directories"`
	CommitlogDirectory   string   `json:"commitlog_directory"`
	SavedCachesDirectory string   `json:"saved_caches_directory"`
	FlushDirectory       string   `json:"flush_directory"`
	LogDir               string   `json:"log_dir,omitempty"`

	Nodes []NodeSpec `json:"nodes"`
	Seeds []string   `json:"seeds"`

	// Options holds the legacy top-level overrides. Only keys present in the
	// option schema are applied; the rest are ignored.
	Options map[string]any `json:"options,omitempty"`

	// YAML holds the strict overrides. Every key must exist in the option schema.
	YAML map[string]any `json:"yaml,omitempty"`
}

// Hosts returns the transport addresses in cluster order.
func (s ClusterSpec) Hosts() []string {
	hosts := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		hosts[i] = n.Host
	}
	return hosts
}

// Node looks up a node by transport address.
func (s ClusterSpec) Node(host string) (NodeSpec, bool) {
	for _, n := range s.Nodes {
		if n.Host == host {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// BroadcastAddresses returns every node's broadcast address in cluster order.
func (s ClusterSpec) BroadcastAddresses() []string {
	addrs := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		addrs[i] = n.BroadcastAddress()
	}
	return addrs
}

// StateKey identifies the cluster for persisted lifecycle state. It is derived
// from the ordered host list so it survives a regenerated cluster name.
func (s ClusterSpec) StateKey() string {
	sum := sha256.Sum256([]byte(strings.Join(s.Hosts(), "\n")))
	return hex.EncodeToString(sum[:])[:16]
}

// Clone returns a deep copy of s. Override maps hold decoded YAML and
// are copied with CopyMap.
func (s ClusterSpec) Clone() (ClusterSpec, error) {
	src := s
	src.Options, src.YAML = nil, nil

	var out ClusterSpec
	if err := copier.CopyWithOption(&out, &src, copier.Option{DeepCopy: true}); err != nil {
		return ClusterSpec{}, fmt.Errorf("failed to copy cluster spec: %w", err)
	}
	out.Env = s.Env
	out.Options = CopyMap(s.Options)
	out.YAML = CopyMap(s.YAML)
	return out, nil
}
