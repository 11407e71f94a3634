// Package topology derives the snitch and placement files for a cluster.
package topology

import (
	"fmt"
	"strings"

	"github.com/dyluth/cstar/pkg/cluster"
)

// Mode is the topology layout.
type Mode string

const (
	ModeSimple       Mode = "simple"
	ModeGossiping    Mode = "gossiping-property-file"
	ModePropertyFile Mode = "property-file"
)

// Snitch class names.
const (
	SimpleSnitch                = "SimpleSnitch"
	GossipingPropertyFileSnitch = "GossipingPropertyFileSnitch"
	PropertyFileSnitch          = "PropertyFileSnitch"
)

// Placement defaults for nodes without labels.
const (
	DefaultDatacenter = "dc1"
	DefaultRack       = "r1"
)

// File names written under conf/.
const (
	TopologyFile = "cassandra-topology.properties"
	RackDCFile   = "cassandra-rackdc.properties"
)

// Placement is one node's datacenter and rack.
type Placement struct {
	Address    string
	Datacenter string
	Rack       string
}

// Config is the resolved topology.
type Config struct {
	Mode                 Mode
	Snitch               string
	DisableAutoBootstrap bool
	Placements           []Placement // Empty in simple mode
}

// Resolve picks the topology for nodes. An explicit snitch wins; otherwise
// any datacenter label selects the gossiping layout, and a multi-dc layout
// derived this way turns auto bootstrap off. nodes must not be empty.
func Resolve(nodes []cluster.NodeSpec, snitch string) Config {
	if len(nodes) == 0 {
		panic("topology: Resolve called with no nodes")
	}

	var cfg Config
	switch snitch {
	case PropertyFileSnitch:
		cfg = Config{Mode: ModePropertyFile, Snitch: PropertyFileSnitch}
	case GossipingPropertyFileSnitch:
		cfg = Config{Mode: ModeGossiping, Snitch: GossipingPropertyFileSnitch}
	case SimpleSnitch:
		cfg = Config{Mode: ModeSimple, Snitch: SimpleSnitch}
	default:
		cfg = Config{Mode: ModeSimple, Snitch: SimpleSnitch}
		for _, n := range nodes {
			if n.Datacenter != "" {
				cfg = Config{Mode: ModeGossiping, Snitch: GossipingPropertyFileSnitch, DisableAutoBootstrap: true}
				break
			}
		}
	}

	if cfg.Mode != ModeSimple {
		cfg.Placements = make([]Placement, len(nodes))
		for i, n := range nodes {
			cfg.Placements[i] = placementOf(n)
		}
	}
	return cfg
}

func placementOf(n cluster.NodeSpec) Placement {
	p := Placement{Address: n.BroadcastAddress(), Datacenter: n.Datacenter, Rack: n.Rack}
	if p.Datacenter == "" {
		p.Datacenter = DefaultDatacenter
	}
	if p.Rack == "" {
		p.Rack = DefaultRack
	}
	return p
}

// LocalPlacement returns the node's own datacenter and rack.
func LocalPlacement(node cluster.NodeSpec) Placement {
	return placementOf(node)
}

// PropertyFile renders cassandra-topology.properties for every node.
func PropertyFile(cfg Config) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "default=%s:%s\n", DefaultDatacenter, DefaultRack)
	for _, p := range cfg.Placements {
		fmt.Fprintf(&b, "%s=%s:%s\n", p.Address, p.Datacenter, p.Rack)
	}
	return []byte(b.String())
}

// RackDC renders cassandra-rackdc.properties for one node.
func RackDC(p Placement) []byte {
	return []byte(fmt.Sprintf("dc=%s\nrack=%s\n", p.Datacenter, p.Rack))
}

// Files returns the conf files node needs, keyed by file name.
func Files(cfg Config, node cluster.NodeSpec) map[string][]byte {
	switch cfg.Mode {
	case ModePropertyFile:
		return map[string][]byte{TopologyFile: PropertyFile(cfg)}
	case ModeGossiping:
		return map[string][]byte{RackDCFile: RackDC(LocalPlacement(node))}
	default:
		return nil
	}
}

// Apply writes the topology settings into a node's resolved config.
func Apply(cfg Config, resolved cluster.ResolvedConfig) {
	if cfg.Mode != ModeSimple {
		resolved["endpoint_snitch"] = cfg.Snitch
	}
	if cfg.DisableAutoBootstrap {
		resolved["auto_bootstrap"] = false
	}
}
