package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dyluth/cstar/pkg/cluster"
)

func nodes() []cluster.NodeSpec {
	return []cluster.NodeSpec{
		{Host: "n0", InternalIP: "10.0.0.1", ExternalIP: "1.1.1.1"},
		{Host: "n1", InternalIP: "10.0.0.2"},
	}
}

func TestResolve_SimpleWithoutLabels(t *testing.T) {
	cfg := Resolve(nodes(), "")
	assert.Equal(t, ModeSimple, cfg.Mode)
	assert.Equal(t, SimpleSnitch, cfg.Snitch)
	assert.False(t, cfg.DisableAutoBootstrap)
	assert.Empty(t, cfg.Placements)
	assert.Nil(t, Files(cfg, nodes()[0]))

	resolved := cluster.ResolvedConfig{"endpoint_snitch": "SimpleSnitch"}
	Apply(cfg, resolved)
	assert.NotContains(t, resolved, "auto_bootstrap")
}

func TestResolve_DatacenterLabelSelectsGossiping(t *testing.T) {
	ns := nodes()
	ns[1].Datacenter = "east"
	ns[1].Rack = "rack7"

	cfg := Resolve(ns, "")
	assert.Equal(t, ModeGossiping, cfg.Mode)
	assert.Equal(t, GossipingPropertyFileSnitch, cfg.Snitch)
	assert.True(t, cfg.DisableAutoBootstrap)

	files := Files(cfg, ns[1])
	assert.Equal(t, "dc=east\nrack=rack7\n", string(files[RackDCFile]))
	files = Files(cfg, ns[0])
	assert.Equal(t, "dc=dc1\nrack=r1\n", string(files[RackDCFile]))

	resolved := cluster.ResolvedConfig{}
	Apply(cfg, resolved)
	assert.Equal(t, GossipingPropertyFileSnitch, resolved["endpoint_snitch"])
	assert.Equal(t, false, resolved["auto_bootstrap"])
}

func TestResolve_ExplicitGossipingKeepsAutoBootstrap(t *testing.T) {
	cfg := Resolve(nodes(), GossipingPropertyFileSnitch)
	assert.Equal(t, ModeGossiping, cfg.Mode)
	assert.False(t, cfg.DisableAutoBootstrap)
}

func TestResolve_PropertyFile(t *testing.T) {
	ns := nodes()
	ns[0].Datacenter = "east"

	cfg := Resolve(ns, PropertyFileSnitch)
	assert.Equal(t, ModePropertyFile, cfg.Mode)
	assert.False(t, cfg.DisableAutoBootstrap)
	assert.Equal(t, []Placement{
		{Address: "1.1.1.1", Datacenter: "east", Rack: "r1"},
		{Address: "10.0.0.2", Datacenter: "dc1", Rack: "r1"},
	}, cfg.Placements)

	files := Files(cfg, ns[0])
	assert.Equal(t, "default=dc1:r1\n1.1.1.1=east:r1\n10.0.0.2=dc1:r1\n", string(files[TopologyFile]))
}

func TestResolve_PanicsOnEmptyNodes(t *testing.T) {
	assert.Panics(t, func() { Resolve(nil, "") })
}
