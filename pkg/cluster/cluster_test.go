package cluster

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPartitioner_ClassName(t *testing.T) {
	name, err := PartitionerMurmur3.ClassName()
	require.NoError(t, err)
	assert.Equal(t, "org.apache.cassandra.dht.Murmur3Partitioner", name)

	name, err = PartitionerRandom.ClassName()
	require.NoError(t, err)
	assert.Equal(t, "org.apache.cassandra.dht.RandomPartitioner", name)

	_, err = Partitioner("byteordered").ClassName()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedPartitioner))
}

func TestNodeSpec_BroadcastAddress(t *testing.T) {
	assert.Equal(t, "10.0.0.1", NodeSpec{InternalIP: "10.0.0.1"}.BroadcastAddress())
	assert.Equal(t, "1.2.3.4", NodeSpec{InternalIP: "10.0.0.1", ExternalIP: "1.2.3.4"}.BroadcastAddress())
}

func TestClusterSpec_StateKeyDependsOnHostOrder(t *testing.T) {
	a := ClusterSpec{Nodes: []NodeSpec{{Host: "n1"}, {Host: "n2"}}}
	b := ClusterSpec{Name: "other", Nodes: []NodeSpec{{Host: "n1"}, {Host: "n2"}}}
	c := ClusterSpec{Nodes: []NodeSpec{{Host: "n2"}, {Host: "n1"}}}

	assert.Len(t, a.StateKey(), 16)
	assert.Equal(t, a.StateKey(), b.StateKey())
	assert.NotEqual(t, a.StateKey(), c.StateKey())
}

func TestClusterSpec_CloneIsDeep(t *testing.T) {
	spec := ClusterSpec{
		Name:    "c1",
		Env:     List("A=1", "B=2"),
		Nodes:   []NodeSpec{{Host: "n1", InternalIP: "10.0.0.1"}},
		Seeds:   []string{"10.0.0.1"},
		Options: map[string]any{"concurrent_reads": 32},
		YAML:    map[string]any{"hinted_handoff_enabled": false},
	}

	clone, err := spec.Clone()
	require.NoError(t, err)

	clone.Nodes[0].InternalIP = "10.9.9.9"
	clone.Seeds[0] = "10.9.9.9"
	clone.Options["concurrent_reads"] = 64

	assert.Equal(t, "10.0.0.1", spec.Nodes[0].InternalIP)
	assert.Equal(t, "10.0.0.1", spec.Seeds[0])
	assert.Equal(t, 32, spec.Options["concurrent_reads"])
	assert.Equal(t, "A=1\nB=2", clone.Env.String())
}

func TestOverrideValue_UnmarshalYAML(t *testing.T) {
	var doc struct {
		Scalar OverrideValue `yaml:"scalar"`
		List   OverrideValue `yaml:"list"`
		Empty  OverrideValue `yaml:"empty"`
	}
	src := `
scalar: "export FOO=1"
list:
  - export A=1
  - export B=2
empty: ~
`
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))

	assert.Equal(t, OverrideScalar, doc.Scalar.Kind())
	assert.Equal(t, []string{"export FOO=1"}, doc.Scalar.Lines())

	assert.Equal(t, OverrideList, doc.List.Kind())
	assert.Equal(t, "export A=1\nexport B=2", doc.List.String())

	assert.True(t, doc.Empty.IsZero())
	assert.Nil(t, doc.Empty.Lines())
}

func TestOverrideValue_RejectsMapping(t *testing.T) {
	var doc struct {
		Env OverrideValue `yaml:"env"`
	}
	err := yaml.Unmarshal([]byte("env:\n  a: b\n"), &doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "string or a list")
}

func TestNodeState_Transitions(t *testing.T) {
	tests := []struct {
		from, to NodeState
		allowed  bool
	}{
		{StateUnprovisioned, StateConfigured, true},
		{StateUnprovisioned, StateRunning, false},
		{StateConfigured, StateStarting, true},
		{StateStarting, StateRunning, true},
		{StateStarting, StateFailed, true},
		{StateRunning, StateStopping, true},
		{StateRunning, StateStopped, false},
		{StateStopping, StateStopped, true},
		{StateStopping, StateFailed, true},
		{StateStopped, StateStarting, true},
		{StateRunning, StateUnprovisioned, true},
		{NodeState("bogus"), StateUnprovisioned, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestErrors_Is(t *testing.T) {
	assert.ErrorIs(t, &ConfigurationError{Reason: "no seeds"}, ErrConfiguration)
	assert.ErrorIs(t, &UnknownOptionError{Key: "x"}, ErrConfiguration)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", &BuildError{Revision: "abc", Err: errors.New("ant")}), ErrBuild)
	assert.ErrorIs(t, &ConvergenceTimeoutError{Operation: "ensure running"}, ErrConvergenceTimeout)
	assert.ErrorIs(t, &TransportError{Host: "n1", Op: "run", Err: errors.New("eof")}, ErrTransport)

	err := &ConvergenceTimeoutError{Operation: "ensure running", Attempts: 15, Down: []string{"10.0.0.2"}}
	assert.Equal(t, "ensure running: timed out after 15 attempts (waiting on: 10.0.0.2)", err.Error())
}

func TestResolvedConfig_MarshalIsDeterministic(t *testing.T) {
	cfg := ResolvedConfig{
		"listen_address": "10.0.0.1",
		"cluster_name":   "c1",
		"num_tokens":     256,
	}

	first, err := cfg.Marshal()
	require.NoError(t, err)
	second, err := cfg.Marshal()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "cluster_name: c1\nlisten_address: 10.0.0.1\nnum_tokens: 256\n", string(first))
}

func TestCopyMap_Nested(t *testing.T) {
	src := map[string]any{
		"seed_provider": []any{
			map[string]any{
				"class_name": "org.apache.cassandra.locator.SimpleSeedProvider",
				"parameters": []any{map[string]any{"seeds": "10.0.0.1"}},
			},
		},
		"dirs": []string{"/a"},
	}

	dst := CopyMap(src)
	params := dst["seed_provider"].([]any)[0].(map[string]any)["parameters"].([]any)[0].(map[string]any)
	params["seeds"] = "changed"
	dst["dirs"].([]string)[0] = "/b"

	orig := src["seed_provider"].([]any)[0].(map[string]any)["parameters"].([]any)[0].(map[string]any)
	assert.Equal(t, "10.0.0.1", orig["seeds"])
	assert.Equal(t, "/a", src["dirs"].([]string)[0])
	assert.Nil(t, CopyMap(nil))
}
