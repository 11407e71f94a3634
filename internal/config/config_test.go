package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/cstar/pkg/cluster"
)

const threeNodes = `
revision: cassandra-4.1
cluster_name: perf
hosts:
  node0:
    hostname: node0
    internal_ip: 10.0.0.1
  node1:
    hostname: node1
    internal_ip: 10.0.0.2
  node2:
    hostname: node2
    internal_ip: 10.0.0.3
`

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "cluster.yml")
	require.NoError(t, os.WriteFile(path, []byte(threeNodes), 0644))

	file, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cassandra-4.1", file.Revision)
	assert.Equal(t, "perf", file.ClusterName)
	require.Len(t, file.Hosts, 3)
	assert.Equal(t, "node0", file.Hosts[0].Address)
	assert.Equal(t, "10.0.0.3", file.Hosts[2].InternalIP)
}

func TestLoad_FileNotFound(t *testing.T) {
	file, err := Load("/nonexistent/cluster.yml")
	assert.Error(t, err)
	assert.Nil(t, file)
	assert.Contains(t, err.Error(), "failed to read cluster file")
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("hosts:\n  - this is invalid\n    yaml syntax\n"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParse_HostsPreserveDocumentOrder(t *testing.T) {
	file, err := Parse([]byte(`
hosts:
  zeta: {internal_ip: 10.0.0.9}
  alpha: {internal_ip: 10.0.0.1}
  mid: {internal_ip: 10.0.0.5}
`))
	require.NoError(t, err)

	var order []string
	for _, h := range file.Hosts {
		order = append(order, h.Address)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, order)
}

func TestParse_Defaults(t *testing.T) {
	file, err := Parse([]byte("hosts:\n  n1: {internal_ip: 10.0.0.1}\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultRevision, file.Revision)
	assert.Equal(t, "murmur3", file.Partitioner)
	assert.True(t, *file.UseVnodes)
	assert.True(t, *file.UseJNA)
	assert.Equal(t, 256, file.NumTokens)
	assert.Equal(t, []string{"/var/lib/cassandra/data"}, file.DataFileDirectories)
	assert.True(t, strings.HasPrefix(file.ClusterName, "cstar_perf "))
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no hosts", "revision: trunk\n", "no hosts defined"},
		{"missing internal ip", "hosts:\n  n1: {hostname: a}\n", "internal_ip is required"},
		{"bad partitioner", "partitioner: byteordered\nhosts:\n  n1: {internal_ip: 10.0.0.1}\n", "unsupported partitioner"},
		{"bad snitch", "endpoint_snitch: Ec2Snitch\nhosts:\n  n1: {internal_ip: 10.0.0.1}\n", "invalid endpoint_snitch"},
		{"bad version", "override_version: not-a-version\nhosts:\n  n1: {internal_ip: 10.0.0.1}\n", "invalid override_version"},
		{"duplicate host", "hosts:\n  n1: {internal_ip: 10.0.0.1}\n  n1: {internal_ip: 10.0.0.2}\n", "duplicate host"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuild_FirstHostIsSeedByDefault(t *testing.T) {
	file, err := Parse([]byte(threeNodes))
	require.NoError(t, err)

	spec, err := file.Build()
	require.NoError(t, err)
	assert.True(t, spec.Nodes[0].Seed)
	assert.False(t, spec.Nodes[1].Seed)
	assert.Equal(t, []string{"10.0.0.1"}, spec.Seeds)
}

func TestBuild_SeedPrefersExternalAddress(t *testing.T) {
	file, err := Parse([]byte(`
hosts:
  A: {internal_ip: 10.0.0.1, external_ip: 1.2.3.4, seed: true}
  B: {internal_ip: 10.0.0.2, seed: false}
`))
	require.NoError(t, err)

	spec, err := file.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.3.4"}, spec.Seeds)
}

func TestBuild_FirstUnflaggedHostBecomesSeed(t *testing.T) {
	file, err := Parse([]byte(`
hosts:
  A: {internal_ip: 10.0.0.1, seed: false}
  B: {internal_ip: 10.0.0.2}
  C: {internal_ip: 10.0.0.3}
`))
	require.NoError(t, err)

	spec, err := file.Build()
	require.NoError(t, err)
	assert.False(t, spec.Nodes[0].Seed)
	assert.True(t, spec.Nodes[1].Seed)
	assert.False(t, spec.Nodes[2].Seed)
	assert.Equal(t, []string{"10.0.0.2"}, spec.Seeds)
}

func TestBuild_ExplicitNoSeedsLeavesSeedListEmpty(t *testing.T) {
	file, err := Parse([]byte(`
hosts:
  A: {internal_ip: 10.0.0.1, seed: false}
  B: {internal_ip: 10.0.0.2, seed: false}
`))
	require.NoError(t, err)

	spec, err := file.Build()
	require.NoError(t, err)
	assert.Empty(t, spec.Seeds)
}

func TestBuild_RetokenizesAllWhenOneTokenMissing(t *testing.T) {
	file, err := Parse([]byte(`
use_vnodes: false
hosts:
  n0: {internal_ip: 10.0.0.1, initial_token: "100"}
  n1: {internal_ip: 10.0.0.2, initial_token: "200"}
  n2: {internal_ip: 10.0.0.3}
`))
	require.NoError(t, err)

	spec, err := file.Build()
	require.NoError(t, err)

	want := []string{"-9223372036854775808", "-3074457345618258603", "3074457345618258602"}
	seen := map[string]bool{}
	for i, n := range spec.Nodes {
		assert.Equal(t, want[i], n.InitialToken)
		assert.NotEqual(t, "100", n.InitialToken)
		assert.NotEqual(t, "200", n.InitialToken)
		seen[n.InitialToken] = true
	}
	assert.Len(t, seen, 3)
}

func TestBuild_KeepsCompleteExplicitTokens(t *testing.T) {
	file, err := Parse([]byte(`
use_vnodes: false
hosts:
  n0: {internal_ip: 10.0.0.1, initial_token: "100"}
  n1: {internal_ip: 10.0.0.2, initial_token: "200"}
`))
	require.NoError(t, err)

	spec, err := file.Build()
	require.NoError(t, err)
	assert.Equal(t, "100", spec.Nodes[0].InitialToken)
	assert.Equal(t, "200", spec.Nodes[1].InitialToken)
}

func TestBuild_RejectsTokenCollisions(t *testing.T) {
	file, err := Parse([]byte(`
use_vnodes: false
hosts:
  n0: {internal_ip: 10.0.0.1, initial_token: "100"}
  n1: {internal_ip: 10.0.0.2, initial_token: "0100"}
`))
	require.NoError(t, err)

	_, err = file.Build()
	require.Error(t, err)
	assert.ErrorIs(t, err, cluster.ErrConfiguration)
	assert.Contains(t, err.Error(), "collides")
}

func TestBuild_RejectsMalformedToken(t *testing.T) {
	file, err := Parse([]byte(`
use_vnodes: false
hosts:
  n0: {internal_ip: 10.0.0.1, initial_token: "abc"}
`))
	require.NoError(t, err)

	_, err = file.Build()
	assert.ErrorIs(t, err, cluster.ErrConfiguration)
}

func TestBuild_VnodesIgnoreTokens(t *testing.T) {
	file, err := Parse([]byte(threeNodes))
	require.NoError(t, err)

	spec, err := file.Build()
	require.NoError(t, err)
	for _, n := range spec.Nodes {
		assert.Empty(t, n.InitialToken)
	}
}

func TestBuild_LegacyAndStrictOptions(t *testing.T) {
	file, err := Parse([]byte(`
concurrent_reads: 64
git_repo: git://example/cassandra.git
env:
  - export A=1
  - export B=2
yaml:
  hinted_handoff_enabled: false
hosts:
  n0: {internal_ip: 10.0.0.1}
`))
	require.NoError(t, err)

	spec, err := file.Build()
	require.NoError(t, err)
	assert.Equal(t, 64, spec.Options["concurrent_reads"])
	assert.Equal(t, "git://example/cassandra.git", spec.Options["git_repo"])
	assert.Equal(t, file.ClusterName, spec.Options["cluster_name"])
	assert.Equal(t, false, spec.YAML["hinted_handoff_enabled"])
	assert.Equal(t, cluster.OverrideList, spec.Env.Kind())
	assert.NotContains(t, spec.Options, "hosts")
	assert.NotContains(t, spec.Options, "yaml")
}
