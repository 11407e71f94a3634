package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/cstar/internal/config"
	dockerpkg "github.com/dyluth/cstar/internal/docker"
	"github.com/dyluth/cstar/internal/printer"
)

// TestRootCommand_ShowsHelpWhenNoSubcommand tests that the root command
// shows help instead of silently succeeding when invoked without a subcommand
func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	testRoot := &cobra.Command{
		Use:   "cstar",
		Short: "Test root command",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	buf := new(bytes.Buffer)
	testRoot.SetOut(buf)
	testRoot.SetErr(buf)

	err := testRoot.Execute()

	assert.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "Usage:", "Help should be displayed")
	assert.Contains(t, output, "cstar", "Help should show command name")
}

func TestRootCommand_RegistersCommands(t *testing.T) {
	for _, path := range [][]string{
		{"provision"}, {"start"}, {"stop"}, {"destroy"},
		{"ensure-running"}, {"ensure-stopped"}, {"up"},
		{"run-script"}, {"status"}, {"watch"}, {"tokens"},
		{"cache", "list"}, {"fleet", "up"}, {"fleet", "status"}, {"fleet", "down"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, "command %v", path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	cmd, _, err := rootCmd.Find([]string{"bash"})
	require.NoError(t, err)
	assert.Same(t, runScriptCmd, cmd, "bash is an alias of run-script")
}

func TestRootCommand_EnsureFlagDefaults(t *testing.T) {
	for _, c := range []*cobra.Command{ensureRunningCmd, ensureStoppedCmd} {
		assert.Equal(t, "0", c.Flags().Lookup("retries").DefValue)
		assert.Equal(t, "0s", c.Flags().Lookup("wait").DefValue)
	}
	assert.Equal(t, "false", stopCmd.Flags().Lookup("force").DefValue)
	assert.Equal(t, "false", destroyCmd.Flags().Lookup("leave-data").DefValue)
}

func TestTokensCommand(t *testing.T) {
	t.Run("prints evenly spaced murmur3 tokens", func(t *testing.T) {
		var out, errOut bytes.Buffer
		defer printer.SetOutput(&out, &errOut)()

		rootCmd.SetArgs([]string{"tokens", "--partitioner", "murmur3", "--nodes", "3"})
		require.NoError(t, rootCmd.Execute())

		assert.Contains(t, out.String(), "-9223372036854775808")
		assert.Contains(t, out.String(), "-3074457345618258603")
		assert.Contains(t, out.String(), "3074457345618258602")
	})

	t.Run("rejects an unknown partitioner", func(t *testing.T) {
		var out, errOut bytes.Buffer
		defer printer.SetOutput(&out, &errOut)()

		rootCmd.SetArgs([]string{"tokens", "--partitioner", "byteordered", "--nodes", "3"})
		err := rootCmd.Execute()

		require.Error(t, err)
		assert.Contains(t, errOut.String(), "byteordered")
	})
}

func TestEmitHosts_WritesLoadableClusterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.yml")
	members := []dockerpkg.Member{
		{Host: "cstar-fleet-1", IP: "172.20.0.2"},
		{Host: "cstar-fleet-2", IP: "172.20.0.3"},
	}

	require.NoError(t, emitHosts(path, members))

	file, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, file.Hosts, 2)
	assert.Equal(t, "cstar-fleet-1", file.Hosts[0].Address)
	assert.Equal(t, "172.20.0.2", file.Hosts[0].InternalIP)
	assert.Equal(t, "cstar-fleet-2", file.Hosts[1].Hostname)
}

func TestFleetHosts(t *testing.T) {
	saved := clusterFile
	defer func() { clusterFile = saved }()

	t.Run("uses the cluster file hosts in order", func(t *testing.T) {
		clusterFile = filepath.Join(t.TempDir(), "cluster.yml")
		doc := "hosts:\n  b-host:\n    internal_ip: 10.0.0.2\n  a-host:\n    internal_ip: 10.0.0.1\n"
		require.NoError(t, os.WriteFile(clusterFile, []byte(doc), 0o644))

		hosts, err := fleetHosts("net")
		require.NoError(t, err)
		assert.Equal(t, []string{"b-host", "a-host"}, hosts)
	})

	t.Run("generates names without a cluster file", func(t *testing.T) {
		clusterFile = filepath.Join(t.TempDir(), "missing.yml")
		fleetNodes = 2

		hosts, err := fleetHosts("net")
		require.NoError(t, err)
		assert.Equal(t, []string{"net-1", "net-2"}, hosts)
	})

	t.Run("rejects zero nodes", func(t *testing.T) {
		clusterFile = filepath.Join(t.TempDir(), "missing.yml")
		fleetNodes = 0
		defer func() { fleetNodes = 3 }()

		_, err := fleetHosts("net")
		assert.Error(t, err)
	})
}

func TestInitialToken(t *testing.T) {
	assert.Equal(t, "42", initialToken(map[string]any{"initial_token": "42"}))
	assert.Equal(t, "-", initialToken(map[string]any{"num_tokens": 256}))
}
