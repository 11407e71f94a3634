package printer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/cstar/internal/parallel"
	"github.com/dyluth/cstar/pkg/cluster"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	var out, errOut bytes.Buffer
	restore := SetOutput(&out, &errOut)
	t.Cleanup(func() {
		restore()
		color.NoColor = prev
	})
	return &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "This is a test error")
	})

	t.Run("numbers multiple suggestions", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "Explanation", []string{"First option", "Second option"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext_SortsKeys(t *testing.T) {
	_, errOut := capture(t)
	err := ErrorWithContext("Test Error", "Explanation", map[string]string{"node1": "b", "node0": "a"}, nil)
	require.Equal(t, "Test Error", err.Error())
	assert.Contains(t, errOut.String(), "  node0: a\n  node1: b\n")
}

func TestFromError_ConvergenceTimeoutReportsProgress(t *testing.T) {
	_, errOut := capture(t)
	err := FromError("ensure-running", &cluster.ConvergenceTimeoutError{
		Operation: "ensure running",
		Attempts:  15,
		Up:        []string{"10.0.0.1"},
		Down:      []string{"10.0.0.2"},
	})

	require.Equal(t, "ensure-running failed", err.Error())
	assert.Contains(t, errOut.String(), "up: 10.0.0.1")
	assert.Contains(t, errOut.String(), "not up: 10.0.0.2")
	assert.Contains(t, errOut.String(), "--retries")
}

func TestFromError_NodeErrorsListHosts(t *testing.T) {
	_, errOut := capture(t)
	err := FromError("start", parallel.NodeErrors{
		"node1": &cluster.TransportError{Host: "node1", Op: "run", Err: errors.New("no such container")},
	})

	require.Error(t, err)
	assert.Contains(t, errOut.String(), "node1: transport run on node1: no such container")
	assert.Contains(t, errOut.String(), "fleet status")
}

func TestFromError_UnknownOption(t *testing.T) {
	_, errOut := capture(t)
	_ = FromError("provision", &cluster.UnknownOptionError{Key: "not_a_real_option"})
	assert.Contains(t, errOut.String(), "Remove 'not_a_real_option'")
}

func TestTableAndMessages(t *testing.T) {
	out, _ := capture(t)

	Success("done\n")
	Warning("careful\n")
	Step("next\n")
	NodeStep("node0", "starting\n")
	Table([]string{"HOST", "STATE"}, [][]string{{"node0", "Running"}})

	s := out.String()
	assert.Contains(t, s, "✓ done")
	assert.Contains(t, s, "⚠️  careful")
	assert.Contains(t, s, "→ [node0] starting")
	assert.Contains(t, s, "HOST   STATE\nnode0  Running\n")
}
