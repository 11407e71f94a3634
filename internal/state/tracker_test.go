package state

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/cstar/pkg/cluster"
)

func TestTracker_Lifecycle(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()

	var seen []cluster.NodeState
	logger, _ := test.NewNullLogger()
	tr := NewTracker(store, "abc",
		WithClock(fixedClock),
		WithLogger(logger),
		WithObserver(func(_, to cluster.NodeState) { seen = append(seen, to) }),
	)

	require.NoError(t, tr.Transition(ctx, "n0", cluster.StateConfigured, "deadbeef", nil))
	require.NoError(t, tr.Transition(ctx, "n0", cluster.StateStarting, "", nil))
	require.NoError(t, tr.Transition(ctx, "n0", cluster.StateRunning, "", nil))

	r, err := tr.State(ctx, "n0")
	require.NoError(t, err)
	assert.Equal(t, cluster.StateRunning, r.State)
	assert.Equal(t, "deadbeef", r.RevisionID, "revision carries across transitions")
	assert.Equal(t, []cluster.NodeState{cluster.StateConfigured, cluster.StateStarting, cluster.StateRunning}, seen)

	require.NoError(t, tr.Transition(ctx, "n0", cluster.StateUnprovisioned, "", nil))
	r, err = tr.State(ctx, "n0")
	require.NoError(t, err)
	assert.Empty(t, r.RevisionID)
}

func TestTracker_FailedRecordsCause(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	tr := NewTracker(NewMemoryStore(), "abc", WithLogger(logger))
	ctx := context.Background()

	require.NoError(t, tr.Transition(ctx, "n0", cluster.StateConfigured, "", nil))
	require.NoError(t, tr.Transition(ctx, "n0", cluster.StateStarting, "", nil))
	require.NoError(t, tr.Transition(ctx, "n0", cluster.StateFailed, "", errors.New("never came up")))

	states, err := tr.States(ctx, []string{"n0", "n1"})
	require.NoError(t, err)
	assert.Equal(t, cluster.StateFailed, states[0].State)
	assert.Equal(t, "never came up", states[0].Error)
	assert.Equal(t, cluster.StateUnprovisioned, states[1].State)
}

func TestTracker_UnexpectedTransitionIsLoggedAndRecorded(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tr := NewTracker(NewMemoryStore(), "abc", WithLogger(logger))
	ctx := context.Background()

	require.NoError(t, tr.Transition(ctx, "n0", cluster.StateRunning, "", nil))

	r, err := tr.State(ctx, "n0")
	require.NoError(t, err)
	assert.Equal(t, cluster.StateRunning, r.State)

	require.NotNil(t, hook.LastEntry())
	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["event_type"] == "unexpected_transition" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestTracker_ResetDropsOnlyItsCluster(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	logger, _ := test.NewNullLogger()

	a := NewTracker(store, "aaa", WithLogger(logger))
	b := NewTracker(store, "bbb", WithLogger(logger))
	require.NoError(t, a.Transition(ctx, "n0", cluster.StateConfigured, "deadbeef", nil))
	require.NoError(t, b.Transition(ctx, "n0", cluster.StateConfigured, "deadbeef", nil))

	require.NoError(t, a.Reset(ctx))

	r, err := a.State(ctx, "n0")
	require.NoError(t, err)
	assert.Equal(t, cluster.StateUnprovisioned, r.State)

	r, err = b.State(ctx, "n0")
	require.NoError(t, err)
	assert.Equal(t, cluster.StateConfigured, r.State)
}
