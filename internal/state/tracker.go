package state

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dyluth/cstar/pkg/cluster"
)

// Tracker moves one cluster's nodes through the lifecycle state machine.
type Tracker struct {
	store      Store
	clusterKey string
	now        func() time.Time
	logger     logrus.FieldLogger
	observe    func(from, to cluster.NodeState)
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithObserver is called after every recorded transition.
func WithObserver(fn func(from, to cluster.NodeState)) TrackerOption {
	return func(t *Tracker) { t.observe = fn }
}

// NewTracker binds store to the cluster identified by clusterKey.
func NewTracker(store Store, clusterKey string, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:      store,
		clusterKey: clusterKey,
		now:        time.Now,
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns a node's current record.
func (t *Tracker) State(ctx context.Context, host string) (Record, error) {
	return t.store.Get(ctx, t.clusterKey, host)
}

// States returns a record for every host, in the given order.
func (t *Tracker) States(ctx context.Context, hosts []string) ([]Record, error) {
	out := make([]Record, 0, len(hosts))
	for _, h := range hosts {
		r, err := t.store.Get(ctx, t.clusterKey, h)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Reset drops every record of the cluster, returning all hosts to
// Unprovisioned.
func (t *Tracker) Reset(ctx context.Context) error {
	return t.store.Clear(ctx, t.clusterKey)
}

// Transition records host entering next. The stored state may be stale
// (nodes are changed out of band), so a move the state machine does not
// allow is logged and recorded anyway. cause is stored on Failed records.
func (t *Tracker) Transition(ctx context.Context, host string, next cluster.NodeState, revisionID string, cause error) error {
	prev, err := t.store.Get(ctx, t.clusterKey, host)
	if err != nil {
		return err
	}

	log := t.logger.WithFields(logrus.Fields{"host": host, "from": prev.State, "to": next})
	if prev.State != next && !prev.State.CanTransition(next) {
		log.WithField("event_type", "unexpected_transition").Warn("node state was not expected to allow this transition")
	}

	r := Record{Host: host, State: next, RevisionID: prev.RevisionID, UpdatedAt: t.now().UTC()}
	if revisionID != "" {
		r.RevisionID = revisionID
	}
	if next == cluster.StateUnprovisioned {
		r.RevisionID = ""
	}
	if cause != nil && next == cluster.StateFailed {
		r.Error = cause.Error()
	}

	if err := t.store.Put(ctx, t.clusterKey, r); err != nil {
		return err
	}
	log.WithField("event_type", "node_state_changed").Debug("node state changed")
	if t.observe != nil {
		t.observe(prev.State, next)
	}
	return nil
}
