// Package orchestrator drives a cluster through its lifecycle: provision,
// start, stop, destroy and the readiness checks between them.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dyluth/cstar/internal/layout"
	"github.com/dyluth/cstar/internal/parallel"
	"github.com/dyluth/cstar/internal/provisioner"
	"github.com/dyluth/cstar/internal/retry"
	"github.com/dyluth/cstar/internal/state"
	"github.com/dyluth/cstar/internal/transport"
	"github.com/dyluth/cstar/pkg/cluster"
)

// Defaults for readiness polling.
const (
	DefaultRetries = 15
	DefaultWait    = 10 * time.Second
	DefaultSettle  = 15 * time.Second
)

// Config wires an Orchestrator. Spec, Executor and Store are required.
type Config struct {
	Spec        cluster.ClusterSpec
	Executor    transport.Executor
	Provisioner *provisioner.Provisioner // Only needed by Provision and Up
	Layout      layout.Layout
	Store       state.Store
	Metrics     *Metrics
	Logger      logrus.FieldLogger

	Retries     int
	Wait        time.Duration
	Settle      time.Duration
	Concurrency int // <= 0 runs every node at once

	// Sleep waits during readiness polling. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// NewID names uploaded scripts. Nil uses random UUIDs.
	NewID func() string
}

// Orchestrator runs lifecycle operations for one cluster.
type Orchestrator struct {
	spec        cluster.ClusterSpec
	exec        transport.Executor
	prov        *provisioner.Provisioner
	layout      layout.Layout
	tracker     *state.Tracker
	metrics     *Metrics
	logger      *logrus.Entry
	retries     int
	wait        time.Duration
	settle      time.Duration
	concurrency int
	sleep       func(ctx context.Context, d time.Duration) error
	newID       func() string
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if len(cfg.Spec.Nodes) == 0 {
		return nil, &cluster.ConfigurationError{Reason: "no hosts defined"}
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}

	// Private copy; the cluster must not change under a running operation.
	spec, err := cfg.Spec.Clone()
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithFields(logrus.Fields{"component": "orchestrator", "cluster": cfg.Spec.Name})

	metrics := cfg.Metrics
	if metrics == nil {
		metrics, _ = NewMetrics(nil)
	}

	o := &Orchestrator{
		spec:        spec,
		exec:        cfg.Executor,
		prov:        cfg.Provisioner,
		layout:      cfg.Layout,
		metrics:     metrics,
		logger:      entry,
		retries:     cfg.Retries,
		wait:        cfg.Wait,
		settle:      cfg.Settle,
		concurrency: cfg.Concurrency,
		sleep:       cfg.Sleep,
		newID:       cfg.NewID,
	}
	if o.retries <= 0 {
		o.retries = DefaultRetries
	}
	if o.wait <= 0 {
		o.wait = DefaultWait
	}
	if o.settle < 0 {
		o.settle = 0
	}
	if o.sleep == nil {
		o.sleep = retry.Sleep
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	o.tracker = state.NewTracker(cfg.Store, cfg.Spec.StateKey(),
		state.WithLogger(entry),
		state.WithObserver(func(_, to cluster.NodeState) {
			metrics.Transitions.WithLabelValues(string(to)).Inc()
		}),
	)
	return o, nil
}

// Spec returns the cluster the orchestrator manages.
func (o *Orchestrator) Spec() cluster.ClusterSpec { return o.spec }

// States returns every node's record in cluster order.
func (o *Orchestrator) States(ctx context.Context) ([]state.Record, error) {
	return o.tracker.States(ctx, o.spec.Hosts())
}

func (o *Orchestrator) logEvent(eventType string, fields logrus.Fields) {
	o.logger.WithFields(fields).WithField("event_type", eventType).Info(eventType)
}

// mark records a transition. A store failure is logged rather than masking
// the outcome of the remote operation.
func (o *Orchestrator) mark(ctx context.Context, host string, next cluster.NodeState, revisionID string, cause error) {
	if err := o.tracker.Transition(context.WithoutCancel(ctx), host, next, revisionID, cause); err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{"host": host, "state": next}).Warn("failed to record node state")
	}
}

func (o *Orchestrator) forEach(ctx context.Context, task parallel.Task) error {
	return parallel.ForEach(ctx, o.spec.Hosts(), o.concurrency, task)
}

func (o *Orchestrator) javaHome() string {
	if o.spec.JavaHome != "" {
		return o.spec.JavaHome
	}
	return o.layout.JavaHome()
}

func (o *Orchestrator) logDir() string {
	if o.spec.LogDir != "" {
		return o.spec.LogDir
	}
	return o.layout.Logs()
}

// ProvisionResult is the outcome of Provision.
type ProvisionResult struct {
	RevisionID string
	Nodes      map[string]*provisioner.NodeResult
}

// Provision builds or reuses the revision and configures every node. Every
// node's configuration is resolved before any node is changed. Node
// failures are independent and reported together as parallel.NodeErrors.
func (o *Orchestrator) Provision(ctx context.Context) (*ProvisionResult, error) {
	if o.prov == nil {
		return nil, fmt.Errorf("provisioning is not configured")
	}

	plan, err := o.prov.Prepare(ctx, o.spec)
	if err != nil {
		return nil, err
	}
	defer plan.Release()

	for _, node := range o.spec.Nodes {
		if _, _, _, err := plan.RenderNode(node); err != nil {
			return nil, err
		}
	}

	o.logEvent("provision_started", logrus.Fields{"revision_id": plan.RevisionID, "nodes": len(o.spec.Nodes)})
	nodes, err := parallel.Collect(ctx, o.spec.Hosts(), o.concurrency, func(ctx context.Context, host string) (*provisioner.NodeResult, error) {
		res, err := o.prov.ProvisionNode(ctx, plan, host)
		if err != nil {
			o.mark(ctx, host, cluster.StateFailed, "", err)
			return nil, err
		}
		o.mark(ctx, host, cluster.StateConfigured, plan.RevisionID, nil)
		return res, nil
	})

	result := &ProvisionResult{RevisionID: plan.RevisionID, Nodes: nodes}
	if err != nil {
		return result, err
	}
	o.logEvent("provision_finished", logrus.Fields{"revision_id": plan.RevisionID})
	return result, nil
}

// Up provisions, starts and waits for the cluster to come up.
func (o *Orchestrator) Up(ctx context.Context) (*ProvisionResult, error) {
	res, err := o.Provision(ctx)
	if err != nil {
		return res, err
	}
	if err := o.Start(ctx); err != nil {
		return res, err
	}
	return res, o.EnsureRunning(ctx, o.retries, o.wait)
}
