package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dyluth/cstar/internal/retry"
	"github.com/dyluth/cstar/internal/transport"
	"github.com/dyluth/cstar/pkg/cluster"
)

// Operation names used in errors and metrics.
const (
	OpEnsureRunning = "ensure running"
	OpEnsureStopped = "ensure stopped"
)

// EnsureRunning waits for every node to report Up in `nodetool ring` on the
// first node. It sleeps the settle delay once, then probes up to retries
// times, wait apart. A non-zero probe exit means the ring is not ready yet;
// a transport failure aborts immediately. Running out of retries returns a
// *cluster.ConvergenceTimeoutError listing which nodes were up.
// Non-positive retries or wait fall back to the configured policy.
func (o *Orchestrator) EnsureRunning(ctx context.Context, retries int, wait time.Duration) error {
	retries, wait = o.policy(retries, wait)
	coordinator := o.spec.Nodes[0].Host
	addresses := o.spec.BroadcastAddresses()

	o.logEvent("ensure_running_started", logrus.Fields{"coordinator": coordinator, "retries": retries, "wait": wait.String()})
	if err := o.sleep(ctx, o.settle); err != nil {
		return err
	}

	probe := transport.QuietCmd(o.layout.Bin("nodetool"), "ring").WithEnv("JAVA_HOME", o.javaHome())
	var last map[string]bool

	attempts, err := retry.Do(ctx, retry.Policy{Attempts: retries, Interval: wait, Sleep: o.sleep}, func(ctx context.Context, attempt int) (bool, error) {
		o.metrics.ProbeAttempts.WithLabelValues(OpEnsureRunning).Inc()
		res, err := o.exec.Run(ctx, coordinator, probe)
		if err != nil {
			return false, err
		}
		if !res.Success() {
			last = ParseRing("", addresses)
		} else {
			last = ParseRing(res.Stdout, addresses)
		}

		allUp := true
		for _, up := range last {
			allUp = allUp && up
		}
		o.logger.WithFields(logrus.Fields{"attempt": attempt, "exit_code": res.ExitCode, "all_up": allUp}).Debug("probed ring")
		return allUp, nil
	})

	var up, down []string
	for _, n := range o.spec.Nodes {
		if last[n.BroadcastAddress()] {
			up = append(up, n.Host)
		} else {
			down = append(down, n.Host)
		}
	}

	if errors.Is(err, retry.ErrTimeoutExceeded) {
		o.metrics.ConvergenceTimeouts.WithLabelValues(OpEnsureRunning).Inc()
		timeout := &cluster.ConvergenceTimeoutError{Operation: OpEnsureRunning, Attempts: attempts, Up: up, Down: down}
		for _, h := range up {
			o.mark(ctx, h, cluster.StateRunning, "", nil)
		}
		for _, h := range down {
			o.mark(ctx, h, cluster.StateFailed, "", timeout)
		}
		return timeout
	}
	if err != nil {
		return err
	}

	for _, n := range o.spec.Nodes {
		o.mark(ctx, n.Host, cluster.StateRunning, "", nil)
	}
	o.logEvent("ensure_running_finished", logrus.Fields{"attempts": attempts})
	return nil
}

// EnsureStopped waits on every node in parallel until no Cassandra JVM is
// left. Each node gets its own retries; a node that keeps running fails
// with a *cluster.ConvergenceTimeoutError without affecting the others.
func (o *Orchestrator) EnsureStopped(ctx context.Context, retries int, wait time.Duration) error {
	retries, wait = o.policy(retries, wait)
	o.logEvent("ensure_stopped_started", logrus.Fields{"retries": retries, "wait": wait.String()})
	probe := transport.QuietCmd("pgrep", "-f", DaemonPattern)

	return o.forEach(ctx, func(ctx context.Context, host string) error {
		attempts, err := retry.Do(ctx, retry.Policy{Attempts: retries, Interval: wait, Sleep: o.sleep}, func(ctx context.Context, _ int) (bool, error) {
			o.metrics.ProbeAttempts.WithLabelValues(OpEnsureStopped).Inc()
			res, err := o.exec.Run(ctx, host, probe)
			if err != nil {
				return false, err
			}
			return !res.Success(), nil
		})

		if errors.Is(err, retry.ErrTimeoutExceeded) {
			o.metrics.ConvergenceTimeouts.WithLabelValues(OpEnsureStopped).Inc()
			err = &cluster.ConvergenceTimeoutError{Operation: OpEnsureStopped, Attempts: attempts, Down: []string{host}}
		}
		if err != nil {
			o.mark(ctx, host, cluster.StateFailed, "", err)
			return err
		}
		o.mark(ctx, host, cluster.StateStopped, "", nil)
		return nil
	})
}

func (o *Orchestrator) policy(retries int, wait time.Duration) (int, time.Duration) {
	if retries <= 0 {
		retries = o.retries
	}
	if wait <= 0 {
		wait = o.wait
	}
	return retries, wait
}
