package orchestrator

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/dyluth/cstar/internal/parallel"
	"github.com/dyluth/cstar/internal/transport"
	"github.com/dyluth/cstar/pkg/cluster"
)

// Start rewrites cassandra-env.sh on every node and launches the daemon.
// Nodes are Starting once the command is issued; EnsureRunning confirms them.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.logEvent("start_requested", logrus.Fields{"nodes": len(o.spec.Nodes)})
	return o.forEach(ctx, func(ctx context.Context, host string) error {
		if err := o.startNode(ctx, host); err != nil {
			o.mark(ctx, host, cluster.StateFailed, "", err)
			return err
		}
		o.mark(ctx, host, cluster.StateStarting, "", nil)
		return nil
	})
}

func (o *Orchestrator) startNode(ctx context.Context, host string) error {
	node, _ := o.spec.Node(host)
	l := o.layout
	run := func(cmd transport.Command) error {
		_, err := transport.Check(ctx, o.exec, host, cmd)
		return err
	}

	original, err := o.exec.Get(ctx, host, l.Conf("cassandra-env.sh.orig"))
	if err != nil {
		return err
	}

	script := l.Script(o.newID())
	if err := run(transport.Cmd("mkdir", "-p", l.Scripts(), o.logDir())); err != nil {
		return err
	}
	if err := o.exec.Put(ctx, host, EnvScript(o.spec, node, o.logDir(), original), script); err != nil {
		return err
	}
	if err := run(transport.Cmd("cp", script, l.Conf("cassandra-env.sh"))); err != nil {
		return err
	}

	launch := transport.Cmd("nohup", l.Bin("cassandra"))
	launch.Dir = l.Install()
	return run(launch.WithEnv("JAVA_HOME", o.javaHome()))
}

// Stop signals the daemon on every node. A forced stop sends SIGKILL.
// Nodes are Stopping until EnsureStopped confirms them.
func (o *Orchestrator) Stop(ctx context.Context, clean bool) error {
	o.logEvent("stop_requested", logrus.Fields{"clean": clean})
	args := []string{"-f", DaemonPattern}
	if !clean {
		args = append([]string{"-9"}, args...)
	}

	return o.forEach(ctx, func(ctx context.Context, host string) error {
		// pkill exits 1 when nothing matched
		if _, err := o.exec.Run(ctx, host, transport.QuietCmd("pkill", args...)); err != nil {
			o.mark(ctx, host, cluster.StateFailed, "", err)
			return err
		}
		o.mark(ctx, host, cluster.StateStopping, "", nil)
		return nil
	})
}

// Destroy kills every JVM and removes the install, scripts and logs. Data,
// commitlog, saved caches and flush directories are emptied unless
// leaveData is set; directories that do not exist are skipped. Nodes return
// to Unprovisioned, and once every node is destroyed the cluster's records
// are dropped from the state store.
func (o *Orchestrator) Destroy(ctx context.Context, leaveData bool) error {
	o.logEvent("destroy_requested", logrus.Fields{"leave_data": leaveData})

	err := o.forEach(ctx, func(ctx context.Context, host string) error {
		if err := o.destroyNode(ctx, host, leaveData); err != nil {
			o.mark(ctx, host, cluster.StateFailed, "", err)
			return err
		}
		o.mark(ctx, host, cluster.StateUnprovisioned, "", nil)
		return nil
	})
	if err != nil {
		return err
	}

	if err := o.tracker.Reset(context.WithoutCancel(ctx)); err != nil {
		o.logger.WithError(err).WithField("event_type", "state_reset_failed").Warn("failed to drop node states")
	}
	return nil
}

func (o *Orchestrator) destroyNode(ctx context.Context, host string, leaveData bool) error {
	l := o.layout
	if _, err := o.exec.Run(ctx, host, transport.QuietCmd("killall", "-9", "java")); err != nil {
		return err
	}
	if _, err := transport.Check(ctx, o.exec, host, transport.Cmd("rm", "-rf", l.Install(), l.Scripts(), o.logDir())); err != nil {
		return err
	}
	if leaveData {
		return nil
	}

	for _, dir := range o.dataDirectories() {
		present, err := transport.Exists(ctx, o.exec, host, "-d", dir)
		if err != nil {
			return err
		}
		if !present {
			continue
		}
		if _, err := transport.Check(ctx, o.exec, host, transport.Cmd("find", dir, "-mindepth", "1", "-delete")); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) dataDirectories() []string {
	dirs := append([]string(nil), o.spec.DataFileDirectories...)
	for _, d := range []string{o.spec.CommitlogDirectory, o.spec.SavedCachesDirectory, o.spec.FlushDirectory} {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// RunScript uploads script to every node and runs it with bash. It returns
// each node's result; a non-zero exit is reported as a *transport.CommandError.
func (o *Orchestrator) RunScript(ctx context.Context, script []byte) (map[string]transport.Result, error) {
	name := o.layout.Script(o.newID())
	o.logEvent("script_started", logrus.Fields{"script": name})

	return parallel.Collect(ctx, o.spec.Hosts(), o.concurrency, func(ctx context.Context, host string) (transport.Result, error) {
		if _, err := transport.Check(ctx, o.exec, host, transport.Cmd("mkdir", "-p", o.layout.Scripts())); err != nil {
			return transport.Result{}, err
		}
		if err := o.exec.Put(ctx, host, script, name); err != nil {
			return transport.Result{}, err
		}
		return transport.Check(ctx, o.exec, host, transport.Cmd("bash", name))
	})
}
