package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dyluth/cstar/internal/buildcache"
	"github.com/dyluth/cstar/internal/config"
	dockerpkg "github.com/dyluth/cstar/internal/docker"
	"github.com/dyluth/cstar/internal/layout"
	"github.com/dyluth/cstar/internal/logging"
	"github.com/dyluth/cstar/internal/orchestrator"
	"github.com/dyluth/cstar/internal/printer"
	"github.com/dyluth/cstar/internal/provisioner"
	"github.com/dyluth/cstar/internal/schema"
	"github.com/dyluth/cstar/internal/settings"
	"github.com/dyluth/cstar/internal/state"
	"github.com/dyluth/cstar/internal/transport"
	"github.com/dyluth/cstar/pkg/cluster"
)

// runtime holds everything a command needs, built once per invocation.
type runtime struct {
	settings *settings.Settings
	logger   *logrus.Logger
	layout   layout.Layout
	registry *prometheus.Registry

	spec   cluster.ClusterSpec
	docker *client.Client
	exec   transport.Executor
	rdb    *redis.Client // Nil when Redis is unreachable
	states state.Store
}

// newRuntime loads settings and, when withCluster is set, the cluster file
// plus the Docker executor and state store.
func newRuntime(ctx context.Context, withCluster bool) (*runtime, error) {
	s, err := settings.Load(settingsFile)
	if err != nil {
		return nil, printer.Error("invalid settings", err.Error(), []string{"Check cstar.yaml and CSTAR_* environment variables"})
	}

	logger, err := logging.New(s.Log.Level, s.Log.Format, os.Stderr)
	if err != nil {
		return nil, printer.Error("invalid settings", err.Error(), []string{"Valid log levels: debug, info, warn, error"})
	}

	rt := &runtime{
		settings: s,
		logger:   logger,
		layout:   layout.New(s.Remote.Root),
		registry: prometheus.NewRegistry(),
	}
	if !withCluster {
		return rt, nil
	}

	file, err := config.Load(clusterFile)
	if err != nil {
		return nil, printer.FromError("loading "+clusterFile, err)
	}
	rt.spec, err = file.Build()
	if err != nil {
		return nil, printer.FromError("loading "+clusterFile, err)
	}

	rt.docker, err = dockerpkg.NewClient(ctx)
	if err != nil {
		return nil, printer.Error("Docker is not available", err.Error(), nil)
	}
	rt.exec = transport.NewDockerExecutor(rt.docker, logger)

	rt.connectRedis(ctx)
	if rt.rdb == nil {
		rt.states = state.NewMemoryStore()
	}
	return rt, nil
}

func (rt *runtime) connectRedis(ctx context.Context) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     rt.settings.Redis.Addr,
		Password: rt.settings.Redis.Password,
		DB:       rt.settings.Redis.DB,
	})
	store := state.NewRedisStore(rdb)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		rdb.Close()
		rt.logger.WithError(err).WithField("event_type", "redis_unavailable").Warn("continuing without persistent state")
		printer.Warning("Redis at %s is unreachable; node states and the build cache index will not persist\n", rt.settings.Redis.Addr)
		return
	}
	rt.rdb = rdb
	rt.states = store
}

// Close releases connections and writes metrics when --metrics-file is set.
func (rt *runtime) Close() {
	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, rt.registry); err != nil {
			printer.Warning("failed to write metrics to %s: %v\n", metricsFile, err)
		}
	}
	if rt.rdb != nil {
		rt.rdb.Close()
	}
	if rt.docker != nil {
		rt.docker.Close()
	}
}

func (rt *runtime) buildHost() string {
	if rt.settings.Cache.BuildHost != "" {
		return rt.settings.Cache.BuildHost
	}
	return rt.spec.Nodes[0].Host
}

// buildCache indexes builds in Redis when it is reachable. Otherwise the
// index starts from the build trees already on the build host.
func (rt *runtime) buildCache(ctx context.Context) (*buildcache.Cache, error) {
	var store buildcache.Store
	if rt.rdb != nil {
		rs, err := buildcache.NewRedisStore(rt.rdb, rt.buildHost())
		if err != nil {
			return nil, err
		}
		store = rs
	} else {
		existing, err := provisioner.ScanBuilds(ctx, rt.exec, rt.layout, rt.buildHost())
		if err != nil {
			rt.logger.WithError(err).WithField("event_type", "build_scan_failed").Warn("failed to list builds on the build host")
		}
		store = buildcache.NewMemoryStore(existing...)
	}

	metrics, err := buildcache.NewMetrics(rt.registry)
	if err != nil {
		return nil, err
	}
	return buildcache.New(store, rt.settings.Cache.MaxBuilds,
		buildcache.WithRemover(provisioner.NewRemover(rt.exec, rt.layout, rt.buildHost())),
		buildcache.WithVerifier(provisioner.NewVerifier(rt.exec, rt.layout, rt.buildHost())),
		buildcache.WithMetrics(metrics),
		buildcache.WithLogger(rt.logger),
	)
}

func (rt *runtime) schemaSource() (schema.Source, error) {
	if schemaFile != "" {
		return schema.LoadFile(schemaFile)
	}
	return schema.NewCachedSource(&schema.JythonSource{Exec: rt.exec, Layout: rt.layout}), nil
}

func (rt *runtime) provisioner(ctx context.Context) (*provisioner.Provisioner, error) {
	cache, err := rt.buildCache(ctx)
	if err != nil {
		return nil, err
	}
	src, err := rt.schemaSource()
	if err != nil {
		return nil, err
	}
	return provisioner.New(provisioner.Config{
		Executor:  rt.exec,
		Layout:    rt.layout,
		Cache:     cache,
		Schema:    src,
		BuildHost: rt.settings.Cache.BuildHost,
		Logger:    rt.logger,
	})
}

func (rt *runtime) orchestrator(ctx context.Context, withProvisioner bool) (*orchestrator.Orchestrator, error) {
	var prov *provisioner.Provisioner
	if withProvisioner {
		var err error
		if prov, err = rt.provisioner(ctx); err != nil {
			return nil, err
		}
	}

	metrics, err := orchestrator.NewMetrics(rt.registry)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Config{
		Spec:        rt.spec,
		Executor:    rt.exec,
		Provisioner: prov,
		Layout:      rt.layout,
		Store:       rt.states,
		Metrics:     metrics,
		Logger:      rt.logger,
		Retries:     rt.settings.Ensure.Retries,
		Wait:        rt.settings.Ensure.Wait,
		Settle:      rt.settings.Ensure.Settle,
		Concurrency: rt.settings.Concurrency,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// runCluster wraps a cluster operation: it builds the runtime and the
// orchestrator, runs fn and prints any failure.
func runCluster(operation string, withProvisioner bool, fn func(ctx context.Context, o *orchestrator.Orchestrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd)
		defer cancel()

		rt, err := newRuntime(ctx, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		o, err := rt.orchestrator(ctx, withProvisioner)
		if err != nil {
			return printer.FromError(operation, err)
		}

		printer.Step("%s: cluster %q (%d nodes)\n", operation, rt.spec.Name, len(rt.spec.Nodes))
		if err := fn(ctx, o); err != nil {
			return printer.FromError(operation, err)
		}
		return nil
	}
}
