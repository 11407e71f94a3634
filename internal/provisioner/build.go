package provisioner

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dyluth/cstar/internal/buildcache"
	"github.com/dyluth/cstar/internal/layout"
	"github.com/dyluth/cstar/internal/transport"
	"github.com/dyluth/cstar/pkg/cluster"
)

// ResolveRevision turns a branch, tag or abbreviated hash into the full
// commit id used as the build cache key.
func ResolveRevision(ctx context.Context, exec transport.Executor, l layout.Layout, host, revision string) (string, error) {
	cmd := transport.QuietCmd("git", "--git-dir="+l.Repo(), "rev-parse", "--verify", revision+"^{commit}")
	res, err := exec.Run(ctx, host, cmd)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(res.Stdout)
	if !res.Success() || id == "" {
		return "", &cluster.ConfigurationError{
			Reason: fmt.Sprintf("revision %q not found in %s on %s", revision, l.Repo(), host),
		}
	}
	return id, nil
}

// GitBuilder compiles revisions on a build host from its bare repository.
type GitBuilder struct {
	Exec            transport.Executor
	Layout          layout.Layout
	Host            string
	JavaHome        string
	OverrideVersion string // Passed to ant as -Dversion when set
	Logger          logrus.FieldLogger
}

// Build implements buildcache.BuildFunc. It exports the revision into a
// staging directory, runs ant, then moves the tree into place and packs it
// into a tarball for copying to nodes.
func (b *GitBuilder) Build(ctx context.Context, revision string) (string, error) {
	l := b.Layout
	tree := l.BuildTree(revision)
	staging := l.Staging(revision)
	source := staging + ".src.tar"
	javaHome := b.JavaHome
	if javaHome == "" {
		javaHome = l.JavaHome()
	}

	logger := b.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{"event_type": "build_started", "revision": revision, "host": b.Host}).Info("building revision")

	ant := func(args ...string) transport.Command {
		return transport.Cmd(l.Ant(), append([]string{"-f", staging + "/build.xml"}, args...)...).WithEnv("JAVA_HOME", javaHome)
	}
	build := []string{}
	if b.OverrideVersion != "" {
		build = append(build, "-Dversion="+b.OverrideVersion)
	}

	steps := []transport.Command{
		transport.Cmd("rm", "-rf", staging, source, tree, l.BuildArchive(revision)),
		transport.Cmd("mkdir", "-p", staging),
		transport.Cmd("git", "--git-dir="+l.Repo(), "archive", "--format=tar", "-o", source, revision),
		transport.Cmd("tar", "-xf", source, "-C", staging),
		transport.Cmd("rm", "-f", source),
		ant("clean"),
		ant(build...),
		transport.Cmd("mv", staging, tree),
		transport.Cmd("tar", "-cf", l.BuildArchive(revision), "-C", tree, "."),
	}

	for _, step := range steps {
		if _, err := transport.Check(ctx, b.Exec, b.Host, step); err != nil {
			cleanup := transport.QuietCmd("rm", "-rf", staging, source, tree, l.BuildArchive(revision))
			if _, cerr := b.Exec.Run(context.WithoutCancel(ctx), b.Host, cleanup); cerr != nil {
				logger.WithError(cerr).WithField("event_type", "build_cleanup_failed").Warn("failed to clean up after build")
			}
			return "", err
		}
	}

	logger.WithFields(logrus.Fields{"event_type": "build_finished", "revision": revision, "host": b.Host}).Info("build finished")
	return tree, nil
}

// NewRemover deletes an evicted build's tree and tarball from the build host.
func NewRemover(exec transport.Executor, l layout.Layout, host string) buildcache.RemoveFunc {
	return func(ctx context.Context, a buildcache.Artifact) error {
		_, err := transport.Check(ctx, exec, host, transport.Cmd("rm", "-rf", a.Location, a.Location+".tar"))
		return err
	}
}

// NewVerifier reports whether a cached build's tree and tarball are still on
// the build host.
func NewVerifier(exec transport.Executor, l layout.Layout, host string) buildcache.VerifyFunc {
	return func(ctx context.Context, a buildcache.Artifact) (bool, error) {
		location := a.Location
		if location == "" {
			location = l.BuildTree(a.Revision)
		}
		return transport.Exists(ctx, exec, host, "-d", location, "-a", "-f", location+".tar")
	}
}

// ScanBuilds lists the build trees already present on the build host, so a
// run without a shared index still knows about earlier builds. Staging
// directories are skipped. A missing builds directory yields no artifacts.
func ScanBuilds(ctx context.Context, exec transport.Executor, l layout.Layout, host string) ([]buildcache.Artifact, error) {
	cmd := transport.QuietCmd("find", l.Builds(), "-mindepth", "1", "-maxdepth", "1", "-type", "d", "-printf", "%T@ %f\n")
	res, err := exec.Run(ctx, host, cmd)
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, nil
	}

	var builds []buildcache.Artifact
	for _, line := range strings.Split(res.Stdout, "\n") {
		mtime, name, ok := strings.Cut(strings.TrimSpace(line), " ")
		if !ok || name == "" || strings.Contains(name, ".") {
			continue
		}
		secs, err := strconv.ParseFloat(mtime, 64)
		if err != nil {
			continue
		}
		whole, frac := math.Modf(secs)
		builds = append(builds, buildcache.Artifact{
			Revision:  name,
			Location:  l.BuildTree(name),
			CreatedAt: time.Unix(int64(whole), int64(frac*1e9)).UTC(),
		})
	}
	return builds, nil
}
