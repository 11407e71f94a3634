// Package schema answers which cassandra.yaml options a build understands.
package schema

import (
	"context"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/dyluth/cstar/internal/layout"
	"github.com/dyluth/cstar/internal/transport"
)

// DefaultJythonURL is where the standalone jython jar is fetched from.
const DefaultJythonURL = "https://repo1.maven.org/maven2/org/python/jython-standalone/2.7.3/jython-standalone-2.7.3.jar"

const configScript = "import org.apache.cassandra.config.Config as Config; print dict(Config.__dict__).keys()"

var (
	// Option names are lower case words; class members like FOO or getFoo are not options.
	optionPattern = regexp.MustCompile(`^[a-z][^A-Z]*$`)
	unicodePrefix = regexp.MustCompile(`([\[,]\s*)u'`)
)

// Set is a set of option names.
type Set map[string]struct{}

// NewSet builds a set from names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the members sorted.
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Target identifies the build whose options are listed.
type Target struct {
	Version  string // Cache key, normally the resolved revision id
	Host     string // Host holding the compiled tree
	Tree     string // Root of the compiled tree on Host
	JavaHome string
}

// Source lists the option names for a target. It must not change the target.
type Source interface {
	ListOptionNames(ctx context.Context, target Target) (Set, error)
}

// JythonSource reads the fields of Cassandra's Config class through jython
// on the build host, since not every option appears in the shipped cassandra.yaml.
type JythonSource struct {
	Exec      transport.Executor
	Layout    layout.Layout
	JythonURL string
}

// ListOptionNames implements Source.
func (j *JythonSource) ListOptionNames(ctx context.Context, target Target) (Set, error) {
	jar := j.Layout.Jython()
	present, err := transport.Exists(ctx, j.Exec, target.Host, "-f", jar)
	if err != nil {
		return nil, err
	}
	if !present {
		url := j.JythonURL
		if url == "" {
			url = DefaultJythonURL
		}
		if _, err := transport.Check(ctx, j.Exec, target.Host, transport.Cmd("wget", "-q", url, "-O", jar)); err != nil {
			return nil, fmt.Errorf("failed to fetch jython: %w", err)
		}
	}

	classes := path.Join(target.Tree, "build", "classes", "main")
	classpath := strings.Join([]string{classes, path.Join(target.Tree, "lib", "*"), jar}, ":")
	javaHome := target.JavaHome
	if javaHome == "" {
		javaHome = j.Layout.JavaHome()
	}

	cmd := transport.Cmd(path.Join(javaHome, "bin", "java"),
		"-cp", classpath,
		"-Dpython.path="+classes,
		"org.python.util.jython",
		"-c", configScript,
	)
	res, err := transport.Check(ctx, j.Exec, target.Host, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to run jython config parser: %w", err)
	}
	return ParseOptionNames(res.Stdout)
}

// ParseOptionNames parses the printed key list and keeps the option names.
func ParseOptionNames(out string) (Set, error) {
	normalized := unicodePrefix.ReplaceAllString(strings.TrimSpace(out), "$1'")

	var keys []string
	if err := yaml.Unmarshal([]byte(normalized), &keys); err != nil {
		return nil, fmt.Errorf("failed to parse option list: %w", err)
	}

	set := make(Set, len(keys))
	for _, k := range keys {
		if optionPattern.MatchString(k) {
			set[k] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("option list is empty")
	}
	return set, nil
}

// CachedSource queries its inner source once per version. Concurrent callers
// for the same version share one query.
type CachedSource struct {
	inner Source
	cache *gocache.Cache
	sf    singleflight.Group
}

// NewCachedSource wraps inner.
func NewCachedSource(inner Source) *CachedSource {
	return &CachedSource{inner: inner, cache: gocache.New(gocache.NoExpiration, 0)}
}

// ListOptionNames implements Source.
func (c *CachedSource) ListOptionNames(ctx context.Context, target Target) (Set, error) {
	if v, ok := c.cache.Get(target.Version); ok {
		return v.(Set), nil
	}

	v, err, _ := c.sf.Do(target.Version, func() (interface{}, error) {
		if v, ok := c.cache.Get(target.Version); ok {
			return v, nil
		}
		set, err := c.inner.ListOptionNames(ctx, target)
		if err != nil {
			return nil, err
		}
		c.cache.Set(target.Version, set, gocache.NoExpiration)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Set), nil
}

// StaticSource returns a fixed set for every target.
type StaticSource struct {
	Options Set
}

// ListOptionNames implements Source.
func (s StaticSource) ListOptionNames(context.Context, Target) (Set, error) {
	return s.Options, nil
}

// LoadFile reads a YAML list of option names, e.g. one captured from a previous run.
func LoadFile(filename string) (StaticSource, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return StaticSource{}, fmt.Errorf("failed to read schema file: %w", err)
	}
	var names []string
	if err := yaml.Unmarshal(data, &names); err != nil {
		return StaticSource{}, fmt.Errorf("failed to parse schema file: %w", err)
	}
	if len(names) == 0 {
		return StaticSource{}, fmt.Errorf("schema file %s lists no options", filename)
	}
	return StaticSource{Options: NewSet(names...)}, nil
}
