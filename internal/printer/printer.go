package printer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/dyluth/cstar/internal/parallel"
	"github.com/dyluth/cstar/internal/transport"
	"github.com/dyluth/cstar/pkg/cluster"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)

	// Node tasks print concurrently
	mu     sync.Mutex
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// SetOutput redirects printing, returning a function that restores the previous writers.
func SetOutput(out, errOut io.Writer) (restore func()) {
	mu.Lock()
	defer mu.Unlock()
	prevOut, prevErr := stdout, stderr
	stdout, stderr = out, errOut
	return func() {
		mu.Lock()
		defer mu.Unlock()
		stdout, stderr = prevOut, prevErr
	}
}

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	mu.Lock()
	defer mu.Unlock()
	if !strings.HasPrefix(msg, "✓") {
		green.Fprintf(stdout, "✓ %s", msg)
	} else {
		green.Fprint(stdout, msg)
	}
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(stdout, format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	mu.Lock()
	defer mu.Unlock()
	if !strings.HasPrefix(msg, "⚠️") {
		yellow.Fprintf(stdout, "⚠️  %s", msg)
	} else {
		yellow.Fprint(stdout, msg)
	}
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	mu.Lock()
	defer mu.Unlock()
	cyan.Fprintf(stdout, "→ %s", msg)
}

// NodeStep prints a step message prefixed with the host it belongs to
func NodeStep(host, format string, a ...any) {
	Step("[%s] %s", host, fmt.Sprintf(format, a...))
}

// Error creates a formatted error message with title, explanation, and suggestions
// Prints the formatted error to stderr with colors and returns a simple error for Cobra
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext creates a formatted error with context details
// Prints the formatted error to stderr with colors and returns a simple error for Cobra
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	mu.Lock()
	defer mu.Unlock()

	red.Fprintf(stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(stderr, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintf(stderr, "\n")
		for _, key := range keys {
			fmt.Fprintf(stderr, "  %s: %s\n", key, context[key])
		}
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(stderr, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(stderr, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(stderr, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(stderr, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	// Return simple error for Cobra (won't be printed due to SilenceErrors)
	return fmt.Errorf("%s", title)
}

// FromError prints a cluster operation failure with advice matched to the
// error's kind, and returns a simple error for Cobra.
func FromError(operation string, err error) error {
	title := fmt.Sprintf("%s failed", operation)
	details := map[string]string{}

	var nodeErrs parallel.NodeErrors
	if errors.As(err, &nodeErrs) {
		for _, host := range nodeErrs.Hosts() {
			details[host] = nodeErrs[host].Error()
		}
	}

	var timeout *cluster.ConvergenceTimeoutError
	var unknown *cluster.UnknownOptionError
	var cmdErr *transport.CommandError

	switch {
	case errors.As(err, &timeout):
		if len(timeout.Up) > 0 {
			details["up"] = strings.Join(timeout.Up, ", ")
		}
		if len(timeout.Down) > 0 {
			details["not up"] = strings.Join(timeout.Down, ", ")
		}
		return ErrorWithContext(title, err.Error(), details, []string{
			"Check system.log on the nodes that are not up",
			"Raise --retries or --wait if the cluster is just slow to converge",
		})
	case errors.As(err, &unknown):
		return ErrorWithContext(title, err.Error(), details, []string{
			fmt.Sprintf("Remove '%s' from the yaml: section of the cluster file", unknown.Key),
			"Check the option name against the target Cassandra version",
		})
	case errors.Is(err, cluster.ErrConfiguration), errors.Is(err, cluster.ErrUnsupportedPartitioner):
		return ErrorWithContext(title, err.Error(), details, []string{"Fix the cluster file and run the command again"})
	case errors.Is(err, cluster.ErrBuild):
		return ErrorWithContext(title, err.Error(), details, []string{
			"Check that the revision exists in the build host's repository",
			"Run again to retry the build; failed builds are never cached",
		})
	case errors.As(err, &cmdErr), errors.Is(err, cluster.ErrTransport):
		return ErrorWithContext(title, err.Error(), details, []string{"Check that every host is reachable (cstar fleet status)"})
	default:
		return ErrorWithContext(title, err.Error(), details, nil)
	}
}

// Table prints rows aligned in columns under a header
func Table(header []string, rows [][]string) {
	mu.Lock()
	defer mu.Unlock()
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintln(stdout, a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring)
func Printf(format string, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(stdout, format, a...)
}
