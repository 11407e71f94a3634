package cluster

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrConfiguration          = errors.New("configuration error")
	ErrUnsupportedPartitioner = errors.New("unsupported partitioner")
	ErrBuild                  = errors.New("build failed")
	ErrConvergenceTimeout     = errors.New("convergence timeout")
	ErrTransport              = errors.New("transport failure")
)

// ConfigurationError reports an invalid cluster description. It is raised
// before any remote mutation of the affected node.
type ConfigurationError struct {
	Node   string // Empty for cluster-wide problems
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("configuration error on %s: %s", e.Node, e.Reason)
	}
	return "configuration error: " + e.Reason
}

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// UnknownOptionError is raised when a strict override names an option that is
// not in the option schema.
type UnknownOptionError struct {
	Key string
}

func (e *UnknownOptionError) Error() string {
	return fmt.Sprintf("unknown cassandra.yaml option: %s", e.Key)
}

// Is matches ErrConfiguration.
func (e *UnknownOptionError) Is(target error) bool {
	return target == ErrConfiguration
}

// UnsupportedPartitionerError is raised for partitioners other than murmur3 and random.
type UnsupportedPartitionerError struct {
	Partitioner string
}

func (e *UnsupportedPartitionerError) Error() string {
	return fmt.Sprintf("unsupported partitioner: %q (must be 'murmur3' or 'random')", e.Partitioner)
}

// Is matches ErrUnsupportedPartitioner.
func (e *UnsupportedPartitionerError) Is(target error) bool {
	return target == ErrUnsupportedPartitioner
}

// BuildError wraps a failure of the build collaborator.
type BuildError struct {
	Revision string
	Err      error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build of revision %s failed: %v", e.Revision, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Is matches ErrBuild.
func (e *BuildError) Is(target error) bool {
	return target == ErrBuild
}

// ConvergenceTimeoutError is raised when readiness polling exhausts its retries.
// Up and Down carry the partial progress observed on the last attempt.
type ConvergenceTimeoutError struct {
	Operation string
	Attempts  int
	Up        []string
	Down      []string
}

func (e *ConvergenceTimeoutError) Error() string {
	msg := fmt.Sprintf("%s: timed out after %d attempts", e.Operation, e.Attempts)
	if len(e.Down) > 0 {
		msg += fmt.Sprintf(" (waiting on: %s)", strings.Join(e.Down, ", "))
	}
	return msg
}

// Is matches ErrConvergenceTimeout.
func (e *ConvergenceTimeoutError) Is(target error) bool {
	return target == ErrConvergenceTimeout
}

// TransportError wraps a failure of the remote executor itself (not a
// non-zero exit status of the remote command).
type TransportError struct {
	Host string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s on %s: %v", e.Op, e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
