// Package parallel fans work out across cluster hosts. A failing host never
// cancels its siblings; every host runs to completion and failures are
// collected per host.
package parallel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// NodeErrors maps a host to the error its task returned.
type NodeErrors map[string]error

// Hosts returns the failed hosts in sorted order.
func (e NodeErrors) Hosts() []string {
	hosts := make([]string, 0, len(e))
	for h := range e {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

func (e NodeErrors) Error() string {
	hosts := e.Hosts()
	if len(hosts) == 1 {
		return fmt.Sprintf("%s: %v", hosts[0], e[hosts[0]])
	}
	parts := make([]string, len(hosts))
	for i, h := range hosts {
		parts[i] = fmt.Sprintf("%s: %v", h, e[h])
	}
	return fmt.Sprintf("%d hosts failed: %s", len(hosts), strings.Join(parts, "; "))
}

// Unwrap exposes the per-host errors to errors.Is and errors.As.
func (e NodeErrors) Unwrap() []error {
	out := make([]error, 0, len(e))
	for _, h := range e.Hosts() {
		out = append(out, e[h])
	}
	return out
}

// Task is the work for one host.
type Task func(ctx context.Context, host string) error

// ForEach runs task once per host with at most limit running at a time
// (limit <= 0 means all at once). It returns nil or a NodeErrors.
func ForEach(ctx context.Context, hosts []string, limit int, task Task) error {
	_, err := Collect(ctx, hosts, limit, func(ctx context.Context, host string) (struct{}, error) {
		return struct{}{}, task(ctx, host)
	})
	return err
}

// Collect runs fn once per host and gathers the successful values by host.
func Collect[T any](ctx context.Context, hosts []string, limit int, fn func(ctx context.Context, host string) (T, error)) (map[string]T, error) {
	if limit <= 0 || limit > len(hosts) {
		limit = len(hosts)
	}

	var (
		mu      sync.Mutex
		results = make(map[string]T, len(hosts))
		failed  = make(NodeErrors)
		group   errgroup.Group
	)
	group.SetLimit(max(limit, 1))

	for _, host := range hosts {
		host := host
		// Go blocks while limit tasks are running.
		group.Go(func() error {
			var (
				value T
				err   = ctx.Err()
			)
			if err == nil {
				value, err = fn(ctx, host)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[host] = err
				return nil
			}
			results[host] = value
			return nil
		})
	}
	// Failures are collected per host, so Wait has nothing to report.
	group.Wait()

	if len(failed) > 0 {
		return results, failed
	}
	return results, nil
}
