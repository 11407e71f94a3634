// Package merge builds each node's cassandra.yaml from the shipped defaults,
// the cluster's overrides and the node's identity.
package merge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/cstar/internal/schema"
	"github.com/dyluth/cstar/pkg/cluster"
)

// ReservedKeys are cluster file keys with their own meaning. A schema that
// also lists one of them is rejected rather than merged.
var ReservedKeys = []string{"yaml"}

// SimpleSeedProvider is used when the defaults carry no seed_provider.
const SimpleSeedProvider = "org.apache.cassandra.locator.SimpleSeedProvider"

func isReserved(key string) bool {
	for _, r := range ReservedKeys {
		if r == key {
			return true
		}
	}
	return false
}

func checkReserved(opts schema.Set) error {
	for _, r := range ReservedKeys {
		if opts.Has(r) {
			return &cluster.ConfigurationError{
				Reason: fmt.Sprintf("option %q is both a reserved key and a cassandra.yaml option", r),
			}
		}
	}
	return nil
}

// Validate fails with *cluster.UnknownOptionError for the first strict key
// (in sorted order) that the schema does not list.
func Validate(strict map[string]any, opts schema.Set) error {
	keys := make([]string, 0, len(strict))
	for k := range strict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !opts.Has(k) {
			return &cluster.UnknownOptionError{Key: k}
		}
	}
	return nil
}

// DroppedLegacyKeys lists the legacy keys that Merge ignores.
func DroppedLegacyKeys(legacy map[string]any, opts schema.Set) []string {
	var out []string
	for k := range legacy {
		if !opts.Has(k) || isReserved(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Merge layers legacy and then strict overrides onto defaults. Legacy keys
// outside the schema are skipped; strict keys outside the schema are an
// error. Inputs are never modified.
func Merge(defaults, legacy, strict map[string]any, opts schema.Set) (cluster.ResolvedConfig, error) {
	if err := checkReserved(opts); err != nil {
		return nil, err
	}
	if err := Validate(strict, opts); err != nil {
		return nil, err
	}

	out := cluster.CopyMap(defaults)
	if out == nil {
		out = make(map[string]any)
	}
	for k, v := range legacy {
		if opts.Has(k) && !isReserved(k) {
			out[k] = cluster.CopyValue(v)
		}
	}
	for k, v := range strict {
		out[k] = cluster.CopyValue(v)
	}
	return cluster.ResolvedConfig(out), nil
}

// Resolve produces the complete document for one node: the merged overrides
// plus tokens, addresses, seeds and partitioner.
func Resolve(spec cluster.ClusterSpec, node cluster.NodeSpec, defaults map[string]any, opts schema.Set) (cluster.ResolvedConfig, error) {
	if len(spec.Seeds) == 0 {
		return nil, &cluster.ConfigurationError{Node: node.Host, Reason: "no seed nodes defined, the cluster cannot bootstrap"}
	}

	cfg, err := Merge(defaults, spec.Options, spec.YAML, opts)
	if err != nil {
		return nil, err
	}

	if _, set := spec.YAML["num_tokens"]; !set {
		if spec.UseVnodes {
			cfg["num_tokens"] = spec.NumTokens
		} else {
			if node.InitialToken == "" {
				return nil, &cluster.ConfigurationError{Node: node.Host, Reason: "vnodes are disabled but the node has no initial_token"}
			}
			cfg["initial_token"] = node.InitialToken
			cfg["num_tokens"] = 1
		}
	}

	cfg["listen_address"] = node.InternalIP
	cfg["broadcast_address"] = node.BroadcastAddress()
	cfg["rpc_address"] = node.InternalIP

	provider, err := withSeeds(cfg["seed_provider"], strings.Join(spec.Seeds, ","))
	if err != nil {
		return nil, &cluster.ConfigurationError{Node: node.Host, Reason: err.Error()}
	}
	cfg["seed_provider"] = provider

	class, err := spec.Partitioner.ClassName()
	if err != nil {
		return nil, err
	}
	cfg["partitioner"] = class

	return cfg, nil
}

// withSeeds sets the seeds parameter of the first seed provider. The value
// is already a private copy, so it is updated in place.
func withSeeds(v any, seeds string) (any, error) {
	if v == nil {
		return []any{map[string]any{
			"class_name": SimpleSeedProvider,
			"parameters": []any{map[string]any{"seeds": seeds}},
		}}, nil
	}

	providers, ok := v.([]any)
	if !ok || len(providers) == 0 {
		return nil, fmt.Errorf("seed_provider must be a non-empty list")
	}
	provider, ok := providers[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("seed_provider entries must be mappings")
	}

	params, _ := provider["parameters"].([]any)
	if len(params) == 0 {
		provider["parameters"] = []any{map[string]any{"seeds": seeds}}
		return providers, nil
	}
	first, ok := params[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("seed_provider parameters must be mappings")
	}
	first["seeds"] = seeds
	return providers, nil
}
