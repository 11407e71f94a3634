package state

import "fmt"

// Redis key pattern helpers
//
// Keys are namespaced by the cluster's state key (a digest of its ordered
// host list) so several clusters can share one Redis server.
//
// Key pattern: cstar:cluster:{state_key}:{entity}

// NodesKey returns the hash of host → node record JSON.
// Pattern: cstar:cluster:{state_key}:nodes
func NodesKey(clusterKey string) string {
	return fmt.Sprintf("cstar:cluster:%s:nodes", clusterKey)
}

// EventsChannel returns the Pub/Sub channel carrying every state change.
// Pattern: cstar:cluster:{state_key}:node_events
func EventsChannel(clusterKey string) string {
	return fmt.Sprintf("cstar:cluster:%s:node_events", clusterKey)
}
