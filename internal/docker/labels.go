package docker

import (
	"fmt"
)

// Label keys used for cstar fleet resources
const (
	LabelProject   = "cstar.project"
	LabelFleet     = "cstar.fleet"
	LabelRunID     = "cstar.fleet.run_id"
	LabelHost      = "cstar.host"
	LabelComponent = "cstar.component"
)

// ComponentNode marks containers acting as cluster hosts.
const ComponentNode = "node"

// BuildLabels creates the standard label set for fleet resources.
// host is empty for the network.
func BuildLabels(fleet, runID, host string) map[string]string {
	labels := map[string]string{
		LabelProject: "true",
		LabelFleet:   fleet,
		LabelRunID:   runID,
	}

	if host != "" {
		labels[LabelHost] = host
		labels[LabelComponent] = ComponentNode
	}

	return labels
}

// FleetFilter returns the label filter value selecting a fleet's resources.
func FleetFilter(fleet string) string {
	return fmt.Sprintf("%s=%s", LabelFleet, fleet)
}
