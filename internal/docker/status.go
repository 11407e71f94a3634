package docker

import (
	"github.com/docker/docker/api/types"
)

// Status is the overall health of a fleet.
type Status string

const (
	// StatusRunning indicates all containers are running
	StatusRunning Status = "Running"

	// StatusDegraded indicates some containers are stopped
	StatusDegraded Status = "Degraded"

	// StatusStopped indicates no container is running, or there are none
	StatusStopped Status = "Stopped"
)

// DetermineStatus analyzes a fleet's containers.
func DetermineStatus(containers []types.Container) Status {
	if len(containers) == 0 {
		return StatusStopped
	}

	running := 0
	for _, c := range containers {
		if c.State == "running" {
			running++
		}
	}

	switch {
	case running == len(containers):
		return StatusRunning
	case running > 0:
		return StatusDegraded
	default:
		return StatusStopped
	}
}
