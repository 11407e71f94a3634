package cluster

// NodeState is a node's position in the lifecycle state machine.
type NodeState string

const (
	StateUnprovisioned NodeState = "Unprovisioned"
	StateConfigured    NodeState = "Configured"
	StateStarting      NodeState = "Starting"
	StateRunning       NodeState = "Running"
	StateStopping      NodeState = "Stopping"
	StateStopped       NodeState = "Stopped"
	StateFailed        NodeState = "Failed"
)

// transitions lists the allowed successors of each state. Destroy may return
// any state to Unprovisioned and is handled by CanTransition directly.
var transitions = map[NodeState][]NodeState{
	StateUnprovisioned: {StateConfigured, StateFailed},
	StateConfigured:    {StateConfigured, StateStarting, StateStopping, StateFailed},
	StateStarting:      {StateRunning, StateStopping, StateFailed},
	StateRunning:       {StateStopping},
	StateStopping:      {StateStopped, StateFailed},
	StateStopped:       {StateConfigured, StateStarting, StateStopping, StateFailed},
	StateFailed:        {StateConfigured, StateStarting, StateStopping, StateFailed},
}

// Valid reports whether s is a known state.
func (s NodeState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s NodeState) CanTransition(next NodeState) bool {
	if next == StateUnprovisioned {
		return s.Valid()
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
