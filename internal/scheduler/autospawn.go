package scheduler

import "github.com/homer-run/homer/internal/types"

// ActiveCount returns the number of agents still occupying a slot.
func ActiveCount(agents []*types.Agent) int {
	active := 0
	for _, a := range agents {
		if a.Status == types.StatusWorking || a.Status == types.StatusVerifying {
			active++
		}
	}
	return active
}

// SlotsToFill returns how many replacement agents to spawn to reach
// maxAgents given the current set of agents. Never negative.
func SlotsToFill(agents []*types.Agent, maxAgents int) int {
	n := maxAgents - ActiveCount(agents)
	if n < 0 {
		return 0
	}
	return n
}
