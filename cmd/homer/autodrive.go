package main

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/homer-run/homer/internal/events"
	"github.com/homer-run/homer/internal/scheduler"
	"github.com/homer-run/homer/internal/supervisor"
	"github.com/homer-run/homer/internal/tasks"
	"github.com/homer-run/homer/internal/types"
)

// autoDriveInterval is how often the loop checks for idle agent slots to
// fill, mirroring the teacher's fixed captain cycle interval.
const autoDriveInterval = 3 * time.Second

// runAutoLoop fills idle agent slots from the PRD/issue backlog and
// persists story pass/fail outcomes as agents finish, until ctx is
// canceled. Grounded on the teacher's captain.go Run/runCycle ticker loop.
func runAutoLoop(ctx context.Context, coord *supervisor.Coordinator, sched *scheduler.Scheduler, bus *events.Bus, repoPath, toolID, label string, opts types.SpawnOptions, maxAgents int) {
	prd, prdPath, err := tasks.Load(repoPath)
	if err != nil {
		log.Printf("[SCHEDULER] prd not loaded: %v", err)
	}
	if prd != nil {
		log.Printf("[SCHEDULER] prd loaded from %s (%d stories)", prdPath, len(prd.Stories))
	}
	if prdPath == "" {
		prdPath = filepath.Join(repoPath, "prd.json")
	}

	outcomes := bus.Subscribe("all", []events.EventType{events.EventAgentDone, events.EventError})
	defer bus.Unsubscribe("all", outcomes)

	ticker := time.NewTicker(autoDriveInterval)
	defer ticker.Stop()

	fillSlots(coord, sched, prd, toolID, label, opts, maxAgents)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-outcomes:
			reconcilePRD(prd, prdPath, ev)
			fillSlots(coord, sched, prd, toolID, label, opts, maxAgents)
		case <-ticker.C:
			fillSlots(coord, sched, prd, toolID, label, opts, maxAgents)
		}
	}
}

// fillSlots spawns new agents against the scheduler's next selections until
// either maxAgents is reached or the scheduler has nothing left to assign.
func fillSlots(coord *supervisor.Coordinator, sched *scheduler.Scheduler, prd *tasks.PRD, toolID, label string, opts types.SpawnOptions, maxAgents int) {
	slots := scheduler.SlotsToFill(coord.Agents(), maxAgents)
	for i := 0; i < slots; i++ {
		selection, ok := sched.Next(prd)
		if !ok {
			return
		}
		agent, err := coord.Spawn(toolID, label, &selection.Unit, opts)
		if err != nil {
			log.Printf("[SCHEDULER] spawn failed for %s: %v", selection.Unit.TaskKey(), err)
			return
		}
		log.Printf("[SCHEDULER] spawned agent %s for %s", agent.ID, selection.Unit.TaskKey())
	}
}

// reconcilePRD persists a story's pass/fail outcome to disk when an
// agent:done or a permanent error event reports one; this is the follow-up
// that scheduler.MarkSubtaskDone's doc comment leaves to its caller.
func reconcilePRD(prd *tasks.PRD, prdPath string, ev events.Event) {
	if prd == nil || ev.Payload == nil {
		return
	}
	storyID, _ := ev.Payload["story_id"].(string)
	if storyID == "" {
		return
	}

	switch ev.Type {
	case events.EventAgentDone:
		complete, _ := ev.Payload["story_complete"].(bool)
		if !complete {
			return
		}
		if err := tasks.MarkStoryPassed(prdPath, prd, storyID); err != nil {
			log.Printf("[SCHEDULER] failed to persist story %s as passed: %v", storyID, err)
		}
	case events.EventError:
		permanent, _ := ev.Payload["permanent"].(bool)
		if !permanent {
			return
		}
		reason, _ := ev.Payload["reason"].(string)
		if err := tasks.MarkStoryFailed(prdPath, prd, storyID, reason); err != nil {
			log.Printf("[SCHEDULER] failed to persist story %s as failed: %v", storyID, err)
		}
	}
}
