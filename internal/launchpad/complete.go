// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package launchpad

import (
	"context"
	"time"

	"github.com/launchpad/engine/internal/action"
	"github.com/launchpad/engine/internal/model"
	conductorerrors "github.com/launchpad/engine/pkg/errors"
)

// Complete records launchID's terminal outcome: writes the launch's
// terminal state and action, updates the owning task's state, applies the
// action's side effects, re-evaluates every descendant's parents-resolved
// predicate, and updates the workflow's aggregate state. All of this runs
// under the owning workflow's lock.
func (l *Launchpad) Complete(ctx context.Context, launchID int, act *model.Action, finalState model.State) error {
	if finalState != model.StateCompleted && finalState != model.StateFizzled {
		return &conductorerrors.ValidationError{Field: "final_state", Message: "must be COMPLETED or FIZZLED"}
	}

	l.wg.Add(1)
	defer l.wg.Done()

	ctx, span := l.startSpan(ctx, "launchpad.complete")
	defer span.End()
	start := time.Now()

	launch, err := l.store.GetLaunch(ctx, launchID)
	if err != nil {
		return err
	}
	// Re-delivery of an already-finalized launch is a no-op, so completing
	// the same launch twice is safe.
	if launch.State == model.StateCompleted || launch.State == model.StateFizzled {
		l.inFlight.Delete(launch.TaskID)
		return nil
	}

	wf, err := l.store.GetWorkflowByTaskID(ctx, launch.TaskID)
	if err != nil {
		return err
	}

	err = l.withWorkflowLock(ctx, wf.ID, func(ctx context.Context) error {
		return l.completeLocked(ctx, wf, launch, act, finalState)
	})
	l.inFlight.Delete(launch.TaskID)
	if err != nil {
		return err
	}

	if m := l.getMetrics(); m != nil {
		m.RecordComplete(ctx, launch.TaskID, finalState, time.Since(start))
	}
	return nil
}

func (l *Launchpad) completeLocked(ctx context.Context, wf *model.Workflow, launch *model.Launch, act *model.Action, finalState model.State) error {
	// Re-check under the lock: a concurrent Complete for the same launch
	// may have finalized it between the unlocked read and here.
	fresh, err := l.store.GetLaunch(ctx, launch.LaunchID)
	if err != nil {
		return err
	}
	if fresh.State == model.StateCompleted || fresh.State == model.StateFizzled {
		return nil
	}

	task, err := l.store.GetTask(ctx, launch.TaskID)
	if err != nil {
		return err
	}

	// A running worker is never preempted, but if admin state moved the
	// task past RUNNING while it ran (defuse, rerun, archive), its result
	// no longer applies: the launch fizzles and the task keeps the admin
	// state.
	if task.State != model.StateRunning && task.State != model.StateReserved {
		finalState = model.StateFizzled
		return l.finalizeLaunch(ctx, launch, act, finalState)
	}

	if err := l.finalizeLaunch(ctx, launch, act, finalState); err != nil {
		return err
	}

	task.State = finalState
	if err := l.store.SaveTask(ctx, task); err != nil {
		return err
	}
	wf.FWStates[task.TaskID] = finalState

	if act != nil {
		if err := action.Apply(ctx, l.store, wf, task, act); err != nil {
			return err
		}
	}

	if err := l.reevaluateDescendants(ctx, wf, task.TaskID); err != nil {
		return err
	}

	return l.recomputeWorkflowState(ctx, wf)
}

// finalizeLaunch writes the launch's terminal state, action, and timing.
func (l *Launchpad) finalizeLaunch(ctx context.Context, launch *model.Launch, act *model.Action, finalState model.State) error {
	now := time.Now()
	launch.State = finalState
	launch.Action = act
	launch.TimeEnd = &now
	if launch.TimeStart != nil {
		launch.RuntimeSecs = now.Sub(*launch.TimeStart).Seconds()
	}
	launch.StateHistory = append(launch.StateHistory, model.StateHistoryEntry{State: finalState, Timestamp: now})
	return l.store.UpdateLaunch(ctx, launch)
}

// reevaluateDescendants walks wf's links breadth-first from taskID and
// promotes any WAITING descendant whose parents-resolved predicate now
// holds to READY.
func (l *Launchpad) reevaluateDescendants(ctx context.Context, wf *model.Workflow, taskID int) error {
	visited := make(map[int]bool)
	queue := append([]int(nil), wf.Links[taskID]...)

	for len(queue) > 0 {
		childID := queue[0]
		queue = queue[1:]
		if visited[childID] {
			continue
		}
		visited[childID] = true

		child, err := l.store.GetTask(ctx, childID)
		if err != nil {
			return err
		}
		if child.State != model.StateWaiting {
			continue
		}

		parentStates := make([]model.State, 0, len(wf.ParentLinks[childID]))
		for _, pid := range wf.ParentLinks[childID] {
			parentStates = append(parentStates, wf.FWStates[pid])
		}

		if model.ParentsResolved(parentStates, child.AllowFizzledParents()) {
			child.State = model.StateReady
			if err := l.store.SaveTask(ctx, child); err != nil {
				return err
			}
			wf.FWStates[childID] = model.StateReady
			queue = append(queue, wf.Links[childID]...)
		}
	}
	return nil
}
