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
	"fmt"

	"github.com/launchpad/engine/internal/model"
	conductorerrors "github.com/launchpad/engine/pkg/errors"
)

// DefuseTask administratively disables taskID; its direct children stay
// WAITING (never promoted) until reignited.
func (l *Launchpad) DefuseTask(ctx context.Context, taskID int) error {
	return l.applyTaskEvent(ctx, taskID, model.EventDefuse)
}

// PauseTask holds taskID; like defuse, children stay WAITING, but the
// task resumes (rather than needing a reignite) via ResumeTask.
func (l *Launchpad) PauseTask(ctx context.Context, taskID int) error {
	return l.applyTaskEvent(ctx, taskID, model.EventPause)
}

// ReigniteTask moves a DEFUSED task back to WAITING and re-evaluates its
// parents-resolved predicate.
func (l *Launchpad) ReigniteTask(ctx context.Context, taskID int) error {
	return l.applyTaskEvent(ctx, taskID, model.EventReignite)
}

// ResumeTask moves a PAUSED task back to WAITING and re-evaluates its
// parents-resolved predicate.
func (l *Launchpad) ResumeTask(ctx context.Context, taskID int) error {
	return l.applyTaskEvent(ctx, taskID, model.EventResume)
}

// RerunTask archives taskID's current launches and moves it back to
// WAITING for re-evaluation.
func (l *Launchpad) RerunTask(ctx context.Context, taskID int) error {
	return l.mutateTask(ctx, taskID, func(t *model.Task) error {
		next, err := model.Apply(model.EventRerun, t.State)
		if err != nil {
			return err
		}
		t.ArchivedLaunches = append(t.ArchivedLaunches, t.Launches...)
		t.Launches = nil
		t.State = next
		return nil
	})
}

// RerunTaskFromLaunch reruns taskID pinned to launchID's working
// directory, so the retry reuses the artifacts the earlier attempt left
// behind.
func (l *Launchpad) RerunTaskFromLaunch(ctx context.Context, taskID, launchID int) error {
	launch, err := l.store.GetLaunch(ctx, launchID)
	if err != nil {
		return err
	}
	if launch.TaskID != taskID {
		return &conductorerrors.ValidationError{
			Field:   "launch_id",
			Message: fmt.Sprintf("launch %d belongs to task %d, not %d", launchID, launch.TaskID, taskID),
		}
	}
	return l.mutateTask(ctx, taskID, func(t *model.Task) error {
		next, err := model.Apply(model.EventRerun, t.State)
		if err != nil {
			return err
		}
		t.ArchivedLaunches = append(t.ArchivedLaunches, t.Launches...)
		t.Launches = nil
		t.State = next
		if launch.LaunchDir != "" {
			if t.Spec == nil {
				t.Spec = make(map[string]any)
			}
			t.Spec[model.SpecLaunchDir] = launch.LaunchDir
		}
		return nil
	})
}

// SetPriority sets taskID's `_priority` spec key.
func (l *Launchpad) SetPriority(ctx context.Context, taskID int, priority int) error {
	return l.mutateTask(ctx, taskID, func(t *model.Task) error {
		if t.Spec == nil {
			t.Spec = make(map[string]any)
		}
		t.Spec[model.SpecPriority] = priority
		return nil
	})
}

// UpdateSpec merges patch into taskID's spec.
func (l *Launchpad) UpdateSpec(ctx context.Context, taskID int, patch map[string]any) error {
	return l.mutateTask(ctx, taskID, func(t *model.Task) error {
		if t.Spec == nil {
			t.Spec = make(map[string]any)
		}
		for k, v := range patch {
			t.Spec[k] = v
		}
		return nil
	})
}

// applyTaskEvent fires event against taskID's current state through the
// transition table; an illegal move surfaces the table's error untouched.
func (l *Launchpad) applyTaskEvent(ctx context.Context, taskID int, event model.Event) error {
	return l.mutateTask(ctx, taskID, func(t *model.Task) error {
		next, err := model.Apply(event, t.State)
		if err != nil {
			return err
		}
		t.State = next
		return nil
	})
}

// mutateTask applies mutate to taskID under its workflow's lock, then
// re-derives descendant states and the workflow's aggregate state.
func (l *Launchpad) mutateTask(ctx context.Context, taskID int, mutate func(*model.Task) error) error {
	wf, err := l.store.GetWorkflowByTaskID(ctx, taskID)
	if err != nil {
		return err
	}

	return l.withWorkflowLock(ctx, wf.ID, func(ctx context.Context) error {
		task, err := l.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if err := mutate(task); err != nil {
			return err
		}
		if err := l.store.SaveTask(ctx, task); err != nil {
			return err
		}
		wf.FWStates[taskID] = task.State

		if task.State == model.StateWaiting {
			// The task itself may already be unblocked (its parents
			// resolved while it was held), so check it before walking
			// its descendants.
			parentStates := make([]model.State, 0, len(wf.ParentLinks[taskID]))
			for _, pid := range wf.ParentLinks[taskID] {
				parentStates = append(parentStates, wf.FWStates[pid])
			}
			if model.ParentsResolved(parentStates, task.AllowFizzledParents()) {
				task.State = model.StateReady
				if err := l.store.SaveTask(ctx, task); err != nil {
					return err
				}
				wf.FWStates[taskID] = model.StateReady
			}
			if err := l.reevaluateDescendants(ctx, wf, taskID); err != nil {
				return err
			}
		} else if task.State == model.StateDefused || task.State == model.StatePaused {
			if err := l.propagateWaiting(ctx, wf, taskID); err != nil {
				return err
			}
		}

		return l.recomputeWorkflowState(ctx, wf)
	})
}

// propagateWaiting forces every READY descendant of taskID back to
// WAITING: used when taskID is defused or paused, since any downstream
// READY promotion it caused is no longer valid.
func (l *Launchpad) propagateWaiting(ctx context.Context, wf *model.Workflow, taskID int) error {
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
		if child.State != model.StateReady && child.State != model.StateWaiting {
			continue
		}
		if child.State != model.StateWaiting {
			child.State = model.StateWaiting
			if err := l.store.SaveTask(ctx, child); err != nil {
				return err
			}
		}
		wf.FWStates[childID] = model.StateWaiting
		queue = append(queue, wf.Links[childID]...)
	}
	return nil
}

// DefuseWorkflow defuses every non-terminal task in workflowID. When
// allStates is true, terminal tasks (COMPLETED/FIZZLED) are defused too.
func (l *Launchpad) DefuseWorkflow(ctx context.Context, workflowID string, allStates bool) error {
	return l.forEachWorkflowTask(ctx, workflowID, func(task *model.Task) (model.State, bool) {
		if next, err := model.Apply(model.EventDefuse, task.State); err == nil {
			return next, true
		}
		if allStates && (task.State == model.StateCompleted || task.State == model.StateFizzled) {
			return model.StateDefused, true
		}
		return task.State, false
	})
}

// PauseWorkflow pauses every WAITING/READY task in workflowID; tasks in
// other states are left alone.
func (l *Launchpad) PauseWorkflow(ctx context.Context, workflowID string) error {
	return l.forEachWorkflowTask(ctx, workflowID, func(task *model.Task) (model.State, bool) {
		next, err := model.Apply(model.EventPause, task.State)
		return next, err == nil
	})
}

// ReigniteWorkflow moves every DEFUSED (and PAUSED — reignite is the
// blanket restart) task in workflowID back to WAITING, then re-resolves
// parents across the whole graph so unblocked tasks surface as READY.
func (l *Launchpad) ReigniteWorkflow(ctx context.Context, workflowID string) error {
	return l.withWorkflowLock(ctx, workflowID, func(ctx context.Context) error {
		wf, err := l.store.GetWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		for _, taskID := range wf.Nodes {
			task, err := l.store.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			next, applyErr := model.Apply(model.EventReignite, task.State)
			if applyErr != nil {
				next, applyErr = model.Apply(model.EventResume, task.State)
			}
			if applyErr != nil {
				continue
			}
			task.State = next
			if err := l.store.SaveTask(ctx, task); err != nil {
				return err
			}
			wf.FWStates[taskID] = next
		}

		for _, taskID := range wf.Nodes {
			if wf.FWStates[taskID] != model.StateWaiting {
				continue
			}
			task, err := l.store.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			parentStates := make([]model.State, 0, len(wf.ParentLinks[taskID]))
			for _, pid := range wf.ParentLinks[taskID] {
				parentStates = append(parentStates, wf.FWStates[pid])
			}
			if model.ParentsResolved(parentStates, task.AllowFizzledParents()) {
				task.State = model.StateReady
				if err := l.store.SaveTask(ctx, task); err != nil {
					return err
				}
				wf.FWStates[taskID] = model.StateReady
			}
		}
		return l.recomputeWorkflowState(ctx, wf)
	})
}

// forEachWorkflowTask applies decide to every task in workflowID under
// the workflow lock. decide returns the task's next state and whether to
// persist it.
func (l *Launchpad) forEachWorkflowTask(ctx context.Context, workflowID string, decide func(*model.Task) (model.State, bool)) error {
	return l.withWorkflowLock(ctx, workflowID, func(ctx context.Context) error {
		wf, err := l.store.GetWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}
		for _, taskID := range wf.Nodes {
			task, err := l.store.GetTask(ctx, taskID)
			if err != nil {
				return err
			}
			next, apply := decide(task)
			if !apply || next == task.State {
				continue
			}
			task.State = next
			if err := l.store.SaveTask(ctx, task); err != nil {
				return err
			}
			wf.FWStates[taskID] = next
		}
		return l.recomputeWorkflowState(ctx, wf)
	})
}

// ArchiveWorkflow soft-deletes workflowID: every task transitions to
// ARCHIVED and the workflow's aggregate state follows.
func (l *Launchpad) ArchiveWorkflow(ctx context.Context, workflowID string) error {
	return l.forEachWorkflowTask(ctx, workflowID, func(task *model.Task) (model.State, bool) {
		next, _ := model.Apply(model.EventArchive, task.State)
		return next, true
	})
}

// DeleteWorkflow removes workflowID's workflow record from the store.
// Its tasks and launches are not deleted.
func (l *Launchpad) DeleteWorkflow(ctx context.Context, workflowID string) error {
	return l.withWorkflowLock(ctx, workflowID, func(ctx context.Context) error {
		return l.store.DeleteWorkflow(ctx, workflowID)
	})
}

// Unlock forcibly breaks workflowID's advisory lock, for the `unlock`
// admin command and stuck-lock recovery.
func (l *Launchpad) Unlock(ctx context.Context, workflowID string) error {
	return l.store.BreakLock(ctx, workflowID)
}
