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

	"github.com/launchpad/engine/internal/model"
	"github.com/launchpad/engine/internal/store"
	conductorerrors "github.com/launchpad/engine/pkg/errors"
)

// DetectUnreserved sweeps launches stuck in RESERVED older than
// expiration: the stuck launch is archived and the task returns to READY
// (or, if rerun is true, to WAITING so its parents-resolved predicate is
// re-evaluated from scratch). Returns the count of tasks reclaimed.
func (l *Launchpad) DetectUnreserved(ctx context.Context, expiration time.Duration, rerun bool) (int, error) {
	cutoff := time.Now().Add(-expiration)
	launches, err := l.store.ListLaunches(ctx, store.LaunchFilter{States: []model.State{model.StateReserved}, PingedBefore: cutoff})
	if err != nil {
		return 0, &conductorerrors.StoreUnavailableError{Op: "detect_unreserved_scan", Cause: err}
	}

	reclaimed := 0
	for _, launch := range launches {
		if err := l.reclaimStuckLaunch(ctx, launch, rerun); err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}

// DetectLostRuns sweeps launches whose last heartbeat is older than
// expiration: a RUNNING launch and its task transition to FIZZLED or, if
// rerun is true, the launch is archived and the task requeued (WAITING,
// or READY at once when its parents are already resolved). It also detects (and, if repair is true, corrects) any
// task whose state disagrees with its tail launch's state. Returns the
// count of launches reclaimed and any inconsistencies found.
func (l *Launchpad) DetectLostRuns(ctx context.Context, expiration time.Duration, rerun, repair bool) (reclaimed int, inconsistencies []error, err error) {
	cutoff := time.Now().Add(-expiration)
	launches, lerr := l.store.ListLaunches(ctx, store.LaunchFilter{States: []model.State{model.StateRunning}, PingedBefore: cutoff})
	if lerr != nil {
		return 0, nil, &conductorerrors.StoreUnavailableError{Op: "detect_lost_runs_scan", Cause: lerr}
	}

	for _, launch := range launches {
		if rerunErr := l.reclaimLostRun(ctx, launch, rerun); rerunErr != nil {
			return reclaimed, inconsistencies, rerunErr
		}
		reclaimed++
	}

	inconsistencies, err = l.sweepInconsistencies(ctx, repair)
	return reclaimed, inconsistencies, err
}

func (l *Launchpad) reclaimStuckLaunch(ctx context.Context, launch *model.Launch, rerun bool) error {
	wf, err := l.store.GetWorkflowByTaskID(ctx, launch.TaskID)
	if err != nil {
		return err
	}
	return l.withWorkflowLock(ctx, wf.ID, func(ctx context.Context) error {
		launch.State = model.StateArchived
		if err := l.store.UpdateLaunch(ctx, launch); err != nil {
			return err
		}

		task, err := l.store.GetTask(ctx, launch.TaskID)
		if err != nil {
			return err
		}
		task.ArchivedLaunches = append(task.ArchivedLaunches, launch.LaunchID)
		removeInt(&task.Launches, launch.LaunchID)

		if rerun {
			task.State = model.StateWaiting
			promoteIfParentsResolved(wf, task)
		} else {
			task.State = model.StateReady
		}
		if err := l.store.SaveTask(ctx, task); err != nil {
			return err
		}
		wf.FWStates[task.TaskID] = task.State
		return l.recomputeWorkflowState(ctx, wf)
	})
}

// promoteIfParentsResolved moves a WAITING task straight to READY when
// its parents (per wf's denormalized states) are already resolved, so a
// requeued task doesn't sit WAITING until its parents change again.
func promoteIfParentsResolved(wf *model.Workflow, task *model.Task) {
	if task.State != model.StateWaiting {
		return
	}
	parentStates := make([]model.State, 0, len(wf.ParentLinks[task.TaskID]))
	for _, pid := range wf.ParentLinks[task.TaskID] {
		parentStates = append(parentStates, wf.FWStates[pid])
	}
	if model.ParentsResolved(parentStates, task.AllowFizzledParents()) {
		task.State = model.StateReady
	}
}

func (l *Launchpad) reclaimLostRun(ctx context.Context, launch *model.Launch, rerun bool) error {
	wf, err := l.store.GetWorkflowByTaskID(ctx, launch.TaskID)
	if err != nil {
		return err
	}
	return l.withWorkflowLock(ctx, wf.ID, func(ctx context.Context) error {
		now := time.Now()
		task, err := l.store.GetTask(ctx, launch.TaskID)
		if err != nil {
			return err
		}

		if rerun {
			launch.State = model.StateArchived
			task.ArchivedLaunches = append(task.ArchivedLaunches, launch.LaunchID)
			removeInt(&task.Launches, launch.LaunchID)
			task.State = model.StateWaiting
			promoteIfParentsResolved(wf, task)
		} else {
			launch.State = model.StateFizzled
			launch.TimeEnd = &now
			task.State = model.StateFizzled
		}
		launch.StateHistory = append(launch.StateHistory, model.StateHistoryEntry{State: launch.State, Timestamp: now})
		if err := l.store.UpdateLaunch(ctx, launch); err != nil {
			return err
		}
		if err := l.store.SaveTask(ctx, task); err != nil {
			return err
		}
		wf.FWStates[task.TaskID] = task.State
		return l.recomputeWorkflowState(ctx, wf)
	})
}

// sweepInconsistencies scans COMPLETED/FIZZLED/RUNNING/RESERVED tasks and
// compares them against their own tail launch's state; repair=true
// corrects the task to match the launch.
func (l *Launchpad) sweepInconsistencies(ctx context.Context, repair bool) ([]error, error) {
	tasks, err := l.store.GetTasks(ctx, store.TaskFilter{
		States: []model.State{model.StateCompleted, model.StateFizzled, model.StateRunning, model.StateReserved},
	})
	if err != nil {
		return nil, &conductorerrors.StoreUnavailableError{Op: "sweep_inconsistencies_scan", Cause: err}
	}

	var found []error
	for _, task := range tasks {
		if len(task.Launches) == 0 {
			continue
		}
		tailID := task.Launches[len(task.Launches)-1]
		launch, err := l.store.GetLaunch(ctx, tailID)
		if err != nil {
			continue
		}
		if string(task.State) == string(launch.State) {
			continue
		}
		found = append(found, &conductorerrors.InconsistentStateError{
			TaskID: task.TaskID, TaskState: string(task.State),
			LaunchID: launch.LaunchID, LaunchState: string(launch.State),
		})
		if repair {
			task.State = launch.State
			if err := l.store.SaveTask(ctx, task); err != nil {
				return found, err
			}
		}
	}
	return found, nil
}

func removeInt(list *[]int, v int) {
	out := (*list)[:0]
	for _, x := range *list {
		if x != v {
			out = append(out, x)
		}
	}
	*list = out
}

// Maintain runs one maintenance pass: detect_unreserved + detect_lost_runs
// with the given thresholds. It runs a single pass so callers control the
// loop interval and cancellation.
func (l *Launchpad) Maintain(ctx context.Context, reservationExpiration, runExpiration time.Duration) error {
	ctx, span := l.startSpan(ctx, "launchpad.maintain")
	defer span.End()

	if _, err := l.DetectUnreserved(ctx, reservationExpiration, false); err != nil {
		return err
	}
	if _, _, err := l.DetectLostRuns(ctx, runExpiration, false, true); err != nil {
		return err
	}
	return nil
}
