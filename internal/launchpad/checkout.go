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
	"net"
	"os"
	"time"

	"github.com/launchpad/engine/internal/model"
	"github.com/launchpad/engine/internal/store"
	conductorerrors "github.com/launchpad/engine/pkg/errors"
)

// Checkout atomically claims one eligible task for worker. Eligibility:
// matches worker.Category (if set) and every key in worker.Query; state is
// READY, or RESERVED for the same worker resuming an earlier reservation.
// Candidates are ordered priority-desc, task-id-asc; the first candidate
// that survives the compare-and-swap wins, losers retry the next
// candidate. Returns (nil, nil, nil) when no task is eligible.
func (l *Launchpad) Checkout(ctx context.Context, worker model.FWorker, reserve bool) (*model.Task, *model.Launch, error) {
	if l.IsDraining() {
		return nil, nil, nil
	}
	l.wg.Add(1)
	defer l.wg.Done()

	ctx, span := l.startSpan(ctx, "launchpad.checkout")
	defer span.End()

	candidates, err := l.store.GetTasks(ctx, store.TaskFilter{
		States: []model.State{model.StateReady, model.StateReserved},
	})
	if err != nil {
		return nil, nil, &conductorerrors.StoreUnavailableError{Op: "checkout_candidates", Cause: err}
	}

	targetState := model.StateRunning
	if reserve {
		targetState = model.StateReserved
	}

	for _, task := range candidates {
		if !matchesWorker(task, worker) {
			continue
		}
		if _, busy := l.inFlight.Load(task.TaskID); busy {
			continue
		}

		// A RESERVED task is only resumable by the worker that reserved
		// it, and only as a promotion to RUNNING.
		resuming := task.State == model.StateReserved
		if resuming {
			if reserve || !reservedBy(ctx, l, task, worker) {
				continue
			}
		}

		fromStates := []model.State{model.StateReady}
		if resuming {
			fromStates = []model.State{model.StateReserved}
		}

		ok, err := l.store.CompareAndSwapTaskState(ctx, task.TaskID, fromStates, targetState)
		if err != nil {
			return nil, nil, &conductorerrors.StoreUnavailableError{Op: "checkout_cas", Cause: err}
		}
		if !ok {
			continue // another caller won the race; try the next candidate
		}
		task.State = targetState

		var launch *model.Launch
		if resuming {
			launch, err = l.promoteReservedLaunch(ctx, task)
		} else {
			launch, err = l.newLaunchFor(ctx, task, worker, targetState)
		}
		if err != nil {
			return nil, nil, err
		}

		if task.PreserveFWorker() {
			if task.Spec == nil {
				task.Spec = make(map[string]any)
			}
			task.Spec[model.SpecFWorkerName] = worker.Name
			if worker.Category != "" {
				task.Spec[model.SpecCategory] = worker.Category
			}
			if err := l.store.SaveTask(ctx, task); err != nil {
				return nil, nil, &conductorerrors.StoreUnavailableError{Op: "preserve_fworker", Cause: err}
			}
		}

		// A reservation is a soft claim pending queue admission, not
		// in-process execution; only a RUNNING dispatch joins the
		// in-flight set.
		if targetState == model.StateRunning {
			l.inFlight.Store(task.TaskID, launch.LaunchID)
		}
		if m := l.getMetrics(); m != nil {
			m.RecordCheckout(ctx, task.TaskID, worker.Category)
		}
		return task, launch, nil
	}

	return nil, nil, nil
}

func matchesWorker(task *model.Task, worker model.FWorker) bool {
	if worker.Category != "" && task.Category() != "" && worker.Category != task.Category() {
		return false
	}
	for k, want := range worker.Query {
		got, ok := task.Spec[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// reservedBy reports whether task's tail launch belongs to worker.
func reservedBy(ctx context.Context, l *Launchpad, task *model.Task, worker model.FWorker) bool {
	if len(task.Launches) == 0 {
		return false
	}
	tail, err := l.store.GetLaunch(ctx, task.Launches[len(task.Launches)-1])
	if err != nil {
		return false
	}
	return tail.State == model.StateReserved && tail.FWorker.Name == worker.Name
}

// promoteReservedLaunch moves task's tail RESERVED launch to RUNNING
// rather than minting a second launch for the same attempt.
func (l *Launchpad) promoteReservedLaunch(ctx context.Context, task *model.Task) (*model.Launch, error) {
	tail, err := l.store.GetLaunch(ctx, task.Launches[len(task.Launches)-1])
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tail.State = model.StateRunning
	tail.TimeStart = &now
	tail.LastPinged = now
	tail.StateHistory = append(tail.StateHistory, model.StateHistoryEntry{State: model.StateRunning, Timestamp: now})
	if err := l.store.UpdateLaunch(ctx, tail); err != nil {
		return nil, &conductorerrors.StoreUnavailableError{Op: "promote_launch", Cause: err}
	}
	return tail, nil
}

func (l *Launchpad) newLaunchFor(ctx context.Context, task *model.Task, worker model.FWorker, state model.State) (*model.Launch, error) {
	launchID, err := l.store.NextLaunchID(ctx)
	if err != nil {
		return nil, &conductorerrors.StoreUnavailableError{Op: "next_launch_id", Cause: err}
	}

	now := time.Now()
	host, ip := hostIdentity()
	launch := &model.Launch{
		LaunchID:   launchID,
		TaskID:     task.TaskID,
		FWorker:    worker,
		Host:       host,
		IP:         ip,
		State:      state,
		LastPinged: now,
		StateHistory: []model.StateHistoryEntry{
			{State: state, Timestamp: now},
		},
	}
	if state == model.StateRunning {
		launch.TimeStart = &now
	}

	if err := l.store.CreateLaunch(ctx, launch); err != nil {
		return nil, &conductorerrors.StoreUnavailableError{Op: "create_launch", Cause: err}
	}

	task.Launches = append(task.Launches, launchID)
	if err := l.store.SaveTask(ctx, task); err != nil {
		return nil, &conductorerrors.StoreUnavailableError{Op: "save_task", Cause: err}
	}
	return launch, nil
}

// hostIdentity resolves the local hostname and a best-effort IP for the
// launch record; lookup failures degrade to loopback rather than error.
func hostIdentity() (string, string) {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	addrs, err := net.LookupHost(host)
	if err != nil || len(addrs) == 0 {
		return host, "127.0.0.1"
	}
	return host, addrs[0]
}

// UpdateTrackers persists the latest file-tailer snapshots onto
// launchID, so tracker output is queryable while the launch still runs.
func (l *Launchpad) UpdateTrackers(ctx context.Context, launchID int, trackers []model.Tracker) error {
	launch, err := l.store.GetLaunch(ctx, launchID)
	if err != nil {
		return err
	}
	launch.Trackers = trackers
	if err := l.store.UpdateLaunch(ctx, launch); err != nil {
		return &conductorerrors.StoreUnavailableError{Op: "update_trackers", Cause: err}
	}
	return nil
}

// Ping records a liveness heartbeat for launchID, advancing its
// last_pinged timestamp and optionally persisting a checkpoint.
func (l *Launchpad) Ping(ctx context.Context, launchID int, checkpoint map[string]any) error {
	launch, err := l.store.GetLaunch(ctx, launchID)
	if err != nil {
		return err
	}
	launch.LastPinged = time.Now()
	if checkpoint != nil {
		launch.StateHistory = append(launch.StateHistory, model.StateHistoryEntry{
			State:      launch.State,
			Timestamp:  launch.LastPinged,
			Checkpoint: checkpoint,
		})
	}
	if err := l.store.UpdateLaunch(ctx, launch); err != nil {
		return &conductorerrors.StoreUnavailableError{Op: "ping", Cause: err}
	}
	return nil
}
