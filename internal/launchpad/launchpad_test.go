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

package launchpad_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchpad/engine/internal/launchpad"
	"github.com/launchpad/engine/internal/model"
	"github.com/launchpad/engine/internal/store/memory"
	conductorerrors "github.com/launchpad/engine/pkg/errors"
)

func newTestPad() (*launchpad.Launchpad, *memory.Backend) {
	s := memory.New()
	return launchpad.New(s, launchpad.Config{}), s
}

// chainSpec builds a linear workflow 1 -> 2 -> ... -> n of noop tasks.
func chainSpec(n int) launchpad.NewWorkflowSpec {
	tasks := make(map[int]launchpad.NewTaskSpec, n)
	links := make(map[int][]int, n-1)
	for i := 1; i <= n; i++ {
		tasks[i] = launchpad.NewTaskSpec{Name: "noop", Spec: map[string]any{}}
		if i < n {
			links[i] = []int{i + 1}
		}
	}
	return launchpad.NewWorkflowSpec{Name: "chain", Tasks: tasks, Links: links}
}

func TestAddWorkflow_RejectsCycle(t *testing.T) {
	lp, _ := newTestPad()

	_, err := lp.AddWorkflow(context.Background(), launchpad.NewWorkflowSpec{
		Name: "cyclic",
		Tasks: map[int]launchpad.NewTaskSpec{
			1: {Name: "a"}, 2: {Name: "b"},
		},
		Links: map[int][]int{1: {2}, 2: {1}},
	})
	require.Error(t, err)
	var cyclic *conductorerrors.CyclicGraphError
	assert.ErrorAs(t, err, &cyclic)
}

func TestAddWorkflow_InitialStates(t *testing.T) {
	lp, s := newTestPad()

	wf, err := lp.AddWorkflow(context.Background(), chainSpec(3))
	require.NoError(t, err)
	require.Len(t, wf.Nodes, 3)

	ready, waiting := 0, 0
	for _, id := range wf.Nodes {
		task, err := s.GetTask(context.Background(), id)
		require.NoError(t, err)
		switch task.State {
		case model.StateReady:
			ready++
		case model.StateWaiting:
			waiting++
		}
	}
	assert.Equal(t, 1, ready, "only the root is READY")
	assert.Equal(t, 2, waiting)
	assert.Equal(t, model.StateReady, wf.State)
}

// TestSequentialChain: a 1->2->3 chain of noops runs to three COMPLETED
// tasks via three launches, in dependency order.
func TestSequentialChain(t *testing.T) {
	ctx := context.Background()
	lp, s := newTestPad()
	worker := model.FWorker{Name: "w1"}

	wf, err := lp.AddWorkflow(ctx, chainSpec(3))
	require.NoError(t, err)

	var executed []int
	for i := 0; i < 3; i++ {
		task, launch, err := lp.Checkout(ctx, worker, false)
		require.NoError(t, err)
		require.NotNil(t, task, "chain link %d should be dispatchable", i+1)
		executed = append(executed, task.TaskID)
		require.NoError(t, lp.Complete(ctx, launch.LaunchID, nil, model.StateCompleted))
	}

	// Nothing left to run.
	task, _, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	assert.Nil(t, task)

	// Dependency order: each executed task precedes its child.
	assert.Len(t, executed, 3)
	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, got.State)
	for _, id := range got.Nodes {
		tk, err := s.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StateCompleted, tk.State)
		assert.Len(t, tk.Launches, 1)
	}
}

// TestReducer covers the fan-in scenario: task 4 depends on 1-3 and only
// becomes dispatchable once all three complete.
func TestReducer(t *testing.T) {
	ctx := context.Background()
	lp, _ := newTestPad()
	worker := model.FWorker{Name: "w1"}

	_, err := lp.AddWorkflow(ctx, launchpad.NewWorkflowSpec{
		Name: "reducer",
		Tasks: map[int]launchpad.NewTaskSpec{
			1: {Name: "map"}, 2: {Name: "map"}, 3: {Name: "map"}, 4: {Name: "reduce"},
		},
		Links: map[int][]int{1: {4}, 2: {4}, 3: {4}},
	})
	require.NoError(t, err)

	completed := 0
	for {
		task, launch, err := lp.Checkout(ctx, worker, false)
		require.NoError(t, err)
		if task == nil {
			break
		}
		if completed < 3 {
			assert.Equal(t, "map", task.Name, "the reducer must not run before its parents")
		} else {
			assert.Equal(t, "reduce", task.Name)
		}
		require.NoError(t, lp.Complete(ctx, launch.LaunchID, nil, model.StateCompleted))
		completed++
	}
	assert.Equal(t, 4, completed)
}

// TestConcurrentCheckout: N
// launchpads (one per simulated worker process) against M independent
// READY tasks dispatch exactly min(N, M) tasks, no task twice.
func TestConcurrentCheckout(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	const nTasks = 5
	const nWorkers = 8

	tasks := make(map[int]launchpad.NewTaskSpec, nTasks)
	for i := 1; i <= nTasks; i++ {
		tasks[i] = launchpad.NewTaskSpec{Name: "independent"}
	}
	seed := launchpad.New(s, launchpad.Config{})
	_, err := seed.AddWorkflow(ctx, launchpad.NewWorkflowSpec{Name: "parallel", Tasks: tasks})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int]int)
	)
	for w := 0; w < nWorkers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			// Each goroutine gets its own Launchpad, like an independent
			// worker process sharing only the store.
			lp := launchpad.New(s, launchpad.Config{})
			task, _, err := lp.Checkout(ctx, model.FWorker{Name: "w"}, false)
			if !assert.NoError(t, err) {
				return
			}
			if task != nil {
				mu.Lock()
				seen[task.TaskID]++
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, seen, nTasks, "exactly min(N,M) tasks dispatched")
	for id, count := range seen {
		assert.Equal(t, 1, count, "task %d dispatched more than once", id)
	}
}

// TestCheckout_PriorityThenTaskID verifies the dispatch tie-break.
func TestCheckout_PriorityThenTaskID(t *testing.T) {
	ctx := context.Background()
	lp, _ := newTestPad()
	worker := model.FWorker{Name: "w1"}

	_, err := lp.AddWorkflow(ctx, launchpad.NewWorkflowSpec{
		Name: "priorities",
		Tasks: map[int]launchpad.NewTaskSpec{
			1: {Name: "low", Spec: map[string]any{model.SpecPriority: 1}},
			2: {Name: "high", Spec: map[string]any{model.SpecPriority: 9}},
			3: {Name: "high-too", Spec: map[string]any{model.SpecPriority: 9}},
		},
	})
	require.NoError(t, err)

	first, _, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 9, first.Priority())

	second, _, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 9, second.Priority())
	assert.Greater(t, second.TaskID, first.TaskID, "equal priority breaks ties by lowest task id")
}

// TestCheckout_CategoryFilter: a categorized worker skips tasks of other
// categories, and a worker of the task's own category dispatches it.
func TestCheckout_CategoryFilter(t *testing.T) {
	ctx := context.Background()
	lp, _ := newTestPad()

	_, err := lp.AddWorkflow(ctx, launchpad.NewWorkflowSpec{
		Name: "categories",
		Tasks: map[int]launchpad.NewTaskSpec{
			1: {Name: "gpu-task", Spec: map[string]any{model.SpecCategory: "gpu"}},
		},
	})
	require.NoError(t, err)

	task, _, err := lp.Checkout(ctx, model.FWorker{Name: "cpu-worker", Category: "cpu"}, false)
	require.NoError(t, err)
	assert.Nil(t, task, "category mismatch must not dispatch")

	task, launch, err := lp.Checkout(ctx, model.FWorker{Name: "gpu-worker", Category: "gpu"}, false)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NoError(t, lp.Complete(ctx, launch.LaunchID, nil, model.StateCompleted))
}

// TestReserveThenPromote: queue-reservation mode assigns a RESERVED launch
// which a later run-mode checkout by the same worker promotes in place,
// not duplicates.
func TestReserveThenPromote(t *testing.T) {
	ctx := context.Background()
	lp, s := newTestPad()
	worker := model.FWorker{Name: "w1"}

	_, err := lp.AddWorkflow(ctx, chainSpec(1))
	require.NoError(t, err)

	task, launch, err := lp.Checkout(ctx, worker, true)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, model.StateReserved, task.State)
	assert.Equal(t, model.StateReserved, launch.State)

	// Another worker cannot steal the reservation.
	stolen, _, err := lp.Checkout(ctx, model.FWorker{Name: "w2"}, false)
	require.NoError(t, err)
	assert.Nil(t, stolen)

	promoted, promotedLaunch, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, task.TaskID, promoted.TaskID)
	assert.Equal(t, launch.LaunchID, promotedLaunch.LaunchID, "promotion reuses the reserved launch")
	assert.Equal(t, model.StateRunning, promotedLaunch.State)

	got, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Len(t, got.Launches, 1, "reserve + promote is one attempt, one launch")
}

// TestDetour: task 1 returns a detour D;
// task 2 originally depends on 1. Execution order is 1, D, 2 and the
// links route through D.
func TestDetour(t *testing.T) {
	ctx := context.Background()
	lp, s := newTestPad()
	worker := model.FWorker{Name: "w1"}

	wf, err := lp.AddWorkflow(ctx, chainSpec(2))
	require.NoError(t, err)

	task1, launch1, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	require.NotNil(t, task1)

	detour := &model.WorkflowDef{
		Name:  "detour",
		Tasks: map[int]model.TaskDef{1: {Name: "D"}},
	}
	require.NoError(t, lp.Complete(ctx, launch1.LaunchID, &model.Action{Detours: []*model.WorkflowDef{detour}}, model.StateCompleted))

	// D runs next, then task 2.
	d, launchD, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "D", d.Name)

	blocked, _, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	assert.Nil(t, blocked, "task 2 must wait for the detour")

	require.NoError(t, lp.Complete(ctx, launchD.LaunchID, nil, model.StateCompleted))

	task2, launch2, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	require.NotNil(t, task2)
	require.NoError(t, lp.Complete(ctx, launch2.LaunchID, nil, model.StateCompleted))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, got.State)
	assert.Equal(t, []int{d.TaskID}, got.Links[task1.TaskID], "the direct edge is replaced by the detour")
	assert.Equal(t, []int{task2.TaskID}, got.Links[d.TaskID])
}

// TestAddition: additions become children of the current task but do not
// gate its existing children.
func TestAddition(t *testing.T) {
	ctx := context.Background()
	lp, s := newTestPad()
	worker := model.FWorker{Name: "w1"}

	wf, err := lp.AddWorkflow(ctx, chainSpec(2))
	require.NoError(t, err)

	task1, launch1, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	require.NotNil(t, task1)

	addition := &model.WorkflowDef{Tasks: map[int]model.TaskDef{1: {Name: "sibling"}}}
	require.NoError(t, lp.Complete(ctx, launch1.LaunchID, &model.Action{Additions: []*model.WorkflowDef{addition}}, model.StateCompleted))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, got.Nodes, 3)
	assert.Len(t, got.Links[task1.TaskID], 2, "original child and the addition both hang off task 1")

	// Both the original child and the addition are now dispatchable.
	names := map[string]bool{}
	for i := 0; i < 2; i++ {
		task, launch, err := lp.Checkout(ctx, worker, false)
		require.NoError(t, err)
		require.NotNil(t, task)
		names[task.Name] = true
		require.NoError(t, lp.Complete(ctx, launch.LaunchID, nil, model.StateCompleted))
	}
	assert.True(t, names["sibling"])
}

// TestUpdateSpecFlowsToChildren: a completing task's update_spec and
// mod_spec patch every direct child's spec before the child runs.
func TestUpdateSpecFlowsToChildren(t *testing.T) {
	ctx := context.Background()
	lp, _ := newTestPad()
	worker := model.FWorker{Name: "w1"}

	_, err := lp.AddWorkflow(ctx, chainSpec(2))
	require.NoError(t, err)

	_, launch1, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)

	act := &model.Action{
		UpdateSpec: map[string]any{"result": 42},
		ModSpec:    []model.SpecMod{{Op: model.ModSet, Path: "nested.flag", Value: true}},
	}
	require.NoError(t, lp.Complete(ctx, launch1.LaunchID, act, model.StateCompleted))

	child, _, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, 42, child.Spec["result"])
	nested, ok := child.Spec["nested"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, nested["flag"])
}

// TestFailureAndRerun: a failed task fizzles its workflow, and a rerun
// archives the failed launch and drives the workflow to COMPLETED.
func TestFailureAndRerun(t *testing.T) {
	ctx := context.Background()
	lp, s := newTestPad()
	worker := model.FWorker{Name: "w1"}

	wf, err := lp.AddWorkflow(ctx, chainSpec(2))
	require.NoError(t, err)

	_, launch1, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	require.NoError(t, lp.Complete(ctx, launch1.LaunchID, nil, model.StateCompleted))

	task2, launch2, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	require.NotNil(t, task2)
	require.NoError(t, lp.Complete(ctx, launch2.LaunchID, nil, model.StateFizzled))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFizzled, got.State)

	require.NoError(t, lp.RerunTask(ctx, task2.TaskID))

	rerun, err := s.GetTask(ctx, task2.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, rerun.State, "parents already resolved, so rerun surfaces READY")
	assert.Empty(t, rerun.Launches)
	assert.Equal(t, []int{launch2.LaunchID}, rerun.ArchivedLaunches)

	retry, retryLaunch, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	require.NotNil(t, retry)
	assert.Equal(t, task2.TaskID, retry.TaskID)
	require.NoError(t, lp.Complete(ctx, retryLaunch.LaunchID, nil, model.StateCompleted))

	got, err = s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, got.State)
}

// TestRerun_InvalidFromState: rerun is only legal from a terminal
// COMPLETED/FIZZLED state.
func TestRerun_InvalidFromState(t *testing.T) {
	ctx := context.Background()
	lp, s := newTestPad()

	wf, err := lp.AddWorkflow(ctx, chainSpec(1))
	require.NoError(t, err)

	err = lp.RerunTask(ctx, wf.Nodes[0])
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	task, err := s.GetTask(ctx, wf.Nodes[0])
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, task.State, "a refused transition leaves state untouched")
}

// TestReservationExpiry: a
// stuck RESERVED task returns to READY after one sweeper pass, its
// launch archived.
func TestReservationExpiry(t *testing.T) {
	ctx := context.Background()
	lp, s := newTestPad()
	worker := model.FWorker{Name: "w1"}

	_, err := lp.AddWorkflow(ctx, chainSpec(1))
	require.NoError(t, err)

	task, launch, err := lp.Checkout(ctx, worker, true)
	require.NoError(t, err)
	require.NotNil(t, task)

	n, err := lp.DetectUnreserved(ctx, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, got.State)
	assert.Empty(t, got.Launches)
	assert.Equal(t, []int{launch.LaunchID}, got.ArchivedLaunches)

	archived, err := s.GetLaunch(ctx, launch.LaunchID)
	require.NoError(t, err)
	assert.Equal(t, model.StateArchived, archived.State)
}

// TestLostRun: a RUNNING launch whose
// heartbeat went stale is requeued by the sweeper and completes on a
// fresh worker.
func TestLostRun(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	lp := launchpad.New(s, launchpad.Config{})
	dead := model.FWorker{Name: "dead-worker"}

	_, err := lp.AddWorkflow(ctx, chainSpec(1))
	require.NoError(t, err)

	task, _, err := lp.Checkout(ctx, dead, false)
	require.NoError(t, err)
	require.NotNil(t, task)

	// The sweeper and replacement worker run in a different process.
	sweeper := launchpad.New(s, launchpad.Config{})
	reclaimed, _, err := sweeper.DetectLostRuns(ctx, 0, true, false)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	got, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, got.State)

	fresh := launchpad.New(s, launchpad.Config{})
	retry, retryLaunch, err := fresh.Checkout(ctx, model.FWorker{Name: "fresh-worker"}, false)
	require.NoError(t, err)
	require.NotNil(t, retry)
	require.NoError(t, fresh.Complete(ctx, retryLaunch.LaunchID, nil, model.StateCompleted))
}

// TestLostRun_FizzlesWithoutRerun: without --rerun the lost run fizzles.
func TestLostRun_FizzlesWithoutRerun(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	lp := launchpad.New(s, launchpad.Config{})

	_, err := lp.AddWorkflow(ctx, chainSpec(1))
	require.NoError(t, err)

	task, launch, err := lp.Checkout(ctx, model.FWorker{Name: "w1"}, false)
	require.NoError(t, err)
	require.NotNil(t, task)

	sweeper := launchpad.New(s, launchpad.Config{})
	reclaimed, _, err := sweeper.DetectLostRuns(ctx, 0, false, false)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	got, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFizzled, got.State)

	l, err := s.GetLaunch(ctx, launch.LaunchID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFizzled, l.State)
}

// TestDetectLostRuns_RepairsInconsistency: a task whose state disagrees
// with its tail launch is re-derived from the launch.
func TestDetectLostRuns_RepairsInconsistency(t *testing.T) {
	ctx := context.Background()
	lp, s := newTestPad()
	worker := model.FWorker{Name: "w1"}

	_, err := lp.AddWorkflow(ctx, chainSpec(1))
	require.NoError(t, err)

	task, launch, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	require.NoError(t, lp.Complete(ctx, launch.LaunchID, nil, model.StateCompleted))

	// Corrupt the task record behind the Launchpad's back.
	broken, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	broken.State = model.StateRunning
	require.NoError(t, s.SaveTask(ctx, broken))

	_, inconsistencies, err := lp.DetectLostRuns(ctx, time.Hour, false, true)
	require.NoError(t, err)
	require.Len(t, inconsistencies, 1)
	var inc *conductorerrors.InconsistentStateError
	assert.ErrorAs(t, inconsistencies[0], &inc)

	repaired, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, repaired.State, "tail launch state is ground truth")
}

// TestDefusePropagation: defusing task 2 of
// 1->2->3 keeps 3 WAITING through 1's completion; reigniting 2 unblocks
// the chain.
func TestDefusePropagation(t *testing.T) {
	ctx := context.Background()
	lp, s := newTestPad()
	worker := model.FWorker{Name: "w1"}

	wf, err := lp.AddWorkflow(ctx, chainSpec(3))
	require.NoError(t, err)

	// Find the middle task by walking links from the root.
	var rootID, midID, tailID int
	for _, id := range wf.Nodes {
		if len(wf.ParentLinks[id]) == 0 {
			rootID = id
		}
	}
	midID = wf.Links[rootID][0]
	tailID = wf.Links[midID][0]

	require.NoError(t, lp.DefuseTask(ctx, midID))

	task1, launch1, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	require.Equal(t, rootID, task1.TaskID)
	require.NoError(t, lp.Complete(ctx, launch1.LaunchID, nil, model.StateCompleted))

	blocked, _, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	assert.Nil(t, blocked, "defused task and its child must not dispatch")

	tail, err := s.GetTask(ctx, tailID)
	require.NoError(t, err)
	assert.Equal(t, model.StateWaiting, tail.State)

	require.NoError(t, lp.ReigniteTask(ctx, midID))
	mid, err := s.GetTask(ctx, midID)
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, mid.State, "reignited task with completed parents is READY")

	for i := 0; i < 2; i++ {
		task, launch, err := lp.Checkout(ctx, worker, false)
		require.NoError(t, err)
		require.NotNil(t, task)
		require.NoError(t, lp.Complete(ctx, launch.LaunchID, nil, model.StateCompleted))
	}

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, got.State)
}

// TestPauseRejectsRunning: the transition table refuses to pause a task
// that is already executing.
func TestPauseRejectsRunning(t *testing.T) {
	ctx := context.Background()
	lp, _ := newTestPad()

	_, err := lp.AddWorkflow(ctx, chainSpec(1))
	require.NoError(t, err)

	task, _, err := lp.Checkout(ctx, model.FWorker{Name: "w1"}, false)
	require.NoError(t, err)
	require.NotNil(t, task)

	err = lp.PauseTask(ctx, task.TaskID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

// TestComplete_Idempotent: re-delivering a completion for an already
// finalized launch is a no-op, even when the action carries graph surgery.
func TestComplete_Idempotent(t *testing.T) {
	ctx := context.Background()
	lp, s := newTestPad()
	worker := model.FWorker{Name: "w1"}

	wf, err := lp.AddWorkflow(ctx, chainSpec(2))
	require.NoError(t, err)

	_, launch1, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)

	act := &model.Action{Detours: []*model.WorkflowDef{{Tasks: map[int]model.TaskDef{1: {Name: "D"}}}}}
	require.NoError(t, lp.Complete(ctx, launch1.LaunchID, act, model.StateCompleted))
	require.NoError(t, lp.Complete(ctx, launch1.LaunchID, act, model.StateCompleted))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 3, "the detour is applied exactly once")
}

// TestComplete_AdminMovedPastRunning: a defuse that lands while the
// worker executes wins; the late result fizzles the launch but leaves the
// admin state in place.
func TestComplete_AdminMovedPastRunning(t *testing.T) {
	ctx := context.Background()
	lp, s := newTestPad()
	worker := model.FWorker{Name: "w1"}

	_, err := lp.AddWorkflow(ctx, chainSpec(1))
	require.NoError(t, err)

	task, launch, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	require.NotNil(t, task)

	require.NoError(t, lp.DefuseTask(ctx, task.TaskID))
	require.NoError(t, lp.Complete(ctx, launch.LaunchID, nil, model.StateCompleted))

	got, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDefused, got.State, "admin state wins")

	l, err := s.GetLaunch(ctx, launch.LaunchID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFizzled, l.State)
}

// TestActionExit defuses the completing task's descendants.
func TestActionExit(t *testing.T) {
	ctx := context.Background()
	lp, s := newTestPad()
	worker := model.FWorker{Name: "w1"}

	wf, err := lp.AddWorkflow(ctx, chainSpec(3))
	require.NoError(t, err)

	_, launch1, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	require.NoError(t, lp.Complete(ctx, launch1.LaunchID, &model.Action{Exit: true}, model.StateCompleted))

	task, _, err := lp.Checkout(ctx, worker, false)
	require.NoError(t, err)
	assert.Nil(t, task, "defused children are not dispatchable")

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateDefused, got.State)
}

// TestPreserveFWorker records the dispatching worker into the task spec.
func TestPreserveFWorker(t *testing.T) {
	ctx := context.Background()
	lp, s := newTestPad()

	_, err := lp.AddWorkflow(ctx, launchpad.NewWorkflowSpec{
		Name: "sticky",
		Tasks: map[int]launchpad.NewTaskSpec{
			1: {Name: "sticky", Spec: map[string]any{model.SpecPreserveFWorker: true}},
		},
	})
	require.NoError(t, err)

	task, _, err := lp.Checkout(ctx, model.FWorker{Name: "w-7", Category: "gpu"}, false)
	require.NoError(t, err)
	require.NotNil(t, task)

	got, err := s.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "w-7", got.Spec[model.SpecFWorkerName])
	assert.Equal(t, "gpu", got.Spec[model.SpecCategory])
}
