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

package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchpad/engine/internal/model"
	storepkg "github.com/launchpad/engine/internal/store"
	"github.com/launchpad/engine/internal/store/memory"
)

func TestCompareAndSwapTaskState_ConcurrentCheckoutIsExclusive(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	const nTasks = 5
	for i := 1; i <= nTasks; i++ {
		require.NoError(t, b.SaveTask(ctx, &model.Task{TaskID: i, State: model.StateReady}))
	}

	const nWorkers = 20
	var wg sync.WaitGroup
	wins := make([]bool, nWorkers*nTasks)
	idx := 0
	var mu sync.Mutex

	for w := 0; w < nWorkers; w++ {
		for taskID := 1; taskID <= nTasks; taskID++ {
			wg.Add(1)
			i := idx
			idx++
			go func(taskID, i int) {
				defer wg.Done()
				ok, err := b.CompareAndSwapTaskState(ctx, taskID, []model.State{model.StateReady}, model.StateRunning)
				require.NoError(t, err)
				wins[i] = ok
			}(taskID, i)
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	winCount := 0
	for _, w := range wins {
		if w {
			winCount++
		}
	}
	assert.Equal(t, nTasks, winCount, "exactly one winner per task regardless of contention")

	for i := 1; i <= nTasks; i++ {
		task, err := b.GetTask(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, model.StateRunning, task.State)
	}
}

func TestAcquireLock_ExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	ok, _, err := b.AcquireLock(ctx, "wf-1", "holder-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, heldBy, err := b.AcquireLock(ctx, "wf-1", "holder-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "holder-a", heldBy)

	require.NoError(t, b.ReleaseLock(ctx, "wf-1", "holder-a"))

	ok, _, err = b.AcquireLock(ctx, "wf-1", "holder-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquireLock_ExpiredLockIsReclaimable(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	ok, _, err := b.AcquireLock(ctx, "wf-1", "holder-a", time.Nanosecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(time.Millisecond)

	ok, _, err = b.AcquireLock(ctx, "wf-1", "holder-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "an expired claim must not block a new holder")
}

func TestGetTasks_PriorityThenTaskIDOrdering(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	require.NoError(t, b.SaveTask(ctx, &model.Task{TaskID: 3, State: model.StateReady, Spec: map[string]any{model.SpecPriority: 1}}))
	require.NoError(t, b.SaveTask(ctx, &model.Task{TaskID: 1, State: model.StateReady, Spec: map[string]any{model.SpecPriority: 5}}))
	require.NoError(t, b.SaveTask(ctx, &model.Task{TaskID: 2, State: model.StateReady, Spec: map[string]any{model.SpecPriority: 5}}))

	tasks, err := b.GetTasks(ctx, storepkg.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{tasks[0].TaskID, tasks[1].TaskID, tasks[2].TaskID})
}
