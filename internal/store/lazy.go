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

package store

import (
	"context"

	"github.com/launchpad/engine/internal/model"
)

// LazyTask defers loading a task's full record until a caller needs more
// than its id. Large workflows hold thousands of completed tasks whose
// payloads are expensive to materialize; traversal code that only needs
// ids pays nothing, and the first Deref pays one fetch.
//
// It is the explicit sum of two cases: a handle (id + store reference,
// nothing fetched) and a loaded record. Deref moves a handle to loaded;
// Mutate writes a loaded record back through immediately.
type LazyTask struct {
	id     int
	loaded *model.Task

	tasks    TaskStore
	launches LaunchStore
}

// LazyHandle returns the unloaded case: just an id plus the collections
// needed to resolve it later.
func LazyHandle(taskID int, tasks TaskStore, launches LaunchStore) *LazyTask {
	return &LazyTask{id: taskID, tasks: tasks, launches: launches}
}

// LazyLoaded wraps an already-fetched task.
func LazyLoaded(t *model.Task, tasks TaskStore, launches LaunchStore) *LazyTask {
	return &LazyTask{id: t.TaskID, loaded: t, tasks: tasks, launches: launches}
}

// TaskID is free: it never triggers a fetch.
func (lt *LazyTask) TaskID() int { return lt.id }

// IsLoaded reports whether the full record has been fetched.
func (lt *LazyTask) IsLoaded() bool { return lt.loaded != nil }

// Deref returns the full task record, fetching it on first use.
func (lt *LazyTask) Deref(ctx context.Context) (*model.Task, error) {
	if lt.loaded != nil {
		return lt.loaded, nil
	}
	t, err := lt.tasks.GetTask(ctx, lt.id)
	if err != nil {
		return nil, err
	}
	lt.loaded = t
	return t, nil
}

// Launches resolves the task's current launch-id list to launch records;
// this is the second fetch tier beyond Deref.
func (lt *LazyTask) Launches(ctx context.Context) ([]*model.Launch, error) {
	t, err := lt.Deref(ctx)
	if err != nil {
		return nil, err
	}
	return lt.resolveLaunches(ctx, t.Launches)
}

// ArchivedLaunches resolves the archived launch-id list.
func (lt *LazyTask) ArchivedLaunches(ctx context.Context) ([]*model.Launch, error) {
	t, err := lt.Deref(ctx)
	if err != nil {
		return nil, err
	}
	return lt.resolveLaunches(ctx, t.ArchivedLaunches)
}

func (lt *LazyTask) resolveLaunches(ctx context.Context, ids []int) ([]*model.Launch, error) {
	out := make([]*model.Launch, 0, len(ids))
	for _, id := range ids {
		l, err := lt.launches.GetLaunch(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// Mutate applies fn to the loaded record and persists it immediately, so
// writes through the proxy are never deferred.
func (lt *LazyTask) Mutate(ctx context.Context, fn func(*model.Task)) error {
	t, err := lt.Deref(ctx)
	if err != nil {
		return err
	}
	fn(t)
	return lt.tasks.SaveTask(ctx, t)
}

// LazyTasks wraps every node of wf as a handle; nothing is fetched.
func LazyTasks(wf *model.Workflow, s Store) []*LazyTask {
	out := make([]*LazyTask, 0, len(wf.Nodes))
	for _, id := range wf.Nodes {
		out = append(out, LazyHandle(id, s, s))
	}
	return out
}
