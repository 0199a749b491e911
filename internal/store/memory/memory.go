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

// Package memory provides an in-memory Store backend: single-process, no
// durability, useful for tests and the concurrency-safety property checks.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	conductorerrors "github.com/launchpad/engine/pkg/errors"

	"github.com/launchpad/engine/internal/model"
	"github.com/launchpad/engine/internal/store"
)

// Compile-time interface assertions.
var (
	_ store.Store      = (*Backend)(nil)
	_ store.Resettable = (*Backend)(nil)
)

type lockEntry struct {
	holder string
	expiry time.Time
}

// Backend is an in-memory storage backend guarded by a single mutex;
// correct but coarse-grained.
type Backend struct {
	mu        sync.Mutex
	tasks     map[int]*model.Task
	launches  map[int]*model.Launch
	workflows map[string]*model.Workflow
	locks     map[string]lockEntry

	nextTaskID   int
	nextLaunchID int
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{
		tasks:        make(map[int]*model.Task),
		launches:     make(map[int]*model.Launch),
		workflows:    make(map[string]*model.Workflow),
		locks:        make(map[string]lockEntry),
		nextTaskID:   1,
		nextLaunchID: 1,
	}
}

// Reset wipes all collections.
func (b *Backend) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = make(map[int]*model.Task)
	b.launches = make(map[int]*model.Launch)
	b.workflows = make(map[string]*model.Workflow)
	b.locks = make(map[string]lockEntry)
	b.nextTaskID = 1
	b.nextLaunchID = 1
	return nil
}

// NextTaskID returns an optimistically-incremented counter; on an
// in-process single mutex this never needs retry, but the method keeps the
// same signature as the backend that does (sqlite).
func (b *Backend) NextTaskID(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextTaskID
	b.nextTaskID++
	return id, nil
}

// NextLaunchID returns the next monotonic launch id.
func (b *Backend) NextLaunchID(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextLaunchID
	b.nextLaunchID++
	return id, nil
}

func cloneTask(t *model.Task) *model.Task {
	cp := *t
	cp.Spec = cloneMap(t.Spec)
	cp.Launches = append([]int(nil), t.Launches...)
	cp.ArchivedLaunches = append([]int(nil), t.ArchivedLaunches...)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// SaveTask inserts or overwrites a task record.
func (b *Backend) SaveTask(ctx context.Context, t *model.Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks[t.TaskID] = cloneTask(t)
	return nil
}

// GetTask fetches a task by id.
func (b *Backend) GetTask(ctx context.Context, taskID int) (*model.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[taskID]
	if !ok {
		return nil, &conductorerrors.NotFoundError{Resource: "task", ID: strconv.Itoa(taskID)}
	}
	return cloneTask(t), nil
}

// GetTasks lists tasks matching filter.
func (b *Backend) GetTasks(ctx context.Context, filter store.TaskFilter) ([]*model.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wantStates := make(map[model.State]bool, len(filter.States))
	for _, s := range filter.States {
		wantStates[s] = true
	}
	wantIDs := make(map[int]bool, len(filter.TaskIDs))
	for _, id := range filter.TaskIDs {
		wantIDs[id] = true
	}

	var out []*model.Task
	for _, t := range b.tasks {
		if len(filter.TaskIDs) > 0 && !wantIDs[t.TaskID] {
			continue
		}
		if filter.Name != "" && t.Name != filter.Name {
			continue
		}
		if len(filter.States) > 0 && !wantStates[t.State] {
			continue
		}
		out = append(out, cloneTask(t))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() > out[j].Priority()
		}
		return out[i].TaskID < out[j].TaskID
	})
	if filter.SortDesc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CompareAndSwapTaskState implements the atomic find-and-modify checkout
// primitive: the state change only takes effect if the task's current
// state is one of from.
func (b *Backend) CompareAndSwapTaskState(ctx context.Context, taskID int, from []model.State, to model.State) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok {
		return false, &conductorerrors.NotFoundError{Resource: "task", ID: strconv.Itoa(taskID)}
	}
	matched := false
	for _, f := range from {
		if t.State == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	t.State = to
	return true, nil
}

// CreateLaunch inserts a new launch.
func (b *Backend) CreateLaunch(ctx context.Context, l *model.Launch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *l
	b.launches[l.LaunchID] = &cp
	return nil
}

// GetLaunch fetches a launch by id.
func (b *Backend) GetLaunch(ctx context.Context, launchID int) (*model.Launch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.launches[launchID]
	if !ok {
		return nil, &conductorerrors.NotFoundError{Resource: "launch", ID: strconv.Itoa(launchID)}
	}
	cp := *l
	return &cp, nil
}

// UpdateLaunch overwrites an existing launch.
func (b *Backend) UpdateLaunch(ctx context.Context, l *model.Launch) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.launches[l.LaunchID]; !ok {
		return &conductorerrors.NotFoundError{Resource: "launch", ID: strconv.Itoa(l.LaunchID)}
	}
	cp := *l
	b.launches[l.LaunchID] = &cp
	return nil
}

// ListLaunches lists launches matching filter.
func (b *Backend) ListLaunches(ctx context.Context, filter store.LaunchFilter) ([]*model.Launch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wantStates := make(map[model.State]bool, len(filter.States))
	for _, s := range filter.States {
		wantStates[s] = true
	}

	var out []*model.Launch
	for _, l := range b.launches {
		if filter.TaskID != 0 && l.TaskID != filter.TaskID {
			continue
		}
		if filter.WorkerName != "" && l.FWorker.Name != filter.WorkerName {
			continue
		}
		if len(filter.States) > 0 && !wantStates[l.State] {
			continue
		}
		if !filter.OlderThan.IsZero() && l.TimeStart != nil && !l.TimeStart.Before(filter.OlderThan) {
			continue
		}
		if !filter.PingedBefore.IsZero() && !l.LastPinged.Before(filter.PingedBefore) {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LaunchID < out[j].LaunchID })
	return out, nil
}

// CreateWorkflow inserts a new workflow.
func (b *Backend) CreateWorkflow(ctx context.Context, wf *model.Workflow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workflows[wf.ID] = cloneWorkflow(wf)
	return nil
}

// GetWorkflow fetches a workflow by id.
func (b *Backend) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	wf, ok := b.workflows[id]
	if !ok {
		return nil, &conductorerrors.NotFoundError{Resource: "workflow", ID: id}
	}
	return cloneWorkflow(wf), nil
}

// GetWorkflowByTaskID finds the workflow containing taskID.
func (b *Backend) GetWorkflowByTaskID(ctx context.Context, taskID int) (*model.Workflow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, wf := range b.workflows {
		if _, ok := wf.FWStates[taskID]; ok {
			return cloneWorkflow(wf), nil
		}
	}
	return nil, &conductorerrors.NotFoundError{Resource: "workflow containing task", ID: strconv.Itoa(taskID)}
}

// UpdateWorkflow overwrites an existing workflow.
func (b *Backend) UpdateWorkflow(ctx context.Context, wf *model.Workflow) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.workflows[wf.ID]; !ok {
		return &conductorerrors.NotFoundError{Resource: "workflow", ID: wf.ID}
	}
	b.workflows[wf.ID] = cloneWorkflow(wf)
	return nil
}

// ListWorkflows lists workflows, optionally filtered by aggregate state.
func (b *Backend) ListWorkflows(ctx context.Context, states []model.State) ([]*model.Workflow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	want := make(map[model.State]bool, len(states))
	for _, s := range states {
		want[s] = true
	}
	var out []*model.Workflow
	for _, wf := range b.workflows {
		if len(states) > 0 && !want[wf.State] {
			continue
		}
		out = append(out, cloneWorkflow(wf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteWorkflow removes a workflow record (its tasks/launches remain for
// audit; the CLI's delete_wflows is a soft delete at this layer).
func (b *Backend) DeleteWorkflow(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.workflows, id)
	return nil
}

// AcquireLock claims workflowID for holder if unclaimed or expired.
func (b *Backend) AcquireLock(ctx context.Context, workflowID, holder string, ttl time.Duration) (bool, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if existing, ok := b.locks[workflowID]; ok && existing.holder != holder && now.Before(existing.expiry) {
		return false, existing.holder, nil
	}
	b.locks[workflowID] = lockEntry{holder: holder, expiry: now.Add(ttl)}
	return true, "", nil
}

// ReleaseLock releases workflowID's lock if held by holder.
func (b *Backend) ReleaseLock(ctx context.Context, workflowID, holder string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.locks[workflowID]; ok && existing.holder == holder {
		delete(b.locks, workflowID)
	}
	return nil
}

// BreakLock forcibly clears workflowID's lock.
func (b *Backend) BreakLock(ctx context.Context, workflowID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.locks, workflowID)
	return nil
}

func cloneWorkflow(wf *model.Workflow) *model.Workflow {
	cp := *wf
	cp.Nodes = append([]int(nil), wf.Nodes...)
	cp.Links = make(map[int][]int, len(wf.Links))
	for k, v := range wf.Links {
		cp.Links[k] = append([]int(nil), v...)
	}
	cp.ParentLinks = make(map[int][]int, len(wf.ParentLinks))
	for k, v := range wf.ParentLinks {
		cp.ParentLinks[k] = append([]int(nil), v...)
	}
	cp.Metadata = cloneMap(wf.Metadata)
	cp.FWStates = make(map[int]model.State, len(wf.FWStates))
	for k, v := range wf.FWStates {
		cp.FWStates[k] = v
	}
	return &cp
}

