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

// Package store defines the persistent-store capability the Launchpad
// writes through: tasks, launches, workflows, and per-workflow locks, each
// with atomic find-and-modify semantics and monotonic id allocation.
//
// The interface is segregated by concern: a core Store any backend must
// implement, plus optional capability interfaces a caller can type-assert
// for (e.g. Resettable for the `reset` CLI command).
package store

import (
	"context"
	"time"

	"github.com/launchpad/engine/internal/model"
)

// TaskFilter selects tasks for GetTasks. Results come back in dispatch
// order (priority-desc, then task-id-asc); SortDesc reverses that.
type TaskFilter struct {
	TaskIDs  []int
	Name     string
	States   []model.State
	SortDesc bool
	Limit    int
}

// LaunchFilter selects launches for ListLaunches.
type LaunchFilter struct {
	TaskID       int
	WorkerName   string
	States       []model.State
	OlderThan    time.Time
	PingedBefore time.Time
}

// TaskStore persists Task records.
type TaskStore interface {
	SaveTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, taskID int) (*model.Task, error)
	GetTasks(ctx context.Context, filter TaskFilter) ([]*model.Task, error)

	// CompareAndSwapTaskState performs an atomic find-and-modify: it sets
	// taskID's state to to only if its current state is one of from. It
	// reports whether the swap happened (false means another caller won
	// the race or the task is not in one of from).
	CompareAndSwapTaskState(ctx context.Context, taskID int, from []model.State, to model.State) (bool, error)
}

// LaunchStore persists Launch records.
type LaunchStore interface {
	CreateLaunch(ctx context.Context, l *model.Launch) error
	GetLaunch(ctx context.Context, launchID int) (*model.Launch, error)
	UpdateLaunch(ctx context.Context, l *model.Launch) error
	ListLaunches(ctx context.Context, filter LaunchFilter) ([]*model.Launch, error)
}

// WorkflowStore persists Workflow records.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *model.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	GetWorkflowByTaskID(ctx context.Context, taskID int) (*model.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *model.Workflow) error
	ListWorkflows(ctx context.Context, states []model.State) ([]*model.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
}

// IDAllocator hands out monotonically increasing task and launch ids.
type IDAllocator interface {
	NextTaskID(ctx context.Context) (int, error)
	NextLaunchID(ctx context.Context) (int, error)
}

// LockStore implements the per-workflow advisory lock: a named, TTL-backed
// claim workers on different hosts contend on.
type LockStore interface {
	// AcquireLock attempts to claim workflowID for holder for ttl. It
	// reports whether the lock was acquired; if not, heldBy (best-effort)
	// names the current holder.
	AcquireLock(ctx context.Context, workflowID, holder string, ttl time.Duration) (acquired bool, heldBy string, err error)
	ReleaseLock(ctx context.Context, workflowID, holder string) error
	// BreakLock forcibly clears workflowID's lock regardless of holder or
	// TTL; used by the `unlock` admin command and the maintenance sweep.
	BreakLock(ctx context.Context, workflowID string) error
}

// Resettable is an optional capability for backends that can wipe all
// collections (the `reset` CLI command).
type Resettable interface {
	Reset(ctx context.Context) error
}

// Closer is an optional capability for backends holding a connection.
type Closer interface {
	Close() error
}

// Store is the composite capability the Launchpad depends on.
type Store interface {
	TaskStore
	LaunchStore
	WorkflowStore
	IDAllocator
	LockStore
}
