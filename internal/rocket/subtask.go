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

// Package rocket implements the worker loop: checkout a task, execute its
// `_tasks` list of sub-tasks in a fresh working directory, and report the
// combined result back to the Launchpad.
package rocket

import (
	"context"
	"fmt"
	"sync"

	"github.com/launchpad/engine/internal/model"
)

// SubTask is one entry a task's `_tasks` list can resolve to. Implementations
// are looked up by name from a Registry; the params map is the sub-task's own
// entry in `_tasks`, and spec is the task's current working spec (mutated in
// place by earlier sub-tasks' actions in the same task).
type SubTask interface {
	// Name returns the `_fw_name` this implementation answers to.
	Name() string
	// Run executes the sub-task against the current working spec and
	// returns the action it produces, if any.
	Run(ctx context.Context, params, spec map[string]any) (*model.Action, error)
}

// SubTaskFunc adapts a plain function to the SubTask interface.
type SubTaskFunc struct {
	FWName string
	Fn     func(ctx context.Context, params, spec map[string]any) (*model.Action, error)
}

func (f SubTaskFunc) Name() string { return f.FWName }
func (f SubTaskFunc) Run(ctx context.Context, params, spec map[string]any) (*model.Action, error) {
	return f.Fn(ctx, params, spec)
}

// Registry maps `_fw_name` to the SubTask that implements it.
type Registry struct {
	mu       sync.RWMutex
	subtasks map[string]SubTask
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{subtasks: make(map[string]SubTask)}
}

// Register adds a SubTask, replacing any previous registration under the
// same name.
func (r *Registry) Register(t SubTask) error {
	if t == nil {
		return fmt.Errorf("rocket: cannot register a nil subtask")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("rocket: subtask name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subtasks[name] = t
	return nil
}

// Lookup returns the SubTask registered under name, if any.
func (r *Registry) Lookup(name string) (SubTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.subtasks[name]
	return t, ok
}
