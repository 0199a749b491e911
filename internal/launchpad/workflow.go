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

	"github.com/google/uuid"

	"github.com/launchpad/engine/internal/model"
	conductorerrors "github.com/launchpad/engine/pkg/errors"
)

// NewWorkflowSpec describes a workflow to add: tasks keyed by a caller
// chosen placeholder id, and links between those placeholder ids. Real
// task ids are allocated at add time.
type NewWorkflowSpec = model.WorkflowDef

// NewTaskSpec is one task within a NewWorkflowSpec.
type NewTaskSpec = model.TaskDef

// AddWorkflow persists a new workflow: allocates real task ids for the
// definition's placeholder ids, initializes every task's state by
// evaluating the parents-resolved predicate, and refuses cyclic links.
func (l *Launchpad) AddWorkflow(ctx context.Context, def NewWorkflowSpec) (*model.Workflow, error) {
	ctx, span := l.startSpan(ctx, "launchpad.add_workflow")
	defer span.End()

	placeholders := def.PlaceholderIDs()
	if cycle := model.DetectCycle(placeholders, def.Links); cycle != nil {
		return nil, &conductorerrors.CyclicGraphError{TaskIDs: cycle}
	}

	idMap := make(map[int]int, len(placeholders))
	for _, placeholder := range placeholders {
		realID, err := l.store.NextTaskID(ctx)
		if err != nil {
			return nil, &conductorerrors.StoreUnavailableError{Op: "next_task_id", Cause: err}
		}
		idMap[placeholder] = realID
	}

	links := make(map[int][]int, len(def.Links))
	for parent, children := range def.Links {
		mappedChildren := make([]int, len(children))
		for i, c := range children {
			mappedChildren[i] = idMap[c]
		}
		links[idMap[parent]] = mappedChildren
	}

	parentsOf := make(map[int][]int, len(idMap))
	for parent, children := range links {
		for _, child := range children {
			parentsOf[child] = append(parentsOf[child], parent)
		}
	}

	now := time.Now()
	nodes := make([]int, 0, len(idMap))
	fwStates := make(map[int]model.State, len(idMap))
	for placeholder, realID := range idMap {
		nodes = append(nodes, realID)
		task := &model.Task{
			TaskID:    realID,
			Name:      def.Tasks[placeholder].Name,
			Spec:      def.Tasks[placeholder].Spec,
			CreatedOn: now,
		}
		if len(parentsOf[realID]) == 0 {
			task.State = model.StateReady
		} else {
			task.State = model.StateWaiting
		}
		if err := l.store.SaveTask(ctx, task); err != nil {
			return nil, &conductorerrors.StoreUnavailableError{Op: "save_task", Cause: err}
		}
		fwStates[realID] = task.State
	}

	wf := &model.Workflow{
		ID:        uuid.NewString(),
		Name:      def.Name,
		Metadata:  def.Metadata,
		Nodes:     nodes,
		Links:     links,
		CreatedOn: now,
		UpdatedOn: now,
		FWStates:  fwStates,
	}
	wf.DeriveParentLinks()
	wf.State = model.WorkflowState(fwStates)

	if err := l.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, &conductorerrors.StoreUnavailableError{Op: "create_workflow", Cause: err}
	}
	return wf, nil
}

// recomputeWorkflowState re-derives and persists wf's aggregate state from
// its current FWStates, assuming the caller already holds wf's lock.
func (l *Launchpad) recomputeWorkflowState(ctx context.Context, wf *model.Workflow) error {
	wf.State = model.WorkflowState(wf.FWStates)
	return l.store.UpdateWorkflow(ctx, wf)
}

// RefreshWorkflow re-derives workflowID's denormalized bookkeeping from
// the task records themselves: fw_states, parent links, and the aggregate
// state. Used by the `refresh` admin command after manual store surgery.
func (l *Launchpad) RefreshWorkflow(ctx context.Context, workflowID string) error {
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
			wf.FWStates[taskID] = task.State
		}
		wf.DeriveParentLinks()
		return l.recomputeWorkflowState(ctx, wf)
	})
}
