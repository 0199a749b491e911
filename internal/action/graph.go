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

package action

import (
	"context"
	"time"

	"github.com/launchpad/engine/internal/model"
	"github.com/launchpad/engine/internal/store"
	conductorerrors "github.com/launchpad/engine/pkg/errors"
)

// Apply applies task's completion action to wf: spec patches to direct
// children, graph surgery for additions/detours, and defuse propagation.
// The caller must already hold wf's lock. wf's in-memory Nodes/Links/
// FWStates are updated in place; the caller is responsible for persisting
// wf and any touched tasks it doesn't already see saved here.
func Apply(ctx context.Context, s store.Store, wf *model.Workflow, task *model.Task, act *model.Action) error {
	if act == nil {
		return nil
	}

	// Copied: detour insertion rewrites wf.Links[task.TaskID] in place.
	children := append([]int(nil), wf.Links[task.TaskID]...)

	if len(act.UpdateSpec) > 0 || len(act.ModSpec) > 0 {
		for _, childID := range children {
			child, err := s.GetTask(ctx, childID)
			if err != nil {
				return err
			}
			child.Spec = ApplyUpdateSpec(child.Spec, act.UpdateSpec)
			child.Spec, err = ApplyModSpec(child.Spec, act.ModSpec)
			if err != nil {
				return err
			}
			if err := s.SaveTask(ctx, child); err != nil {
				return err
			}
		}
	}

	if act.Exit || act.DefuseChildren {
		targets := children
		if act.Exit {
			targets = nil
			seen := make(map[int]bool)
			for queue := append([]int(nil), children...); len(queue) > 0; queue = queue[1:] {
				if id := queue[0]; !seen[id] {
					seen[id] = true
					targets = append(targets, id)
					queue = append(queue, wf.Links[id]...)
				}
			}
		}
		if err := defuseTasks(ctx, s, wf, targets); err != nil {
			return err
		}
	}

	if act.DefuseWorkflow {
		if err := defuseTasks(ctx, s, wf, wf.Nodes); err != nil {
			return err
		}
	}

	for _, addition := range act.Additions {
		if err := insertAsChildren(ctx, s, wf, task.TaskID, nil, addition); err != nil {
			return err
		}
	}

	for _, detour := range act.Detours {
		if err := insertAsChildren(ctx, s, wf, task.TaskID, children, detour); err != nil {
			return err
		}
	}

	return nil
}

// defuseTasks transitions every non-terminal task in ids to DEFUSED.
func defuseTasks(ctx context.Context, s store.Store, wf *model.Workflow, ids []int) error {
	terminal := map[model.State]bool{
		model.StateCompleted: true,
		model.StateFizzled:   true,
		model.StateDefused:   true,
		model.StateArchived:  true,
	}
	for _, id := range ids {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if terminal[t.State] {
			continue
		}
		t.State = model.StateDefused
		if err := s.SaveTask(ctx, t); err != nil {
			return err
		}
		wf.FWStates[id] = model.StateDefused
	}
	return nil
}

// insertAsChildren materializes def's tasks as new nodes in wf, links its
// roots as children of parentID, and — when downstream is non-empty (the
// detour case) — rewires downstream to wait on def's leaves too.
func insertAsChildren(ctx context.Context, s store.Store, wf *model.Workflow, parentID int, downstream []int, def *model.WorkflowDef) error {
	if def == nil || len(def.Tasks) == 0 {
		return nil
	}
	if cycle := model.DetectCycle(def.PlaceholderIDs(), def.Links); cycle != nil {
		return &conductorerrors.CyclicGraphError{TaskIDs: cycle}
	}

	idMap := make(map[int]int, len(def.Tasks))
	for _, placeholderID := range def.PlaceholderIDs() {
		realID, err := s.NextTaskID(ctx)
		if err != nil {
			return err
		}
		idMap[placeholderID] = realID
	}

	roots := make(map[int]bool, len(def.Tasks))
	for _, r := range def.Roots() {
		roots[r] = true
	}

	// The parent just completed, so def's roots are immediately READY;
	// interior tasks wait on their in-definition parents.
	now := time.Now()
	for placeholderID, td := range def.Tasks {
		realID := idMap[placeholderID]
		state := model.StateWaiting
		if roots[placeholderID] {
			state = model.StateReady
		}
		t := &model.Task{
			TaskID:    realID,
			Name:      td.Name,
			Spec:      td.Spec,
			CreatedOn: now,
			State:     state,
		}
		if err := s.SaveTask(ctx, t); err != nil {
			return err
		}
		wf.Nodes = append(wf.Nodes, realID)
		wf.FWStates[realID] = state
	}

	for parent, kids := range def.Links {
		mapped := make([]int, len(kids))
		for i, k := range kids {
			mapped[i] = idMap[k]
		}
		wf.Links[idMap[parent]] = mapped
	}

	mappedRoots := make([]int, 0, len(roots))
	for _, r := range def.Roots() {
		mappedRoots = append(mappedRoots, idMap[r])
	}

	if len(downstream) > 0 {
		// Detour: the direct parent->downstream edges are replaced by the
		// path through the detour, so downstream waits on the detour's
		// leaves instead of re-running as soon as the parent finishes.
		isDownstream := make(map[int]bool, len(downstream))
		for _, d := range downstream {
			isDownstream[d] = true
		}
		kept := wf.Links[parentID][:0]
		for _, c := range wf.Links[parentID] {
			if !isDownstream[c] {
				kept = append(kept, c)
			}
		}
		wf.Links[parentID] = append(kept, mappedRoots...)
	} else {
		wf.Links[parentID] = append(wf.Links[parentID], mappedRoots...)
	}

	if len(downstream) > 0 {
		for _, leaf := range def.Leaves() {
			wf.Links[idMap[leaf]] = append(wf.Links[idMap[leaf]], downstream...)
		}
		for _, childID := range downstream {
			child, err := s.GetTask(ctx, childID)
			if err != nil {
				return err
			}
			child.State = model.StateWaiting
			if err := s.SaveTask(ctx, child); err != nil {
				return err
			}
			wf.FWStates[childID] = model.StateWaiting
		}
	}

	wf.DeriveParentLinks()
	return nil
}
