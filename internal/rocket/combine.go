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

package rocket

import "github.com/launchpad/engine/internal/model"

// combineActions folds the per-sub-task actions of a single task into one
// task-level action, in execution order: stored_data merges shallow
// (rightmost wins), update_spec merges shallow (rightmost wins), mod_spec
// and the graph-mutation lists concatenate, and the boolean flags are OR'd.
func combineActions(actions []*model.Action) *model.Action {
	var combined *model.Action
	for _, a := range actions {
		if a == nil {
			continue
		}
		if combined == nil {
			combined = &model.Action{}
		}
		if a.StoredData != nil {
			if combined.StoredData == nil {
				combined.StoredData = make(map[string]any, len(a.StoredData))
			}
			for k, v := range a.StoredData {
				combined.StoredData[k] = v
			}
		}
		if a.UpdateSpec != nil {
			if combined.UpdateSpec == nil {
				combined.UpdateSpec = make(map[string]any, len(a.UpdateSpec))
			}
			for k, v := range a.UpdateSpec {
				combined.UpdateSpec[k] = v
			}
		}
		combined.ModSpec = append(combined.ModSpec, a.ModSpec...)
		combined.Additions = append(combined.Additions, a.Additions...)
		combined.Detours = append(combined.Detours, a.Detours...)
		combined.Exit = combined.Exit || a.Exit
		combined.DefuseChildren = combined.DefuseChildren || a.DefuseChildren
		combined.DefuseWorkflow = combined.DefuseWorkflow || a.DefuseWorkflow
	}
	return combined
}

// failureAction builds the action recorded when a sub-task raises: the
// failure is captured under stored_data so it survives for post-mortem
// queries instead of escaping the worker loop.
func failureAction(subtaskName string, index int, cause error) *model.Action {
	return &model.Action{
		StoredData: map[string]any{
			"_exception": map[string]any{
				"_fw_name": subtaskName,
				"index":    index,
				"message":  cause.Error(),
			},
		},
	}
}
