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

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/launchpad/engine/internal/launchpad"
)

// workflowFile is the on-disk JSON shape `add` reads: a workflow's tasks
// keyed by a caller-chosen placeholder id and the links between them.
type workflowFile struct {
	Name     string                   `json:"name"`
	Metadata map[string]any           `json:"metadata,omitempty"`
	Tasks    map[int]workflowFileTask `json:"tasks"`
	Links    map[int][]int            `json:"links,omitempty"`
}

type workflowFileTask struct {
	Name string         `json:"name"`
	Spec map[string]any `json:"spec"`
}

func loadWorkflowFile(path string) (launchpad.NewWorkflowSpec, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return launchpad.NewWorkflowSpec{}, fmt.Errorf("read %s: %w", path, err)
	}

	var wf workflowFile
	if err := json.Unmarshal(buf, &wf); err != nil {
		return launchpad.NewWorkflowSpec{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(wf.Tasks) == 0 {
		return launchpad.NewWorkflowSpec{}, fmt.Errorf("%s: workflow has no tasks", path)
	}

	spec := launchpad.NewWorkflowSpec{
		Name:     wf.Name,
		Metadata: wf.Metadata,
		Tasks:    make(map[int]launchpad.NewTaskSpec, len(wf.Tasks)),
		Links:    wf.Links,
	}
	for id, t := range wf.Tasks {
		spec.Tasks[id] = launchpad.NewTaskSpec{Name: t.Name, Spec: t.Spec}
	}
	return spec, nil
}
