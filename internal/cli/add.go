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
	"fmt"

	"github.com/spf13/cobra"
)

func newAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <workflow.json>...",
		Short: "Add one or more workflows described by JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			for _, path := range args {
				spec, err := loadWorkflowFile(path)
				if err != nil {
					return err
				}
				wf, err := a.lp.AddWorkflow(cmd.Context(), spec)
				if err != nil {
					return fmt.Errorf("add %s: %w", path, err)
				}
				if err := printResult(wf, func() {
					printf("added workflow %s (%d tasks)\n", wf.ID, len(wf.Nodes))
				}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return cmd
}
