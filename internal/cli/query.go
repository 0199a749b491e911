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

	"github.com/launchpad/engine/internal/model"
	"github.com/launchpad/engine/internal/store"
)

func newGetFwsCommand() *cobra.Command {
	var (
		ids    []int
		states []string
		name   string
		limit  int
	)

	cmd := &cobra.Command{
		Use:     "get_fws",
		Aliases: []string{"tasks"},
		Short:   "List tasks matching a filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			filter := store.TaskFilter{TaskIDs: ids, Name: name, Limit: limit}
			for _, s := range states {
				filter.States = append(filter.States, model.State(s))
			}

			tasks, err := a.st.GetTasks(cmd.Context(), filter)
			if err != nil {
				return err
			}

			return printResult(tasks, func() {
				for _, t := range tasks {
					printf("%d\t%s\t%s\n", t.TaskID, t.State, t.Name)
				}
			})
		},
	}

	cmd.Flags().IntSliceVar(&ids, "fw_id", nil, "filter by task id")
	cmd.Flags().StringSliceVar(&states, "state", nil, "filter by state")
	cmd.Flags().StringVar(&name, "name", "", "filter by task name")
	cmd.Flags().IntVar(&limit, "limit", 0, "limit the number of results")
	return cmd
}

func newGetWflowsCommand() *cobra.Command {
	var states []string

	cmd := &cobra.Command{
		Use:     "get_wflows",
		Aliases: []string{"workflows"},
		Short:   "List workflows matching a filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var modelStates []model.State
			for _, s := range states {
				modelStates = append(modelStates, model.State(s))
			}

			wfs, err := a.st.ListWorkflows(cmd.Context(), modelStates)
			if err != nil {
				return err
			}

			return printResult(wfs, func() {
				for _, wf := range wfs {
					printf("%s\t%s\t%s\n", wf.ID, wf.State, wf.Name)
				}
			})
		},
	}

	cmd.Flags().StringSliceVar(&states, "state", nil, "filter by aggregate workflow state")
	return cmd
}

func newRerunFwsCommand() *cobra.Command {
	var launchID int

	cmd := &cobra.Command{
		Use:   "rerun_fws <fw_id>...",
		Short: "Archive a task's launches and re-queue it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if launchID != 0 && len(args) != 1 {
				return fmt.Errorf("--launch_id applies to exactly one fw_id")
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := confirmBulk(a, len(args)); err != nil {
				return err
			}
			for _, arg := range args {
				id, err := parseTaskID(arg)
				if err != nil {
					return err
				}
				if launchID != 0 {
					err = a.lp.RerunTaskFromLaunch(cmd.Context(), id, launchID)
				} else {
					err = a.lp.RerunTask(cmd.Context(), id)
				}
				if err != nil {
					return fmt.Errorf("rerun task %d: %w", id, err)
				}
				printf("requeued task %d\n", id)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&launchID, "launch_id", 0, "rerun in the named launch's working directory")
	return cmd
}

func newTrackFwsCommand() *cobra.Command {
	var (
		include []string
		exclude []string
	)

	cmd := &cobra.Command{
		Use:   "track_fws <fw_id>...",
		Short: "Print tracked-file tails captured by a task's launches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			included := func(filename string) bool {
				for _, e := range exclude {
					if e == filename {
						return false
					}
				}
				if len(include) == 0 {
					return true
				}
				for _, i := range include {
					if i == filename {
						return true
					}
				}
				return false
			}

			for _, arg := range args {
				id, err := parseTaskID(arg)
				if err != nil {
					return err
				}
				task, err := a.st.GetTask(cmd.Context(), id)
				if err != nil {
					return err
				}
				printf("# FW id: %d, FW name: %s\n", task.TaskID, task.Name)
				launchIDs := append(append([]int(nil), task.Launches...), task.ArchivedLaunches...)
				for _, lid := range launchIDs {
					launch, err := a.st.GetLaunch(cmd.Context(), lid)
					if err != nil {
						continue
					}
					for _, tr := range launch.Trackers {
						if !included(tr.Filename) {
							continue
						}
						printf("## Launch id: %d\n", launch.LaunchID)
						printf("### Filename: %s\n%s\n", tr.Filename, tr.Content)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&include, "include", nil, "only show these filenames")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "hide these filenames")
	return cmd
}
