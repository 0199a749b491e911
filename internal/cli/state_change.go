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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/launchpad/engine/internal/launchpad"
)

func parseTaskID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid fw_id %q: %w", s, err)
	}
	return id, nil
}

// confirmBulk prompts before an admin command touches more than the
// configured pw_check_num records; --yes skips the prompt.
func confirmBulk(a *app, n int) error {
	if assumeYes || n <= a.cfg.Thresholds.PWCheckNum {
		return nil
	}
	fmt.Fprintf(os.Stdout, "This will modify %d records (more than pw_check_num=%d). Continue? [y/N] ", n, a.cfg.Thresholds.PWCheckNum)
	var answer string
	fmt.Scanln(&answer)
	if answer != "y" && answer != "Y" {
		return fmt.Errorf("aborted")
	}
	return nil
}

// taskStateChangeCommand builds a CLI command that applies fn to every
// task id given on the command line.
func taskStateChangeCommand(use, short string, fn func(lp *launchpad.Launchpad, ctx context.Context, taskID int) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <fw_id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
				if err := fn(a.lp, cmd.Context(), id); err != nil {
					return fmt.Errorf("%s task %d: %w", use, id, err)
				}
				printf("%s: task %d\n", use, id)
			}
			return nil
		},
	}
}

// workflowStateChangeCommand builds a CLI command that applies fn to every
// workflow id given on the command line.
func workflowStateChangeCommand(use, short string, fn func(lp *launchpad.Launchpad, ctx context.Context, workflowID string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <wf_id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := confirmBulk(a, len(args)); err != nil {
				return err
			}
			for _, id := range args {
				if err := fn(a.lp, cmd.Context(), id); err != nil {
					return fmt.Errorf("%s workflow %s: %w", use, id, err)
				}
				printf("%s: workflow %s\n", use, id)
			}
			return nil
		},
	}
}

// newStateChangeCommands builds every single-state-transition admin
// command: defuse/pause/reignite/resume at the task level, and
// defuse/pause/reignite/archive/delete at the workflow level.
func newStateChangeCommands() []*cobra.Command {
	cmds := []*cobra.Command{
		taskStateChangeCommand("defuse_fws", "Defuse tasks, holding their children WAITING", func(lp *launchpad.Launchpad, ctx context.Context, id int) error {
			return lp.DefuseTask(ctx, id)
		}),
		taskStateChangeCommand("pause_fws", "Pause tasks, holding their children WAITING", func(lp *launchpad.Launchpad, ctx context.Context, id int) error {
			return lp.PauseTask(ctx, id)
		}),
		taskStateChangeCommand("reignite_fws", "Reignite defused tasks back to WAITING", func(lp *launchpad.Launchpad, ctx context.Context, id int) error {
			return lp.ReigniteTask(ctx, id)
		}),
		taskStateChangeCommand("resume_fws", "Resume paused tasks back to WAITING", func(lp *launchpad.Launchpad, ctx context.Context, id int) error {
			return lp.ResumeTask(ctx, id)
		}),
	}

	var allStates bool
	defuseWflows := workflowStateChangeCommand("defuse_wflows", "Defuse every non-terminal task in workflows", func(lp *launchpad.Launchpad, ctx context.Context, id string) error {
		return lp.DefuseWorkflow(ctx, id, allStates)
	})
	defuseWflows.Flags().BoolVar(&allStates, "defuse_all_states", false, "also defuse COMPLETED/FIZZLED tasks")
	cmds = append(cmds, defuseWflows)

	cmds = append(cmds,
		workflowStateChangeCommand("pause_wflows", "Pause every WAITING/READY task in workflows", func(lp *launchpad.Launchpad, ctx context.Context, id string) error {
			return lp.PauseWorkflow(ctx, id)
		}),
		workflowStateChangeCommand("reignite_wflows", "Reignite defused/paused tasks in workflows back to WAITING", func(lp *launchpad.Launchpad, ctx context.Context, id string) error {
			return lp.ReigniteWorkflow(ctx, id)
		}),
		workflowStateChangeCommand("archive_wflows", "Archive workflows, marking every task ARCHIVED", func(lp *launchpad.Launchpad, ctx context.Context, id string) error {
			return lp.ArchiveWorkflow(ctx, id)
		}),
		workflowStateChangeCommand("delete_wflows", "Delete workflow records; their tasks and launches stay in the store", func(lp *launchpad.Launchpad, ctx context.Context, id string) error {
			return lp.DeleteWorkflow(ctx, id)
		}),
	)

	return cmds
}

func newUpdateFwsCommand() *cobra.Command {
	var patchJSON string

	cmd := &cobra.Command{
		Use:   "update_fws <fw_id>...",
		Short: "Merge a JSON document into tasks' specs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch map[string]any
			if err := json.Unmarshal([]byte(patchJSON), &patch); err != nil {
				return fmt.Errorf("invalid --update document: %w", err)
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
				if err := a.lp.UpdateSpec(cmd.Context(), id, patch); err != nil {
					return fmt.Errorf("update task %d: %w", id, err)
				}
				printf("updated task %d\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&patchJSON, "update", "{}", "JSON document merged into each task's spec")
	return cmd
}

func newSetPriorityCommand() *cobra.Command {
	var priority int

	cmd := &cobra.Command{
		Use:   "set_priority <fw_id>...",
		Short: "Set a task's scheduling priority",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
				if err := a.lp.SetPriority(cmd.Context(), id, priority); err != nil {
					return fmt.Errorf("set priority on task %d: %w", id, err)
				}
				printf("set_priority: task %d -> %d\n", id, priority)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "new priority value")
	return cmd
}

func newUnlockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <wf_id>...",
		Short: "Forcibly break a workflow's advisory lock",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range args {
				if err := a.lp.Unlock(cmd.Context(), id); err != nil {
					return fmt.Errorf("unlock workflow %s: %w", id, err)
				}
				printf("unlocked workflow %s\n", id)
			}
			return nil
		},
	}
}
