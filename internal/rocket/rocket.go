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

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/launchpad/engine/internal/action"
	launchpadpkg "github.com/launchpad/engine/internal/launchpad"
	"github.com/launchpad/engine/internal/log"
	"github.com/launchpad/engine/internal/model"
)

// blockTimeFormat is the second-resolution part of the timestamp in
// generated working-directory names; prepareWorkingDir appends the
// microseconds and the launch id:
// launcher_YYYY-MM-DD-HH-MM-SS-ffffff-<launch_id>.
const blockTimeFormat = "2006-01-02-15-04-05"

// Config configures a Rocket's working-directory placement and heartbeat
// cadence.
type Config struct {
	// BaseDir is the directory under which generated launcher_* working
	// directories are created, unless a task overrides `_launch_dir`.
	BaseDir string
	// PingInterval is how often the launch's heartbeat is refreshed while
	// its sub-tasks run. A pinger is started for every launch; one that
	// finishes before the first interval elapses is never pinged.
	PingInterval time.Duration
}

// Rocket runs the worker loop against a Launchpad: checkout, execute a
// task's `_tasks` list against a registry of known sub-task implementations,
// and report the combined result back via complete.
type Rocket struct {
	lp       *launchpadpkg.Launchpad
	registry *Registry
	cfg      Config
	logger   *slog.Logger
}

// New creates a Rocket. If logger is nil, a default is built via the shared
// log package.
func New(lp *launchpadpkg.Launchpad, registry *Registry, cfg Config, logger *slog.Logger) *Rocket {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 5 * time.Minute
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = "."
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Rocket{lp: lp, registry: registry, cfg: cfg, logger: logger}
}

// RunOnce performs one iteration of the worker loop: checkout, create the
// working directory, write the FW.json sidecar, run each sub-task in
// order, combine their actions, and report completion. It reports
// ran=false when checkout found nothing eligible to do.
func (r *Rocket) RunOnce(ctx context.Context, worker model.FWorker) (ran bool, err error) {
	task, launch, err := r.lp.Checkout(ctx, worker, false)
	if err != nil {
		return false, fmt.Errorf("rocket: checkout: %w", err)
	}
	if task == nil {
		return false, nil
	}

	logger := r.logger.With(log.TaskIDKey, task.TaskID, log.LaunchIDKey, launch.LaunchID, log.WorkerKey, worker.Name)
	logger.Info("launch starting")

	dir, cleanup, err := r.prepareWorkingDir(task, launch)
	if err != nil {
		// The launch is already RUNNING in the store; it must still be
		// finalized even though we never ran a sub-task.
		r.finalize(ctx, launch.LaunchID, failureAction("_working_dir", -1, err), logger)
		return true, fmt.Errorf("rocket: prepare working dir: %w", err)
	}
	defer cleanup()
	launch.LaunchDir = dir

	finalState, combined := r.runTasks(ctx, task, launch, dir, logger)
	r.finalize(ctx, launch.LaunchID, combined, logger, finalState)
	return true, nil
}

func (r *Rocket) prepareWorkingDir(task *model.Task, launch *model.Launch) (dir string, cleanup func(), err error) {
	if override := task.LaunchDir(); override != "" {
		dir = override
	} else {
		// launch.LaunchID disambiguates two launches starting in the
		// same second on the same host.
		now := time.Now()
		name := fmt.Sprintf("launcher_%s-%06d-%d", now.Format(blockTimeFormat), now.Nanosecond()/1000, launch.LaunchID)
		dir = filepath.Join(r.cfg.BaseDir, name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	sidecar := sidecarPayload{Task: task, Launch: launch}
	buf, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("marshal FW.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "FW.json"), buf, 0o644); err != nil {
		return "", nil, fmt.Errorf("write FW.json: %w", err)
	}

	// The working directory is intentionally left intact for post-mortem;
	// cleanup here only covers in-memory resources, it never removes dir.
	return dir, func() {}, nil
}

type sidecarPayload struct {
	Task   *model.Task   `json:"task"`
	Launch *model.Launch `json:"launch"`
}

// runTasks executes task's `_tasks` list in order, returning the combined
// action and the terminal state to report. It never lets a sub-task's error
// or panic escape: every failure is captured into the combined action and
// turns the result FIZZLED.
func (r *Rocket) runTasks(ctx context.Context, task *model.Task, launch *model.Launch, dir string, logger *slog.Logger) (model.State, *model.Action) {
	entries, err := subtaskEntries(task.Spec)
	if err != nil {
		return model.StateFizzled, failureAction("_tasks", -1, err)
	}

	workingSpec := cloneSpec(task.Spec)
	var collected []*model.Action
	fizzled := false

	pinger := r.startPinger(ctx, launch.LaunchID, logger)
	defer pinger.stop()

	// Trackers tail their files at every sub-task boundary and once more
	// after the last sub-task, so partial output survives a lost run.
	trackers := task.Trackers()
	defer r.updateTrackers(ctx, launch.LaunchID, trackers, dir, logger)

	for i, entry := range entries {
		fwName, _ := entry["_fw_name"].(string)
		sub, ok := r.registry.Lookup(fwName)
		if !ok {
			collected = append(collected, failureAction(fwName, i, fmt.Errorf("no subtask registered for _fw_name %q", fwName)))
			fizzled = true
			break
		}

		act, runErr := r.runOneSubtask(ctx, sub, entry, workingSpec, dir)
		r.updateTrackers(ctx, launch.LaunchID, trackers, dir, logger)
		if runErr != nil {
			logger.Error("subtask failed", "index", i, "fw_name", fwName, "error", runErr)
			collected = append(collected, failureAction(fwName, i, runErr))
			fizzled = true
			break
		}
		if act != nil {
			collected = append(collected, act)
			if act.UpdateSpec != nil {
				workingSpec = action.ApplyUpdateSpec(workingSpec, act.UpdateSpec)
			}
			if len(act.ModSpec) > 0 {
				if ws, err := action.ApplyModSpec(workingSpec, act.ModSpec); err == nil {
					workingSpec = ws
				}
			}
		}
	}

	finalState := model.StateCompleted
	if fizzled {
		finalState = model.StateFizzled
	}
	return finalState, combineActions(collected)
}

// runOneSubtask executes a single sub-task, recovering from a panic so
// the worker loop itself never crashes; a panicking sub-task fizzles the
// launch like any other failure.
func (r *Rocket) runOneSubtask(ctx context.Context, sub SubTask, params, spec map[string]any, dir string) (act *model.Action, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("subtask %s panicked: %v", sub.Name(), p)
		}
	}()
	ctx = withWorkingDir(ctx, dir)
	return sub.Run(ctx, params, spec)
}

func subtaskEntries(spec map[string]any) ([]map[string]any, error) {
	raw, ok := spec[model.SpecTasks]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list", model.SpecTasks)
	}
	entries := make([]map[string]any, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be an object", model.SpecTasks, i)
		}
		entries = append(entries, m)
	}
	return entries, nil
}

func cloneSpec(spec map[string]any) map[string]any {
	out := make(map[string]any, len(spec))
	for k, v := range spec {
		out[k] = v
	}
	return out
}

// finalize reports launchID's outcome to the Launchpad. It is called on
// every exit path from RunOnce once a launch exists, defaulting to
// FIZZLED if no explicit finalState is supplied.
func (r *Rocket) finalize(ctx context.Context, launchID int, act *model.Action, logger *slog.Logger, finalState ...model.State) {
	state := model.StateFizzled
	if len(finalState) > 0 {
		state = finalState[0]
	}
	if err := r.lp.Complete(ctx, launchID, act, state); err != nil {
		logger.Error("complete failed", "error", err, "final_state", state)
		return
	}
	logger.Info("launch finished", "final_state", state)
}

type workingDirKey struct{}

func withWorkingDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, workingDirKey{}, dir)
}

// WorkingDir returns the launch's working directory from ctx, as set up by
// RunOnce before invoking a sub-task.
func WorkingDir(ctx context.Context) string {
	dir, _ := ctx.Value(workingDirKey{}).(string)
	return dir
}
