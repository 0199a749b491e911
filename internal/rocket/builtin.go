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
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/launchpad/engine/internal/model"
)

// ScriptTask runs a shell command as a sub-task; it answers to `_fw_name:
// "ScriptTask"`. Its params recognize `script` (required), `timeout_secs`
// (default 30), and `stored_data_key` (where captured stdout is recorded
// in the returned action's stored_data, default "stdout").
type ScriptTask struct {
	DefaultTimeout time.Duration
}

func (t ScriptTask) Name() string { return "ScriptTask" }

func (t ScriptTask) Run(ctx context.Context, params, _ map[string]any) (*model.Action, error) {
	script, _ := params["script"].(string)
	if script == "" {
		return nil, fmt.Errorf("ScriptTask: missing required param %q", "script")
	}

	timeout := t.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if secs, ok := params["timeout_secs"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", script)
	if dir := WorkingDir(ctx); dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ScriptTask: %w (stderr: %s)", err, stderr.String())
	}

	key, _ := params["stored_data_key"].(string)
	if key == "" {
		key = "stdout"
	}
	return &model.Action{
		StoredData: map[string]any{key: stdout.String()},
	}, nil
}

// TemplateWriterTask writes literal `contents` to a `filename` inside the
// launch's working directory; it answers to `_fw_name: "TemplateWriterTask"`.
// Relative paths resolve against the working directory, which the Rocket
// itself created for this launch.
type TemplateWriterTask struct{}

func (TemplateWriterTask) Name() string { return "TemplateWriterTask" }

func (TemplateWriterTask) Run(ctx context.Context, params, _ map[string]any) (*model.Action, error) {
	filename, _ := params["filename"].(string)
	if filename == "" {
		return nil, fmt.Errorf("TemplateWriterTask: missing required param %q", "filename")
	}
	contents, _ := params["contents"].(string)

	path := filename
	if dir := WorkingDir(ctx); dir != "" && !filepath.IsAbs(filename) {
		path = filepath.Join(dir, filename)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		return nil, fmt.Errorf("TemplateWriterTask: write %s: %w", path, err)
	}
	return &model.Action{StoredData: map[string]any{"written_path": path}}, nil
}

// RegisterBuiltins registers the built-in sub-tasks with reg.
func RegisterBuiltins(reg *Registry) error {
	for _, t := range []SubTask{ScriptTask{}, TemplateWriterTask{}} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
