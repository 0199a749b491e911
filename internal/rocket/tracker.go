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
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/launchpad/engine/internal/model"
)

// trackFile captures the last t.NLines lines of t.Filename, resolved
// against dir unless absolute. A missing file leaves the previous
// content in place rather than erasing it.
func trackFile(t *model.Tracker, dir string) {
	path := t.Filename
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return
	}
	t.Content = lastLines(string(buf), t.NLines)
	t.UpdatedOn = time.Now()
}

func lastLines(s string, n int) string {
	if n <= 0 {
		return ""
	}
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// updateTrackers refreshes every tracker's tail from the launch
// directory and pushes the snapshots to the store. Tracker failures are
// never allowed to fail the launch itself.
func (r *Rocket) updateTrackers(ctx context.Context, launchID int, trackers []model.Tracker, dir string, logger *slog.Logger) {
	if len(trackers) == 0 {
		return
	}
	for i := range trackers {
		trackFile(&trackers[i], dir)
	}
	if err := r.lp.UpdateTrackers(ctx, launchID, trackers); err != nil {
		logger.Warn("tracker update failed", "launch_id", launchID, "error", err)
	}
}
