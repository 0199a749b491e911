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
	"time"
)

// pinger periodically refreshes a launch's heartbeat for as long as a task's
// sub-tasks are still running. It only matters for sub-tasks whose runtime
// exceeds the configured ping interval; shorter-lived launches simply never
// see a tick before stop is called.
type pinger struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *Rocket) startPinger(ctx context.Context, launchID int, logger *slog.Logger) *pinger {
	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pctx.Done():
				return
			case <-ticker.C:
				if err := r.lp.Ping(pctx, launchID, nil); err != nil {
					logger.Warn("ping failed", "launch_id", launchID, "error", err)
				}
			}
		}
	}()

	return &pinger{cancel: cancel, done: done}
}

func (p *pinger) stop() {
	if p == nil {
		return
	}
	p.cancel()
	<-p.done
}
