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

// Package rapidfire repeatedly drives a rocket.Rocket's worker loop:
// single-process mode loops one worker over successive checkouts;
// multi-process mode runs N of those loops concurrently, sharing a store
// through the same Launchpad coordination the single-process mode uses.
// The only local state shared between loops is the Launchpad's in-flight
// task set, which keeps two loops in one process from racing the same
// just-dispatched task id in their own bookkeeping.
package rapidfire

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/launchpad/engine/internal/model"
	"github.com/launchpad/engine/internal/rocket"
	"github.com/launchpad/engine/internal/timing"
)

var loopTimer = timing.Get("rapidfire")

// Options configures a driving loop. NLaunches == 0 means "until the queue
// is empty"; NLaunches < 0 means "forever" (until ctx is cancelled).
// MaxLoops caps outer-loop iterations regardless of NLaunches; 0 means
// unbounded.
type Options struct {
	Worker     model.FWorker
	NLaunches  int
	MaxLoops   int
	SleepTime  time.Duration
	EmptySleep time.Duration
}

func (o Options) withDefaults() Options {
	if o.SleepTime <= 0 {
		o.SleepTime = time.Second
	}
	if o.EmptySleep <= 0 {
		o.EmptySleep = 10 * time.Second
	}
	return o
}

// RunSingle drives r in single-process mode: repeatedly call RunOnce until
// NLaunches is exhausted, MaxLoops is hit, the queue runs dry (NLaunches==0
// mode), or ctx is cancelled. It returns the number of launches actually
// run.
func RunSingle(ctx context.Context, r *rocket.Rocket, opts Options, logger *slog.Logger) (int, error) {
	opts = opts.withDefaults()
	launched := 0

	loopTimer.Start("rapidfire")
	defer loopTimer.Stop("rapidfire")

	for loop := 0; opts.MaxLoops <= 0 || loop < opts.MaxLoops; loop++ {
		if opts.NLaunches > 0 && launched >= opts.NLaunches {
			return launched, nil
		}

		select {
		case <-ctx.Done():
			return launched, ctx.Err()
		default:
		}

		loopTimer.Start("launch_rocket")
		ran, err := r.RunOnce(ctx, opts.Worker)
		loopTimer.Stop("launch_rocket")
		if err != nil {
			logger.Warn("rapidfire: launch attempt failed, retrying after backoff", "error", err)
			if !sleepOrDone(ctx, opts.SleepTime) {
				return launched, ctx.Err()
			}
			continue
		}

		if !ran {
			if opts.NLaunches == 0 {
				// Queue empty mode: nothing eligible, we're done.
				return launched, nil
			}
			if !sleepOrDone(ctx, opts.EmptySleep) {
				return launched, ctx.Err()
			}
			continue
		}

		launched++
		if !sleepOrDone(ctx, opts.SleepTime) {
			return launched, ctx.Err()
		}
	}
	return launched, nil
}

// RunMulti drives np independent single-process loops concurrently,
// sharing the same rocket.Rocket (and therefore the same underlying store
// and Launchpad) — coordination across the np loops happens entirely
// through the store's compare-and-swap checkout, the same way independent
// OS processes would coordinate. Returns the aggregate launch count across
// all loops once every loop has stopped.
func RunMulti(ctx context.Context, r *rocket.Rocket, np int, opts Options, logger *slog.Logger) (int, error) {
	if np <= 1 {
		return RunSingle(ctx, r, opts, logger)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
		first error
	)

	for i := 0; i < np; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			n, err := RunSingle(ctx, r, opts, logger.With("worker_index", idx))
			mu.Lock()
			total += n
			if err != nil && first == nil {
				first = err
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	return total, first
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
