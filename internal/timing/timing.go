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

// Package timing provides named performance timers with CSV output.
// Timers are opt-in: the LAUNCHPAD_TIMERS environment variable lists
// comma-separated glob patterns of timer names to enable ("*" enables
// all). A timer whose name matches no pattern is a no-op, so call sites
// never need an enabled/disabled branch.
//
// Within a timer, work is measured in named stages:
//
//	tm := timing.Get("rapidfire")
//	tm.Start("launch")
//	runOne()
//	tm.Stop("launch")
//	...
//	timing.Write(os.Stdout)
package timing

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"
)

// EnvVar names the environment variable listing enabled timer patterns.
const EnvVar = "LAUNCHPAD_TIMERS"

// Timer accumulates elapsed time and call counts per named stage.
// Disabled timers satisfy the same interface and do nothing.
type Timer interface {
	Start(stage string)
	Stop(stage string)
	// Len reports the number of stages timed so far.
	Len() int
	write(w io.Writer)
}

var (
	mu     sync.Mutex
	timers []*realTimer
)

// Get returns the timer for name: a recording timer when name matches a
// LAUNCHPAD_TIMERS pattern, a no-op otherwise.
func Get(name string) Timer {
	enabled := false
	for _, pat := range strings.Split(os.Getenv(EnvVar), ",") {
		pat = strings.TrimSpace(pat)
		if pat == "" {
			continue
		}
		if ok, err := path.Match(pat, name); err == nil && ok {
			enabled = true
			break
		}
	}
	if !enabled {
		return nullTimer{}
	}

	tm := &realTimer{name: name, elapsed: make(map[string]time.Duration), counts: make(map[string]int), started: make(map[string]time.Time)}
	mu.Lock()
	timers = append(timers, tm)
	mu.Unlock()
	return tm
}

// Any reports whether any enabled timer has recorded at least one stage.
func Any() bool {
	mu.Lock()
	defer mu.Unlock()
	for _, tm := range timers {
		if tm.Len() > 0 {
			return true
		}
	}
	return false
}

// Write dumps every enabled timer's results to w as CSV
// (name,stage,count,time) and returns the number of data rows written.
func Write(w io.Writer) int {
	mu.Lock()
	defer mu.Unlock()
	n := 0
	if len(timers) > 0 {
		fmt.Fprintln(w, "name,stage,count,time")
	}
	for _, tm := range timers {
		tm.write(w)
		n += tm.Len()
	}
	return n
}

type realTimer struct {
	name string

	tmu     sync.Mutex
	elapsed map[string]time.Duration
	counts  map[string]int
	started map[string]time.Time
}

func (t *realTimer) Start(stage string) {
	t.tmu.Lock()
	defer t.tmu.Unlock()
	t.started[stage] = time.Now()
}

func (t *realTimer) Stop(stage string) {
	t.tmu.Lock()
	defer t.tmu.Unlock()
	start, ok := t.started[stage]
	if !ok {
		return
	}
	delete(t.started, stage)
	t.elapsed[stage] += time.Since(start)
	t.counts[stage]++
}

func (t *realTimer) Len() int {
	t.tmu.Lock()
	defer t.tmu.Unlock()
	return len(t.elapsed)
}

func (t *realTimer) write(w io.Writer) {
	t.tmu.Lock()
	defer t.tmu.Unlock()
	for stage, d := range t.elapsed {
		fmt.Fprintf(w, "%s,%s,%d,%.3f\n", t.name, stage, t.counts[stage], d.Seconds())
	}
}

type nullTimer struct{}

func (nullTimer) Start(string)    {}
func (nullTimer) Stop(string)     {}
func (nullTimer) Len() int        { return 0 }
func (nullTimer) write(io.Writer) {}
