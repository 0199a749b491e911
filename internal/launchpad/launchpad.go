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

// Package launchpad implements the coordinator: add_workflow, checkout,
// complete, ping, the admin mutations, and the liveness sweeps, all backed
// by a store.Store. Every operation that touches more than one task in a
// workflow acquires that workflow's lock first.
package launchpad

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/launchpad/engine/internal/model"
	"github.com/launchpad/engine/internal/store"
	conductorerrors "github.com/launchpad/engine/pkg/errors"
)

// MetricsCollector records observability counters for Launchpad operations.
type MetricsCollector interface {
	RecordCheckout(ctx context.Context, taskID int, category string)
	RecordComplete(ctx context.Context, taskID int, state model.State, duration time.Duration)
	IncrementQueueDepth()
	DecrementQueueDepth()
}

// Config contains Launchpad configuration.
type Config struct {
	LockWait time.Duration
	LockTTL  time.Duration
}

// Launchpad is the coordinator: the single point through which workers
// checkout tasks, report completions, and admins mutate workflow state.
type Launchpad struct {
	store store.Store

	cfg Config

	mu      sync.RWMutex
	metrics MetricsCollector
	tracer  trace.Tracer

	draining atomic.Bool
	wg       sync.WaitGroup

	// inFlight maps task-id -> launch-id for tasks this process checked
	// out and has not yet completed, so concurrent rapidfire loops in one
	// process never race the same just-dispatched task in their own
	// bookkeeping. Cross-process exclusion is the store CAS's job.
	inFlight sync.Map
}

// New creates a Launchpad backed by s.
func New(s store.Store, cfg Config) *Launchpad {
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Launchpad{store: s, cfg: cfg}
}

// SetMetrics sets the metrics collector for observability.
func (l *Launchpad) SetMetrics(m MetricsCollector) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = m
}

// SetTracer sets the OpenTelemetry tracer for span instrumentation.
func (l *Launchpad) SetTracer(t trace.Tracer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracer = t
}

func (l *Launchpad) getMetrics() MetricsCollector {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.metrics
}

func (l *Launchpad) getTracer() trace.Tracer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tracer
}

// StartDraining stops the Launchpad from starting new checkouts.
func (l *Launchpad) StartDraining() { l.draining.Store(true) }

// IsDraining reports whether the Launchpad is in graceful-shutdown mode.
func (l *Launchpad) IsDraining() bool { return l.draining.Load() }

// WaitForDrain waits for in-flight operations to finish or ctx/timeout to
// expire, whichever comes first.
func (l *Launchpad) WaitForDrain(ctx context.Context, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	timeoutCh := time.After(timeout)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeoutCh:
		return fmt.Errorf("drain timeout waiting for in-flight launchpad operations")
	}
}

// withWorkflowLock acquires workflowID's lock, runs fn, then releases it
// regardless of fn's outcome.
func (l *Launchpad) withWorkflowLock(ctx context.Context, workflowID string, fn func(ctx context.Context) error) error {
	holder := uuid.NewString()

	deadline := time.Now().Add(l.cfg.LockWait)
	var heldBy string
	for {
		acquired, hb, err := l.store.AcquireLock(ctx, workflowID, holder, l.cfg.LockTTL)
		if err != nil {
			return &conductorerrors.StoreUnavailableError{Op: "acquire_lock", Cause: err}
		}
		if acquired {
			break
		}
		heldBy = hb
		if time.Now().After(deadline) {
			return &conductorerrors.LockContentionError{WorkflowID: workflowID, Waited: l.cfg.LockWait, HeldBy: heldBy}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	defer func() {
		_ = l.store.ReleaseLock(context.Background(), workflowID, holder)
	}()

	return fn(ctx)
}

func (l *Launchpad) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	tracer := l.getTracer()
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name)
}
