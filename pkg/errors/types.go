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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid user input, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "task", "launch", "workflow")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// CyclicGraphError represents a workflow whose links form a cycle.
// Raised by add_workflow; the workflow is rejected and no state changes.
type CyclicGraphError struct {
	// TaskIDs names one cycle found in links, in traversal order.
	TaskIDs []int
}

// Error implements the error interface.
func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("workflow links form a cycle: %v", e.TaskIDs)
}

// LockContentionError represents failure to acquire a workflow's advisory
// lock within its wait budget. Callers may retry; the admin `unlock`
// command exists for stuck cases.
type LockContentionError struct {
	// WorkflowID identifies the workflow whose lock could not be acquired.
	WorkflowID string

	// Waited is how long the caller waited before giving up.
	Waited time.Duration

	// HeldBy identifies the current lock holder, if known.
	HeldBy string
}

// Error implements the error interface.
func (e *LockContentionError) Error() string {
	if e.HeldBy != "" {
		return fmt.Sprintf("could not acquire lock for workflow %s after %v (held by %s)", e.WorkflowID, e.Waited, e.HeldBy)
	}
	return fmt.Sprintf("could not acquire lock for workflow %s after %v", e.WorkflowID, e.Waited)
}

// StoreUnavailableError wraps a transient failure talking to the
// persistent store. The Launchpad surfaces these to the caller; the
// Rapidfire driver converts them to a retry-after-delay instead of
// failing the task.
type StoreUnavailableError struct {
	// Op names the store operation that failed (e.g. "checkout", "complete").
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StoreUnavailableError) Unwrap() error {
	return e.Cause
}

// InconsistentStateError represents a task whose state disagrees with its
// tail launch's state, detected only by the liveness sweeper.
type InconsistentStateError struct {
	TaskID      int
	TaskState   string
	LaunchID    int
	LaunchState string
}

// Error implements the error interface.
func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("task %d is %s but tail launch %d is %s", e.TaskID, e.TaskState, e.LaunchID, e.LaunchState)
}

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "store.backend")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "workflow lock acquire")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
