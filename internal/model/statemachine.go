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

package model

import (
	"errors"
	"fmt"
)

// Event is a state-machine input: an execution event or admin mutation
// that moves a task between states.
type Event string

const (
	EventParentsResolved    Event = "parents-resolved"
	EventCheckoutReserve    Event = "checkout-reserve"
	EventCheckoutRun        Event = "checkout-run"
	EventCompleteOK         Event = "complete-ok"
	EventCompleteFail       Event = "complete-fail"
	EventDefuse             Event = "defuse"
	EventPause              Event = "pause"
	EventReignite           Event = "reignite"
	EventResume             Event = "resume"
	EventRerun              Event = "rerun"
	EventArchive            Event = "archive"
	EventReservationExpired Event = "reservation-expired"
	EventRunLostRequeue     Event = "run-lost-requeue"
	EventRunLostFizzle      Event = "run-lost-fizzle"
)

// ErrInvalidTransition is returned by Apply when an event fires from a
// state it is not defined for.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions is the pure (event, from) -> to table. An event absent a
// from-state cannot fire from it.
var transitions = map[Event]struct {
	from []State
	to   State
}{
	EventParentsResolved:    {[]State{StateWaiting}, StateReady},
	EventCheckoutReserve:    {[]State{StateReady}, StateReserved},
	EventCheckoutRun:        {[]State{StateReady, StateReserved}, StateRunning},
	EventCompleteOK:         {[]State{StateRunning}, StateCompleted},
	EventCompleteFail:       {[]State{StateRunning}, StateFizzled},
	EventDefuse:             {[]State{StateWaiting, StateReady, StateReserved, StateRunning, StatePaused}, StateDefused},
	EventPause:              {[]State{StateWaiting, StateReady}, StatePaused},
	EventReignite:           {[]State{StateDefused}, StateWaiting},
	EventResume:             {[]State{StatePaused}, StateWaiting},
	EventRerun:              {[]State{StateCompleted, StateFizzled}, StateWaiting},
	EventReservationExpired: {[]State{StateReserved}, StateReady},
	EventRunLostRequeue:     {[]State{StateRunning}, StateWaiting},
	EventRunLostFizzle:      {[]State{StateRunning}, StateFizzled},
}

// Apply fires event from state and returns the resulting state. Archive is
// legal from every state; everything else consults the transition table.
func Apply(event Event, from State) (State, error) {
	if event == EventArchive {
		return StateArchived, nil
	}
	t, ok := transitions[event]
	if !ok {
		return from, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event)
	}
	for _, f := range t.from {
		if f == from {
			return t.to, nil
		}
	}
	return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, from)
}

// ParentsResolved evaluates the parents-resolved predicate: every parent
// must be COMPLETED, or, if allowFizzledParents is set, COMPLETED or
// FIZZLED.
func ParentsResolved(parentStates []State, allowFizzledParents bool) bool {
	for _, s := range parentStates {
		if s == StateCompleted {
			continue
		}
		if allowFizzledParents && s == StateFizzled {
			continue
		}
		return false
	}
	return true
}

// WorkflowState derives the aggregate workflow state from its member task
// states: the highest-precedence state among them. An empty workflow is
// COMPLETED by convention (the precedence floor).
func WorkflowState(fwStates map[int]State) State {
	best := StateCompleted
	bestRank := Precedence(StateCompleted)
	for _, s := range fwStates {
		if r := Precedence(s); r > bestRank {
			best, bestRank = s, r
		}
	}
	return best
}

// DetectCycle walks links (parent -> children) with DFS and returns one
// cycle, in traversal order, if links is not acyclic. Returns nil if
// acyclic.
func DetectCycle(nodes []int, links map[int][]int) []int {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int, len(nodes))
	for _, n := range nodes {
		color[n] = white
	}

	var path []int
	var cycle []int

	var visit func(n int) bool
	visit = func(n int) bool {
		color[n] = gray
		path = append(path, n)
		for _, child := range links[n] {
			switch color[child] {
			case gray:
				// Found the back-edge; extract the cycle suffix of path.
				for i, p := range path {
					if p == child {
						cycle = append([]int{}, path[i:]...)
						cycle = append(cycle, child)
						return true
					}
				}
			case white:
				if visit(child) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return false
	}

	for _, n := range nodes {
		if color[n] == white {
			if visit(n) {
				return cycle
			}
		}
	}
	return nil
}
