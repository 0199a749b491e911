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

package model_test

import (
	"testing"

	"github.com/launchpad/engine/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestParentsResolved(t *testing.T) {
	tests := []struct {
		name                string
		parentStates        []model.State
		allowFizzledParents bool
		want                bool
	}{
		{"no parents", nil, false, true},
		{"all completed", []model.State{model.StateCompleted, model.StateCompleted}, false, true},
		{"one waiting", []model.State{model.StateCompleted, model.StateRunning}, false, false},
		{"fizzled not allowed", []model.State{model.StateCompleted, model.StateFizzled}, false, false},
		{"fizzled allowed", []model.State{model.StateCompleted, model.StateFizzled}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, model.ParentsResolved(tt.parentStates, tt.allowFizzledParents))
		})
	}
}

func TestWorkflowState_Precedence(t *testing.T) {
	tests := []struct {
		name   string
		states map[int]model.State
		want   model.State
	}{
		{"all completed", map[int]model.State{1: model.StateCompleted, 2: model.StateCompleted}, model.StateCompleted},
		{"one running beats completed", map[int]model.State{1: model.StateCompleted, 2: model.StateRunning}, model.StateRunning},
		{"fizzled beats running", map[int]model.State{1: model.StateRunning, 2: model.StateFizzled}, model.StateFizzled},
		{"archived beats everything", map[int]model.State{1: model.StateFizzled, 2: model.StateArchived}, model.StateArchived},
		{"empty workflow", map[int]model.State{}, model.StateCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, model.WorkflowState(tt.states))
		})
	}
}

func TestApply_TransitionTable(t *testing.T) {
	tests := []struct {
		event model.Event
		from  model.State
		want  model.State
	}{
		{model.EventParentsResolved, model.StateWaiting, model.StateReady},
		{model.EventCheckoutReserve, model.StateReady, model.StateReserved},
		{model.EventCheckoutRun, model.StateReady, model.StateRunning},
		{model.EventCheckoutRun, model.StateReserved, model.StateRunning},
		{model.EventCompleteOK, model.StateRunning, model.StateCompleted},
		{model.EventCompleteFail, model.StateRunning, model.StateFizzled},
		{model.EventDefuse, model.StateRunning, model.StateDefused},
		{model.EventPause, model.StateReady, model.StatePaused},
		{model.EventReignite, model.StateDefused, model.StateWaiting},
		{model.EventResume, model.StatePaused, model.StateWaiting},
		{model.EventRerun, model.StateFizzled, model.StateWaiting},
		{model.EventReservationExpired, model.StateReserved, model.StateReady},
		{model.EventRunLostRequeue, model.StateRunning, model.StateWaiting},
		{model.EventRunLostFizzle, model.StateRunning, model.StateFizzled},
		{model.EventArchive, model.StateCompleted, model.StateArchived},
		{model.EventArchive, model.StateWaiting, model.StateArchived},
	}
	for _, tt := range tests {
		t.Run(string(tt.event)+"/"+string(tt.from), func(t *testing.T) {
			got, err := model.Apply(tt.event, tt.from)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply_RejectsIllegalMoves(t *testing.T) {
	illegal := []struct {
		event model.Event
		from  model.State
	}{
		{model.EventPause, model.StateRunning},
		{model.EventRerun, model.StateReady},
		{model.EventReignite, model.StatePaused},
		{model.EventResume, model.StateDefused},
		{model.EventCompleteOK, model.StateReady},
		{model.EventCheckoutRun, model.StateCompleted},
		{model.EventDefuse, model.StateCompleted},
	}
	for _, tt := range illegal {
		t.Run(string(tt.event)+"/"+string(tt.from), func(t *testing.T) {
			got, err := model.Apply(tt.event, tt.from)
			assert.ErrorIs(t, err, model.ErrInvalidTransition)
			assert.Equal(t, tt.from, got, "a refused event leaves state unchanged")
		})
	}
}

func TestDetectCycle(t *testing.T) {
	t.Run("acyclic chain", func(t *testing.T) {
		links := map[int][]int{1: {2}, 2: {3}}
		assert.Nil(t, model.DetectCycle([]int{1, 2, 3}, links))
	})

	t.Run("self loop", func(t *testing.T) {
		links := map[int][]int{1: {1}}
		cycle := model.DetectCycle([]int{1}, links)
		assert.NotNil(t, cycle)
	})

	t.Run("three node cycle", func(t *testing.T) {
		links := map[int][]int{1: {2}, 2: {3}, 3: {1}}
		cycle := model.DetectCycle([]int{1, 2, 3}, links)
		assert.NotNil(t, cycle)
		assert.Contains(t, cycle, 1)
		assert.Contains(t, cycle, 2)
		assert.Contains(t, cycle, 3)
	})

	t.Run("diamond is acyclic", func(t *testing.T) {
		links := map[int][]int{1: {2, 3}, 2: {4}, 3: {4}}
		assert.Nil(t, model.DetectCycle([]int{1, 2, 3, 4}, links))
	})
}
