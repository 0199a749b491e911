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

package timing

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_DisabledByDefault(t *testing.T) {
	t.Setenv(EnvVar, "")
	tm := Get("rapidfire")
	tm.Start("launch")
	tm.Stop("launch")
	assert.Equal(t, 0, tm.Len(), "an unmatched timer records nothing")
}

func TestGet_GlobMatch(t *testing.T) {
	t.Setenv(EnvVar, "rapid*, other")

	tm := Get("rapidfire")
	tm.Start("launch")
	time.Sleep(time.Millisecond)
	tm.Stop("launch")
	require.Equal(t, 1, tm.Len())

	assert.Equal(t, 0, Get("unrelated").Len())
}

func TestWrite_CSV(t *testing.T) {
	t.Setenv(EnvVar, "*")

	tm := Get("csvtest")
	tm.Start("stage1")
	tm.Stop("stage1")
	tm.Start("stage1")
	tm.Stop("stage1")

	var sb strings.Builder
	n := Write(&sb)
	require.GreaterOrEqual(t, n, 1)
	assert.Contains(t, sb.String(), "name,stage,count,time")
	assert.Contains(t, sb.String(), "csvtest,stage1,2,")
}

func TestStop_WithoutStartIsNoop(t *testing.T) {
	t.Setenv(EnvVar, "*")
	tm := Get("unbalanced")
	tm.Stop("never-started")
	assert.Equal(t, 0, tm.Len())
}
