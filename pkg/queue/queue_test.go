// Copyright 2026 The Jcode Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package queue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Load(filepath.Join(t.TempDir(), "queue.json"))
	require.NoError(t, err)
	return q
}

func TestPushThenPopReadyOnlyReturnsDueItems(t *testing.T) {
	q := newTestQueue(t)
	past := time.Now().Add(-5 * time.Minute)
	future := time.Now().Add(time.Hour)

	require.NoError(t, q.Push(Item{ID: "s1", ScheduledFor: past, Priority: PriorityLow}))
	require.NoError(t, q.Push(Item{ID: "s2", ScheduledFor: future, Priority: PriorityHigh}))
	assert.Equal(t, 2, q.Len())

	ready, err := q.PopReady()
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "s1", ready[0].ID)
	assert.Equal(t, 1, q.Len())

	next, ok := q.PeekNext()
	require.True(t, ok)
	assert.Equal(t, "s2", next.ID)
}

// S2 — Queue priority.
func TestScenarioS2PopReadySortsByPriorityThenTime(t *testing.T) {
	q := newTestQueue(t)
	now := time.Now()

	require.NoError(t, q.Push(Item{ID: "A", ScheduledFor: now.Add(-10 * time.Minute), Priority: PriorityLow}))
	require.NoError(t, q.Push(Item{ID: "B", ScheduledFor: now.Add(-5 * time.Minute), Priority: PriorityHigh}))

	ready, err := q.PopReady()
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, "B", ready[0].ID)
	assert.Equal(t, "A", ready[1].ID)
	assert.Equal(t, 0, q.Len())
}

func TestPopReadyNoItemsDue(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Push(Item{ID: "future", ScheduledFor: time.Now().Add(time.Hour)}))

	ready, err := q.PopReady()
	require.NoError(t, err)
	assert.Empty(t, ready)
	assert.Equal(t, 1, q.Len())
}

func TestPeekNextEmptyQueue(t *testing.T) {
	q := newTestQueue(t)
	_, ok := q.PeekNext()
	assert.False(t, ok)
}

func TestPopReadyPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	q, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, q.Push(Item{ID: "a", ScheduledFor: time.Now().Add(-time.Minute)}))
	_, err = q.PopReady()
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.Len())
}
