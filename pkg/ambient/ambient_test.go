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
package ambient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1jehuang/jcode-sub001/pkg/queue"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	t.Setenv("JCODE_DATA_DIR", t.TempDir())
	mgr, err := NewManager()
	require.NoError(t, err)
	return mgr
}

func TestRecordCycleCompleteWithScheduleSetsScheduled(t *testing.T) {
	var s State
	s.Status = StatusRunning
	next := time.Now().Add(10 * time.Minute)
	s.RecordCycle(CycleResult{
		Status:           CycleComplete,
		Summary:          "did some work",
		MemoriesModified: 2,
		EndedAt:          time.Now(),
		NextSchedule:     &ScheduleRequest{WakeAt: &next, Context: "follow up"},
	})
	assert.Equal(t, StatusScheduled, s.Status)
	require.NotNil(t, s.NextWake)
	assert.WithinDuration(t, next, *s.NextWake, time.Second)
	assert.Equal(t, uint64(1), s.TotalCycles)
	assert.Equal(t, "did some work", s.LastSummary)
}

func TestRecordCycleCompleteWithoutScheduleGoesIdle(t *testing.T) {
	var s State
	s.Status = StatusRunning
	s.RecordCycle(CycleResult{Status: CycleComplete, EndedAt: time.Now()})
	assert.Equal(t, StatusIdle, s.Status)
	assert.Nil(t, s.NextWake)
}

func TestRecordCycleIncompleteGoesIdle(t *testing.T) {
	var s State
	s.Status = StatusRunning
	s.RecordCycle(CycleResult{Status: CycleIncomplete, EndedAt: time.Now()})
	assert.Equal(t, StatusIdle, s.Status)
}

func TestRecordCycleUsesDefaultWakeMinutesWhenNoAbsoluteTime(t *testing.T) {
	var s State
	before := time.Now()
	s.RecordCycle(CycleResult{
		Status:       CycleComplete,
		EndedAt:      time.Now(),
		NextSchedule: &ScheduleRequest{Context: "later"},
	})
	require.NotNil(t, s.NextWake)
	assert.True(t, s.NextWake.After(before.Add(20*time.Minute)))
}

func TestShouldRunDisabledPausedRunningAreFalse(t *testing.T) {
	for _, st := range []Status{StatusDisabled, StatusPaused, StatusRunning} {
		m := &Manager{state: State{Status: st}, queue: &queue.Queue{}}
		assert.False(t, m.ShouldRun(), "status %s", st)
	}
}

func TestShouldRunIdleIsTrue(t *testing.T) {
	m := &Manager{state: State{Status: StatusIdle}}
	assert.True(t, m.ShouldRun())
}

func TestShouldRunScheduledDependsOnNextWake(t *testing.T) {
	future := time.Now().Add(time.Hour)
	m := &Manager{state: State{Status: StatusScheduled, NextWake: &future}}
	assert.False(t, m.ShouldRun())

	past := time.Now().Add(-time.Minute)
	m2 := &Manager{state: State{Status: StatusScheduled, NextWake: &past}}
	assert.True(t, m2.ShouldRun())
}

func TestManagerScheduleEnqueuesItem(t *testing.T) {
	mgr := newTestManager(t)
	minutes := 5
	id, err := mgr.Schedule(ScheduleRequest{WakeInMinutes: &minutes, Context: "check in", Priority: queue.PriorityHigh})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, mgr.Queue().Len())
}

func TestManagerRecordCycleResultPersistsAndSchedulesFollowUp(t *testing.T) {
	mgr := newTestManager(t)
	next := time.Now().Add(time.Hour)
	err := mgr.RecordCycleResult(CycleResult{
		Status:       CycleComplete,
		EndedAt:      time.Now(),
		NextSchedule: &ScheduleRequest{WakeAt: &next, Context: "resume"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, mgr.State().Status)
	assert.Equal(t, 1, mgr.Queue().Len())

	reloaded, err := LoadState()
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, reloaded.Status)
}

func TestLoadStateDefaultsToIdle(t *testing.T) {
	t.Setenv("JCODE_DATA_DIR", t.TempDir())
	s, err := LoadState()
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, s.Status)
}
