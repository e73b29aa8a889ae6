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

// Package ambient is the persisted state and scheduled-item queue for
// background cycles, plus the Manager that decides should_run and
// records cycle results (spec §4.9). The loop itself lives in runner.go.
package ambient

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/1jehuang/jcode-sub001/internal/store"
	"github.com/1jehuang/jcode-sub001/pkg/queue"
)

// Status is the ambient runner's externally-visible mode.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusScheduled Status = "scheduled"
	StatusPaused    Status = "paused"
	StatusDisabled  Status = "disabled"
)

// State is the persisted snapshot of the runner's mode and last cycle.
type State struct {
	Status               Status     `json:"status"`
	RunningDetail         string     `json:"running_detail,omitempty"`
	NextWake              *time.Time `json:"next_wake,omitempty"`
	PausedReason          string     `json:"paused_reason,omitempty"`
	LastRun               *time.Time `json:"last_run,omitempty"`
	LastSummary           string     `json:"last_summary,omitempty"`
	LastCompactions       *int       `json:"last_compactions,omitempty"`
	LastMemoriesModified  *int       `json:"last_memories_modified,omitempty"`
	TotalCycles           uint64     `json:"total_cycles"`
}

// CycleStatus is the terminal outcome of one ambient cycle.
type CycleStatus string

const (
	CycleComplete    CycleStatus = "complete"
	CycleInterrupted CycleStatus = "interrupted"
	CycleIncomplete  CycleStatus = "incomplete"
)

// ScheduleRequest asks the manager to enqueue a follow-up item, either at
// an absolute time or N minutes from now (WakeAt takes precedence).
type ScheduleRequest struct {
	WakeInMinutes *int           `json:"wake_in_minutes,omitempty"`
	WakeAt        *time.Time     `json:"wake_at,omitempty"`
	Context       string         `json:"context"`
	Priority      queue.Priority `json:"priority"`
}

// CycleResult is what a cycle deposits into the shared slot when it
// calls its "end_ambient_cycle" tool (spec §4.9.1).
type CycleResult struct {
	Summary          string           `json:"summary"`
	MemoriesModified int              `json:"memories_modified"`
	Compactions      int              `json:"compactions"`
	ProactiveWork    string           `json:"proactive_work,omitempty"`
	NextSchedule     *ScheduleRequest `json:"next_schedule,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	EndedAt          time.Time        `json:"ended_at"`
	Status           CycleStatus      `json:"status"`
}

func defaultWakeMinutes() int { return 30 }

// RecordCycle updates State from result: bumps counters and derives the
// next status from the cycle's terminal status and optional schedule
// request.
func (s *State) RecordCycle(result CycleResult) {
	ended := result.EndedAt
	s.LastRun = &ended
	s.LastSummary = result.Summary
	compactions := result.Compactions
	s.LastCompactions = &compactions
	modified := result.MemoriesModified
	s.LastMemoriesModified = &modified
	s.TotalCycles++

	switch result.Status {
	case CycleComplete:
		if result.NextSchedule != nil {
			next := result.NextSchedule.WakeAt
			if next == nil {
				minutes := defaultWakeMinutes()
				if result.NextSchedule.WakeInMinutes != nil {
					minutes = *result.NextSchedule.WakeInMinutes
				}
				t := time.Now().Add(time.Duration(minutes) * time.Minute)
				next = &t
			}
			s.Status = StatusScheduled
			s.NextWake = next
		} else {
			s.Status = StatusIdle
			s.NextWake = nil
		}
	default:
		s.Status = StatusIdle
		s.NextWake = nil
	}
}

func ambientDir() (string, error) { return store.SubDir("ambient") }

func statePath() (string, error) {
	dir, err := ambientDir()
	if err != nil {
		return "", err
	}
	return dir + "/state.json", nil
}

func queuePath() (string, error) {
	dir, err := ambientDir()
	if err != nil {
		return "", err
	}
	return dir + "/queue.json", nil
}

// LoadState reads the persisted state, defaulting to an idle state if
// absent.
func LoadState() (State, error) {
	path, err := statePath()
	if err != nil {
		return State{}, err
	}
	var s State
	if err := store.ReadJSONOrDefault(path, &s); err != nil {
		return State{}, fmt.Errorf("ambient: load state: %w", err)
	}
	if s.Status == "" {
		s.Status = StatusIdle
	}
	return s, nil
}

// Save persists s.
func (s State) Save() error {
	path, err := statePath()
	if err != nil {
		return err
	}
	return store.WriteJSON(path, s)
}

// Manager ties together the persisted state and scheduled-item queue,
// and decides whether a cycle should run right now.
type Manager struct {
	state State
	queue *queue.Queue
}

// NewManager loads state and queue from the standard ambient directory.
func NewManager() (*Manager, error) {
	if _, err := ambientDir(); err != nil {
		return nil, err
	}
	state, err := LoadState()
	if err != nil {
		return nil, err
	}
	qp, err := queuePath()
	if err != nil {
		return nil, err
	}
	q, err := queue.Load(qp)
	if err != nil {
		return nil, fmt.Errorf("ambient: load queue: %w", err)
	}
	return &Manager{state: state, queue: q}, nil
}

// State returns the manager's current state snapshot.
func (m *Manager) State() State { return m.state }

// Queue returns the manager's scheduled-item queue.
func (m *Manager) Queue() *queue.Queue { return m.queue }

// ShouldRun reports whether a cycle should run now: the caller is
// expected to have already checked the config-level enabled flag.
func (m *Manager) ShouldRun() bool {
	switch m.state.Status {
	case StatusDisabled, StatusPaused, StatusRunning:
		return false
	case StatusIdle:
		return true
	case StatusScheduled:
		return m.state.NextWake != nil && !time.Now().Before(*m.state.NextWake)
	default:
		return false
	}
}

// RecordCycleResult updates and persists state from result, and enqueues
// any follow-up schedule request it carries.
func (m *Manager) RecordCycleResult(result CycleResult) error {
	m.state.RecordCycle(result)
	if err := m.state.Save(); err != nil {
		return fmt.Errorf("ambient: save state: %w", err)
	}
	if result.NextSchedule != nil {
		if _, err := m.Schedule(*result.NextSchedule); err != nil {
			return err
		}
	}
	return nil
}

// Schedule enqueues request as a new queue.Item and returns its id.
func (m *Manager) Schedule(request ScheduleRequest) (string, error) {
	id := "sched_" + uuid.NewString()[:8]
	scheduledFor := request.WakeAt
	if scheduledFor == nil {
		minutes := defaultWakeMinutes()
		if request.WakeInMinutes != nil {
			minutes = *request.WakeInMinutes
		}
		t := time.Now().Add(time.Duration(minutes) * time.Minute)
		scheduledFor = &t
	}

	item := queue.Item{
		ID:           id,
		ScheduledFor: *scheduledFor,
		Context:      request.Context,
		Priority:     request.Priority,
		CreatedAt:    time.Now(),
	}
	if err := m.queue.Push(item); err != nil {
		return "", fmt.Errorf("ambient: schedule: %w", err)
	}
	return id, nil
}
