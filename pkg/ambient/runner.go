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
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/1jehuang/jcode-sub001/internal/lock"
	"github.com/1jehuang/jcode-sub001/pkg/ambientsched"
	"github.com/1jehuang/jcode-sub001/pkg/types"
)

// endAmbientCycleTool is the tool name a cycle must call to deposit its
// CycleResult (spec §4.9.1).
const endAmbientCycleTool = "end_ambient_cycle"

// lockFileName is the ambient lock's file name under the data dir.
const lockFileName = "ambient.lock"

// SystemPromptFunc assembles the system prompt for one cycle from the
// current state and queue preview; callers wire in memory-graph health,
// recent-session digests, and feedback memories.
type SystemPromptFunc func(state State, queueLen int, preview string) string

// Runner drives the ambient loop described in spec §4.9. Construct with
// NewRunner and call Run in its own goroutine.
type Runner struct {
	provider      types.Provider
	scheduler     *ambientsched.Scheduler
	buildPrompt   SystemPromptFunc
	logger        *zap.Logger

	mu                 sync.RWMutex
	state              State
	queueLen           int
	nextPreview        string
	running            bool
	activeUserSessions int

	wake chan struct{}
}

// NewRunner constructs a Runner. provider is forked per cycle for
// isolation; scheduler supplies wake intervals and backoff.
func NewRunner(provider types.Provider, scheduler *ambientsched.Scheduler, buildPrompt SystemPromptFunc, logger *zap.Logger) (*Runner, error) {
	state, err := LoadState()
	if err != nil {
		return nil, err
	}
	return &Runner{
		provider:    provider,
		scheduler:   scheduler,
		buildPrompt: buildPrompt,
		logger:      logger,
		state:       state,
		wake:        make(chan struct{}, 1),
	}, nil
}

// Nudge wakes the loop's sleep early, coalescing with any pending nudge.
func (r *Runner) Nudge() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// SetActiveUserSessions records the number of foreground sessions, used
// for pause-on-active-session logic.
func (r *Runner) SetActiveUserSessions(count int) {
	r.mu.Lock()
	r.activeUserSessions = count
	r.mu.Unlock()
}

// State returns a snapshot of the runner's current state.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// QueueCount returns the last-observed scheduled-item queue length.
func (r *Runner) QueueCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queueLen
}

// NextQueuePreview returns the context string of the next scheduled item,
// or "" if none.
func (r *Runner) NextQueuePreview() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextPreview
}

// IsRunning reports whether the loop goroutine is currently executing.
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Trigger coerces an idle/scheduled status back to idle and nudges the
// loop, forcing should_run to pass on the next check (manual run).
func (r *Runner) Trigger() {
	r.mu.Lock()
	if r.state.Status == StatusScheduled || r.state.Status == StatusIdle {
		r.state.Status = StatusIdle
	}
	r.mu.Unlock()
	r.Nudge()
}

// Stop sets status to disabled and nudges the loop so it exits promptly.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.state.Status = StatusDisabled
	_ = r.state.Save()
	r.mu.Unlock()
	r.Nudge()
}

func (r *Runner) setState(mutate func(*State)) {
	r.mu.Lock()
	mutate(&r.state)
	r.mu.Unlock()
}

func (r *Runner) sleepOrWake(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-r.wake:
	case <-timer.C:
	}
}

// enabledFunc reports the live config's ambient.enabled flag; injected so
// the runner does not import internal/config directly (keeps the
// package testable without a viper-backed singleton).
type enabledFunc func() bool

// Run executes the loop in spec §4.9 until isEnabled() is false, the
// state is disabled, or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, isEnabled enabledFunc) {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	r.logger.Info("ambient runner: starting background loop")

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		r.logger.Info("ambient runner: loop exited")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !isEnabled() {
			r.logger.Info("ambient runner: ambient mode disabled, exiting loop")
			return
		}

		r.mu.RLock()
		status := r.state.Status
		active := r.activeUserSessions
		r.mu.RUnlock()

		if status == StatusDisabled {
			r.logger.Info("ambient runner: status is disabled, exiting loop")
			return
		}

		r.scheduler.SetUserActive(active > 0)
		if r.scheduler.ShouldPause() {
			r.setState(func(s *State) { s.Status = StatusPaused; s.PausedReason = "user session active" })
			r.sleepOrWake(60 * time.Second)
			continue
		}

		mgr, err := NewManager()
		shouldRun := false
		if err != nil {
			r.logger.Error("ambient runner: failed to load manager", zap.Error(err))
		} else {
			r.mu.Lock()
			r.queueLen = mgr.Queue().Len()
			if next, ok := mgr.Queue().PeekNext(); ok {
				r.nextPreview = next.Context
			} else {
				r.nextPreview = ""
			}
			r.mu.Unlock()
			shouldRun = mgr.ShouldRun()
		}

		if !shouldRun {
			interval := r.scheduler.CalculateInterval(nil)
			sleepSecs := interval
			if sleepSecs < 30*time.Second {
				sleepSecs = 30 * time.Second
			}
			r.logger.Info("ambient runner: not time to run", zap.Duration("sleep", sleepSecs))
			r.sleepOrWake(sleepSecs)
			continue
		}

		lockPath, err := r.lockPath()
		if err != nil {
			r.logger.Error("ambient runner: lock path", zap.Error(err))
			r.sleepOrWake(60 * time.Second)
			continue
		}
		l, acquired, err := lock.TryAcquire(lockPath)
		if err != nil {
			r.logger.Error("ambient runner: lock error", zap.Error(err))
			r.sleepOrWake(60 * time.Second)
			continue
		}
		if !acquired {
			r.logger.Info("ambient runner: another instance holds the lock, waiting")
			r.sleepOrWake(60 * time.Second)
			continue
		}

		r.setState(func(s *State) { s.Status = StatusRunning; s.RunningDetail = "starting cycle" })
		r.logger.Info("ambient runner: starting ambient cycle")

		result, cycleErr := r.runCycle(ctx)
		if cycleErr != nil {
			r.logger.Error("ambient cycle failed", zap.Error(cycleErr))
			r.scheduler.OnRateLimitHit()
			r.setState(func(s *State) { s.Status = StatusIdle })
			if err := r.state.Save(); err != nil {
				r.logger.Info("ambient runner: save state failed", zap.Error(err))
			}
		} else {
			r.logger.Info("ambient cycle complete",
				zap.Int("memories_modified", result.MemoriesModified),
				zap.Int("compactions", result.Compactions))
			if mgr != nil {
				_ = mgr.RecordCycleResult(result)
			}
			r.setState(func(s *State) { s.RecordCycle(result) })
			if err := r.state.Save(); err != nil {
				r.logger.Info("ambient runner: save state failed", zap.Error(err))
			}
			r.scheduler.OnSuccessfulCycle()
		}

		if err := l.Release(); err != nil {
			r.logger.Info("ambient runner: lock release failed", zap.Error(err))
		}

		interval := r.scheduler.CalculateInterval(nil)
		sleepSecs := interval
		if sleepSecs < 30*time.Second {
			sleepSecs = 30 * time.Second
		}
		r.setState(func(s *State) {
			if s.Status == StatusRunning || s.Status == StatusIdle {
				next := time.Now().Add(sleepSecs)
				s.Status = StatusScheduled
				s.NextWake = &next
			}
		})
		if err := r.state.Save(); err != nil {
			r.logger.Info("ambient runner: save state failed", zap.Error(err))
		}
		r.logger.Info("ambient runner: next cycle scheduled", zap.Duration("in", sleepSecs))
		r.sleepOrWake(sleepSecs)
	}
}

func (r *Runner) lockPath() (string, error) {
	dir, err := ambientDir()
	if err != nil {
		return "", err
	}
	return dir + "/" + lockFileName, nil
}

// runCycle forks the provider, assembles the system prompt, and drives
// the conversation until the cycle calls end_ambient_cycle, following
// spec §4.9.1: one continuation nudge, then a synthesized incomplete
// result if the agent still hasn't produced one.
func (r *Runner) runCycle(ctx context.Context) (CycleResult, error) {
	started := time.Now()
	cycleProvider := r.provider.Fork()

	r.mu.RLock()
	state := r.state
	queueLen := r.queueLen
	preview := r.nextPreview
	r.mu.RUnlock()

	system := r.buildPrompt(state, queueLen, preview)
	messages := []types.Message{{Role: "user", Content: "begin ambient cycle"}}

	result, err := r.driveUntilResult(ctx, cycleProvider, system, messages)
	if err != nil {
		return CycleResult{}, err
	}
	if result == nil {
		messages = append(messages,
			types.Message{Role: "assistant", Content: ""},
			types.Message{Role: "user", Content: fmt.Sprintf("You must call the %s tool to finish this cycle.", endAmbientCycleTool)},
		)
		result, err = r.driveUntilResult(ctx, cycleProvider, system, messages)
		if err != nil {
			return CycleResult{}, err
		}
	}
	if result == nil {
		result = &CycleResult{Status: CycleIncomplete}
	}

	result.StartedAt = started
	result.EndedAt = time.Now()
	return *result, nil
}

// driveUntilResult streams one provider turn and looks for an
// end_ambient_cycle tool call, parsing its accumulated input JSON into a
// CycleResult. Returns (nil, nil) if the turn ended without that call.
func (r *Runner) driveUntilResult(ctx context.Context, provider types.Provider, system string, messages []types.Message) (*CycleResult, error) {
	tools := []types.Tool{{Name: endAmbientCycleTool, Description: "Finish the current ambient cycle"}}
	events, err := provider.Complete(ctx, messages, tools, system, "")
	if err != nil {
		return nil, fmt.Errorf("ambient: provider complete: %w", err)
	}

	var building bool
	var toolInput []byte
	for ev := range events {
		switch ev.Kind {
		case types.EventError:
			return nil, ev.Err
		case types.EventToolUseStart:
			if ev.ToolName == endAmbientCycleTool {
				building = true
				toolInput = nil
			}
		case types.EventToolInputDelta:
			if building {
				toolInput = append(toolInput, []byte(ev.InputDelta)...)
			}
		case types.EventToolUseEnd:
			if building {
				var result CycleResult
				if err := json.Unmarshal(toolInput, &result); err != nil {
					return nil, fmt.Errorf("ambient: parse cycle result: %w", err)
				}
				if result.Status == "" {
					result.Status = CycleComplete
				}
				return &result, nil
			}
		}
	}
	return nil, nil
}

