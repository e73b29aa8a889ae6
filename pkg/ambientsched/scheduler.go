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

// Package ambientsched maps current rate-limit headroom, historical user
// rate, and cycle cost to a next-wake interval for the ambient runner
// (spec §4.4), with exponential backoff on throttling.
package ambientsched

import (
	"sync"
	"time"

	"github.com/1jehuang/jcode-sub001/pkg/usage"
)

// MaxBackoffMultiplier caps the saturating power-of-two backoff.
const MaxBackoffMultiplier = 64

// DefaultTokensPerCycle is used when no ambient-cycle history exists yet.
const DefaultTokensPerCycle = 10000

// Config holds the scheduler's tunables (spec §4.4).
type Config struct {
	MinInterval          time.Duration
	MaxInterval          time.Duration
	PauseOnActiveSession bool
	// UserBudgetReserve is the fraction of remaining tokens reserved for
	// the user, in [0, 1).
	UserBudgetReserve float64
}

// DefaultConfig matches the original source's defaults.
func DefaultConfig() Config {
	return Config{
		MinInterval:          5 * time.Minute,
		MaxInterval:          120 * time.Minute,
		PauseOnActiveSession: true,
		UserBudgetReserve:    0.8,
	}
}

// RateLimitInfo is the provider's current rate-limit headroom, if known.
type RateLimitInfo struct {
	LimitTokens     *int
	RemainingTokens *int
	LimitRequests   *int
	RemainingReq    *int
	ResetAt         *time.Time
}

// Scheduler is the adaptive wake-interval calculator. The zero value is not
// usable; construct with New.
type Scheduler struct {
	mu         sync.Mutex
	usageLog   *usage.Log
	config     Config
	backoff    int
	userActive bool
}

// New constructs a Scheduler backed by usageLog.
func New(usageLog *usage.Log, config Config) *Scheduler {
	return &Scheduler{
		usageLog: usageLog,
		config:   config,
		backoff:  1,
	}
}

// SetUserActive records whether a foreground session is currently active.
func (s *Scheduler) SetUserActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userActive = active
}

// ShouldPause reports whether the runner should pause rather than run a
// cycle: configured to pause on active sessions, and one currently is.
func (s *Scheduler) ShouldPause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.PauseOnActiveSession && s.userActive
}

// OnRateLimitHit doubles the backoff multiplier, saturating at
// MaxBackoffMultiplier.
func (s *Scheduler) OnRateLimitHit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoff *= 2
	if s.backoff > MaxBackoffMultiplier {
		s.backoff = MaxBackoffMultiplier
	}
}

// OnSuccessfulCycle resets the backoff multiplier to 1.
func (s *Scheduler) OnSuccessfulCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoff = 1
}

func (s *Scheduler) clamp(d time.Duration) time.Duration {
	if d < s.config.MinInterval {
		return s.config.MinInterval
	}
	if d > s.config.MaxInterval {
		return s.config.MaxInterval
	}
	return d
}

// CalculateInterval produces the duration until the next ambient wake,
// following spec §4.4's seven-step algorithm exactly.
func (s *Scheduler) CalculateInterval(info *RateLimitInfo) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxWithBackoff := func() time.Duration {
		return s.clamp(s.config.MaxInterval * time.Duration(s.backoff))
	}

	// Step 1: no headroom signal at all.
	if info == nil || info.RemainingTokens == nil || *info.RemainingTokens <= 0 {
		return maxWithBackoff()
	}
	if info.ResetAt == nil {
		return maxWithBackoff()
	}

	// Step 2: window_remaining.
	windowRemaining := time.Until(*info.ResetAt)
	if windowRemaining <= 0 {
		return maxWithBackoff()
	}

	// Step 3: project user consumption for the rest of the window.
	userRate := s.usageLog.RatePerMinute(usage.SourceUser, time.Hour)
	userProjected := userRate * windowRemaining.Minutes()

	// Step 4: ambient budget.
	ambientBudget := (float64(*info.RemainingTokens) - userProjected) * (1 - s.config.UserBudgetReserve)
	if ambientBudget <= 0 {
		return maxWithBackoff()
	}

	// Step 5: tokens per cycle.
	tokensPerCycle, ok := s.usageLog.AvgTokensPerAmbientCycle(5)
	if !ok || tokensPerCycle <= 0 {
		tokensPerCycle = DefaultTokensPerCycle
	}

	// Step 6: cycles available, interval.
	cyclesAvailable := ambientBudget / tokensPerCycle
	if cyclesAvailable <= 0 {
		return maxWithBackoff()
	}
	interval := time.Duration(windowRemaining.Minutes() / cyclesAvailable * float64(time.Minute))

	// Step 7: clamp, apply backoff, clamp again.
	interval = s.clamp(interval)
	interval *= time.Duration(s.backoff)
	return s.clamp(interval)
}
