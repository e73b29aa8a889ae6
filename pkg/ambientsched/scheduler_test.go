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
package ambientsched

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1jehuang/jcode-sub001/pkg/usage"
)

func newTestLog(t *testing.T) *usage.Log {
	t.Helper()
	l, err := usage.Load(filepath.Join(t.TempDir(), "usage.json"))
	require.NoError(t, err)
	return l
}

func intPtr(i int) *int { return &i }

func TestCalculateIntervalNoRateLimitInfoReturnsMax(t *testing.T) {
	s := New(newTestLog(t), DefaultConfig())
	got := s.CalculateInterval(nil)
	assert.Equal(t, s.config.MaxInterval, got)
}

func TestCalculateIntervalNoRemainingTokensReturnsMax(t *testing.T) {
	s := New(newTestLog(t), DefaultConfig())
	zero := 0
	reset := time.Now().Add(time.Hour)
	got := s.CalculateInterval(&RateLimitInfo{RemainingTokens: &zero, ResetAt: &reset})
	assert.Equal(t, s.config.MaxInterval, got)
}

func TestCalculateIntervalExpiredWindowReturnsMax(t *testing.T) {
	s := New(newTestLog(t), DefaultConfig())
	remaining := 500000
	reset := time.Now().Add(-time.Minute)
	got := s.CalculateInterval(&RateLimitInfo{RemainingTokens: &remaining, ResetAt: &reset})
	assert.Equal(t, s.config.MaxInterval, got)
}

// S1 — Adaptive scheduling under headroom.
func TestScenarioS1PlentyOfHeadroomReturnsFiveToTenMinutes(t *testing.T) {
	cfg := Config{MinInterval: 5 * time.Minute, MaxInterval: 120 * time.Minute, UserBudgetReserve: 0.8}
	s := New(newTestLog(t), cfg)

	remaining := 500000
	reset := time.Now().Add(time.Hour)
	got := s.CalculateInterval(&RateLimitInfo{RemainingTokens: &remaining, ResetAt: &reset})

	assert.GreaterOrEqual(t, got, 5*time.Minute)
	assert.LessOrEqual(t, got, 10*time.Minute)
}

func TestScenarioS1BackoffAtLeastDoublesAfterRateLimitHit(t *testing.T) {
	cfg := Config{MinInterval: 5 * time.Minute, MaxInterval: 120 * time.Minute, UserBudgetReserve: 0.8}
	s := New(newTestLog(t), cfg)

	remaining := 500000
	reset := time.Now().Add(time.Hour)
	info := &RateLimitInfo{RemainingTokens: &remaining, ResetAt: &reset}

	before := s.CalculateInterval(info)
	s.OnRateLimitHit()
	after := s.CalculateInterval(info)

	assert.GreaterOrEqual(t, after, before*2)
	assert.LessOrEqual(t, after, 120*time.Minute)
}

func TestBackoffResetsToOneOnSuccessfulCycle(t *testing.T) {
	s := New(newTestLog(t), DefaultConfig())
	s.OnRateLimitHit()
	s.OnRateLimitHit()
	assert.Equal(t, 4, s.backoff)

	s.OnSuccessfulCycle()
	assert.Equal(t, 1, s.backoff)
}

func TestBackoffSaturatesAtMax(t *testing.T) {
	s := New(newTestLog(t), DefaultConfig())
	for i := 0; i < 10; i++ {
		s.OnRateLimitHit()
	}
	assert.Equal(t, MaxBackoffMultiplier, s.backoff)
}

func TestShouldPauseTogglesWithUserActiveAndConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PauseOnActiveSession = true
	s := New(newTestLog(t), cfg)

	assert.False(t, s.ShouldPause())
	s.SetUserActive(true)
	assert.True(t, s.ShouldPause())

	s.SetUserActive(false)
	assert.False(t, s.ShouldPause())
}

func TestShouldPauseFalseWhenConfigDisablesPause(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PauseOnActiveSession = false
	s := New(newTestLog(t), cfg)
	s.SetUserActive(true)
	assert.False(t, s.ShouldPause())
}

// Invariant #3 — scheduler clamping.
func TestInvariantClampingHoldsAcrossInputs(t *testing.T) {
	cfg := Config{MinInterval: 5 * time.Minute, MaxInterval: 120 * time.Minute, UserBudgetReserve: 0.8}
	remainings := []int{1, 1000, 500000, 10_000_000}
	for _, r := range remainings {
		s := New(newTestLog(t), cfg)
		reset := time.Now().Add(time.Hour)
		got := s.CalculateInterval(&RateLimitInfo{RemainingTokens: intPtr(r), ResetAt: &reset})
		assert.GreaterOrEqual(t, got, cfg.MinInterval)
		assert.LessOrEqual(t, got, cfg.MaxInterval)
	}
}
