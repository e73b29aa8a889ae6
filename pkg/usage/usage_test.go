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
package usage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "usage.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, l.Len())
}

func TestRecordTriggersSaveEverySaveInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	l, err := Load(path)
	require.NoError(t, err)

	for i := 0; i < SaveInterval-1; i++ {
		require.NoError(t, l.Record(Record{Timestamp: time.Now(), Source: SourceUser, TokensInput: 1}))
	}
	assert.NoFileExists(t, path)

	require.NoError(t, l.Record(Record{Timestamp: time.Now(), Source: SourceUser, TokensInput: 1}))
	assert.FileExists(t, path)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, SaveInterval, reloaded.Len())
}

func TestRatePerMinuteSumsWithinWindow(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "usage.json"))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, l.Record(Record{Timestamp: now.Add(-30 * time.Second), Source: SourceUser, TokensInput: 600}))
	require.NoError(t, l.Record(Record{Timestamp: now.Add(-2 * time.Hour), Source: SourceUser, TokensInput: 100000}))

	rate := l.RatePerMinute(SourceUser, time.Minute)
	assert.InDelta(t, 600.0, rate, 0.001)
}

func TestAvgTokensPerAmbientCycleEmptyReturnsFalse(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "usage.json"))
	require.NoError(t, err)

	_, ok := l.AvgTokensPerAmbientCycle(5)
	assert.False(t, ok)
}

func TestAvgTokensPerAmbientCycleUsesLastN(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "usage.json"))
	require.NoError(t, err)

	now := time.Now()
	for i, tokens := range []int{100, 200, 300, 9999} {
		require.NoError(t, l.Record(Record{
			Timestamp:   now.Add(time.Duration(i) * time.Second),
			Source:      SourceAmbient,
			TokensInput: tokens,
		}))
	}

	avg, ok := l.AvgTokensPerAmbientCycle(3)
	require.True(t, ok)
	assert.InDelta(t, (200.0+300.0+9999.0)/3.0, avg, 0.001)
}

func TestSavePrunesRecordsOlderThanPruneAge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	l, err := Load(path)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, l.Record(Record{Timestamp: now.Add(-25 * time.Hour), Source: SourceUser, TokensInput: 1}))
	require.NoError(t, l.Record(Record{Timestamp: now, Source: SourceUser, TokensInput: 1}))

	require.NoError(t, l.Save())
	assert.Equal(t, 1, l.Len())
}
