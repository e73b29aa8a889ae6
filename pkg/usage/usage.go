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

// Package usage maintains an append-only rolling log of token-consumption
// records tagged by source (spec §4.3), feeding the adaptive scheduler's
// rate estimates.
package usage

import (
	"sync"
	"time"

	"github.com/1jehuang/jcode-sub001/internal/log"
	"github.com/1jehuang/jcode-sub001/internal/store"
	"go.uber.org/zap"
)

// Source distinguishes foreground-user token spend from background-ambient
// token spend; the adaptive scheduler only ever projects the user's rate
// and budgets against the ambient rate.
type Source string

const (
	SourceUser    Source = "user"
	SourceAmbient Source = "ambient"
)

// Record is one observed unit of token consumption.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	Source       Source    `json:"source"`
	TokensInput  int       `json:"tokens_input"`
	TokensOutput int       `json:"tokens_output"`
	Provider     string    `json:"provider"`
}

// TotalTokens returns the record's combined input+output token count.
func (r Record) TotalTokens() int {
	return r.TokensInput + r.TokensOutput
}

// SaveInterval is how many record() calls trigger a save; PruneAge is the
// retention window applied on save. Both mirror the original source's
// UsageLog constants.
const (
	SaveInterval    = 10
	PruneAge        = 24 * time.Hour
	DefaultFileName = "usage.json"
)

// Log is an in-memory vector of usage records, periodically persisted.
type Log struct {
	mu        sync.Mutex
	path      string
	records   []Record
	sinceSave int
}

// Load reads the usage log at path, or starts empty if the file is absent.
func Load(path string) (*Log, error) {
	l := &Log{path: path}
	if err := store.ReadJSONOrDefault(path, &l.records); err != nil {
		return nil, err
	}
	return l, nil
}

// LoadDefault loads the usage log from its canonical location under the
// ambient data directory (ambient/usage.json, spec §6).
func LoadDefault() (*Log, error) {
	dir, err := store.SubDir("ambient")
	if err != nil {
		return nil, err
	}
	return Load(dir + "/" + DefaultFileName)
}

// Record appends r and saves every SaveInterval calls.
func (l *Log) Record(r Record) error {
	l.mu.Lock()
	l.records = append(l.records, r)
	l.sinceSave++
	due := l.sinceSave >= SaveInterval
	if due {
		l.sinceSave = 0
	}
	l.mu.Unlock()

	if due {
		return l.Save()
	}
	return nil
}

// RatePerMinute sums tokens for source within the last window and divides
// by the window length in minutes. Returns 0 for an empty or zero window.
func (l *Log) RatePerMinute(source Source, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	for _, r := range l.records {
		if r.Source == source && r.Timestamp.After(cutoff) {
			total += r.TotalTokens()
		}
	}
	return float64(total) / window.Minutes()
}

// AvgTokensPerAmbientCycle returns the mean total-token count of the last n
// ambient records, or (0, false) if there are none.
func (l *Log) AvgTokensPerAmbientCycle(n int) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ambient []Record
	for _, r := range l.records {
		if r.Source == SourceAmbient {
			ambient = append(ambient, r)
		}
	}
	if len(ambient) == 0 {
		return 0, false
	}
	if len(ambient) > n {
		ambient = ambient[len(ambient)-n:]
	}

	total := 0
	for _, r := range ambient {
		total += r.TotalTokens()
	}
	return float64(total) / float64(len(ambient)), true
}

// Save prunes records older than PruneAge, then writes the log to disk.
func (l *Log) Save() error {
	l.mu.Lock()
	cutoff := time.Now().Add(-PruneAge)
	kept := l.records[:0:0]
	for _, r := range l.records {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	l.records = kept
	snapshot := append([]Record(nil), l.records...)
	l.mu.Unlock()

	if err := store.WriteJSON(l.path, snapshot); err != nil {
		log.Warn("usage log save failed", zap.Error(err), zap.String("path", l.path))
		return err
	}
	return nil
}

// Len returns the number of records currently held in memory.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
