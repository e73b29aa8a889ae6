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

// Package permission is the safety gate: it classifies ambient actions
// into auto-allowed and requires-permission tiers, queues the latter for
// out-of-band review, and records the resulting decisions (spec §4.6).
package permission

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1jehuang/jcode-sub001/internal/pubsub"
	"github.com/1jehuang/jcode-sub001/internal/store"
)

// ActionTier classifies an action by whether it needs a human decision.
type ActionTier string

const (
	TierAutoAllowed        ActionTier = "auto_allowed"
	TierRequiresPermission ActionTier = "requires_permission"
)

// Urgency is a reviewer-facing hint about how quickly a request needs
// attention; it does not affect queue ordering on its own.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// autoAllowed is the tier-1 action allowlist. Matching is case-insensitive.
var autoAllowed = map[string]struct{}{
	"read":                {},
	"glob":                {},
	"grep":                {},
	"ls":                  {},
	"memory":              {},
	"remember":            {},
	"todowrite":           {},
	"todoread":            {},
	"conversation_search": {},
	"session_search":      {},
	"codesearch":          {},
}

// Request is a single permission ask raised by an ambient cycle.
type Request struct {
	ID          string         `json:"id"`
	Action      string         `json:"action"`
	Description string         `json:"description"`
	Rationale   string         `json:"rationale"`
	Urgency     Urgency        `json:"urgency"`
	Wait        bool           `json:"wait"`
	CreatedAt   time.Time      `json:"created_at"`
	Context     map[string]any `json:"context,omitempty"`
}

// ResultKind distinguishes the outcomes request submission can produce.
type ResultKind string

const (
	ResultApproved ResultKind = "approved"
	ResultDenied   ResultKind = "denied"
	ResultQueued   ResultKind = "queued"
	ResultTimeout  ResultKind = "timeout"
)

// Result is the outcome of submitting a Request.
type Result struct {
	Kind      ResultKind
	Message   string
	RequestID string
}

// Decision records how and when a queued Request was resolved.
type Decision struct {
	RequestID string    `json:"request_id"`
	Approved  bool      `json:"approved"`
	DecidedAt time.Time `json:"decided_at"`
	DecidedVia string   `json:"decided_via"`
	Message   string    `json:"message,omitempty"`
}

// ActionLog is an append-only record of one action taken during a cycle,
// auto-allowed or permitted, for transcript/summary assembly.
type ActionLog struct {
	ActionType  string         `json:"action_type"`
	Description string         `json:"description"`
	Tier        ActionTier     `json:"tier"`
	Details     map[string]any `json:"details,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// TranscriptStatus is the terminal state of one ambient cycle's transcript.
type TranscriptStatus string

const (
	TranscriptComplete    TranscriptStatus = "complete"
	TranscriptInterrupted TranscriptStatus = "interrupted"
	TranscriptIncomplete  TranscriptStatus = "incomplete"
)

// Transcript is the persisted record of one ambient cycle's conversation
// and actions, used for notification and audit.
type Transcript struct {
	SessionID         string           `json:"session_id"`
	StartedAt         time.Time        `json:"started_at"`
	EndedAt           *time.Time       `json:"ended_at,omitempty"`
	Status            TranscriptStatus `json:"status"`
	Provider          string           `json:"provider"`
	Model             string           `json:"model"`
	Actions           []ActionLog      `json:"actions"`
	PendingPermissions int             `json:"pending_permissions"`
	Summary           string           `json:"summary,omitempty"`
	Compactions       int              `json:"compactions"`
	MemoriesModified  int              `json:"memories_modified"`
	Conversation      string           `json:"conversation,omitempty"`
}

// Notifier dispatches a high-priority notice that a request needs review.
// Implementations live outside this package (e.g. an email/SMS channel);
// a nil Notifier is valid and simply skips dispatch.
type Notifier interface {
	NotifyPermissionRequest(action, description, requestID string) error
}

// Gate is the safety gate: the in-memory queue of pending requests, the
// decision history, and the current cycle's action log, all persisted
// under the data directory so a restart does not lose pending reviews.
type Gate struct {
	mu       sync.Mutex
	dataDir  string
	queue    []Request
	history  []Decision
	actions  []ActionLog
	notifier Notifier
	events   *pubsub.Broker[Request]
}

// New loads a Gate's persisted queue and history from disk, creating an
// empty gate if nothing has been persisted yet.
func New(notifier Notifier) (*Gate, error) {
	dir, err := store.SubDir("safety")
	if err != nil {
		return nil, fmt.Errorf("permission: resolve data dir: %w", err)
	}
	g := &Gate{
		dataDir:  dir,
		notifier: notifier,
		events:   pubsub.NewBroker[Request](),
	}
	if err := store.ReadJSONOrDefault(g.queuePath(), &g.queue); err != nil {
		return nil, fmt.Errorf("permission: load queue: %w", err)
	}
	if err := store.ReadJSONOrDefault(g.historyPath(), &g.history); err != nil {
		return nil, fmt.Errorf("permission: load history: %w", err)
	}
	return g, nil
}

func (g *Gate) queuePath() string   { return g.dataDir + "/queue.json" }
func (g *Gate) historyPath() string { return g.dataDir + "/history.json" }

// Classify reports an action's tier by case-insensitive name lookup.
func Classify(action string) ActionTier {
	if _, ok := autoAllowed[strings.ToLower(action)]; ok {
		return TierAutoAllowed
	}
	return TierRequiresPermission
}

// NewRequestID generates a request identifier of the form
// "req_<timestamp>_<random>" (spec §3).
func NewRequestID() string {
	return fmt.Sprintf("req_%d_%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// Events returns the broker that publishes newly queued requests to
// UI/CLI reviewers.
func (g *Gate) Events() *pubsub.Broker[Request] {
	return g.events
}

// RequestPermission enqueues req for review and returns ResultQueued. The
// caller's Action must already have been classified as requiring
// permission; Gate does not re-check the tier.
func (g *Gate) RequestPermission(req Request) (Result, error) {
	g.mu.Lock()
	g.queue = append(g.queue, req)
	queueSnapshot := append([]Request(nil), g.queue...)
	g.mu.Unlock()

	if err := store.WriteJSON(g.queuePath(), queueSnapshot); err != nil {
		return Result{}, fmt.Errorf("permission: persist queue: %w", err)
	}
	g.events.Publish(pubsub.NewCreatedEvent(req))

	if g.notifier != nil {
		_ = g.notifier.NotifyPermissionRequest(req.Action, req.Description, req.ID)
	}
	return Result{Kind: ResultQueued, RequestID: req.ID}, nil
}

// RecordDecision removes requestID from the pending queue and appends a
// Decision to history. It is valid to call this for a request that is no
// longer queued (idempotent re-delivery from an external poller).
func (g *Gate) RecordDecision(requestID string, approved bool, via, message string) error {
	g.mu.Lock()
	remaining := g.queue[:0:0]
	for _, r := range g.queue {
		if r.ID != requestID {
			remaining = append(remaining, r)
		}
	}
	g.queue = remaining
	queueSnapshot := append([]Request(nil), g.queue...)

	decision := Decision{
		RequestID:  requestID,
		Approved:   approved,
		DecidedAt:  time.Now(),
		DecidedVia: via,
		Message:    message,
	}
	g.history = append(g.history, decision)
	historySnapshot := append([]Decision(nil), g.history...)
	g.mu.Unlock()

	if err := store.WriteJSON(g.queuePath(), queueSnapshot); err != nil {
		return fmt.Errorf("permission: persist queue: %w", err)
	}
	if err := store.WriteJSON(g.historyPath(), historySnapshot); err != nil {
		return fmt.Errorf("permission: persist history: %w", err)
	}
	return nil
}

// PendingRequests returns a copy of the currently queued requests.
func (g *Gate) PendingRequests() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Request(nil), g.queue...)
}

// LogAction appends an entry to the in-memory action log for the current
// cycle. The log is not persisted directly; it feeds GenerateSummary and
// the cycle's Transcript.
func (g *Gate) LogAction(entry ActionLog) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actions = append(g.actions, entry)
}

// ResetActions clears the in-memory action log, called at the start of
// each ambient cycle.
func (g *Gate) ResetActions() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actions = nil
}

// GenerateSummary renders the current cycle's actions and pending
// requests as a short human-readable report.
func (g *Gate) GenerateSummary() string {
	g.mu.Lock()
	actions := append([]ActionLog(nil), g.actions...)
	g.mu.Unlock()
	pending := g.PendingRequests()

	if len(actions) == 0 && len(pending) == 0 {
		return "No actions recorded."
	}

	var lines []string
	var auto, perm []ActionLog
	for _, a := range actions {
		if a.Tier == TierAutoAllowed {
			auto = append(auto, a)
		} else {
			perm = append(perm, a)
		}
	}

	if len(auto) > 0 {
		lines = append(lines, "Done (auto-allowed):")
		for _, a := range auto {
			lines = append(lines, fmt.Sprintf("- %s — %s", a.ActionType, a.Description))
		}
	}
	if len(perm) > 0 {
		lines = append(lines, "", "Done (with permission):")
		for _, a := range perm {
			lines = append(lines, fmt.Sprintf("- %s — %s", a.ActionType, a.Description))
		}
	}
	if len(pending) > 0 {
		lines = append(lines, "", "Needs your review:")
		for _, r := range pending {
			lines = append(lines, fmt.Sprintf("- [%s] %s — %s", r.Urgency, r.Action, r.Description))
		}
	}
	return strings.Join(lines, "\n")
}

// SaveTranscript persists t under ambient/transcripts/<started_at>.json.
func (g *Gate) SaveTranscript(t Transcript) error {
	dir, err := store.SubDir("ambient", "transcripts")
	if err != nil {
		return fmt.Errorf("permission: resolve transcript dir: %w", err)
	}
	filename := t.StartedAt.Format("2006-01-02-150405")
	path := fmt.Sprintf("%s/%s.json", dir, filename)
	return store.WriteJSON(path, t)
}

// RecordDecisionViaFile applies a decision directly against the queue and
// history files on disk, for callers (e.g. an external reply poller) that
// have no live Gate instance. It re-reads and re-writes both files so it
// is safe to call from a separate process than the running daemon, at the
// usual best-effort JSON-file consistency (spec §4.1): concurrent writers
// can race, but each write is atomic.
func RecordDecisionViaFile(requestID string, approved bool, via, message string) error {
	dir, err := store.SubDir("safety")
	if err != nil {
		return fmt.Errorf("permission: resolve data dir: %w", err)
	}
	queuePath := dir + "/queue.json"
	historyPath := dir + "/history.json"

	var queue []Request
	if err := store.ReadJSONOrDefault(queuePath, &queue); err != nil {
		return fmt.Errorf("permission: load queue: %w", err)
	}
	remaining := queue[:0:0]
	for _, r := range queue {
		if r.ID != requestID {
			remaining = append(remaining, r)
		}
	}
	if err := store.WriteJSON(queuePath, remaining); err != nil {
		return fmt.Errorf("permission: persist queue: %w", err)
	}

	var history []Decision
	if err := store.ReadJSONOrDefault(historyPath, &history); err != nil {
		return fmt.Errorf("permission: load history: %w", err)
	}
	history = append(history, Decision{
		RequestID:  requestID,
		Approved:   approved,
		DecidedAt:  time.Now(),
		DecidedVia: via,
		Message:    message,
	})
	return store.WriteJSON(historyPath, history)
}
