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

// Package memagent runs the long-lived background task that watches the
// foreground conversation, retrieves candidate memories from the memory
// graph, verifies them with the sidecar, and surfaces the relevant ones
// to the next system message (spec §4.8).
package memagent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/1jehuang/jcode-sub001/internal/pubsub"
	"github.com/1jehuang/jcode-sub001/pkg/memgraph"
	"github.com/1jehuang/jcode-sub001/pkg/types"
)

// ContextChannelCapacity bounds the inbox of context updates; a full
// channel drops new updates rather than blocking the foreground session.
const ContextChannelCapacity = 16

// TopicChangeThreshold is the cosine-similarity floor below which a new
// context is treated as a topic change, clearing the surfaced-memory set.
const TopicChangeThreshold = 0.3

// MaxMemoriesPerTurn bounds how many candidates are sidecar-checked and
// surfaced in a single turn.
const MaxMemoriesPerTurn = 5

// TurnResetInterval clears the surfaced-memory set every N turns to allow
// re-surfacing of memories that are still relevant later.
const TurnResetInterval = 50

// EmbeddingSimilarityThreshold is the floor cosine similarity for a
// candidate to be considered during embedding search.
const EmbeddingSimilarityThreshold = 0.5

// EmbeddingMaxHits bounds how many embedding-similar candidates are
// pulled before sidecar filtering.
const EmbeddingMaxHits = 10

const (
	maxRecentMessages = 12
	maxContextChars   = 8000
	maxMessageChars   = 1200
)

// ActivityKind is the agent's externally-visible processing state.
type ActivityKind string

const (
	ActivityIdle            ActivityKind = "idle"
	ActivityEmbedding       ActivityKind = "embedding"
	ActivitySidecarChecking ActivityKind = "sidecar_checking"
	ActivityFoundRelevant   ActivityKind = "found_relevant"
)

// Activity is the agent's current state, with a count for the two kinds
// that carry one (sidecar_checking, found_relevant).
type Activity struct {
	Kind  ActivityKind
	Count int
}

// PendingMemory is the shared slot the foreground session reads from
// before assembling its next system message.
type PendingMemory struct {
	Prompt string
	Count  int
}

// Manager is the storage dependency memagent needs: similarity search
// over the active memory graph(s) and confidence/link mutation, without
// committing memagent to a single-graph or project/global split.
type Manager interface {
	FindSimilar(ctx context.Context, query string, threshold float64, maxHits int) ([]memgraph.ScoredMemory, error)
	Entry(id string) (memgraph.Entry, bool)
	LinkMemories(from, to string, weight float64) error
	BoostConfidence(id string, amount float64) error
	DecayConfidence(id string, amount float64) error
}

// Message is one turn of foreground conversation fed to the agent.
type Message = types.Message

type agentMessage struct {
	kind      agentMessageKind
	messages  []Message
	timestamp time.Time
}

type agentMessageKind int

const (
	msgContext agentMessageKind = iota
	msgReset
)

// Handle is the caller-facing API: send context updates or a reset,
// non-blocking from the foreground session's perspective.
type Handle struct {
	tx chan agentMessage
}

// UpdateContext sends a context update; it never blocks the caller. If
// the agent's inbox is full, the update is dropped (memory retrieval is
// best-effort, never load-bearing for the foreground turn).
func (h *Handle) UpdateContext(messages []Message) {
	select {
	case h.tx <- agentMessage{kind: msgContext, messages: messages, timestamp: time.Now()}:
	default:
	}
}

// Reset clears all agent state, e.g. at the start of a new session.
func (h *Handle) Reset() {
	select {
	case h.tx <- agentMessage{kind: msgReset}:
	default:
	}
}

// Agent is the background task's state. Construct with New and start
// with Run in its own goroutine.
type Agent struct {
	rx      chan agentMessage
	sidecar types.Sidecar
	embed   types.Embedder
	manager Manager
	logger  *zap.Logger

	mu                  sync.Mutex
	lastContextEmbedding []float32
	surfaced            map[string]struct{}
	turnCount           int
	activity            Activity
	pending             PendingMemory

	events *pubsub.Broker[Activity]
}

// New constructs an Agent and its Handle. Call Run(ctx) on the Agent in
// its own goroutine, and use the Handle from the foreground session.
func New(sidecar types.Sidecar, embed types.Embedder, manager Manager, logger *zap.Logger) (*Agent, *Handle) {
	rx := make(chan agentMessage, ContextChannelCapacity)
	a := &Agent{
		rx:       rx,
		sidecar:  sidecar,
		embed:    embed,
		manager:  manager,
		logger:   logger,
		surfaced: make(map[string]struct{}),
		activity: Activity{Kind: ActivityIdle},
		events:   pubsub.NewBroker[Activity](),
	}
	return a, &Handle{tx: rx}
}

// Events returns a broker of activity-state transitions for UI surfaces.
func (a *Agent) Events() *pubsub.Broker[Activity] {
	return a.events
}

// PendingMemory returns the current shared memory-prompt slot.
func (a *Agent) PendingMemory() PendingMemory {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

func (a *Agent) setActivity(act Activity) {
	a.mu.Lock()
	a.activity = act
	a.mu.Unlock()
	a.events.Publish(pubsub.NewUpdatedEvent(act))
}

// Activity returns the agent's current processing state.
func (a *Agent) Activity() Activity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activity
}

// Run drains the inbox until ctx is cancelled. Intended to be the body of
// a single long-lived goroutine.
func (a *Agent) Run(ctx context.Context) {
	a.logger.Info("memory agent started")
	defer a.logger.Info("memory agent stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.rx:
			switch msg.kind {
			case msgReset:
				a.reset()
			case msgContext:
				a.turnCount++
				if a.turnCount%TurnResetInterval == 0 {
					a.mu.Lock()
					cleared := len(a.surfaced)
					a.surfaced = make(map[string]struct{})
					a.mu.Unlock()
					a.logger.Info("memory agent periodic reset",
						zap.Int("turn", a.turnCount), zap.Int("cleared", cleared))
				}
				if err := a.processContext(ctx, msg.messages); err != nil {
					a.logger.Info("memory agent error", zap.Error(err))
				}
			}
		}
	}
}

func (a *Agent) reset() {
	a.logger.Info("memory agent reset: clearing all state")
	a.mu.Lock()
	a.lastContextEmbedding = nil
	a.surfaced = make(map[string]struct{})
	a.turnCount = 0
	a.pending = PendingMemory{}
	a.mu.Unlock()
}

// formatContext renders the last ≤12 messages, each truncated to
// ≈1200 characters, concatenated and bounded to ≈8000 characters total.
func formatContext(messages []Message) string {
	if len(messages) > maxRecentMessages {
		messages = messages[len(messages)-maxRecentMessages:]
	}
	var b strings.Builder
	for _, m := range messages {
		content := m.Content
		if len(content) > maxMessageChars {
			content = content[:maxMessageChars]
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, content)
		if b.Len() >= maxContextChars {
			break
		}
	}
	out := b.String()
	if len(out) > maxContextChars {
		out = out[:maxContextChars]
	}
	return out
}

type retrievalContext struct {
	embedding      []float32
	verifiedIDs    []string
	rejectedIDs    []string
	contextSnippet string
}

func (a *Agent) processContext(ctx context.Context, messages []Message) error {
	context_ := formatContext(messages)
	if context_ == "" {
		return nil
	}

	a.setActivity(Activity{Kind: ActivityEmbedding})

	contextEmbedding, err := a.embed.Embed(ctx, context_)
	if err != nil {
		a.logger.Info("embedding failed", zap.Error(err))
		a.setActivity(Activity{Kind: ActivityIdle})
		return nil
	}

	a.mu.Lock()
	last := a.lastContextEmbedding
	a.lastContextEmbedding = contextEmbedding
	a.mu.Unlock()

	if last != nil {
		similarity := types.CosineSimilarity(contextEmbedding, last)
		if similarity < TopicChangeThreshold {
			a.logger.Info("topic change detected, resetting surfaced set", zap.Float64("similarity", similarity))
			a.mu.Lock()
			a.surfaced = make(map[string]struct{})
			a.mu.Unlock()
		}
	}

	candidates, err := a.manager.FindSimilar(ctx, context_, EmbeddingSimilarityThreshold, EmbeddingMaxHits)
	if err != nil {
		return fmt.Errorf("memagent: find similar: %w", err)
	}
	if len(candidates) == 0 {
		a.setActivity(Activity{Kind: ActivityIdle})
		return nil
	}

	a.mu.Lock()
	var fresh []memgraph.ScoredMemory
	for _, c := range candidates {
		if _, seen := a.surfaced[c.ID]; !seen {
			fresh = append(fresh, c)
		}
	}
	a.mu.Unlock()
	if len(fresh) == 0 {
		a.setActivity(Activity{Kind: ActivityIdle})
		return nil
	}

	a.setActivity(Activity{Kind: ActivitySidecarChecking, Count: len(fresh)})

	candidateIDs := make([]string, len(fresh))
	for i, c := range fresh {
		candidateIDs[i] = c.ID
	}

	relevant := a.evaluateCandidates(ctx, context_, fresh)

	verifiedIDs := make([]string, len(relevant))
	for i, e := range relevant {
		verifiedIDs[i] = e.ID
	}
	verifiedSet := make(map[string]struct{}, len(verifiedIDs))
	for _, id := range verifiedIDs {
		verifiedSet[id] = struct{}{}
	}
	var rejectedIDs []string
	for _, id := range candidateIDs {
		if _, ok := verifiedSet[id]; !ok {
			rejectedIDs = append(rejectedIDs, id)
		}
	}

	snippet := context_
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	rc := retrievalContext{
		embedding:      contextEmbedding,
		verifiedIDs:    verifiedIDs,
		rejectedIDs:    rejectedIDs,
		contextSnippet: snippet,
	}

	if len(relevant) > 0 {
		var b strings.Builder
		b.WriteString("# Relevant Memory\n\n")
		a.mu.Lock()
		for _, e := range relevant {
			fmt.Fprintf(&b, "- %s\n", e.Content)
			a.surfaced[e.ID] = struct{}{}
		}
		a.pending = PendingMemory{Prompt: b.String(), Count: len(relevant)}
		a.mu.Unlock()
		a.setActivity(Activity{Kind: ActivityFoundRelevant, Count: len(relevant)})
	} else {
		a.setActivity(Activity{Kind: ActivityIdle})
	}

	go a.postRetrievalMaintenance(rc)
	return nil
}

// evaluateCandidates asks the sidecar, one goroutine per candidate up to
// MaxMemoriesPerTurn, whether each candidate is relevant to context.
func (a *Agent) evaluateCandidates(ctx context.Context, context_ string, candidates []memgraph.ScoredMemory) []memgraph.Entry {
	if len(candidates) > MaxMemoriesPerTurn {
		candidates = candidates[:MaxMemoriesPerTurn]
	}

	type outcome struct {
		entry    memgraph.Entry
		verdict  types.RelevanceVerdict
		err      error
	}

	results := make([]outcome, len(candidates))
	var wg sync.WaitGroup
	for i, c := range candidates {
		entry, ok := a.manager.Entry(c.ID)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(i int, entry memgraph.Entry) {
			defer wg.Done()
			verdict, err := a.sidecar.CheckRelevance(ctx, entry.Content, context_)
			results[i] = outcome{entry: entry, verdict: verdict, err: err}
		}(i, entry)
	}
	wg.Wait()

	var relevant []memgraph.Entry
	for _, r := range results {
		if r.err != nil {
			a.logger.Info("sidecar relevance check failed", zap.Error(r.err))
			continue
		}
		if r.entry.ID == "" {
			continue
		}
		if r.verdict.Relevant {
			relevant = append(relevant, r.entry)
		}
		if len(relevant) >= MaxMemoriesPerTurn {
			break
		}
	}
	return relevant
}

const linkDiscoveryWeight = 0.6
const confidenceBoost = 0.05
const confidenceDecay = 0.02

func (a *Agent) postRetrievalMaintenance(rc retrievalContext) {
	if len(rc.verifiedIDs) >= 2 {
		sorted := append([]string(nil), rc.verifiedIDs...)
		sort.Strings(sorted)
		for i := 0; i < len(sorted); i++ {
			for j := i + 1; j < len(sorted); j++ {
				if err := a.manager.LinkMemories(sorted[i], sorted[j], linkDiscoveryWeight); err != nil {
					a.logger.Info("link discovery failed", zap.String("from", sorted[i]), zap.String("to", sorted[j]), zap.Error(err))
				}
			}
		}
	}

	for _, id := range rc.verifiedIDs {
		if err := a.manager.BoostConfidence(id, confidenceBoost); err != nil {
			a.logger.Info("confidence boost failed", zap.String("id", id), zap.Error(err))
		}
	}
	for _, id := range rc.rejectedIDs {
		if err := a.manager.DecayConfidence(id, confidenceDecay); err != nil {
			a.logger.Info("confidence decay failed", zap.String("id", id), zap.Error(err))
		}
	}

	if len(rc.verifiedIDs) == 0 && len(rc.rejectedIDs) > 0 {
		a.logger.Info("memory gap detected",
			zap.Int("candidates", len(rc.rejectedIDs)),
			zap.String("context", rc.contextSnippet))
	}
}
