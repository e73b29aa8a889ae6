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

// Package types collects the external-collaborator contracts the core
// depends on but does not implement (spec §6): the LLM provider, the
// relevance-checker sidecar, the embedder, and notification channels.
// Concrete vendor SDKs and wire formats live outside this module.
package types

import (
	"context"
	"math"
)

// EventKind discriminates the shape of a streamed provider event.
type EventKind int

const (
	EventTextDelta EventKind = iota
	EventToolUseStart
	EventToolInputDelta
	EventToolUseEnd
	EventMessageEnd
	EventTokenUsage
	EventError
)

// Message is one turn in a provider conversation.
type Message struct {
	Role    string
	Content string
}

// Tool describes a callable tool surfaced to the provider.
type Tool struct {
	Name        string
	Description string
	InputSchema any
}

// Usage reports token consumption for a single provider call, the shape the
// usage log (spec §4.3) is fed from.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ProviderEvent is one item of the asynchronous event stream a Provider's
// Complete call returns.
type ProviderEvent struct {
	Kind       EventKind
	TextDelta  string
	ToolUseID  string
	ToolName   string
	InputDelta string
	StopReason string
	Usage      Usage
	Err        error
}

// Provider is the LLM provider contract consumed (not defined) by the core
// (spec §6).
type Provider interface {
	// Complete streams a response to events. The channel is closed when the
	// turn ends (successfully or with an EventError event).
	Complete(ctx context.Context, messages []Message, tools []Tool, system string, resume string) (<-chan ProviderEvent, error)
	// Fork returns an isolated handle suitable for a concurrent ambient
	// cycle, sharing credentials but not in-flight state.
	Fork() Provider
	Name() string
	Model() string
	ContextWindow() int
}

// RelevanceVerdict is the parsed two-field response of a relevance check.
type RelevanceVerdict struct {
	Relevant bool
	Reason   string
}

// ExtractedMemory is a candidate memory mined from a transcript by the
// sidecar's extraction pass.
type ExtractedMemory struct {
	Category string
	Content  string
	Trust    string
}

// Sidecar is the small, cheap LLM used for relevance checks, memory
// extraction, and contradiction checks (spec §6). Implementations must
// tolerate hundreds of milliseconds of latency per call.
type Sidecar interface {
	CheckRelevance(ctx context.Context, memoryText, context_ string) (RelevanceVerdict, error)
	ExtractMemories(ctx context.Context, transcript string) ([]ExtractedMemory, error)
	CheckContradiction(ctx context.Context, newText, existingText string) (bool, error)
}

// Embedder produces L2-normalized embedding vectors for memory similarity
// search (spec §6). Vector dimension is fixed per deployment. The embedder
// MAY be lazily loaded and idle-unloaded; EmbedderStats exposes that
// bookkeeping for callers that want to surface it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors. Returns 0 if either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// EmbedderStats surfaces the embedder cache's lazy-load/idle-unload
// bookkeeping (spec §6, SPEC_FULL.md supplemented feature), mirroring the
// original source's EmbedderCache counters.
type EmbedderStats struct {
	Loaded       bool
	LoadCount    uint64
	UnloadCount  uint64
	EmbedCalls   uint64
	EmbedFailed  uint64
	CacheHits    uint64
	AvgEmbedMs   float64
	IdleSeconds  *int64
	LoadedSecond *int64
}

// NotificationChannel is the contract for a side-channel (spec §4.6, §6):
// chat, TUI viewer, or a bridged remote client. permission.Gate does not
// use it; the gate dispatches through its own permission.Notifier.
type NotificationChannel interface {
	Send(ctx context.Context, text string) error
	IsSendEnabled() bool
	IsReplyEnabled() bool
}
