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

// Package memgraph is the typed, JSON-serializable graph backing the
// memory agent: memory nodes, tag nodes, cluster nodes, and the edges
// between them, plus BFS cascade retrieval (spec §4.7).
package memgraph

import (
	"container/list"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// GraphVersion is the current on-disk format. Loading an older document
// triggers in-memory migration (re-deriving tag/Supersedes edges) before
// the version field is bumped on next save.
const GraphVersion = 2

// MemoryCategory classifies a memory entry's content.
type MemoryCategory string

const (
	CategoryFact       MemoryCategory = "fact"
	CategoryPreference MemoryCategory = "preference"
	CategoryEntity     MemoryCategory = "entity"
	CategoryCorrection MemoryCategory = "correction"
	CategoryFreeform   MemoryCategory = "freeform"
)

// TrustLevel is an operator-facing confidence band, distinct from the
// numeric Confidence field.
type TrustLevel string

const (
	TrustHigh   TrustLevel = "high"
	TrustMedium TrustLevel = "medium"
	TrustLow    TrustLevel = "low"
)

// Entry is one memory node. If Active is false, SupersededBy must name an
// existing active entry (spec §3).
type Entry struct {
	ID                  string         `json:"id"`
	Category            MemoryCategory `json:"category"`
	Content             string         `json:"content"`
	Tags                []string       `json:"tags"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	AccessCount         int            `json:"access_count"`
	Trust               TrustLevel     `json:"trust"`
	ConsolidationStrength int          `json:"consolidation_strength"`
	Active              bool           `json:"active"`
	SupersededBy        string         `json:"superseded_by,omitempty"`
	Confidence          float64        `json:"confidence"`
	Source              string         `json:"source,omitempty"`
	// Embedding is the cached vector for similarity search. Set by the
	// caller that embeds the entry; this package never computes it
	// (omitted from JSON when empty).
	Embedding []float32 `json:"embedding,omitempty"`
}

// NewEntry constructs an active entry with default confidence and trust.
func NewEntry(category MemoryCategory, content string) Entry {
	now := time.Now()
	return Entry{
		Category:   category,
		Content:    content,
		CreatedAt:  now,
		UpdatedAt:  now,
		Trust:      TrustMedium,
		Active:     true,
		Confidence: 0.5,
	}
}

// Touch records an access: bumps AccessCount and UpdatedAt.
func (e *Entry) Touch() {
	e.AccessCount++
	e.UpdatedAt = time.Now()
}

// BoostConfidence raises Confidence by amount, clamped to [0, 1].
func (e *Entry) BoostConfidence(amount float64) {
	e.Confidence = math.Min(1, e.Confidence+amount)
	e.UpdatedAt = time.Now()
}

// DecayConfidence lowers Confidence by amount, floored at 0.
func (e *Entry) DecayConfidence(amount float64) {
	e.Confidence = math.Max(0, e.Confidence-amount)
	e.UpdatedAt = time.Now()
}

// EdgeKind names the relationship a graph edge expresses.
type EdgeKind string

const (
	HasTag     EdgeKind = "has_tag"
	InCluster  EdgeKind = "in_cluster"
	RelatesTo  EdgeKind = "relates_to"
	Supersedes EdgeKind = "supersedes"
	Contradicts EdgeKind = "contradicts"
	DerivedFrom EdgeKind = "derived_from"
)

// defaultTraversalWeight is used for kinds with a fixed weight; RelatesTo
// carries its own weight on the Edge instead.
var defaultTraversalWeight = map[EdgeKind]float64{
	HasTag:      0.8,
	InCluster:   0.6,
	Supersedes:  0.9,
	Contradicts: 0.3,
	DerivedFrom: 0.7,
}

// Edge is a directed relationship from one node id to another.
type Edge struct {
	Target string   `json:"target"`
	Kind   EdgeKind `json:"kind"`
	// Weight applies only to RelatesTo edges; other kinds use their fixed
	// traversal weight.
	Weight float64 `json:"weight,omitempty"`
}

// TraversalWeight returns the BFS scoring weight for this edge.
func (e Edge) TraversalWeight() float64 {
	if e.Kind == RelatesTo {
		if e.Weight == 0 {
			return 1.0
		}
		return e.Weight
	}
	return defaultTraversalWeight[e.Kind]
}

// TagNode is an explicit organizational tag, with its incidence count.
type TagNode struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Count       int       `json:"count"`
	CreatedAt   time.Time `json:"created_at"`
}

func tagID(name string) string { return "tag:" + name }

// ClusterNode is an auto-discovered grouping of related memories.
type ClusterNode struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Centroid    []float32 `json:"centroid,omitempty"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Metadata tracks graph-wide counters surfaced in ambient cycle summaries.
type Metadata struct {
	LastClusterUpdate  *time.Time `json:"last_cluster_update,omitempty"`
	RetrievalCount     uint64     `json:"retrieval_count"`
	LinkDiscoveryCount uint64     `json:"link_discovery_count"`
}

// Graph is the full memory graph: nodes plus forward/reverse adjacency.
// Zero value is not usable; construct with New.
type Graph struct {
	mu sync.RWMutex

	GraphVersion int                     `json:"graph_version"`
	Memories     map[string]*Entry       `json:"memories"`
	Tags         map[string]*TagNode     `json:"tags"`
	Clusters     map[string]*ClusterNode `json:"clusters"`
	Edges        map[string][]Edge       `json:"edges"`
	ReverseEdges map[string][]string     `json:"reverse_edges,omitempty"`
	Metadata     Metadata                `json:"metadata"`
}

// New creates an empty graph at the current version.
func New() *Graph {
	return &Graph{
		GraphVersion: GraphVersion,
		Memories:     make(map[string]*Entry),
		Tags:         make(map[string]*TagNode),
		Clusters:     make(map[string]*ClusterNode),
		Edges:        make(map[string][]Edge),
		ReverseEdges: make(map[string][]string),
	}
}

// MemoryCount reports the number of memory nodes.
func (g *Graph) MemoryCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.Memories)
}

// NodeCount reports memories + tags + clusters.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.Memories) + len(g.Tags) + len(g.Clusters)
}

// EdgeCount reports the total number of forward edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, es := range g.Edges {
		n += len(es)
	}
	return n
}

func (g *Graph) addEdgeLocked(from, to string, kind EdgeKind, weight float64) {
	g.Edges[from] = append(g.Edges[from], Edge{Target: to, Kind: kind, Weight: weight})
	g.ReverseEdges[to] = append(g.ReverseEdges[to], from)
}

// Add inserts entry, creating tag nodes and HasTag edges for its tags,
// and a Supersedes edge from SupersededBy to this entry when set.
func (g *Graph) Add(entry Entry) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := entry.ID
	for _, tagName := range entry.Tags {
		g.ensureTagLocked(tagName)
		tid := tagID(tagName)
		g.addEdgeLocked(id, tid, HasTag, 0)
		g.Tags[tid].Count++
	}
	if entry.SupersededBy != "" {
		g.addEdgeLocked(entry.SupersededBy, id, Supersedes, 0)
	}

	e := entry
	g.Memories[id] = &e
	return id
}

// Get returns a copy of the memory entry with id, if present.
func (g *Graph) Get(id string) (Entry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.Memories[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Mutate applies fn to the stored entry with id under the write lock and
// returns true. If the id does not exist, Mutate returns false without
// calling fn.
func (g *Graph) Mutate(id string, fn func(*Entry)) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.Memories[id]
	if !ok {
		return false
	}
	fn(e)
	return true
}

// Remove deletes the entry with id and all incident edges (both
// directions), decrementing tag counts for any HasTag edges removed.
func (g *Graph) Remove(id string) (Entry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if edges, ok := g.Edges[id]; ok {
		for _, edge := range edges {
			g.ReverseEdges[edge.Target] = removeString(g.ReverseEdges[edge.Target], id)
			if edge.Kind == HasTag {
				if tag, ok := g.Tags[edge.Target]; ok && tag.Count > 0 {
					tag.Count--
				}
			}
		}
		delete(g.Edges, id)
	}
	if sources, ok := g.ReverseEdges[id]; ok {
		for _, src := range sources {
			g.Edges[src] = removeEdgeTo(g.Edges[src], id)
		}
		delete(g.ReverseEdges, id)
	}

	e, ok := g.Memories[id]
	if !ok {
		return Entry{}, false
	}
	delete(g.Memories, id)
	return *e, true
}

// AllMemories returns a snapshot of every memory entry.
func (g *Graph) AllMemories() []Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Entry, 0, len(g.Memories))
	for _, e := range g.Memories {
		out = append(out, *e)
	}
	return out
}

// ActiveMemories returns a snapshot of entries with Active == true.
func (g *Graph) ActiveMemories() []Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Entry, 0, len(g.Memories))
	for _, e := range g.Memories {
		if e.Active {
			out = append(out, *e)
		}
	}
	return out
}

func (g *Graph) ensureTagLocked(name string) *TagNode {
	tid := tagID(name)
	if t, ok := g.Tags[tid]; ok {
		return t
	}
	t := &TagNode{ID: tid, Name: name, CreatedAt: time.Now()}
	g.Tags[tid] = t
	return t
}

// EnsureTag creates the tag node for name if absent and returns it.
func (g *Graph) EnsureTag(name string) TagNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.ensureTagLocked(name)
}

// Tag attaches tagName to memoryID: idempotent, keeps the entry's Tags
// field and the tag's Count in sync.
func (g *Graph) Tag(memoryID, tagName string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureTagLocked(tagName)
	tid := tagID(tagName)

	for _, e := range g.Edges[memoryID] {
		if e.Target == tid && e.Kind == HasTag {
			return
		}
	}

	g.addEdgeLocked(memoryID, tid, HasTag, 0)
	g.Tags[tid].Count++

	if entry, ok := g.Memories[memoryID]; ok && !containsString(entry.Tags, tagName) {
		entry.Tags = append(entry.Tags, tagName)
	}
}

// Untag removes tagName from memoryID: idempotent.
func (g *Graph) Untag(memoryID, tagName string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tid := tagID(tagName)
	g.Edges[memoryID] = removeEdgeToKind(g.Edges[memoryID], tid, HasTag)
	g.ReverseEdges[tid] = removeString(g.ReverseEdges[tid], memoryID)
	if tag, ok := g.Tags[tid]; ok && tag.Count > 0 {
		tag.Count--
	}
	if entry, ok := g.Memories[memoryID]; ok {
		entry.Tags = removeString(entry.Tags, tagName)
	}
}

// MemoriesByTag returns every memory entry carrying tagName.
func (g *Graph) MemoriesByTag(tagName string) []Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tid := tagID(tagName)
	var out []Entry
	for _, src := range g.ReverseEdges[tid] {
		if e, ok := g.Memories[src]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// AddEdge adds a from->to edge of kind, a no-op if an identical edge
// (same target and kind) already exists.
func (g *Graph) AddEdge(from, to string, kind EdgeKind, weight float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.Edges[from] {
		if e.Target == to && e.Kind == kind {
			return
		}
	}
	g.addEdgeLocked(from, to, kind, weight)
}

// Link adds a RelatesTo edge with the given weight and counts it in
// metadata's link-discovery tally.
func (g *Graph) Link(from, to string, weight float64) {
	g.AddEdge(from, to, RelatesTo, weight)
	g.mu.Lock()
	g.Metadata.LinkDiscoveryCount++
	g.mu.Unlock()
}

// Supersede adds a Supersedes edge from newer to older and marks older
// inactive, pointing its SupersededBy at newer.
func (g *Graph) Supersede(newerID, olderID string) {
	g.AddEdge(newerID, olderID, Supersedes, 0)
	g.mu.Lock()
	if e, ok := g.Memories[olderID]; ok {
		e.Active = false
		e.SupersededBy = newerID
	}
	g.mu.Unlock()
}

// Contradict adds two-way Contradicts edges between a and b.
func (g *Graph) Contradict(a, b string) {
	g.AddEdge(a, b, Contradicts, 0)
	g.AddEdge(b, a, Contradicts, 0)
}

// GetEdges returns a copy of the outgoing edges from nodeID.
func (g *Graph) GetEdges(nodeID string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.Edges[nodeID]...)
}

// Incoming returns the ids of nodes with an edge pointing at nodeID.
func (g *Graph) Incoming(nodeID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.ReverseEdges[nodeID]...)
}

type frontierEntry struct {
	id    string
	score float64
	depth int
}

// CascadeRetrieve runs a BFS from seedIDs/seedScores (same length, paired
// by index) through the graph, scoring each reached memory by
// score*edge.weight*0.7^depth, and returns the top maxResults pairs
// sorted by score descending. Seeds must already be memory ids present in
// the graph; non-memory seeds are ignored (spec §4.7).
func (g *Graph) CascadeRetrieve(seedIDs []string, seedScores []float64, maxDepth, maxResults int) []ScoredMemory {
	g.mu.Lock()
	g.Metadata.RetrievalCount++
	g.mu.Unlock()

	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool)
	results := make(map[string]float64)
	queue := list.New()

	for i, id := range seedIDs {
		if _, ok := g.Memories[id]; !ok {
			continue
		}
		score := seedScores[i]
		queue.PushBack(frontierEntry{id: id, score: score, depth: 0})
		if existing, ok := results[id]; !ok || score > existing {
			results[id] = score
		}
	}

	for queue.Len() > 0 {
		front := queue.Remove(queue.Front()).(frontierEntry)
		if visited[front.id] {
			continue
		}
		visited[front.id] = true
		if front.depth >= maxDepth {
			continue
		}

		decay := math.Pow(0.7, float64(front.depth+1))
		for _, edge := range g.Edges[front.id] {
			if visited[edge.Target] {
				continue
			}
			newScore := front.score * edge.TraversalWeight() * decay

			if strings.HasPrefix(edge.Target, "tag:") {
				for _, sourceID := range g.ReverseEdges[edge.Target] {
					if visited[sourceID] {
						continue
					}
					if _, ok := g.Memories[sourceID]; !ok {
						continue
					}
					if existing, ok := results[sourceID]; !ok || newScore > existing {
						results[sourceID] = newScore
						queue.PushBack(frontierEntry{id: sourceID, score: newScore, depth: front.depth + 1})
					}
				}
				continue
			}

			if _, ok := g.Memories[edge.Target]; ok {
				if existing, ok := results[edge.Target]; !ok || newScore > existing {
					results[edge.Target] = newScore
					queue.PushBack(frontierEntry{id: edge.Target, score: newScore, depth: front.depth + 1})
				}
			}
		}
	}

	sorted := make([]ScoredMemory, 0, len(results))
	for id, score := range results {
		sorted = append(sorted, ScoredMemory{ID: id, Score: score})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ID < sorted[j].ID
	})
	if len(sorted) > maxResults {
		sorted = sorted[:maxResults]
	}
	return sorted
}

// ScoredMemory pairs a memory id with its cascade-retrieval score.
type ScoredMemory struct {
	ID    string
	Score float64
}

// FromLegacyStore builds a Graph from a flat list of entries (the
// pre-graph storage format), re-deriving tag nodes, HasTag edges, and
// Supersedes edges exactly as Add would for each entry.
func FromLegacyStore(entries []Entry) *Graph {
	g := New()
	for _, entry := range entries {
		id := entry.ID
		e := entry
		g.Memories[id] = &e
		for _, tagName := range entry.Tags {
			g.ensureTagLocked(tagName)
			tid := tagID(tagName)
			g.addEdgeLocked(id, tid, HasTag, 0)
			g.Tags[tid].Count++
		}
		if entry.SupersededBy != "" {
			g.addEdgeLocked(entry.SupersededBy, id, Supersedes, 0)
		}
	}
	return g
}

// IsCurrentVersion reports whether the loaded graph is at GraphVersion,
// i.e. needs no migration.
func (g *Graph) IsCurrentVersion() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.GraphVersion == GraphVersion
}

// Migrate re-derives tag/HasTag/Supersedes edges from each entry's fields
// and bumps the version. Safe to call on an already-current graph (it is
// idempotent: an edge is added only when no edge of that kind to that
// target exists yet).
func (g *Graph) Migrate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, entry := range g.Memories {
		for _, tagName := range entry.Tags {
			g.ensureTagLocked(tagName)
			tid := tagID(tagName)
			found := false
			for _, e := range g.Edges[id] {
				if e.Target == tid && e.Kind == HasTag {
					found = true
					break
				}
			}
			if !found {
				g.addEdgeLocked(id, tid, HasTag, 0)
				g.Tags[tid].Count++
			}
		}
		if entry.SupersededBy != "" {
			found := false
			for _, e := range g.Edges[entry.SupersededBy] {
				if e.Target == id && e.Kind == Supersedes {
					found = true
					break
				}
			}
			if !found {
				g.addEdgeLocked(entry.SupersededBy, id, Supersedes, 0)
			}
		}
	}
	g.GraphVersion = GraphVersion
}

func removeString(s []string, target string) []string {
	out := s[:0:0]
	for _, v := range s {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

func containsString(s []string, target string) bool {
	for _, v := range s {
		if v == target {
			return true
		}
	}
	return false
}

func removeEdgeTo(edges []Edge, target string) []Edge {
	out := edges[:0:0]
	for _, e := range edges {
		if e.Target != target {
			out = append(out, e)
		}
	}
	return out
}

func removeEdgeToKind(edges []Edge, target string, kind EdgeKind) []Edge {
	out := edges[:0:0]
	for _, e := range edges {
		if !(e.Target == target && e.Kind == kind) {
			out = append(out, e)
		}
	}
	return out
}

// ValidateAdjacency reports an error describing the first
// forward/reverse-adjacency inconsistency found, or nil if the graph's
// invariant holds (spec §3). Intended for tests and diagnostics, not the
// hot path.
func (g *Graph) ValidateAdjacency() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for from, edges := range g.Edges {
		for _, e := range edges {
			if !containsString(g.ReverseEdges[e.Target], from) {
				return fmt.Errorf("memgraph: edge %s->%s missing reverse entry", from, e.Target)
			}
		}
	}
	for to, sources := range g.ReverseEdges {
		for _, from := range sources {
			found := false
			for _, e := range g.Edges[from] {
				if e.Target == to {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("memgraph: reverse entry %s->%s missing forward edge", from, to)
			}
		}
	}
	return nil
}
