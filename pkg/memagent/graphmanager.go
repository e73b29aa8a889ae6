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
package memagent

import (
	"context"
	"fmt"
	"sort"

	"github.com/1jehuang/jcode-sub001/internal/store"
	"github.com/1jehuang/jcode-sub001/pkg/memgraph"
	"github.com/1jehuang/jcode-sub001/pkg/types"
)

// GraphManager is the default Manager: a project-scoped graph and a
// global (user-level) graph, searched project-first then global,
// matching the original source's two-tier memory store.
type GraphManager struct {
	embed       types.Embedder
	projectPath string
	globalPath  string
	project     *memgraph.Graph
	global      *memgraph.Graph
}

// NewGraphManager loads (or creates) the project and global graphs at
// the given paths.
func NewGraphManager(embed types.Embedder, projectPath, globalPath string) (*GraphManager, error) {
	project, err := memgraph.Load(projectPath)
	if err != nil {
		return nil, fmt.Errorf("memagent: load project graph: %w", err)
	}
	global, err := memgraph.Load(globalPath)
	if err != nil {
		return nil, fmt.Errorf("memagent: load global graph: %w", err)
	}
	return &GraphManager{embed: embed, projectPath: projectPath, globalPath: globalPath, project: project, global: global}, nil
}

// Project returns the project-scoped graph, for callers (e.g. the remember
// tool) that need direct graph mutation.
func (m *GraphManager) Project() *memgraph.Graph { return m.project }

// Global returns the global (user-level) graph.
func (m *GraphManager) Global() *memgraph.Graph { return m.global }

// SaveAll persists both graphs.
func (m *GraphManager) SaveAll() error {
	if err := m.project.Save(m.projectPath); err != nil {
		return err
	}
	return m.global.Save(m.globalPath)
}

// FindSimilar embeds query and scores every active memory in both graphs
// by cosine similarity, returning the ones at or above threshold, highest
// first, capped at maxHits. Entries without a cached embedding are
// skipped; FindSimilar embeds only the query, never the stored entries.
func (m *GraphManager) FindSimilar(ctx context.Context, query string, threshold float64, maxHits int) ([]memgraph.ScoredMemory, error) {
	queryEmbedding, err := m.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memagent: embed query: %w", err)
	}

	var scored []memgraph.ScoredMemory
	for _, g := range []*memgraph.Graph{m.project, m.global} {
		for _, e := range g.ActiveMemories() {
			if len(e.Embedding) == 0 {
				continue
			}
			sim := types.CosineSimilarity(queryEmbedding, e.Embedding)
			if sim >= threshold {
				scored = append(scored, memgraph.ScoredMemory{ID: e.ID, Score: sim})
			}
		}
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > maxHits {
		scored = scored[:maxHits]
	}
	return scored, nil
}

// Entry looks an id up in the project graph, falling back to global.
func (m *GraphManager) Entry(id string) (memgraph.Entry, bool) {
	if e, ok := m.project.Get(id); ok {
		return e, true
	}
	return m.global.Get(id)
}

func (m *GraphManager) graphFor(id string) (*memgraph.Graph, string, bool) {
	if _, ok := m.project.Get(id); ok {
		return m.project, m.projectPath, true
	}
	if _, ok := m.global.Get(id); ok {
		return m.global, m.globalPath, true
	}
	return nil, "", false
}

// LinkMemories adds a RelatesTo edge between from and to, which must live
// in the same graph (project or global); cross-graph links are rejected,
// matching the original source's cross-store restriction.
func (m *GraphManager) LinkMemories(from, to string, weight float64) error {
	g, path, ok := m.graphFor(from)
	if !ok {
		return fmt.Errorf("memagent: memory not found: %s", from)
	}
	if _, ok := g.Get(to); !ok {
		return fmt.Errorf("memagent: cannot link across stores: %s -> %s", from, to)
	}
	g.Link(from, to, weight)
	return g.Save(path)
}

// BoostConfidence raises the confidence of id, checking project then
// global.
func (m *GraphManager) BoostConfidence(id string, amount float64) error {
	return m.mutateConfidence(id, func(e *memgraph.Entry) { e.BoostConfidence(amount) })
}

// DecayConfidence lowers the confidence of id, checking project then
// global.
func (m *GraphManager) DecayConfidence(id string, amount float64) error {
	return m.mutateConfidence(id, func(e *memgraph.Entry) { e.DecayConfidence(amount) })
}

func (m *GraphManager) mutateConfidence(id string, fn func(*memgraph.Entry)) error {
	g, path, ok := m.graphFor(id)
	if !ok {
		return fmt.Errorf("memagent: memory not found: %s", id)
	}
	g.Mutate(id, fn)
	return g.Save(path)
}

// DefaultGraphManager constructs a GraphManager rooted at the standard
// memory subdirectory layout (memory/project.json, memory/global.json).
func DefaultGraphManager(embed types.Embedder) (*GraphManager, error) {
	dir, err := store.SubDir("memory")
	if err != nil {
		return nil, fmt.Errorf("memagent: resolve memory dir: %w", err)
	}
	return NewGraphManager(embed, dir+"/project.json", dir+"/global.json")
}
