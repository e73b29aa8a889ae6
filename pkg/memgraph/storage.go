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
package memgraph

import (
	"fmt"

	"github.com/1jehuang/jcode-sub001/internal/store"
)

// diskGraph mirrors Graph's exported fields for JSON round-tripping
// without exposing the mutex to the encoder.
type diskGraph struct {
	GraphVersion int                     `json:"graph_version"`
	Memories     map[string]*Entry       `json:"memories"`
	Tags         map[string]*TagNode     `json:"tags"`
	Clusters     map[string]*ClusterNode `json:"clusters"`
	Edges        map[string][]Edge       `json:"edges"`
	ReverseEdges map[string][]string     `json:"reverse_edges,omitempty"`
	Metadata     Metadata                `json:"metadata"`
}

// Load reads the graph at path, migrating it in-memory if its stored
// version predates GraphVersion, or starting a fresh empty graph if the
// file is absent.
func Load(path string) (*Graph, error) {
	var d diskGraph
	if err := store.ReadJSONOrDefault(path, &d); err != nil {
		return nil, fmt.Errorf("memgraph: load: %w", err)
	}
	if d.Memories == nil {
		return New(), nil
	}

	g := &Graph{
		GraphVersion: d.GraphVersion,
		Memories:     d.Memories,
		Tags:         d.Tags,
		Clusters:     d.Clusters,
		Edges:        d.Edges,
		ReverseEdges: d.ReverseEdges,
		Metadata:     d.Metadata,
	}
	if g.Tags == nil {
		g.Tags = make(map[string]*TagNode)
	}
	if g.Clusters == nil {
		g.Clusters = make(map[string]*ClusterNode)
	}
	if g.Edges == nil {
		g.Edges = make(map[string][]Edge)
	}
	if g.ReverseEdges == nil {
		g.ReverseEdges = make(map[string][]string)
	}
	if !g.IsCurrentVersion() {
		g.Migrate()
	}
	return g, nil
}

// Save persists the graph to path.
func (g *Graph) Save(path string) error {
	g.mu.RLock()
	d := diskGraph{
		GraphVersion: g.GraphVersion,
		Memories:     g.Memories,
		Tags:         g.Tags,
		Clusters:     g.Clusters,
		Edges:        g.Edges,
		ReverseEdges: g.ReverseEdges,
		Metadata:     g.Metadata,
	}
	g.mu.RUnlock()
	if err := store.WriteJSON(path, d); err != nil {
		return fmt.Errorf("memgraph: save: %w", err)
	}
	return nil
}
