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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEntry(id, content string, tags ...string) Entry {
	e := NewEntry(CategoryFact, content)
	e.ID = id
	e.Tags = tags
	return e
}

func TestNewGraphStartsEmptyAtCurrentVersion(t *testing.T) {
	g := New()
	assert.Equal(t, GraphVersion, g.GraphVersion)
	assert.Equal(t, 0, g.MemoryCount())
}

func TestAddMemory(t *testing.T) {
	g := New()
	id := g.Add(makeEntry("m1", "test content"))
	entry, ok := g.Get(id)
	require.True(t, ok)
	assert.Equal(t, "test content", entry.Content)
}

func TestAddMemoryWithTagsCreatesTagNodesAndEdges(t *testing.T) {
	g := New()
	id := g.Add(makeEntry("m1", "uses goroutines", "go", "concurrency"))

	_, ok := g.Tags["tag:go"]
	assert.True(t, ok)
	_, ok = g.Tags["tag:concurrency"]
	assert.True(t, ok)

	edges := g.GetEdges(id)
	assert.Len(t, edges, 2)
	targets := []string{edges[0].Target, edges[1].Target}
	assert.Contains(t, targets, "tag:go")
	assert.Contains(t, targets, "tag:concurrency")
}

func TestTagMemoryIsIdempotentAndUpdatesCount(t *testing.T) {
	g := New()
	id := g.Add(makeEntry("m1", "plain"))

	g.Tag(id, "newtag")
	assert.Equal(t, 1, g.Tags["tag:newtag"].Count)

	g.Tag(id, "newtag")
	assert.Equal(t, 1, g.Tags["tag:newtag"].Count)

	entry, _ := g.Get(id)
	assert.Contains(t, entry.Tags, "newtag")
}

func TestUntagMemoryRemovesEdgeAndDecrementsCount(t *testing.T) {
	g := New()
	id := g.Add(makeEntry("m1", "plain", "x"))
	assert.Equal(t, 1, g.Tags["tag:x"].Count)

	g.Untag(id, "x")
	assert.Equal(t, 0, g.Tags["tag:x"].Count)
	entry, _ := g.Get(id)
	assert.NotContains(t, entry.Tags, "x")
}

func TestSupersedeMarksOlderInactive(t *testing.T) {
	g := New()
	oldID := g.Add(makeEntry("old", "stale fact"))
	newID := g.Add(makeEntry("new", "updated fact"))

	g.Supersede(newID, oldID)

	old, _ := g.Get(oldID)
	assert.False(t, old.Active)
	assert.Equal(t, newID, old.SupersededBy)
}

func TestContradictAddsTwoWayEdges(t *testing.T) {
	g := New()
	a := g.Add(makeEntry("a", "claim A"))
	b := g.Add(makeEntry("b", "claim B"))

	g.Contradict(a, b)

	assert.Len(t, g.GetEdges(a), 1)
	assert.Equal(t, Contradicts, g.GetEdges(a)[0].Kind)
	assert.Len(t, g.GetEdges(b), 1)
	assert.Equal(t, Contradicts, g.GetEdges(b)[0].Kind)
}

func TestRemoveMemoryClearsIncidentEdgesBothWays(t *testing.T) {
	g := New()
	id := g.Add(makeEntry("m1", "content", "tagA"))
	_, ok := g.Remove(id)
	require.True(t, ok)

	assert.Equal(t, 0, g.Tags["tag:tagA"].Count)
	assert.Empty(t, g.GetEdges(id))
	assert.Empty(t, g.Incoming("tag:tagA"))
	require.NoError(t, g.ValidateAdjacency())
}

func TestLinkIncrementsMetadata(t *testing.T) {
	g := New()
	a := g.Add(makeEntry("a", "x"))
	b := g.Add(makeEntry("b", "y"))
	g.Link(a, b, 0.6)
	assert.EqualValues(t, 1, g.Metadata.LinkDiscoveryCount)
}

func TestCascadeRetrieveScoresDecayWithDepthAndNeverExceedSeed(t *testing.T) {
	g := New()
	seed := g.Add(makeEntry("seed", "origin memory", "shared"))
	hop := g.Add(makeEntry("hop", "related memory", "shared"))

	results := g.CascadeRetrieve([]string{seed}, []float64{1.0}, 3, 10)

	byID := map[string]float64{}
	for _, r := range results {
		byID[r.ID] = r.Score
	}
	require.Contains(t, byID, seed)
	require.Contains(t, byID, hop)
	assert.Equal(t, 1.0, byID[seed])
	assert.Less(t, byID[hop], byID[seed])
	assert.LessOrEqual(t, byID[hop], byID[seed])
}

func TestCascadeRetrieveEachNodeAppearsOnce(t *testing.T) {
	g := New()
	seed := g.Add(makeEntry("seed", "origin", "t1", "t2"))
	g.Add(makeEntry("m2", "shares t1", "t1"))
	g.Add(makeEntry("m3", "shares t2", "t2"))

	results := g.CascadeRetrieve([]string{seed}, []float64{1.0}, 2, 10)
	seen := map[string]bool{}
	for _, r := range results {
		assert.False(t, seen[r.ID], "duplicate result for %s", r.ID)
		seen[r.ID] = true
	}
}

func TestCascadeRetrieveTruncatesToMaxResults(t *testing.T) {
	g := New()
	seed := g.Add(makeEntry("seed", "origin", "hub"))
	for i := 0; i < 5; i++ {
		g.Add(makeEntry(string(rune('a'+i)), "member", "hub"))
	}

	results := g.CascadeRetrieve([]string{seed}, []float64{1.0}, 2, 2)
	assert.Len(t, results, 2)
}

func TestFromLegacyStoreRebuildsTagsAndSupersedesEdges(t *testing.T) {
	older := makeEntry("old", "legacy fact", "legacy")
	older.SupersededBy = "new"
	newer := makeEntry("new", "fresh fact")

	g := FromLegacyStore([]Entry{older, newer})

	assert.Equal(t, 1, g.Tags["tag:legacy"].Count)
	edges := g.GetEdges("new")
	require.Len(t, edges, 1)
	assert.Equal(t, Supersedes, edges[0].Kind)
	assert.Equal(t, "old", edges[0].Target)
}

func TestLoadAndSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	g := New()
	g.Add(makeEntry("m1", "hello", "x"))
	require.NoError(t, g.Save(path))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.MemoryCount())
	entry, ok := reloaded.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "hello", entry.Content)
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	g, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, g.MemoryCount())
}

func TestBoostAndDecayConfidenceClamp(t *testing.T) {
	e := NewEntry(CategoryFact, "x")
	e.Confidence = 0.98
	e.BoostConfidence(0.5)
	assert.Equal(t, 1.0, e.Confidence)

	e.Confidence = 0.01
	e.DecayConfidence(0.5)
	assert.Equal(t, 0.0, e.Confidence)
}
