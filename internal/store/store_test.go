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
package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteJSONThenReadJSONRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "sample.json")

	want := sample{Name: "alpha", Count: 3}
	require.NoError(t, WriteJSON(path, want))

	var got sample
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, want, got)
}

func TestWriteJSONLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")
	require.NoError(t, WriteJSON(path, sample{Name: "a"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sample.json", entries[0].Name())
}

func TestReadJSONOrDefaultMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	var got sample
	err := ReadJSONOrDefault(filepath.Join(dir, "missing.json"), &got)
	require.NoError(t, err)
	assert.Equal(t, sample{}, got)
}

func TestReadJSONMalformedIsAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var got sample
	err := ReadJSON(path, &got)
	require.Error(t, err)
}

func TestRootRespectsEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)

	root, err := Root()
	require.NoError(t, err)
	assert.Equal(t, dir, root)
}

func TestSubDirCreatesNestedPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)

	sub, err := SubDir("ambient", "transcripts")
	require.NoError(t, err)
	assert.DirExists(t, sub)
	assert.Equal(t, filepath.Join(dir, "ambient", "transcripts"), sub)
}
