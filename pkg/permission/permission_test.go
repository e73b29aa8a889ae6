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
package permission

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1jehuang/jcode-sub001/internal/store"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	t.Setenv(store.EnvDataDir, t.TempDir())
	g, err := New(nil)
	require.NoError(t, err)
	return g
}

func TestClassifyAutoAllowed(t *testing.T) {
	for _, action := range []string{"read", "glob", "grep", "ls", "memory", "remember",
		"todowrite", "todoread", "conversation_search", "session_search", "codesearch"} {
		assert.Equal(t, TierAutoAllowed, Classify(action), action)
	}
}

func TestClassifyRequiresPermission(t *testing.T) {
	for _, action := range []string{"bash", "write", "edit", "multiedit", "patch",
		"apply_patch", "communicate", "webfetch", "websearch", "unknown_tool"} {
		assert.Equal(t, TierRequiresPermission, Classify(action), action)
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	assert.Equal(t, TierAutoAllowed, Classify("Read"))
	assert.Equal(t, TierAutoAllowed, Classify("GLOB"))
	assert.Equal(t, TierRequiresPermission, Classify("Bash"))
}

func TestRequestPermissionQueuesAndEmitsEvent(t *testing.T) {
	g := newTestGate(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := g.Events().Subscribe(ctx)

	req := Request{ID: "req_test_1", Action: "create_pull_request", Description: "Create PR", CreatedAt: time.Now()}
	result, err := g.RequestPermission(req)
	require.NoError(t, err)
	assert.Equal(t, ResultQueued, result.Kind)
	assert.Equal(t, "req_test_1", result.RequestID)
	assert.Len(t, g.PendingRequests(), 1)

	select {
	case ev := <-sub:
		assert.Equal(t, "req_test_1", ev.Payload.ID)
	default:
		t.Fatal("expected a published event")
	}
}

func TestRecordDecisionRemovesFromQueue(t *testing.T) {
	g := newTestGate(t)
	req := Request{ID: "req_test_2", Action: "push", Description: "Push to origin", CreatedAt: time.Now()}
	_, err := g.RequestPermission(req)
	require.NoError(t, err)
	require.Len(t, g.PendingRequests(), 1)

	require.NoError(t, g.RecordDecision("req_test_2", true, "cli", "looks good"))
	assert.Empty(t, g.PendingRequests())
}

func TestLogActionAndSummary(t *testing.T) {
	g := newTestGate(t)
	g.LogAction(ActionLog{ActionType: "memory_consolidation", Description: "Merged 2 duplicate memories", Tier: TierAutoAllowed, Timestamp: time.Now()})
	g.LogAction(ActionLog{ActionType: "edit", Description: "Fixed typo in README", Tier: TierRequiresPermission, Timestamp: time.Now()})

	summary := g.GenerateSummary()
	assert.True(t, strings.Contains(summary, "memory_consolidation"))
	assert.True(t, strings.Contains(summary, "edit"))
	assert.True(t, strings.Contains(summary, "Done (auto-allowed)"))
	assert.True(t, strings.Contains(summary, "Done (with permission)"))
}

func TestEmptySummary(t *testing.T) {
	g := newTestGate(t)
	assert.Equal(t, "No actions recorded.", g.GenerateSummary())
}

func TestNewRequestIDFormat(t *testing.T) {
	id := NewRequestID()
	assert.True(t, strings.HasPrefix(id, "req_"))
}

func TestRecordDecisionViaFileRemovesPendingRequest(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(store.EnvDataDir, dir)

	g, err := New(nil)
	require.NoError(t, err)
	req := Request{ID: "req_file_test", Action: "push", Description: "Push to origin", CreatedAt: time.Now()}
	_, err = g.RequestPermission(req)
	require.NoError(t, err)
	require.Len(t, g.PendingRequests(), 1)

	require.NoError(t, RecordDecisionViaFile("req_file_test", true, "email_reply", ""))

	g2, err := New(nil)
	require.NoError(t, err)
	for _, r := range g2.PendingRequests() {
		assert.NotEqual(t, "req_file_test", r.ID)
	}
}

func TestResetActionsClearsLog(t *testing.T) {
	g := newTestGate(t)
	g.LogAction(ActionLog{ActionType: "read", Description: "read a file", Tier: TierAutoAllowed, Timestamp: time.Now()})
	g.ResetActions()
	assert.Equal(t, "No actions recorded.", g.GenerateSummary())
}
