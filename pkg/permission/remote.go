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
	"encoding/json"
	"fmt"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
)

// RemoteDecision is the payload a bridged browser reviewer posts back over
// its SSE "decision" stream when a human resolves a pending request there
// instead of through the local CLI (spec §6 "Remote client protocol").
type RemoteDecision struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
	Message   string `json:"message"`
}

// RemoteBridge subscribes to a remote review endpoint's SSE decision
// stream and applies any decisions it receives against a Gate, mirroring
// the CLI's local review loop over a network boundary.
type RemoteBridge struct {
	client *sse.Client
	gate   *Gate
	logger *zap.Logger
}

// NewRemoteBridge connects to endpoint+"/sse" and returns a bridge ready
// to Run. endpoint is a browser-hosted review relay; connection failures
// surface through Run's error return rather than here.
func NewRemoteBridge(endpoint string, gate *Gate, logger *zap.Logger) *RemoteBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := sse.NewClient(endpoint + "/sse")
	return &RemoteBridge{client: client, gate: gate, logger: logger}
}

// Run subscribes to the "decision" event stream until ctx is cancelled,
// applying each well-formed RemoteDecision against the bridge's Gate.
// Malformed payloads are logged and skipped rather than aborting the
// stream.
func (b *RemoteBridge) Run(ctx context.Context) error {
	b.client.OnDisconnect(func(c *sse.Client) {
		b.logger.Warn("permission: remote review bridge disconnected")
	})

	err := b.client.SubscribeWithContext(ctx, "decision", func(msg *sse.Event) {
		var decision RemoteDecision
		if err := json.Unmarshal(msg.Data, &decision); err != nil {
			b.logger.Warn("permission: malformed remote decision", zap.Error(err))
			return
		}
		if err := b.gate.RecordDecision(decision.RequestID, decision.Approved, "remote", decision.Message); err != nil {
			b.logger.Warn("permission: applying remote decision failed",
				zap.String("request_id", decision.RequestID), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("permission: remote review bridge: %w", err)
	}
	return nil
}
