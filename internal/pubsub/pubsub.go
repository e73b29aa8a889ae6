// Copyright 2026 Teradata
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
// Package pubsub provides the generic event envelope and fan-out broker
// used to notify subscribers (the safety gate's reviewers, the ambient
// runner's status watchers) without coupling publisher to subscriber.
package pubsub

import (
	"context"
	"sync"
)

// EventType represents the type of event.
type EventType int

const (
	// CreatedEvent indicates a new item was created.
	CreatedEvent EventType = iota
	// UpdatedEvent indicates an existing item was updated.
	UpdatedEvent
	// DeletedEvent indicates an item was deleted.
	DeletedEvent
)

// Event wraps a payload with the kind of change that produced it.
type Event[T any] struct {
	Type    EventType
	Payload T
}

// NewCreatedEvent creates a new "created" event.
func NewCreatedEvent[T any](payload T) Event[T] {
	return Event[T]{Type: CreatedEvent, Payload: payload}
}

// NewUpdatedEvent creates a new "updated" event.
func NewUpdatedEvent[T any](payload T) Event[T] {
	return Event[T]{Type: UpdatedEvent, Payload: payload}
}

// NewDeletedEvent creates a new "deleted" event.
func NewDeletedEvent[T any](payload T) Event[T] {
	return Event[T]{Type: DeletedEvent, Payload: payload}
}

// UpdateAvailableMsg describes a stable build newer than the running one.
// Nothing in this module publishes it: pkg/buildmgr writes
// builds/stable-version but does not watch it.
type UpdateAvailableMsg struct {
	CurrentVersion string
	LatestVersion  string
	IsDevelopment  bool
}

// subscriberBuffer is the channel capacity given to each subscriber. A slow
// subscriber drops events rather than blocking the publisher (spec §5's
// notification dispatch is non-blocking and side-channelled).
const subscriberBuffer = 64

// Broker fans a single logical event stream out to any number of
// subscribers. The zero value is not usable; use NewBroker.
type Broker[T any] struct {
	mu   sync.Mutex
	subs map[chan Event[T]]struct{}
}

// NewBroker constructs an empty Broker.
func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[chan Event[T]]struct{})}
}

// Subscribe returns a channel of events that is closed when ctx is done.
// The caller must keep draining the channel; a subscriber that falls behind
// the subscriberBuffer has new events dropped for it, not the others.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	ch := make(chan Event[T], subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish fans ev out to every live subscriber, non-blocking: a full
// subscriber channel has this event dropped for it.
func (b *Broker[T]) Publish(ev Event[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
