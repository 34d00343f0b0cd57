/*
Copyright 2025 LightCI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package runlog

import "sync"

// Registry holds one Buffer per in-flight run, created lazily and
// dropped once the run finishes, so memory use tracks the in-flight-run
// set rather than the full run history (spec.md §5).
type Registry struct {
	mu      sync.Mutex
	buffers map[string]*Buffer
}

func NewRegistry() *Registry {
	return &Registry{buffers: make(map[string]*Buffer)}
}

// Get returns (creating if necessary) the buffer for runID.
func (r *Registry) Get(runID string) *Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[runID]
	if !ok {
		buf = NewBuffer(0)
		r.buffers[runID] = buf
	}
	return buf
}

// Drop discards the buffer for runID once a run reaches a terminal state.
func (r *Registry) Drop(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, runID)
}

// EventKind is a deployment lifecycle notification kind (spec.md §4.3).
type EventKind string

const (
	EventDeploymentStart    EventKind = "deployment:start"
	EventDeploymentComplete EventKind = "deployment:complete"
	EventDeploymentError    EventKind = "deployment:error"
)

// Event is a single in-process deployment notification; never persisted.
type Event struct {
	Kind    EventKind
	RunID   string
	Success bool
	Error   string
}

// EventBus fans out deployment events to subscribers (e.g. the log
// stream handler). Delivery is best-effort: a slow subscriber drops events.
type EventBus struct {
	mu          sync.Mutex
	subscribers []chan Event
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

func (b *EventBus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *EventBus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 50)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

func (b *EventBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == ch {
			close(sub)
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}
