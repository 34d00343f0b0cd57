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

// Package runlog holds the process-wide, in-memory state the Runner
// and Deployer use for live log streaming and fire-and-forget event
// notifications (spec.md §5/§6): a circular buffer per active run, and
// a deployment-event subscriber set. Neither is durable.
package runlog

import "sync"

// MaxBufferSize is the default per-run buffer capacity (10MB).
const MaxBufferSize = 10 * 1024 * 1024

// Buffer is a thread-safe circular buffer for one run's combined log
// stream, with channel subscribers for live tailing.
type Buffer struct {
	mu          sync.RWMutex
	data        []byte
	size        int
	writePos    int
	wrapped     bool
	subscribers []chan []byte
}

// NewBuffer creates a circular buffer with the given capacity, or
// MaxBufferSize if size<=0.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = MaxBufferSize
	}
	return &Buffer{data: make([]byte, size), size: size}
}

// Write appends data, overwriting the oldest bytes once full, and fans
// it out to every live subscriber without blocking on a slow consumer.
func (b *Buffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(data)
	if n == 0 {
		return 0, nil
	}

	dataCopy := make([]byte, n)
	copy(dataCopy, data)
	for _, ch := range b.subscribers {
		select {
		case ch <- dataCopy:
		default:
		}
	}

	if n >= b.size {
		copy(b.data, data[n-b.size:])
		b.writePos = 0
		b.wrapped = true
		return n, nil
	}

	for i := 0; i < n; i++ {
		b.data[b.writePos] = data[i]
		b.writePos++
		if b.writePos >= b.size {
			b.writePos = 0
			b.wrapped = true
		}
	}
	return n, nil
}

// Read returns everything currently retained in the buffer, oldest first.
func (b *Buffer) Read() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.wrapped {
		result := make([]byte, b.writePos)
		copy(result, b.data[:b.writePos])
		return result
	}

	result := make([]byte, b.size)
	copy(result, b.data[b.writePos:])
	copy(result[b.size-b.writePos:], b.data[:b.writePos])
	return result
}

// Subscribe returns a channel that receives each subsequent Write's payload.
func (b *Buffer) Subscribe() <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []byte, 100)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *Buffer) Unsubscribe(ch <-chan []byte) {
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

// Len returns the number of bytes currently retained.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.wrapped {
		return b.writePos
	}
	return b.size
}
