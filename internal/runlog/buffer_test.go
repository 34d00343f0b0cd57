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

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWriteRead(t *testing.T) {
	b := NewBuffer(16)
	_, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b.Read()))
}

func TestBufferWrapsAroundSmallCapacity(t *testing.T) {
	b := NewBuffer(4)
	_, _ = b.Write([]byte("abcdef"))
	assert.Equal(t, "cdef", string(b.Read()))
}

func TestBufferSubscribeReceivesWrites(t *testing.T) {
	b := NewBuffer(0)
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	_, _ = b.Write([]byte("line1"))
	select {
	case data := <-ch:
		assert.Equal(t, "line1", string(data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber data")
	}
}

func TestRegistryGetIsLazyAndDropRemoves(t *testing.T) {
	r := NewRegistry()
	buf := r.Get("run-1")
	assert.Same(t, buf, r.Get("run-1"))

	r.Drop("run-1")
	assert.NotSame(t, buf, r.Get("run-1"))
}

func TestEventBusPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	bus.Publish(Event{Kind: EventDeploymentStart, RunID: "run-1"})
	select {
	case evt := <-ch:
		assert.Equal(t, EventDeploymentStart, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}
