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

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightci/lightci/internal/domain"
)

type fakeGateway struct {
	mu        sync.Mutex
	pipelines []*domain.Pipeline
	active    map[string]*domain.PipelineRun
}

func newFakeGateway(pipelines ...*domain.Pipeline) *fakeGateway {
	return &fakeGateway{pipelines: pipelines, active: map[string]*domain.PipelineRun{}}
}

func (f *fakeGateway) ListScheduledPipelines(context.Context) ([]*domain.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Pipeline, len(f.pipelines))
	copy(out, f.pipelines)
	return out, nil
}

func (f *fakeGateway) FindActiveRun(_ context.Context, pipelineID string) (*domain.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[pipelineID], nil
}

func (f *fakeGateway) setActive(pipelineID string, run *domain.PipelineRun) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[pipelineID] = run
}

type fakeRunner struct {
	mu   sync.Mutex
	runs []string
}

func (f *fakeRunner) RunPipeline(_ context.Context, pipelineID, _, _, triggeredBy string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, pipelineID+":"+triggeredBy)
	return "run-" + pipelineID, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func everySecond(id string) *domain.Pipeline {
	return &domain.Pipeline{
		ID:            id,
		DefaultBranch: "main",
		Trigger:       domain.TriggerDescriptor{Cron: "* * * * *"},
	}
}

func TestStartRegistersScheduledPipelines(t *testing.T) {
	p := everySecond("p-1")
	gw := newFakeGateway(p)
	runner := &fakeRunner{}
	s := New(gw, runner)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	s.mu.Lock()
	_, ok := s.entries["p-1"]
	s.mu.Unlock()
	assert.True(t, ok)
}

func TestRegisterRejectsInvalidCronAndKeepsPreviousSchedule(t *testing.T) {
	p := everySecond("p-1")
	gw := newFakeGateway(p)
	s := New(gw, &fakeRunner{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	bad := everySecond("p-1")
	bad.Trigger.Cron = "not a cron expression"
	err := s.Register(bad)
	require.Error(t, err)

	s.mu.Lock()
	e, ok := s.entries["p-1"]
	s.mu.Unlock()
	require.True(t, ok, "the pipeline's previous schedule must survive a rejected update")
	assert.Equal(t, "* * * * *", e.pipeline.Trigger.Cron)
}

func TestUnregisterRemovesEntry(t *testing.T) {
	p := everySecond("p-1")
	gw := newFakeGateway(p)
	s := New(gw, &fakeRunner{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	s.Unregister("p-1")

	s.mu.Lock()
	_, ok := s.entries["p-1"]
	s.mu.Unlock()
	assert.False(t, ok)
}

func TestRegisterWithEmptyCronActsAsUnregister(t *testing.T) {
	p := everySecond("p-1")
	gw := newFakeGateway(p)
	s := New(gw, &fakeRunner{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	cleared := everySecond("p-1")
	cleared.Trigger.Cron = ""
	require.NoError(t, s.Register(cleared))

	s.mu.Lock()
	_, ok := s.entries["p-1"]
	s.mu.Unlock()
	assert.False(t, ok)
}

func TestFireSkipsAndCountsDropWhenRunAlreadyActive(t *testing.T) {
	p := everySecond("p-1")
	gw := newFakeGateway(p)
	gw.setActive("p-1", &domain.PipelineRun{ID: "in-flight", Status: domain.RunRunning})
	runner := &fakeRunner{}
	s := New(gw, runner)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	s.fire("p-1")

	assert.Equal(t, 0, runner.count())
	assert.Equal(t, 1, s.Stats()["p-1"])
}

func TestFireInvokesRunnerWithSystemTrigger(t *testing.T) {
	p := everySecond("p-1")
	gw := newFakeGateway(p)
	runner := &fakeRunner{}
	s := New(gw, runner)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	s.fire("p-1")

	require.Equal(t, 1, runner.count())
	assert.Equal(t, "p-1:system", runner.runs[0])
}

func TestResolveLocationDefaultsToUTC(t *testing.T) {
	loc, err := resolveLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestResolveLocationRejectsUnknownTimezone(t *testing.T) {
	_, err := resolveLocation("Not/AZone")
	assert.Error(t, err)
}
