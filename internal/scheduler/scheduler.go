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

// Package scheduler is the Scheduler: it keeps a cron registry in sync
// with pipelines that carry a schedule, and fires the Runner's
// runPipeline entry point on a synthetic "system" trigger, per spec.md
// §4.6.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron"

	"github.com/lightci/lightci/internal/domain"
)

const systemTriggeredBy = "system"

// Gateway is the narrow persistence surface the Scheduler depends on.
type Gateway interface {
	ListScheduledPipelines(ctx context.Context) ([]*domain.Pipeline, error)
	FindActiveRun(ctx context.Context, pipelineID string) (*domain.PipelineRun, error)
}

// Runner is the subset of internal/runner the Scheduler drives.
type Runner interface {
	RunPipeline(ctx context.Context, pipelineID, branch, commit, triggeredBy string) (string, error)
}

// entry is the Scheduler's own record of a pipeline's desired schedule.
// robfig/cron v1 has no way to remove a single job from a running
// *cron.Cron, so the Scheduler keeps its own registry and rebuilds the
// underlying cron instance whenever that registry changes.
type entry struct {
	pipeline *domain.Pipeline
	schedule cron.Schedule
}

// Scheduler owns one cron job per scheduled pipeline and reconciles on
// pipeline create/update/delete notifications.
type Scheduler struct {
	gw     Gateway
	runner Runner

	mu       sync.Mutex
	cron     *cron.Cron
	started  bool
	entries  map[string]entry
	dropped  map[string]int
}

// New constructs a Scheduler; call Start to enumerate scheduled
// pipelines and begin firing jobs.
func New(gw Gateway, runner Runner) *Scheduler {
	return &Scheduler{
		gw:      gw,
		runner:  runner,
		entries: make(map[string]entry),
		dropped: make(map[string]int),
	}
}

// Start enumerates all pipelines with a non-null schedule, registers a
// cron job per pipeline, and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	pipelines, err := s.gw.ListScheduledPipelines(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list scheduled pipelines: %w", err)
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	for _, p := range pipelines {
		if err := s.Register(p); err != nil {
			return fmt.Errorf("scheduler: register pipeline %s: %w", p.ID, err)
		}
	}
	return nil
}

// Stop halts the cron loop. In-flight runs are unaffected.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
	}
	s.started = false
}

// Register validates pipeline's cron expression and (re-)installs its
// job. An invalid expression is rejected and the pipeline keeps
// whatever schedule (or none) it already has registered.
func (s *Scheduler) Register(pipeline *domain.Pipeline) error {
	if pipeline.Trigger.Cron == "" {
		s.Unregister(pipeline.ID)
		return nil
	}

	loc, err := resolveLocation(pipeline.Trigger.Timezone)
	if err != nil {
		return fmt.Errorf("scheduler: invalid timezone %q: %w", pipeline.Trigger.Timezone, err)
	}
	schedule, err := cron.ParseStandard(pipeline.Trigger.Cron)
	if err != nil {
		return fmt.Errorf("scheduler: invalid cron expression %q: %w", pipeline.Trigger.Cron, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[pipeline.ID] = entry{pipeline: pipeline, schedule: inLocation(schedule, loc)}
	s.rebuildLocked()
	return nil
}

// Unregister removes pipeline's cron job, if any. Called when a
// pipeline is deleted or its schedule is cleared.
func (s *Scheduler) Unregister(pipelineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[pipelineID]; !ok {
		return
	}
	delete(s.entries, pipelineID)
	delete(s.dropped, pipelineID)
	s.rebuildLocked()
}

// rebuildLocked stops the current cron instance, if any, and replaces
// it with a fresh one carrying exactly the registered entries. Must be
// called with s.mu held.
func (s *Scheduler) rebuildLocked() {
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cron = cron.New()
	for id, e := range s.entries {
		pipelineID := id
		s.cron.Schedule(e.schedule, cron.FuncJob(func() {
			s.fire(pipelineID)
		}))
	}
	if s.started {
		s.cron.Start()
	}
}

// fire is invoked by the cron loop; it enforces the at-most-one-active-
// run concurrency guard before handing off to the Runner.
func (s *Scheduler) fire(pipelineID string) {
	ctx := context.Background()

	active, err := s.gw.FindActiveRun(ctx, pipelineID)
	if err != nil {
		return
	}
	if active != nil {
		s.recordDrop(pipelineID)
		return
	}

	s.mu.Lock()
	e, ok := s.entries[pipelineID]
	s.mu.Unlock()
	if !ok {
		return
	}

	_, _ = s.runner.RunPipeline(ctx, pipelineID, e.pipeline.DefaultBranch, "", systemTriggeredBy)
}

func (s *Scheduler) recordDrop(pipelineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped[pipelineID]++
}

// Stats returns the dropped-trigger count recorded per pipeline, since
// there is no REST surface in this core to expose it through otherwise
// (SPEC_FULL.md §12).
func (s *Scheduler) Stats() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.dropped))
	for k, v := range s.dropped {
		out[k] = v
	}
	return out
}
