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

package runner

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightci/lightci/internal/artifact"
	"github.com/lightci/lightci/internal/deploy"
	"github.com/lightci/lightci/internal/domain"
	"github.com/lightci/lightci/internal/executor"
	"github.com/lightci/lightci/internal/runlog"
	"github.com/lightci/lightci/internal/workspace"
)

type fakeGateway struct {
	mu         sync.Mutex
	pipeline   *domain.Pipeline
	runs       map[string]*domain.PipelineRun
	updateErrs []error
}

func newFakeGateway(p *domain.Pipeline) *fakeGateway {
	return &fakeGateway{pipeline: p, runs: map[string]*domain.PipelineRun{}}
}

func (f *fakeGateway) FindPipeline(context.Context, string) (*domain.Pipeline, error) {
	return f.pipeline, nil
}

func (f *fakeGateway) FindActiveRun(context.Context, string) (*domain.PipelineRun, error) {
	return nil, nil
}

func (f *fakeGateway) CreateRun(_ context.Context, r *domain.PipelineRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[r.ID] = r
	return nil
}

func (f *fakeGateway) UpdateRun(_ context.Context, r *domain.PipelineRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.runs[r.ID] = &cp
	return nil
}

func (f *fakeGateway) snapshot(id string) *domain.PipelineRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id]
}

type fakeDeployer struct {
	result deploy.Result
}

func (f *fakeDeployer) Deploy(context.Context, deploy.Request) deploy.Result {
	return f.result
}

func waitTerminal(t *testing.T, gw *fakeGateway, runID string) *domain.PipelineRun {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if run := gw.snapshot(runID); run != nil && run.Status.IsTerminal() {
			return run
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("run did not reach a terminal state in time")
	return nil
}

func simplePipeline(steps ...domain.Step) *domain.Pipeline {
	return &domain.Pipeline{
		ID:            "p-1",
		Name:          "demo",
		RepositoryURL: "https://example.com/repo.git",
		DefaultBranch: "main",
		Steps:         steps,
		OwnerID:       "owner-1",
	}
}

func TestRunPipelineCompletesAllSteps(t *testing.T) {
	pipeline := simplePipeline(
		domain.Step{Name: "Source", Command: "ignored"},
		domain.Step{Name: "Build", Command: "echo building"},
		domain.Step{Name: "Test", Command: "echo testing"},
	)
	gw := newFakeGateway(pipeline)
	ws := workspace.NewManager(t.TempDir())
	collector := artifact.NewCollector(t.TempDir())
	r := New(gw, ws, collector, &fakeDeployer{}, runlog.NewEventBus(), runlog.NewRegistry(), time.Minute)

	runID, err := r.RunPipeline(context.Background(), "p-1", "", "", "manual")
	require.NoError(t, err)

	run := waitTerminal(t, gw, runID)
	assert.Equal(t, domain.RunCompleted, run.Status)
	for _, sr := range run.StepResults {
		assert.Equal(t, domain.StepCompleted, sr.Status)
	}
	assert.True(t, run.Artifacts.Collected)
}

func TestRunPipelineFailsRunOnStepFailure(t *testing.T) {
	pipeline := simplePipeline(
		domain.Step{Name: "Source", Command: "ignored"},
		domain.Step{Name: "Build", Command: "exit 1"},
		domain.Step{Name: "Test", Command: "echo never runs"},
	)
	gw := newFakeGateway(pipeline)
	ws := workspace.NewManager(t.TempDir())
	collector := artifact.NewCollector(t.TempDir())
	r := New(gw, ws, collector, &fakeDeployer{}, runlog.NewEventBus(), runlog.NewRegistry(), time.Minute)

	runID, err := r.RunPipeline(context.Background(), "p-1", "", "", "manual")
	require.NoError(t, err)

	run := waitTerminal(t, gw, runID)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Equal(t, domain.StepCompleted, run.StepResults[0].Status)
	assert.Equal(t, domain.StepFailed, run.StepResults[1].Status)
	assert.Equal(t, domain.StepPending, run.StepResults[2].Status, "steps after a failure remain pending, never auto-skipped")
}

func TestRunPipelineHandsOffDeployStepToDeployer(t *testing.T) {
	pipeline := simplePipeline(
		domain.Step{Name: "Source", Command: "ignored"},
		domain.Step{Name: "Deploy", Command: "ignored", IsDeployStep: true},
	)
	gw := newFakeGateway(pipeline)
	ws := workspace.NewManager(t.TempDir())
	collector := artifact.NewCollector(t.TempDir())
	deployer := &fakeDeployer{result: deploy.Result{Success: true, Message: "deployed"}}
	r := New(gw, ws, collector, deployer, runlog.NewEventBus(), runlog.NewRegistry(), time.Minute)

	runID, err := r.RunPipeline(context.Background(), "p-1", "", "", "manual")
	require.NoError(t, err)

	run := waitTerminal(t, gw, runID)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, domain.StepCompleted, run.StepResultByName("Deploy").Status)
}

func TestRunPipelineFailsWhenDeployerFails(t *testing.T) {
	pipeline := simplePipeline(
		domain.Step{Name: "Deploy", Command: "ignored", IsDeployStep: true},
	)
	gw := newFakeGateway(pipeline)
	ws := workspace.NewManager(t.TempDir())
	collector := artifact.NewCollector(t.TempDir())
	deployer := &fakeDeployer{result: deploy.Result{Success: false, Message: "not yet implemented"}}
	r := New(gw, ws, collector, deployer, runlog.NewEventBus(), runlog.NewRegistry(), time.Minute)

	runID, err := r.RunPipeline(context.Background(), "p-1", "", "", "manual")
	require.NoError(t, err)

	run := waitTerminal(t, gw, runID)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Equal(t, "not yet implemented", run.Error)
}

func TestRunPipelineDefaultsToPipelineBranch(t *testing.T) {
	pipeline := simplePipeline(domain.Step{Name: "Test", Command: "echo ok"})
	gw := newFakeGateway(pipeline)
	ws := workspace.NewManager(t.TempDir())
	collector := artifact.NewCollector(t.TempDir())
	r := New(gw, ws, collector, &fakeDeployer{}, runlog.NewEventBus(), runlog.NewRegistry(), time.Minute)

	runID, err := r.RunPipeline(context.Background(), "p-1", "", "", "manual")
	require.NoError(t, err)

	run := waitTerminal(t, gw, runID)
	assert.Equal(t, "main", run.Branch)
}

func TestRunStepMasksEnvironmentSecretsInOutput(t *testing.T) {
	pipeline := simplePipeline(
		domain.Step{
			Name:        "Build",
			Command:     "echo $API_TOKEN",
			Environment: map[string]string{"API_TOKEN": "sk-supersecretvalue"},
		},
	)
	gw := newFakeGateway(pipeline)
	ws := workspace.NewManager(t.TempDir())
	collector := artifact.NewCollector(t.TempDir())
	r := New(gw, ws, collector, &fakeDeployer{}, runlog.NewEventBus(), runlog.NewRegistry(), time.Minute)

	runID, err := r.RunPipeline(context.Background(), "p-1", "", "", "manual")
	require.NoError(t, err)

	run := waitTerminal(t, gw, runID)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.NotContains(t, run.StepResults[0].Output, "sk-supersecretvalue")
	assert.Contains(t, run.StepResults[0].Output, "***REDACTED***")
}

func TestRunStepUsesDeployerResolvedTargetForDeployedSteps(t *testing.T) {
	pipeline := simplePipeline(
		domain.Step{Name: "Deploy", Command: "ignored", IsDeployStep: true},
		domain.Step{Name: "Smoke", Command: "echo smoke", RunLocation: domain.RunDeployed},
	)
	pipeline.Deployment = domain.DeploymentConfig{Enabled: true, Mode: "automatic"}
	gw := newFakeGateway(pipeline)
	ws := workspace.NewManager(t.TempDir())
	collector := artifact.NewCollector(t.TempDir())
	deployer := &fakeDeployer{result: deploy.Result{
		Success: true,
		Message: "deployed",
		Target: executor.RemoteTarget{
			Host:    "203.0.113.5",
			User:    "ec2-user",
			KeyPath: filepath.Join(t.TempDir(), "missing.pem"),
		},
	}}
	r := New(gw, ws, collector, deployer, runlog.NewEventBus(), runlog.NewRegistry(), time.Minute)

	runID, err := r.RunPipeline(context.Background(), "p-1", "", "", "manual")
	require.NoError(t, err)

	run := waitTerminal(t, gw, runID)
	smoke := run.StepResultByName("Smoke")
	require.NotNil(t, smoke)
	// The step must fail because ssh can't actually reach 203.0.113.5 in
	// this sandbox, not because the Runner failed to resolve a target at
	// all - that distinguishes "used the deployer's target" from the
	// fallback error path.
	assert.NotContains(t, smoke.Error, "no resolved deploy target")
}

func TestCancelStopsFurtherSteps(t *testing.T) {
	pipeline := simplePipeline(
		domain.Step{Name: "Slow", Command: "sleep 1 && echo done"},
		domain.Step{Name: "Next", Command: "echo never"},
	)
	gw := newFakeGateway(pipeline)
	ws := workspace.NewManager(t.TempDir())
	collector := artifact.NewCollector(t.TempDir())
	r := New(gw, ws, collector, &fakeDeployer{}, runlog.NewEventBus(), runlog.NewRegistry(), time.Minute)

	runID, err := r.RunPipeline(context.Background(), "p-1", "", "", "manual")
	require.NoError(t, err)

	require.True(t, r.Cancel(runID))

	run := waitTerminal(t, gw, runID)
	assert.Equal(t, domain.RunCancelled, run.Status)
}
