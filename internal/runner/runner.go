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

// Package runner is the Pipeline Runner: it drives a PipelineRun through
// its per-step algorithm, sequencing local execution, remote execution
// on a deployed VM, and handoff to the Deployer, per spec.md §4.1.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lightci/lightci/internal/artifact"
	"github.com/lightci/lightci/internal/deploy"
	"github.com/lightci/lightci/internal/domain"
	"github.com/lightci/lightci/internal/executor"
	"github.com/lightci/lightci/internal/runlog"
	"github.com/lightci/lightci/internal/secrets"
	"github.com/lightci/lightci/internal/workspace"
)

// DefaultSoftTimeout is the per-run wall-clock deadline spec.md §5 names.
const DefaultSoftTimeout = 2 * time.Hour

const sourceStepName = "Source"
const buildStepName = "Build"

// Gateway is the narrow persistence surface the Runner depends on.
type Gateway interface {
	FindPipeline(ctx context.Context, id string) (*domain.Pipeline, error)
	FindActiveRun(ctx context.Context, pipelineID string) (*domain.PipelineRun, error)
	CreateRun(ctx context.Context, r *domain.PipelineRun) error
	UpdateRun(ctx context.Context, r *domain.PipelineRun) error
}

// Deployer is the subset of internal/deploy the Runner hands deploy
// steps off to.
type Deployer interface {
	Deploy(ctx context.Context, req deploy.Request) deploy.Result
}

// Runner coordinates run creation and asynchronous execution.
type Runner struct {
	gw          Gateway
	workspaces  *workspace.Manager
	collector   *artifact.Collector
	deployer    Deployer
	events      *runlog.EventBus
	logs        *runlog.Registry
	softTimeout time.Duration

	mu            sync.Mutex
	inFlight      map[string]context.CancelFunc
	deployTargets map[string]deployTarget
}

// deployTarget is what the Runner caches per run once a deploy step
// succeeds. ephemeral mirrors deploy.Result.KeyEphemeral: only an
// ephemeral key file is ours to remove once the run ends - one
// recovered from a filesystem scan belongs to the operator.
type deployTarget struct {
	target    executor.RemoteTarget
	ephemeral bool
}

// New constructs a Runner. softTimeout<=0 uses DefaultSoftTimeout.
func New(gw Gateway, workspaces *workspace.Manager, collector *artifact.Collector, deployer Deployer, events *runlog.EventBus, logs *runlog.Registry, softTimeout time.Duration) *Runner {
	if softTimeout <= 0 {
		softTimeout = DefaultSoftTimeout
	}
	return &Runner{
		gw:            gw,
		workspaces:    workspaces,
		collector:     collector,
		deployer:      deployer,
		events:        events,
		logs:          logs,
		softTimeout:   softTimeout,
		inFlight:      make(map[string]context.CancelFunc),
		deployTargets: make(map[string]deployTarget),
	}
}

// RunPipeline implements the Runner's sole entry point: it creates a run
// in status=running with every step pending, then begins background
// execution and returns the new run id immediately.
func (r *Runner) RunPipeline(ctx context.Context, pipelineID, branch, commit, triggeredBy string) (string, error) {
	pipeline, err := r.gw.FindPipeline(ctx, pipelineID)
	if err != nil {
		return "", fmt.Errorf("runner: find pipeline: %w", err)
	}
	if branch == "" {
		branch = pipeline.DefaultBranch
	}

	run := &domain.PipelineRun{
		ID:          uuid.NewString(),
		PipelineID:  pipelineID,
		Branch:      branch,
		Commit:      commit,
		Status:      domain.RunRunning,
		StartTime:   time.Now().UTC(),
		TriggeredBy: triggeredBy,
		StepResults: make([]domain.StepResult, len(pipeline.Steps)),
	}
	for i, step := range pipeline.Steps {
		run.StepResults[i] = domain.StepResult{ID: uuid.NewString(), Name: step.Name, Command: step.Command, Status: domain.StepPending}
	}

	if err := r.gw.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("runner: create run: %w", err)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), r.softTimeout)
	r.mu.Lock()
	r.inFlight[run.ID] = cancel
	r.mu.Unlock()

	go r.execute(runCtx, cancel, pipeline, run)

	return run.ID, nil
}

// Cancel requests cooperative cancellation of an in-flight run: the
// currently executing step is allowed to finish, but no further step
// starts (spec.md §5).
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.inFlight[runID]
	if !ok {
		return false
	}
	cancel()
	return true
}

func (r *Runner) execute(ctx context.Context, cancel context.CancelFunc, pipeline *domain.Pipeline, run *domain.PipelineRun) {
	defer cancel()
	defer r.forget(run.ID)

	workspacePath, err := r.workspaces.Create(run.ID)
	if err != nil {
		r.failRun(context.Background(), run, fmt.Sprintf("runner: create workspace: %v", err))
		return
	}
	defer func() {
		if rmErr := r.workspaces.Remove(run.ID); rmErr != nil {
			r.appendLog(run, fmt.Sprintf("workspace cleanup error (swallowed): %v", rmErr))
		}
	}()

	for i := range pipeline.Steps {
		step := pipeline.Steps[i]
		result := &run.StepResults[i]

		// Cancellation and timeout preempt only at the boundary between
		// steps: a step already running is allowed to finish on its own
		// hard timeout (spec.md §5), so runStep below is not driven by
		// this same ctx.
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				r.finishTimeout(context.Background(), run)
			} else {
				r.finishCancelled(context.Background(), run)
			}
			return
		}

		now := time.Now().UTC()
		result.Status = domain.StepRunning
		result.StartTime = &now
		r.persist(context.Background(), run)

		command := step.Command
		if step.Name == sourceStepName {
			command = fmt.Sprintf("git clone %s . && git checkout %s", pipeline.RepositoryURL, run.Branch)
		}

		out, execErr := r.runStep(context.Background(), pipeline, run, step, command, workspacePath)

		end := time.Now().UTC()
		result.EndTime = &end
		result.Output = out

		if execErr != nil {
			result.Status = domain.StepFailed
			result.Error = execErr.Error()
			run.Error = execErr.Error()
			r.persist(context.Background(), run)
			r.finishFailed(context.Background(), run)
			return
		}

		if step.Name == buildStepName {
			r.collectArtifacts(run, pipeline.ArtifactPolicy, workspacePath)
		}

		result.Status = domain.StepCompleted
		r.persist(context.Background(), run)
	}

	r.collectArtifacts(run, pipeline.ArtifactPolicy, workspacePath)
	r.finishCompleted(context.Background(), run)
}

// runStep picks the execution site per spec.md §4.1 step 3 and returns
// combined output.
func (r *Runner) runStep(ctx context.Context, pipeline *domain.Pipeline, run *domain.PipelineRun, step domain.Step, command, workspacePath string) (string, error) {
	if step.IsDeployStep {
		result := r.deployer.Deploy(ctx, deploy.Request{
			RunID:         run.ID,
			PipelineID:    pipeline.ID,
			OwnerID:       pipeline.OwnerID,
			ArtifactsPath: run.Artifacts.BasePath,
			Config:        pipeline.Deployment,
		})
		for _, line := range result.Logs {
			r.appendLog(run, secrets.MaskString(line, step.Environment))
		}
		if !result.Success {
			return joinLogs(result.Logs), fmt.Errorf("%s", result.Message)
		}
		r.setDeployTarget(run.ID, result.Target, result.KeyEphemeral)
		return joinLogs(result.Logs), nil
	}

	deployed := run.DeploymentCompleted(pipeline)
	runsRemotely := deployed && (step.RunLocation == domain.RunDeployed || (pipeline.Deployment.Enabled && pipeline.Deployment.Mode != ""))

	if runsRemotely {
		target, ok := r.remoteTargetFor(run.ID)
		if !ok {
			err := fmt.Errorf("runner: no resolved deploy target for run %s", run.ID)
			r.appendLog(run, err.Error())
			return "", err
		}
		res := executor.ExecuteRemote(ctx, command, target, workspacePath, step.Environment, step.Timeout)
		masked := secrets.MaskString(res.Output, step.Environment)
		r.appendLog(run, masked)
		return masked, errorFromResult(res)
	}

	res := executor.Execute(ctx, command, workspacePath, step.Environment, step.Timeout)
	masked := secrets.MaskString(res.Output, step.Environment)
	r.appendLog(run, masked)
	return masked, errorFromResult(res)
}

// remoteTargetFor returns the host/user/keyPath the deploy step for this
// run actually resolved and connected with (internal/deploy/instance.go's
// selectInstance), cached when that step succeeded. ok is false if no
// deploy step has completed for this run yet.
func (r *Runner) remoteTargetFor(runID string) (executor.RemoteTarget, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dt, ok := r.deployTargets[runID]
	return dt.target, ok
}

func (r *Runner) setDeployTarget(runID string, target executor.RemoteTarget, ephemeral bool) {
	r.mu.Lock()
	r.deployTargets[runID] = deployTarget{target: target, ephemeral: ephemeral}
	r.mu.Unlock()
}

func errorFromResult(res executor.Result) error {
	if res.Failed() {
		return res.Err
	}
	return nil
}

func joinLogs(lines []string) string {
	out := ""
	for i, line := range lines {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}

func (r *Runner) collectArtifacts(run *domain.PipelineRun, policy domain.ArtifactPolicy, workspacePath string) {
	if r.collector == nil {
		return
	}
	_, errs := r.collector.Collect(run, policy, workspacePath)
	for _, e := range errs {
		run.Error = e.Error()
	}
}

func (r *Runner) finishCompleted(ctx context.Context, run *domain.PipelineRun) {
	now := time.Now().UTC()
	run.Status = domain.RunCompleted
	run.CompletionTime = &now
	r.persist(ctx, run)
}

func (r *Runner) finishFailed(ctx context.Context, run *domain.PipelineRun) {
	now := time.Now().UTC()
	run.Status = domain.RunFailed
	run.CompletionTime = &now
	if run.Error == "" {
		run.Error = "step failed"
	}
	r.persist(ctx, run)
}

func (r *Runner) finishCancelled(ctx context.Context, run *domain.PipelineRun) {
	now := time.Now().UTC()
	run.Status = domain.RunCancelled
	run.CompletionTime = &now
	r.persist(ctx, run)
}

// finishTimeout transitions the run to failed with reason=timeout, per
// spec.md §4.1's run state machine.
func (r *Runner) finishTimeout(ctx context.Context, run *domain.PipelineRun) {
	run.Error = "timeout"
	r.finishFailed(ctx, run)
}

// failRun is used for failures before any step begins (e.g. workspace
// creation failure).
func (r *Runner) failRun(ctx context.Context, run *domain.PipelineRun, reason string) {
	run.Error = reason
	r.finishFailed(ctx, run)
}

func (r *Runner) persist(ctx context.Context, run *domain.PipelineRun) {
	if err := r.gw.UpdateRun(ctx, run); err != nil {
		r.appendLog(run, fmt.Sprintf("runner: persist run %s failed: %v", run.ID, err))
	}
}

func (r *Runner) appendLog(run *domain.PipelineRun, line string) {
	if line == "" {
		return
	}
	run.Logs = append(run.Logs, line)
	if r.logs != nil {
		buf := r.logs.Get(run.ID)
		_, _ = buf.Write([]byte(line + "\n"))
	}
}

func (r *Runner) forget(runID string) {
	if r.logs != nil {
		r.logs.Drop(runID)
	}
	r.mu.Lock()
	delete(r.inFlight, runID)
	target, hadTarget := r.deployTargets[runID]
	delete(r.deployTargets, runID)
	r.mu.Unlock()

	// A materialized key file outlives the Deploy() call so later
	// RunDeployed steps can use it; once the run is done, nothing needs
	// it any more. A non-ephemeral key (found on disk rather than
	// materialized) is never ours to remove - it belongs to the operator.
	if hadTarget && target.ephemeral && target.target.KeyPath != "" {
		_ = os.Remove(target.target.KeyPath)
	}
}
