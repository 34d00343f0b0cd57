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

package domain

import "time"

// RunStatus is the current phase of a PipelineRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further status transitions are possible.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// StepStatus is the current phase of a single StepResult.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult tracks one step's execution within a specific run.
//
// Invariant: Status transitions pending -> running -> (completed|failed);
// once a step fails, every later StepResult remains pending (this
// implementation never writes pending -> skipped automatically — see
// SPEC_FULL.md §13 decision 2).
type StepResult struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Command     string      `json:"command"`
	Status      StepStatus  `json:"status"`
	StartTime   *time.Time  `json:"startTime,omitempty"`
	EndTime     *time.Time  `json:"endTime,omitempty"`
	Output      string      `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
	RunLocation RunLocation `json:"runLocation,omitempty"`
}

// ArtifactSummary is the run-level snapshot of the Artifact Collector's work.
type ArtifactSummary struct {
	Collected bool      `json:"collected"`
	Count     int       `json:"count"`
	SizeBytes int64     `json:"sizeBytes"`
	BasePath  string    `json:"basePath,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// PipelineRun is one execution of a pipeline at a specific branch/commit.
//
// Invariant: once Status is terminal, StepResults and CompletionTime are
// frozen; transitions follow the state machine in spec.md §4.1.
type PipelineRun struct {
	ID             string          `json:"id"`
	PipelineID     string          `json:"pipelineId"`
	Branch         string          `json:"branch"`
	Commit         string          `json:"commit,omitempty"`
	Status         RunStatus       `json:"status"`
	StartTime      time.Time       `json:"startTime"`
	CompletionTime *time.Time      `json:"completionTime,omitempty"`
	StepResults    []StepResult    `json:"stepResults"`
	Logs           []string        `json:"logs,omitempty"`
	Error          string          `json:"error,omitempty"`
	Artifacts      ArtifactSummary `json:"artifacts"`
	TriggeredBy    string          `json:"triggeredBy"`

	// deploymentCompleted is run-scoped state, not persisted on its own:
	// it is derived from whether any StepResult for a deploy step is
	// StepCompleted. Exposed via DeploymentCompleted().
}

// DeploymentCompleted reports whether a deploy step has already
// succeeded in this run, per the step-execution-site rule in spec.md §4.1.
func (r *PipelineRun) DeploymentCompleted(pipeline *Pipeline) bool {
	for _, sr := range r.StepResults {
		if sr.Status != StepCompleted {
			continue
		}
		if step, ok := pipeline.StepByName(sr.Name); ok && step.IsDeployStep {
			return true
		}
	}
	return false
}

// StepResultByName returns a pointer into r.StepResults for in-place mutation.
func (r *PipelineRun) StepResultByName(name string) *StepResult {
	for i := range r.StepResults {
		if r.StepResults[i].Name == name {
			return &r.StepResults[i]
		}
	}
	return nil
}
