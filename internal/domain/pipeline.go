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

// Package domain holds the core entities of the orchestration engine:
// Pipeline, Step, PipelineRun, StepResult, ArtifactRecord, AutoDeployment
// and SshKey. Types here are plain Go values with JSON tags; persistence
// and wire formats are handled at the store/API boundary, not here.
package domain

import "time"

// RunLocation is where a step executes once a deploy step has succeeded.
type RunLocation string

const (
	RunLocal    RunLocation = "local"
	RunDeployed RunLocation = "deployed"
)

// DeploymentMode controls instance reuse/provisioning for automatic deploys.
type DeploymentMode string

const (
	DeployModeManual    DeploymentMode = "manual"
	DeployModeAutomatic DeploymentMode = "automatic"
)

// DeploymentStrategy selects the release algorithm used by the Deployer.
type DeploymentStrategy string

const (
	StrategyStandard  DeploymentStrategy = "standard"
	StrategyBlueGreen DeploymentStrategy = "blue-green"
)

// StorageKind selects where the Artifact Collector copies collected files.
type StorageKind string

const (
	StorageLocal StorageKind = "local"
	StorageS3    StorageKind = "s3"
)

// Step is a single shell command within a pipeline, the atomic execution unit.
//
// Invariant: a step whose RunLocation is RunDeployed may only execute after
// a step with IsDeployStep=true has succeeded earlier in the same run.
type Step struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Command     string            `json:"command"`
	Environment map[string]string `json:"environment,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	RunLocation RunLocation       `json:"runLocation"`
	IsDeployStep bool             `json:"isDeployStep,omitempty"`
}

// ArtifactPolicy configures whether and how a pipeline's outputs are captured.
type ArtifactPolicy struct {
	Enabled       bool        `json:"enabled"`
	Patterns      []string    `json:"patterns,omitempty"`
	RetentionDays int         `json:"retentionDays,omitempty"`
	StorageKind   StorageKind `json:"storageKind,omitempty"`
}

// TriggerDescriptor describes what starts a run: a cron schedule and/or a
// branch/event filter evaluated by the webhook adapter.
type TriggerDescriptor struct {
	Cron     string   `json:"cron,omitempty"`
	Timezone string   `json:"timezone,omitempty"`
	Events   []string `json:"events,omitempty"`
	Branches []string `json:"branches,omitempty"`
	Secret   string   `json:"webhookSecret,omitempty"`
}

// AllowsEvent reports whether kind is in the trigger's event allow-list.
// An empty list allows every event kind.
func (t TriggerDescriptor) AllowsEvent(kind string) bool {
	if len(t.Events) == 0 {
		return true
	}
	for _, e := range t.Events {
		if e == kind {
			return true
		}
	}
	return false
}

// AllowsBranch reports whether branch is in the trigger's branch
// allow-list. An empty list allows every branch.
func (t TriggerDescriptor) AllowsBranch(branch string) bool {
	if len(t.Branches) == 0 {
		return true
	}
	for _, b := range t.Branches {
		if b == branch {
			return true
		}
	}
	return false
}

// DeploymentConfig is the pipeline-level deployment policy. Platform,
// mode and strategy drive Deployer dispatch; the remaining fields are
// consulted only for the strategy/mode they apply to.
type DeploymentConfig struct {
	Enabled  bool               `json:"enabled"`
	Platform string             `json:"platform,omitempty"`
	Service  string             `json:"service,omitempty"`
	Mode     DeploymentMode     `json:"mode,omitempty"`
	Strategy DeploymentStrategy `json:"strategy,omitempty"`

	// Manual-mode fields.
	InstanceID string `json:"instanceId,omitempty"`
	SSHKeyID   string `json:"sshKeyId,omitempty"`
	Username   string `json:"username,omitempty"`
	DeployPath string `json:"deployPath,omitempty"`
	InstallCmd string `json:"installCmd,omitempty"`

	PostDeployCommand string `json:"postDeployCommand,omitempty"`

	// Blue/green fields.
	ProductionPort      int `json:"productionPort,omitempty"`
	StagingPort         int `json:"stagingPort,omitempty"`
	HealthCheckPath     string `json:"healthCheckPath,omitempty"`
	HealthCheckTimeoutS int    `json:"healthCheckTimeoutSeconds,omitempty"`
	RollbackOnFailure   bool   `json:"rollbackOnFailure,omitempty"`
}

// Pipeline is an immutable-by-owner template: an ordered list of steps
// tied to a source repository.
//
// Invariant: Steps is non-empty at create time; step names are unique
// within a pipeline.
type Pipeline struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	RepositoryURL   string             `json:"repositoryUrl"`
	DefaultBranch   string             `json:"defaultBranch"`
	Steps           []Step             `json:"steps"`
	Trigger         TriggerDescriptor  `json:"trigger"`
	ArtifactPolicy  ArtifactPolicy     `json:"artifactPolicy"`
	Deployment      DeploymentConfig   `json:"deployment"`
	OwnerID         string             `json:"ownerId"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// Validate enforces the Pipeline invariants stated in spec.md §3.
func (p *Pipeline) Validate() error {
	if len(p.Steps) == 0 {
		return ErrEmptyStepList
	}
	seen := make(map[string]struct{}, len(p.Steps))
	deploySeen := false
	for _, s := range p.Steps {
		if s.Name == "" {
			return ErrStepNameRequired
		}
		if _, dup := seen[s.Name]; dup {
			return ErrDuplicateStepName
		}
		seen[s.Name] = struct{}{}

		if s.RunLocation == RunDeployed && !deploySeen {
			return ErrDeployedBeforeDeploy
		}
		if s.IsDeployStep {
			deploySeen = true
		}
	}
	return nil
}

// StepByName returns the step with the given name, if present.
func (p *Pipeline) StepByName(name string) (Step, bool) {
	for _, s := range p.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}
