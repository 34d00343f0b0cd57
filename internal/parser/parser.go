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

// Package parser turns a pipeline definition YAML file into a
// domain.Pipeline, validating the document on the way in.
package parser

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron"
	"gopkg.in/yaml.v3"

	"github.com/lightci/lightci/internal/domain"
)

const supportedVersion = "v1"

// document mirrors the on-disk shape of a pipeline definition file.
type document struct {
	Version       string             `yaml:"version"`
	Name          string             `yaml:"name"`
	RepositoryURL string             `yaml:"repositoryUrl"`
	DefaultBranch string             `yaml:"defaultBranch"`
	Steps         []stepDocument     `yaml:"steps"`
	Trigger       *triggerDocument   `yaml:"trigger,omitempty"`
	Artifacts     *artifactsDocument `yaml:"artifacts,omitempty"`
	Deployment    *deployDocument    `yaml:"deployment,omitempty"`
}

type stepDocument struct {
	Name         string            `yaml:"name"`
	Command      string            `yaml:"command"`
	Environment  map[string]string `yaml:"environment,omitempty"`
	Timeout      string            `yaml:"timeout,omitempty"`
	RunLocation  string            `yaml:"runLocation,omitempty"` // "local" or "deployed"; defaults to local
	IsDeployStep bool              `yaml:"isDeployStep,omitempty"`
}

type triggerDocument struct {
	Cron     string   `yaml:"cron,omitempty"`
	Timezone string   `yaml:"timezone,omitempty"`
	Events   []string `yaml:"events,omitempty"`
	Branches []string `yaml:"branches,omitempty"`
	Secret   string   `yaml:"webhookSecret,omitempty"`
}

type artifactsDocument struct {
	Enabled       bool     `yaml:"enabled"`
	Patterns      []string `yaml:"patterns,omitempty"`
	RetentionDays int      `yaml:"retentionDays,omitempty"`
	StorageKind   string   `yaml:"storageKind,omitempty"` // "local" or "s3"
}

type deployDocument struct {
	Enabled  bool   `yaml:"enabled"`
	Platform string `yaml:"platform,omitempty"`
	Service  string `yaml:"service,omitempty"`
	Mode     string `yaml:"mode,omitempty"`     // "manual" or "automatic"
	Strategy string `yaml:"strategy,omitempty"` // "standard" or "blue-green"

	InstanceID string `yaml:"instanceId,omitempty"`
	SSHKeyID   string `yaml:"sshKeyId,omitempty"`
	Username   string `yaml:"username,omitempty"`
	DeployPath string `yaml:"deployPath,omitempty"`
	InstallCmd string `yaml:"installCmd,omitempty"`

	PostDeployCommand string `yaml:"postDeployCommand,omitempty"`

	ProductionPort      int    `yaml:"productionPort,omitempty"`
	StagingPort         int    `yaml:"stagingPort,omitempty"`
	HealthCheckPath     string `yaml:"healthCheckPath,omitempty"`
	HealthCheckTimeoutS int    `yaml:"healthCheckTimeoutSeconds,omitempty"`
	RollbackOnFailure   bool   `yaml:"rollbackOnFailure,omitempty"`
}

// ParseFile reads and parses the pipeline definition at path.
func ParseFile(path string) (*domain.Pipeline, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: read %s: %w", path, err)
	}
	return Parse(content)
}

// Parse parses a pipeline definition document into a domain.Pipeline.
func Parse(content []byte) (*domain.Pipeline, error) {
	var doc document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parser: invalid YAML: %w", err)
	}

	if doc.Version == "" {
		return nil, fmt.Errorf("parser: version is required")
	}
	if doc.Version != supportedVersion {
		return nil, fmt.Errorf("parser: unsupported version %q (expected %q)", doc.Version, supportedVersion)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("parser: name is required")
	}
	if doc.RepositoryURL == "" {
		return nil, fmt.Errorf("parser: repositoryUrl is required")
	}

	steps, err := parseSteps(doc.Steps)
	if err != nil {
		return nil, err
	}

	trigger, err := parseTrigger(doc.Trigger)
	if err != nil {
		return nil, err
	}

	artifacts, err := parseArtifacts(doc.Artifacts)
	if err != nil {
		return nil, err
	}

	deployment, err := parseDeployment(doc.Deployment)
	if err != nil {
		return nil, err
	}

	pipeline := &domain.Pipeline{
		Name:           doc.Name,
		RepositoryURL:  doc.RepositoryURL,
		DefaultBranch:  doc.DefaultBranch,
		Steps:          steps,
		Trigger:        trigger,
		ArtifactPolicy: artifacts,
		Deployment:     deployment,
	}

	if err := pipeline.Validate(); err != nil {
		return nil, fmt.Errorf("parser: %w", err)
	}

	return pipeline, nil
}

func parseSteps(docs []stepDocument) ([]domain.Step, error) {
	if len(docs) == 0 {
		return nil, domain.ErrEmptyStepList
	}

	steps := make([]domain.Step, 0, len(docs))
	for i, d := range docs {
		if d.Name == "" {
			return nil, fmt.Errorf("parser: step %d: name is required", i)
		}
		if d.Command == "" {
			return nil, fmt.Errorf("parser: step %s: command is required", d.Name)
		}

		var timeout time.Duration
		if d.Timeout != "" {
			var err error
			timeout, err = time.ParseDuration(d.Timeout)
			if err != nil {
				return nil, fmt.Errorf("parser: step %s: invalid timeout: %w", d.Name, err)
			}
		}

		runLocation := domain.RunLocal
		switch d.RunLocation {
		case "", string(domain.RunLocal):
			runLocation = domain.RunLocal
		case string(domain.RunDeployed):
			runLocation = domain.RunDeployed
		default:
			return nil, fmt.Errorf("parser: step %s: unknown runLocation %q", d.Name, d.RunLocation)
		}

		steps = append(steps, domain.Step{
			Name:         d.Name,
			Command:      d.Command,
			Environment:  d.Environment,
			Timeout:      timeout,
			RunLocation:  runLocation,
			IsDeployStep: d.IsDeployStep,
		})
	}
	return steps, nil
}

func parseTrigger(d *triggerDocument) (domain.TriggerDescriptor, error) {
	if d == nil {
		return domain.TriggerDescriptor{}, nil
	}
	if d.Cron != "" {
		if _, err := cron.ParseStandard(d.Cron); err != nil {
			return domain.TriggerDescriptor{}, fmt.Errorf("parser: trigger.cron: %w", err)
		}
	}
	if d.Timezone != "" {
		if _, err := time.LoadLocation(d.Timezone); err != nil {
			return domain.TriggerDescriptor{}, fmt.Errorf("parser: trigger.timezone: %w", err)
		}
	}
	return domain.TriggerDescriptor{
		Cron:     d.Cron,
		Timezone: d.Timezone,
		Events:   d.Events,
		Branches: d.Branches,
		Secret:   d.Secret,
	}, nil
}

func parseArtifacts(d *artifactsDocument) (domain.ArtifactPolicy, error) {
	if d == nil {
		return domain.ArtifactPolicy{}, nil
	}

	kind := domain.StorageLocal
	switch d.StorageKind {
	case "", string(domain.StorageLocal):
		kind = domain.StorageLocal
	case string(domain.StorageS3):
		kind = domain.StorageS3
	default:
		return domain.ArtifactPolicy{}, fmt.Errorf("parser: artifacts.storageKind: unknown kind %q", d.StorageKind)
	}

	return domain.ArtifactPolicy{
		Enabled:       d.Enabled,
		Patterns:      d.Patterns,
		RetentionDays: d.RetentionDays,
		StorageKind:   kind,
	}, nil
}

func parseDeployment(d *deployDocument) (domain.DeploymentConfig, error) {
	if d == nil {
		return domain.DeploymentConfig{}, nil
	}

	mode := domain.DeployModeManual
	switch d.Mode {
	case "", string(domain.DeployModeManual):
		mode = domain.DeployModeManual
	case string(domain.DeployModeAutomatic):
		mode = domain.DeployModeAutomatic
	default:
		return domain.DeploymentConfig{}, fmt.Errorf("parser: deployment.mode: unknown mode %q", d.Mode)
	}

	strategy := domain.StrategyStandard
	switch d.Strategy {
	case "", string(domain.StrategyStandard):
		strategy = domain.StrategyStandard
	case string(domain.StrategyBlueGreen):
		strategy = domain.StrategyBlueGreen
	default:
		return domain.DeploymentConfig{}, fmt.Errorf("parser: deployment.strategy: unknown strategy %q", d.Strategy)
	}

	if d.Enabled && mode == domain.DeployModeManual && d.InstanceID == "" {
		return domain.DeploymentConfig{}, fmt.Errorf("parser: deployment.instanceId is required for manual mode")
	}

	return domain.DeploymentConfig{
		Enabled:             d.Enabled,
		Platform:            d.Platform,
		Service:             d.Service,
		Mode:                mode,
		Strategy:            strategy,
		InstanceID:          d.InstanceID,
		SSHKeyID:            d.SSHKeyID,
		Username:            d.Username,
		DeployPath:          d.DeployPath,
		InstallCmd:          d.InstallCmd,
		PostDeployCommand:   d.PostDeployCommand,
		ProductionPort:      d.ProductionPort,
		StagingPort:         d.StagingPort,
		HealthCheckPath:     d.HealthCheckPath,
		HealthCheckTimeoutS: d.HealthCheckTimeoutS,
		RollbackOnFailure:   d.RollbackOnFailure,
	}, nil
}
