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

// Package deploy is the Deployer: it selects a target instance (reuse
// or new), uploads artifacts over SSH, installs dependencies, starts
// the application, and optionally performs a blue/green cutover, per
// spec.md §4.3.
package deploy

import (
	"context"
	"os"

	"github.com/lightci/lightci/internal/domain"
	"github.com/lightci/lightci/internal/executor"
	"github.com/lightci/lightci/internal/runlog"
)

// Gateway is the narrow persistence surface the Deployer depends on.
type Gateway interface {
	FindNewestActiveAutoDeployment(ctx context.Context, pipelineID string) (*domain.AutoDeployment, error)
	UpdateAutoDeploymentStatus(ctx context.Context, id string, status domain.DeploymentStatus) error
	UpdateAutoDeploymentMetadata(ctx context.Context, id string, metadata map[string]string) error
	FindSSHKey(ctx context.Context, id string) (*domain.SshKey, error)
}

// Provisioner is the subset of the Instance Provisioner the Deployer calls.
type Provisioner interface {
	Provision(ctx context.Context, ownerID, pipelineID string) (ProvisionResult, error)
	Terminate(ctx context.Context, autoDeploymentID, instanceID string) error
	HealthCheck(ctx context.Context, instanceID string) bool
	PublicDNS(ctx context.Context, instanceID string) (string, error)
}

// ProvisionResult mirrors ec2.ProvisionResult without importing the
// cloud-specific package, so Deployer stays platform-agnostic at the
// type level even though only AWS EC2 is wired today.
type ProvisionResult struct {
	InstanceID string
	PublicDNS  string
}

// Request bundles what the Deployer needs beyond the pipeline's stored
// DeploymentConfig: the run and the local path holding collected artifacts.
type Request struct {
	RunID         string
	PipelineID    string
	OwnerID       string
	ArtifactsPath string
	Config        domain.DeploymentConfig
}

// Result is the outcome reported back to the Runner.
type Result struct {
	Success bool
	Message string
	Logs    []string
	Details map[string]string

	// Target is the host/user/keyPath the release sequence actually
	// connected with, set on success only. The Runner caches it so
	// later steps with RunLocation=deployed reach the same instance
	// instead of re-deriving it from the pipeline's static config.
	Target executor.RemoteTarget

	// KeyEphemeral reports whether Target.KeyPath is a file the Deployer
	// itself materialized (safe for the Runner to delete once the run
	// ends) as opposed to a pre-existing key found on disk via a
	// key-pair-name or *.pem scan, which the Runner must never remove.
	KeyEphemeral bool
}

// Deployer coordinates instance selection, key resolution, and release.
type Deployer struct {
	gw          Gateway
	provisioner Provisioner
	remote      RemoteRunner
	events      *runlog.EventBus
	tempRoot    string
}

// New constructs a Deployer. events may be nil to disable notifications
// (e.g. in tests).
func New(gw Gateway, provisioner Provisioner, remote RemoteRunner, events *runlog.EventBus, tempRoot string) *Deployer {
	if tempRoot == "" {
		tempRoot = "/tmp/lightci/deploy"
	}
	return &Deployer{gw: gw, provisioner: provisioner, remote: remote, events: events, tempRoot: tempRoot}
}

// Deploy is the Deployer's sole entry point, invoked by the Runner when
// a step of kind deploy succeeds. It is idempotent with respect to
// active AutoDeployments: calling it twice in a row for the same
// pipeline reuses whichever instance the first call selected or created.
func (d *Deployer) Deploy(ctx context.Context, req Request) Result {
	d.publish(req.RunID, runlog.EventDeploymentStart, true, "")

	result := d.deploy(ctx, req)

	if result.Success {
		d.publish(req.RunID, runlog.EventDeploymentComplete, true, "")
	} else {
		d.publish(req.RunID, runlog.EventDeploymentError, false, result.Message)
	}
	return result
}

func (d *Deployer) deploy(ctx context.Context, req Request) Result {
	cfg := req.Config
	platform := normalizePlatform(cfg.Platform, cfg.Service)
	if platform != PlatformAWSEC2 {
		return Result{Success: false, Message: "not yet implemented"}
	}

	target, ephemeral, details, err := d.selectInstance(ctx, req)
	if err != nil {
		return Result{Success: false, Message: err.Error(), Details: details}
	}

	if !d.remote.Probe(ctx, target) {
		// The key selectInstance resolved didn't authenticate. Whether
		// recovery succeeds or fails, that file is no longer the target's
		// key and nothing else will ever clean it up - remove it here if
		// it was ours (materialized) to begin with.
		staleKeyPath, staleEphemeral := target.KeyPath, ephemeral

		recovered, rerr := d.recoverKey(ctx, req, target)
		if rerr != nil {
			if staleEphemeral {
				os.Remove(staleKeyPath)
			}
			return Result{Success: false, Message: "SSH key authentication failed and recovery attempts were unsuccessful", Details: details}
		}
		// recoverKey only ever returns a path found on disk by scanning,
		// never one materialized by the Deployer, so it is never ours to
		// delete.
		target.KeyPath = recovered
		ephemeral = false
		if staleEphemeral {
			os.Remove(staleKeyPath)
		}
	}

	if cfg.Strategy == domain.StrategyBlueGreen {
		return d.releaseBlueGreen(ctx, req, target, ephemeral, details)
	}
	return d.releaseStandard(ctx, req, target, ephemeral, details)
}

// PlatformAWSEC2 is the only platform dispatch target implemented.
const PlatformAWSEC2 = "aws_ec2"

// normalizePlatform rewrites platform=aws + service=ec2 to "aws_ec2",
// the single key the dispatch table recognizes (spec.md §4.3).
func normalizePlatform(platform, service string) string {
	if platform == "aws" && service == "ec2" {
		return PlatformAWSEC2
	}
	return platform
}

func (d *Deployer) publish(runID string, kind runlog.EventKind, success bool, errMsg string) {
	if d.events == nil {
		return
	}
	d.events.Publish(runlog.Event{Kind: kind, RunID: runID, Success: success, Error: errMsg})
}
