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

// Package daemon builds the Runner stack (workspace manager, artifact
// collector, instance provisioner, deployer) from a loaded Config and a
// Persistence Gateway. Both cmd/orchestrator (serving triggers
// long-running) and cmd/lightci (starting one run per invocation) wire
// the same stack and shouldn't duplicate the construction logic.
package daemon

import (
	"context"

	"github.com/lightci/lightci/internal/artifact"
	"github.com/lightci/lightci/internal/cloud/ec2"
	"github.com/lightci/lightci/internal/config"
	"github.com/lightci/lightci/internal/deploy"
	"github.com/lightci/lightci/internal/objectstore"
	"github.com/lightci/lightci/internal/objectstore/s3"
	"github.com/lightci/lightci/internal/runlog"
	"github.com/lightci/lightci/internal/runner"
	"github.com/lightci/lightci/internal/workspace"
)

// Gateway is the persistence surface every wired component depends on.
// *store.Gateway satisfies it; kept as an interface here so this
// package never needs to import internal/store itself.
type Gateway interface {
	runner.Gateway
	deploy.Gateway
	ec2.Gateway
}

// Stack bundles the wired Runner together with the pieces a caller may
// still need directly (the event bus for webhook/scheduler wiring, the
// log registry for an in-process tail).
type Stack struct {
	Runner *runner.Runner
	Events *runlog.EventBus
	Logs   *runlog.Registry
}

// Build constructs the full Runner stack described by cfg.
func Build(gw Gateway, cfg *config.Config) (*Stack, error) {
	deploy.SetAllowTmpKeyScan(cfg.SSH.AllowTmpKeyScan)

	provisioner, err := ec2.NewProvisioner(ec2.Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		AMIID:           cfg.AWS.AMIID,
		SecurityGroupID: cfg.AWS.SecurityGroupID,
		SubnetID:        cfg.AWS.SubnetID,
		KeyName:         cfg.AWS.KeyName,
	}, gw)
	if err != nil {
		return nil, err
	}

	events := runlog.NewEventBus()
	logs := runlog.NewRegistry()
	workspaces := workspace.NewManager(cfg.Workspace.Root)
	collector := artifact.NewCollector(cfg.Artifacts.Root)

	if cfg.Artifacts.StorageKind == "s3" {
		sink, err := newObjectStore(cfg.Artifacts)
		if err != nil {
			return nil, err
		}
		collector = collector.WithS3Sink(sink)
	}

	deployer := deploy.New(gw, ec2ProvisionerAdapter{provisioner}, deploy.DefaultRunner{}, events, cfg.Workspace.Root)
	run := runner.New(gw, workspaces, collector, deployer, events, logs, cfg.Runner.SoftTimeout)

	return &Stack{Runner: run, Events: events, Logs: logs}, nil
}

// ec2ProvisionerAdapter narrows *ec2.Provisioner to deploy.Provisioner:
// the two packages declare independent ProvisionResult types so the
// Deployer never needs to import the AWS SDK's concrete types, and this
// is the one place that bridges them.
type ec2ProvisionerAdapter struct {
	p *ec2.Provisioner
}

func (a ec2ProvisionerAdapter) Provision(ctx context.Context, ownerID, pipelineID string) (deploy.ProvisionResult, error) {
	res, err := a.p.Provision(ctx, ownerID, pipelineID)
	return deploy.ProvisionResult{InstanceID: res.InstanceID, PublicDNS: res.PublicDNS}, err
}

func (a ec2ProvisionerAdapter) Terminate(ctx context.Context, autoDeploymentID, instanceID string) error {
	return a.p.Terminate(ctx, autoDeploymentID, instanceID)
}

func (a ec2ProvisionerAdapter) HealthCheck(ctx context.Context, instanceID string) bool {
	return a.p.HealthCheck(ctx, instanceID)
}

func (a ec2ProvisionerAdapter) PublicDNS(ctx context.Context, instanceID string) (string, error) {
	return a.p.PublicDNS(ctx, instanceID)
}

// newObjectStore builds the S3 artifact sink named by cfg. Only called
// when cfg.StorageKind=="s3"; the local tree the Artifact Collector
// always writes to needs no objectstore.Store at all. Built as a plain
// function here rather than an objectstore.New factory since
// internal/objectstore/s3 already imports internal/objectstore for its
// Config type, and a factory living in the parent package would import
// back into its own child.
func newObjectStore(cfg config.ArtifactsConfig) (objectstore.Store, error) {
	return s3.NewClient(&objectstore.Config{
		Kind:            "s3",
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		UsePathStyle:    cfg.UsePathStyle,
	})
}
