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

// DeploymentStatus is the lifecycle phase of an AutoDeployment.
type DeploymentStatus string

const (
	DeploymentProvisioning DeploymentStatus = "provisioning"
	DeploymentActive       DeploymentStatus = "active"
	DeploymentUnhealthy    DeploymentStatus = "unhealthy"
	DeploymentTerminated   DeploymentStatus = "terminated"
)

// AutoDeployment is a durable binding from a pipeline to a provisioned VM,
// enabling instance reuse across sequential runs.
//
// Invariant: at most one AutoDeployment per pipeline has Status=Active.
type AutoDeployment struct {
	ID         string            `json:"id"`
	PipelineID string            `json:"pipelineId"`
	OwnerID    string            `json:"ownerId"`
	InstanceID string            `json:"instanceId"`
	Region     string            `json:"region"`
	Status     DeploymentStatus  `json:"status"`
	SSHKeyID   string            `json:"sshKeyId,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// SshKey is a stored cloud key pair. Invariant: private key material is
// never returned by list operations; only the Deployer may fetch it by id.
type SshKey struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	KeyPairName string `json:"keyPairName"`
	PrivateKey  string `json:"-"`
	OwnerID     string `json:"ownerId"`
}

// Redacted returns a copy of the key with PrivateKey cleared, safe to
// return from list operations.
func (k SshKey) Redacted() SshKey {
	k.PrivateKey = ""
	return k
}
