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

package deploy

import (
	"context"

	"github.com/lightci/lightci/internal/executor"
)

// RemoteTarget names where and how to reach a deployed host.
type RemoteTarget struct {
	Host    string
	User    string
	KeyPath string
}

// RemoteRunner is the seam between the Deployer's release logic and the
// Command Executor's SSH/SCP wrapping, so release sequencing can be
// unit-tested without shelling out. executor.DefaultRunner is the
// production implementation.
type RemoteRunner interface {
	Probe(ctx context.Context, target RemoteTarget) bool
	Run(ctx context.Context, command string, target RemoteTarget, workingDir string, env map[string]string) executor.Result
	Upload(ctx context.Context, localPath string, target RemoteTarget, remoteDest string) executor.Result
}

// DefaultRunner wraps the package-level executor functions that shell
// out to the ssh/scp binaries, per spec.md §4.2.
type DefaultRunner struct{}

func (DefaultRunner) Probe(ctx context.Context, target RemoteTarget) bool {
	return executor.ProbeEcho(ctx, toExecutorTarget(target))
}

func (DefaultRunner) Run(ctx context.Context, command string, target RemoteTarget, workingDir string, env map[string]string) executor.Result {
	return executor.ExecuteRemote(ctx, command, toExecutorTarget(target), workingDir, env, 0)
}

func (DefaultRunner) Upload(ctx context.Context, localPath string, target RemoteTarget, remoteDest string) executor.Result {
	return executor.Upload(ctx, localPath, toExecutorTarget(target), remoteDest)
}

func toExecutorTarget(t RemoteTarget) executor.RemoteTarget {
	return executor.RemoteTarget{Host: t.Host, User: t.User, KeyPath: t.KeyPath}
}
