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

// Package executor is the Command Executor: it runs a step's command
// either locally in a workspace directory, or remotely over SSH/SCP
// against a deployed host, per spec.md §4.2. Remote execution shells
// out to the ssh/scp binaries rather than using a Go SSH client, the
// same "binary-wrapping" approach the deploy release sequence in
// SPEC_FULL.md's Deployer depends on.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"
)

const (
	// LocalHardTimeout bounds any single local command, per spec.md §5.
	LocalHardTimeout = 30 * time.Minute

	// DefaultSSHConnectTimeout bounds the initial TCP+auth handshake.
	DefaultSSHConnectTimeout = 15 * time.Second
)

// Result is the outcome of one command execution.
type Result struct {
	Output string
	Err    error
}

// Failed reports whether the command should be treated as a step failure.
func (r Result) Failed() bool {
	return r.Err != nil
}

// effectiveTimeout narrows LocalHardTimeout to a step's own configured
// timeout when one is set and shorter; it never lets a step's timeout
// extend past the hard cap.
func effectiveTimeout(stepTimeout time.Duration) time.Duration {
	if stepTimeout <= 0 || stepTimeout > LocalHardTimeout {
		return LocalHardTimeout
	}
	return stepTimeout
}

// Execute runs command under a shell in workingDir with env merged onto
// the caller's process environment, per spec.md §4.2. A non-zero exit
// produces a non-nil Err; partial output is still returned. timeout<=0
// falls back to LocalHardTimeout; a step's own configured timeout narrows
// that deadline further but can never exceed it, per spec.md §5's
// unconditional 30-minute hard cap on local commands.
func Execute(ctx context.Context, command, workingDir string, env map[string]string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, effectiveTimeout(timeout))
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = workingDir
	cmd.Env = mergeEnv(os.Environ(), env)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := buf.String()
	if err != nil {
		return Result{Output: out, Err: fmt.Errorf("executor: command failed: %w", err)}
	}
	return Result{Output: out}
}

// RemoteTarget identifies the host and credentials for SSH-based execution.
type RemoteTarget struct {
	Host           string
	User           string
	KeyPath        string
	ConnectTimeout time.Duration
}

func (t RemoteTarget) sshArgs() []string {
	timeout := t.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultSSHConnectTimeout
	}
	return []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "IdentitiesOnly=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(timeout.Seconds())),
		"-i", t.KeyPath,
		fmt.Sprintf("%s@%s", t.User, t.Host),
	}
}

// ExecuteRemote runs command on target over ssh, cd-ing into
// workingDir and exporting env first, per spec.md §4.2. timeout is
// clamped the same way Execute clamps it.
func ExecuteRemote(ctx context.Context, command string, target RemoteTarget, workingDir string, env map[string]string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, effectiveTimeout(timeout))
	defer cancel()

	remoteCmd := buildRemoteCommand(command, workingDir, env)

	args := append(target.sshArgs(), remoteCmd)
	cmd := exec.CommandContext(ctx, "ssh", args...)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := buf.String()
	if err != nil {
		return Result{Output: out, Err: fmt.Errorf("executor: remote command failed: %w", err)}
	}
	return Result{Output: out}
}

// Upload copies localPath to remoteDestPath on target via scp.
func Upload(ctx context.Context, localPath string, target RemoteTarget, remoteDestPath string) Result {
	timeout := target.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultSSHConnectTimeout
	}
	args := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "IdentitiesOnly=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(timeout.Seconds())),
		"-i", target.KeyPath,
		localPath,
		fmt.Sprintf("%s@%s:%s", target.User, target.Host, remoteDestPath),
	}
	cmd := exec.CommandContext(ctx, "scp", args...)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := buf.String()
	if err != nil {
		return Result{Output: out, Err: fmt.Errorf("executor: upload failed: %w", err)}
	}
	return Result{Output: out}
}

// ProbeEcho runs a trivial remote echo to validate that a key
// authenticates against target, used both by the Deployer's release
// sequence and by its key-recovery path (spec.md §4.3.1).
func ProbeEcho(ctx context.Context, target RemoteTarget) bool {
	result := ExecuteRemote(ctx, "echo lightci-probe", target, "", nil, 0)
	return !result.Failed()
}

func buildRemoteCommand(command, workingDir string, env map[string]string) string {
	var b bytes.Buffer
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s; ", k, shellQuote(env[k]))
	}
	if workingDir != "" {
		fmt.Fprintf(&b, "cd %s && ", shellQuote(workingDir))
	}
	b.WriteString(command)
	return b.String()
}

func shellQuote(s string) string {
	return "'" + bytesReplaceAll(s) + "'"
}

func bytesReplaceAll(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, len(base), len(base)+len(overrides))
	copy(out, base)
	for k, v := range overrides {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
