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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lightci/lightci/internal/domain"
)

const defaultUsername = "ec2-user"

// selectInstance implements spec.md §4.3's instance-selection step for
// both automatic and manual deployment modes, and resolves the SSH key
// material to connect with. The returned bool reports whether KeyPath is
// a file the Deployer itself materialized (and therefore owns and may
// delete once the run is done) as opposed to a pre-existing key found on
// disk via a key-pair-name or *.pem scan, which belongs to the operator
// and must never be removed by LightCI.
func (d *Deployer) selectInstance(ctx context.Context, req Request) (RemoteTarget, bool, map[string]string, error) {
	cfg := req.Config
	details := map[string]string{}

	if cfg.Mode == domain.DeployModeManual {
		keyPath, err := d.materializeKey(ctx, cfg.SSHKeyID)
		if err != nil {
			return RemoteTarget{}, false, details, fmt.Errorf("deploy: resolve manual-mode key: %w", err)
		}
		return RemoteTarget{Host: cfg.InstanceID, User: firstNonEmpty(cfg.Username, defaultUsername), KeyPath: keyPath}, true, details, nil
	}

	active, err := d.gw.FindNewestActiveAutoDeployment(ctx, req.PipelineID)
	if err != nil {
		return RemoteTarget{}, false, details, fmt.Errorf("deploy: lookup active auto-deployment: %w", err)
	}

	if active != nil && d.provisioner.HealthCheck(ctx, active.InstanceID) {
		details["instanceId"] = active.InstanceID
		details["reused"] = "true"
		return d.targetForAutoDeployment(ctx, active, cfg)
	}

	if active != nil {
		_ = d.provisioner.Terminate(ctx, active.ID, active.InstanceID)
		_ = d.gw.UpdateAutoDeploymentStatus(ctx, active.ID, domain.DeploymentTerminated)
	}

	provisioned, err := d.provisioner.Provision(ctx, req.OwnerID, req.PipelineID)
	if err != nil {
		return RemoteTarget{}, false, details, fmt.Errorf("deploy: provision instance: %w", err)
	}
	details["instanceId"] = provisioned.InstanceID
	details["reused"] = "false"

	keyPath, err := d.materializeKey(ctx, cfg.SSHKeyID)
	if err != nil {
		return RemoteTarget{}, false, details, fmt.Errorf("deploy: resolve key for new instance: %w", err)
	}

	return RemoteTarget{Host: provisioned.PublicDNS, User: firstNonEmpty(cfg.Username, defaultUsername), KeyPath: keyPath}, true, details, nil
}

func (d *Deployer) targetForAutoDeployment(ctx context.Context, active *domain.AutoDeployment, cfg domain.DeploymentConfig) (RemoteTarget, bool, map[string]string, error) {
	details := map[string]string{"instanceId": active.InstanceID, "reused": "true"}

	dns, err := d.provisioner.PublicDNS(ctx, active.InstanceID)
	if err != nil {
		return RemoteTarget{}, false, details, fmt.Errorf("deploy: resolve dns for reused instance: %w", err)
	}

	keyID := firstNonEmpty(cfg.SSHKeyID, active.SSHKeyID)
	var keyPath string
	var ephemeral bool
	if keyID != "" {
		keyPath, err = d.materializeKey(ctx, keyID)
		ephemeral = true
	} else if pairName := active.Metadata["sshKeyPairName"]; pairName != "" {
		keyPath, err = d.scanForKey(pairName)
		ephemeral = false
	} else {
		err = errNoKeyReference
	}
	if err != nil {
		return RemoteTarget{}, false, details, fmt.Errorf("deploy: resolve key for reused instance: %w", err)
	}

	return RemoteTarget{Host: dns, User: firstNonEmpty(cfg.Username, defaultUsername), KeyPath: keyPath}, ephemeral, details, nil
}

var errNoKeyReference = errors.New("deploy: no ssh key reference on config or auto-deployment")

// materializeKey fetches key material by id and writes it to a 0600
// temp file; callers remove it in the deploy's cleanup block.
func (d *Deployer) materializeKey(ctx context.Context, keyID string) (string, error) {
	if keyID == "" {
		return "", errNoKeyReference
	}
	key, err := d.gw.FindSSHKey(ctx, keyID)
	if err != nil {
		return "", err
	}
	return writeKeyFile(d.tempRoot, key.PrivateKey)
}

func writeKeyFile(root, privateKey string) (string, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return "", fmt.Errorf("deploy: create key temp dir: %w", err)
	}
	f, err := os.CreateTemp(root, "lightci-key-*.pem")
	if err != nil {
		return "", fmt.Errorf("deploy: create key temp file: %w", err)
	}
	defer f.Close()

	if err := f.Chmod(0o600); err != nil {
		return "", fmt.Errorf("deploy: chmod key file: %w", err)
	}
	if _, err := f.WriteString(privateKey); err != nil {
		return "", fmt.Errorf("deploy: write key file: %w", err)
	}
	return f.Name(), nil
}

// recoverKey implements spec.md §4.3.1's recovery order once an echo-back
// probe has already failed: explicit key id, AutoDeployment.SSHKeyID,
// key pair name in AutoDeployment metadata, then a *.pem filesystem scan.
// The filesystem scan runs unconditionally, including in manual mode
// (which has no AutoDeployment record at all) - only the
// metadata-writeback step is specific to automatic deployments. A
// successfully recovered key is written back onto the AutoDeployment's
// metadata, when one exists, so the next run skips the scan.
func (d *Deployer) recoverKey(ctx context.Context, req Request, target RemoteTarget) (string, error) {
	active, err := d.gw.FindNewestActiveAutoDeployment(ctx, req.PipelineID)
	if err != nil {
		active = nil
	}

	candidates := scanKeyCandidates(candidateDirs(req))
	for _, path := range candidates {
		candidate := RemoteTarget{Host: target.Host, User: target.User, KeyPath: path}
		if d.remote.Probe(ctx, candidate) {
			if active != nil {
				_ = d.gw.UpdateAutoDeploymentMetadata(ctx, active.ID, map[string]string{"sshKeyPairName": filepath.Base(path)})
			}
			return path, nil
		}
	}
	return "", fmt.Errorf("deploy: no recoverable key authenticated against %s", target.Host)
}

// candidateDirs lists the directories spec.md §4.3.1 names for *.pem
// recovery. /tmp is only scanned when AllowTmpKeyScan is set, per
// SPEC_FULL.md §13 decision 4 — an unconditional /tmp scan on a
// multi-tenant orchestrator host is a credential-leakage risk the
// original design note flags for review.
func candidateDirs(_ Request) []string {
	home, _ := os.UserHomeDir()
	dirs := []string{filepath.Join(home, ".ssh")}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	if allowTmpKeyScan() {
		dirs = append(dirs, "/tmp")
	}
	return dirs
}

// allowTmpKeyScan is overridden by cmd/orchestrator from config.AllowTmpKeyScan.
var allowTmpKeyScanFlag = false

func allowTmpKeyScan() bool { return allowTmpKeyScanFlag }

// SetAllowTmpKeyScan wires the AllowTmpKeyScan configuration flag into
// the recovery scan's directory list.
func SetAllowTmpKeyScan(allow bool) { allowTmpKeyScanFlag = allow }

func scanKeyCandidates(dirs []string) []string {
	type candidate struct {
		path    string
		modTime time.Time
	}
	var found []candidate

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".pem" {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			found = append(found, candidate{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].modTime.After(found[j].modTime) })

	paths := make([]string, len(found))
	for i, c := range found {
		paths[i] = c.path
	}
	return paths
}

func (d *Deployer) scanForKey(keyPairName string) (string, error) {
	for _, dir := range []string{mustHomeSSH(), "."} {
		candidate := filepath.Join(dir, keyPairName+".pem")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("deploy: key pair %q not found on disk", keyPairName)
}

func mustHomeSSH() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ssh")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
