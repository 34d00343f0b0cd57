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

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lightci/lightci/internal/domain"
)

// CreateAutoDeployment inserts a new binding, typically with
// Status=DeploymentProvisioning.
func (g *Gateway) CreateAutoDeployment(ctx context.Context, d *domain.AutoDeployment) error {
	metadata, err := marshalJSON(d.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}
	_, err = g.pool.Exec(ctx, `
		INSERT INTO auto_deployments
			(id, pipeline_id, owner_id, instance_id, region, status, ssh_key_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.ID, d.PipelineID, d.OwnerID, d.InstanceID, d.Region, d.Status, d.SSHKeyID, metadata, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create auto-deployment: %w", err)
	}
	return nil
}

// FindNewestActiveAutoDeployment is the raw ordered SELECT named in
// spec.md §6: the newest AutoDeployment with status=active for a
// pipeline, consulted by the Deployer's instance-selection step.
func (g *Gateway) FindNewestActiveAutoDeployment(ctx context.Context, pipelineID string) (*domain.AutoDeployment, error) {
	row := g.pool.QueryRow(ctx, `
		SELECT id, pipeline_id, owner_id, instance_id, region, status, ssh_key_id, metadata, created_at
		FROM auto_deployments
		WHERE pipeline_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, pipelineID, domain.DeploymentActive)
	d, err := scanAutoDeployment(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return d, err
}

// UpdateAutoDeploymentStatus transitions a binding's status, e.g. to
// Unhealthy after a failed health check or Terminated after teardown.
func (g *Gateway) UpdateAutoDeploymentStatus(ctx context.Context, id string, status domain.DeploymentStatus) error {
	tag, err := g.pool.Exec(ctx, `UPDATE auto_deployments SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("store: update auto-deployment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateAutoDeploymentMetadata merges a recovered key pair name or other
// diagnostic fact back onto a binding, e.g. after SSH key recovery
// (spec.md §4.3.1) so the next run skips the scan.
func (g *Gateway) UpdateAutoDeploymentMetadata(ctx context.Context, id string, metadata map[string]string) error {
	data, err := marshalJSON(metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}
	tag, err := g.pool.Exec(ctx, `UPDATE auto_deployments SET metadata = $2 WHERE id = $1`, id, data)
	if err != nil {
		return fmt.Errorf("store: update auto-deployment metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanAutoDeployment(r row) (*domain.AutoDeployment, error) {
	var d domain.AutoDeployment
	var metadata []byte
	err := r.Scan(&d.ID, &d.PipelineID, &d.OwnerID, &d.InstanceID, &d.Region,
		&d.Status, &d.SSHKeyID, &metadata, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("store: scan auto-deployment: %w", err)
	}
	if err := unmarshalJSON(metadata, &d.Metadata); err != nil {
		return nil, fmt.Errorf("store: unmarshal metadata: %w", err)
	}
	return &d, nil
}

// CreateSSHKey stores a generated or imported key pair, private key
// material included. Only FindSSHKey (not the list operations) returns it.
func (g *Gateway) CreateSSHKey(ctx context.Context, k *domain.SshKey) error {
	_, err := g.pool.Exec(ctx, `
		INSERT INTO ssh_keys (id, name, key_pair_name, private_key, owner_id)
		VALUES ($1, $2, $3, $4, $5)
	`, k.ID, k.Name, k.KeyPairName, k.PrivateKey, k.OwnerID)
	if err != nil {
		return fmt.Errorf("store: create ssh key: %w", err)
	}
	return nil
}

// FindSSHKey returns the full key including private material, for use
// by the Deployer only.
func (g *Gateway) FindSSHKey(ctx context.Context, id string) (*domain.SshKey, error) {
	var k domain.SshKey
	err := g.pool.QueryRow(ctx, `
		SELECT id, name, key_pair_name, private_key, owner_id
		FROM ssh_keys WHERE id = $1
	`, id).Scan(&k.ID, &k.Name, &k.KeyPairName, &k.PrivateKey, &k.OwnerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("store: find ssh key: %w", err)
	}
	return &k, nil
}

// ListSSHKeys returns every key owned by ownerID with PrivateKey
// redacted, per the SshKey list-operations invariant in spec.md §3.
func (g *Gateway) ListSSHKeys(ctx context.Context, ownerID string) ([]domain.SshKey, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT id, name, key_pair_name, owner_id
		FROM ssh_keys WHERE owner_id = $1
		ORDER BY name
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list ssh keys: %w", err)
	}
	defer rows.Close()

	var out []domain.SshKey
	for rows.Next() {
		var k domain.SshKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyPairName, &k.OwnerID); err != nil {
			return nil, fmt.Errorf("store: scan ssh key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
