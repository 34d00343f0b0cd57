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

// CreatePipeline inserts a new pipeline. p.ID, CreatedAt, and UpdatedAt
// are expected to already be populated by the caller.
func (g *Gateway) CreatePipeline(ctx context.Context, p *domain.Pipeline) error {
	steps, err := marshalJSON(p.Steps)
	if err != nil {
		return fmt.Errorf("store: marshal steps: %w", err)
	}
	trigger, err := marshalJSON(p.Trigger)
	if err != nil {
		return fmt.Errorf("store: marshal trigger: %w", err)
	}
	artifactPolicy, err := marshalJSON(p.ArtifactPolicy)
	if err != nil {
		return fmt.Errorf("store: marshal artifact policy: %w", err)
	}
	deployment, err := marshalJSON(p.Deployment)
	if err != nil {
		return fmt.Errorf("store: marshal deployment: %w", err)
	}

	_, err = g.pool.Exec(ctx, `
		INSERT INTO pipelines
			(id, name, repository_url, default_branch, steps, trigger,
			 artifact_policy, deployment, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.Name, p.RepositoryURL, p.DefaultBranch, steps, trigger,
		artifactPolicy, deployment, p.OwnerID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create pipeline: %w", err)
	}
	return nil
}

// FindPipeline looks up a single pipeline by id.
func (g *Gateway) FindPipeline(ctx context.Context, id string) (*domain.Pipeline, error) {
	row := g.pool.QueryRow(ctx, `
		SELECT id, name, repository_url, default_branch, steps, trigger,
		       artifact_policy, deployment, owner_id, created_at, updated_at
		FROM pipelines WHERE id = $1
	`, id)
	return scanPipeline(row)
}

// FindPipelineByRepository locates the pipeline bound to a repository URL,
// used by the webhook adapter to route an incoming push event.
func (g *Gateway) FindPipelineByRepository(ctx context.Context, repositoryURL string) (*domain.Pipeline, error) {
	row := g.pool.QueryRow(ctx, `
		SELECT id, name, repository_url, default_branch, steps, trigger,
		       artifact_policy, deployment, owner_id, created_at, updated_at
		FROM pipelines WHERE repository_url = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, repositoryURL)
	return scanPipeline(row)
}

// ListScheduledPipelines returns every pipeline with a non-empty cron
// expression, consulted by the Scheduler at startup and on reconcile.
func (g *Gateway) ListScheduledPipelines(ctx context.Context) ([]*domain.Pipeline, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT id, name, repository_url, default_branch, steps, trigger,
		       artifact_policy, deployment, owner_id, created_at, updated_at
		FROM pipelines
		WHERE trigger->>'cron' IS NOT NULL AND trigger->>'cron' != ''
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list scheduled pipelines: %w", err)
	}
	defer rows.Close()

	var out []*domain.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePipeline overwrites the mutable fields of an existing pipeline.
func (g *Gateway) UpdatePipeline(ctx context.Context, p *domain.Pipeline) error {
	steps, err := marshalJSON(p.Steps)
	if err != nil {
		return fmt.Errorf("store: marshal steps: %w", err)
	}
	trigger, err := marshalJSON(p.Trigger)
	if err != nil {
		return fmt.Errorf("store: marshal trigger: %w", err)
	}
	artifactPolicy, err := marshalJSON(p.ArtifactPolicy)
	if err != nil {
		return fmt.Errorf("store: marshal artifact policy: %w", err)
	}
	deployment, err := marshalJSON(p.Deployment)
	if err != nil {
		return fmt.Errorf("store: marshal deployment: %w", err)
	}

	tag, err := g.pool.Exec(ctx, `
		UPDATE pipelines SET
			name = $2, repository_url = $3, default_branch = $4, steps = $5,
			trigger = $6, artifact_policy = $7, deployment = $8, updated_at = $9
		WHERE id = $1
	`, p.ID, p.Name, p.RepositoryURL, p.DefaultBranch, steps, trigger,
		artifactPolicy, deployment, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: update pipeline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeletePipeline removes a pipeline. Runs, artifacts, and deployments
// tied to it are left for the caller to reap (the Runner refuses to
// delete a pipeline with an active run; see spec.md §5).
func (g *Gateway) DeletePipeline(ctx context.Context, id string) error {
	tag, err := g.pool.Exec(ctx, `DELETE FROM pipelines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete pipeline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// row is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query) for Scan.
type row interface {
	Scan(dest ...any) error
}

func scanPipeline(r row) (*domain.Pipeline, error) {
	var p domain.Pipeline
	var steps, trigger, artifactPolicy, deployment []byte

	err := r.Scan(&p.ID, &p.Name, &p.RepositoryURL, &p.DefaultBranch, &steps,
		&trigger, &artifactPolicy, &deployment, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("store: scan pipeline: %w", err)
	}

	if err := unmarshalJSON(steps, &p.Steps); err != nil {
		return nil, fmt.Errorf("store: unmarshal steps: %w", err)
	}
	if err := unmarshalJSON(trigger, &p.Trigger); err != nil {
		return nil, fmt.Errorf("store: unmarshal trigger: %w", err)
	}
	if err := unmarshalJSON(artifactPolicy, &p.ArtifactPolicy); err != nil {
		return nil, fmt.Errorf("store: unmarshal artifact policy: %w", err)
	}
	if err := unmarshalJSON(deployment, &p.Deployment); err != nil {
		return nil, fmt.Errorf("store: unmarshal deployment: %w", err)
	}
	return &p, nil
}
