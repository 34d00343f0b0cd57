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

// CreateArtifacts bulk-inserts the ArtifactRecords produced by one
// Artifact Collector pass. Called once per collect() invocation.
func (g *Gateway) CreateArtifacts(ctx context.Context, records []domain.ArtifactRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO artifacts (id, run_id, name, relative_path, size_bytes, content_type, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, rec.ID, rec.RunID, rec.Name, rec.RelPath, rec.SizeBytes, rec.ContentType, rec.CreatedAt)
	}

	br := g.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: create artifacts: %w", err)
		}
	}
	return nil
}

// FindArtifact looks up a single artifact by id. Invariant enforcement
// (only visible once the run's ArtifactSummary.Collected=true) is the
// caller's responsibility — this is a plain lookup.
func (g *Gateway) FindArtifact(ctx context.Context, id string) (*domain.ArtifactRecord, error) {
	var rec domain.ArtifactRecord
	err := g.pool.QueryRow(ctx, `
		SELECT id, run_id, name, relative_path, size_bytes, content_type, created_at
		FROM artifacts WHERE id = $1
	`, id).Scan(&rec.ID, &rec.RunID, &rec.Name, &rec.RelPath, &rec.SizeBytes, &rec.ContentType, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("store: find artifact: %w", err)
	}
	return &rec, nil
}

// ListArtifactsByRun returns every ArtifactRecord collected for a run.
func (g *Gateway) ListArtifactsByRun(ctx context.Context, runID string) ([]domain.ArtifactRecord, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT id, run_id, name, relative_path, size_bytes, content_type, created_at
		FROM artifacts WHERE run_id = $1
		ORDER BY relative_path
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list artifacts: %w", err)
	}
	defer rows.Close()

	var out []domain.ArtifactRecord
	for rows.Next() {
		var rec domain.ArtifactRecord
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Name, &rec.RelPath, &rec.SizeBytes, &rec.ContentType, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan artifact: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteArtifactsOlderThan removes artifact rows whose run has an
// expired ArtifactSummary, consulted by the retention-reaper in
// cmd/orchestrator.
func (g *Gateway) DeleteArtifactsByRun(ctx context.Context, runID string) error {
	_, err := g.pool.Exec(ctx, `DELETE FROM artifacts WHERE run_id = $1`, runID)
	if err != nil {
		return fmt.Errorf("store: delete artifacts: %w", err)
	}
	return nil
}
