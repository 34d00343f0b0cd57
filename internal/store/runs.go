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

// CreateRun inserts a new pipeline run row, typically in status=running
// with every step pre-populated at StepPending (see runner.Start).
func (g *Gateway) CreateRun(ctx context.Context, r *domain.PipelineRun) error {
	stepResults, err := marshalJSON(r.StepResults)
	if err != nil {
		return fmt.Errorf("store: marshal step results: %w", err)
	}
	logs, err := marshalJSON(r.Logs)
	if err != nil {
		return fmt.Errorf("store: marshal logs: %w", err)
	}
	artifacts, err := marshalJSON(r.Artifacts)
	if err != nil {
		return fmt.Errorf("store: marshal artifacts: %w", err)
	}

	_, err = g.pool.Exec(ctx, `
		INSERT INTO pipeline_runs
			(id, pipeline_id, branch, commit, status, start_time, completion_time,
			 step_results, logs, error, artifacts, triggered_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, r.ID, r.PipelineID, r.Branch, r.Commit, r.Status, r.StartTime, r.CompletionTime,
		stepResults, logs, r.Error, artifacts, r.TriggeredBy)
	if err != nil {
		return fmt.Errorf("store: create run: %w", err)
	}
	return nil
}

// FindRun looks up a single run by id.
func (g *Gateway) FindRun(ctx context.Context, id string) (*domain.PipelineRun, error) {
	row := g.pool.QueryRow(ctx, `
		SELECT id, pipeline_id, branch, commit, status, start_time, completion_time,
		       step_results, logs, error, artifacts, triggered_by
		FROM pipeline_runs WHERE id = $1
	`, id)
	return scanRun(row)
}

// FindActiveRun returns the in-flight run (status=running) for a
// pipeline, if any; used by the Scheduler's at-most-one-active guard.
func (g *Gateway) FindActiveRun(ctx context.Context, pipelineID string) (*domain.PipelineRun, error) {
	row := g.pool.QueryRow(ctx, `
		SELECT id, pipeline_id, branch, commit, status, start_time, completion_time,
		       step_results, logs, error, artifacts, triggered_by
		FROM pipeline_runs
		WHERE pipeline_id = $1 AND status = $2
		ORDER BY start_time DESC
		LIMIT 1
	`, pipelineID, domain.RunRunning)
	run, err := scanRun(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return run, err
}

// ListRuns returns runs for a pipeline newest-first, capped at limit.
func (g *Gateway) ListRuns(ctx context.Context, pipelineID string, limit int) ([]*domain.PipelineRun, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT id, pipeline_id, branch, commit, status, start_time, completion_time,
		       step_results, logs, error, artifacts, triggered_by
		FROM pipeline_runs
		WHERE pipeline_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, pipelineID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []*domain.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// UpdateRun persists the full mutable state of a run: status, step
// results, logs, error, and artifact summary. Called after every step
// transition so readers always observe a consistent prefix (spec.md §5).
func (g *Gateway) UpdateRun(ctx context.Context, r *domain.PipelineRun) error {
	stepResults, err := marshalJSON(r.StepResults)
	if err != nil {
		return fmt.Errorf("store: marshal step results: %w", err)
	}
	logs, err := marshalJSON(r.Logs)
	if err != nil {
		return fmt.Errorf("store: marshal logs: %w", err)
	}
	artifacts, err := marshalJSON(r.Artifacts)
	if err != nil {
		return fmt.Errorf("store: marshal artifacts: %w", err)
	}

	tag, err := g.pool.Exec(ctx, `
		UPDATE pipeline_runs SET
			status = $2, completion_time = $3, step_results = $4,
			logs = $5, error = $6, artifacts = $7
		WHERE id = $1
	`, r.ID, r.Status, r.CompletionTime, stepResults, logs, r.Error, artifacts)
	if err != nil {
		return fmt.Errorf("store: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanRun(r row) (*domain.PipelineRun, error) {
	var run domain.PipelineRun
	var stepResults, logs, artifacts []byte

	err := r.Scan(&run.ID, &run.PipelineID, &run.Branch, &run.Commit, &run.Status,
		&run.StartTime, &run.CompletionTime, &stepResults, &logs, &run.Error,
		&artifacts, &run.TriggeredBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("store: scan run: %w", err)
	}

	if err := unmarshalJSON(stepResults, &run.StepResults); err != nil {
		return nil, fmt.Errorf("store: unmarshal step results: %w", err)
	}
	if err := unmarshalJSON(logs, &run.Logs); err != nil {
		return nil, fmt.Errorf("store: unmarshal logs: %w", err)
	}
	if err := unmarshalJSON(artifacts, &run.Artifacts); err != nil {
		return nil, fmt.Errorf("store: unmarshal artifacts: %w", err)
	}
	return &run, nil
}
