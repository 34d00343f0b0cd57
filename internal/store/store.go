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

// Package store is the Persistence Gateway: the sole mediator of durable
// state for pipelines, runs, artifacts, auto-deployments, and SSH keys.
// It is backed by PostgreSQL via pgx/v5's pgxpool, and is the only
// package in this module that imports pgx directly.
//
// Columns typed as jsonb in the schema (steps, trigger, artifactPolicy,
// deployment, stepResults, logs, metadata) are marshaled/unmarshaled at
// this boundary; callers above the Gateway only see typed domain values,
// per SPEC_FULL.md's dynamic-JSON-fields decision.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Gateway wraps a pgxpool.Pool and exposes typed operations over the
// core entities. The zero value is not usable; construct with Open.
type Gateway struct {
	pool *pgxpool.Pool
}

// Open parses dsn and establishes a connection pool. Callers must call
// Close on the returned Gateway during shutdown.
func Open(ctx context.Context, dsn string) (*Gateway, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Gateway{pool: pool}, nil
}

// Close releases all pooled connections.
func (g *Gateway) Close() {
	g.pool.Close()
}

// Pool exposes the underlying pool for components (such as the
// migration bootstrap in cmd/orchestrator) that need raw SQL access
// outside the Gateway's typed operations.
func (g *Gateway) Pool() *pgxpool.Pool {
	return g.pool
}
