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

// Package commands implements the lightci CLI's subcommands. Each
// command that needs persistence opens its own Gateway connection
// directly: there is no HTTP/RPC boundary between this binary and the
// orchestrator daemon, both talk to the same database through
// internal/store.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lightci/lightci/internal/config"
	"github.com/lightci/lightci/internal/store"
)

var configPath string

// NewRootCommand builds the lightci root command with every subcommand
// attached.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lightci",
		Short: "Operate LightCI pipelines",
		Long: `lightci is the operator CLI for the LightCI orchestration engine.

It validates pipeline definitions, starts runs, inspects run history, and
manages deployment SSH keys, talking to the same Persistence Gateway the
orchestrator daemon uses.`,
		Example: `  # Validate a pipeline definition before committing it
  lightci validate pipeline.yaml

  # Start a run and wait for it to finish
  lightci run web-service --branch main --commit abc123

  # Inspect a run's step output
  lightci get run run-abc123
  lightci logs run-abc123`,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the lightci config file (leave empty to search ./ and /etc/lightci/)")

	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newLogsCommand())
	cmd.AddCommand(newSecretCommand())

	return cmd
}

// openGateway loads the configured lightci config and opens a
// Persistence Gateway connection for the lifetime of a single command
// invocation. Returns the loaded config too, since commands that start
// runs (run) need it to wire the full Runner stack via internal/daemon.
func openGateway(ctx context.Context) (*store.Gateway, *config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	gw, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open persistence gateway: %w", err)
	}
	return gw, cfg, gw.Close, nil
}
