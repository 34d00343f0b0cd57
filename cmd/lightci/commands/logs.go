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

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newLogsCommand prints a finished run's step output. Unlike the
// teacher's websocket-backed `pkg/cli/logs.go`, this reads the output
// already persisted on PipelineRun.StepResults/Logs rather than
// attaching to a live stream: internal/runlog's EventBus and Registry
// are in-memory and scoped to the orchestrator process, so a separate
// CLI invocation has no socket to attach to.
func newLogsCommand() *cobra.Command {
	var stepName string

	cmd := &cobra.Command{
		Use:   "logs <run-id>",
		Short: "Print a run's step output",
		Args:  cobra.ExactArgs(1),
		Example: `  lightci logs run-abc123
  lightci logs run-abc123 --step Build`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			gw, _, closeGW, err := openGateway(ctx)
			if err != nil {
				return err
			}
			defer closeGW()

			run, err := gw.FindRun(ctx, args[0])
			if err != nil {
				return fmt.Errorf("find run: %w", err)
			}

			out := cmd.OutOrStdout()

			for _, line := range run.Logs {
				fmt.Fprintln(out, line)
			}

			for _, step := range run.StepResults {
				if stepName != "" && step.Name != stepName {
					continue
				}
				fmt.Fprintf(out, "=== %s (%s) ===\n", step.Name, step.Status)
				if step.Output != "" {
					fmt.Fprintln(out, step.Output)
				}
				if step.Error != "" {
					fmt.Fprintf(out, "error: %s\n", step.Error)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&stepName, "step", "", "Only print output for this step")
	return cmd
}
