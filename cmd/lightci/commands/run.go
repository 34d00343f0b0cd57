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
	"time"

	"github.com/spf13/cobra"

	"github.com/lightci/lightci/internal/daemon"
	"github.com/lightci/lightci/internal/domain"
)

func newRunCommand() *cobra.Command {
	var (
		branch      string
		commit      string
		triggeredBy string
		wait        bool
	)

	cmd := &cobra.Command{
		Use:   "run <pipeline-id>",
		Short: "Start a pipeline run",
		Args:  cobra.ExactArgs(1),
		Example: `  lightci run web-service --branch main --commit abc123
  lightci run web-service --branch main --wait=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			gw, cfg, closeGW, err := openGateway(ctx)
			if err != nil {
				return err
			}
			defer closeGW()

			stack, err := daemon.Build(gw, cfg)
			if err != nil {
				return fmt.Errorf("wire runner stack: %w", err)
			}

			runID, err := stack.Runner.RunPipeline(ctx, args[0], branch, commit, triggeredBy)
			if err != nil {
				return fmt.Errorf("start run: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "started run %s\n", runID)

			if !wait {
				return nil
			}

			for {
				run, err := gw.FindRun(ctx, runID)
				if err != nil {
					return fmt.Errorf("poll run: %w", err)
				}
				if run.Status.IsTerminal() {
					fmt.Fprintf(cmd.OutOrStdout(), "run %s finished: %s\n", runID, run.Status)
					if run.Status == domain.RunFailed {
						return fmt.Errorf("run failed: %s", run.Error)
					}
					return nil
				}
				time.Sleep(2 * time.Second)
			}
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "Branch to run (defaults to the pipeline's default branch)")
	cmd.Flags().StringVar(&commit, "commit", "", "Commit SHA to run (defaults to the branch HEAD)")
	cmd.Flags().StringVar(&triggeredBy, "triggered-by", "cli", "Value recorded as the run's triggeredBy")
	cmd.Flags().BoolVar(&wait, "wait", true, "Wait for the run to reach a terminal status before exiting")

	return cmd
}
