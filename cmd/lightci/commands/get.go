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
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lightci/lightci/internal/domain"
)

func newGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Inspect pipelines and runs",
	}

	cmd.AddCommand(newGetPipelineCommand())
	cmd.AddCommand(newGetRunsCommand())
	cmd.AddCommand(newGetRunCommand())

	return cmd
}

func newGetPipelineCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "pipeline <pipeline-id>",
		Aliases: []string{"pipelines"},
		Short:   "Show a pipeline's configuration",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			gw, _, closeGW, err := openGateway(ctx)
			if err != nil {
				return err
			}
			defer closeGW()

			p, err := gw.FindPipeline(ctx, args[0])
			if err != nil {
				return fmt.Errorf("find pipeline: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:         %s\n", p.ID)
			fmt.Fprintf(out, "Name:       %s\n", p.Name)
			fmt.Fprintf(out, "Repository: %s\n", p.RepositoryURL)
			fmt.Fprintf(out, "Branch:     %s\n", p.DefaultBranch)
			fmt.Fprintf(out, "Deployment: enabled=%t mode=%s strategy=%s\n", p.Deployment.Enabled, p.Deployment.Mode, p.Deployment.Strategy)

			fmt.Fprintln(out, "\nSteps:")
			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "  NAME\tRUN LOCATION\tDEPLOY STEP")
			for _, s := range p.Steps {
				fmt.Fprintf(w, "  %s\t%s\t%t\n", s.Name, s.RunLocation, s.IsDeployStep)
			}
			return w.Flush()
		},
	}
}

func newGetRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs <pipeline-id>",
		Short: "List runs for a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			gw, _, closeGW, err := openGateway(ctx)
			if err != nil {
				return err
			}
			defer closeGW()

			runs, err := gw.ListRuns(ctx, args[0], limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tBRANCH\tCOMMIT\tSTATUS\tTRIGGERED BY\tAGE")
			for _, run := range runs {
				commit := run.Commit
				if len(commit) > 7 {
					commit = commit[:7]
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					run.ID, run.Branch, commit, run.Status, run.TriggeredBy, formatAge(run.StartTime))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}

func newGetRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <run-id>",
		Short: "Show a run's step results",
		Args:  cobra.ExactArgs(1),
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
			fmt.Fprintf(out, "ID:           %s\n", run.ID)
			fmt.Fprintf(out, "Pipeline:     %s\n", run.PipelineID)
			fmt.Fprintf(out, "Branch:       %s\n", run.Branch)
			fmt.Fprintf(out, "Commit:       %s\n", run.Commit)
			fmt.Fprintf(out, "Status:       %s\n", run.Status)
			fmt.Fprintf(out, "Triggered By: %s\n", run.TriggeredBy)
			fmt.Fprintf(out, "Start Time:   %s\n", run.StartTime.Format(time.RFC3339))
			if run.CompletionTime != nil {
				fmt.Fprintf(out, "Completed:    %s\n", run.CompletionTime.Format(time.RFC3339))
			}
			if run.Error != "" {
				fmt.Fprintf(out, "Error:        %s\n", run.Error)
			}
			if run.Artifacts.Collected {
				fmt.Fprintf(out, "Artifacts:    %d files, %d bytes, at %s\n", run.Artifacts.Count, run.Artifacts.SizeBytes, run.Artifacts.BasePath)
			}

			if len(run.StepResults) == 0 {
				return nil
			}

			fmt.Fprintln(out, "\nSteps:")
			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "  NAME\tSTATUS\tLOCATION\tDURATION")
			for _, s := range run.StepResults {
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", s.Name, s.Status, s.RunLocation, stepDuration(s))
			}
			return w.Flush()
		},
	}
}

func stepDuration(s domain.StepResult) string {
	if s.StartTime == nil || s.EndTime == nil {
		return "-"
	}
	return s.EndTime.Sub(*s.StartTime).Round(time.Second).String()
}

func formatAge(t time.Time) string {
	d := time.Since(t).Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
