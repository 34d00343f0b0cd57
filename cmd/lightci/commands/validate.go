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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lightci/lightci/internal/parser"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Parse and validate a pipeline definition file",
		Args:  cobra.ExactArgs(1),
		Example: `  lightci validate pipeline.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := parser.ParseFile(args[0])
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "invalid pipeline configuration\n\n%v\n", err)
				return fmt.Errorf("validation failed")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "valid pipeline configuration\n\n")
			fmt.Fprintf(cmd.OutOrStdout(), "Pipeline: %s\n", pipeline.Name)
			fmt.Fprintf(cmd.OutOrStdout(), "Repository: %s\n", pipeline.RepositoryURL)
			fmt.Fprintf(cmd.OutOrStdout(), "Steps: %d\n", len(pipeline.Steps))
			return nil
		},
	}
}
