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

	"github.com/spf13/cobra"

	"github.com/lightci/lightci/internal/sshkeys"
)

// newSecretCommand manages the deploy SSH key pairs internal/sshkeys
// stores, the equivalent of the teacher's `secret.go` Kubernetes Secret
// management re-targeted to this domain's only credential kind.
func newSecretCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "secret",
		Aliases: []string{"secrets"},
		Short:   "Manage deployment SSH key pairs",
	}

	cmd.AddCommand(newSecretGenerateCommand())
	cmd.AddCommand(newSecretListCommand())

	return cmd
}

func newSecretGenerateCommand() *cobra.Command {
	var ownerID string

	cmd := &cobra.Command{
		Use:   "generate <name>",
		Short: "Generate a new SSH key pair for automatic deploys",
		Args:  cobra.ExactArgs(1),
		Example: `  lightci secret generate web-service-key --owner acme-corp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			gw, _, closeGW, err := openGateway(ctx)
			if err != nil {
				return err
			}
			defer closeGW()

			store := sshkeys.NewStore(gw)
			key, authorizedKey, err := store.Generate(ctx, args[0], ownerID)
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:           %s\n", key.ID)
			fmt.Fprintf(out, "Key Pair:     %s\n", key.KeyPairName)
			fmt.Fprintf(out, "Public Key:   %s", authorizedKey)
			fmt.Fprintln(out, "\nThe private key is stored in the Persistence Gateway and never printed here;")
			fmt.Fprintln(out, "the Deployer fetches it by id when provisioning an instance.")
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner id the key is scoped to")
	return cmd
}

func newSecretListCommand() *cobra.Command {
	var ownerID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List SSH key pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			gw, _, closeGW, err := openGateway(ctx)
			if err != nil {
				return err
			}
			defer closeGW()

			store := sshkeys.NewStore(gw)
			keys, err := store.List(ctx, ownerID)
			if err != nil {
				return fmt.Errorf("list keys: %w", err)
			}

			if len(keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No SSH keys found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKEY PAIR\tOWNER")
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPairName, k.OwnerID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Only list keys owned by this id")
	return cmd
}
