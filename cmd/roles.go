package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

func newRolesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Inspect and assign model roles",
	}
	cmd.AddCommand(newRolesListCmd(a), newRolesSetCmd(a))
	return cmd
}

func newRolesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List role assignments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			roles, err := a.client().ListRoles(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range roles {
				state := errorStyle.Render("missing")
				if r.Ready {
					state = doneStyle.Render("ready")
				}
				provider := r.Provider
				if r.Model != "" {
					provider += "/" + r.Model
				}
				if provider == "" {
					provider = dimStyle.Render("unassigned")
				}
				fmt.Fprintf(out, "%-10s %-8s %s\n", r.Role, state, provider)
			}
			return nil
		},
	}
}

func newRolesSetCmd(a *app) *cobra.Command {
	var (
		model         string
		credential    string
		credentialEnv string
	)
	cmd := &cobra.Command{
		Use:   "set <role> <provider>",
		Short: "Assign a provider to a role",
		Long: `Assign a provider to a role. The credential is read from --credential,
from the variable named by --credential-env, or interactively.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if credential == "" && credentialEnv != "" {
				credential = os.Getenv(credentialEnv)
			}
			provider := strings.ToLower(args[1])
			if credential == "" {
				prompt := promptui.Prompt{
					Label:  fmt.Sprintf("%s credential for %s", provider, args[0]),
					Mask:   '*',
					Stdin:  nopReadCloser{cmd.InOrStdin()},
					Stdout: nopWriteCloser{cmd.OutOrStdout()},
				}
				value, err := prompt.Run()
				if err != nil {
					return err
				}
				credential = value
			}

			view, err := a.client().UpdateRole(cmd.Context(), args[0], &domain.RoleUpdateRequest{
				Provider:   provider,
				Model:      model,
				Credential: credential,
			})
			if err != nil {
				return err
			}
			state := "not ready"
			if view.Ready {
				state = "ready"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", view.Role, view.Provider, state)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model name")
	cmd.Flags().StringVar(&credential, "credential", "", "provider credential")
	cmd.Flags().StringVar(&credentialEnv, "credential-env", "", "environment variable holding the credential")
	return cmd
}
