package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyhub/keyhub/internal/model"
	"github.com/keyhub/keyhub/internal/service"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage operators",
		Long:  "List and remove the operators that have signed in through the identity provider.",
	}

	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserDeleteCmd())

	return cmd
}

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List operators",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			users, err := e.store.ListUsers(cmdCtx())
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, model.NewListResponse(users))
			}
			if len(users) == 0 {
				fmt.Fprintln(out, "No operators yet. Users are created on their first sign-in.")
				return nil
			}
			fmt.Fprintf(out, "%-6s %s\n", "ID", "NAME")
			for _, u := range users {
				fmt.Fprintf(out, "%-6d %s\n", u.ID, u.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newUserDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove an operator and end their sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID[model.UserID]("user", args[0])
			if err != nil {
				return err
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			ok, err := e.store.DeleteUser(cmdCtx(), id)
			if err != nil {
				return fmt.Errorf("delete user %d: %w", id, err)
			}
			if !ok {
				return fmt.Errorf("delete user %d: %w", id, service.ErrNotFound)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %d deleted\n", id)
			return nil
		},
	}
}
