package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keyhub/keyhub/internal/model"
	"github.com/keyhub/keyhub/internal/service"
)

func newClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage clients",
		Long:  "Create, list and delete the integration partners that can be granted keys.",
	}

	cmd.AddCommand(newClientCreateCmd())
	cmd.AddCommand(newClientListCmd())
	cmd.AddCommand(newClientDeleteCmd())

	return cmd
}

// ---------- client create ----------

func newClientCreateCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:     "create <name>",
		Short:   "Register a new client",
		Example: `  keyhub client create acme --description "Acme Corp billing integration"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			c, err := service.NewClientService(e.store, nil, e.log).CreateClient(cmdCtx(), args[0], description)
			if err != nil {
				return fmt.Errorf("create client: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Client %q created with id %d\n", c.Name, c.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "Free-form description")

	return cmd
}

// ---------- client list ----------

func newClientListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			clients, err := e.store.ListClients(cmdCtx())
			if err != nil {
				return fmt.Errorf("list clients: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, model.NewListResponse(clients))
			}
			if len(clients) == 0 {
				fmt.Fprintln(out, "No clients registered. Use 'keyhub client create' to add one.")
				return nil
			}
			fmt.Fprintf(out, "%-6s %-24s %s\n", "ID", "NAME", "DESCRIPTION")
			for _, c := range clients {
				fmt.Fprintf(out, "%-6d %-24s %s\n", c.ID, c.Name, c.Description)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- client delete ----------

func newClientDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a client and all of its key associations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID[model.ClientID]("client", args[0])
			if err != nil {
				return err
			}
			if !yes && !confirm(fmt.Sprintf("Delete client %d and every secret it holds?", id)) {
				return nil
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := service.NewClientService(e.store, nil, e.log).DeleteClient(cmdCtx(), id); err != nil {
				return fmt.Errorf("delete client %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Client %d deleted\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

// confirm asks a yes/no question on stderr. Non-interactive runs must pass
// --yes instead.
func confirm(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	var answer string
	fmt.Fscanln(os.Stdin, &answer)
	return answer == "y" || answer == "Y" || answer == "yes"
}
