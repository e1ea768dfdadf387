package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyhub/keyhub/internal/model"
	"github.com/keyhub/keyhub/internal/service"
)

func newLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Grant clients access to keys",
		Long: `Associate keys with clients. Each association has its own secret, which
the client presents to fetch the key's active secret.`,
	}

	cmd.AddCommand(newLinkCreateCmd())
	cmd.AddCommand(newLinkRotateCmd())
	cmd.AddCommand(newLinkListCmd())

	return cmd
}

func linkArgs(args []string) (model.ClientID, model.KeyID, error) {
	clientID, err := parseID[model.ClientID]("client", args[0])
	if err != nil {
		return 0, 0, err
	}
	keyID, err := parseID[model.KeyID]("key", args[1])
	if err != nil {
		return 0, 0, err
	}
	return clientID, keyID, nil
}

// ---------- link create ----------

func newLinkCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <client-id> <key-id>",
		Short: "Give a client access to a key",
		Long:  "Associate a key with a client under a freshly generated secret. The secret is printed once.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, keyID, err := linkArgs(args)
			if err != nil {
				return err
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			a, err := service.NewClientService(e.store, nil, e.log).Associate(cmdCtx(), clientID, keyID)
			if err != nil {
				return fmt.Errorf("link client %d to key %d: %w", clientID, keyID, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Client %d linked to key %d\n\n", clientID, keyID)
			fmt.Fprintf(out, "  Secret: %s\n\n", a.Secret)
			fmt.Fprintln(out, "  Hand this secret to the client; it is sent in the X-Client-Secret header.")
			return nil
		},
	}
}

// ---------- link rotate ----------

func newLinkRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <client-id> <key-id>",
		Short: "Replace the secret of a client's association",
		Long:  "Generate a new secret for the association. The old secret stops working immediately.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, keyID, err := linkArgs(args)
			if err != nil {
				return err
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			a, err := service.NewClientService(e.store, nil, e.log).RotateSecret(cmdCtx(), clientID, keyID)
			if err != nil {
				return fmt.Errorf("rotate secret of client %d for key %d: %w", clientID, keyID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "New secret: %s\n", a.Secret)
			return nil
		},
	}
}

// ---------- link list ----------

func newLinkListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list <client-id>",
		Aliases: []string{"ls"},
		Short:   "List the keys a client holds",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clientID, err := parseID[model.ClientID]("client", args[0])
			if err != nil {
				return err
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			views, err := service.NewClientService(e.store, nil, e.log).ListAssociations(cmdCtx(), clientID)
			if err != nil {
				return fmt.Errorf("list keys of client %d: %w", clientID, err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, model.NewListResponse(views))
			}
			if len(views) == 0 {
				fmt.Fprintf(out, "Client %d holds no keys. Use 'keyhub link create' to grant one.\n", clientID)
				return nil
			}
			fmt.Fprintf(out, "%-6s %-24s %-11s\n", "KEY", "NAME", "LAST USED")
			for _, v := range views {
				lastUsed := "never"
				if v.LastUsed != nil {
					lastUsed = v.LastUsed.String()
				}
				fmt.Fprintf(out, "%-6d %-24s %-11s\n", v.KeyID, v.KeyName, lastUsed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
