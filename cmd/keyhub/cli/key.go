package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyhub/keyhub/internal/model"
	"github.com/keyhub/keyhub/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage keys",
		Long:  "Create, list, rotate and delete keys, and set their secret material.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRotateCmd())
	cmd.AddCommand(newKeySetSecretCmd())
	cmd.AddCommand(newKeyDeleteCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		description string
		withSecret  bool
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new key",
		Long: `Create a key. Names may only contain ASCII letters, digits, '-' and '_'.
With --secret the active secret is read from the terminal without echo.`,
		Example: `  keyhub key create billing --description "Billing API" --secret
  echo "$TOKEN" | keyhub key create search --secret`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := model.Key{Name: args[0], Description: description}
			if err := service.ValidateKeyName(k.Name); err != nil {
				return err
			}
			if withSecret {
				s, err := readSecret("Secret: ")
				if err != nil {
					return err
				}
				k.Secret = &s
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			created, err := service.NewKeyService(e.store, nil, e.log).CreateKey(cmdCtx(), k)
			if err != nil {
				return fmt.Errorf("create key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key %q created with id %d\n", created.Name, created.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "Free-form description (at most 1024 characters)")
	cmd.Flags().BoolVar(&withSecret, "secret", false, "Prompt for the active secret")

	return cmd
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			keys, err := e.store.ListKeys(cmdCtx())
			if err != nil {
				return fmt.Errorf("list keys: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, model.NewListResponse(keys))
			}
			if len(keys) == 0 {
				fmt.Fprintln(out, "No keys configured. Use 'keyhub key create' to add one.")
				return nil
			}
			fmt.Fprintf(out, "%-6s %-24s %-7s %-7s %-11s\n", "ID", "NAME", "SECRET", "STAGED", "ROTATE AT")
			for _, k := range keys {
				rotateAt := "-"
				if k.RotateAt != nil {
					rotateAt = k.RotateAt.String()
				}
				fmt.Fprintf(out, "%-6d %-24s %-7s %-7s %-11s\n", k.ID, k.Name, yesNo(k.HasSecret()), yesNo(k.HasRotateWith()), rotateAt)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	var due bool

	cmd := &cobra.Command{
		Use:   "rotate [id]",
		Short: "Promote a key's staged secret",
		Long: `Promote the staged secret of a key to its active secret and clear the
staged secret and rotation date. A key with nothing staged is left without an
active secret. With --due, every key whose rotation date has arrived is rotated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if due == (len(args) == 1) {
				return fmt.Errorf("pass either a key id or --due")
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			keys := service.NewKeyService(e.store, nil, e.log)

			if due {
				n, err := keys.RotateDue(cmdCtx(), model.Today())
				fmt.Fprintf(cmd.OutOrStdout(), "%d key(s) rotated\n", n)
				return err
			}

			id, err := parseID[model.KeyID]("key", args[0])
			if err != nil {
				return err
			}
			k, err := keys.Rotate(cmdCtx(), id)
			if err != nil {
				return fmt.Errorf("rotate key %d: %w", id, err)
			}
			if !k.HasSecret() {
				fmt.Fprintf(cmd.OutOrStdout(), "Key %d rotated; it now has no active secret\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key %d rotated\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&due, "due", false, "Rotate every key whose rotation date has arrived")

	return cmd
}

// ---------- key set-secret ----------

func newKeySetSecretCmd() *cobra.Command {
	var (
		staged   bool
		rotateAt string
		unset    bool
	)

	cmd := &cobra.Command{
		Use:   "set-secret <id>",
		Short: "Set a key's active or staged secret",
		Long: `Set the active secret of a key, or with --staged the secret that replaces it
on the next rotation. The secret is read from the terminal without echo, or
from stdin when it is not a terminal. --clear removes the value instead.`,
		Example: `  keyhub key set-secret 3
  keyhub key set-secret 3 --staged --rotate-at 2026-01-31
  keyhub key set-secret 3 --staged --clear`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID[model.KeyID]("key", args[0])
			if err != nil {
				return err
			}

			var value model.Tri[string]
			if unset {
				value = model.Null[string]()
			} else {
				prompt := "Secret: "
				if staged {
					prompt = "Staged secret: "
				}
				s, err := readSecret(prompt)
				if err != nil {
					return err
				}
				value = model.Set(s)
			}

			var patch model.KeySecretsPatch
			if staged {
				patch.RotateWith = value
			} else {
				patch.Secret = value
			}
			if rotateAt != "" {
				d, err := model.ParseDate(rotateAt)
				if err != nil {
					return fmt.Errorf("--rotate-at: %w", err)
				}
				patch.RotateAt = model.Set(d)
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := service.NewKeyService(e.store, nil, e.log).UpdateKeySecrets(cmdCtx(), id, patch); err != nil {
				return fmt.Errorf("update key %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key %d updated\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&staged, "staged", false, "Set the staged secret used by the next rotation")
	cmd.Flags().StringVar(&rotateAt, "rotate-at", "", "Schedule the rotation for this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&unset, "clear", false, "Remove the secret instead of setting it")

	return cmd
}

// ---------- key delete ----------

func newKeyDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a key and every client association to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID[model.KeyID]("key", args[0])
			if err != nil {
				return err
			}
			if !yes && !confirm(fmt.Sprintf("Delete key %d and revoke it from every client?", id)) {
				return nil
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := service.NewKeyService(e.store, nil, e.log).DeleteKey(cmdCtx(), id); err != nil {
				return fmt.Errorf("delete key %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key %d deleted\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}
