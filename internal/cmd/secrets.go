package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inercia/opencode-telegram/internal/secrets"
)

// secretsCmd represents the secrets parent command
var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage credentials in the system keychain",
	Long: `Store the bot token and the server password in the system keychain
instead of the config file. Stored values are used when the config and
environment leave them empty.

Accounts: ` + strings.Join(secrets.Accounts(), ", "),
}

var secretsSetCmd = &cobra.Command{
	Use:   "set ACCOUNT",
	Short: "Store a credential read from standard input",
	Long: `Store a credential. The value is read from the first line of
standard input so it does not end up in the shell history.

Examples:
  opencode-telegram secrets set telegram-token
  pass show opencode | opencode-telegram secrets set opencode-password`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := readSecret(cmd.InOrStdin())
		if err != nil {
			return err
		}
		if err := secrets.Set(args[0], value); err != nil {
			return fmt.Errorf("failed to store %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Stored %s\n", args[0])
		return nil
	},
}

var secretsDeleteCmd = &cobra.Command{
	Use:   "delete ACCOUNT",
	Short: "Remove a stored credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := secrets.Delete(args[0]); err != nil {
			if errors.Is(err, secrets.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "Nothing stored for %s\n", args[0])
				return nil
			}
			return fmt.Errorf("failed to delete %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(secretsCmd)
	secretsCmd.AddCommand(secretsSetCmd, secretsDeleteCmd)
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read value: %w", err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return "", errors.New("empty value")
	}
	return value, nil
}
