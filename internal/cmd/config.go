package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inercia/opencode-telegram/internal/config"
)

// configCmd represents the config parent command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the bot configuration",
	Long: `Inspect the effective configuration.

Values come from the config file, environment variables and flags, in
increasing order of priority.`,
}

// configShowCmd represents the config show subcommand
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration as YAML. The bot token and the
server password are redacted.

Examples:
  opencode-telegram config show
  TELEGRAM_ALLOWED_USER_ID=42 opencode-telegram config show`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeConfig(cmd.OutOrStdout(), cfgFile, cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func writeConfig(w io.Writer, source string, c *config.Config) error {
	if source == "" {
		source = "(none, defaults and environment only)"
	}
	fmt.Fprintf(w, "# Config file: %s\n", source)
	if err := c.Validate(); err != nil {
		fmt.Fprintf(w, "# ⚠️  %v\n", err)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return enc.Close()
}
