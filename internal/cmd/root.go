// Package cmd provides the CLI commands for opencode-telegram.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/inercia/opencode-telegram/internal/appdir"
	"github.com/inercia/opencode-telegram/internal/config"
	"github.com/inercia/opencode-telegram/internal/logging"
	"github.com/inercia/opencode-telegram/internal/secrets"
)

var (
	// Global flags
	configPath    string
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string
	projectDir    string

	// v holds defaults, env bindings, the config file and flags.
	v = config.New()

	// Loaded configuration
	cfg *config.Config
	// cfgFile is the config file actually read, "" when none was.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "opencode-telegram",
	Short: "Drive an OpenCode agent from a Telegram chat",
	Long: `opencode-telegram connects one Telegram user to an OpenCode server.

Messages sent to the bot become prompts for the agent. Replies, tool
activity, questions and permission requests come back to the chat as
they happen.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help and completion commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		defaultPath, err := appdir.ConfigPath()
		if err != nil {
			return err
		}
		cfg, cfgFile, err = config.Load(v, configPath, defaultPath)
		if err != nil {
			return err
		}

		// Priority: --log-level flag > --debug flag > config > default (info)
		effectiveLogLevel := cfg.Log.Level
		if logLevel != "" {
			effectiveLogLevel = logLevel
		} else if debug {
			effectiveLogLevel = "debug"
		}
		logCfg := logging.Config{
			Level:      effectiveLogLevel,
			Components: splitComponents(logComponents),
		}
		if logFile != "" {
			logCfg.File = &logging.FileLogConfig{
				Path:       logFile,
				MaxSizeMB:  logging.DefaultMaxSizeMB,
				MaxBackups: logging.DefaultMaxBackups,
			}
		}
		if err := logging.Initialize(logCfg); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		if cfgFile != "" {
			logging.Settings().Debug("Configuration loaded", "file", cfgFile)
		}
		return cfg.ResolveSecrets(secrets.Lookup)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		// Clean up logging resources
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Configuration file path (default: config.yaml in the data directory)")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	flags.StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to console)")
	flags.StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g., 'bot,events'). Empty means all components.")
	flags.StringVarP(&projectDir, "dir", "d", "", "Project directory new sessions are created in (default: current directory)")

	bindFlag(v, config.KeyOpenCodeDirectory, "dir")
}

// bindFlag makes flag override key whenever it is set on the command line.
func bindFlag(v *viper.Viper, key, flag string) {
	// BindPFlag only fails for a nil flag.
	_ = v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag))
}

func splitComponents(s string) []string {
	var components []string
	for _, c := range strings.Split(s, ",") {
		c = strings.TrimSpace(c)
		if c != "" {
			components = append(components, c)
		}
	}
	return components
}
