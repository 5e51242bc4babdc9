package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/inercia/opencode-telegram/internal/appdir"
	"github.com/inercia/opencode-telegram/internal/background"
	"github.com/inercia/opencode-telegram/internal/bot"
	"github.com/inercia/opencode-telegram/internal/config"
	"github.com/inercia/opencode-telegram/internal/logging"
	"github.com/inercia/opencode-telegram/internal/opencode"
	"github.com/inercia/opencode-telegram/internal/settings"
	"github.com/inercia/opencode-telegram/internal/shutdown"
	"github.com/inercia/opencode-telegram/internal/telegram"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Telegram bot",
	Long: `Start polling Telegram and forward messages to the OpenCode server.

Only messages from the configured user are handled. The bot keeps
running until it receives SIGINT or SIGTERM.

Examples:
  opencode-telegram run                     # Use config.yaml and environment
  opencode-telegram run --dir ~/src/app     # Create sessions in ~/src/app
  opencode-telegram run --debug             # Verbose logging`,
	RunE: runBot,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runBot(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := logging.Bot()

	sm := shutdown.New(cmd.Context())
	sm.Start()
	ctx := sm.Context()

	settingsPath, err := appdir.SettingsPath()
	if err != nil {
		return err
	}
	store, err := settings.Open(settingsPath)
	if err != nil {
		return err
	}

	client, err := opencode.New(cfg.OpenCode.URL,
		opencode.WithBasicAuth(cfg.OpenCode.Username, cfg.OpenCode.Password))
	if err != nil {
		return err
	}
	source := opencode.NewEventSource(client)

	tb, err := telegram.NewBot(telegram.Settings{
		Token:    cfg.Telegram.Token,
		ProxyURL: cfg.Telegram.ProxyURL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	// A private chat has the same id as its user.
	messenger := telegram.NewMessenger(tb, cfg.Telegram.AllowedUserID)

	b := bot.New(ctx, messenger, client, source, store, bot.Config{
		ProjectDir:    cfg.OpenCode.Directory,
		MaxFileSizeKB: cfg.Bot.CodeFileMaxSizeKB,
		DefaultModel: settings.Model{
			ProviderID: cfg.OpenCode.ModelProvider,
			ModelID:    cfg.OpenCode.ModelID,
		},
		Display: displayOf(cfg),
	})
	b.Register(tb, cfg.Telegram.AllowedUserID)

	if cfgFile != "" {
		if err := watchConfig(sm, b); err != nil {
			logging.Settings().Warn("Config file will not be reloaded", "file", cfgFile, "error", err)
		}
	}

	logger.Info("Bot started",
		"opencode_url", cfg.OpenCode.URL,
		"project_directory", cfg.OpenCode.Directory,
		"allowed_user_id", cfg.Telegram.AllowedUserID,
		"settings", settingsPath,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tb.Start()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		tb.Stop()
		return nil
	})
	b.Start()

	sm.AddCleanup(func(reason string) {
		b.Stop()
		background.Wait()
	})

	err = g.Wait()
	sm.Shutdown("bot stopped")
	logger.Info("Bot stopped", "reason", sm.Reason())
	return err
}

// watchConfig applies display changes from the config file while running.
// Other settings need a restart.
func watchConfig(sm *shutdown.Manager, b *bot.Bot) error {
	load := func() (*config.Config, error) {
		c, _, err := config.Load(config.New(), cfgFile, "")
		return c, err
	}
	w, err := config.NewWatcher(cfgFile, load, logging.Settings())
	if err != nil {
		return err
	}
	w.Subscribe(func(c *config.Config) {
		b.SetDisplay(displayOf(c))
	})
	w.Start()
	sm.AddCleanup(func(string) {
		if err := w.Close(); err != nil {
			logging.Settings().Debug("Failed to close config watcher", "error", err)
		}
	})
	return nil
}

func displayOf(c *config.Config) bot.Display {
	return bot.Display{
		ShowThinking:   c.Bot.ShowThinking,
		ShowToolEvents: c.Bot.ShowToolEvents,
	}
}
