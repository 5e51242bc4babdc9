// Package config loads the bot configuration from a YAML file, environment
// variables and command-line flags, and watches the file for changes.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/inercia/opencode-telegram/internal/secrets"
)

// Configuration keys, as used in the YAML file.
const (
	KeyTelegramToken         = "telegram.token"
	KeyTelegramAllowedUserID = "telegram.allowed_user_id"
	KeyTelegramProxyURL      = "telegram.proxy_url"
	KeyOpenCodeURL           = "opencode.url"
	KeyOpenCodeUsername      = "opencode.username"
	KeyOpenCodePassword      = "opencode.password"
	KeyOpenCodeModelProvider = "opencode.model_provider"
	KeyOpenCodeModelID       = "opencode.model_id"
	KeyOpenCodeDirectory     = "opencode.directory"
	KeyLogLevel              = "log.level"
	KeyCodeFileMaxSizeKB     = "bot.code_file_max_size_kb"
	KeyShowThinking          = "bot.show_thinking"
	KeyShowToolEvents        = "bot.show_tool_events"
)

// Defaults.
const (
	DefaultOpenCodeURL       = "http://localhost:4096"
	DefaultOpenCodeUsername  = "opencode"
	DefaultCodeFileMaxSizeKB = 100
	DefaultLogLevel          = "info"
)

// envNames maps each key to the environment variable that overrides it.
var envNames = map[string]string{
	KeyTelegramToken:         "TELEGRAM_BOT_TOKEN",
	KeyTelegramAllowedUserID: "TELEGRAM_ALLOWED_USER_ID",
	KeyTelegramProxyURL:      "TELEGRAM_PROXY_URL",
	KeyOpenCodeURL:           "OPENCODE_API_URL",
	KeyOpenCodeUsername:      "OPENCODE_SERVER_USERNAME",
	KeyOpenCodePassword:      "OPENCODE_SERVER_PASSWORD",
	KeyOpenCodeModelProvider: "OPENCODE_MODEL_PROVIDER",
	KeyOpenCodeModelID:       "OPENCODE_MODEL_ID",
	KeyOpenCodeDirectory:     "OPENCODE_PROJECT_DIR",
	KeyLogLevel:              "LOG_LEVEL",
	KeyCodeFileMaxSizeKB:     "CODE_FILE_MAX_SIZE_KB",
	KeyShowThinking:          "BOT_SHOW_THINKING",
	KeyShowToolEvents:        "BOT_SHOW_TOOL_EVENTS",
}

// Config is the effective bot configuration.
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	OpenCode OpenCodeConfig `mapstructure:"opencode" yaml:"opencode"`
	Bot      BotConfig      `mapstructure:"bot" yaml:"bot"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// TelegramConfig configures the Telegram side.
type TelegramConfig struct {
	// Token is the bot token from BotFather.
	Token string `mapstructure:"token" yaml:"token"`
	// AllowedUserID is the only Telegram user the bot talks to.
	AllowedUserID int64 `mapstructure:"allowed_user_id" yaml:"allowed_user_id"`
	// ProxyURL routes Telegram API calls through an HTTP or SOCKS5 proxy.
	ProxyURL string `mapstructure:"proxy_url" yaml:"proxy_url,omitempty"`
}

// OpenCodeConfig configures the agent server connection.
type OpenCodeConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	// ModelProvider and ModelID select the default model for new chats.
	ModelProvider string `mapstructure:"model_provider" yaml:"model_provider,omitempty"`
	ModelID       string `mapstructure:"model_id" yaml:"model_id,omitempty"`
	// Directory is the project new sessions are created in. It defaults to
	// the working directory of the bot.
	Directory string `mapstructure:"directory" yaml:"directory,omitempty"`
}

// BotConfig holds display options. They are applied live on reload.
type BotConfig struct {
	CodeFileMaxSizeKB int  `mapstructure:"code_file_max_size_kb" yaml:"code_file_max_size_kb"`
	ShowThinking      bool `mapstructure:"show_thinking" yaml:"show_thinking"`
	ShowToolEvents    bool `mapstructure:"show_tool_events" yaml:"show_tool_events"`
}

// LogConfig holds the default log level.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault(KeyOpenCodeURL, DefaultOpenCodeURL)
	v.SetDefault(KeyOpenCodeUsername, DefaultOpenCodeUsername)
	v.SetDefault(KeyCodeFileMaxSizeKB, DefaultCodeFileMaxSizeKB)
	v.SetDefault(KeyShowToolEvents, true)
	v.SetDefault(KeyShowThinking, false)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)

	v.SetEnvPrefix("OPENCODE_TELEGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, env := range envNames {
		// BindEnv only fails without a key.
		_ = v.BindEnv(key, env)
	}
	return v
}

// EnvName returns the environment variable bound to key, or "".
func EnvName(key string) string {
	return envNames[key]
}

// ReadFile reads path into v. An empty path reads defaultPath when it
// exists. It returns the file actually read, or "" when none was.
func ReadFile(v *viper.Viper, path, defaultPath string) (string, error) {
	explicit := path != ""
	if !explicit {
		if defaultPath == "" {
			return "", nil
		}
		if _, err := os.Stat(defaultPath); err != nil {
			return "", nil
		}
		path = defaultPath
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return path, nil
}

// Decode unmarshals the current values of v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Telegram.Token = strings.TrimSpace(cfg.Telegram.Token)
	cfg.OpenCode.URL = strings.TrimRight(strings.TrimSpace(cfg.OpenCode.URL), "/")
	if dir := strings.TrimSpace(cfg.OpenCode.Directory); dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", KeyOpenCodeDirectory, dir, err)
		}
		cfg.OpenCode.Directory = abs
	} else if wd, err := os.Getwd(); err == nil {
		cfg.OpenCode.Directory = wd
	}
	if cfg.OpenCode.Username == "" {
		cfg.OpenCode.Username = DefaultOpenCodeUsername
	}
	if cfg.Bot.CodeFileMaxSizeKB <= 0 {
		cfg.Bot.CodeFileMaxSizeKB = DefaultCodeFileMaxSizeKB
	}
	return &cfg, nil
}

// Load reads the config file into v and decodes the result.
func Load(v *viper.Viper, path, defaultPath string) (*Config, string, error) {
	used, err := ReadFile(v, path, defaultPath)
	if err != nil {
		return nil, "", err
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, "", err
	}
	return cfg, used, nil
}

// SecretLookup returns a stored credential, or "" when none is stored.
type SecretLookup func(account string) (string, error)

// ResolveSecrets fills an empty token or password from lookup.
func (c *Config) ResolveSecrets(lookup SecretLookup) error {
	if lookup == nil {
		return nil
	}
	fill := func(dst *string, account string) error {
		if *dst != "" {
			return nil
		}
		v, err := lookup(account)
		if err != nil {
			return fmt.Errorf("failed to read %s from secret store: %w", account, err)
		}
		*dst = v
		return nil
	}
	if err := fill(&c.Telegram.Token, secrets.AccountTelegramToken); err != nil {
		return err
	}
	return fill(&c.OpenCode.Password, secrets.AccountOpenCodePassword)
}

// Validate reports missing or malformed required settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, fmt.Errorf("telegram token is required (set %s or %s)", KeyTelegramToken, envNames[KeyTelegramToken]))
	}
	if c.Telegram.AllowedUserID <= 0 {
		errs = append(errs, fmt.Errorf("allowed user id is required (set %s or %s)", KeyTelegramAllowedUserID, envNames[KeyTelegramAllowedUserID]))
	}
	if u, err := url.Parse(c.OpenCode.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid %s %q", KeyOpenCodeURL, c.OpenCode.URL))
	}
	if c.Telegram.ProxyURL != "" {
		if _, err := url.Parse(c.Telegram.ProxyURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", KeyTelegramProxyURL, err))
		}
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	out := *c
	if out.Telegram.Token != "" {
		out.Telegram.Token = redact(out.Telegram.Token)
	}
	if out.OpenCode.Password != "" {
		out.OpenCode.Password = "********"
	}
	return out
}

func redact(token string) string {
	if len(token) <= 8 {
		return "********"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
