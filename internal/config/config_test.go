package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/inercia/opencode-telegram/internal/secrets"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, used, err := Load(New(), "", filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if used != "" {
		t.Errorf("used = %q, want none", used)
	}
	if cfg.OpenCode.URL != DefaultOpenCodeURL || cfg.OpenCode.Username != DefaultOpenCodeUsername {
		t.Errorf("opencode = %+v", cfg.OpenCode)
	}
	if cfg.Bot.CodeFileMaxSizeKB != 100 || !cfg.Bot.ShowToolEvents || cfg.Bot.ShowThinking {
		t.Errorf("bot = %+v", cfg.Bot)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if wd, _ := os.Getwd(); cfg.OpenCode.Directory != wd {
		t.Errorf("directory = %q, want working directory %q", cfg.OpenCode.Directory, wd)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
telegram:
  token: "123:abc"
  allowed_user_id: 42
opencode:
  url: "http://agent:4096/"
  model_provider: anthropic
  model_id: sonnet
bot:
  show_thinking: true
  code_file_max_size_kb: 250
`)
	cfg, used, err := Load(New(), path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if used != path {
		t.Errorf("used = %q", used)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Telegram.AllowedUserID != 42 {
		t.Errorf("telegram = %+v", cfg.Telegram)
	}
	if cfg.OpenCode.URL != "http://agent:4096" {
		t.Errorf("url = %q, trailing slash not trimmed", cfg.OpenCode.URL)
	}
	if cfg.OpenCode.ModelProvider != "anthropic" || cfg.OpenCode.ModelID != "sonnet" {
		t.Errorf("model = %+v", cfg.OpenCode)
	}
	if !cfg.Bot.ShowThinking || !cfg.Bot.ShowToolEvents || cfg.Bot.CodeFileMaxSizeKB != 250 {
		t.Errorf("bot = %+v", cfg.Bot)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "telegram:\n  token: from-file\n")
	t.Setenv("TELEGRAM_BOT_TOKEN", "from-env")
	t.Setenv("TELEGRAM_ALLOWED_USER_ID", "777")
	t.Setenv("OPENCODE_API_URL", "https://remote:9000")
	t.Setenv("OPENCODE_SERVER_PASSWORD", "pw")
	t.Setenv("BOT_SHOW_TOOL_EVENTS", "false")
	t.Setenv("CODE_FILE_MAX_SIZE_KB", "12")
	t.Setenv("LOG_LEVEL", "debug")
	projectDir := t.TempDir()
	t.Setenv("OPENCODE_PROJECT_DIR", projectDir)

	cfg, _, err := Load(New(), path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Telegram.Token != "from-env" || cfg.Telegram.AllowedUserID != 777 {
		t.Errorf("telegram = %+v", cfg.Telegram)
	}
	if cfg.OpenCode.URL != "https://remote:9000" || cfg.OpenCode.Password != "pw" {
		t.Errorf("opencode = %+v", cfg.OpenCode)
	}
	if cfg.Bot.ShowToolEvents || cfg.Bot.CodeFileMaxSizeKB != 12 {
		t.Errorf("bot = %+v", cfg.Bot)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.OpenCode.Directory != projectDir {
		t.Errorf("directory = %q", cfg.OpenCode.Directory)
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, _, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"), "")
	if err == nil {
		t.Fatal("Load() with a missing explicit file succeeded")
	}
}

func TestLoad_DefaultPathUsedWhenPresent(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "telegram:\n  allowed_user_id: 5\n")
	cfg, used, err := Load(New(), "", path)
	if err != nil {
		t.Fatal(err)
	}
	if used != path || cfg.Telegram.AllowedUserID != 5 {
		t.Errorf("used = %q, cfg = %+v", used, cfg.Telegram)
	}
}

func TestResolveSecrets(t *testing.T) {
	lookup := func(account string) (string, error) {
		switch account {
		case secrets.AccountTelegramToken:
			return "keychain-token", nil
		case secrets.AccountOpenCodePassword:
			return "keychain-pw", nil
		}
		return "", nil
	}

	cfg := &Config{OpenCode: OpenCodeConfig{Password: "configured"}}
	if err := cfg.ResolveSecrets(lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "keychain-token" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if cfg.OpenCode.Password != "configured" {
		t.Errorf("configured password overridden: %q", cfg.OpenCode.Password)
	}

	failing := func(string) (string, error) { return "", errors.New("locked") }
	if err := (&Config{}).ResolveSecrets(failing); err == nil {
		t.Error("lookup error not returned")
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Telegram: TelegramConfig{Token: "t", AllowedUserID: 1},
		OpenCode: OpenCodeConfig{URL: "http://localhost:4096"},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram token"},
		{"missing user", func(c *Config) { c.Telegram.AllowedUserID = 0 }, "allowed user id"},
		{"bad url", func(c *Config) { c.OpenCode.URL = "ftp://x" }, KeyOpenCodeURL},
		{"bad proxy", func(c *Config) { c.Telegram.ProxyURL = "://bad" }, KeyTelegramProxyURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := &Config{
		Telegram: TelegramConfig{Token: "123456:ABCDEFGHIJ"},
		OpenCode: OpenCodeConfig{Password: "secret"},
	}
	r := cfg.Redacted()
	if r.Telegram.Token != "1234...GHIJ" || r.OpenCode.Password != "********" {
		t.Errorf("Redacted() = %+v", r)
	}
	if cfg.Telegram.Token != "123456:ABCDEFGHIJ" {
		t.Error("Redacted modified the original")
	}
	if short := (&Config{Telegram: TelegramConfig{Token: "abc"}}).Redacted(); short.Telegram.Token != "********" {
		t.Errorf("short token = %q", short.Telegram.Token)
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "bot:\n  show_thinking: false\n")

	load := func() (*Config, error) {
		cfg, _, err := Load(New(), path, "")
		return cfg, err
	}
	w, err := NewWatcher(path, load, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()
	w.SetDebounceDelay(20 * time.Millisecond)

	var mu sync.Mutex
	var got []*Config
	notified := make(chan struct{}, 10)
	w.Subscribe(func(cfg *Config) {
		mu.Lock()
		got = append(got, cfg)
		mu.Unlock()
		notified <- struct{}{}
	})
	w.Start()

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1"), 0o600); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, dir, "bot:\n  show_thinking: true\n")

	select {
	case <-notified:
	case <-time.After(3 * time.Second):
		t.Fatal("no reload notification")
	}

	mu.Lock()
	defer mu.Unlock()
	if !got[len(got)-1].Bot.ShowThinking {
		t.Errorf("reloaded config = %+v", got[len(got)-1].Bot)
	}
}

func TestWatcher_InvalidReloadKeepsSubscribersQuiet(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: info\n")

	load := func() (*Config, error) {
		cfg, _, err := Load(New(), path, "")
		return cfg, err
	}
	w, err := NewWatcher(path, load, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.SetDebounceDelay(10 * time.Millisecond)

	calls := make(chan struct{}, 10)
	w.Subscribe(func(*Config) { calls <- struct{}{} })
	w.Start()

	writeConfig(t, dir, "log: [unclosed\n")

	select {
	case <-calls:
		t.Error("subscriber called with an invalid config")
	case <-time.After(300 * time.Millisecond):
	}
}
