package cmd

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/inercia/opencode-telegram/internal/config"
)

func TestSplitComponents(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"bot", []string{"bot"}},
		{" bot , events,,pinned ", []string{"bot", "events", "pinned"}},
	}
	for _, tt := range tests {
		if got := splitComponents(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitComponents(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReadSecret(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"line", "123:abc\nignored\n", "123:abc", false},
		{"no newline", "  s3cret  ", "s3cret", false},
		{"empty", "\n", "", true},
		{"nothing", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readSecret(strings.NewReader(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteConfigRedacts(t *testing.T) {
	c := &config.Config{
		Telegram: config.TelegramConfig{Token: "123456:ABCDEFGHIJKLMNOP", AllowedUserID: 42},
		OpenCode: config.OpenCodeConfig{URL: "http://localhost:4096", Username: "opencode", Password: "hunter22"},
	}

	var buf bytes.Buffer
	if err := writeConfig(&buf, "/etc/bot.yaml", c); err != nil {
		t.Fatalf("writeConfig: %v", err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, "# Config file: /etc/bot.yaml\n") {
		t.Errorf("missing source header:\n%s", out)
	}
	for _, secret := range []string{"ABCDEFGHIJKLMNOP", "hunter22"} {
		if strings.Contains(out, secret) {
			t.Errorf("output leaks %q:\n%s", secret, out)
		}
	}
	if !strings.Contains(out, "allowed_user_id: 42") {
		t.Errorf("output misses user id:\n%s", out)
	}
	if strings.Contains(out, "⚠️") {
		t.Errorf("valid config reported as invalid:\n%s", out)
	}
}

func TestWriteConfigReportsProblems(t *testing.T) {
	var buf bytes.Buffer
	if err := writeConfig(&buf, "", &config.Config{OpenCode: config.OpenCodeConfig{URL: "http://localhost:4096"}}); err != nil {
		t.Fatalf("writeConfig: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "(none, defaults and environment only)") {
		t.Errorf("missing default source:\n%s", out)
	}
	if !strings.Contains(out, "telegram token is required") {
		t.Errorf("missing validation problem:\n%s", out)
	}
}
