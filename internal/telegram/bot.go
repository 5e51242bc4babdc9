package telegram

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	tele "gopkg.in/telebot.v4"
)

// DefaultPollTimeout is the long-polling timeout for getUpdates.
const DefaultPollTimeout = 10 * time.Second

// Settings configures the Bot API connection.
type Settings struct {
	Token string
	// ProxyURL routes API calls through an HTTP(S) or SOCKS5 proxy.
	ProxyURL    string
	PollTimeout time.Duration
	Logger      *slog.Logger
}

// NewBot creates a long-polling bot. It does not start polling.
func NewBot(s Settings) (*tele.Bot, error) {
	timeout := s.PollTimeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	client, err := httpClient(s.ProxyURL, timeout)
	if err != nil {
		return nil, err
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  s.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		Client: client,
		OnError: func(err error, c tele.Context) {
			attrs := []any{"error", err}
			if c != nil && c.Chat() != nil {
				attrs = append(attrs, "chat_id", c.Chat().ID)
			}
			logger.Error("Telegram handler failed", attrs...)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return b, nil
}

func httpClient(proxyURL string, pollTimeout time.Duration) (*http.Client, error) {
	// getUpdates holds the connection for the poll timeout.
	client := &http.Client{Timeout: pollTimeout + 30*time.Second}
	if proxyURL == "" {
		return client, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(u)
	client.Transport = transport
	return client, nil
}
