// Package notify delivers run reports to a chat.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	telegramMaxMessageLen = 4096
	defaultTelegramAPIURL = "https://api.telegram.org"
)

// Notifier sends a plain-text report.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Telegram posts reports to one chat through the Bot API.
type Telegram struct {
	chatID  string
	baseURL string
	client  *http.Client
}

// TelegramOption configures a Telegram notifier.
type TelegramOption func(*Telegram)

// WithTelegramAPIURL points the notifier at another Bot API server.
func WithTelegramAPIURL(u string) TelegramOption {
	return func(t *Telegram) {
		if u != "" {
			t.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTelegramHTTPClient sets the HTTP client.
func WithTelegramHTTPClient(c *http.Client) TelegramOption {
	return func(t *Telegram) { t.client = c }
}

// NewTelegram creates a notifier for chatID.
func NewTelegram(token, chatID string, opts ...TelegramOption) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required (CURRICULUM_NOTIFY_TELEGRAM_TOKEN)")
	}
	if chatID == "" {
		return nil, fmt.Errorf("telegram chat id is required (CURRICULUM_NOTIFY_TELEGRAM_CHAT_ID)")
	}
	t := &Telegram{
		chatID:  chatID,
		baseURL: defaultTelegramAPIURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.baseURL += "/bot" + token
	return t, nil
}

// Notify sends text, split into as many messages as the length limit needs.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	for _, part := range SplitMessage(text, telegramMaxMessageLen) {
		params := url.Values{
			"chat_id": {t.chatID},
			"text":    {part},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/sendMessage", strings.NewReader(params.Encode()))
		if err != nil {
			return fmt.Errorf("creating telegram request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := t.client.Do(req)
		if err != nil {
			return fmt.Errorf("sending telegram message: %w", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("telegram API error %d", resp.StatusCode)
		}
	}
	return nil
}

// SplitMessage cuts text into parts of at most maxLen bytes, preferring to
// break after a newline, then after a space.
func SplitMessage(text string, maxLen int) []string {
	if text == "" {
		return nil
	}
	var parts []string
	for len(text) > maxLen {
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > 0 {
			cutAt = idx + 1
		} else if idx := strings.LastIndex(text[:maxLen], " "); idx > 0 {
			cutAt = idx + 1
		}
		parts = append(parts, text[:cutAt])
		text = text[cutAt:]
	}
	return append(parts, text)
}

// Memory records reports in memory.
type Memory struct {
	mu       sync.Mutex
	messages []string
}

func (m *Memory) Notify(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, text)
	return nil
}

func (m *Memory) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

// PhaseLine is one completed phase in a report.
type PhaseLine struct {
	Phase    string
	Items    int
	Duration time.Duration
}

// Report formats the outcome of a run. A nil err reports success.
func Report(runID string, phases []PhaseLine, err error) string {
	var b strings.Builder
	if err != nil {
		fmt.Fprintf(&b, "Curriculum run %s FAILED\n", runID)
	} else {
		fmt.Fprintf(&b, "Curriculum run %s complete\n", runID)
	}
	for _, p := range phases {
		fmt.Fprintf(&b, "%s: %d items in %s\n", p.Phase, p.Items, p.Duration.Round(time.Millisecond))
	}
	if err != nil {
		fmt.Fprintf(&b, "error: %v\n", err)
	}
	return b.String()
}
