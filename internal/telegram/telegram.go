package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/deusflow/newspick/internal/logger"
	"github.com/deusflow/newspick/internal/news"
	"github.com/deusflow/newspick/internal/retry"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// maxMessageRunes is Telegram's limit for a text message.
const maxMessageRunes = 4096

// Client posts messages to one chat or channel.
type Client struct {
	baseURL string
	token   string
	chatID  string
	http    *http.Client
	retry   retry.RetryConfig
	log     *slog.Logger
}

type Option func(*Client)

// WithBaseURL points the client at another Bot API server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithRetry(cfg retry.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = logger.OrNop(l) }
}

func New(token, chatID string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		chatID:  chatID,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   retry.RetryConfig{MaxAttempts: 3, Delay: 2 * time.Second, Backoff: true},
		log:     logger.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FormatRecommendation renders item as a Telegram HTML message.
func FormatRecommendation(item *news.Item) string {
	var b strings.Builder
	b.WriteString("📰 <b>Representative news</b>\n\n")
	fmt.Fprintf(&b, "<b><a href=\"%s\">%s</a></b>\n", html.EscapeString(item.Link), html.EscapeString(item.Title))
	fmt.Fprintf(&b, "Source: %s", html.EscapeString(item.Source))
	if item.Summary != "" {
		b.WriteString("\n\n")
		b.WriteString(html.EscapeString(item.Summary))
	}
	return b.String()
}

// SendRecommendation delivers the chosen item. A nil error means Telegram
// accepted the message.
func (c *Client) SendRecommendation(ctx context.Context, item *news.Item) error {
	return c.SendMessage(ctx, FormatRecommendation(item))
}

// SendMessage sends text message to Telegram chat/channel with retry logic
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if r := []rune(text); len(r) > maxMessageRunes {
		text = string(r[:maxMessageRunes])
	}

	attempt := 0
	err := retry.WithRetry(ctx, c.retry, func() error {
		attempt++
		err := c.sendMessageOnce(ctx, text)
		if err != nil {
			c.log.Warn("error sending to Telegram", "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("can't send message to Telegram: %w", err)
	}

	c.log.Info("message sent to Telegram", "attempt", attempt)
	return nil
}

// APIError is a non-200 answer from the Bot API.
type APIError struct {
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("telegram API error: status %d: %s", e.StatusCode, e.Description)
	}
	return fmt.Sprintf("telegram API error: status %d", e.StatusCode)
}

// sendMessageOnce does one try to send message
func (c *Client) sendMessageOnce(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)

	payload := map[string]interface{}{
		"chat_id":                  c.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": false,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(fmt.Errorf("error make JSON: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("error building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		return fmt.Errorf("error HTTP request: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn("failed to close response body", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var answer struct {
		Description string `json:"description"`
	}
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
		if json.Unmarshal(data, &answer) == nil {
			apiErr.Description = answer.Description
		}
	}

	// client errors other than rate limiting will not get better on retry
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(apiErr)
	}
	return apiErr
}
