// Package telegram delivers notifications through the Telegram Bot API's
// sendMessage endpoint, with bounded retries and exponential backoff.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config controls the Telegram notifier.
type Config struct {
	// Token is the bot token (required).
	Token string

	// BaseURL overrides the API endpoint, mainly for tests.
	// Default "https://api.telegram.org".
	BaseURL string

	// Timeout is the per-request HTTP timeout. Default 10s.
	Timeout time.Duration

	// Retries is the number of delivery attempts per recipient. Default 3.
	Retries int

	// RetryDelay is the initial backoff; it doubles per attempt. Default 5s.
	RetryDelay time.Duration

	// MinInterval, when positive, suppresses re-delivery of an identical
	// message text within the interval.
	MinInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.telegram.org"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Notifier
// ─────────────────────────────────────────────────────────────────────────────

// Notifier implements notify.Notifier over the Telegram Bot API. Recipients
// are chat IDs. Safe for concurrent use.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time // message text → last delivery time
}

// New creates a Notifier. An empty token is an error; use notify.LogNotifier
// when no channel is configured.
func New(cfg Config, logger *slog.Logger) (*Notifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	cfg.withDefaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Notifier{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
		lastSent: make(map[string]time.Time),
	}, nil
}

// Notify sends the message to every recipient chat ID. Per-recipient failures
// are retried with exponential backoff; the last error is returned after all
// recipients were attempted.
func (n *Notifier) Notify(ctx context.Context, message string, recipients []string) error {
	if n.throttled(message) {
		n.logger.Debug("telegram: duplicate message suppressed", "min_interval", n.cfg.MinInterval.String())
		return nil
	}

	var lastErr error
	for _, chatID := range recipients {
		if err := n.sendWithRetry(ctx, chatID, message); err != nil {
			n.logger.Error("telegram: delivery failed",
				"chat_id", chatID,
				"attempts", n.cfg.Retries,
				"error", err.Error(),
			)
			lastErr = err
		}
	}
	return lastErr
}

// throttled records the send time and reports whether the identical message
// was delivered within MinInterval. Expired entries are evicted on every call;
// message texts embed timestamps, so without eviction the map would grow for
// the lifetime of the process.
func (n *Notifier) throttled(message string) bool {
	if n.cfg.MinInterval <= 0 {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	for text, at := range n.lastSent {
		if now.Sub(at) >= n.cfg.MinInterval {
			delete(n.lastSent, text)
		}
	}

	if _, ok := n.lastSent[message]; ok {
		return true
	}
	n.lastSent[message] = now
	return false
}

func (n *Notifier) sendWithRetry(ctx context.Context, chatID, message string) error {
	delay := n.cfg.RetryDelay
	var lastErr error

	for attempt := 1; attempt <= n.cfg.Retries; attempt++ {
		lastErr = n.send(ctx, chatID, message)
		if lastErr == nil {
			return nil
		}
		n.logger.Warn("telegram: send failed",
			"chat_id", chatID,
			"attempt", attempt,
			"error", lastErr.Error(),
		)
		if attempt == n.cfg.Retries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return lastErr
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (n *Notifier) send(ctx context.Context, chatID, message string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: message})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.cfg.BaseURL, n.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	n.logger.Debug("telegram: message delivered", "chat_id", chatID, "bytes", len(message))
	return nil
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
