// Package telegram sends notifications through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/notify"
)

// DefaultBaseURL is the Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Client posts messages to chats as one bot.
type Client struct {
	BaseURL    string
	BotToken   string
	HTTPClient *http.Client
}

var _ notify.Sender = (*Client)(nil)

func NewClient(botToken string) *Client {
	return &Client{
		BaseURL:    DefaultBaseURL,
		BotToken:   botToken,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers msg to the chat id in channel.Address.
func (c *Client) Send(ctx context.Context, channel models.NotificationChannel, msg notify.Message) error {
	if channel.Address == "" {
		return fmt.Errorf("telegram: empty chat id: %w", notify.ErrUndeliverable)
	}
	body, err := json.Marshal(map[string]string{
		"chat_id": channel.Address,
		"text":    msg.Text(),
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.BaseURL, c.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("telegram: status %d: %w", resp.StatusCode, err)
	}
	if !out.OK {
		// 4xx other than 429 means the chat is gone, blocked or invalid.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("telegram: %s: %w", out.Description, notify.ErrUndeliverable)
		}
		return fmt.Errorf("telegram: %s", out.Description)
	}
	return nil
}
