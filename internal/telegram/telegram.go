// Package telegram is a thin wrapper over the Bot API used for operator
// alerts and the public channel.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client sends plain messages to one chat.
type Client struct {
	api    *tgbotapi.BotAPI
	chatID int64
	html   bool
}

// New authenticates against the Bot API.
func New(token string, chatID int64) (*Client, error) {
	return NewWithEndpoint(token, tgbotapi.APIEndpoint, chatID)
}

// NewWithEndpoint is New against a different API endpoint format, e.g. a
// local test server ("http://host/bot%s/%s").
func NewWithEndpoint(token, endpoint string, chatID int64) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram: empty bot token")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram: chat id not set")
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Client{api: api, chatID: chatID}, nil
}

// WithHTML returns a copy that sends HTML-formatted messages.
func (c *Client) WithHTML() *Client {
	cp := *c
	cp.html = true
	return &cp
}

// ChatID returns the destination chat.
func (c *Client) ChatID() int64 { return c.chatID }

// Send posts text to the chat. The Bot API client has no context support,
// so ctx is only checked before the call.
func (c *Client) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.DisableWebPagePreview = true
	if c.html {
		msg.ParseMode = tgbotapi.ModeHTML
	}
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
