// Package telegram is a thin Bot API client used by the plan executor to
// deliver messages, inline keyboards and media to leads.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logger.Logger
}

type sendMessageRequest struct {
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode,omitempty"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type sendPhotoRequest struct {
	ChatID  string `json:"chat_id"`
	Photo   string `json:"photo"`
	Caption string `json:"caption,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// NewClient returns nil when no bot token is configured; a nil client
// swallows sends so the engine keeps working in dry-run setups.
func NewClient(cfg config.TelegramConfig, log *logger.Logger) *Client {
	if !cfg.IsTelegramEnabled() {
		return nil
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.GetTelegramAPIBase(), "/"),
		token:   cfg.GetTelegramBotToken(),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

func (c *Client) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	if c == nil {
		return "", nil
	}

	return c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID: chatID,
		Text:   text,
	})
}

func (c *Client) SendButtons(ctx context.Context, chatID, text string, buttons []domain.Button) (string, error) {
	if c == nil {
		return "", nil
	}

	rows := make([][]inlineButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []inlineButton{{Text: b.Label, CallbackData: b.Value}})
	}

	return c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: &replyMarkup{InlineKeyboard: rows},
	})
}

func (c *Client) SendMedia(ctx context.Context, chatID, mediaURL, caption string) (string, error) {
	if c == nil {
		return "", nil
	}

	return c.call(ctx, "sendPhoto", sendPhotoRequest{
		ChatID:  chatID,
		Photo:   mediaURL,
		Caption: caption,
	})
}

func (c *Client) call(ctx context.Context, method string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("telegram request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("telegram api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed apiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode telegram response: %w", err)
	}
	if !parsed.OK {
		return "", fmt.Errorf("telegram api rejected %s: %s", method, parsed.Description)
	}

	c.log.Info("telegram message sent", "method", method, "message_id", parsed.Result.MessageID)
	return fmt.Sprintf("%d", parsed.Result.MessageID), nil
}
