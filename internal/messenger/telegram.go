// Package messenger delivers digests through the Telegram Bot API.
package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotConfigured is returned when there is no bot token or chat id.
var ErrNotConfigured = errors.New("telegram not configured")

// Telegram sends HTML messages with link previews disabled.
type Telegram struct {
	base   string
	token  string
	dryRun bool
	http   *http.Client
}

func NewTelegram(baseURL, token string, dryRun bool, hc *http.Client) *Telegram {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if hc == nil {
		hc = &http.Client{Timeout: 20 * time.Second}
	}
	return &Telegram{base: strings.TrimRight(baseURL, "/"), token: token, dryRun: dryRun, http: hc}
}

type sendMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// Send posts text to the chat. In dry-run mode the message is only logged
// and counts as delivered.
func (t *Telegram) Send(ctx context.Context, chatID, text string) error {
	if t.token == "" || chatID == "" {
		return ErrNotConfigured
	}
	if t.dryRun {
		log.Info().Str("chat", chatID).Int("len", len(text)).Msg("dry run: telegram message not sent")
		return nil
	}
	body, err := json.Marshal(sendMessage{ChatID: chatID, Text: text, ParseMode: "HTML", DisableWebPagePreview: true})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/bot"+t.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send telegram message: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}
