// Package chat is the Telegram Bot API transport used to prompt users and
// receive their decisions.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"ocr-job-pipeline/internal/config"
)

// Button is one inline keyboard action.
type Button struct {
	Text string `json:"text"`
	Data string `json:"callback_data"`
}

// Telegram calls the Bot API over HTTPS.
type Telegram struct {
	// client never retries; retrying is only used for calls that are safe
	// to repeat.
	client   *resty.Client
	retrying *resty.Client
	apiURL   string
	token    string
	maxFile  int64
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

type file struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
}

// NewTelegram returns a client for the bot identified by cfg.BotToken.
func NewTelegram(cfg config.TelegramConfig, maxFileBytes int64) *Telegram {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	return &Telegram{
		client:   resty.New().SetTimeout(timeout),
		retrying: resty.New().SetTimeout(timeout).SetRetryCount(2).SetRetryWaitTime(300 * time.Millisecond),
		apiURL:   apiURL,
		token:    cfg.BotToken,
		maxFile:  maxFileBytes,
	}
}

// Enabled reports whether a bot token is configured.
func (t *Telegram) Enabled() bool { return t.token != "" }

// SendMessage posts HTML text with optional inline buttons, one per row,
// and returns the new message id.
func (t *Telegram) SendMessage(ctx context.Context, chatID string, text string, buttons []Button) (string, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return "", err
	}
	body := map[string]any{
		"chat_id":    id,
		"text":       text,
		"parse_mode": "HTML",
	}
	if len(buttons) > 0 {
		rows := make([][]Button, 0, len(buttons))
		for _, b := range buttons {
			rows = append(rows, []Button{b})
		}
		body["reply_markup"] = map[string]any{"inline_keyboard": rows}
	}
	var out apiResponse[sentMessage]
	if err := t.call(ctx, "sendMessage", body, &out); err != nil {
		return "", err
	}
	return strconv.FormatInt(out.Result.MessageID, 10), nil
}

// EditMessage replaces the text of a sent message and removes its buttons.
func (t *Telegram) EditMessage(ctx context.Context, chatID, messageID string, text string) error {
	cid, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	mid, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message id %q", messageID)
	}
	var out apiResponse[any]
	return t.call(ctx, "editMessageText", map[string]any{
		"chat_id":      cid,
		"message_id":   mid,
		"text":         text,
		"reply_markup": map[string]any{"inline_keyboard": [][]Button{}},
	}, &out)
}

// AnswerCallback acknowledges a button press so the client stops spinning.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID string) error {
	var out apiResponse[bool]
	return t.call(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": callbackID}, &out)
}

// DownloadFile resolves fileID with getFile and fetches its bytes.
func (t *Telegram) DownloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	var meta apiResponse[file]
	if err := t.call(ctx, "getFile", map[string]any{"file_id": fileID}, &meta); err != nil {
		return nil, "", err
	}
	if meta.Result.FilePath == "" {
		return nil, "", errors.New("telegram getFile returned no file_path")
	}
	if t.maxFile > 0 && meta.Result.FileSize > t.maxFile {
		return nil, "", fmt.Errorf("file is %d bytes, limit is %d", meta.Result.FileSize, t.maxFile)
	}

	resp, err := t.retrying.R().
		SetContext(ctx).
		Get(t.apiURL + "/file/bot" + t.token + "/" + meta.Result.FilePath)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("download file: status %d", resp.StatusCode())
	}
	body := resp.Body()
	if t.maxFile > 0 && int64(len(body)) > t.maxFile {
		return nil, "", fmt.Errorf("file is %d bytes, limit is %d", len(body), t.maxFile)
	}
	return body, resp.Header().Get("Content-Type"), nil
}

// repeatable lists Bot API methods whose repeat has no visible effect.
// sendMessage is not one of them: a retry after a lost response posts twice.
var repeatable = map[string]bool{
	"getFile":             true,
	"editMessageText":     true,
	"answerCallbackQuery": true,
}

func (t *Telegram) call(ctx context.Context, method string, body any, out interface{ ok() (bool, string) }) error {
	if t.token == "" {
		return errors.New("telegram bot token not configured")
	}
	client := t.client
	if repeatable[method] {
		client = t.retrying
	}
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(out).
		SetError(out).
		Post(t.apiURL + "/bot" + t.token + "/" + method)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	if ok, desc := out.ok(); !ok {
		return fmt.Errorf("telegram %s: status %d: %s", method, resp.StatusCode(), desc)
	}
	return nil
}

func (r *apiResponse[T]) ok() (bool, string) { return r.OK, r.Description }

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q", chatID)
	}
	return id, nil
}
