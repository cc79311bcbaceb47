package chat

import (
	"errors"
	"strconv"
	"strings"
)

// Update is the subset of a Telegram webhook update this service reads.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from,omitempty"`
	Chat      Chat        `json:"chat"`
	Text      string      `json:"text,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type PhotoSize struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FileSize     int64  `json:"file_size,omitempty"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// LargestPhoto returns the highest resolution size, which Telegram lists last.
func (m *Message) LargestPhoto() (PhotoSize, bool) {
	if m == nil || len(m.Photo) == 0 {
		return PhotoSize{}, false
	}
	return m.Photo[len(m.Photo)-1], true
}

// FormatID renders a Telegram numeric id the way jobs store it.
func FormatID(id int64) string { return strconv.FormatInt(id, 10) }

// Action is the decision carried by an inline button.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionReject  Action = "reject"
)

const callbackPrefix = "ocr"

var ErrInvalidCallback = errors.New("invalid callback data")

// EncodeCallback builds "ocr_<action>_<jobId>".
func EncodeCallback(action Action, jobID string) string {
	return callbackPrefix + "_" + string(action) + "_" + jobID
}

// DecodeCallback parses data produced by EncodeCallback.
func DecodeCallback(data string) (Action, string, error) {
	parts := strings.Split(data, "_")
	if len(parts) != 3 || parts[0] != callbackPrefix || parts[2] == "" {
		return "", "", ErrInvalidCallback
	}
	switch a := Action(parts[1]); a {
	case ActionConfirm, ActionReject:
		return a, parts[2], nil
	}
	return "", "", ErrInvalidCallback
}
