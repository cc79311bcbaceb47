package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"ocr-job-pipeline/internal/chat"
	"ocr-job-pipeline/internal/ocr"
)

const headerTelegramSecret = "X-Telegram-Bot-Api-Secret-Token"

// handleTelegramWebhook answers 200 for every authenticated update so
// Telegram does not redeliver it; processing failures are logged.
func (s *Server) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhookSecret != "" {
		got := r.Header.Get(headerTelegramSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.webhookSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}
	var update chat.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.log.Warn("undecodable telegram update", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	log := s.log.With(zap.Int64("update_id", update.UpdateID))
	switch {
	case update.CallbackQuery != nil:
		if err := s.svc.HandleCallback(r.Context(), *update.CallbackQuery); err != nil {
			log.Info("callback not applied", zap.Error(err))
		}
	case update.Message != nil:
		if err := s.svc.HandlePhoto(r.Context(), update.Message); err != nil {
			log.Warn("photo intake failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type uploadResponse struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Created bool   `json:"created"`
}

// handleUpload accepts a multipart image for local testing without a bot.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.devUploads {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	chatID, userID := r.FormValue("chatId"), r.FormValue("userId")
	if chatID == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "chatId and userId are required")
		return
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read file")
		return
	}

	key := r.FormValue("idempotencyKey")
	if key == "" {
		sum := sha256.Sum256(data)
		key = hex.EncodeToString(sum[:])
	}
	job, created, err := s.svc.Ingest(r.Context(), ocr.IngestInput{
		IdempotencyKey: key,
		ChatID:         chatID,
		UserID:         userID,
		Data:           data,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, uploadResponse{JobID: job.ID, Status: string(job.Status), Created: created})
}
