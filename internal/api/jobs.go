package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ocr-job-pipeline/internal/models"
	"ocr-job-pipeline/internal/ocr"
)

type startRequest struct {
	JobID          string `json:"jobId" validate:"omitempty,uuid"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required_without=JobID"`
	ChatID         string `json:"chatId"`
	UserID         string `json:"userId"`
}

type startResponse struct {
	JobID  string        `json:"jobId"`
	Status models.Status `json:"status"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.svc.StartJob(r.Context(), ocr.StartInput{JobID: req.JobID, IdempotencyKey: req.IdempotencyKey})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{JobID: job.ID, Status: job.Status})
}

type signedURLRequest struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"required"`
}

type signedURLResponse struct {
	SignedURL string `json:"signedUrl"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	var req signedURLRequest
	if !s.decode(w, r, &req) {
		return
	}
	url, expires, err := s.svc.SignedURL(r.Context(), req.IdempotencyKey)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signedURLResponse{SignedURL: url, ExpiresAt: expires.UnixMilli()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	job, err := s.svc.GetJob(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type resultRequest struct {
	ResultJSON json.RawMessage `json:"resultJson" validate:"required"`
	Provider   string          `json:"provider" validate:"required"`
	Model      string          `json:"model" validate:"required"`
	Warnings   []string        `json:"warnings"`
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var req resultRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.HandleResult(r.Context(), id, models.ResultEnvelope{
		ResultJSON: req.ResultJSON,
		Provider:   req.Provider,
		Model:      req.Model,
		Warnings:   req.Warnings,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type errorRequest struct {
	Message string `json:"message" validate:"required"`
	Code    string `json:"code"`
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var req errorRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.HandleError(r.Context(), id, ocr.ErrorReport{Message: req.Message, Code: req.Code})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func jobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "jobId")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "jobId must be a UUID")
		return "", false
	}
	return id, true
}
