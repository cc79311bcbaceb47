package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"ocr-job-pipeline/internal/dispatch"
	"ocr-job-pipeline/internal/ocr"
	"ocr-job-pipeline/internal/store"
)

// statusFor maps service errors to HTTP status codes. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ocr.ErrAlreadyFinalized),
		errors.Is(err, ocr.ErrResultRecorded),
		errors.Is(err, ocr.ErrNotReady),
		errors.Is(err, ocr.ErrMalformedResult),
		errors.Is(err, ocr.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrNotConfigured),
		errors.Is(err, ocr.ErrBlobUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("http_path", r.URL.Path), zap.Error(err))
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
