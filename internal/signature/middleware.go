package signature

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"ocr-job-pipeline/internal/telemetry"
)

const maxSignedBody = 1 << 20

// Gate rejects unsigned or mis-signed requests with 401 before any handler
// runs. QStash deliveries carrying Upstash-Signature are verified against the
// QStash keys when configured; everything else must carry the HMAC headers.
type Gate struct {
	hmac    *Verifier
	qstash  *QStashVerifier
	baseURL string
	log     *zap.Logger
}

func NewGate(hmac *Verifier, qstash *QStashVerifier, publicBaseURL string, log *zap.Logger) *Gate {
	return &Gate{hmac: hmac, qstash: qstash, baseURL: publicBaseURL, log: log.Named("signature")}
}

// Middleware returns the chi middleware. The body is buffered and restored
// so handlers read the same bytes that were verified.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
		if err != nil {
			g.reject(w, r, "read_body", err)
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		if token := r.Header.Get(HeaderUpstashSignature); token != "" && g.qstash != nil {
			if err := g.qstash.Verify(token, g.baseURL+r.URL.RequestURI(), body); err != nil {
				g.reject(w, r, "qstash", err)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if err := g.hmac.Verify(r, body); err != nil {
			g.reject(w, r, reason(err), err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, why string, err error) {
	telemetry.SignatureRejects.WithLabelValues(why).Inc()
	g.log.Warn("signature rejected", zap.String("http_path", r.URL.Path), zap.String("reason", why), zap.Error(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingHeaders):
		return "missing_headers"
	case errors.Is(err, ErrStaleTimestamp):
		return "stale_timestamp"
	case errors.Is(err, ErrNoSecret):
		return "no_secret"
	default:
		return "bad_signature"
	}
}
