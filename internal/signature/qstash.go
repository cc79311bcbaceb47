package signature

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HeaderUpstashSignature carries the JWT QStash attaches to deliveries.
const HeaderUpstashSignature = "Upstash-Signature"

type qstashClaims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// QStashVerifier validates Upstash-Signature tokens against the current
// signing key, falling back to the next key during rotation.
type QStashVerifier struct {
	keys [][]byte
	now  func() time.Time
}

// NewQStashVerifier returns nil when no signing key is configured.
func NewQStashVerifier(currentKey, nextKey string) *QStashVerifier {
	var keys [][]byte
	for _, k := range []string{currentKey, nextKey} {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return &QStashVerifier{keys: keys, now: time.Now}
}

// Verify checks token was issued by QStash for url and body.
func (v *QStashVerifier) Verify(token, url string, body []byte) error {
	var lastErr error
	for _, key := range v.keys {
		err := v.verifyWithKey(key, token, url, body)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrBadSignature, lastErr)
}

func (v *QStashVerifier) verifyWithKey(key []byte, token, url string, body []byte) error {
	var claims qstashClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("Upstash"),
		jwt.WithSubject(url),
		jwt.WithLeeway(time.Second),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(body)
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if strings.TrimRight(claims.Body, "=") != want {
		return errors.New("body hash mismatch")
	}
	return nil
}
