// Package webhooksig verifies aggregator webhook signatures before their
// payloads reach the engine.
package webhooksig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultSignatureHeader = "X-Webhook-Signature"
	defaultTimestampHeader = "X-Webhook-Timestamp"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleTimestamp   = errors.New("stale webhook timestamp")
)

// Verifier checks an HMAC-SHA256 hex digest of the raw request body. With a
// zero Secret verification is disabled, matching a dev setup without webhook
// credentials. MaxSkew of zero disables the timestamp check.
type Verifier struct {
	Secret          string
	MaxSkew         time.Duration
	SignatureHeader string
	TimestampHeader string
	Now             func() time.Time
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.verify(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (v *Verifier) verify(r *http.Request) error {
	if v.Secret == "" {
		return nil
	}

	sigHeader := v.SignatureHeader
	if sigHeader == "" {
		sigHeader = defaultSignatureHeader
	}
	sig := strings.TrimPrefix(r.Header.Get(sigHeader), "sha256=")
	if sig == "" {
		return ErrMissingSignature
	}

	if v.MaxSkew > 0 {
		if err := v.checkTimestamp(r); err != nil {
			return err
		}
	}

	body, err := readBody(r)
	if err != nil {
		return err
	}

	expected := Sign(v.Secret, body)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *Verifier) checkTimestamp(r *http.Request) error {
	tsHeader := v.TimestampHeader
	if tsHeader == "" {
		tsHeader = defaultTimestampHeader
	}
	ts, err := strconv.ParseInt(r.Header.Get(tsHeader), 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	sent := time.Unix(ts, 0)
	if now.Sub(sent) > v.MaxSkew || sent.Sub(now) > v.MaxSkew {
		return ErrStaleTimestamp
	}
	return nil
}

// Sign computes the lower-case hex HMAC-SHA256 digest of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return strings.ToLower(hex.EncodeToString(mac.Sum(nil)))
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(strings.NewReader(string(body)))
	return body, nil
}
