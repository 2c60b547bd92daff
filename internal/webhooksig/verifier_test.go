package webhooksig

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

const secret = "hook-secret"

func signedRequest(t *testing.T, body, sig string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/bank", strings.NewReader(body))
	if sig != "" {
		req.Header.Set("X-Webhook-Signature", sig)
	}
	return req
}

func serve(v *Verifier, req *http.Request) (*httptest.ResponseRecorder, string) {
	var seenBody string
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		blob, _ := io.ReadAll(r.Body)
		seenBody = string(blob)
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seenBody
}

func TestValidSignaturePasses(t *testing.T) {
	v := &Verifier{Secret: secret}
	body := `{"event":"CONNECTION_SUCCESS"}`

	rec, seenBody := serve(v, signedRequest(t, body, Sign(secret, []byte(body))))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	// The middleware reads the body; the handler must still see it.
	if seenBody != body {
		t.Fatalf("handler saw %q", seenBody)
	}
}

func TestSha256PrefixAccepted(t *testing.T) {
	v := &Verifier{Secret: secret}
	body := `{"event":"ACCOUNTS_UPDATED"}`

	rec, _ := serve(v, signedRequest(t, body, "sha256="+Sign(secret, []byte(body))))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestInvalidSignatureRejected(t *testing.T) {
	v := &Verifier{Secret: secret}
	body := `{"event":"CONNECTION_SUCCESS"}`

	rec, _ := serve(v, signedRequest(t, body, Sign("wrong-secret", []byte(body))))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMissingSignatureRejected(t *testing.T) {
	v := &Verifier{Secret: secret}

	rec, _ := serve(v, signedRequest(t, "{}", ""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestEmptySecretDisablesVerification(t *testing.T) {
	v := &Verifier{}

	rec, _ := serve(v, signedRequest(t, "{}", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with verification disabled, got %d", rec.Code)
	}
}

func TestStaleTimestampRejected(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	v := &Verifier{
		Secret:  secret,
		MaxSkew: 5 * time.Minute,
		Now:     func() time.Time { return now },
	}
	body := "{}"

	req := signedRequest(t, body, Sign(secret, []byte(body)))
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10))
	rec, _ := serve(v, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for stale timestamp, got %d", rec.Code)
	}

	req = signedRequest(t, body, Sign(secret, []byte(body)))
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(now.Unix(), 10))
	rec, _ = serve(v, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for fresh timestamp, got %d", rec.Code)
	}
}
