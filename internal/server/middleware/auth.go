package middleware

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/solbot/internal/crypto"
)

// Auth requires the API key as "Authorization: Bearer <key>" or in
// X-API-Key. An empty apiKey disables the check.
func Auth(apiKey string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			switch token := apiToken(r); {
			case token == "":
				writeUnauthorized(w, "missing api key")
			case subtle.ConstantTimeCompare([]byte(token), want) != 1:
				writeUnauthorized(w, "invalid api key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func apiToken(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// maxSignedBody bounds the body read for signature verification.
const maxSignedBody = 1 << 20

// Signed returns middleware that requires an HMAC request signature on
// mutating requests (anything but GET, HEAD and OPTIONS). A zero-secret
// auth disables the check.
func Signed(auth crypto.RequestAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth.Secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeUnauthorized(w, "unreadable body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			err = auth.Verify(r.Method, r.URL.Path, string(body),
				r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature), time.Now())
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, crypto.ErrSignatureMissing):
				writeUnauthorized(w, "missing request signature")
			case errors.Is(err, crypto.ErrSignatureStale):
				writeUnauthorized(w, "stale request signature")
			default:
				writeUnauthorized(w, "invalid request signature")
			}
		})
	}
}
