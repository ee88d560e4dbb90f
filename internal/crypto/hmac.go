package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Request signature headers.
const (
	HeaderTimestamp = "X-Solbot-Timestamp"
	HeaderSignature = "X-Solbot-Signature"
)

// RequestAuth signs and verifies operator API requests with a shared
// secret. The signature is HMAC-SHA256(secret, timestamp+method+path+body)
// in base64.
type RequestAuth struct {
	Secret  string
	MaxSkew time.Duration
}

// Errors returned by Verify.
var (
	ErrSignatureMissing = errors.New("crypto: request signature missing")
	ErrSignatureStale   = errors.New("crypto: request timestamp outside allowed skew")
	ErrSignatureInvalid = errors.New("crypto: request signature invalid")
)

// Headers returns the signature headers for a request made now.
func (a RequestAuth) Headers(method, path, body string) map[string]string {
	return a.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers with an explicit Unix timestamp.
func (a RequestAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64([]byte(a.Secret), ts+method+path+body),
	}
}

// Verify checks a request's timestamp and signature against now.
func (a RequestAuth) Verify(method, path, body, ts, sig string, now time.Time) error {
	if ts == "" || sig == "" {
		return ErrSignatureMissing
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrSignatureInvalid, ts)
	}
	skew := a.MaxSkew
	if skew <= 0 {
		skew = 30 * time.Second
	}
	if d := now.Sub(time.Unix(unix, 0)); d > skew || d < -skew {
		return ErrSignatureStale
	}
	want := hmacSHA256Base64([]byte(a.Secret), ts+method+path+body)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrSignatureInvalid
	}
	return nil
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (a RequestAuth) String() string {
	if len(a.Secret) <= 4 {
		return "RequestAuth{secret=****}"
	}
	return fmt.Sprintf("RequestAuth{secret=%s****}", a.Secret[:4])
}
