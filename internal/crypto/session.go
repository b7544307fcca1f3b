package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// SessionAuth holds the API credentials issued by the exchange after the
// signed login handshake. Requests carry an HMAC of the request line so the
// session secret never travels on the wire.
type SessionAuth struct {
	Key        string // session API key
	Secret     string // base64-encoded session secret
	Passphrase string
}

// Headers returns the authentication headers for an API request. The
// signature is HMAC-SHA256(secret, timestamp+method+path+body) encoded as
// base64; the secret is base64-decoded before use.
//
// Returned header keys:
//   - PX-MAKER
//   - PX-API-KEY
//   - PX-TIMESTAMP
//   - PX-PASSPHRASE
//   - PX-SIGNATURE
func (a *SessionAuth) Headers(makerID, method, path, body string) map[string]string {
	return a.HeadersAt(makerID, method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (a *SessionAuth) HeadersAt(makerID, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	secretBytes, err := base64.StdEncoding.DecodeString(a.Secret)
	if err != nil {
		// If decoding fails, fall back to raw bytes so the caller gets an
		// obviously-wrong signature rather than a panic.
		secretBytes = []byte(a.Secret)
	}

	message := ts + method + path + body
	sig := hmacSHA256Base64(secretBytes, message)

	return map[string]string{
		"PX-MAKER":      makerID,
		"PX-API-KEY":    a.Key,
		"PX-TIMESTAMP":  ts,
		"PX-PASSPHRASE": a.Passphrase,
		"PX-SIGNATURE":  sig,
	}
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
