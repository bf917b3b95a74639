// Package inspect signs and verifies the optional inspect-link URLs
// described in spec.md §6: when a baseUrl and secret are configured, every
// thread gets a tamper-evident link to an out-of-scope HTTP front-end.
//
// Grounded on the teacher's internal/config (config_load.go) use of
// crypto/sha256 for config hashing, generalized here to crypto/hmac for a
// keyed signature and crypto/subtle for constant-time verification.
package inspect

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"strings"
)

// Signer builds and verifies inspect URLs for one (baseUrl, secret) pair.
type Signer struct {
	baseURL string
	secret  []byte
}

// New creates a Signer. baseURL should have no trailing slash; secret is
// the shared HMAC key.
func New(baseURL, secret string) *Signer {
	return &Signer{baseURL: baseURL, secret: []byte(secret)}
}

// sign computes the hex-encoded HMAC-SHA256 of threadID under secret.
func (s *Signer) sign(threadID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(threadID))
	return hex.EncodeToString(mac.Sum(nil))
}

// URL builds baseUrl + "/inspect/" + encodeURIComponent(threadId) +
// "?sig=" + hmacSha256Hex(secret, threadId), per spec.md §6. The thread ID
// is percent-encoded as a URI component, so ':' and '/' become %3A and
// %2F and a space becomes %20.
func (s *Signer) URL(threadID string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(threadID), "+", "%20")
	return s.baseURL + "/inspect/" + escaped + "?sig=" + s.sign(threadID)
}

// Verify reports whether sig is the correct signature for threadID,
// comparing in constant time to avoid leaking timing information about a
// partially-correct guess.
func (s *Signer) Verify(threadID, sig string) bool {
	want := s.sign(threadID)
	return subtle.ConstantTimeCompare([]byte(want), []byte(sig)) == 1
}
