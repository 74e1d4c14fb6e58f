package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Header carries the webhook signature.
const Header = "X-Giving-Signature"

const prefix = "sha256="

// Sign returns the header value for payload: "sha256=" followed by the
// hex HMAC-SHA256 of payload keyed with secret.
func Sign(payload []byte, secret string) string {
	return prefix + Hash(payload, secret)
}

// Hash returns the hex HMAC-SHA256 of payload.
func Hash(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a header value produced by Sign. An empty secret never
// verifies.
func Verify(payload []byte, secret, header string) bool {
	if secret == "" {
		return false
	}
	got, ok := strings.CutPrefix(strings.TrimSpace(header), prefix)
	if !ok {
		return false
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Hash(payload, secret))
	return hmac.Equal(sig, want)
}
