package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// Header names used by the gateway when it calls us back.
const (
	HeaderVerifHash = "verif-hash"
	HeaderSignature = "X-Payment-Signature"
)

var (
	// ErrSignatureMissing is returned when the request carries no verification header.
	ErrSignatureMissing = errors.New("payment signature missing")
	// ErrSignatureInvalid is returned when a verification header does not match.
	ErrSignatureInvalid = errors.New("payment signature invalid")
	// ErrVerifierNotConfigured is returned when neither secret is set.
	ErrVerifierNotConfigured = errors.New("payment webhook secrets not configured")
)

// Verifier authenticates webhook deliveries. The gateway either echoes a shared secret
// in verif-hash or signs the raw body with HMAC-SHA256.
type Verifier struct {
	secretHash    []byte
	signingSecret []byte
}

// NewVerifier builds a verifier from the configured secrets. Either may be empty.
func NewVerifier(secretHash, signingSecret string) *Verifier {
	return &Verifier{secretHash: []byte(secretHash), signingSecret: []byte(signingSecret)}
}

// Verify checks the delivery. An HMAC signature takes precedence over the shared hash.
func (v *Verifier) Verify(verifHash, signature string, body []byte) error {
	if len(v.secretHash) == 0 && len(v.signingSecret) == 0 {
		return ErrVerifierNotConfigured
	}

	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature != "" && len(v.signingSecret) > 0 {
		got, err := hex.DecodeString(signature)
		if err != nil {
			return ErrSignatureInvalid
		}
		if !hmac.Equal(got, Sign(v.signingSecret, body)) {
			return ErrSignatureInvalid
		}
		return nil
	}

	if verifHash != "" && len(v.secretHash) > 0 {
		if subtle.ConstantTimeCompare([]byte(verifHash), v.secretHash) != 1 {
			return ErrSignatureInvalid
		}
		return nil
	}

	if verifHash == "" && signature == "" {
		return ErrSignatureMissing
	}
	return ErrSignatureInvalid
}

// Sign computes the raw HMAC-SHA256 of body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is Sign rendered as lowercase hex, as sent in X-Payment-Signature.
func SignHex(secret string, body []byte) string {
	return hex.EncodeToString(Sign([]byte(secret), body))
}
