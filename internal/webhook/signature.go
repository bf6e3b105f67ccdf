package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

const (
	// SignatureHeader carries the HMAC-SHA256 of the raw request body
	SignatureHeader = "X-Signature-256"

	// HubSignatureHeader is accepted as an alias of SignatureHeader
	HubSignatureHeader = "X-Hub-Signature-256"

	signaturePrefix = "sha256="
)

// Sign returns the signature header value for payload, "sha256=<hex>"
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the HMAC-SHA256 of payload in constant time.
// The signature may be "sha256=<hex>" or bare hex.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// SignatureFromHeader returns the signature sent with a request
func SignatureFromHeader(h http.Header) string {
	if sig := h.Get(SignatureHeader); sig != "" {
		return sig
	}
	return h.Get(HubSignatureHeader)
}
