package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignWebhookPayload computes the hex HMAC-SHA256 signature of a webhook
// body under the shared secret.
func SignWebhookPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks a received signature in constant time
func VerifyWebhookSignature(body []byte, signature, secret string) bool {
	expected := SignWebhookPayload(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
