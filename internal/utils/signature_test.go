package utils

import "testing"

func TestWebhookSignature(t *testing.T) {
	body := []byte(`{"remote_id":"900","data":{"status":"contacted"}}`)

	sig := SignWebhookPayload(body, "secret-a")
	if !VerifyWebhookSignature(body, sig, "secret-a") {
		t.Fatal("signature must verify under the signing secret")
	}
	if VerifyWebhookSignature(body, sig, "secret-b") {
		t.Fatal("signature must not verify under a different secret")
	}
	if VerifyWebhookSignature([]byte(`{"remote_id":"901"}`), sig, "secret-a") {
		t.Fatal("signature must not verify for a different body")
	}
	if VerifyWebhookSignature(body, "", "secret-a") {
		t.Fatal("empty signature must be rejected")
	}
}
