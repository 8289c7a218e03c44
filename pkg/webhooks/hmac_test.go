package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"
)

func signedHeaders(t *testing.T, body []byte, secret string) http.Header {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	h := http.Header{}
	h.Set(SignatureHeader, hex.EncodeToString(mac.Sum(nil)))
	h.Set(EventIDHeader, "evt_1")
	h.Set(EventTypeHeader, EventTranscriptionCompleted)
	return h
}

func TestVerifyHMACAcceptsValidSignature(t *testing.T) {
	body := []byte(`{"recording_id":"rec_1"}`)
	res, err := VerifyHMAC(signedHeaders(t, body, "s3cret"), body, "s3cret")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid signature, details: %v", res.Details)
	}
	if res.ProviderEventID != "evt_1" || res.EventType != EventTranscriptionCompleted {
		t.Fatalf("unexpected event metadata: %+v", res)
	}
}

func TestVerifyHMACRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"recording_id":"rec_1"}`)
	res, err := VerifyHMAC(signedHeaders(t, body, "wrong"), body, "s3cret")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Valid {
		t.Fatalf("expected invalid signature")
	}
}

func TestVerifyHMACMissingSignatureIsInvalidNotError(t *testing.T) {
	res, err := VerifyHMAC(http.Header{}, []byte(`{}`), "s3cret")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Valid {
		t.Fatalf("expected invalid result")
	}
	if res.Details["signature_header_present"] != false {
		t.Fatalf("expected signature_header_present=false")
	}
	if res.EventType != "unknown" {
		t.Fatalf("expected unknown event type, got %q", res.EventType)
	}
}

func TestVerifyHMACEmptySecretErrors(t *testing.T) {
	if _, err := VerifyHMAC(http.Header{}, nil, "  "); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
