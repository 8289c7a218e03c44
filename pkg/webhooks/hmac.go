package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

const (
	SignatureHeader = "X-Signature"
	EventIDHeader   = "X-Event-Id"
	EventTypeHeader = "X-Event-Type"

	hmacScheme = "hmac-sha256/v1"
)

// Artifact-completion event types the evidence service reacts to.
const (
	EventRecordingCompleted     = "recording.completed"
	EventTranscriptionCompleted = "transcription.completed"
	EventTranslationCompleted   = "translation.completed"
	EventSurveyCompleted        = "survey.completed"
	EventScoringCompleted       = "scoring.completed"
)

type VerificationResult struct {
	Valid           bool           `json:"valid"`
	Scheme          string         `json:"scheme"`
	Details         map[string]any `json:"details"`
	ProviderEventID string         `json:"provider_event_id,omitempty"`
	EventType       string         `json:"event_type,omitempty"`
}

// VerifyHMAC checks the hex HMAC-SHA256 body signature in X-Signature
// against the endpoint secret with a constant-time compare. A missing or
// undecodable signature yields Valid=false, not an error; an empty secret is
// a configuration bug and errors.
func VerifyHMAC(headers http.Header, rawBody []byte, secret string) (VerificationResult, error) {
	if strings.TrimSpace(secret) == "" {
		return VerificationResult{}, fmt.Errorf("webhook endpoint secret is empty")
	}

	res := VerificationResult{
		Scheme: hmacScheme,
		Details: map[string]any{
			"signature_header_present": false,
			"signature_hex_decodable":  false,
		},
		ProviderEventID: strings.TrimSpace(headers.Get(EventIDHeader)),
		EventType:       strings.TrimSpace(headers.Get(EventTypeHeader)),
	}
	if res.EventType == "" {
		res.EventType = "unknown"
	}

	sigHex := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHex == "" {
		return res, nil
	}
	res.Details["signature_header_present"] = true

	providedSig, err := hex.DecodeString(sigHex)
	if err != nil {
		return res, nil
	}
	res.Details["signature_hex_decodable"] = true

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	res.Valid = hmac.Equal(mac.Sum(nil), providedSig)
	return res, nil
}
