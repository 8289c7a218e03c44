// Package webhooks ingests artifact-completion notifications and turns them
// into evidence: each verified delivery is fingerprinted, receipted, and then
// drives the idempotent manifest/bundle pipeline for the affected recording.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adrper79-dot/callmonitor/pkg/httpx"
	pkgwebhooks "github.com/adrper79-dot/callmonitor/pkg/webhooks"
	"github.com/adrper79-dot/callmonitor/services/evidence/internal/store"
)

const maxWebhookBodyBytes = 5 << 20 // 5MB

var ErrEndpointNotFound = store.ErrEndpointNotFound

// ReceiptStore is the persistence slice the ingress needs.
type ReceiptStore interface {
	GetWebhookEndpoint(ctx context.Context, provider, token string) (store.WebhookEndpoint, error)
	InsertReceipt(ctx context.Context, r store.WebhookReceipt) (inserted bool, receiptID string, err error)
}

// Pipeline is the evidence engine surface a completion event triggers. Both
// operations are idempotent, so re-running them for a duplicate delivery is
// safe and self-healing after a crash.
type Pipeline interface {
	GenerateEvidenceManifest(ctx context.Context, callID, recordingID, organizationID, scoreID string) (string, error)
	EnsureEvidenceBundle(ctx context.Context, manifestID string) (string, error)
}

type IngressHandler struct {
	store    ReceiptStore
	pipeline Pipeline
	log      *slog.Logger
	now      func() time.Time
}

func NewIngressHandler(st ReceiptStore, pipeline Pipeline, log *slog.Logger) *IngressHandler {
	if log == nil {
		log = slog.Default()
	}
	return &IngressHandler{store: st, pipeline: pipeline, log: log, now: time.Now}
}

type completionEvent struct {
	CallID         string `json:"call_id"`
	RecordingID    string `json:"recording_id"`
	OrganizationID string `json:"organization_id"`
	ScoreID        string `json:"score_id"`
}

func (h *IngressHandler) HandleIngress(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	endpointToken := strings.TrimSpace(chi.URLParam(r, "endpoint_token"))

	endpoint, err := h.store.GetWebhookEndpoint(r.Context(), provider, endpointToken)
	if err != nil {
		if errors.Is(err, ErrEndpointNotFound) {
			httpx.WriteError(w, 404, "NOT_FOUND", "webhook endpoint not found", nil)
			return
		}
		httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
		return
	}
	if endpoint.RevokedAt != nil {
		httpx.WriteError(w, 404, "NOT_FOUND", "webhook endpoint not found", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.WriteError(w, 413, "PAYLOAD_TOO_LARGE", "payload exceeds 5MB limit", nil)
			return
		}
		httpx.WriteError(w, 400, "BAD_BODY", err.Error(), nil)
		return
	}

	headersJSON, _, err := pkgwebhooks.CanonicalizeHeaders(r.Header)
	if err != nil {
		httpx.WriteError(w, 500, "CANONICALIZATION_ERROR", err.Error(), nil)
		return
	}
	bodySHA, headersSHA, requestSHA := pkgwebhooks.RequestHashes(r.Method, r.URL.Path, headersJSON, rawBody)

	verification, err := pkgwebhooks.VerifyHMAC(r.Header, rawBody, endpoint.Secret)
	if err != nil {
		httpx.WriteError(w, 500, "VERIFIER_ERROR", err.Error(), nil)
		return
	}
	if !verification.Valid {
		httpx.WriteError(w, 401, "INVALID_SIGNATURE", "webhook signature verification failed", verification.Details)
		return
	}

	var event completionEvent
	if err := json.Unmarshal(rawBody, &event); err != nil || event.RecordingID == "" || event.CallID == "" {
		httpx.WriteError(w, 400, "BAD_EVENT", "event must carry call_id and recording_id", nil)
		return
	}

	providerEventID := verification.ProviderEventID
	if providerEventID == "" {
		// No provider id: fall back to the request fingerprint so exact
		// redelivery still dedupes.
		providerEventID = requestSHA
	}

	inserted, receiptID, err := h.store.InsertReceipt(r.Context(), store.WebhookReceipt{
		ReceiptID:       "rcpt_" + uuid.NewString(),
		Provider:        provider,
		ProviderEventID: providerEventID,
		EventType:       verification.EventType,
		CallID:          event.CallID,
		RecordingID:     event.RecordingID,
		RawBodySHA256:   bodySHA,
		HeadersSHA256:   headersSHA,
		RequestSHA256:   requestSHA,
		ReceivedAt:      h.now().UTC(),
	})
	if err != nil {
		httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
		return
	}

	// Duplicates re-run the pipeline anyway: both operations are idempotent,
	// and a redelivery after a crash is exactly the repair we want.
	manifestID, err := h.pipeline.GenerateEvidenceManifest(r.Context(), event.CallID, event.RecordingID, event.OrganizationID, event.ScoreID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "evidence could not be finalized",
			"call_id", event.CallID, "recording_id", event.RecordingID, "err", err)
		httpx.WriteDomainError(w, err, event.RecordingID)
		return
	}
	bundleID, err := h.pipeline.EnsureEvidenceBundle(r.Context(), manifestID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "evidence could not be finalized",
			"call_id", event.CallID, "manifest_id", manifestID, "err", err)
		httpx.WriteDomainError(w, err, manifestID)
		return
	}

	httpx.WriteJSON(w, 200, map[string]any{
		"request_id":  httpx.NewRequestID(),
		"receipt_id":  receiptID,
		"duplicate":   !inserted,
		"event_type":  verification.EventType,
		"manifest_id": manifestID,
		"bundle_id":   bundleID,
	})
}
