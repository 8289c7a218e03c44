package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

var ErrEndpointNotFound = errors.New("webhook endpoint not found")

type WebhookEndpoint struct {
	Provider      string
	EndpointToken string
	Secret        string
	RevokedAt     *time.Time
}

// WebhookReceipt is the stored fingerprint of one artifact-completion
// delivery. (provider, provider_event_id) is unique so redelivery inserts
// nothing.
type WebhookReceipt struct {
	ReceiptID       string    `json:"receipt_id"`
	Provider        string    `json:"provider"`
	ProviderEventID string    `json:"provider_event_id"`
	EventType       string    `json:"event_type"`
	CallID          string    `json:"call_id,omitempty"`
	RecordingID     string    `json:"recording_id,omitempty"`
	RawBodySHA256   string    `json:"raw_body_sha256"`
	HeadersSHA256   string    `json:"headers_sha256"`
	RequestSHA256   string    `json:"request_sha256"`
	ReceivedAt      time.Time `json:"received_at"`
}

func (s *Store) GetWebhookEndpoint(ctx context.Context, provider, token string) (WebhookEndpoint, error) {
	var ep WebhookEndpoint
	err := s.db.QueryRow(ctx, `
SELECT provider, endpoint_token, secret, revoked_at
FROM webhook_endpoints WHERE provider=$1 AND endpoint_token=$2`, provider, token).
		Scan(&ep.Provider, &ep.EndpointToken, &ep.Secret, &ep.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return WebhookEndpoint{}, ErrEndpointNotFound
	}
	if err != nil {
		return WebhookEndpoint{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return ep, nil
}

// InsertReceipt is insert-if-absent: a duplicate delivery returns
// inserted=false plus the original receipt id.
func (s *Store) InsertReceipt(ctx context.Context, r WebhookReceipt) (inserted bool, receiptID string, err error) {
	_, err = s.db.Exec(ctx, `
INSERT INTO webhook_receipts (receipt_id, provider, provider_event_id, event_type, call_id, recording_id,
  raw_body_sha256, headers_sha256, request_sha256, received_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,$8,$9,$10)`,
		r.ReceiptID, r.Provider, r.ProviderEventID, r.EventType, r.CallID, r.RecordingID,
		r.RawBodySHA256, r.HeadersSHA256, r.RequestSHA256, r.ReceivedAt)
	if err == nil {
		return true, r.ReceiptID, nil
	}
	werr := mapWriteErr(err)
	if !errors.Is(werr, domain.ErrConflict) {
		return false, "", werr
	}
	var existingID string
	gerr := s.db.QueryRow(ctx, `
SELECT receipt_id FROM webhook_receipts WHERE provider=$1 AND provider_event_id=$2`,
		r.Provider, r.ProviderEventID).Scan(&existingID)
	if gerr != nil {
		return false, "", fmt.Errorf("%w: %v", domain.ErrPersistence, gerr)
	}
	return false, existingID, nil
}

// Idempotency replay records for mutating HTTP endpoints.

func (s *Store) GetIdempotencyRecord(ctx context.Context, organizationID, actorID, idempotencyKey, endpoint string) (int, map[string]any, bool, error) {
	var (
		status int
		body   []byte
	)
	err := s.db.QueryRow(ctx, `
SELECT response_status, response_body FROM idempotency_records
WHERE organization_id=$1 AND actor_id=$2 AND idempotency_key=$3 AND endpoint=$4`,
		organizationID, actorID, idempotencyKey, endpoint).Scan(&status, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return 0, nil, false, fmt.Errorf("%w: decode response: %v", domain.ErrPersistence, err)
	}
	return status, decoded, true, nil
}

func (s *Store) SaveIdempotencyRecord(ctx context.Context, organizationID, actorID, idempotencyKey, endpoint string, responseStatus int, responseBody map[string]any) error {
	b, err := json.Marshal(responseBody)
	if err != nil {
		return fmt.Errorf("%w: encode response: %v", domain.ErrSerialization, err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO idempotency_records (organization_id, actor_id, idempotency_key, endpoint, response_status, response_body)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (organization_id, actor_id, idempotency_key, endpoint) DO NOTHING`,
		organizationID, actorID, idempotencyKey, endpoint, responseStatus, b)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}
