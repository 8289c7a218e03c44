// Package idempotency replays stored responses for repeated mutating
// requests. Duplicate webhook deliveries and client retries carry the same
// idempotency key, so the second caller gets the first caller's response
// instead of a second side effect.
package idempotency

import "context"

type ActorContext struct {
	OrganizationID string
	ActorID        string
	IdempotencyKey string
}

type Store interface {
	GetIdempotencyRecord(ctx context.Context, organizationID, actorID, idempotencyKey, endpoint string) (int, map[string]any, bool, error)
	SaveIdempotencyRecord(ctx context.Context, organizationID, actorID, idempotencyKey, endpoint string, responseStatus int, responseBody map[string]any) error
}

// Replay returns the stored response for this actor/key/endpoint when one
// exists. No key means no idempotency semantics were requested.
func Replay(ctx context.Context, st Store, actor ActorContext, endpoint string) (int, map[string]any, bool, error) {
	if actor.IdempotencyKey == "" {
		return 0, nil, false, nil
	}
	status, body, found, err := st.GetIdempotencyRecord(ctx, actor.OrganizationID, actor.ActorID, actor.IdempotencyKey, endpoint)
	if err != nil {
		return 0, nil, false, err
	}
	if !found {
		return 0, nil, false, nil
	}
	return status, body, true, nil
}

func Save(ctx context.Context, st Store, actor ActorContext, endpoint string, status int, response map[string]any) error {
	if actor.IdempotencyKey == "" {
		return nil
	}
	return st.SaveIdempotencyRecord(ctx, actor.OrganizationID, actor.ActorID, actor.IdempotencyKey, endpoint, status, response)
}
