package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/adrper79-dot/callmonitor/pkg/canonhash"
	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

// TranscriptOpts describes who produced a transcript version and what it was
// derived from.
type TranscriptOpts struct {
	ProducedBy domain.Producer
	Model      string
	UserID     string
	InputRefs  []domain.InputRef
}

func (o TranscriptOpts) producer() domain.Producer {
	if o.ProducedBy != "" {
		return o.ProducedBy
	}
	if o.UserID != "" {
		return domain.ProducedByHuman
	}
	if o.Model != "" {
		return domain.ProducedByModel
	}
	return domain.ProducedBySystem
}

// CreateTranscriptVersion appends an immutable transcript snapshot at
// version max+1. Two simultaneous corrections race on the max-read; the
// (recording_id, version) constraint makes the loser retry with a fresh
// read, so both end up recorded in some order.
func (e *Engine) CreateTranscriptVersion(ctx context.Context, recordingID, organizationID string, payload json.RawMessage, opts TranscriptOpts) (string, int, error) {
	hash, _, err := canonhash.Sum(payload)
	if err != nil {
		return "", 0, err
	}

	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		max, err := e.store.MaxTranscriptVersion(ctx, recordingID)
		if err != nil {
			return "", 0, err
		}
		tv := domain.TranscriptVersion{
			TranscriptVersionID: e.newID("tsv_"),
			RecordingID:         recordingID,
			OrganizationID:      organizationID,
			Version:             max + 1,
			Payload:             payload,
			PayloadHash:         hash,
			ProducedBy:          opts.producer(),
			ProducedByModel:     opts.Model,
			ProducedByUserID:    opts.UserID,
			InputRefs:           opts.InputRefs,
			CreatedAt:           e.now().UTC(),
		}
		if err := e.store.InsertTranscriptVersion(ctx, tv); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				e.log.WarnContext(ctx, "transcript version race, retrying with fresh max",
					"recording_id", recordingID, "attempt", attempt)
				continue
			}
			return "", 0, err
		}

		e.recordProvenanceBestEffort(ctx, domain.ArtifactProvenance{
			ProvenanceID:       e.newID("prov_"),
			OrganizationID:     organizationID,
			ArtifactType:       domain.ArtifactTranscript,
			ArtifactID:         tv.TranscriptVersionID,
			ParentArtifactID:   recordingID,
			ParentArtifactType: domain.ArtifactRecording,
			ProducedBy:         tv.ProducedBy,
			ProducedByModel:    tv.ProducedByModel,
			ProducedByUserID:   tv.ProducedByUserID,
			InputRefs:          tv.InputRefs,
			Version:            tv.Version,
			ProducedAt:         tv.CreatedAt,
		})

		return tv.TranscriptVersionID, tv.Version, nil
	}
	return "", 0, fmt.Errorf("%w: transcript versioning for recording %s gave up after %d attempts",
		domain.ErrConflict, recordingID, maxWriteAttempts)
}
