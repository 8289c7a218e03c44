package domain

import (
	"encoding/json"
	"time"
)

// TranscriptVersion is an append-only, hashed transcript snapshot. A
// correction inserts version max+1; no existing version is ever edited.
// Versions are 1-based and unique per recording.
type TranscriptVersion struct {
	TranscriptVersionID string          `json:"transcript_version_id"`
	RecordingID         string          `json:"recording_id"`
	OrganizationID      string          `json:"organization_id"`
	Version             int             `json:"version"`
	Payload             json.RawMessage `json:"transcript_payload"`
	PayloadHash         string          `json:"transcript_hash"`
	ProducedBy          Producer        `json:"produced_by"`
	ProducedByModel     string          `json:"produced_by_model,omitempty"`
	ProducedByUserID    string          `json:"produced_by_user_id,omitempty"`
	InputRefs           []InputRef      `json:"input_refs,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}
