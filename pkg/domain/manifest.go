package domain

import "time"

// EvidenceManifest is a point-in-time, hash-stamped collection of artifact
// references for one call/recording. Rows are insert-only; a regeneration
// inserts version+1 and marks this row superseded. Exactly one manifest per
// recording is live at any time, resolved as "the manifest no child
// references" rather than via the supersession pointer.
type EvidenceManifest struct {
	ManifestID       string              `json:"manifest_id"`
	CallID           string              `json:"call_id"`
	RecordingID      string              `json:"recording_id"`
	OrganizationID   string              `json:"organization_id"`
	Artifacts        []ArtifactReference `json:"artifacts"`
	ManifestHash     string              `json:"manifest_hash,omitempty"`
	Version          int                 `json:"version"`
	ParentManifestID *string             `json:"parent_manifest_id,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`

	// Provenance summarizes which engine/model produced each artifact class,
	// e.g. {"transcript": "asr-large-v3"}.
	Provenance map[string]string `json:"provenance,omitempty"`

	SupersededAt *time.Time `json:"superseded_at,omitempty"`
	SupersededBy *string    `json:"superseded_by,omitempty"`
}

// HashPayload is the canonical serialization input for manifest_hash: the
// manifest minus its own hash and the hash-irrelevant supersession pointers.
// A third party re-hashing a superseded manifest must get the original digest.
func (m EvidenceManifest) HashPayload() map[string]any {
	p := map[string]any{
		"manifest_id":     m.ManifestID,
		"call_id":         m.CallID,
		"recording_id":    m.RecordingID,
		"organization_id": m.OrganizationID,
		"artifacts":       m.Artifacts,
		"version":         m.Version,
		"created_at":      m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if m.ParentManifestID != nil {
		p["parent_manifest_id"] = *m.ParentManifestID
	}
	if len(m.Provenance) > 0 {
		p["provenance"] = m.Provenance
	}
	return p
}
