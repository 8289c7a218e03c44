package domain

import "time"

// ArtifactProvenance is one append-only audit row: who/what/when/how for a
// single artifact creation event. Rows are never mutated. Recording
// provenance is best-effort; a missing row can be backfilled from the
// manifest contents, so failures here never block manifest or bundle
// creation.
type ArtifactProvenance struct {
	ProvenanceID       string       `json:"provenance_id"`
	OrganizationID     string       `json:"organization_id"`
	ArtifactType       ArtifactType `json:"artifact_type"`
	ArtifactID         string       `json:"artifact_id"`
	ParentArtifactType ArtifactType `json:"parent_artifact_type,omitempty"`
	ParentArtifactID   string       `json:"parent_artifact_id,omitempty"`
	ProducedBy         Producer     `json:"produced_by"`
	ProducedByModel    string       `json:"produced_by_model,omitempty"`
	ProducedByUserID   string       `json:"produced_by_user_id,omitempty"`
	ProducedBySystemID string       `json:"produced_by_system_id,omitempty"`
	InputRefs          []InputRef   `json:"input_refs,omitempty"`
	Version            int          `json:"version"`
	ProducedAt         time.Time    `json:"produced_at"`
}
