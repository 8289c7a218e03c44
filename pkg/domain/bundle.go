package domain

import "time"

type TSAStatus string

const (
	TSANotConfigured TSAStatus = "not_configured"
	TSAPending       TSAStatus = "pending"
	TSACompleted     TSAStatus = "completed"
	TSAError         TSAStatus = "error"
)

// TSAResult is the timestamp-authority response anchored onto a bundle.
// TokenHash is a SHA-256 over the decoded token bytes so tampering with the
// stored token blob is detectable without re-parsing it.
type TSAResult struct {
	URL         string `json:"tsa_url"`
	Timestamp   string `json:"timestamp"`
	PolicyOID   string `json:"policy_oid,omitempty"`
	Serial      string `json:"serial,omitempty"`
	TokenBase64 string `json:"token_base64"`
	TokenHash   string `json:"token_hash"`
}

// EvidenceBundle is the externally verifiable capstone over one manifest:
// the manifest hash plus every artifact hash, hashed again as a unit.
// Everything except the tsa_* fields and the supersession pointers is
// immutable once inserted.
type EvidenceBundle struct {
	BundleID       string         `json:"bundle_id"`
	ManifestID     string         `json:"manifest_id"`
	ManifestHash   string         `json:"manifest_hash"`
	ArtifactHashes []ArtifactHash `json:"artifact_hashes"`
	OrganizationID string         `json:"organization_id"`
	CallID         string         `json:"call_id"`
	RecordingID    string         `json:"recording_id"`
	BundleHash     string         `json:"bundle_hash,omitempty"`
	Version        int            `json:"version"`
	ParentBundleID *string        `json:"parent_bundle_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`

	TSAStatus      TSAStatus  `json:"tsa_status"`
	TSA            *TSAResult `json:"tsa,omitempty"`
	TSARequestedAt *time.Time `json:"tsa_requested_at,omitempty"`
	TSAReceivedAt  *time.Time `json:"tsa_received_at,omitempty"`
	TSAErrorReason string     `json:"tsa_error,omitempty"`

	SupersededAt       *time.Time `json:"superseded_at,omitempty"`
	SupersededByBundle *string    `json:"superseded_by_bundle_id,omitempty"`
}

// HashPayload is the canonical serialization input for bundle_hash. TSA
// fields arrive after insert and are deliberately excluded, as are the
// supersession pointers and parent linkage resolved at build time.
func (b EvidenceBundle) HashPayload() map[string]any {
	return map[string]any{
		"manifest_id":     b.ManifestID,
		"manifest_hash":   b.ManifestHash,
		"artifact_hashes": b.ArtifactHashes,
		"organization_id": b.OrganizationID,
		"call_id":         b.CallID,
		"created_at":      b.CreatedAt.UTC().Format(time.RFC3339Nano),
		"version":         b.Version,
	}
}
