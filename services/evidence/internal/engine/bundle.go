package engine

import (
	"bytes"
	"context"
	"errors"
	"sort"

	"github.com/adrper79-dot/callmonitor/pkg/canonhash"
	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

// BundleInput carries everything the Bundle Builder needs. EnsureEvidenceBundle
// reconstructs it from a stored manifest, so a crash between manifest and
// bundle creation is always repairable.
type BundleInput struct {
	ManifestID       string
	ManifestHash     string
	OrganizationID   string
	CallID           string
	RecordingID      string
	Artifacts        []domain.ArtifactReference
	Version          int
	ParentManifestID *string
}

// CreateEvidenceBundle aggregates a manifest's artifact hashes into the
// verifiable capstone record. Idempotent per manifest: an existing live
// bundle is returned as-is. The synchronous insert is the commit point; the
// TSA request runs detached afterwards.
func (e *Engine) CreateEvidenceBundle(ctx context.Context, in BundleInput) (string, error) {
	existing, err := e.store.LiveBundleByManifest(ctx, in.ManifestID)
	if err == nil {
		return existing.BundleID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	var parentBundleID *string
	if in.ParentManifestID != nil {
		switch pb, perr := e.store.LiveBundleByManifest(ctx, *in.ParentManifestID); {
		case perr == nil:
			parent := pb.BundleID
			parentBundleID = &parent
		case errors.Is(perr, domain.ErrNotFound):
			// parent manifest never got a bundle; the chain simply starts here
		default:
			return "", perr
		}
	}

	status := domain.TSANotConfigured
	if e.tsa != nil {
		status = domain.TSAPending
	}

	b := domain.EvidenceBundle{
		BundleID:       e.newID("bun_"),
		ManifestID:     in.ManifestID,
		ManifestHash:   in.ManifestHash,
		ArtifactHashes: artifactHashes(in.Artifacts),
		OrganizationID: in.OrganizationID,
		CallID:         in.CallID,
		RecordingID:    in.RecordingID,
		Version:        in.Version,
		ParentBundleID: parentBundleID,
		CreatedAt:      e.now().UTC(),
		TSAStatus:      status,
	}
	hash, _, err := canonhash.Sum(b.HashPayload())
	if err != nil {
		return "", err
	}
	b.BundleHash = hash

	if err := e.store.InsertBundle(ctx, b); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			winner, gerr := e.store.LiveBundleByManifest(ctx, in.ManifestID)
			if gerr == nil {
				return winner.BundleID, nil
			}
			return "", gerr
		}
		return "", err
	}

	if parentBundleID != nil {
		if err := e.store.MarkBundleSuperseded(ctx, *parentBundleID, b.BundleID, b.CreatedAt); err != nil {
			e.log.WarnContext(ctx, "could not set bundle supersession pointer",
				"bundle_id", *parentBundleID, "superseded_by", b.BundleID, "err", err)
		}
	}

	if status == domain.TSAPending {
		if !e.tsa.Enqueue(b.BundleID, b.BundleHash) {
			e.log.WarnContext(ctx, "tsa queue full, bundle left pending for reconciliation",
				"bundle_id", b.BundleID)
		}
	}

	return b.BundleID, nil
}

// EnsureEvidenceBundle repairs orphan manifests: a manifest without a bundle
// (crash between manifest and bundle creation) gets one built from its own
// stored payload. Safe to call repeatedly.
func (e *Engine) EnsureEvidenceBundle(ctx context.Context, manifestID string) (string, error) {
	m, err := e.store.GetManifest(ctx, manifestID)
	if err != nil {
		return "", err
	}
	return e.CreateEvidenceBundle(ctx, BundleInput{
		ManifestID:       m.ManifestID,
		ManifestHash:     m.ManifestHash,
		OrganizationID:   m.OrganizationID,
		CallID:           m.CallID,
		RecordingID:      m.RecordingID,
		Artifacts:        m.Artifacts,
		Version:          m.Version,
		ParentManifestID: m.ParentManifestID,
	})
}

// artifactHashes maps artifacts to (type, id, sha256) sorted bytewise by
// (type, id) so the bundle hash is deterministic.
func artifactHashes(artifacts []domain.ArtifactReference) []domain.ArtifactHash {
	out := make([]domain.ArtifactHash, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, domain.ArtifactHash{Type: a.Type, ID: a.ID, SHA256: a.SHA256})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return bytes.Compare([]byte(out[i].Type), []byte(out[j].Type)) < 0
		}
		return bytes.Compare([]byte(out[i].ID), []byte(out[j].ID)) < 0
	})
	return out
}
