package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/adrper79-dot/callmonitor/pkg/canonhash"
	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

// GenerateEvidenceManifest assembles the call's current artifact set into a
// new manifest version. Idempotent: if the live manifest already covers the
// same artifact set, its id is returned unchanged. A concurrent duplicate
// generation loses on the (recording_id, version) constraint and re-reads.
func (e *Engine) GenerateEvidenceManifest(ctx context.Context, callID, recordingID, organizationID, scoreID string) (string, error) {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		snap, err := e.store.SnapshotArtifacts(ctx, callID, recordingID, scoreID)
		if err != nil {
			return "", err
		}
		if organizationID == "" {
			organizationID = snap.Recording.OrganizationID
		}
		artifacts, provSummary := collectArtifacts(snap)
		if err := domain.ValidateDerivation(artifacts); err != nil {
			return "", fmt.Errorf("invalid artifact set for recording %s: %w", recordingID, err)
		}

		version := 1
		var parentID *string
		live, err := e.store.LiveManifestByRecording(ctx, recordingID)
		switch {
		case err == nil:
			if sameArtifactSet(live.Artifacts, artifacts) {
				return live.ManifestID, nil
			}
			version = live.Version + 1
			parent := live.ManifestID
			parentID = &parent
		case errors.Is(err, domain.ErrNotFound):
			// first manifest for this recording
		default:
			return "", err
		}

		m := domain.EvidenceManifest{
			ManifestID:       e.newID("man_"),
			CallID:           callID,
			RecordingID:      recordingID,
			OrganizationID:   organizationID,
			Artifacts:        artifacts,
			Provenance:       provSummary,
			Version:          version,
			ParentManifestID: parentID,
			CreatedAt:        e.now().UTC(),
		}
		hash, _, err := canonhash.Sum(m.HashPayload())
		if err != nil {
			return "", err
		}
		m.ManifestHash = hash

		if err := e.store.InsertManifest(ctx, m); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				e.log.WarnContext(ctx, "manifest insert lost concurrent race, re-reading",
					"recording_id", recordingID, "attempt", attempt)
				continue
			}
			return "", err
		}

		if parentID != nil {
			if err := e.store.MarkManifestSuperseded(ctx, *parentID, m.ManifestID, m.CreatedAt); err != nil {
				// Live-manifest resolution walks the parent chain, so a
				// rejected pointer update costs nothing but this warning.
				e.log.WarnContext(ctx, "could not set manifest supersession pointer",
					"manifest_id", *parentID, "superseded_by", m.ManifestID, "err", err)
			}
		}

		e.recordProvenanceBestEffort(ctx, domain.ArtifactProvenance{
			ProvenanceID:       e.newID("prov_"),
			OrganizationID:     organizationID,
			ArtifactType:       "manifest",
			ArtifactID:         m.ManifestID,
			ProducedBy:         domain.ProducedBySystem,
			ProducedBySystemID: "evidence-engine",
			Version:            m.Version,
			ProducedAt:         m.CreatedAt,
		})

		return m.ManifestID, nil
	}
	return "", fmt.Errorf("%w: manifest generation for recording %s gave up after %d attempts",
		domain.ErrConflict, recordingID, maxWriteAttempts)
}

// collectArtifacts maps the snapshot into manifest artifact references with
// their derivation chains: recording -> transcript -> {translation, survey,
// score}; the score also references the recording directly.
func collectArtifacts(snap domain.ArtifactSnapshot) ([]domain.ArtifactReference, map[string]string) {
	rec := snap.Recording
	artifacts := []domain.ArtifactReference{{
		Type:       domain.ArtifactRecording,
		ID:         rec.RecordingID,
		URI:        rec.MediaURI,
		SHA256:     rec.MediaSHA256,
		ProducedBy: domain.ProducedBySystem,
		ProducedAt: rec.CompletedAt,
		Version:    1,
		Metadata:   map[string]any{"duration_sec": rec.DurationSec, "source": rec.Source},
	}}
	provSummary := map[string]string{}
	if rec.Source != "" {
		provSummary["recording"] = rec.Source
	}

	recordingRef := domain.InputRef{Type: domain.ArtifactRecording, ID: rec.RecordingID, Hash: rec.MediaSHA256}

	var transcriptRef *domain.InputRef
	switch {
	case snap.TranscriptHead != nil:
		tv := snap.TranscriptHead
		producedBy := tv.ProducedBy
		if producedBy == "" {
			producedBy = domain.ProducedByModel
		}
		artifacts = append(artifacts, domain.ArtifactReference{
			Type:             domain.ArtifactTranscript,
			ID:               tv.TranscriptVersionID,
			SHA256:           tv.PayloadHash,
			ProducedBy:       producedBy,
			ProducedByModel:  tv.ProducedByModel,
			ProducedByUserID: tv.ProducedByUserID,
			ProducedAt:       tv.CreatedAt,
			InputRefs:        []domain.InputRef{recordingRef},
			Version:          tv.Version,
		})
		transcriptRef = &domain.InputRef{Type: domain.ArtifactTranscript, ID: tv.TranscriptVersionID, Hash: tv.PayloadHash}
		if tv.ProducedByModel != "" {
			provSummary["transcript"] = tv.ProducedByModel
		}
	case snap.LegacyTranscript != nil:
		lt := snap.LegacyTranscript
		hash := canonhash.SumString(lt.Text)
		artifacts = append(artifacts, domain.ArtifactReference{
			Type:            domain.ArtifactTranscript,
			ID:              lt.TranscriptID,
			SHA256:          hash,
			ProducedBy:      domain.ProducedByModel,
			ProducedByModel: lt.Engine,
			ProducedAt:      lt.CreatedAt,
			InputRefs:       []domain.InputRef{recordingRef},
			Version:         1,
			Metadata:        map[string]any{"legacy_inline": true},
		})
		transcriptRef = &domain.InputRef{Type: domain.ArtifactTranscript, ID: lt.TranscriptID, Hash: hash}
		if lt.Engine != "" {
			provSummary["transcript"] = lt.Engine
		}
	}

	derivedFromTranscript := func() []domain.InputRef {
		if transcriptRef != nil {
			return []domain.InputRef{*transcriptRef}
		}
		return []domain.InputRef{recordingRef}
	}

	if t := snap.Translation; t != nil {
		artifacts = append(artifacts, domain.ArtifactReference{
			Type:            domain.ArtifactTranslation,
			ID:              t.TranslationID,
			URI:             t.URI,
			SHA256:          t.SHA256,
			ProducedBy:      domain.ProducedByModel,
			ProducedByModel: t.Engine,
			ProducedAt:      t.CompletedAt,
			InputRefs:       derivedFromTranscript(),
			Version:         1,
			Metadata:        map[string]any{"target_language": t.TargetLanguage},
		})
		if t.Engine != "" {
			provSummary["translation"] = t.Engine
		}
	}

	if s := snap.Survey; s != nil {
		artifacts = append(artifacts, domain.ArtifactReference{
			Type:       domain.ArtifactSurvey,
			ID:         s.SurveyID,
			URI:        s.URI,
			SHA256:     s.SHA256,
			ProducedBy: domain.ProducedByHuman,
			ProducedAt: s.CompletedAt,
			InputRefs:  derivedFromTranscript(),
			Version:    1,
		})
	}

	if sc := snap.Score; sc != nil {
		producedBy := sc.ScoredBy
		if producedBy == "" {
			producedBy = domain.ProducedByModel
		}
		refs := append(derivedFromTranscript(), recordingRef)
		if transcriptRef == nil {
			// transcript fallback already references the recording
			refs = []domain.InputRef{recordingRef}
		}
		artifacts = append(artifacts, domain.ArtifactReference{
			Type:             domain.ArtifactScore,
			ID:               sc.ScoreID,
			SHA256:           sc.SHA256,
			ProducedBy:       producedBy,
			ProducedByModel:  sc.Model,
			ProducedByUserID: sc.ScoredByUID,
			ProducedAt:       sc.CompletedAt,
			InputRefs:        refs,
			Version:          1,
		})
		if sc.Model != "" {
			provSummary["score"] = sc.Model
		}
	}

	if len(provSummary) == 0 {
		provSummary = nil
	}
	return artifacts, provSummary
}

// sameArtifactSet compares two artifact sets by (type, id, sha256, version),
// order-insensitively. Equal sets make regeneration a no-op.
func sameArtifactSet(a, b []domain.ArtifactReference) bool {
	return artifactSetKey(a) == artifactSetKey(b)
}

func artifactSetKey(artifacts []domain.ArtifactReference) string {
	keys := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		keys = append(keys, fmt.Sprintf("%s\x00%s\x00%s\x00%d", a.Type, a.ID, a.SHA256, a.Version))
	}
	sort.Strings(keys)
	return strings.Join(keys, "\n")
}
