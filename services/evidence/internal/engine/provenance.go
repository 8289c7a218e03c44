package engine

import (
	"context"

	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

// ProvenanceOpts is the who/what/how detail for one artifact creation event.
type ProvenanceOpts struct {
	ParentArtifactType domain.ArtifactType
	ParentArtifactID   string
	ProducedBy         domain.Producer
	Model              string
	UserID             string
	SystemID           string
	InputRefs          []domain.InputRef
	Version            int
}

// RecordProvenance appends one audit row and returns its id. The caller
// decides whether failure matters; inside the engine it never does, since
// the trail can be backfilled from manifest contents and availability of
// the evidentiary record wins over completeness of the trail.
func (e *Engine) RecordProvenance(ctx context.Context, organizationID string, artifactType domain.ArtifactType, artifactID string, opts ProvenanceOpts) (string, error) {
	version := opts.Version
	if version == 0 {
		version = 1
	}
	p := domain.ArtifactProvenance{
		ProvenanceID:       e.newID("prov_"),
		OrganizationID:     organizationID,
		ArtifactType:       artifactType,
		ArtifactID:         artifactID,
		ParentArtifactType: opts.ParentArtifactType,
		ParentArtifactID:   opts.ParentArtifactID,
		ProducedBy:         opts.ProducedBy,
		ProducedByModel:    opts.Model,
		ProducedByUserID:   opts.UserID,
		ProducedBySystemID: opts.SystemID,
		InputRefs:          opts.InputRefs,
		Version:            version,
		ProducedAt:         e.now().UTC(),
	}
	if err := e.store.InsertProvenance(ctx, p); err != nil {
		return "", err
	}
	return p.ProvenanceID, nil
}

func (e *Engine) recordProvenanceBestEffort(ctx context.Context, p domain.ArtifactProvenance) {
	if err := e.store.InsertProvenance(ctx, p); err != nil {
		e.log.WarnContext(ctx, "provenance append failed, continuing",
			"artifact_type", p.ArtifactType, "artifact_id", p.ArtifactID, "err", err)
	}
}
