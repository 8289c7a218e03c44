package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

// InsertProvenance appends one audit row. Callers treat failure as an
// enrichment error: log and continue, never block the evidentiary path.
func (s *Store) InsertProvenance(ctx context.Context, p domain.ArtifactProvenance) error {
	var refsJSON []byte
	if len(p.InputRefs) > 0 {
		var err error
		refsJSON, err = json.Marshal(p.InputRefs)
		if err != nil {
			return fmt.Errorf("%w: encode input refs: %v", domain.ErrSerialization, err)
		}
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO artifact_provenance (provenance_id, organization_id, artifact_type, artifact_id,
  parent_artifact_type, parent_artifact_id, produced_by, produced_by_model, produced_by_user_id,
  produced_by_system_id, input_refs, version, produced_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,NULLIF($8,''),NULLIF($9,''),NULLIF($10,''),$11,$12,$13)`,
		p.ProvenanceID, p.OrganizationID, p.ArtifactType, p.ArtifactID,
		string(p.ParentArtifactType), p.ParentArtifactID, p.ProducedBy, p.ProducedByModel, p.ProducedByUserID,
		p.ProducedBySystemID, refsJSON, p.Version, p.ProducedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	return nil
}
