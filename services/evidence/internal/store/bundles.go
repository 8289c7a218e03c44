package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

const bundleColumns = `bundle_id, manifest_id, manifest_hash, artifact_hashes, organization_id, call_id,
recording_id, bundle_hash, version, parent_bundle_id, created_at,
tsa_status, tsa, tsa_requested_at, tsa_received_at, tsa_error, superseded_at, superseded_by_bundle_id`

func scanBundle(row pgx.Row) (domain.EvidenceBundle, error) {
	var (
		b          domain.EvidenceBundle
		hashesJSON []byte
		tsaJSON    []byte
		tsaErr     *string
	)
	err := row.Scan(&b.BundleID, &b.ManifestID, &b.ManifestHash, &hashesJSON, &b.OrganizationID, &b.CallID,
		&b.RecordingID, &b.BundleHash, &b.Version, &b.ParentBundleID, &b.CreatedAt,
		&b.TSAStatus, &tsaJSON, &b.TSARequestedAt, &b.TSAReceivedAt, &tsaErr, &b.SupersededAt, &b.SupersededByBundle)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EvidenceBundle{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.EvidenceBundle{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if err := json.Unmarshal(hashesJSON, &b.ArtifactHashes); err != nil {
		return domain.EvidenceBundle{}, fmt.Errorf("%w: decode artifact hashes: %v", domain.ErrPersistence, err)
	}
	if len(tsaJSON) > 0 {
		b.TSA = &domain.TSAResult{}
		if err := json.Unmarshal(tsaJSON, b.TSA); err != nil {
			return domain.EvidenceBundle{}, fmt.Errorf("%w: decode tsa: %v", domain.ErrPersistence, err)
		}
	}
	if tsaErr != nil {
		b.TSAErrorReason = *tsaErr
	}
	return b, nil
}

// InsertBundle is the commit point of bundle creation. The partial unique
// index on live (manifest_id) rows turns a concurrent duplicate into
// ErrConflict, and the caller re-reads the winner.
func (s *Store) InsertBundle(ctx context.Context, b domain.EvidenceBundle) error {
	hashesJSON, err := json.Marshal(b.ArtifactHashes)
	if err != nil {
		return fmt.Errorf("%w: encode artifact hashes: %v", domain.ErrSerialization, err)
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO evidence_bundles (bundle_id, manifest_id, manifest_hash, artifact_hashes, organization_id, call_id,
  recording_id, bundle_hash, version, parent_bundle_id, created_at, tsa_status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		b.BundleID, b.ManifestID, b.ManifestHash, hashesJSON, b.OrganizationID, b.CallID,
		b.RecordingID, b.BundleHash, b.Version, b.ParentBundleID, b.CreatedAt, b.TSAStatus)
	if err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (s *Store) GetBundle(ctx context.Context, bundleID string) (domain.EvidenceBundle, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bundleColumns+` FROM evidence_bundles WHERE bundle_id=$1`, bundleID)
	return scanBundle(row)
}

// LiveBundleByManifest returns the one non-superseded bundle for a manifest.
func (s *Store) LiveBundleByManifest(ctx context.Context, manifestID string) (domain.EvidenceBundle, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bundleColumns+`
FROM evidence_bundles WHERE manifest_id=$1 AND superseded_by_bundle_id IS NULL`, manifestID)
	return scanBundle(row)
}

func (s *Store) MarkBundleSuperseded(ctx context.Context, bundleID, supersededBy string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE evidence_bundles SET superseded_at=$1, superseded_by_bundle_id=$2
WHERE bundle_id=$3 AND superseded_by_bundle_id IS NULL`, at, supersededBy, bundleID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

// The tsa_* setters are the only post-insert writes the bundle trigger
// permits besides supersession.

func (s *Store) SetBundleTSARequested(ctx context.Context, bundleID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE evidence_bundles SET tsa_requested_at=$1 WHERE bundle_id=$2`, at, bundleID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (s *Store) SetBundleTSAResult(ctx context.Context, bundleID string, res domain.TSAResult, receivedAt time.Time) error {
	tsaJSON, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("%w: encode tsa: %v", domain.ErrSerialization, err)
	}
	_, err = s.db.Exec(ctx, `
UPDATE evidence_bundles SET tsa=$1, tsa_status=$2, tsa_received_at=$3, tsa_error=NULL
WHERE bundle_id=$4`, tsaJSON, domain.TSACompleted, receivedAt, bundleID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

// SetBundleTSAError parks the bundle in the error state. tsa_received_at is
// left alone: it records when a token arrived, and no token arrived here.
func (s *Store) SetBundleTSAError(ctx context.Context, bundleID, reason string) error {
	_, err := s.db.Exec(ctx, `
UPDATE evidence_bundles SET tsa_status=$1, tsa_error=$2
WHERE bundle_id=$3`, domain.TSAError, reason, bundleID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}
