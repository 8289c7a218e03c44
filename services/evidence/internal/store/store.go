// Package store is the Postgres persistence layer for the evidence engine:
// insert-only manifests and bundles, append-only transcript versions and
// provenance, webhook receipts, and consistent reads over the artifact
// tables owned by the call pipeline.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{db: db} }

const uniqueViolation = "23505"

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
	}
	return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
}

const manifestColumns = `manifest_id, call_id, recording_id, organization_id, artifacts, provenance,
manifest_hash, version, parent_manifest_id, created_at, superseded_at, superseded_by`

func scanManifest(row pgx.Row) (domain.EvidenceManifest, error) {
	var (
		m              domain.EvidenceManifest
		artifactsJSON  []byte
		provenanceJSON []byte
	)
	err := row.Scan(&m.ManifestID, &m.CallID, &m.RecordingID, &m.OrganizationID,
		&artifactsJSON, &provenanceJSON, &m.ManifestHash, &m.Version,
		&m.ParentManifestID, &m.CreatedAt, &m.SupersededAt, &m.SupersededBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EvidenceManifest{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.EvidenceManifest{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if err := json.Unmarshal(artifactsJSON, &m.Artifacts); err != nil {
		return domain.EvidenceManifest{}, fmt.Errorf("%w: decode artifacts: %v", domain.ErrPersistence, err)
	}
	if len(provenanceJSON) > 0 {
		if err := json.Unmarshal(provenanceJSON, &m.Provenance); err != nil {
			return domain.EvidenceManifest{}, fmt.Errorf("%w: decode provenance: %v", domain.ErrPersistence, err)
		}
	}
	return m, nil
}

// InsertManifest writes a new manifest row. The (recording_id, version)
// uniqueness constraint turns a concurrent duplicate generation into
// ErrConflict; the caller re-reads the live manifest and adopts the winner.
func (s *Store) InsertManifest(ctx context.Context, m domain.EvidenceManifest) error {
	artifactsJSON, err := json.Marshal(m.Artifacts)
	if err != nil {
		return fmt.Errorf("%w: encode artifacts: %v", domain.ErrSerialization, err)
	}
	var provenanceJSON []byte
	if len(m.Provenance) > 0 {
		provenanceJSON, err = json.Marshal(m.Provenance)
		if err != nil {
			return fmt.Errorf("%w: encode provenance: %v", domain.ErrSerialization, err)
		}
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO evidence_manifests (manifest_id, call_id, recording_id, organization_id, artifacts, provenance,
  manifest_hash, version, parent_manifest_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		m.ManifestID, m.CallID, m.RecordingID, m.OrganizationID, artifactsJSON, provenanceJSON,
		m.ManifestHash, m.Version, m.ParentManifestID, m.CreatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (s *Store) GetManifest(ctx context.Context, manifestID string) (domain.EvidenceManifest, error) {
	row := s.db.QueryRow(ctx, `SELECT `+manifestColumns+` FROM evidence_manifests WHERE manifest_id=$1`, manifestID)
	return scanManifest(row)
}

// LiveManifestByRecording resolves the live manifest as "the manifest no
// child references". The superseded_by pointer is advisory only: its update
// is best-effort and may be rejected, so queries never rely on it.
func (s *Store) LiveManifestByRecording(ctx context.Context, recordingID string) (domain.EvidenceManifest, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+manifestColumns+`
FROM evidence_manifests m
WHERE m.recording_id = $1
  AND NOT EXISTS (
    SELECT 1 FROM evidence_manifests c WHERE c.parent_manifest_id = m.manifest_id
  )
ORDER BY m.version DESC
LIMIT 1`, recordingID)
	return scanManifest(row)
}

// MarkManifestSuperseded sets the one-shot supersession pointer. Best-effort:
// the immutability trigger may reject a second write, and callers only log
// the failure.
func (s *Store) MarkManifestSuperseded(ctx context.Context, manifestID, supersededBy string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE evidence_manifests SET superseded_at=$1, superseded_by=$2
WHERE manifest_id=$3 AND superseded_by IS NULL`, at, supersededBy, manifestID)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

// ListManifestsByRecording returns the full version chain, oldest first.
func (s *Store) ListManifestsByRecording(ctx context.Context, recordingID string) ([]domain.EvidenceManifest, error) {
	rows, err := s.db.Query(ctx, `SELECT `+manifestColumns+`
FROM evidence_manifests WHERE recording_id=$1 ORDER BY version ASC`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()
	var out []domain.EvidenceManifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return out, nil
}
