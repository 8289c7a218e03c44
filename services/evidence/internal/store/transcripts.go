package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

const transcriptColumns = `transcript_version_id, recording_id, organization_id, version, transcript_payload,
transcript_hash, produced_by, produced_by_model, produced_by_user_id, input_refs, created_at`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanTranscriptVersion(row pgx.Row) (domain.TranscriptVersion, error) {
	var (
		tv       domain.TranscriptVersion
		model    *string
		userID   *string
		refsJSON []byte
	)
	err := row.Scan(&tv.TranscriptVersionID, &tv.RecordingID, &tv.OrganizationID, &tv.Version, &tv.Payload,
		&tv.PayloadHash, &tv.ProducedBy, &model, &userID, &refsJSON, &tv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TranscriptVersion{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TranscriptVersion{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if model != nil {
		tv.ProducedByModel = *model
	}
	if userID != nil {
		tv.ProducedByUserID = *userID
	}
	if len(refsJSON) > 0 {
		if err := json.Unmarshal(refsJSON, &tv.InputRefs); err != nil {
			return domain.TranscriptVersion{}, fmt.Errorf("%w: decode input refs: %v", domain.ErrPersistence, err)
		}
	}
	return tv, nil
}

func latestTranscriptVersionTx(ctx context.Context, q rowQuerier, recordingID string) (domain.TranscriptVersion, error) {
	row := q.QueryRow(ctx, `SELECT `+transcriptColumns+`
FROM transcript_versions WHERE recording_id=$1 ORDER BY version DESC LIMIT 1`, recordingID)
	return scanTranscriptVersion(row)
}

func (s *Store) LatestTranscriptVersion(ctx context.Context, recordingID string) (domain.TranscriptVersion, error) {
	return latestTranscriptVersionTx(ctx, s.db, recordingID)
}

func (s *Store) ListTranscriptVersions(ctx context.Context, recordingID string) ([]domain.TranscriptVersion, error) {
	rows, err := s.db.Query(ctx, `SELECT `+transcriptColumns+`
FROM transcript_versions WHERE recording_id=$1 ORDER BY version ASC`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()
	var out []domain.TranscriptVersion
	for rows.Next() {
		tv, err := scanTranscriptVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return out, nil
}

// MaxTranscriptVersion returns 0 when the recording has no versions yet.
func (s *Store) MaxTranscriptVersion(ctx context.Context, recordingID string) (int, error) {
	var max int
	err := s.db.QueryRow(ctx, `
SELECT COALESCE(MAX(version), 0) FROM transcript_versions WHERE recording_id=$1`, recordingID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return max, nil
}

// InsertTranscriptVersion appends one version. The (recording_id, version)
// constraint makes the loser of a concurrent correction fail with
// ErrConflict and retry with a fresh max-read.
func (s *Store) InsertTranscriptVersion(ctx context.Context, tv domain.TranscriptVersion) error {
	var refsJSON []byte
	if len(tv.InputRefs) > 0 {
		var err error
		refsJSON, err = json.Marshal(tv.InputRefs)
		if err != nil {
			return fmt.Errorf("%w: encode input refs: %v", domain.ErrSerialization, err)
		}
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO transcript_versions (transcript_version_id, recording_id, organization_id, version, transcript_payload,
  transcript_hash, produced_by, produced_by_model, produced_by_user_id, input_refs, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),NULLIF($9,''),$10,$11)`,
		tv.TranscriptVersionID, tv.RecordingID, tv.OrganizationID, tv.Version, tv.Payload,
		tv.PayloadHash, tv.ProducedBy, tv.ProducedByModel, tv.ProducedByUserID, refsJSON, tv.CreatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	return nil
}
