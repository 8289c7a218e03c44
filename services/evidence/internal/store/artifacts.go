package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

// SnapshotArtifacts collects everything the Manifest Builder needs for one
// call inside a single REPEATABLE READ transaction, so the builder never
// observes a half-written artifact between two reads. Returns ErrNotFound
// when the recording does not exist; every other artifact is optional.
func (s *Store) SnapshotArtifacts(ctx context.Context, callID, recordingID, scoreID string) (domain.ArtifactSnapshot, error) {
	var snap domain.ArtifactSnapshot

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return snap, fmt.Errorf("%w: begin snapshot: %v", domain.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
SELECT recording_id, call_id, organization_id,
  COALESCE(media_uri,''), COALESCE(media_sha256,''), COALESCE(duration_sec,0), COALESCE(source,''), COALESCE(completed_at, 'epoch'::timestamptz)
FROM call_recordings WHERE recording_id=$1`, recordingID).
		Scan(&snap.Recording.RecordingID, &snap.Recording.CallID, &snap.Recording.OrganizationID,
			&snap.Recording.MediaURI, &snap.Recording.MediaSHA256, &snap.Recording.DurationSec,
			&snap.Recording.Source, &snap.Recording.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return snap, fmt.Errorf("%w: recording %s", domain.ErrNotFound, recordingID)
	}
	if err != nil {
		return snap, fmt.Errorf("%w: read recording: %v", domain.ErrPersistence, err)
	}

	head, err := latestTranscriptVersionTx(ctx, tx, recordingID)
	switch {
	case err == nil:
		snap.TranscriptHead = &head
	case errors.Is(err, domain.ErrNotFound):
		// Fall back to a legacy inline transcript from before versioning.
		var legacy domain.LegacyTranscript
		lerr := tx.QueryRow(ctx, `
SELECT transcript_id, recording_id, text_content, COALESCE(engine,''), created_at
FROM call_transcripts WHERE recording_id=$1 ORDER BY created_at DESC LIMIT 1`, recordingID).
			Scan(&legacy.TranscriptID, &legacy.RecordingID, &legacy.Text, &legacy.Engine, &legacy.CreatedAt)
		if lerr == nil {
			snap.LegacyTranscript = &legacy
		} else if !errors.Is(lerr, pgx.ErrNoRows) {
			return snap, fmt.Errorf("%w: read legacy transcript: %v", domain.ErrPersistence, lerr)
		}
	default:
		return snap, err
	}

	var tr domain.TranslationRun
	err = tx.QueryRow(ctx, `
SELECT translation_id, call_id, COALESCE(transcript_id,''), COALESCE(target_language,''),
  COALESCE(sha256,''), COALESCE(uri,''), COALESCE(engine,''), COALESCE(completed_at,'epoch'::timestamptz)
FROM translation_runs WHERE call_id=$1 AND status='completed'
ORDER BY completed_at DESC LIMIT 1`, callID).
		Scan(&tr.TranslationID, &tr.CallID, &tr.TranscriptID, &tr.TargetLanguage,
			&tr.SHA256, &tr.URI, &tr.Engine, &tr.CompletedAt)
	if err == nil {
		snap.Translation = &tr
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return snap, fmt.Errorf("%w: read translation: %v", domain.ErrPersistence, err)
	}

	var sv domain.SurveyRun
	err = tx.QueryRow(ctx, `
SELECT survey_id, call_id, COALESCE(sha256,''), COALESCE(uri,''), COALESCE(completed_at,'epoch'::timestamptz)
FROM survey_runs WHERE call_id=$1 AND status='completed'
ORDER BY completed_at DESC LIMIT 1`, callID).
		Scan(&sv.SurveyID, &sv.CallID, &sv.SHA256, &sv.URI, &sv.CompletedAt)
	if err == nil {
		snap.Survey = &sv
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return snap, fmt.Errorf("%w: read survey: %v", domain.ErrPersistence, err)
	}

	if scoreID != "" {
		var sc domain.CallScore
		err = tx.QueryRow(ctx, `
SELECT score_id, call_id, COALESCE(sha256,''), COALESCE(model,''), COALESCE(scored_by,'system'), COALESCE(scored_by_uid,''), COALESCE(completed_at,'epoch'::timestamptz)
FROM call_scores WHERE score_id=$1 AND call_id=$2`, scoreID, callID).
			Scan(&sc.ScoreID, &sc.CallID, &sc.SHA256, &sc.Model, &sc.ScoredBy, &sc.ScoredByUID, &sc.CompletedAt)
		if err == nil {
			snap.Score = &sc
		} else if errors.Is(err, pgx.ErrNoRows) {
			return snap, fmt.Errorf("%w: score %s for call %s", domain.ErrNotFound, scoreID, callID)
		} else {
			return snap, fmt.Errorf("%w: read score: %v", domain.ErrPersistence, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return snap, fmt.Errorf("%w: commit snapshot: %v", domain.ErrPersistence, err)
	}
	return snap, nil
}
