// Package engine implements the evidence pipeline: manifest generation,
// bundle creation, transcript versioning, provenance recording, and orphan
// recovery. Manifest and bundle writes are the critical path and fail loud;
// provenance and supersession updates are enrichment and degrade to warnings.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

const maxWriteAttempts = 3

// Store is the persistence surface the engine needs. Implemented by the
// Postgres store; tests use in-memory fakes.
type Store interface {
	SnapshotArtifacts(ctx context.Context, callID, recordingID, scoreID string) (domain.ArtifactSnapshot, error)

	InsertManifest(ctx context.Context, m domain.EvidenceManifest) error
	GetManifest(ctx context.Context, manifestID string) (domain.EvidenceManifest, error)
	LiveManifestByRecording(ctx context.Context, recordingID string) (domain.EvidenceManifest, error)
	MarkManifestSuperseded(ctx context.Context, manifestID, supersededBy string, at time.Time) error

	InsertBundle(ctx context.Context, b domain.EvidenceBundle) error
	LiveBundleByManifest(ctx context.Context, manifestID string) (domain.EvidenceBundle, error)
	MarkBundleSuperseded(ctx context.Context, bundleID, supersededBy string, at time.Time) error

	InsertProvenance(ctx context.Context, p domain.ArtifactProvenance) error

	MaxTranscriptVersion(ctx context.Context, recordingID string) (int, error)
	InsertTranscriptVersion(ctx context.Context, tv domain.TranscriptVersion) error
}

// TimestampQueue hands a bundle hash to the detached TSA worker. Enqueue
// must not block: false means the queue is full and the bundle stays
// pending for external reconciliation.
type TimestampQueue interface {
	Enqueue(bundleID, bundleHash string) bool
}

type Engine struct {
	store Store
	tsa   TimestampQueue
	log   *slog.Logger

	now   func() time.Time
	newID func(prefix string) string
}

// New wires an engine. A nil queue means no timestamp authority is
// configured: bundles are inserted with tsa_status=not_configured and no
// network call is ever attempted.
func New(store Store, tsa TimestampQueue, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store: store,
		tsa:   tsa,
		log:   log,
		now:   time.Now,
		newID: func(prefix string) string { return prefix + uuid.NewString() },
	}
}
