package store

import "context"

// Schema for the evidence store. Manifest and bundle rows are protected by
// triggers that reject content-mutating updates: the only writable fields
// post-insert are the supersession pointers (set once, from NULL) and, for
// bundles, the tsa_* fields filled by the asynchronous timestamp flow.
//
// The call_recordings / call_transcripts / translation_runs / survey_runs /
// call_scores tables are read models owned by the out-of-scope call pipeline;
// they are created here so local development and tests have the full shape.
const schema = `
CREATE TABLE IF NOT EXISTS evidence_manifests (
  manifest_id        text PRIMARY KEY,
  call_id            text NOT NULL,
  recording_id       text NOT NULL,
  organization_id    text NOT NULL,
  artifacts          jsonb NOT NULL,
  provenance         jsonb,
  manifest_hash      text NOT NULL,
  version            integer NOT NULL CHECK (version >= 1),
  parent_manifest_id text REFERENCES evidence_manifests(manifest_id),
  created_at         timestamptz NOT NULL,
  superseded_at      timestamptz,
  superseded_by      text,
  UNIQUE (recording_id, version)
);

CREATE OR REPLACE FUNCTION evidence_manifests_append_only() RETURNS trigger AS $$
BEGIN
  IF TG_OP = 'DELETE' THEN
    RAISE EXCEPTION 'evidence_manifests rows are never deleted';
  END IF;
  IF NEW.manifest_id       IS DISTINCT FROM OLD.manifest_id
     OR NEW.call_id         IS DISTINCT FROM OLD.call_id
     OR NEW.recording_id    IS DISTINCT FROM OLD.recording_id
     OR NEW.organization_id IS DISTINCT FROM OLD.organization_id
     OR NEW.artifacts       IS DISTINCT FROM OLD.artifacts
     OR NEW.provenance      IS DISTINCT FROM OLD.provenance
     OR NEW.manifest_hash   IS DISTINCT FROM OLD.manifest_hash
     OR NEW.version         IS DISTINCT FROM OLD.version
     OR NEW.parent_manifest_id IS DISTINCT FROM OLD.parent_manifest_id
     OR NEW.created_at      IS DISTINCT FROM OLD.created_at THEN
    RAISE EXCEPTION 'evidence_manifests content is immutable';
  END IF;
  IF OLD.superseded_by IS NOT NULL
     AND (NEW.superseded_by IS DISTINCT FROM OLD.superseded_by
          OR NEW.superseded_at IS DISTINCT FROM OLD.superseded_at) THEN
    RAISE EXCEPTION 'evidence_manifests supersession pointer is set once';
  END IF;
  RETURN NEW;
END $$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS evidence_manifests_guard ON evidence_manifests;
CREATE TRIGGER evidence_manifests_guard
  BEFORE UPDATE OR DELETE ON evidence_manifests
  FOR EACH ROW EXECUTE FUNCTION evidence_manifests_append_only();

CREATE TABLE IF NOT EXISTS evidence_bundles (
  bundle_id               text PRIMARY KEY,
  manifest_id             text NOT NULL REFERENCES evidence_manifests(manifest_id),
  manifest_hash           text NOT NULL,
  artifact_hashes         jsonb NOT NULL,
  organization_id         text NOT NULL,
  call_id                 text NOT NULL,
  recording_id            text NOT NULL,
  bundle_hash             text NOT NULL,
  version                 integer NOT NULL CHECK (version >= 1),
  parent_bundle_id        text REFERENCES evidence_bundles(bundle_id),
  created_at              timestamptz NOT NULL,
  tsa_status              text NOT NULL DEFAULT 'not_configured',
  tsa                     jsonb,
  tsa_requested_at        timestamptz,
  tsa_received_at         timestamptz,
  tsa_error               text,
  superseded_at           timestamptz,
  superseded_by_bundle_id text
);

CREATE UNIQUE INDEX IF NOT EXISTS evidence_bundles_live_manifest
  ON evidence_bundles (manifest_id)
  WHERE superseded_by_bundle_id IS NULL;

CREATE OR REPLACE FUNCTION evidence_bundles_append_only() RETURNS trigger AS $$
BEGIN
  IF TG_OP = 'DELETE' THEN
    RAISE EXCEPTION 'evidence_bundles rows are never deleted';
  END IF;
  IF NEW.bundle_id           IS DISTINCT FROM OLD.bundle_id
     OR NEW.manifest_id      IS DISTINCT FROM OLD.manifest_id
     OR NEW.manifest_hash    IS DISTINCT FROM OLD.manifest_hash
     OR NEW.artifact_hashes  IS DISTINCT FROM OLD.artifact_hashes
     OR NEW.organization_id  IS DISTINCT FROM OLD.organization_id
     OR NEW.call_id          IS DISTINCT FROM OLD.call_id
     OR NEW.recording_id     IS DISTINCT FROM OLD.recording_id
     OR NEW.bundle_hash      IS DISTINCT FROM OLD.bundle_hash
     OR NEW.version          IS DISTINCT FROM OLD.version
     OR NEW.parent_bundle_id IS DISTINCT FROM OLD.parent_bundle_id
     OR NEW.created_at       IS DISTINCT FROM OLD.created_at THEN
    RAISE EXCEPTION 'evidence_bundles content is immutable';
  END IF;
  IF OLD.superseded_by_bundle_id IS NOT NULL
     AND (NEW.superseded_by_bundle_id IS DISTINCT FROM OLD.superseded_by_bundle_id
          OR NEW.superseded_at IS DISTINCT FROM OLD.superseded_at) THEN
    RAISE EXCEPTION 'evidence_bundles supersession pointer is set once';
  END IF;
  RETURN NEW;
END $$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS evidence_bundles_guard ON evidence_bundles;
CREATE TRIGGER evidence_bundles_guard
  BEFORE UPDATE OR DELETE ON evidence_bundles
  FOR EACH ROW EXECUTE FUNCTION evidence_bundles_append_only();

CREATE TABLE IF NOT EXISTS transcript_versions (
  transcript_version_id text PRIMARY KEY,
  recording_id          text NOT NULL,
  organization_id       text NOT NULL,
  version               integer NOT NULL CHECK (version >= 1),
  transcript_payload    jsonb NOT NULL,
  transcript_hash       text NOT NULL,
  produced_by           text NOT NULL,
  produced_by_model     text,
  produced_by_user_id   text,
  input_refs            jsonb,
  created_at            timestamptz NOT NULL,
  UNIQUE (recording_id, version)
);

CREATE OR REPLACE FUNCTION append_only_guard() RETURNS trigger AS $$
BEGIN
  RAISE EXCEPTION '% is append-only', TG_TABLE_NAME;
END $$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS transcript_versions_guard ON transcript_versions;
CREATE TRIGGER transcript_versions_guard
  BEFORE UPDATE OR DELETE ON transcript_versions
  FOR EACH ROW EXECUTE FUNCTION append_only_guard();

CREATE TABLE IF NOT EXISTS artifact_provenance (
  provenance_id         text PRIMARY KEY,
  organization_id       text NOT NULL,
  artifact_type         text NOT NULL,
  artifact_id           text NOT NULL,
  parent_artifact_type  text,
  parent_artifact_id    text,
  produced_by           text NOT NULL,
  produced_by_model     text,
  produced_by_user_id   text,
  produced_by_system_id text,
  input_refs            jsonb,
  version               integer NOT NULL,
  produced_at           timestamptz NOT NULL
);

DROP TRIGGER IF EXISTS artifact_provenance_guard ON artifact_provenance;
CREATE TRIGGER artifact_provenance_guard
  BEFORE UPDATE OR DELETE ON artifact_provenance
  FOR EACH ROW EXECUTE FUNCTION append_only_guard();

CREATE TABLE IF NOT EXISTS webhook_endpoints (
  provider       text NOT NULL,
  endpoint_token text NOT NULL,
  secret         text NOT NULL,
  revoked_at     timestamptz,
  PRIMARY KEY (provider, endpoint_token)
);

CREATE TABLE IF NOT EXISTS webhook_receipts (
  receipt_id        text PRIMARY KEY,
  provider          text NOT NULL,
  provider_event_id text NOT NULL,
  event_type        text NOT NULL,
  call_id           text,
  recording_id      text,
  raw_body_sha256   text NOT NULL,
  headers_sha256    text NOT NULL,
  request_sha256    text NOT NULL,
  received_at       timestamptz NOT NULL,
  UNIQUE (provider, provider_event_id)
);

CREATE TABLE IF NOT EXISTS idempotency_records (
  organization_id text NOT NULL,
  actor_id        text NOT NULL,
  idempotency_key text NOT NULL,
  endpoint        text NOT NULL,
  response_status integer NOT NULL,
  response_body   jsonb NOT NULL,
  created_at      timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (organization_id, actor_id, idempotency_key, endpoint)
);

CREATE TABLE IF NOT EXISTS call_recordings (
  recording_id    text PRIMARY KEY,
  call_id         text NOT NULL,
  organization_id text NOT NULL,
  media_uri       text,
  media_sha256    text,
  duration_sec    integer,
  source          text,
  completed_at    timestamptz
);

CREATE TABLE IF NOT EXISTS call_transcripts (
  transcript_id text PRIMARY KEY,
  recording_id  text NOT NULL,
  text_content  text NOT NULL,
  engine        text,
  created_at    timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS translation_runs (
  translation_id  text PRIMARY KEY,
  call_id         text NOT NULL,
  transcript_id   text,
  target_language text,
  sha256          text,
  uri             text,
  engine          text,
  status          text NOT NULL,
  completed_at    timestamptz
);

CREATE TABLE IF NOT EXISTS survey_runs (
  survey_id    text PRIMARY KEY,
  call_id      text NOT NULL,
  sha256       text,
  uri          text,
  status       text NOT NULL,
  completed_at timestamptz
);

CREATE TABLE IF NOT EXISTS call_scores (
  score_id      text PRIMARY KEY,
  call_id       text NOT NULL,
  sha256        text,
  model         text,
  scored_by     text,
  scored_by_uid text,
  completed_at  timestamptz
);
`

// EnsureSchema applies the DDL. Safe to run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}
