package domain

import "time"

// Read models for the artifact store collaborator. These rows are produced by
// the out-of-scope call/transcription/translation/survey/scoring services;
// the evidence engine only ever reads them.

// Recording is the source artifact every other artifact derives from.
type Recording struct {
	RecordingID    string
	CallID         string
	OrganizationID string
	MediaURI       string
	MediaSHA256    string
	DurationSec    int
	Source         string
	CompletedAt    time.Time
}

// LegacyTranscript is an inline transcript captured before transcript
// versioning existed. Used only when a recording has no TranscriptVersion.
type LegacyTranscript struct {
	TranscriptID string
	RecordingID  string
	Text         string
	Engine       string
	CreatedAt    time.Time
}

// TranslationRun is a completed translation of a transcript.
type TranslationRun struct {
	TranslationID  string
	CallID         string
	TranscriptID   string
	TargetLanguage string
	SHA256         string
	URI            string
	Engine         string
	CompletedAt    time.Time
}

// SurveyRun is a completed post-call survey.
type SurveyRun struct {
	SurveyID    string
	CallID      string
	SHA256      string
	URI         string
	CompletedAt time.Time
}

// CallScore is a completed scoring of a call, derived from both the
// transcript and the recording.
type CallScore struct {
	ScoreID     string
	CallID      string
	SHA256      string
	Model       string
	ScoredBy    Producer
	ScoredByUID string
	CompletedAt time.Time
}

// ArtifactSnapshot is everything the Manifest Builder collects for one call
// in a single consistent read: two reads inside one generation must not
// observe a half-written artifact.
type ArtifactSnapshot struct {
	Recording        Recording
	TranscriptHead   *TranscriptVersion
	LegacyTranscript *LegacyTranscript
	Translation      *TranslationRun
	Survey           *SurveyRun
	Score            *CallScore
}
