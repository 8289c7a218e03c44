package domain

import (
	"strings"
	"testing"
	"time"
)

func refs(t *testing.T) []ArtifactReference {
	t.Helper()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return []ArtifactReference{
		{Type: ArtifactRecording, ID: "rec_1", SHA256: "sha256:aa", ProducedBy: ProducedBySystem, ProducedAt: at, Version: 1},
		{Type: ArtifactTranscript, ID: "tsv_1", SHA256: "sha256:bb", ProducedBy: ProducedByModel, ProducedAt: at, Version: 1,
			InputRefs: []InputRef{{Type: ArtifactRecording, ID: "rec_1", Hash: "sha256:aa"}}},
		{Type: ArtifactTranslation, ID: "trn_1", SHA256: "sha256:cc", ProducedBy: ProducedByModel, ProducedAt: at, Version: 1,
			InputRefs: []InputRef{{Type: ArtifactTranscript, ID: "tsv_1"}}},
	}
}

func TestValidateDerivationAcceptsChain(t *testing.T) {
	if err := ValidateDerivation(refs(t)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestValidateDerivationRejectsUnknownInput(t *testing.T) {
	arts := refs(t)
	arts[2].InputRefs = []InputRef{{Type: ArtifactTranscript, ID: "tsv_missing"}}
	err := ValidateDerivation(arts)
	if err == nil {
		t.Fatalf("expected error for dangling input ref")
	}
	if !strings.Contains(err.Error(), "unknown input") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateDerivationRejectsCycle(t *testing.T) {
	arts := refs(t)
	arts[0].InputRefs = []InputRef{{Type: ArtifactTranslation, ID: "trn_1"}}
	err := ValidateDerivation(arts)
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateDerivationRejectsBadVersion(t *testing.T) {
	arts := refs(t)
	arts[1].Version = 0
	if err := ValidateDerivation(arts); err == nil {
		t.Fatalf("expected version error")
	}
}
