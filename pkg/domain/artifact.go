// Package domain holds the evidence data model: artifact references,
// manifests, bundles, provenance rows, and transcript versions. All of these
// are append-only records; supersession pointers and TSA fields are the only
// values ever written after insert.
package domain

import (
	"fmt"
	"time"
)

type ArtifactType string

const (
	ArtifactRecording   ArtifactType = "recording"
	ArtifactTranscript  ArtifactType = "transcript"
	ArtifactTranslation ArtifactType = "translation"
	ArtifactSurvey      ArtifactType = "survey"
	ArtifactScore       ArtifactType = "score"
)

type Producer string

const (
	ProducedBySystem Producer = "system"
	ProducedByHuman  Producer = "human"
	ProducedByModel  Producer = "model"
)

// InputRef points at an artifact this one was derived from.
type InputRef struct {
	Type ArtifactType `json:"type"`
	ID   string       `json:"id"`
	Hash string       `json:"hash,omitempty"`
}

// ArtifactReference is one producible unit tied to a call: the recording, a
// transcript version, a translation, a survey, or a score.
type ArtifactReference struct {
	Type             ArtifactType   `json:"type"`
	ID               string         `json:"id"`
	URI              string         `json:"uri,omitempty"`
	SHA256           string         `json:"sha256,omitempty"`
	ProducedBy       Producer       `json:"produced_by"`
	ProducedByModel  string         `json:"produced_by_model,omitempty"`
	ProducedByUserID string         `json:"produced_by_user_id,omitempty"`
	ProducedAt       time.Time      `json:"produced_at"`
	InputRefs        []InputRef     `json:"input_refs,omitempty"`
	Version          int            `json:"version"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// ArtifactHash is the (type, id, sha256) triple aggregated into a bundle.
// Bundles sort these bytewise by (type, id).
type ArtifactHash struct {
	Type   ArtifactType `json:"type"`
	ID     string       `json:"id"`
	SHA256 string       `json:"sha256,omitempty"`
}

// ValidateDerivation checks that every input_ref resolves to an artifact in
// the same set and that the derivation graph is acyclic
// (recording -> transcript -> translation/survey/score).
func ValidateDerivation(artifacts []ArtifactReference) error {
	type node struct{ t ArtifactType; id string }
	present := make(map[node]bool, len(artifacts))
	for _, a := range artifacts {
		if a.ID == "" {
			return fmt.Errorf("artifact of type %q has empty id", a.Type)
		}
		if a.Version < 1 {
			return fmt.Errorf("artifact %s/%s has non-positive version %d", a.Type, a.ID, a.Version)
		}
		present[node{a.Type, a.ID}] = true
	}
	edges := make(map[node][]node, len(artifacts))
	for _, a := range artifacts {
		from := node{a.Type, a.ID}
		for _, ref := range a.InputRefs {
			to := node{ref.Type, ref.ID}
			if !present[to] {
				return fmt.Errorf("artifact %s/%s references unknown input %s/%s", a.Type, a.ID, ref.Type, ref.ID)
			}
			edges[from] = append(edges[from], to)
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[node]int, len(present))
	var walk func(n node) error
	walk = func(n node) error {
		switch state[n] {
		case visiting:
			return fmt.Errorf("artifact %s/%s participates in a derivation cycle", n.t, n.id)
		case done:
			return nil
		}
		state[n] = visiting
		for _, next := range edges[n] {
			if err := walk(next); err != nil {
				return err
			}
		}
		state[n] = done
		return nil
	}
	for n := range present {
		if err := walk(n); err != nil {
			return err
		}
	}
	return nil
}
