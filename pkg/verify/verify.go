// Package verify re-derives evidence hashes offline. Given a bundle and its
// manifest as JSON, it recomputes every digest from first principles with no
// database and no network, so a third party can audit exported evidence with
// nothing but this package.
package verify

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/adrper79-dot/callmonitor/pkg/canonhash"
	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

type Status string

const (
	StatusVerified            Status = "VERIFIED"
	StatusMalformedBundle     Status = "MALFORMED_BUNDLE"
	StatusInvalidManifestHash Status = "INVALID_MANIFEST_HASH"
	StatusInvalidArtifactHash Status = "INVALID_ARTIFACT_HASH"
	StatusInvalidOrdering     Status = "INVALID_ORDERING"
	StatusInvalidBundleHash   Status = "INVALID_BUNDLE_HASH"
)

type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Report is the outcome of one verification run. Status is the first failing
// check's verdict, or VERIFIED; Checks lists every check performed, so a
// passing report still shows what was covered.
type Report struct {
	Status     Status  `json:"status"`
	BundleID   string  `json:"bundle_id,omitempty"`
	ManifestID string  `json:"manifest_id,omitempty"`
	Checks     []Check `json:"checks"`
}

func (r *Report) add(name string, ok bool, detail string) {
	r.Checks = append(r.Checks, Check{Name: name, OK: ok, Detail: detail})
}

// Bundle verifies a bundle against the manifest it claims to cover:
// structural integrity, the manifest's recomputed hash, artifact-hash
// coverage in both directions, canonical ordering, and finally the bundle's
// own recomputed hash. Checks run in trust order and stop at the first
// failure, since later digests are meaningless once an input digest is wrong.
func Bundle(b domain.EvidenceBundle, m domain.EvidenceManifest) Report {
	rep := Report{BundleID: b.BundleID, ManifestID: m.ManifestID}

	if detail := malformed(b, m); detail != "" {
		rep.add("well_formed", false, detail)
		rep.Status = StatusMalformedBundle
		return rep
	}
	rep.add("well_formed", true, "")

	manifestHash, _, err := canonhash.Sum(m.HashPayload())
	if err != nil {
		rep.add("manifest_hash", false, "manifest not canonically serializable: "+err.Error())
		rep.Status = StatusInvalidManifestHash
		return rep
	}
	switch {
	case manifestHash != m.ManifestHash:
		rep.add("manifest_hash", false, fmt.Sprintf("manifest declares %s, recomputed %s", m.ManifestHash, manifestHash))
		rep.Status = StatusInvalidManifestHash
		return rep
	case manifestHash != b.ManifestHash:
		rep.add("manifest_hash", false, fmt.Sprintf("bundle pins %s, recomputed %s", b.ManifestHash, manifestHash))
		rep.Status = StatusInvalidManifestHash
		return rep
	}
	rep.add("manifest_hash", true, "")

	if detail := artifactCoverage(b, m); detail != "" {
		rep.add("artifact_hashes", false, detail)
		rep.Status = StatusInvalidArtifactHash
		return rep
	}
	rep.add("artifact_hashes", true, "")

	if detail := ordering(b.ArtifactHashes); detail != "" {
		rep.add("artifact_ordering", false, detail)
		rep.Status = StatusInvalidOrdering
		return rep
	}
	rep.add("artifact_ordering", true, "")

	bundleHash, _, err := canonhash.Sum(b.HashPayload())
	if err != nil {
		rep.add("bundle_hash", false, "bundle not canonically serializable: "+err.Error())
		rep.Status = StatusInvalidBundleHash
		return rep
	}
	if bundleHash != b.BundleHash {
		rep.add("bundle_hash", false, fmt.Sprintf("bundle declares %s, recomputed %s", b.BundleHash, bundleHash))
		rep.Status = StatusInvalidBundleHash
		return rep
	}
	rep.add("bundle_hash", true, "")

	rep.Status = StatusVerified
	return rep
}

// BundleJSON parses raw bundle and manifest documents and verifies them.
// Undecodable input is MALFORMED_BUNDLE, never an error: the report is the
// verdict.
func BundleJSON(bundleJSON, manifestJSON []byte) Report {
	var (
		b domain.EvidenceBundle
		m domain.EvidenceManifest
	)
	if err := json.Unmarshal(bundleJSON, &b); err != nil {
		return Report{Status: StatusMalformedBundle, Checks: []Check{
			{Name: "well_formed", OK: false, Detail: "undecodable bundle document: " + err.Error()},
		}}
	}
	if err := json.Unmarshal(manifestJSON, &m); err != nil {
		return Report{Status: StatusMalformedBundle, BundleID: b.BundleID, Checks: []Check{
			{Name: "well_formed", OK: false, Detail: "undecodable manifest document: " + err.Error()},
		}}
	}
	return Bundle(b, m)
}

func malformed(b domain.EvidenceBundle, m domain.EvidenceManifest) string {
	switch {
	case b.BundleID == "":
		return "bundle has no bundle_id"
	case b.ManifestID == "":
		return "bundle has no manifest_id"
	case b.BundleHash == "":
		return "bundle has no bundle_hash"
	case b.ManifestHash == "":
		return "bundle has no manifest_hash"
	case len(b.ArtifactHashes) == 0:
		return "bundle has no artifact_hashes"
	case m.ManifestID == "":
		return "manifest has no manifest_id"
	case m.ManifestHash == "":
		return "manifest has no manifest_hash"
	case len(m.Artifacts) == 0:
		return "manifest has no artifacts"
	case b.ManifestID != m.ManifestID:
		return fmt.Sprintf("bundle covers manifest %s but %s was supplied", b.ManifestID, m.ManifestID)
	}
	for _, ah := range b.ArtifactHashes {
		if ah.Type == "" || ah.ID == "" || ah.SHA256 == "" {
			return "artifact hash entry missing type, id, or sha256"
		}
	}
	return ""
}

// artifactCoverage demands an exact two-way match: every bundle hash names a
// manifest artifact with the same digest, and every manifest artifact is
// covered by the bundle.
func artifactCoverage(b domain.EvidenceBundle, m domain.EvidenceManifest) string {
	type key struct{ typ, id string }
	declared := make(map[key]string, len(m.Artifacts))
	for _, a := range m.Artifacts {
		declared[key{string(a.Type), a.ID}] = a.SHA256
	}

	seen := make(map[key]bool, len(b.ArtifactHashes))
	for _, ah := range b.ArtifactHashes {
		k := key{string(ah.Type), ah.ID}
		want, ok := declared[k]
		if !ok {
			return fmt.Sprintf("bundle hashes %s %s, which the manifest does not declare", ah.Type, ah.ID)
		}
		if want != ah.SHA256 {
			return fmt.Sprintf("%s %s: manifest declares %s, bundle carries %s", ah.Type, ah.ID, want, ah.SHA256)
		}
		seen[k] = true
	}
	for k := range declared {
		if !seen[k] {
			return fmt.Sprintf("manifest artifact %s %s is not covered by the bundle", k.typ, k.id)
		}
	}
	return ""
}

func ordering(hashes []domain.ArtifactHash) string {
	for i := 1; i < len(hashes); i++ {
		prev, cur := hashes[i-1], hashes[i]
		if c := bytes.Compare([]byte(prev.Type), []byte(cur.Type)); c > 0 ||
			(c == 0 && bytes.Compare([]byte(prev.ID), []byte(cur.ID)) >= 0) {
			return fmt.Sprintf("artifact_hashes[%d] (%s %s) out of canonical (type, id) order", i, cur.Type, cur.ID)
		}
	}
	return ""
}
